package chain

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// matchQueue is the FIFO-by-discovery-order set of block hashes awaiting
// full-block download after a filter match (spec.md §3 BlockMatchQueue).
// Entries are unique: re-enqueuing an already-queued or already-dequeued
// hash within the same run is a no-op.
type matchQueue struct {
	order  []chainhash.Hash
	height map[chainhash.Hash]uint32
	queued map[chainhash.Hash]bool
}

func newMatchQueue() *matchQueue {
	return &matchQueue{
		height: make(map[chainhash.Hash]uint32),
		queued: make(map[chainhash.Hash]bool),
	}
}

func (q *matchQueue) enqueue(hash chainhash.Hash, height uint32) {
	if q.queued[hash] {
		return
	}
	q.queued[hash] = true
	q.height[hash] = height
	q.order = append(q.order, hash)
}

func (q *matchQueue) len() int { return len(q.order) }

// head returns the next block hash to fetch without removing it — Node
// re-peeks every loop iteration and only calls dequeue once scan_block
// succeeds (spec.md §4.5 event loop step 3).
func (q *matchQueue) head() (chainhash.Hash, bool) {
	if len(q.order) == 0 {
		return chainhash.Hash{}, false
	}
	return q.order[0], true
}

func (q *matchQueue) dequeue(hash chainhash.Hash) {
	if !q.queued[hash] {
		return
	}
	// queued keeps the hash so a later enqueue of it stays a no-op.
	delete(q.height, hash)
	for i, h := range q.order {
		if h == hash {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

// truncateAbove drops queued entries whose height exceeds h, used when a
// reorg invalidates blocks past the new tip (spec.md §4.1 Header sync,
// reorg case).
func (q *matchQueue) truncateAbove(h uint32) {
	var kept []chainhash.Hash
	for _, hash := range q.order {
		if q.height[hash] > h {
			delete(q.queued, hash)
			delete(q.height, hash)
			continue
		}
		kept = append(kept, hash)
	}
	q.order = kept
}
