package chain

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// filterIndex maps block height to downloaded filter bytes. A height with a
// recorded filter header but no entry here is "pending" (spec.md §3
// FilterIndex).
type filterIndex struct {
	filters map[uint32][]byte
}

func newFilterIndex() *filterIndex {
	return &filterIndex{filters: make(map[uint32][]byte)}
}

func (fi *filterIndex) has(height uint32) bool {
	_, ok := fi.filters[height]
	return ok
}

func (fi *filterIndex) get(height uint32) ([]byte, bool) {
	b, ok := fi.filters[height]
	return b, ok
}

func (fi *filterIndex) put(height uint32, filter []byte) {
	fi.filters[height] = filter
}

func (fi *filterIndex) len() int { return len(fi.filters) }

func (fi *filterIndex) truncate(h uint32) {
	for height := range fi.filters {
		if height > h {
			delete(fi.filters, height)
		}
	}
}

// hashBytes is the BIP158 filter-hash: a single SHA256d of the raw filter
// bytes, compared against the value chained into FilterHeaderChain.
func hashBytes(b []byte) chainhash.Hash {
	return chainhash.DoubleHashH(b)
}
