package chain

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/abeychain/spvnode/internal/log"
)

// PeerID identifies the PeerSession that contributed a piece of chain data.
// It is the session nonce assigned by PeerMap — see peermap.Map.
type PeerID uint64

// FilterHeaderBatch is the decoded form of a cfheaders response: a chain of
// filter headers for heights [start, start+len(FilterHashes)-1], rooted at
// PrevFilterHeader (the filter header one below start).
type FilterHeaderBatch struct {
	StartHeight      uint32
	PrevFilterHeader chainhash.Hash
	FilterHashes     []chainhash.Hash
}

// filterHeaderAt chains a filter hash onto the previous filter header, per
// BIP157: header_n = SHA256d(filterHash_n || header_{n-1}).
func filterHeaderAt(filterHash, prevHeader chainhash.Hash) chainhash.Hash {
	buf := make([]byte, 0, 64)
	buf = append(buf, filterHash[:]...)
	buf = append(buf, prevHeader[:]...)
	return chainhash.DoubleHashH(buf)
}

// filterHeaderChain records quorum-confirmed filter headers per height and
// the per-peer attestations still waiting for quorum.
type filterHeaderChain struct {
	quorum uint32

	// recorded holds the filter header and filter hash confirmed by quorum
	// for each height above the anchor.
	recorded map[uint32]recordedFilterHeader

	// pending holds per-height, per-peer attestations not yet at quorum.
	pending map[uint32]map[PeerID]chainhash.Hash

	tip uint32 // highest height with a recorded entry

	log *log.Logger
}

type recordedFilterHeader struct {
	FilterHeader chainhash.Hash
	FilterHash   chainhash.Hash
}

func newFilterHeaderChain(quorum uint32) *filterHeaderChain {
	return &filterHeaderChain{
		quorum:   quorum,
		recorded: make(map[uint32]recordedFilterHeader),
		pending:  make(map[uint32]map[PeerID]chainhash.Hash),
		log:      log.New("component", "filterheaderchain"),
	}
}

// submit records one peer's attestation for every height in the batch and
// resolves quorum where possible. It returns the set of peer IDs that
// should be evicted because they attested to a minority value at some
// height that has already resolved to quorum, and a bool indicating
// whether any new height was recorded.
func (fc *filterHeaderChain) submit(peer PeerID, batch FilterHeaderBatch) (evict []PeerID, advanced bool) {
	prev := batch.PrevFilterHeader
	for i, filterHash := range batch.FilterHashes {
		height := batch.StartHeight + uint32(i)
		header := filterHeaderAt(filterHash, prev)
		prev = header

		if rec, ok := fc.recorded[height]; ok {
			if rec.FilterHeader != header {
				// This peer disagrees with an already-quorate height: fatal
				// for this peer alone (spec.md §4.1 Filter header sync).
				evict = append(evict, peer)
			}
			continue
		}

		byValue := fc.pending[height]
		if byValue == nil {
			byValue = make(map[PeerID]chainhash.Hash)
			fc.pending[height] = byValue
		}
		byValue[peer] = header

		resolved, minority := fc.resolve(height, byValue)
		if resolved != nil {
			fc.recorded[height] = recordedFilterHeader{FilterHeader: *resolved, FilterHash: filterHash}
			if height > fc.tip {
				fc.tip = height
			}
			delete(fc.pending, height)
			evict = append(evict, minority...)
			advanced = true
		}
	}
	return evict, advanced
}

// resolve tallies attestations for a height and returns the quorate value
// (if any) plus the peers that attested to a different value. A tie between
// exactly two equally-attested values is not resolved yet (spec.md §4.1:
// "wait for one more peer") — a nil return with no minority means the
// height is stalled, see isStalled.
func (fc *filterHeaderChain) resolve(height uint32, byPeer map[PeerID]chainhash.Hash) (*chainhash.Hash, []PeerID) {
	counts := make(map[chainhash.Hash][]PeerID)
	for p, v := range byPeer {
		counts[v] = append(counts[v], p)
	}

	var winner *chainhash.Hash
	var winners int
	topCount := 0
	for v, peers := range counts {
		if uint32(len(peers)) >= fc.quorum && len(peers) > topCount {
			val := v
			winner = &val
			topCount = len(peers)
			winners = 1
		} else if uint32(len(peers)) >= fc.quorum && len(peers) == topCount {
			winners++
		}
	}
	if winner == nil {
		return nil, nil
	}
	if winners > 1 {
		// Exactly-tied quorate values: wait for a tiebreaking peer.
		return nil, nil
	}

	var minority []PeerID
	for v, peers := range counts {
		if v != *winner {
			minority = append(minority, peers...)
		}
	}
	return winner, minority
}

// truncate drops recorded and pending entries above height h, used on reorg
// (spec.md §3 FilterHeaderChain lifecycle).
func (fc *filterHeaderChain) truncate(h uint32) {
	for height := range fc.recorded {
		if height > h {
			delete(fc.recorded, height)
		}
	}
	for height := range fc.pending {
		if height > h {
			delete(fc.pending, height)
		}
	}
	if fc.tip > h {
		fc.tip = h
	}
}

func (fc *filterHeaderChain) at(height uint32) (recordedFilterHeader, bool) {
	rec, ok := fc.recorded[height]
	return rec, ok
}

func (fc *filterHeaderChain) isStalled(height uint32) bool {
	byPeer, ok := fc.pending[height]
	if !ok {
		return false
	}
	resolved, _ := fc.resolve(height, byPeer)
	return resolved == nil && len(byPeer) > 0
}
