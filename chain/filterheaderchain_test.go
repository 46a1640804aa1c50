package chain

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

func batchAt(start uint32, n int, seed byte) FilterHeaderBatch {
	hashes := make([]chainhash.Hash, n)
	for i := range hashes {
		hashes[i] = chainhash.Hash{seed, byte(i)}
	}
	return FilterHeaderBatch{StartHeight: start, FilterHashes: hashes}
}

func TestFilterHeaderChainSingleQuorumResolvesImmediately(t *testing.T) {
	fc := newFilterHeaderChain(1)
	evict, advanced := fc.submit(1, batchAt(0, 3, 0x01))
	if !advanced {
		t.Fatalf("expected advanced with quorum 1")
	}
	if len(evict) != 0 {
		t.Fatalf("expected no evictions, got %v", evict)
	}
	if fc.tip != 2 {
		t.Fatalf("tip = %d, want 2", fc.tip)
	}
}

func TestFilterHeaderChainQuorumTwoWaitsThenResolves(t *testing.T) {
	fc := newFilterHeaderChain(2)

	evict, advanced := fc.submit(1, batchAt(0, 1, 0x01))
	if advanced || len(evict) != 0 {
		t.Fatalf("single attestation under quorum 2 must not resolve yet")
	}
	if !fc.isStalled(0) {
		t.Fatalf("expected height 0 to be stalled with only one of two required attestations")
	}

	evict, advanced = fc.submit(2, batchAt(0, 1, 0x01))
	if !advanced {
		t.Fatalf("expected resolution once quorum reached")
	}
	if len(evict) != 0 {
		t.Fatalf("expected no evictions when peers agree, got %v", evict)
	}
	if fc.isStalled(0) {
		t.Fatalf("height 0 should no longer be stalled once resolved")
	}
}

func TestFilterHeaderChainMinorityEvicted(t *testing.T) {
	fc := newFilterHeaderChain(2)

	// Two peers agree on 0x01, one dissents with 0x02 at height 0.
	fc.submit(1, batchAt(0, 1, 0x01))
	fc.submit(3, batchAt(0, 1, 0x02))
	evict, advanced := fc.submit(2, batchAt(0, 1, 0x01))
	if !advanced {
		t.Fatalf("expected resolution at quorum 2")
	}
	found := false
	for _, p := range evict {
		if p == 3 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected peer 3 (minority) to be evicted, got %v", evict)
	}
}

func TestFilterHeaderChainLateDissenterEvictedImmediately(t *testing.T) {
	fc := newFilterHeaderChain(1)
	fc.submit(1, batchAt(0, 1, 0x01))
	evict, _ := fc.submit(2, batchAt(0, 1, 0x02))
	if len(evict) != 1 || evict[0] != 2 {
		t.Fatalf("expected late dissenter evicted, got %v", evict)
	}
}

func TestFilterHeaderChainTruncate(t *testing.T) {
	fc := newFilterHeaderChain(1)
	fc.submit(1, batchAt(0, 5, 0x01))
	fc.truncate(2)
	if fc.tip != 2 {
		t.Fatalf("tip = %d, want 2 after truncate", fc.tip)
	}
	if _, ok := fc.at(3); ok {
		t.Fatalf("height 3 should have been truncated away")
	}
	if _, ok := fc.at(2); !ok {
		t.Fatalf("height 2 should remain after truncate(2)")
	}
}
