package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

func header(t *testing.T, prev chainhash.Hash, ts time.Time) wire.BlockHeader {
	t.Helper()
	return wire.BlockHeader{
		Version:   1,
		PrevBlock: prev,
		Bits:      chaincfg.RegressionNetParams.PowLimitBits,
		Timestamp: ts,
	}
}

func TestHeaderDBAppendFlushLoad(t *testing.T) {
	dir := t.TempDir()
	db, err := OpenHeaderDB(filepath.Join(dir, "headers"), 0)
	if err != nil {
		t.Fatalf("OpenHeaderDB: %v", err)
	}
	defer db.Close()

	now := time.Now()
	h0 := header(t, chainhash.Hash{}, now)
	h1 := header(t, h0.BlockHash(), now.Add(10*time.Minute))

	if err := db.Append([]wire.BlockHeader{h0, h1}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	loaded, err := db.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 headers, got %d", len(loaded))
	}
	if loaded[0].BlockHash() != h0.BlockHash() || loaded[1].BlockHash() != h1.BlockHash() {
		t.Fatalf("loaded headers don't match what was appended")
	}
}

func TestHeaderDBRewind(t *testing.T) {
	dir := t.TempDir()
	db, err := OpenHeaderDB(filepath.Join(dir, "headers"), 0)
	if err != nil {
		t.Fatalf("OpenHeaderDB: %v", err)
	}
	defer db.Close()

	now := time.Now()
	h0 := header(t, chainhash.Hash{}, now)
	h1 := header(t, h0.BlockHash(), now.Add(10*time.Minute))
	h2 := header(t, h1.BlockHash(), now.Add(20*time.Minute))

	if err := db.Append([]wire.BlockHeader{h0, h1, h2}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	// With anchor 0, h0 is stored at height 1; rewinding to 1 keeps only h0.
	if err := db.Rewind(1); err != nil {
		t.Fatalf("Rewind: %v", err)
	}

	loaded, err := db.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 header after rewind to height 1, got %d", len(loaded))
	}
	if loaded[0].BlockHash() != h0.BlockHash() {
		t.Fatalf("expected the first header above the anchor to survive rewind")
	}
}

// TestHeaderDBRewindWithNonZeroAnchor exercises the realistic case: an
// anchor checkpoint well above height 0 (every built-in checkpoint in
// chain/checkpoint.go, and spec.md §8 scenario 1's worked example). Keys
// must track absolute chain height, not a store-local sequence starting at
// zero, or Rewind's height > toHeight comparison silently deletes nothing.
func TestHeaderDBRewindWithNonZeroAnchor(t *testing.T) {
	const anchor = 170000
	dir := t.TempDir()
	db, err := OpenHeaderDB(filepath.Join(dir, "headers"), anchor)
	if err != nil {
		t.Fatalf("OpenHeaderDB: %v", err)
	}
	defer db.Close()

	now := time.Now()
	h0 := header(t, chainhash.Hash{}, now)
	h1 := header(t, h0.BlockHash(), now.Add(10*time.Minute))
	h2 := header(t, h1.BlockHash(), now.Add(20*time.Minute))

	if err := db.Append([]wire.BlockHeader{h0, h1, h2}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// Rewind to anchor+1 (the height of h0) must keep only h0.
	if err := db.Rewind(anchor + 1); err != nil {
		t.Fatalf("Rewind: %v", err)
	}

	loaded, err := db.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 header after rewind to anchor+1, got %d", len(loaded))
	}
	if loaded[0].BlockHash() != h0.BlockHash() {
		t.Fatalf("expected the first header above the anchor to survive rewind")
	}

	// A subsequent Append+Flush must resume at anchor+2, not collide with h0.
	h1b := header(t, h0.BlockHash(), now.Add(30*time.Minute))
	if err := db.Append([]wire.BlockHeader{h1b}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	loaded, err = db.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 headers after resuming append past a non-zero anchor, got %d", len(loaded))
	}
	if loaded[1].BlockHash() != h1b.BlockHash() {
		t.Fatalf("expected the resumed append to land at anchor+2, got a different header")
	}
}
