package chain

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

func testChain(t *testing.T, quorum uint32) (*Chain, time.Time) {
	t.Helper()
	scripts, err := NewScriptSet(nil, &chaincfg.RegressionNetParams)
	if err != nil {
		t.Fatalf("NewScriptSet: %v", err)
	}
	anchor := testAnchor()
	c, err := NewChain(Config{
		Params:  chaincfg.RegressionNetParams,
		Anchor:  anchor,
		Quorum:  quorum,
		Scripts: scripts,
	})
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	return c, time.Unix(1600000000, 0)
}

func TestSyncHeadersExtendsTip(t *testing.T) {
	c, t0 := testChain(t, 1)
	headers := chainOf(t0, 5, c.TipHash())

	outcome, err := c.SyncHeaders(headers)
	if err != nil {
		t.Fatalf("SyncHeaders: %v", err)
	}
	if outcome != SyncExtended {
		t.Fatalf("expected SyncExtended, got %v", outcome)
	}
	if got, want := c.TipHeight(), c.AnchorHeight()+5; got != want {
		t.Fatalf("tip height = %d, want %d", got, want)
	}
	if c.TipHash() != headers[len(headers)-1].BlockHash() {
		t.Fatalf("tip hash mismatch")
	}
}

func TestSyncHeadersEmptyBatchMarksSynced(t *testing.T) {
	c, _ := testChain(t, 1)
	if c.IsHeadersSynced() {
		t.Fatalf("should not start synced")
	}
	outcome, err := c.SyncHeaders(nil)
	if err != nil {
		t.Fatalf("SyncHeaders: %v", err)
	}
	if outcome != SyncEmptyAccepted {
		t.Fatalf("expected SyncEmptyAccepted, got %v", outcome)
	}
	if !c.IsHeadersSynced() {
		t.Fatalf("expected IsHeadersSynced after empty batch")
	}
}

func TestSyncHeadersRejectsNonExtendingGap(t *testing.T) {
	c, t0 := testChain(t, 1)
	stray := chainOf(t0, 1, chainhash.Hash{0xff})
	if _, err := c.SyncHeaders(stray); err == nil {
		t.Fatalf("expected error for headers not extending tip and outside reorg window")
	}
}

func TestSyncHeadersReorgSwitchesToHeavierChain(t *testing.T) {
	c, t0 := testChain(t, 1)
	original := chainOf(t0, 3, c.TipHash())
	if _, err := c.SyncHeaders(original); err != nil {
		t.Fatalf("initial SyncHeaders: %v", err)
	}

	forkPoint := c.AnchorHeight() + 1
	forkHash, ok := c.HashAtHeight(forkPoint)
	if !ok {
		t.Fatalf("fork point hash not found")
	}

	// Competing branch must out-work the two headers it's replacing: use
	// later timestamps so nextRequiredBits/medianTimePast stay satisfied
	// under regtest's fixed PowLimitBits (equal work per header), and add an
	// extra block so cumulative work strictly exceeds the original tail.
	competing := chainOf(t0.Add(time.Hour), 3, forkHash)

	outcome, err := c.SyncHeaders(competing)
	if err != nil {
		t.Fatalf("SyncHeaders reorg: %v", err)
	}
	if outcome != SyncReorged {
		t.Fatalf("expected SyncReorged, got %v", outcome)
	}
	if c.TipHash() != competing[len(competing)-1].BlockHash() {
		t.Fatalf("tip did not switch to competing branch")
	}
}

func TestNextLocatorsIncludesTipAndAnchor(t *testing.T) {
	c, t0 := testChain(t, 1)
	headers := chainOf(t0, 2, c.TipHash())
	if _, err := c.SyncHeaders(headers); err != nil {
		t.Fatalf("SyncHeaders: %v", err)
	}

	locators := c.NextLocators()
	if len(locators) == 0 {
		t.Fatalf("expected non-empty locator set")
	}
	if locators[0] != c.TipHash() {
		t.Fatalf("first locator must be the current tip")
	}
	if anchorHash, _ := c.HashAtHeight(c.AnchorHeight()); locators[len(locators)-1] != anchorHash {
		t.Fatalf("last locator must be the anchor")
	}
}

func TestFilterHeaderAndFilterRequestProgression(t *testing.T) {
	c, t0 := testChain(t, 1)
	headers := chainOf(t0, 3, c.TipHash())
	if _, err := c.SyncHeaders(headers); err != nil {
		t.Fatalf("SyncHeaders: %v", err)
	}

	start, stop, ok := c.NextFilterHeaderRequest(2000)
	if !ok {
		t.Fatalf("expected a pending filter header request")
	}
	if start != c.AnchorHeight() {
		t.Fatalf("start = %d, want anchor height %d", start, c.AnchorHeight())
	}
	if stop != c.TipHeight() {
		t.Fatalf("stop = %d, want tip height %d", stop, c.TipHeight())
	}

	batch := FilterHeaderBatch{
		StartHeight:      start,
		PrevFilterHeader: chainhash.Hash{},
		FilterHashes:     make([]chainhash.Hash, stop-start+1),
	}
	for i := range batch.FilterHashes {
		batch.FilterHashes[i] = chainhash.Hash{byte(i + 1)}
	}
	if evict := c.SyncFilterHeaders(PeerID(1), batch); len(evict) != 0 {
		t.Fatalf("SyncFilterHeaders: evict=%v", evict)
	}
	if !c.IsFilterHeadersSynced() {
		t.Fatalf("expected filter headers synced through tip")
	}

	height, ok := c.NextFilterRequest()
	if !ok {
		t.Fatalf("expected a pending filter request")
	}
	if height != c.AnchorHeight() {
		t.Fatalf("next filter request height = %d, want anchor height", height)
	}
}
