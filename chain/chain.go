// Copyright 2015 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package chain implements the validated header chain, filter header chain,
// filter index, and block match queue described in spec.md §3-4.1. It is
// owned exclusively by node.Node: no cross-package locking is required, all
// mutation happens on Node's single task (spec.md §5).
package chain

import (
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/abeychain/spvnode/internal/log"
)

// DefaultReorgWindow is the safe default noted in spec.md §9 Open Question
// (a): the source did not parameterize it, so this module exposes it with
// a 2016-block default (one Bitcoin retarget period).
const DefaultReorgWindow = 2016

// Config seeds a new Chain. FilterStartpoint, when set, clamps filter sync
// to begin at max(Anchor.Height, *FilterStartpoint) per spec.md §9 Open
// Question (b).
type Config struct {
	Params          chaincfg.Params
	Anchor          HeaderCheckpoint
	FilterStartpoint *uint32
	ReorgWindow     uint32
	Quorum          uint32
	Scripts         *ScriptSet
	Store           HeaderStore
}

// SyncOutcome reports what SyncHeaders did, so node.Node can decide the
// next request and whether to keep or drop the submitting peer.
type SyncOutcome int

const (
	SyncExtended SyncOutcome = iota
	SyncEmptyAccepted
	SyncReorged
)

// Chain is the core's sole owner of validated chain state. All methods are
// safe to call only from Node's event-loop goroutine.
type Chain struct {
	params chaincfg.Params

	hc  *headerChain
	fhc *filterHeaderChain
	fi  *filterIndex
	mq  *matchQueue

	scripts          *ScriptSet
	matchedOutpoints map[wire.OutPoint]struct{}

	filterStart uint32
	reorgWindow uint32

	store        HeaderStore
	lastFlushed  uint32

	headersSynced       bool
	filterHeadersSynced bool
	filtersSynced       bool

	log *log.Logger
}

// NewChain constructs a Chain seeded from the store (if non-nil and
// non-empty) or from the anchor checkpoint alone.
func NewChain(cfg Config) (*Chain, error) {
	window := cfg.ReorgWindow
	if window == 0 {
		window = DefaultReorgWindow
	}
	quorum := cfg.Quorum
	if quorum == 0 {
		quorum = 1
	}

	filterStart := cfg.Anchor.Height
	if cfg.FilterStartpoint != nil && *cfg.FilterStartpoint > filterStart {
		filterStart = *cfg.FilterStartpoint
	}

	c := &Chain{
		params:           cfg.Params,
		hc:               newHeaderChain(cfg.Params, cfg.Anchor, window),
		fhc:              newFilterHeaderChain(quorum),
		fi:               newFilterIndex(),
		mq:               newMatchQueue(),
		scripts:          cfg.Scripts,
		matchedOutpoints: make(map[wire.OutPoint]struct{}),
		filterStart:      filterStart,
		reorgWindow:      window,
		store:            cfg.Store,
		lastFlushed:      cfg.Anchor.Height,
		log:              log.New("component", "chain"),
	}

	if cfg.Store != nil {
		headers, err := cfg.Store.Load()
		if err != nil {
			return nil, err
		}
		if err := c.hc.seed(headers); err != nil {
			return nil, err
		}
		c.lastFlushed = c.hc.tipHeight()
	}
	return c, nil
}

// SyncHeaders validates and applies a batch of headers (spec.md §4.1 Header
// sync). Every empty batch is accepted as end-of-stream: it marks headers
// synced and returns SyncEmptyAccepted, whatever the sync state was before.
// An empty batch is therefore never rejected, and IsHeadersSynced is always
// true right after one.
func (c *Chain) SyncHeaders(batch []wire.BlockHeader) (SyncOutcome, error) {
	if len(batch) == 0 {
		c.headersSynced = true
		return SyncEmptyAccepted, nil
	}

	first := batch[0]
	if first.PrevBlock == c.hc.tipHash() {
		for _, h := range batch {
			if err := c.hc.validateExtending(h); err != nil {
				return 0, err
			}
			c.hc.append(h)
		}
		c.headersSynced = false
		return SyncExtended, nil
	}

	// Reorg candidate: first.PrevBlock must match a hash within the reorg
	// window below the current tip.
	forkHeight, ok := c.hc.heightOfHash(first.PrevBlock)
	if !ok {
		return 0, ErrNotExtending
	}
	if c.hc.tipHeight()-forkHeight > c.reorgWindow {
		return 0, ErrReorgTooDeep
	}

	competing := append([]wire.BlockHeader{}, batch...)
	existing := c.hc.headers[forkHeight-c.hc.anchor.Height:]
	if cumulativeWork(competing).Cmp(cumulativeWork(existing)) <= 0 {
		return 0, ErrInsufficientWork
	}

	c.hc.truncate(forkHeight)
	for _, h := range competing {
		if err := c.hc.validateExtending(h); err != nil {
			return 0, err
		}
		c.hc.append(h)
	}

	c.fhc.truncate(forkHeight)
	c.fi.truncate(forkHeight)
	c.mq.truncateAbove(forkHeight)
	c.filterHeadersSynced = false
	c.filtersSynced = false
	if forkHeight < c.lastFlushed {
		c.lastFlushed = forkHeight
	}
	if c.store != nil {
		if err := c.store.Rewind(forkHeight); err != nil {
			return 0, err
		}
	}
	return SyncReorged, nil
}

// SyncFilterHeaders submits one peer's filter-header batch toward quorum
// (spec.md §4.1 Filter header sync). The returned peer IDs must be
// disconnected by node.Node. A height that fails to reach quorum is not an
// error here — it is reported through IsFilterHeaderStalled, which
// node.Node polls to decide when to widen the peer pool (spec.md §7
// Quorum taxonomy).
func (c *Chain) SyncFilterHeaders(peer PeerID, batch FilterHeaderBatch) (evict []PeerID) {
	evict, advanced := c.fhc.submit(peer, batch)
	if advanced && c.fhc.tip >= c.hc.tipHeight() {
		c.filterHeadersSynced = true
	}
	return evict
}

// SyncFilter validates and indexes a single filter response, testing it
// against ScriptSet on success (spec.md §4.1 Filter sync).
func (c *Chain) SyncFilter(height uint32, blockHash chainhash.Hash, filterBytes []byte) (bool, error) {
	rec, ok := c.fhc.at(height)
	if !ok {
		return false, ErrUnknownHeight
	}
	if hashBytes(filterBytes) != rec.FilterHash {
		return false, ErrFilterHashMismatch
	}
	c.fi.put(height, filterBytes)

	matched, err := matchScripts(blockHash, filterBytes, c.scripts.snapshot())
	if err != nil {
		return false, err
	}
	if matched {
		c.mq.enqueue(blockHash, height)
	}
	if c.fi.has(c.hc.tipHeight()) || c.allFiltersIndexedThrough(c.hc.tipHeight()) {
		c.filtersSynced = true
	}
	return matched, nil
}

func (c *Chain) allFiltersIndexedThrough(tip uint32) bool {
	for h := c.filterStart; h <= tip; h++ {
		if !c.fi.has(h) {
			return false
		}
	}
	return true
}

// AddScript extends the watched ScriptSet at runtime (spec.md §6 Commands,
// AddScript). It takes effect for every filter evaluated from this point on;
// heights already scanned are not retroactively rechecked.
func (c *Chain) AddScript(script []byte) {
	c.scripts.AddScript(script)
}

// ScanBlock verifies and indexes a downloaded block's transactions (spec.md
// §4.1 Block scan), then removes it from BlockMatchQueue.
func (c *Chain) ScanBlock(hash chainhash.Hash, block *wire.MsgBlock) ([]IndexedTransaction, error) {
	txs, err := scanBlock(block, c.scripts, c.matchedOutpoints)
	if err != nil {
		return nil, err
	}
	c.mq.dequeue(hash)
	return txs, nil
}

// NextLocators produces the GETHEADERS/reorg-probe locator set (spec.md
// §4.1 Locators).
func (c *Chain) NextLocators() []chainhash.Hash {
	return locatorHashes(c.hc.hashAt, c.hc.tipHeight(), c.hc.anchor.Height)
}

// NextFilterHeaderRequest returns the next [start,stop] range to request via
// GetFilterHeaders, or ok=false if filter headers are already synced to tip.
func (c *Chain) NextFilterHeaderRequest(batchSize uint32) (start, stop uint32, ok bool) {
	tip := c.hc.tipHeight()
	next := c.fhc.tip + 1
	if c.fhc.tip == 0 {
		next = c.filterStart
	}
	if next > tip {
		return 0, 0, false
	}
	end := next + batchSize - 1
	if end > tip {
		end = tip
	}
	return next, end, true
}

// NextFilterRequest returns the next height missing a downloaded filter, or
// ok=false if filters are synced through the recorded filter-header tip.
func (c *Chain) NextFilterRequest() (height uint32, ok bool) {
	for h := c.filterStart; h <= c.fhc.tip; h++ {
		if !c.fi.has(h) {
			return h, true
		}
	}
	return 0, false
}

// NextBlock returns the head of BlockMatchQueue without dequeuing it.
func (c *Chain) NextBlock() (chainhash.Hash, bool) {
	return c.mq.head()
}

func (c *Chain) IsHeadersSynced() bool       { return c.headersSynced }
func (c *Chain) IsFilterHeadersSynced() bool { return c.filterHeadersSynced }
func (c *Chain) IsFiltersSynced() bool       { return c.filtersSynced }

// IsFilterHeaderStalled reports whether the next unresolved height has
// attestations but none reaching quorum — node.Node widens the peer pool
// in response (spec.md §4.1 Filter header sync, §7 Quorum taxonomy).
func (c *Chain) IsFilterHeaderStalled() bool {
	next := c.fhc.tip + 1
	if c.fhc.tip == 0 {
		next = c.filterStart
	}
	return c.fhc.isStalled(next)
}

func (c *Chain) TipHeight() uint32 { return c.hc.tipHeight() }
func (c *Chain) TipHash() chainhash.Hash { return c.hc.tipHash() }
func (c *Chain) AnchorHeight() uint32 { return c.hc.anchor.Height }

// HeightOfHash resolves a block hash to its height within the validated
// header chain, used by node.Node to attribute cfilter/block responses
// that only carry a hash on the wire.
func (c *Chain) HeightOfHash(hash chainhash.Hash) (uint32, bool) {
	return c.hc.heightOfHash(hash)
}

// HashAtHeight resolves a height to its validated block hash.
func (c *Chain) HashAtHeight(height uint32) (chainhash.Hash, bool) {
	return c.hc.hashAt(height)
}

// BlockMatchQueueEmpty reports whether every matched block has been
// downloaded and scanned, the predicate node.Node's advanceState checks
// before entering TransactionsSynced (spec.md §4.5 step 1).
func (c *Chain) BlockMatchQueueEmpty() bool {
	return c.mq.len() == 0
}

// FilterHeaderTip returns the highest height with a quorum-confirmed filter
// header, for client progress reporting (spec.md §6 Progress event).
func (c *Chain) FilterHeaderTip() uint32 { return c.fhc.tip }

// FilterTip returns the count of heights with a downloaded and indexed
// filter, for client progress reporting (spec.md §6 Progress event).
func (c *Chain) FilterTip() uint32 { return uint32(c.fi.len()) }

// Flush persists newly-validated headers to the store (spec.md §4.1,
// called at phase transitions per §3 HeaderChain lifecycle).
func (c *Chain) Flush() error {
	if c.store == nil {
		return nil
	}
	tip := c.hc.tipHeight()
	if tip > c.lastFlushed {
		start := c.lastFlushed - c.hc.anchor.Height
		batch := c.hc.headers[start:]
		if err := c.store.Append(batch); err != nil {
			return err
		}
		c.lastFlushed = tip
	}
	return c.store.Flush()
}
