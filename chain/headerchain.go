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

// headerchain.go is grounded on core/snailchain/headerchain.go's shape (an
// in-memory header sequence with height/hash indices and an LRU cache in
// front of the backing store) generalized to the Bitcoin header chain's
// reorg and retarget rules instead of Ethereum's.
package chain

import (
	"math/big"
	"sort"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	lru "github.com/hashicorp/golang-lru"

	"github.com/abeychain/spvnode/internal/log"
)

const (
	medianTimeBlocks = 11
	headerCacheLimit = 2048
)

// headerChain is the validated header sequence above the anchor checkpoint,
// with a hash-to-height index and an LRU cache of recently appended headers.
type headerChain struct {
	params  chaincfg.Params
	anchor  HeaderCheckpoint
	reorgWindow uint32

	headers     []wire.BlockHeader // index 0 is anchor.Height+1
	heightOf    map[chainhash.Hash]uint32
	cache       *lru.Cache

	log *log.Logger
}

func newHeaderChain(params chaincfg.Params, anchor HeaderCheckpoint, reorgWindow uint32) *headerChain {
	cache, _ := lru.New(headerCacheLimit)
	return &headerChain{
		params:      params,
		anchor:      anchor,
		reorgWindow: reorgWindow,
		heightOf:    make(map[chainhash.Hash]uint32),
		cache:       cache,
		log:         log.New("component", "headerchain"),
	}
}

// seed loads a previously-persisted sequence of headers above the anchor,
// as produced by HeaderStore.Load (spec.md §6).
func (hc *headerChain) seed(headers []wire.BlockHeader) error {
	for _, h := range headers {
		hc.append(h)
	}
	return nil
}

func (hc *headerChain) tipHeight() uint32 {
	return hc.anchor.Height + uint32(len(hc.headers))
}

func (hc *headerChain) tipHash() chainhash.Hash {
	if len(hc.headers) == 0 {
		return hc.anchor.Hash
	}
	return hc.headers[len(hc.headers)-1].BlockHash()
}

func (hc *headerChain) hashAt(height uint32) (chainhash.Hash, bool) {
	if height == hc.anchor.Height {
		return hc.anchor.Hash, true
	}
	if height < hc.anchor.Height || height > hc.tipHeight() {
		return chainhash.Hash{}, false
	}
	idx := height - hc.anchor.Height - 1
	return hc.headers[idx].BlockHash(), true
}

func (hc *headerChain) headerAt(height uint32) (wire.BlockHeader, bool) {
	if height <= hc.anchor.Height || height > hc.tipHeight() {
		return wire.BlockHeader{}, false
	}
	return hc.headers[height-hc.anchor.Height-1], true
}

func (hc *headerChain) heightOfHash(hash chainhash.Hash) (uint32, bool) {
	if hash == hc.anchor.Hash {
		return hc.anchor.Height, true
	}
	h, ok := hc.heightOf[hash]
	return h, ok
}

func (hc *headerChain) append(h wire.BlockHeader) {
	hc.headers = append(hc.headers, h)
	height := hc.anchor.Height + uint32(len(hc.headers))
	hc.heightOf[h.BlockHash()] = height
	hc.cache.Add(h.BlockHash(), h)
}

// truncate drops every header above height h, used by Chain.SyncHeaders to
// rewind to the fork point on reorg.
func (hc *headerChain) truncate(h uint32) {
	if h >= hc.tipHeight() {
		return
	}
	if h < hc.anchor.Height {
		h = hc.anchor.Height
	}
	keep := h - hc.anchor.Height
	for _, dropped := range hc.headers[keep:] {
		delete(hc.heightOf, dropped.BlockHash())
	}
	hc.headers = hc.headers[:keep]
}

// validateExtending validates a single header that must extend the current
// tip: PoW meets target, target follows the retarget schedule, and the
// timestamp exceeds the median of the preceding eleven headers.
func (hc *headerChain) validateExtending(h wire.BlockHeader) error {
	if h.PrevBlock != hc.tipHash() {
		return ErrNotExtending
	}
	nextHeight := hc.tipHeight() + 1
	wantBits, err := hc.nextRequiredBits(nextHeight, h.Timestamp)
	if err != nil {
		return err
	}
	if h.Bits != wantBits {
		return ErrBadProofOfWork
	}
	if err := checkProofOfWork(&h, hc.params.PowLimit); err != nil {
		return ErrBadProofOfWork
	}
	if !h.Timestamp.After(hc.medianTimePast()) {
		return ErrBadTimestamp
	}
	return nil
}

// checkProofOfWork mirrors blockchain.CheckProofOfWork's intent (the
// library version takes a full *btcutil.Block bound to chain state; here we
// operate on a bare header, so the check is reimplemented directly against
// the header's own hash using the library's big-int target helpers).
func checkProofOfWork(h *wire.BlockHeader, powLimit *big.Int) error {
	target := blockchain.CompactToBig(h.Bits)
	if target.Sign() <= 0 || target.Cmp(powLimit) > 0 {
		return ErrBadProofOfWork
	}
	hash := h.BlockHash()
	hashNum := blockchain.HashToBig(&hash)
	if hashNum.Cmp(target) > 0 {
		return ErrBadProofOfWork
	}
	return nil
}

// nextRequiredBits implements the standard Bitcoin difficulty retarget
// rule: every params.RetargetAdjustmentFactor-governed interval, scale the
// previous target by the ratio of actual-to-expected timespan. Outside of a
// retarget boundary, the required bits equal the previous header's bits.
// Networks whose params set PoWNoRetargeting (regtest) keep the previous
// bits at every height. Testnet's "20 minute rule" is not implemented.
func (hc *headerChain) nextRequiredBits(height uint32, newTimestamp time.Time) (uint32, error) {
	interval := uint32(hc.params.TargetTimespan / hc.params.TargetTimePerBlock)
	if hc.params.PoWNoRetargeting || interval == 0 || height%interval != 0 {
		if len(hc.headers) == 0 {
			return hc.anchor.bitsHint(hc.params), nil
		}
		return hc.headers[len(hc.headers)-1].Bits, nil
	}
	if height < interval {
		return hc.params.PowLimitBits, nil
	}
	firstHeight := height - interval
	first, ok := hc.headerAt(firstHeight)
	if !ok {
		return hc.headers[len(hc.headers)-1].Bits, nil
	}
	last := hc.headers[len(hc.headers)-1]

	actualTimespan := last.Timestamp.Sub(first.Timestamp)
	minSpan := hc.params.TargetTimespan / 4
	maxSpan := hc.params.TargetTimespan * 4
	if actualTimespan < minSpan {
		actualTimespan = minSpan
	}
	if actualTimespan > maxSpan {
		actualTimespan = maxSpan
	}

	oldTarget := blockchain.CompactToBig(last.Bits)
	newTarget := new(big.Int).Mul(oldTarget, big.NewInt(int64(actualTimespan)))
	newTarget.Div(newTarget, big.NewInt(int64(hc.params.TargetTimespan)))
	if newTarget.Cmp(hc.params.PowLimit) > 0 {
		newTarget.Set(hc.params.PowLimit)
	}
	return blockchain.BigToCompact(newTarget), nil
}

func (hc *headerChain) medianTimePast() time.Time {
	n := medianTimeBlocks
	if n > len(hc.headers) {
		n = len(hc.headers)
	}
	times := make([]time.Time, 0, n+1)
	for i := 0; i < n; i++ {
		times = append(times, hc.headers[len(hc.headers)-1-i].Timestamp)
	}
	if len(times) == 0 {
		return hc.anchor.timeHint()
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	return times[len(times)/2]
}

// bitsHint/timeHint give a starting point for a chain seeded only from an
// anchor checkpoint with no prior header history available locally.
func (cp HeaderCheckpoint) bitsHint(params chaincfg.Params) uint32 {
	return params.PowLimitBits
}

func (cp HeaderCheckpoint) timeHint() time.Time {
	return time.Unix(0, 0)
}

// cumulativeWork sums blockchain.CalcWork(bits) across a header slice —
// the measure used to compare the current tip against a competing chain
// offered during reorg (spec.md §4.1 Header sync, reorg case).
func cumulativeWork(headers []wire.BlockHeader) *big.Int {
	total := big.NewInt(0)
	for _, h := range headers {
		total.Add(total, blockchain.CalcWork(h.Bits))
	}
	return total
}
