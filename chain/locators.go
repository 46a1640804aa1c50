package chain

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// locatorHashes produces the exponential step-back sequence described in
// spec.md §4.1 Locators: 1,1,1,1,1,2,4,8,... measured in steps below tip,
// terminated at the anchor. The returned slice is ordered tip-first, which
// is what GETHEADERS / GETBLOCKS expect.
func locatorHashes(hashAt func(height uint32) (chainhash.Hash, bool), tip, anchor uint32) []chainhash.Hash {
	var locators []chainhash.Hash
	step := uint32(1)
	height := tip
	for {
		if h, ok := hashAt(height); ok {
			locators = append(locators, h)
		}
		if height <= anchor {
			break
		}
		if len(locators) >= 6 {
			step *= 2
		}
		if step > height-anchor {
			height = anchor
		} else {
			height -= step
		}
	}
	return locators
}
