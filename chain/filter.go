package chain

import (
	"github.com/btcsuite/btcd/btcutil/gcs"
	"github.com/btcsuite/btcd/btcutil/gcs/builder"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// The BIP158 basic filter parameters (false-positive rate 1/M at Golomb
// parameter P).
const (
	filterP = uint8(19)
	filterM = uint64(784931)
)

// matchScripts decodes raw BIP158 filter bytes and tests the watched
// ScriptSet against it (spec.md §4.1 Filter sync). It returns true on a
// hit, which enqueues the owning block in BlockMatchQueue.
func matchScripts(blockHash chainhash.Hash, filterBytes []byte, scripts [][]byte) (bool, error) {
	if len(scripts) == 0 {
		return false, nil
	}
	f, err := gcs.FromNBytes(filterP, filterM, filterBytes)
	if err != nil {
		return false, err
	}
	key := builder.DeriveKey(&blockHash)
	return f.MatchAny(key, scripts)
}
