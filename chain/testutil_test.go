package chain

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// buildHeader mints a header extending prev with regtest's permissive
// PowLimitBits. That target still rejects roughly half of all hashes, so the
// nonce is bumped from the given start until checkProofOfWork accepts the
// header (usually within a couple of tries).
func buildHeader(prev chainhash.Hash, ts time.Time, nonce uint32) wire.BlockHeader {
	h := wire.BlockHeader{
		Version:    1,
		PrevBlock:  prev,
		MerkleRoot: chainhash.Hash{},
		Timestamp:  ts,
		Bits:       chaincfg.RegressionNetParams.PowLimitBits,
		Nonce:      nonce,
	}
	for checkProofOfWork(&h, chaincfg.RegressionNetParams.PowLimit) != nil {
		h.Nonce++
	}
	return h
}

// chainhashOf builds a deterministic, distinct hash for use as a test
// fixture where the actual preimage is irrelevant.
func chainhashOf(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	return h
}

func testAnchor() HeaderCheckpoint {
	return HeaderCheckpoint{Height: 100, Hash: chainhash.Hash{0xaa}}
}

func chainOf(t0 time.Time, n int, anchorHash chainhash.Hash) []wire.BlockHeader {
	headers := make([]wire.BlockHeader, 0, n)
	prev := anchorHash
	for i := 0; i < n; i++ {
		h := buildHeader(prev, t0.Add(time.Duration(i+1)*10*time.Minute), uint32(i))
		headers = append(headers, h)
		prev = h.BlockHash()
	}
	return headers
}
