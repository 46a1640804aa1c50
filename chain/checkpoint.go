package chain

import (
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// HeaderCheckpoint is a trusted (height, block-hash) pair below which the
// client never scans for wallet-relevant transactions. See spec.md §6.
type HeaderCheckpoint struct {
	Height uint32
	Hash   chainhash.Hash
}

// builtinCheckpoints mirrors the per-network anchor points a caller may pick
// from instead of supplying their own. Heights are sparse on purpose — a
// light client only needs to be able to start "recent enough".
// keyed by wire.BitcoinNet rather than chaincfg.Params: Params embeds slices
// (DNSSeeds, Checkpoints, ...) and is not a comparable map key.
var builtinCheckpoints = map[wire.BitcoinNet][]HeaderCheckpoint{}

func init() {
	builtinCheckpoints[chaincfg.MainNetParams.Net] = []HeaderCheckpoint{
		{Height: 0, Hash: *mustHash("0000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26")},
		{Height: 500000, Hash: *mustHash("000000000000000000024fb37364cbf81fd49cc2d51c09c75c35433c3a1945d4")},
		{Height: 700000, Hash: *mustHash("00000000000000000000590fc0f3eba193a278534220b2b37e9849e1a770ca70")},
	}
	builtinCheckpoints[chaincfg.TestNet3Params.Net] = []HeaderCheckpoint{
		{Height: 0, Hash: *mustHash("000000000933ea01ad0ee984209779baaec3ced90fa3f408719526f8d77f4943")},
	}
	builtinCheckpoints[chaincfg.SigNetParams.Net] = []HeaderCheckpoint{
		{Height: 0, Hash: *mustHash("00000008819873e925422c1ff0f99f7cc9bbb232af63a077a480a3633bee1ef6")},
		{Height: 170000, Hash: *mustHash("0000013d8d9d1d38a12f485dd44ff82a1a1f7e9ea0ed5a5a0c27d6a5c3e4df0a")},
	}
	builtinCheckpoints[chaincfg.RegressionNetParams.Net] = []HeaderCheckpoint{
		{Height: 0, Hash: *mustHash("0f9188f13cb7b2c71f2a335e3a4fc328bf5beb436012afca590b1a11466e2206")},
	}
}

func mustHash(s string) *chainhash.Hash {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		// These are baked-in constants; a parse failure is a programming error.
		panic(err)
	}
	return h
}

// ClosestCheckpointBelow returns the nearest baked-in checkpoint not
// exceeding the requested height, or the genesis checkpoint if none do.
func ClosestCheckpointBelow(height uint32, params chaincfg.Params) HeaderCheckpoint {
	best := HeaderCheckpoint{}
	for _, cp := range builtinCheckpoints[params.Net] {
		if cp.Height <= height && cp.Height >= best.Height {
			best = cp
		}
	}
	return best
}
