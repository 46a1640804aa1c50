package peer

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// CommandKind discriminates the requests node.Node issues to a single
// Session (spec.md §4.2 Steady state, Commands).
type CommandKind int

const (
	CmdGetHeaders CommandKind = iota
	CmdGetFilterHeaders
	CmdGetFilters
	CmdGetBlock
	CmdGetAddr
	CmdDisconnect
)

// Command is one request node.Node sends down a Session's command channel.
type Command struct {
	Kind CommandKind

	Locators []chainhash.Hash // GetHeaders
	Stop     chainhash.Hash   // GetHeaders

	StartHeight uint32 // GetFilterHeaders / GetFilters
	StopHeight  uint32 // GetFilterHeaders / GetFilters
	StopHash    chainhash.Hash

	BlockHash chainhash.Hash // GetBlock

	Reason string // Disconnect
}
