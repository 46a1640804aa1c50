package node

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/abeychain/spvnode/chain"
)

// ClientEventKind discriminates events on the Node → Client broadcast
// channel (spec.md §6).
type ClientEventKind int

const (
	EventDialog ClientEventKind = iota
	EventWarning
	EventProgress
	EventIndexedFilter
	EventIndexedBlock
	EventConnectionsMet
	EventSynced
)

// WarningKind enumerates the user-visible warning conditions spec.md §7's
// error taxonomy surfaces without stopping the node.
type WarningKind int

const (
	WarningPeerEvicted WarningKind = iota
	WarningPeerDisconnected
	WarningQuorumPaused
	WarningReorg
	WarningPersistence
)

// Progress carries phase-sync counters (spec.md §6 Progress).
type Progress struct {
	CFHeaders  uint32
	Filters    uint32
	BestHeight uint32
}

// IndexedFilter reports a filter that matched the watched ScriptSet
// (spec.md §6 IndexedFilter).
type IndexedFilter struct {
	Height    uint32
	Hash      chainhash.Hash
	Predicate bool
}

// IndexedBlock carries the matched transactions of a downloaded block
// (spec.md §6 IndexedBlock).
type IndexedBlock struct {
	Height       uint32
	Transactions []chain.IndexedTransaction
}

// ClientEvent is one message on the broadcast channel (spec.md §6). Lagging
// receivers may miss events but never observe them out of order (spec.md
// §5 Ordering guarantees) — enforced by the single producer (Node) and a
// bounded, lossy-on-full channel at the send site.
type ClientEvent struct {
	Kind ClientEventKind

	Dialog        string
	Warning       WarningKind
	Progress      Progress
	IndexedFilter IndexedFilter
	IndexedBlock  IndexedBlock
	SyncedTip     uint32
}

// ClientCommandKind discriminates Client → Node single-producer commands
// (spec.md §6).
type ClientCommandKind int

const (
	CommandAddScript ClientCommandKind = iota
	CommandBroadcast
	CommandContinueFilters
	CommandShutdown
)

// ClientCommand is one message the embedding client sends to Node.
type ClientCommand struct {
	Kind ClientCommandKind

	Script      []byte
	Transaction []byte
}
