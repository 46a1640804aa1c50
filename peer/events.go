package peer

import (
	"github.com/btcsuite/btcd/wire"

	"github.com/abeychain/spvnode/chain"
)

// EventKind discriminates the events a Session forwards to node.Node over
// the shared, bounded event channel (spec.md §4.2 Steady state).
type EventKind int

const (
	EventVersion EventKind = iota
	EventVerAck
	EventAddr
	EventHeaders
	EventFilterHeaders
	EventFilter
	EventBlock
	EventInv
	EventDisconnect
)

// FilterPayload is a decoded cfilter response; node.Node resolves the
// height via chain.Chain before calling Chain.SyncFilter.
type FilterPayload struct {
	BlockHash   [32]byte
	FilterBytes []byte
}

// Event is one translated wire message, tagged with the originating
// session's nonce so node.Node and chain.Chain can attribute it.
type Event struct {
	Kind EventKind
	Peer chain.PeerID

	Version       *wire.MsgVersion
	Addrs         []*wire.NetAddress
	Headers       []wire.BlockHeader
	FilterHeaders chain.FilterHeaderBatch
	Filter        FilterPayload
	Block         *wire.MsgBlock
	BlockHash     [32]byte
	Inv           []*wire.InvVect

	DisconnectReason string
}
