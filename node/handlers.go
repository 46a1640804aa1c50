package node

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/abeychain/spvnode/chain"
	"github.com/abeychain/spvnode/peer"
)

const requiredServicesPastBehind = wire.SFNodeNetwork | wire.SFNodeCF

// handlePeerEvent dispatches one inbound peer.Event per spec.md §4.5 Event
// handlers.
func (n *Node) handlePeerEvent(ctx context.Context, ev peer.Event) {
	switch ev.Kind {
	case peer.EventVersion:
		n.handleVersion(ev)
	case peer.EventAddr:
		n.handleAddr(ev)
	case peer.EventHeaders:
		n.handleHeaders(ev)
	case peer.EventFilterHeaders:
		n.handleFilterHeaders(ev)
	case peer.EventFilter:
		n.handleFilter(ev)
	case peer.EventBlock:
		n.handleBlock(ev)
	case peer.EventInv:
		n.handleInv(ev)
	case peer.EventDisconnect:
		n.handleDisconnect(ev)
	}
}

func (n *Node) handleVersion(ev peer.Event) {
	if ev.Version == nil {
		return
	}
	offset := ev.Version.Timestamp.Unix()
	n.peers.RecordVersion(ev.Peer, ev.Version.Services, offset)

	if n.pastBehind() && ev.Version.Services&requiredServicesPastBehind != requiredServicesPastBehind {
		_ = n.peers.Disconnect(ev.Peer, "peer lacks required services past Behind phase")
		return
	}

	locators := n.chain.NextLocators()
	_ = n.peers.Send(ev.Peer, peer.Command{Kind: peer.CmdGetHeaders, Locators: locators})
}

func (n *Node) handleAddr(ev peer.Event) {
	if err := n.directory.AddBatch(ev.Addrs); err != nil {
		n.log.Debug("failed to record addr batch", "err", err)
	}
}

func (n *Node) handleHeaders(ev peer.Event) {
	outcome, err := n.chain.SyncHeaders(ev.Headers)
	if err != nil {
		n.evict(ev.Peer, "header validation failed: "+err.Error())
		n.warn(WarningReorg)
		return
	}

	if len(ev.Headers) == 0 {
		if !n.chain.IsHeadersSynced() {
			n.evict(ev.Peer, "empty headers batch before headers synced")
			return
		}
		n.emit(ClientEvent{Kind: EventDialog, Dialog: "headers synced"})
		n.requestNextFilterHeaders(ev.Peer)
		return
	}

	if outcome == chain.SyncReorged {
		n.emit(ClientEvent{Kind: EventWarning, Warning: WarningReorg})
	}

	locators := n.chain.NextLocators()
	_ = n.peers.Send(ev.Peer, peer.Command{Kind: peer.CmdGetHeaders, Locators: locators})
}

func (n *Node) handleFilterHeaders(ev peer.Event) {
	evicted := n.chain.SyncFilterHeaders(chain.PeerID(ev.Peer), ev.FilterHeaders)
	for _, victim := range evicted {
		n.evict(victim, "minority filter-header attestation")
	}
	n.requestNextFilterHeaders(ev.Peer)
}

func (n *Node) handleFilter(ev peer.Event) {
	var hash [32]byte = ev.Filter.BlockHash
	height, ok := n.filterHeight(hash)
	if !ok {
		return
	}
	matched, err := n.chain.SyncFilter(height, chainHashFromBytes(hash), ev.Filter.FilterBytes)
	if err != nil {
		n.evict(ev.Peer, "filter hash mismatch: "+err.Error())
		return
	}
	n.emit(ClientEvent{Kind: EventIndexedFilter, IndexedFilter: IndexedFilter{
		Height:    height,
		Hash:      chainHashFromBytes(hash),
		Predicate: matched,
	}})
	n.requestNextFilters(ev.Peer)
}

func (n *Node) handleBlock(ev peer.Event) {
	if ev.Block == nil {
		return
	}
	txs, err := n.chain.ScanBlock(chainHashFromBytes(ev.BlockHash), ev.Block)
	if err != nil {
		n.log.Warn("block scan failed", "err", err)
		return
	}
	height, _ := n.chain.HeightOfHash(chainHashFromBytes(ev.BlockHash))
	n.emit(ClientEvent{Kind: EventIndexedBlock, IndexedBlock: IndexedBlock{
		Height:       height,
		Transactions: txs,
	}})
	// Never request the next match from this same session: the next block
	// is dequeued from BlockMatchQueue on the subsequent tick (spec.md §4.5).
}

func (n *Node) handleInv(ev peer.Event) {
	if !n.pastBehind() {
		return
	}
	n.setState(StateBehind)
	n.emit(ClientEvent{Kind: EventDialog, Dialog: "new block inventory observed, resyncing tip"})
	locators := n.chain.NextLocators()
	_ = n.peers.Send(ev.Peer, peer.Command{Kind: peer.CmdGetHeaders, Locators: locators})
}

// handleDisconnect reports a disconnect to the client unless Node itself
// requested it through evict, which already emitted WarningPeerEvicted —
// otherwise a session-detected disconnect (oversized frame, idle timeout,
// max connection time, I/O error) would never reach the client at all
// (spec.md §8 end-to-end scenario #6: "expect immediate disconnect and
// Warning event").
func (n *Node) handleDisconnect(ev peer.Event) {
	n.log.Debug("peer disconnected", "peer", uint64(ev.Peer), "reason", ev.DisconnectReason)
	if _, ok := n.evicted[ev.Peer]; ok {
		delete(n.evicted, ev.Peer)
		return
	}
	n.warn(WarningPeerDisconnected)
}

func (n *Node) requestNextFilterHeaders(p chain.PeerID) {
	if n.policy == PolicyHalt {
		return
	}
	start, stop, ok := n.chain.NextFilterHeaderRequest(defaultFilterHeaderBatch)
	if !ok {
		n.requestNextFilters(p)
		return
	}
	hash, ok := n.chain.HashAtHeight(stop)
	if !ok {
		return
	}
	_ = n.peers.Send(p, peer.Command{Kind: peer.CmdGetFilterHeaders, StartHeight: start, StopHash: hash})
}

func (n *Node) requestNextFilters(p chain.PeerID) {
	if n.policy == PolicyHalt {
		return
	}
	height, ok := n.chain.NextFilterRequest()
	if !ok {
		return
	}
	hash, ok := n.chain.HashAtHeight(height)
	if !ok {
		return
	}
	_ = n.peers.Send(p, peer.Command{Kind: peer.CmdGetFilters, StartHeight: height, StopHash: hash})
}

const defaultFilterHeaderBatch = 2000

func (n *Node) filterHeight(blockHash [32]byte) (uint32, bool) {
	return n.chain.HeightOfHash(chainHashFromBytes(blockHash))
}

// evict disconnects a misbehaving session. Only the live pool is affected:
// PeerMap tracks sessions by nonce, not address, and neither evict nor
// handleDisconnect bans the peer's address in the directory, so the same
// address can be selected and dialed again later.
func (n *Node) evict(p chain.PeerID, reason string) {
	n.log.Debug("evicting peer", "peer", uint64(p), "reason", reason)
	n.evicted[p] = struct{}{}
	_ = n.peers.Disconnect(p, reason)
	n.emit(ClientEvent{Kind: EventWarning, Warning: WarningPeerEvicted})
}

func (n *Node) warn(kind WarningKind) {
	n.emit(ClientEvent{Kind: EventWarning, Warning: kind})
}

func (n *Node) setState(s NodeState) {
	n.mu.Lock()
	n.state = s
	n.mu.Unlock()
}

// advanceState implements spec.md §4.5 step 1: check Chain predicates and
// transition NodeState forward, emitting one Dialog per transition and
// Synced on entering TransactionsSynced.
func (n *Node) advanceState() {
	cur := n.State()
	next := cur

	switch cur {
	case StateBehind:
		if n.chain.IsHeadersSynced() {
			next = StateHeadersSynced
		}
	case StateHeadersSynced:
		if n.policy == PolicyHalt {
			return
		}
		if n.chain.IsFilterHeadersSynced() {
			next = StateFilterHeadersSynced
		}
	case StateFilterHeadersSynced:
		if n.chain.IsFiltersSynced() {
			next = StateFiltersSynced
		}
	case StateFiltersSynced:
		if n.chain.BlockMatchQueueEmpty() {
			next = StateTransactionsSynced
		}
	}

	if next == cur {
		return
	}
	n.setState(next)
	n.emit(ClientEvent{Kind: EventDialog, Dialog: "phase advanced to " + next.String()})
	if next == StateTransactionsSynced {
		n.emit(ClientEvent{Kind: EventSynced, SyncedTip: n.chain.TipHeight()})
	}
}

func (n *Node) emit(ev ClientEvent) {
	select {
	case n.clientEvts <- ev:
	default:
		// Lossy slow-consumer semantics (spec.md §5 Ordering guarantees):
		// a lagging client may miss events but must never see them
		// reordered, so this drops rather than blocking the event loop.
	}
}

// shutdown performs spec.md §5's cancellation sequence: disconnect every
// session, flush Chain, and return.
func (n *Node) shutdown(reason string) error {
	n.log.Info("shutting down", "reason", reason)
	n.peers.CloseAll(reason)
	return n.chain.Flush()
}

func chainHashFromBytes(b [32]byte) chainhash.Hash {
	return chainhash.Hash(b)
}
