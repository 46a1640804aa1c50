// node.go is grounded on abey/sync.go's ProtocolManager loop: a
// single-goroutine scheduler that reaps/refills its peer pool on a forced
// cycle, drains a peer-event channel, and dispatches by message kind — the
// same shape spec.md §4.5's event loop describes, generalized from
// Ethereum's block/transaction propagation handlers to header/filter-header/
// filter/block handlers over the compact-filter wire protocol.
package node

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/abeychain/spvnode/chain"
	"github.com/abeychain/spvnode/internal/log"
	"github.com/abeychain/spvnode/peer"
	"github.com/abeychain/spvnode/peerdirectory"
	"github.com/abeychain/spvnode/peermap"
)

const (
	peerEventChannelSize = 32 // spec.md §5 Resource policy
	pollInterval         = time.Second
	dnsBootstrapTimeout  = 10 * time.Second
)

// Node is the orchestrator of spec.md §4.5. Its state is exactly
// (NodeState, PeerMap, Chain, PeerDirectory, ClientEventSender,
// ClientCommandReceiver).
type Node struct {
	cfg Config

	mu    sync.RWMutex
	state NodeState

	chain     *chain.Chain
	peers     *peermap.Map
	directory *peerdirectory.Directory

	peerEvents chan peer.Event
	clientEvts chan ClientEvent
	clientCmds chan ClientCommand

	policy FilterSyncPolicy

	whitelist []TrustedPeer

	connectionsMet bool
	quorumStalled  bool

	// evicted tracks nonces Node itself told to disconnect (see evict), so
	// handleDisconnect doesn't double-report a warning already emitted by
	// evict when that session's EventDisconnect eventually arrives.
	evicted map[chain.PeerID]struct{}

	log *log.Logger
}

// New builds a Node ready to Run. It does not dial any peers itself; Run's
// event loop does that on its first iterations.
func New(cfg Config, params chaincfg.Params, c *chain.Chain, directory *peerdirectory.Directory) (*Node, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := cfg.checkNetwork(params.Net); err != nil {
		return nil, err
	}
	if directory != nil {
		directory.SetCapacity(cfg.PeerDBSize.MaxRecords)
	}

	events := make(chan peer.Event, peerEventChannelSize)
	dialer := peer.NewDialer(cfg.ConnectionType, cfg.TorSocksAddr)
	peerCfg := peer.Config{
		Net:               params.Net,
		ProtocolVersion:   cfg.ProtocolVersion,
		UserAgent:         cfg.UserAgent,
		ResponseTimeout:   cfg.responseTimeout(),
		MaxConnectionTime: cfg.maxConnectionTime(),
	}

	n := &Node{
		cfg:        cfg,
		state:      StateBehind,
		chain:      c,
		directory:  directory,
		peerEvents: events,
		clientEvts: make(chan ClientEvent, peerEventChannelSize),
		clientCmds: make(chan ClientCommand, 4),
		policy:     cfg.FilterSyncPolicy,
		whitelist:  append([]TrustedPeer(nil), cfg.Whitelist...),
		evicted:    make(map[chain.PeerID]struct{}),
		log:        log.New("component", "node"),
	}
	peerCfg.PastBehind = n.pastBehind
	n.peers = peermap.New(dialer, peerCfg, events)
	return n, nil
}

// Events returns the broadcast channel of spec.md §6 Client events.
func (n *Node) Events() <-chan ClientEvent { return n.clientEvts }

// Commands returns the channel the embedding client sends ClientCommands on.
func (n *Node) Commands() chan<- ClientCommand { return n.clientCmds }

func (n *Node) State() NodeState {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

func (n *Node) pastBehind() bool {
	return n.State() > StateBehind
}

// Run drives the event loop of spec.md §4.5 until ctx is canceled or a
// Shutdown command arrives, then performs the cancellation sequence of
// spec.md §5: disconnect all sessions, flush Chain, close the event
// channel, return.
func (n *Node) Run(ctx context.Context) error {
	n.emit(ClientEvent{Kind: EventDialog, Dialog: "starting node"})
	defer close(n.clientEvts)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return n.shutdown("context canceled")
		case cmd := <-n.clientCmds:
			if done, err := n.handleClientCommand(cmd); done {
				return err
			}
		case ev := <-n.peerEvents:
			n.handlePeerEvent(ctx, ev)
			n.advanceState()
		case <-ticker.C:
			n.tick(ctx)
			n.advanceState()
		}
	}
}

func (n *Node) handleClientCommand(cmd ClientCommand) (bool, error) {
	switch cmd.Kind {
	case CommandAddScript:
		n.chain.AddScript(cmd.Script)
		n.log.Debug("client added watch script")
	case CommandBroadcast:
		n.log.Debug("client requested broadcast", "bytes", len(cmd.Transaction))
	case CommandContinueFilters:
		n.policy = PolicyContinue
		n.log.Info("filter sync resumed by client")
	case CommandShutdown:
		return true, n.shutdown("client requested shutdown")
	}
	return false, nil
}

// tick performs steps 2 and 3 of spec.md §4.5's event loop: reap closed
// sessions, refill the pool if under quorum, and kick the head of the
// BlockMatchQueue.
func (n *Node) tick(ctx context.Context) {
	n.peers.Clean()

	required := n.checkQuorumStall()
	if n.peers.Live() < required {
		if err := n.dispatchNextPeer(ctx); err != nil {
			n.log.Debug("peer selection did not yield a candidate", "err", err)
		}
	} else if !n.connectionsMet {
		n.connectionsMet = true
		n.emit(ClientEvent{Kind: EventConnectionsMet})
	}

	if hash, ok := n.chain.NextBlock(); ok {
		if err := n.peers.SendRandom(peer.Command{Kind: peer.CmdGetBlock, BlockHash: hash}); err != nil {
			n.log.Debug("no peer available to fetch queued block", "err", err)
		}
	}

	n.emit(ClientEvent{Kind: EventProgress, Progress: Progress{
		CFHeaders:  n.chain.FilterHeaderTip(),
		Filters:    n.chain.FilterTip(),
		BestHeight: n.chain.TipHeight(),
	}})
}

// checkQuorumStall widens the live-peer requirement by one and emits
// WarningQuorumPaused (once, latched until the stall clears) when the next
// unresolved filter-header height has attestations but none reaching
// quorum — the Node's half of the quorum-pause contract (spec.md §4.1
// Filter header sync, §7 Quorum taxonomy: "the Chain pauses and the Node
// widens the peer pool").
func (n *Node) checkQuorumStall() int {
	required := requiredLivePeers(n.cfg.RequiredPeers)
	if !n.chain.IsFilterHeaderStalled() {
		n.quorumStalled = false
		return required
	}
	if !n.quorumStalled {
		n.quorumStalled = true
		n.warn(WarningQuorumPaused)
	}
	return required + 1
}

// dispatchNextPeer implements the peer-selection algorithm of spec.md §4.5:
// whitelist first, then CPF-preferring once past Behind under Continue
// policy, then any untried record, falling back to the directory's own DNS
// bootstrap.
func (n *Node) dispatchNextPeer(ctx context.Context) error {
	if len(n.whitelist) > 0 {
		next := n.whitelist[0]
		n.whitelist = n.whitelist[1:]
		_, err := n.peers.Dispatch(ctx, addrString(next.Addr, next.Port))
		return err
	}

	bootstrapCtx, cancel := context.WithTimeout(ctx, dnsBootstrapTimeout)
	defer cancel()

	var rec peerdirectory.PeerRecord
	var err error
	if n.pastBehind() && n.policy == PolicyContinue {
		rec, err = n.directory.GetRandomCPF(bootstrapCtx)
	} else {
		rec, err = n.directory.GetRandomNew(bootstrapCtx)
	}
	if err != nil {
		return err
	}
	_, err = n.peers.Dispatch(ctx, addrString(rec.Addr, rec.Port))
	return err
}

func addrString(addr string, port uint16) string {
	return net.JoinHostPort(addr, strconv.Itoa(int(port)))
}
