// peermap.go is grounded on abey/peer.go's peerSet: a mutex-guarded map
// keyed by a connection identifier, with Register/Unregister, a length
// query, and a close-everything path — generalized here from abey's
// node-id keying to the 32-bit session nonce spec.md §4.3 specifies, and
// from abey/peer.go's single-dimension "best peer" selection to the two
// predicates PeerMap needs (service-flag filtering, liveness).
package peermap

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/abeychain/spvnode/chain"
	"github.com/abeychain/spvnode/internal/log"
	"github.com/abeychain/spvnode/peer"
)

var (
	// ErrNonceCollision is returned by dispatch when the randomly-generated
	// nonce is already in use; the caller should retry.
	ErrNonceCollision = fmt.Errorf("peermap: nonce collision")
	// ErrUnknownPeer is returned by Send/Disconnect for an absent nonce.
	ErrUnknownPeer = fmt.Errorf("peermap: unknown peer")
	// ErrNoLivePeers is returned by SendRandom when no Ready session
	// advertises the requested service.
	ErrNoLivePeers = fmt.Errorf("peermap: no live peers")
)

// entry is one tracked session plus the bookkeeping PeerMap exposes
// without reaching into the session itself (spec.md §4.3).
type entry struct {
	session    *peer.Session
	addr       string
	services   wire.ServiceFlag
	timeOffset int64
}

// Map is the pool of PeerSessions keyed by session nonce (spec.md §4.3).
type Map struct {
	mu      sync.RWMutex
	entries map[chain.PeerID]*entry

	dialer peer.Dialer
	cfg    peer.Config
	events chan peer.Event

	log *log.Logger
}

// New builds an empty Map. events is the shared, bounded channel
// (capacity 32 per spec.md §5) every dispatched Session forwards to.
func New(dialer peer.Dialer, cfg peer.Config, events chan peer.Event) *Map {
	return &Map{
		entries: make(map[chain.PeerID]*entry),
		dialer:  dialer,
		cfg:     cfg,
		events:  events,
		log:     log.New("component", "peermap"),
	}
}

// Dispatch opens a connection to addr and registers a new Session under a
// freshly allocated nonce, retrying nonce generation on collision.
func (m *Map) Dispatch(ctx context.Context, addr string) (chain.PeerID, error) {
	conn, err := m.dialer.DialContext(ctx, addr)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	var nonce chain.PeerID
	for i := 0; i < 8; i++ {
		candidate := peer.GenerateNonce()
		if _, taken := m.entries[candidate]; !taken {
			nonce = candidate
			break
		}
	}
	if nonce == 0 {
		m.mu.Unlock()
		conn.Close()
		return 0, ErrNonceCollision
	}
	session := peer.NewSession(conn, nonce, m.cfg, m.events)
	m.entries[nonce] = &entry{session: session, addr: addr}
	m.mu.Unlock()

	go session.Run(ctx)

	m.log.Debug("dispatched session", "addr", addr, "nonce", uint64(nonce))
	return nonce, nil
}

// Send delivers cmd to the named session's command channel.
func (m *Map) Send(nonce chain.PeerID, cmd peer.Command) error {
	m.mu.RLock()
	e, ok := m.entries[nonce]
	m.mu.RUnlock()
	if !ok {
		return ErrUnknownPeer
	}
	e.session.Commands() <- cmd
	return nil
}

// Broadcast delivers cmd to every session currently in StateReady.
func (m *Map) Broadcast(cmd peer.Command) {
	for _, s := range m.readySessions() {
		s.Commands() <- cmd
	}
}

// SendRandom picks uniformly among Ready sessions advertising
// wire.SFNodeNetwork and delivers cmd, per spec.md §4.3 send_random.
func (m *Map) SendRandom(cmd peer.Command) error {
	m.mu.RLock()
	var candidates []*peer.Session
	for _, e := range m.entries {
		if e.session.State() == peer.StateReady && e.session.Services()&wire.SFNodeNetwork != 0 {
			candidates = append(candidates, e.session)
		}
	}
	m.mu.RUnlock()
	if len(candidates) == 0 {
		return ErrNoLivePeers
	}
	pick := candidates[rand.Intn(len(candidates))]
	pick.Commands() <- cmd
	return nil
}

// Live returns the count of sessions in StateReady.
func (m *Map) Live() int {
	return len(m.readySessions())
}

func (m *Map) readySessions() []*peer.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*peer.Session, 0, len(m.entries))
	for _, e := range m.entries {
		if e.session.State() == peer.StateReady {
			out = append(out, e.session)
		}
	}
	return out
}

// Clean reaps every session in StateClosed and returns their nonces.
func (m *Map) Clean() []chain.PeerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	var reaped []chain.PeerID
	for nonce, e := range m.entries {
		if e.session.State() == peer.StateClosed {
			reaped = append(reaped, nonce)
			delete(m.entries, nonce)
		}
	}
	return reaped
}

// RecordVersion updates the services/offset recorded against nonce; called
// from node.Node's Version handler once a session's handshake completes.
func (m *Map) RecordVersion(nonce chain.PeerID, services wire.ServiceFlag, offset int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[nonce]; ok {
		e.services = services
		e.timeOffset = offset
	}
}

// Disconnect requests the named session close with reason.
func (m *Map) Disconnect(nonce chain.PeerID, reason string) error {
	m.mu.RLock()
	e, ok := m.entries[nonce]
	m.mu.RUnlock()
	if !ok {
		return ErrUnknownPeer
	}
	e.session.Commands() <- peer.Command{Kind: peer.CmdDisconnect, Reason: reason}
	return nil
}

// CloseAll requests every tracked session disconnect, used on shutdown
// (spec.md §5 Cancellation).
func (m *Map) CloseAll(reason string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		select {
		case e.session.Commands() <- peer.Command{Kind: peer.CmdDisconnect, Reason: reason}:
		case <-time.After(time.Second):
		}
	}
}

// Len returns the total number of tracked sessions, live or not.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
