// Copyright 2015 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// session.go is grounded on abey/peer.go's peer type: a handshake method,
// a background read loop, and a select-driven write loop that multiplexes
// outbound commands with termination — generalized from the Ethereum wire
// format to Bitcoin's wire.Message framing (btcsuite/btcd/wire), which
// supplies the magic-prefixed envelope and checksum spec.md §4.2 describes
// instead of requiring this package to hand-roll it.
package peer

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	mapset "github.com/deckarep/golang-set"

	"github.com/abeychain/spvnode/chain"
	"github.com/abeychain/spvnode/internal/log"
)

// State is one of {Handshaking, Ready, Closing, Closed} per spec.md §3
// PeerSession state.
type State int32

const (
	StateHandshaking State = iota
	StateReady
	StateClosing
	StateClosed
)

const (
	maxMessageSize    = 32 * 1024 * 1024 // spec.md §4.2 Framing hard cap
	handshakeTimeout  = 5 * time.Second
	cmdQueueSize      = 16
	requiredServices  = wire.SFNodeNetwork | wire.SFNodeCF
)

// Config parameterizes a Session.
type Config struct {
	Net               wire.BitcoinNet
	ProtocolVersion   uint32
	UserAgent         string
	ResponseTimeout   time.Duration
	MaxConnectionTime time.Duration
	// PastBehind reports whether the owning Node has progressed beyond the
	// Behind phase — a peer lacking COMPACT_FILTERS is only disconnected
	// once this is true (spec.md §4.2 Handshake).
	PastBehind func() bool
}

// Session is a single persistent connection to one remote peer. It owns
// the socket and runs its own reader and write-multiplexer; all state
// communicated to node.Node crosses the shared, bounded event channel
// (spec.md §5 Scheduling model).
type Session struct {
	nonce chain.PeerID
	conn  net.Conn
	cfg   Config

	mu          sync.RWMutex
	state       State
	services    wire.ServiceFlag
	timeOffset  int64
	startHeight int32
	startedAt   time.Time
	lastRecv    time.Time

	cmds   chan Command
	events chan<- Event

	knownInv mapset.Set

	log *log.Logger
}

// NewSession wraps an already-dialed connection. nonce is the locally
// generated, per-process-unique value also embedded in this node's outbound
// VERSION message and used by peermap.Map as the session's key.
func NewSession(conn net.Conn, nonce chain.PeerID, cfg Config, events chan<- Event) *Session {
	return &Session{
		nonce:     nonce,
		conn:      conn,
		cfg:       cfg,
		state:     StateHandshaking,
		cmds:      make(chan Command, cmdQueueSize),
		events:    events,
		knownInv:  mapset.NewSet(),
		startedAt: time.Now(),
		log:       log.New("component", "peer", "nonce", uint64(nonce)),
	}
}

func GenerateNonce() chain.PeerID {
	return chain.PeerID(rand.Uint32())
}

func (s *Session) Nonce() chain.PeerID { return s.nonce }

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Commands returns the channel node.Node sends requests to this session on.
func (s *Session) Commands() chan<- Command { return s.cmds }

// Run performs the handshake and then multiplexes the reader and the
// command channel until Disconnect or an I/O error (spec.md §4.2).
func (s *Session) Run(ctx context.Context) {
	defer s.close()

	if err := s.handshake(); err != nil {
		s.log.Debug("handshake failed", "err", err)
		s.emitDisconnect(err.Error())
		return
	}
	s.setState(StateReady)

	readEvents := make(chan Event, 8)
	readErrs := make(chan error, 1)
	go s.readLoop(readEvents, readErrs)

	idle := time.NewTimer(s.responseTimeout())
	defer idle.Stop()
	lifetime := time.NewTimer(s.maxConnectionTime())
	defer lifetime.Stop()

	for {
		select {
		case <-ctx.Done():
			s.emitDisconnect("context canceled")
			return
		case ev := <-readEvents:
			s.touch()
			resetTimer(idle, s.responseTimeout())
			if !s.dispatchInbound(ev) {
				return
			}
		case err := <-readErrs:
			s.emitDisconnect(err.Error())
			return
		case cmd := <-s.cmds:
			if cmd.Kind == CmdDisconnect {
				s.emitDisconnect(cmd.Reason)
				return
			}
			if err := s.sendCommand(cmd); err != nil {
				s.emitDisconnect(err.Error())
				return
			}
		case <-idle.C:
			s.emitDisconnect("response timeout")
			return
		case <-lifetime.C:
			s.emitDisconnect("max connection time exceeded")
			return
		}
	}
}

func (s *Session) dispatchInbound(ev Event) bool {
	switch ev.Kind {
	case EventDisconnect:
		s.emit(ev)
		return false
	default:
		s.emit(ev)
		return true
	}
}

func (s *Session) responseTimeout() time.Duration {
	if s.cfg.ResponseTimeout > 0 {
		return s.cfg.ResponseTimeout
	}
	return 5 * time.Second
}

func (s *Session) maxConnectionTime() time.Duration {
	if s.cfg.MaxConnectionTime > 0 {
		return s.cfg.MaxConnectionTime - time.Since(s.startedAt)
	}
	return 2 * time.Hour
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastRecv = time.Now()
	s.mu.Unlock()
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// handshake executes spec.md §4.2: send VERSION, await peer VERSION, send
// VERACK, await peer VERACK. Disconnects (by returning an error) if the
// peer's services don't meet the post-Behind requirement or its protocol
// version is below baseline.
func (s *Session) handshake() error {
	s.conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer s.conn.SetDeadline(time.Time{})

	ours := wire.NewMsgVersion(
		wire.NewNetAddressIPPort(net.IPv4zero, 0, 0),
		wire.NewNetAddressIPPort(net.IPv4zero, 0, 0),
		uint64(s.nonce),
		0,
	)
	ours.Services = wire.SFNodeNetwork | wire.SFNodeWitness | wire.SFNodeCF
	ours.UserAgent = s.cfg.UserAgent
	ours.ProtocolVersion = int32(s.cfg.ProtocolVersion)
	ours.DisableRelayTx = true

	if err := s.writeMessage(ours); err != nil {
		return err
	}

	msg, err := s.readMessage()
	if err != nil {
		return err
	}
	theirVersion, ok := msg.(*wire.MsgVersion)
	if !ok {
		return fmt.Errorf("expected version, got %T", msg)
	}
	if theirVersion.ProtocolVersion < int32(wire.BIP0111Version) {
		return fmt.Errorf("protocol version %d below baseline", theirVersion.ProtocolVersion)
	}
	if s.cfg.PastBehind != nil && s.cfg.PastBehind() && theirVersion.Services&requiredServices != requiredServices {
		return fmt.Errorf("peer lacks required services")
	}

	s.mu.Lock()
	s.services = theirVersion.Services
	s.timeOffset = theirVersion.Timestamp.Unix() - time.Now().Unix()
	s.startHeight = theirVersion.LastBlock
	s.mu.Unlock()

	if err := s.writeMessage(wire.NewMsgVerAck()); err != nil {
		return err
	}
	for {
		msg, err := s.readMessage()
		if err != nil {
			return err
		}
		if _, ok := msg.(*wire.MsgVerAck); ok {
			break
		}
		// Tolerate interleaved messages (e.g. sendheaders) before verack.
	}

	s.setState(StateReady)
	s.emit(Event{Kind: EventVersion, Peer: s.nonce, Version: theirVersion})
	s.emit(Event{Kind: EventVerAck, Peer: s.nonce})
	return nil
}

func (s *Session) Services() wire.ServiceFlag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.services
}

func (s *Session) TimeOffset() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeOffset
}

// readLoop owns the socket's read half, translating every inbound wire
// message into an Event. PING is answered with PONG locally and never
// surfaced (spec.md §4.2 Keepalive).
func (s *Session) readLoop(events chan<- Event, errs chan<- error) {
	for {
		msg, err := s.readMessage()
		if err != nil {
			if err != io.EOF {
				errs <- err
			} else {
				errs <- fmt.Errorf("connection closed")
			}
			return
		}
		ev, handled := s.translate(msg)
		if !handled {
			continue
		}
		events <- ev
	}
}

func (s *Session) translate(msg wire.Message) (Event, bool) {
	switch m := msg.(type) {
	case *wire.MsgPing:
		_ = s.writeMessage(wire.NewMsgPong(m.Nonce))
		return Event{}, false
	case *wire.MsgPong:
		return Event{}, false
	case *wire.MsgAddr:
		return Event{Kind: EventAddr, Peer: s.nonce, Addrs: m.AddrList}, true
	case *wire.MsgHeaders:
		headers := make([]wire.BlockHeader, len(m.Headers))
		for i, h := range m.Headers {
			headers[i] = *h
		}
		return Event{Kind: EventHeaders, Peer: s.nonce, Headers: headers}, true
	case *wire.MsgCFHeaders:
		hashes := make([]chainhash.Hash, len(m.FilterHashes))
		for i, h := range m.FilterHashes {
			hashes[i] = *h
		}
		return Event{Kind: EventFilterHeaders, Peer: s.nonce, FilterHeaders: chain.FilterHeaderBatch{
			PrevFilterHeader: m.PrevFilterHeader,
			FilterHashes:     hashes,
		}}, true
	case *wire.MsgCFilter:
		return Event{Kind: EventFilter, Peer: s.nonce, Filter: FilterPayload{
			BlockHash:   m.BlockHash,
			FilterBytes: m.Data,
		}}, true
	case *wire.MsgBlock:
		return Event{Kind: EventBlock, Peer: s.nonce, Block: m, BlockHash: m.BlockHash()}, true
	case *wire.MsgInv:
		return Event{Kind: EventInv, Peer: s.nonce, Inv: m.InvList}, true
	default:
		// Unknown command IDs are silently dropped (spec.md §4.2 Framing).
		return Event{}, false
	}
}

func (s *Session) sendCommand(cmd Command) error {
	switch cmd.Kind {
	case CmdGetHeaders:
		gh := wire.NewMsgGetHeaders()
		gh.ProtocolVersion = s.cfg.ProtocolVersion
		gh.HashStop = cmd.Stop
		for _, h := range cmd.Locators {
			hc := h
			gh.AddBlockLocatorHash(&hc)
		}
		return s.writeMessage(gh)
	case CmdGetFilterHeaders:
		gfh := wire.NewMsgGetCFHeaders(wire.GCSFilterRegular, cmd.StartHeight, &cmd.StopHash)
		return s.writeMessage(gfh)
	case CmdGetFilters:
		gf := wire.NewMsgGetCFilters(wire.GCSFilterRegular, cmd.StartHeight, &cmd.StopHash)
		return s.writeMessage(gf)
	case CmdGetBlock:
		gd := wire.NewMsgGetData()
		_ = gd.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, &cmd.BlockHash))
		return s.writeMessage(gd)
	case CmdGetAddr:
		return s.writeMessage(wire.NewMsgGetAddr())
	default:
		return nil
	}
}

func (s *Session) readMessage() (wire.Message, error) {
	s.conn.SetReadDeadline(time.Now().Add(s.responseTimeout() * 2))
	msg, _, err := wire.ReadMessage(s.conn, s.cfg.ProtocolVersion, s.cfg.Net)
	return msg, err
}

func (s *Session) writeMessage(msg wire.Message) error {
	return wire.WriteMessage(s.conn, msg, s.cfg.ProtocolVersion, s.cfg.Net)
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		// The shared event channel is bounded and back-pressures the
		// producing session on purpose (spec.md §5 Resource policy): block
		// instead of dropping so a burst peer stalls itself, not the node.
		s.events <- ev
	}
}

func (s *Session) emitDisconnect(reason string) {
	s.setState(StateClosing)
	s.emit(Event{Kind: EventDisconnect, Peer: s.nonce, DisconnectReason: reason})
}

func (s *Session) close() {
	s.setState(StateClosed)
	s.conn.Close()
}
