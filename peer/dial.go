package peer

import (
	"context"
	"net"

	"golang.org/x/net/proxy"
)

// ConnectionType selects the byte-stream factory used to reach a peer
// (spec.md §6 Configuration: connection_type ∈ {Tcp, Tor}). The transport
// itself is out of core scope; only this small dialing seam belongs here.
type ConnectionType int

const (
	ConnTCP ConnectionType = iota
	ConnTor
)

// Dialer is the byte-stream factory abstraction spec.md §1 calls out as an
// external collaborator — PeerSession only needs something that can open a
// net.Conn to an address.
type Dialer interface {
	DialContext(ctx context.Context, addr string) (net.Conn, error)
}

type tcpDialer struct {
	d net.Dialer
}

func (t *tcpDialer) DialContext(ctx context.Context, addr string) (net.Conn, error) {
	return t.d.DialContext(ctx, "tcp", addr)
}

// torDialer routes connections through a local Tor SOCKS5 proxy using
// golang.org/x/net/proxy, the idiomatic Go way to speak SOCKS5 without
// hand-rolling the handshake.
type torDialer struct {
	socksAddr string
}

func (t *torDialer) DialContext(ctx context.Context, addr string) (net.Conn, error) {
	dialer, err := proxy.SOCKS5("tcp", t.socksAddr, nil, proxy.Direct)
	if err != nil {
		return nil, err
	}
	if ctxDialer, ok := dialer.(proxy.ContextDialer); ok {
		return ctxDialer.DialContext(ctx, "tcp", addr)
	}
	return dialer.Dial("tcp", addr)
}

// NewDialer builds the Dialer for a connection type; torSocksAddr is
// ignored for ConnTCP.
func NewDialer(ct ConnectionType, torSocksAddr string) Dialer {
	if ct == ConnTor {
		return &torDialer{socksAddr: torSocksAddr}
	}
	return &tcpDialer{}
}
