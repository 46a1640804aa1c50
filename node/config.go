package node

import (
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/abeychain/spvnode/chain"
	"github.com/abeychain/spvnode/peer"
)

// Network identifies which btcd chain parameters a Config targets
// (spec.md §6 Configuration options: network).
type Network int

const (
	NetworkMainnet Network = iota
	NetworkTestnet
	NetworkSignet
	NetworkRegtest
)

// TrustedPeer is one whitelist entry (spec.md §4.5 Peer selection, §6).
type TrustedPeer struct {
	Addr string
	Port uint16
}

// SizeConfig bounds the on-disk peer store (spec.md §6 peer_db_size).
type SizeConfig struct {
	MaxRecords int
}

// Config is NodeConfig: every recognized configuration key of spec.md §6,
// validated once at construction rather than threaded through as loose
// functional options (matching the codebase's direct-struct-construction
// configuration style, e.g. abey/config.go).
// AnchorCheckpoint, FilterStartpoint, ReorgWindow, and Scripts are not read
// by Node itself — they are chain.Config's concerns, and the caller must
// have used the same values to build the *chain.Chain passed into New.
// They are kept on Config because spec.md §6 names them as recognized
// Node configuration keys and a caller introspecting Config should see the
// values it was started with.
type Config struct {
	Network           Network
	RequiredPeers     uint8
	Quorum            uint32
	AnchorCheckpoint  *chain.HeaderCheckpoint
	FilterStartpoint  *uint32
	Whitelist         []TrustedPeer
	DataPath          string
	ConnectionType    peer.ConnectionType
	TorSocksAddr      string
	ResponseTimeout   time.Duration
	MaxConnectionTime time.Duration
	PeerDBSize        SizeConfig
	FilterSyncPolicy  FilterSyncPolicy
	Scripts           []string
	ProtocolVersion   uint32
	UserAgent         string
	ReorgWindow       uint32
}

// FilterSyncPolicy is spec.md §4.5 FilterSyncPolicy.
type FilterSyncPolicy int

const (
	PolicyContinue FilterSyncPolicy = iota
	PolicyHalt
)

func (c Config) validate() error {
	if c.RequiredPeers == 0 {
		return errors.New("node: required_peers must be >= 1")
	}
	if c.Quorum == 0 {
		return errors.New("node: quorum must be >= 1")
	}
	if c.Quorum > uint32(c.RequiredPeers) {
		return errors.New("node: quorum cannot exceed required_peers")
	}
	for _, w := range c.Whitelist {
		if w.Addr == "" {
			return errors.New("node: whitelist entry with empty address")
		}
	}
	if c.ConnectionType == peer.ConnTor && c.TorSocksAddr == "" {
		return errors.New("node: connection_type Tor requires a tor_socks_addr")
	}
	return nil
}

// checkNetwork catches a caller mismatch between Config.Network and the
// chaincfg.Params actually handed to New — e.g. Network: NetworkMainnet
// paired with chaincfg.RegressionNetParams.
func (c Config) checkNetwork(net wire.BitcoinNet) error {
	if c.bitcoinNet() != net {
		return errors.New("node: config.network does not match the supplied chaincfg.Params")
	}
	return nil
}

func (c Config) responseTimeout() time.Duration {
	if c.ResponseTimeout > 0 {
		return c.ResponseTimeout
	}
	return 5 * time.Second
}

func (c Config) maxConnectionTime() time.Duration {
	if c.MaxConnectionTime > 0 {
		return c.MaxConnectionTime
	}
	return 2 * time.Hour
}

func (c Config) bitcoinNet() wire.BitcoinNet {
	switch c.Network {
	case NetworkTestnet:
		return wire.TestNet3
	case NetworkSignet:
		return wire.SigNet
	case NetworkRegtest:
		return wire.TestNet
	default:
		return wire.MainNet
	}
}
