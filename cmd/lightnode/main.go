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

// lightnode runs a standalone compact-filter light client: connect to a
// handful of peers, sync headers and filter headers, scan matching filters
// for a caller-supplied ScriptSet, and report matches through the logger
// (stderr). Flags
// follow gopkg.in/urfave/cli.v1, the same CLI library onoy42-go-abey uses.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/btcsuite/btcd/chaincfg"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/abeychain/spvnode/chain"
	"github.com/abeychain/spvnode/internal/log"
	"github.com/abeychain/spvnode/node"
	"github.com/abeychain/spvnode/peer"
	"github.com/abeychain/spvnode/peerdirectory"
	"github.com/abeychain/spvnode/store"
)

var (
	networkFlag = cli.StringFlag{
		Name:  "network",
		Value: "signet",
		Usage: "bitcoin network: mainnet, testnet, signet, regtest",
	}
	dataDirFlag = cli.StringFlag{
		Name:  "datadir",
		Value: "./lightnode-data",
		Usage: "directory for the header and peer stores",
	}
	scriptFlag = cli.StringSliceFlag{
		Name:  "watch",
		Usage: "address to watch, may be repeated",
	}
	anchorHeightFlag = cli.UintFlag{
		Name:  "anchor-height",
		Usage: "override the baked-in anchor checkpoint height",
	}
	requiredPeersFlag = cli.UintFlag{
		Name:  "required-peers",
		Value: 1,
		Usage: "number of peers to maintain before syncing filters",
	}
	torFlag = cli.BoolFlag{
		Name:  "tor",
		Usage: "dial peers through a local Tor SOCKS5 proxy",
	}
	torSocksFlag = cli.StringFlag{
		Name:  "tor-socks-addr",
		Value: "127.0.0.1:9050",
		Usage: "address of the local Tor SOCKS5 proxy",
	}
	haltFiltersFlag = cli.BoolFlag{
		Name:  "halt-filters",
		Usage: "pause after headers sync until a client resumes filter sync",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "lightnode"
	app.Usage = "a BIP157/158 compact block filter light client"
	app.Flags = []cli.Flag{
		networkFlag,
		dataDirFlag,
		scriptFlag,
		anchorHeightFlag,
		requiredPeersFlag,
		torFlag,
		torSocksFlag,
		haltFiltersFlag,
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	params, err := networkParams(ctx.String(networkFlag.Name))
	if err != nil {
		return err
	}

	dataDir := ctx.String(dataDirFlag.Name)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	anchor := chain.ClosestCheckpointBelow(uint32(ctx.Uint(anchorHeightFlag.Name)), *params)

	headerDB, err := store.OpenHeaderDB(filepath.Join(dataDir, "headers"), anchor.Height)
	if err != nil {
		return err
	}
	defer headerDB.Close()

	peerDB, err := store.OpenPeerDB(filepath.Join(dataDir, "peers"))
	if err != nil {
		return err
	}
	defer peerDB.Close()

	scripts, err := chain.NewScriptSet(ctx.StringSlice(scriptFlag.Name), params)
	if err != nil {
		return err
	}

	c, err := chain.NewChain(chain.Config{
		Params:  *params,
		Anchor:  anchor,
		Quorum:  1,
		Scripts: scripts,
		Store:   headerDB,
	})
	if err != nil {
		return err
	}

	directory, err := peerdirectory.New(peerDB, params)
	if err != nil {
		return err
	}

	connType := peer.ConnTCP
	if ctx.Bool(torFlag.Name) {
		connType = peer.ConnTor
	}
	policy := node.PolicyContinue
	if ctx.Bool(haltFiltersFlag.Name) {
		policy = node.PolicyHalt
	}

	cfg := node.Config{
		Network:           network(ctx.String(networkFlag.Name)),
		RequiredPeers:     uint8(ctx.Uint(requiredPeersFlag.Name)),
		Quorum:            1,
		DataPath:          dataDir,
		ConnectionType:    connType,
		TorSocksAddr:      ctx.String(torSocksFlag.Name),
		FilterSyncPolicy:  policy,
		ProtocolVersion:   70015,
		UserAgent:         "/spvnode:0.1.0/",
	}

	n, err := node.New(cfg, *params, c, directory)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	go reportEvents(n)

	return n.Run(runCtx)
}

func reportEvents(n *node.Node) {
	logger := log.New("component", "lightnode")
	for ev := range n.Events() {
		switch ev.Kind {
		case node.EventDialog:
			logger.Info(ev.Dialog)
		case node.EventWarning:
			logger.Warn("warning", "kind", ev.Warning)
		case node.EventProgress:
			logger.Info("progress", "cfheaders", ev.Progress.CFHeaders, "filters", ev.Progress.Filters, "height", ev.Progress.BestHeight)
		case node.EventIndexedFilter:
			if ev.IndexedFilter.Predicate {
				logger.Info("filter matched", "height", ev.IndexedFilter.Height, "hash", ev.IndexedFilter.Hash)
			}
		case node.EventIndexedBlock:
			logger.Info("block indexed", "height", ev.IndexedBlock.Height, "txs", len(ev.IndexedBlock.Transactions))
		case node.EventConnectionsMet:
			logger.Info("connected to all required peers")
		case node.EventSynced:
			logger.Info("synced", "tip", ev.SyncedTip)
		}
	}
}

func network(name string) node.Network {
	switch strings.ToLower(name) {
	case "mainnet":
		return node.NetworkMainnet
	case "testnet":
		return node.NetworkTestnet
	case "regtest":
		return node.NetworkRegtest
	default:
		return node.NetworkSignet
	}
}

func networkParams(name string) (*chaincfg.Params, error) {
	switch strings.ToLower(name) {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("lightnode: unknown network %q", name)
	}
}
