package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"Cassegrain/internal/api"
	"Cassegrain/internal/bridge"
	"Cassegrain/internal/ledger"
	"Cassegrain/internal/logger"
	"Cassegrain/internal/metrics"
	"Cassegrain/internal/network"
	"Cassegrain/internal/storage"
)

// Node is a running ledgerd process.
type Node struct {
	cfg       *Config
	storage   *storage.Storage
	ledger    *ledger.Ledger
	metrics   *metrics.Metrics
	router    *bridge.Router    // router answers venue requests
	directory *bridge.Directory // directory maps venue keys to connected peers
	network   *network.Node
	api       *api.LedgerServer
}

// NewNode creates and initializes a new node.
func NewNode(cfg *Config) (*Node, error) {
	n := &Node{
		cfg:     cfg,
		metrics: metrics.New("ledgerd"),
	}

	if err := n.initStorage(); err != nil {
		return nil, err
	}

	if err := n.initLedger(); err != nil {
		n.Close()
		return nil, err
	}

	if err := n.initNetwork(); err != nil {
		n.Close()
		return nil, err
	}

	return n, nil
}

// initStorage opens the Pebble store.
func (n *Node) initStorage() error {
	if err := os.MkdirAll(n.cfg.DataPath, 0755); err != nil {
		return fmt.Errorf("create data directory:\n%w", err)
	}

	db, err := storage.New(filepath.Join(n.cfg.DataPath, "db"))
	if err != nil {
		return fmt.Errorf("init storage:\n%w", err)
	}

	n.storage = db

	return nil
}

// initLedger opens the ledger and creates the bootstrap config if requested.
func (n *Node) initLedger() error {
	l, err := ledger.New(n.storage, ledger.SystemClock{}, bridge.Verify)
	if err != nil {
		return fmt.Errorf("init ledger:\n%w", err)
	}

	n.ledger = l

	if n.cfg.Authority == "" {
		return nil
	}

	params, err := n.cfg.bootstrapParams()
	if err != nil {
		return err
	}

	_, err = l.Initialize(params)
	switch {
	case err == nil:
		logger.Info("bootstrap config created", "authority", params.Authority.Short())
	case errors.Is(err, ledger.ErrAlreadyExists):
		logger.Debug("bootstrap config present", "authority", params.Authority.Short())
	default:
		return fmt.Errorf("initialize:\n%w", err)
	}

	return nil
}

// initNetwork creates the QUIC node venues connect to.
func (n *Node) initNetwork() error {
	node, err := network.NewNode(network.Config{
		PrivateKey: n.cfg.PrivateKey,
		ListenAddr: n.cfg.QUICAddress,
	})
	if err != nil {
		return fmt.Errorf("init network:\n%w", err)
	}

	n.network = node

	return nil
}

// setupBridge installs the venue-facing handlers. A venue becomes reachable
// for hand-offs once it announces its key on its connection.
func (n *Node) setupBridge() {
	n.router = bridge.NewRouter(n.metrics)
	n.directory = bridge.NewDirectory()

	bridge.ServeLedger(n.router, n.ledger, n.directory, func(from string) (bridge.Caller, bool) {
		p := n.network.PeerByID(from)
		if p == nil {
			return nil, false
		}
		return p, true
	})

	n.network.OnRequest(func(ctx context.Context, p *network.Peer, data []byte) ([]byte, error) {
		return n.router.Serve(ctx, p.ID(), data), nil
	})

	n.network.OnDisconnect(func(p *network.Peer) {
		n.directory.Forget(p)
		logger.Info("venue disconnected", "peer", p.ID()[:16], "venues", n.directory.Len())
	})
}

// Run starts the node and blocks until shutdown signal.
func (n *Node) Run() error {
	n.setupBridge()

	if err := n.network.Start(); err != nil {
		return fmt.Errorf("start network:\n%w", err)
	}

	n.api = api.NewLedger(n.cfg.HTTPAddress, n.ledger, bridge.NewDispatcher(n.directory, n.metrics), n.metrics)
	if err := n.api.Start(); err != nil {
		return fmt.Errorf("start api:\n%w", err)
	}

	logger.Info("ledger ready", "bridge", n.network.Addr(), "last_seq", n.ledger.LastSeq())

	return n.waitForShutdown()
}

// waitForShutdown blocks until SIGINT or SIGTERM.
func (n *Node) waitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	return n.Close()
}

// Close shuts down all node components gracefully.
func (n *Node) Close() error {
	if n.api != nil {
		n.api.Stop()
	}

	if n.network != nil {
		n.network.Close()
	}

	if n.storage != nil {
		n.storage.Close()
	}

	return nil
}
