package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"Cassegrain/internal/api"
	"Cassegrain/internal/bridge"
	"Cassegrain/internal/ledger"
	"Cassegrain/internal/logger"
	"Cassegrain/internal/metrics"
	"Cassegrain/internal/network"
	"Cassegrain/internal/rollup"
	"Cassegrain/internal/storage"
)

const (
	// announceTimeout bounds one Hello round trip.
	announceTimeout = 10 * time.Second

	// dialRetryDelay is the pause between initial connection attempts.
	dialRetryDelay = 2 * time.Second
)

// Node is a running rollupd process.
type Node struct {
	cfg     *Config
	storage *storage.Storage
	signer  *bridge.Signer
	metrics *metrics.Metrics
	router  *bridge.Router // router answers ledger requests
	link    *ledgerLink    // link reaches the ledger across reconnects
	network *network.Node
	venue   *rollup.Venue
	api     *api.RollupServer
}

// NewNode creates and initializes a new node.
func NewNode(cfg *Config) (*Node, error) {
	signer, err := bridge.DeriveSigner(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("derive venue key:\n%w", err)
	}

	n := &Node{
		cfg:     cfg,
		signer:  signer,
		metrics: metrics.New("rollupd"),
	}

	if err := n.initStorage(); err != nil {
		return nil, err
	}

	if err := n.initNetwork(); err != nil {
		n.Close()
		return nil, err
	}

	if err := n.initVenue(); err != nil {
		n.Close()
		return nil, err
	}

	return n, nil
}

// initStorage opens the Pebble store holding the working copies.
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

// initNetwork creates the QUIC node that dials the ledger.
func (n *Node) initNetwork() error {
	node, err := network.NewNode(network.Config{
		PrivateKey: n.cfg.PrivateKey,
		ListenAddr: n.cfg.QUICAddress,
	})
	if err != nil {
		return fmt.Errorf("init network:\n%w", err)
	}

	n.network = node
	n.link = &ledgerLink{network: node}

	return nil
}

// initVenue opens the venue, resuming any sessions left in storage.
func (n *Node) initVenue() error {
	v, err := rollup.New(n.storage, ledger.SystemClock{}, n.signer, bridge.NewCommitSender(n.link, n.metrics), n.metrics)
	if err != nil {
		return fmt.Errorf("init venue:\n%w", err)
	}

	n.venue = v
	n.router = bridge.NewRouter(n.metrics)
	v.Register(n.router)

	return nil
}

// setupBridge answers hand-offs from the ledger and re-announces the venue
// key whenever the ledger connection is re-established.
func (n *Node) setupBridge() {
	n.network.OnRequest(func(ctx context.Context, p *network.Peer, data []byte) ([]byte, error) {
		if p.ID() != n.link.id() {
			return nil, fmt.Errorf("request from unknown peer %s", p.ID()[:16])
		}
		return n.router.Serve(ctx, p.ID(), data), nil
	})

	n.network.OnConnect(func(p *network.Peer) {
		if p.ID() != n.link.id() {
			return
		}
		go n.announce()
	})
}

// connectLedger dials the ledger until it answers or the dial timeout ends.
func (n *Node) connectLedger() error {
	deadline := time.Now().Add(n.cfg.DialTimeout)

	for {
		peer, err := n.network.Connect(n.cfg.LedgerAddr)
		if err == nil {
			n.link.bind(peer.ID())
			logger.Info("connected to ledger", "addr", peer.Address())
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("connect ledger %s:\n%w", n.cfg.LedgerAddr, err)
		}

		logger.Debug("retrying ledger connection", "addr", n.cfg.LedgerAddr, "error", err)
		time.Sleep(dialRetryDelay)
	}
}

// announce sends the venue key so the ledger can route hand-offs here.
func (n *Node) announce() {
	ctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
	defer cancel()

	if err := bridge.Announce(ctx, n.link, n.signer); err != nil {
		logger.Warn("venue announce failed", "error", err)
		return
	}

	logger.Info("venue announced", "venue", n.signer.VenueKey().String()[:16])
}

// Run starts the node and blocks until shutdown signal.
func (n *Node) Run() error {
	n.setupBridge()

	if err := n.network.Start(); err != nil {
		return fmt.Errorf("start network:\n%w", err)
	}

	if err := n.connectLedger(); err != nil {
		n.Close()
		return err
	}

	n.announce()

	n.api = api.NewRollup(n.cfg.HTTPAddress, n.venue, n.metrics)
	if err := n.api.Start(); err != nil {
		return fmt.Errorf("start api:\n%w", err)
	}

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

// ledgerLink is a bridge caller that resolves the current ledger connection
// on every request, so commits survive a redial.
type ledgerLink struct {
	network *network.Node
	mu      sync.RWMutex
	peerID  string // peerID is the ledger's hex public key
}

// bind records the ledger's identity.
func (l *ledgerLink) bind(id string) {
	l.mu.Lock()
	l.peerID = id
	l.mu.Unlock()
}

// id returns the ledger's identity, or "" before the first connection.
func (l *ledgerLink) id() string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.peerID
}

// Request sends data to the ledger over its current connection.
func (l *ledgerLink) Request(ctx context.Context, data []byte) ([]byte, error) {
	p := l.network.PeerByID(l.id())
	if p == nil {
		return nil, fmt.Errorf("ledger not connected")
	}

	return p.Request(ctx, data)
}
