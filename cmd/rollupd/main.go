package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"

	"Cassegrain/internal/logger"
	"Cassegrain/internal/network"
)

func main() {
	cfg := parseFlags()
	logger.Init(cfg.LogLevel)

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main entry point with error handling.
func run(cfg *Config) error {
	var err error
	cfg.PrivateKey, err = network.LoadOrGenerateKey(cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("load key:\n%w", err)
	}

	node, err := NewNode(cfg)
	if err != nil {
		return fmt.Errorf("create node:\n%w", err)
	}

	printStartupInfo(cfg, node)

	return node.Run()
}

// printStartupInfo displays node configuration at startup.
func printStartupInfo(cfg *Config, n *Node) {
	pubKey := cfg.PrivateKey.Public().(ed25519.PublicKey)

	logger.Info("starting rollupd",
		"pubkey", hex.EncodeToString(pubKey),
		"venue", n.venue.VenueKey().String(),
		"http", cfg.HTTPAddress,
		"ledger", cfg.LedgerAddr,
		"data", cfg.DataPath,
	)
}
