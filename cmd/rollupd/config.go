package main

import (
	"crypto/ed25519"
	"flag"
	"time"
)

// Config holds the rollupd configuration.
type Config struct {
	// DataPath is the directory for the working copies.
	DataPath string

	// HTTPAddress is the HTTP API listen address.
	HTTPAddress string

	// QUICAddress is the local QUIC listen address.
	QUICAddress string

	// LedgerAddr is the ledgerd bridge address to dial.
	LedgerAddr string

	// KeyPath is the path to the Ed25519 private key file. The BLS commit
	// key is derived from it, so keeping the file keeps the venue key.
	KeyPath string

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// DialTimeout bounds the initial connection to the ledger.
	DialTimeout time.Duration

	// PrivateKey is the node's Ed25519 transport key.
	PrivateKey ed25519.PrivateKey
}

// parseFlags parses command-line flags into Config.
func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.DataPath, "data", "./data/rollupd", "Data directory path")
	flag.StringVar(&cfg.HTTPAddress, "http", ":8081", "HTTP API address")
	flag.StringVar(&cfg.QUICAddress, "quic", ":9001", "QUIC listen address")
	flag.StringVar(&cfg.LedgerAddr, "ledger-addr", "127.0.0.1:9000", "ledgerd QUIC address")
	flag.StringVar(&cfg.KeyPath, "key", "", "Ed25519 private key path (generates new if missing)")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.DurationVar(&cfg.DialTimeout, "dial-timeout", 30*time.Second, "Time to keep retrying the first ledger connection")
	flag.Parse()

	return cfg
}
