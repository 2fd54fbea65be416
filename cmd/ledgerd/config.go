package main

import (
	"crypto/ed25519"
	"flag"
	"fmt"
	"math"

	"Cassegrain/internal/ledger"
)

// Config holds the ledgerd configuration.
type Config struct {
	// DataPath is the directory for persistent storage.
	DataPath string

	// HTTPAddress is the HTTP API listen address.
	HTTPAddress string

	// QUICAddress is the bridge listen address venues dial.
	QUICAddress string

	// KeyPath is the path to the Ed25519 private key file.
	KeyPath string

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// PrivateKey is the node's Ed25519 transport key.
	PrivateKey ed25519.PrivateKey

	// Authority, when set, initializes its config at startup if missing.
	Authority string

	// RegistrationFee is recorded in the bootstrap config.
	RegistrationFee uint64

	// MaxEvents caps create_event per batch, 0 disables the cap.
	MaxEvents uint

	// MaxProducts is stored in the bootstrap config.
	MaxProducts uint

	// MinInterval is the minimum number of seconds between events of a batch.
	MinInterval int64

	// MaxBatchSize bounds register_batch.
	MaxBatchSize uint
}

// parseFlags parses command-line flags into Config.
func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.DataPath, "data", "./data/ledgerd", "Data directory path")
	flag.StringVar(&cfg.HTTPAddress, "http", ":8080", "HTTP API address")
	flag.StringVar(&cfg.QUICAddress, "quic", ":9000", "QUIC bridge address")
	flag.StringVar(&cfg.KeyPath, "key", "", "Ed25519 private key path (generates new if missing)")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.Authority, "authority", "", "Hex authority whose config is created at startup")
	flag.Uint64Var(&cfg.RegistrationFee, "fee", 0, "Registration fee recorded in the bootstrap config")
	flag.UintVar(&cfg.MaxEvents, "max-events", 0, "Maximum events per batch (0 disables)")
	flag.UintVar(&cfg.MaxProducts, "max-products", 0, "Maximum products per manufacturer")
	flag.Int64Var(&cfg.MinInterval, "min-interval", 0, "Minimum seconds between events of a batch")
	flag.UintVar(&cfg.MaxBatchSize, "max-batch-size", 100, "Maximum batch size")
	flag.Parse()

	return cfg
}

// bootstrapParams converts the bootstrap flags into initialize parameters.
func (c *Config) bootstrapParams() (ledger.InitializeParams, error) {
	authority, err := ledger.ParseHash(c.Authority)
	if err != nil {
		return ledger.InitializeParams{}, fmt.Errorf("parse authority:\n%w", err)
	}

	switch {
	case c.MaxEvents > math.MaxUint32:
		return ledger.InitializeParams{}, fmt.Errorf("max-events %d out of range", c.MaxEvents)
	case c.MaxProducts > math.MaxUint32:
		return ledger.InitializeParams{}, fmt.Errorf("max-products %d out of range", c.MaxProducts)
	case c.MaxBatchSize > math.MaxUint8:
		return ledger.InitializeParams{}, fmt.Errorf("max-batch-size %d out of range", c.MaxBatchSize)
	}

	return ledger.InitializeParams{
		Authority:                  authority,
		RegistrationFee:            c.RegistrationFee,
		MaxEventsPerProduct:        uint32(c.MaxEvents),
		MaxProductsPerManufacturer: uint32(c.MaxProducts),
		MinEventInterval:           c.MinInterval,
		MaxBatchSize:               uint8(c.MaxBatchSize),
	}, nil
}
