package main

import (
	"strings"
	"testing"
)

// TestBootstrapParams tests the conversion of the bootstrap flags.
func TestBootstrapParams(t *testing.T) {
	cfg := &Config{
		Authority:    strings.Repeat("a0", 32),
		MaxEvents:    50,
		MinInterval:  60,
		MaxBatchSize: 20,
	}

	p, err := cfg.bootstrapParams()
	if err != nil {
		t.Fatalf("bootstrap params: %v", err)
	}
	if p.Authority[0] != 0xA0 || p.MaxEventsPerProduct != 50 || p.MaxBatchSize != 20 || p.MinEventInterval != 60 {
		t.Errorf("params: %+v", p)
	}

	cfg.MaxBatchSize = 256
	if _, err := cfg.bootstrapParams(); err == nil {
		t.Error("oversize max-batch-size accepted")
	}

	cfg.MaxBatchSize = 20
	cfg.Authority = "a0"
	if _, err := cfg.bootstrapParams(); err == nil {
		t.Error("short authority accepted")
	}
}
