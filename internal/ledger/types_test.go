package ledger

import (
	"encoding/json"
	"errors"
	"testing"
)

// TestBatchEncodingOptionals verifies optional fields survive both presence states.
func TestBatchEncodingOptionals(t *testing.T) {
	meta := "ipfs://Qm"
	head := testHash(0x42)

	for _, in := range []BatchLedger{
		{BatchID: testHash(1), ManufacturerName: "Acme", Status: StatusShipped, TotalEvents: 3, BatchSize: 4},
		{BatchID: testHash(2), Metadata: &meta, EventChainHead: &head, IsAuthentic: true, Salt: DerivationSalt},
	} {
		data, _ := in.MarshalBinary()

		var out BatchLedger
		if err := out.UnmarshalBinary(data); err != nil {
			t.Fatalf("decode: %v", err)
		}

		if (in.Metadata == nil) != (out.Metadata == nil) || (in.EventChainHead == nil) != (out.EventChainHead == nil) {
			t.Fatalf("presence lost: %+v", out)
		}
		if in.Metadata != nil && *out.Metadata != meta {
			t.Errorf("metadata = %q", *out.Metadata)
		}
		if in.EventChainHead != nil && *out.EventChainHead != head {
			t.Errorf("head = %s", out.EventChainHead)
		}
		if out.Status != in.Status || out.TotalEvents != in.TotalEvents || out.Salt != in.Salt {
			t.Errorf("decoded %+v, want %+v", out, in)
		}
	}
}

// TestDecodeRejectsWrongKind verifies a record cannot be decoded as another kind.
func TestDecodeRejectsWrongKind(t *testing.T) {
	cfg := &Config{Authority: testHash(1), MaxBatchSize: 3}
	data, _ := cfg.MarshalBinary()

	var b BatchLedger
	if err := b.UnmarshalBinary(data); err == nil {
		t.Fatal("config decoded as batch")
	}

	var c Config
	if err := c.UnmarshalBinary(append(data, 0)); err == nil {
		t.Fatal("trailing byte accepted")
	}
}

// TestJSONNames verifies hashes and enums are rendered for API clients.
func TestJSONNames(t *testing.T) {
	ev := ProductEvent{EventID: testHash(0xAB), EventType: EventCustomsCleared, OrderStatus: OrderRefunded}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw["event_type"] != "CustomsCleared" || raw["order_status"] != "Refunded" {
		t.Errorf("enum names: %v %v", raw["event_type"], raw["order_status"])
	}
	if raw["event_id"] != testHash(0xAB).String() {
		t.Errorf("event_id = %v", raw["event_id"])
	}
	if _, ok := raw["metadata"]; ok {
		t.Error("absent metadata rendered")
	}

	var back ProductEvent
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.EventType != EventCustomsCleared || back.EventID != ev.EventID {
		t.Errorf("json round trip: %+v", back)
	}
}

// TestParseHash verifies length and encoding checks.
func TestParseHash(t *testing.T) {
	if _, err := ParseHash("abcd"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("short hash: %v", err)
	}
	if _, err := ParseHash("zz"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("non-hex: %v", err)
	}

	h := testHash(0x5A)
	got, err := ParseHash(h.String())
	if err != nil || got != h {
		t.Errorf("ParseHash(%s) = %s, %v", h, got, err)
	}
}

// TestKeysAreNamespaced verifies identical ids derive distinct keys per record kind.
func TestKeysAreNamespaced(t *testing.T) {
	id := testHash(0x01)

	keys := map[Hash]string{}
	for name, k := range map[string]Hash{
		"config":       ConfigKey(id),
		"manufacturer": ManufacturerKey(id),
		"batch":        BatchKey(id),
		"event":        EventKey(id),
	} {
		if other, dup := keys[k]; dup {
			t.Errorf("%s and %s share a key", name, other)
		}
		keys[k] = name
	}

	if BatchKey(id) != BatchKey(testHash(0x01)) {
		t.Error("key derivation not deterministic")
	}
}
