package ledger

import (
	"errors"
	"testing"
)

// TestRegisterBatchIdempotent verifies every valid size registers once and
// repeated calls leave the record unchanged.
func TestRegisterBatchIdempotent(t *testing.T) {
	env := newTestLedger(t)
	env.setup(t, 0)

	for size := uint8(1); size <= 10; size++ {
		id := testHash(size)
		first := env.batch(t, id, size)

		if first.Status != StatusCreated || first.TotalEvents != 0 || first.BatchSize != size {
			t.Fatalf("size %d: unexpected batch %+v", size, first)
		}

		env.clock.advance(100)

		meta := "changed"
		again, created, err := env.ledger.RegisterBatch(RegisterBatchParams{
			Authority: env.authority,
			Signer:    env.maker,
			BatchID:   id,
			Metadata:  &meta,
			Category:  CategoryFood,
			BatchSize: 1,
		})
		if err != nil {
			t.Fatalf("size %d: repeat register: %v", size, err)
		}
		if created {
			t.Errorf("size %d: repeat reported created", size)
		}

		stored, err := env.ledger.Batch(id)
		if err != nil {
			t.Fatalf("read batch: %v", err)
		}
		if stored.BatchSize != size || stored.Category != CategoryElectronics || stored.Metadata != nil ||
			stored.LastUpdated != first.LastUpdated {
			t.Errorf("size %d: record changed by repeat: %+v", size, stored)
		}
		if again.BatchSize != size {
			t.Errorf("size %d: repeat returned %+v", size, again)
		}
	}
}

// TestRegisterBatchSizeBounds verifies sizes outside [1, max] fail validation.
func TestRegisterBatchSizeBounds(t *testing.T) {
	env := newTestLedger(t)
	env.setup(t, 0)

	for _, size := range []uint8{0, 11, 255} {
		_, _, err := env.ledger.RegisterBatch(RegisterBatchParams{
			Authority: env.authority,
			Signer:    env.maker,
			BatchID:   testHash(0x01),
			BatchSize: size,
		})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("size %d: got %v, want ErrInvalidInput", size, err)
		}
	}
}

// TestRegisterBatchRequiresVerified verifies unverified manufacturers are rejected as unauthorized.
func TestRegisterBatchRequiresVerified(t *testing.T) {
	env := newTestLedger(t)
	env.setup(t, 0)

	pending := testHash(0xB5)
	env.registerMaker(t, pending, false)

	_, _, err := env.ledger.RegisterBatch(RegisterBatchParams{
		Authority: env.authority,
		Signer:    pending,
		BatchID:   testHash(0x01),
		BatchSize: 1,
	})
	if !errors.Is(err, ErrNotVerified) || !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("got %v, want ErrNotVerified", err)
	}
	if Retryable(err) {
		t.Error("unauthorized reported retryable")
	}
}

// TestCreateEventCountsAndTimestamps verifies total_events tracks successful
// calls and timestamps never decrease.
func TestCreateEventCountsAndTimestamps(t *testing.T) {
	env := newTestLedger(t)
	env.setup(t, 0)
	batchID := testHash(0x01)
	env.batch(t, batchID, 5)

	var last int64
	for i := 1; i <= 6; i++ {
		if i%2 == 0 {
			env.clock.advance(3)
		}

		ev, err := env.event(batchID, testHash(byte(0x10+i)), EventLocationUpdate)
		if err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
		if ev.Timestamp < last {
			t.Errorf("event %d timestamp %d before %d", i, ev.Timestamp, last)
		}
		last = ev.Timestamp

		if ev.VerificationStatus != VerificationPending || ev.NextEvent != nil || ev.Actor != env.maker {
			t.Errorf("event %d: unexpected record %+v", i, ev)
		}

		b, _ := env.ledger.Batch(batchID)
		if int(b.TotalEvents) != i || b.LastUpdated != ev.Timestamp {
			t.Errorf("after %d events: total=%d last_updated=%d", i, b.TotalEvents, b.LastUpdated)
		}
		if b.EventChainHead == nil || *b.EventChainHead != ev.EventID {
			t.Errorf("event %d: chain head not advanced", i)
		}
	}
}

// TestCreateEventRateLimit verifies the first event is never limited, and
// later events within the interval are.
func TestCreateEventRateLimit(t *testing.T) {
	env := newTestLedger(t)
	env.setup(t, 60)
	batchID := testHash(0x01)
	env.batch(t, batchID, 5)

	if _, err := env.event(batchID, testHash(0x11), EventManufactured); err != nil {
		t.Fatalf("first event: %v", err)
	}

	env.clock.advance(59)

	_, err := env.event(batchID, testHash(0x12), EventQualityCheck)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second event inside interval: got %v, want ErrRateLimited", err)
	}
	if !Retryable(err) || Kind(err) != "RateLimited" {
		t.Errorf("rate limit taxonomy: retryable=%v kind=%s", Retryable(err), Kind(err))
	}

	b, _ := env.ledger.Batch(batchID)
	if b.TotalEvents != 1 {
		t.Errorf("rejected event changed total_events to %d", b.TotalEvents)
	}
	if _, err := env.ledger.Event(testHash(0x12)); !errors.Is(err, ErrNotFound) {
		t.Errorf("rejected event stored: %v", err)
	}

	env.clock.advance(1)

	if _, err := env.event(batchID, testHash(0x12), EventQualityCheck); err != nil {
		t.Errorf("event at interval boundary: %v", err)
	}
}

// TestCreateEventFirstEventUnlimited verifies the interval is not applied to
// the first event even when it lands in the same second as the batch.
func TestCreateEventFirstEventUnlimited(t *testing.T) {
	env := newTestLedger(t)
	env.setup(t, 60)
	batchID := testHash(0x01)
	env.batch(t, batchID, 5)

	if _, err := env.event(batchID, testHash(0x11), EventManufactured); err != nil {
		t.Fatalf("first event: %v", err)
	}

	env.clock.advance(60)

	if _, err := env.event(batchID, testHash(0x12), EventPackaged); err != nil {
		t.Fatalf("second event: %v", err)
	}

	env.clock.advance(10)

	if _, err := env.event(batchID, testHash(0x13), EventShipped); !errors.Is(err, ErrRateLimited) {
		t.Errorf("third event: got %v, want ErrRateLimited", err)
	}
}

// TestCreateEventAuthorization verifies only the batch manufacturer may append.
func TestCreateEventAuthorization(t *testing.T) {
	env := newTestLedger(t)
	env.setup(t, 0)
	batchID := testHash(0x01)
	env.batch(t, batchID, 5)

	intruder := testHash(0xEE)
	env.registerMaker(t, intruder, true)

	_, err := env.ledger.CreateEvent(CreateEventParams{
		Authority: env.authority,
		Signer:    intruder,
		BatchID:   batchID,
		EventID:   testHash(0x11),
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}

	b, _ := env.ledger.Batch(batchID)
	if b.TotalEvents != 0 {
		t.Errorf("total_events = %d after rejected event", b.TotalEvents)
	}
}

// TestCreateEventValidation verifies malformed input fails before any mutation.
func TestCreateEventValidation(t *testing.T) {
	env := newTestLedger(t)
	env.setup(t, 0)
	batchID := testHash(0x01)
	env.batch(t, batchID, 5)

	long := "ipfs://this-pointer-is-longer-than-32-bytes"
	_, err := env.ledger.CreateEvent(CreateEventParams{
		Authority: env.authority,
		Signer:    env.maker,
		BatchID:   batchID,
		EventID:   testHash(0x11),
		Metadata:  &long,
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("long metadata: got %v", err)
	}

	if _, err := env.event(testHash(0x77), testHash(0x11), EventManufactured); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown batch: got %v", err)
	}

	if _, err := env.event(batchID, testHash(0x11), EventType(99)); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("bad event type: got %v", err)
	}

	if _, err := env.event(batchID, testHash(0x11), EventManufactured); err != nil {
		t.Fatalf("valid event: %v", err)
	}
	if _, err := env.event(batchID, testHash(0x11), EventManufactured); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate event: got %v", err)
	}
}

// TestCreateEventCap verifies max_events_per_product bounds durable appends.
func TestCreateEventCap(t *testing.T) {
	env := newTestLedger(t)

	_, err := env.ledger.Initialize(InitializeParams{Authority: env.authority, MaxBatchSize: 10, MaxEventsPerProduct: 2})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	env.registerMaker(t, env.maker, true)

	batchID := testHash(0x01)
	env.batch(t, batchID, 5)

	for i := 0; i < 2; i++ {
		if _, err := env.event(batchID, testHash(byte(0x11+i)), EventLocationUpdate); err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
	}

	if _, err := env.event(batchID, testHash(0x13), EventLocationUpdate); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("event past cap: got %v, want ErrInvalidInput", err)
	}
}

// TestCreateEventNotification verifies EventCreated carries the literal field set.
func TestCreateEventNotification(t *testing.T) {
	env := newTestLedger(t)
	env.setup(t, 0)
	batchID, eventID := testHash(0x01), testHash(0x11)
	env.batch(t, batchID, 5)

	start := env.ledger.LastSeq()

	ev, err := env.event(batchID, eventID, EventManufactured)
	if err != nil {
		t.Fatalf("create event: %v", err)
	}

	notes, err := env.ledger.Notifications(start, 0)
	if err != nil {
		t.Fatalf("read notifications: %v", err)
	}
	if len(notes) != 1 || notes[0].Kind != NotifyEventCreated {
		t.Fatalf("unexpected notifications: %+v", notes)
	}

	got := *notes[0].EventCreated
	want := EventCreated{EventID: eventID, BatchID: batchID, EventType: EventManufactured, Actor: env.maker, Timestamp: ev.Timestamp}
	if got != want {
		t.Errorf("body = %+v, want %+v", got, want)
	}
}
