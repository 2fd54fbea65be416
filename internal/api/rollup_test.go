package api

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"testing"

	"Cassegrain/internal/bridge"
	"Cassegrain/internal/ledger"
	"Cassegrain/internal/rollup"
)

// recordingSink stores commits and answers with err.
type recordingSink struct {
	mu      sync.Mutex
	commits []*ledger.Commit
	err     error
}

func (s *recordingSink) SubmitCommit(_ context.Context, c *ledger.Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	s.commits = append(s.commits, c)

	return nil
}

// rollupAPI is a rollupd server holding one pair.
type rollupAPI struct {
	handler http.Handler
	venue   *rollup.Venue
	sink    *recordingSink
	maker   ledger.Hash
	batchID ledger.Hash
	eventID ledger.Hash
}

// newRollupAPI creates a venue that already holds batch 0x01 and event 0x11.
func newRollupAPI(t *testing.T) *rollupAPI {
	t.Helper()

	signer, err := bridge.SignerFromSeed(bytes.Repeat([]byte{3}, 32))
	if err != nil {
		t.Fatalf("signer: %v", err)
	}

	sink := &recordingSink{}

	v, err := rollup.New(openStorage(t), &testClock{now: 1_700_000_100}, signer, sink, nil)
	if err != nil {
		t.Fatalf("new venue: %v", err)
	}

	a := &rollupAPI{
		handler: NewRollup(":0", v, nil).Handler(),
		venue:   v,
		sink:    sink,
		maker:   testHash(0xB0),
		batchID: testHash(0x01),
		eventID: testHash(0x11),
	}

	err = v.Accept(&ledger.Handoff{
		BatchID: a.batchID,
		EventID: a.eventID,
		Nonce:   1,
		Venue:   v.VenueKey(),
		Owner:   a.maker,
		Batch: ledger.BatchLedger{
			BatchID:          a.batchID,
			ManufacturerName: "Acme Parts",
			Status:           ledger.StatusCreated,
			CreatedAt:        1_700_000_000,
			LastUpdated:      1_700_000_000,
			Manufacturer:     a.maker,
			TotalEvents:      1,
			BatchSize:        5,
		},
		Event: ledger.ProductEvent{
			EventID:     a.eventID,
			BatchID:     a.batchID,
			EventType:   ledger.EventManufactured,
			Actor:       a.maker,
			Timestamp:   1_700_000_000,
			OrderStatus: ledger.OrderConfirmed,
		},
	})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	return a
}

// TestVenueKey tests that the venue publishes its delegation key.
func TestVenueKey(t *testing.T) {
	a := newRollupAPI(t)

	rec := do(t, a.handler, http.MethodGet, "/venue", nil)
	expectStatus(t, rec, http.StatusOK)

	var body struct {
		Venue ledger.VenueKey `json:"venue"`
	}
	decodeJSON(t, rec, &body)

	if body.Venue != a.venue.VenueKey() {
		t.Error("published key does not match the venue")
	}
}

// TestRollupUpdateCommitRelease tests a full session over HTTP.
func TestRollupUpdateCommitRelease(t *testing.T) {
	a := newRollupAPI(t)

	rec := do(t, a.handler, http.MethodPost, "/updates", map[string]any{
		"signer":             a.maker.String(),
		"batch_id":           a.batchID.String(),
		"event_id":           a.eventID.String(),
		"new_product_status": "Shipped",
		"new_order_status":   "Shipped",
		"metadata":           "dock 4",
	})
	expectStatus(t, rec, http.StatusOK)

	var session rollup.Session
	decodeJSON(t, rec, &session)
	if session.Batch.Status != ledger.StatusShipped || session.Batch.TotalEvents != 2 {
		t.Errorf("batch: status %s, total %d", session.Batch.Status, session.Batch.TotalEvents)
	}
	if session.Event.Metadata == nil || *session.Event.Metadata != "dock 4" {
		t.Error("metadata not applied to the event")
	}
	if len(session.Pending) != 1 || session.Pending[0].OrderStatus != ledger.OrderShipped {
		t.Errorf("pending: %+v", session.Pending)
	}

	rec = do(t, a.handler, http.MethodPost, "/commits", map[string]any{
		"batch_id": a.batchID.String(),
		"event_id": a.eventID.String(),
	})
	expectStatus(t, rec, http.StatusOK)

	session = rollup.Session{}
	decodeJSON(t, rec, &session)
	if session.Sequence != 1 || len(session.Pending) != 0 {
		t.Errorf("after commit: sequence %d, pending %d", session.Sequence, len(session.Pending))
	}
	if len(a.sink.commits) != 1 || len(a.sink.commits[0].Updates) != 1 || a.sink.commits[0].Release {
		t.Fatal("checkpoint not submitted")
	}

	rec = do(t, a.handler, http.MethodGet, "/batches/"+a.batchID.String(), nil)
	expectStatus(t, rec, http.StatusOK)

	var batch ledger.BatchLedger
	decodeJSON(t, rec, &batch)
	if batch.Status != ledger.StatusShipped {
		t.Errorf("held batch status: %s", batch.Status)
	}

	rec = do(t, a.handler, http.MethodGet, "/events/"+a.eventID.String(), nil)
	expectStatus(t, rec, http.StatusOK)

	rec = do(t, a.handler, http.MethodPost, "/undelegations", map[string]any{
		"signer":   testHash(0xB1).String(),
		"batch_id": a.batchID.String(),
		"event_id": a.eventID.String(),
	})
	expectStatus(t, rec, http.StatusForbidden)

	rec = do(t, a.handler, http.MethodPost, "/undelegations", map[string]any{
		"signer":   a.maker.String(),
		"batch_id": a.batchID.String(),
		"event_id": a.eventID.String(),
	})
	expectStatus(t, rec, http.StatusOK)

	if len(a.sink.commits) != 2 || !a.sink.commits[1].Release || a.sink.commits[1].Sequence != 2 {
		t.Fatal("release commit not submitted")
	}

	rec = do(t, a.handler, http.MethodGet, "/batches/"+a.batchID.String(), nil)
	expectStatus(t, rec, http.StatusNotFound)
}

// TestRollupUpdateErrors tests rejected patches.
func TestRollupUpdateErrors(t *testing.T) {
	a := newRollupAPI(t)

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"not owner", map[string]any{
			"signer":   testHash(0xB1).String(),
			"batch_id": a.batchID.String(),
			"event_id": a.eventID.String(),
		}, http.StatusForbidden},
		{"not held", map[string]any{
			"signer":   a.maker.String(),
			"batch_id": testHash(0x02).String(),
			"event_id": a.eventID.String(),
		}, http.StatusNotFound},
		{"wrong event", map[string]any{
			"signer":   a.maker.String(),
			"batch_id": a.batchID.String(),
			"event_id": testHash(0x12).String(),
		}, http.StatusBadRequest},
		{"unknown status", map[string]any{
			"signer":             a.maker.String(),
			"batch_id":           a.batchID.String(),
			"event_id":           a.eventID.String(),
			"new_product_status": "Teleported",
		}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, a.handler, http.MethodPost, "/updates", tt.body)
			expectStatus(t, rec, tt.want)
		})
	}
}

// TestRollupCommitRejected tests that a refused commit keeps the pending updates.
func TestRollupCommitRejected(t *testing.T) {
	a := newRollupAPI(t)
	a.sink.err = ledger.ErrStaleCommit

	rec := do(t, a.handler, http.MethodPost, "/updates", map[string]any{
		"signer":         a.maker.String(),
		"batch_id":       a.batchID.String(),
		"event_id":       a.eventID.String(),
		"new_event_type": "Packaged",
	})
	expectStatus(t, rec, http.StatusOK)

	rec = do(t, a.handler, http.MethodPost, "/commits", map[string]any{
		"batch_id": a.batchID.String(),
		"event_id": a.eventID.String(),
	})
	expectStatus(t, rec, http.StatusConflict)

	s, err := a.venue.Session(a.batchID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if len(s.Pending) != 1 || s.Sequence != 0 {
		t.Errorf("after rejected commit: pending %d, sequence %d", len(s.Pending), s.Sequence)
	}
}
