package rollup

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"Cassegrain/internal/bridge"
	"Cassegrain/internal/ledger"
	"Cassegrain/internal/storage"
)

// testClock is a settable clock shared by both sides.
type testClock struct {
	now int64
}

func (c *testClock) Now() int64 { return c.now }

// failingSink rejects every commit.
type failingSink struct{}

func (failingSink) SubmitCommit(context.Context, *ledger.Commit) error {
	return ledger.ErrStaleCommit
}

// lostReplySink forwards commits to the ledger and then reports a transport
// failure for the first drops replies, as if the answer never arrived.
type lostReplySink struct {
	next  CommitSink
	drops int
}

func (s *lostReplySink) SubmitCommit(ctx context.Context, c *ledger.Commit) error {
	if err := s.next.SubmitCommit(ctx, c); err != nil {
		return err
	}
	if s.drops > 0 {
		s.drops--
		return errors.New("connection reset")
	}
	return nil
}

// lostReplyDeliverer hands the snapshot to the venue and then reports a
// transport failure.
type lostReplyDeliverer struct {
	next ledger.Deliverer
}

func (d lostReplyDeliverer) Deliver(ctx context.Context, h *ledger.Handoff) error {
	if err := d.next.Deliver(ctx, h); err != nil {
		return err
	}
	return errors.New("connection reset")
}

// testEnv wires a ledger and a venue through in-process bridge callers.
type testEnv struct {
	ledger    *ledger.Ledger
	venue     *Venue
	clock     *testClock
	authority ledger.Hash
	maker     ledger.Hash
	batchID   ledger.Hash
	eventID   ledger.Hash
	handoff   *ledger.Handoff
	deliverer ledger.Deliverer   // deliverer reaches the venue through the bridge
	delegate  func(t *testing.T) // delegate hands the pair to the venue
}

// testHash returns a hash filled with b.
func testHash(b byte) ledger.Hash {
	var h ledger.Hash
	for i := range h {
		h[i] = b
	}
	return h
}

// openStorage opens an in-memory store closed with the test.
func openStorage(t *testing.T) *storage.Storage {
	t.Helper()

	db, err := storage.NewInMemory()
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

// newTestEnv builds a ledger with batch B (size 5) and event E1, and a venue
// announced to it. The pair is not yet delegated.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		clock:     &testClock{now: 1_700_000_000},
		authority: testHash(0xA0),
		maker:     testHash(0xB0),
		batchID:   testHash(0x01),
		eventID:   testHash(0x11),
	}

	l, err := ledger.New(openStorage(t), env.clock, bridge.Verify)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	env.ledger = l

	signer, err := bridge.SignerFromSeed(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatalf("signer: %v", err)
	}

	ledgerRouter := bridge.NewRouter(nil)
	venueRouter := bridge.NewRouter(nil)
	toVenue := &bridge.Local{Router: venueRouter, From: "ledger"}
	toLedger := &bridge.Local{Router: ledgerRouter, From: "venue"}

	dir := bridge.NewDirectory()
	bridge.ServeLedger(ledgerRouter, l, dir, func(string) (bridge.Caller, bool) {
		return toVenue, true
	})

	v, err := New(openStorage(t), env.clock, signer, bridge.NewCommitSender(toLedger, nil), nil)
	if err != nil {
		t.Fatalf("new venue: %v", err)
	}
	v.Register(venueRouter)
	env.venue = v

	if err := bridge.Announce(context.Background(), toLedger, signer); err != nil {
		t.Fatalf("announce: %v", err)
	}

	if _, err := l.Initialize(ledger.InitializeParams{Authority: env.authority, MinEventInterval: 60, MaxBatchSize: 10}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := l.RegisterManufacturer(ledger.RegisterManufacturerParams{
		Authority:   env.authority,
		Signer:      env.maker,
		CompanyName: "Acme Parts",
	}); err != nil {
		t.Fatalf("register manufacturer: %v", err)
	}
	if _, err := l.VerifyManufacturer(ledger.VerifyManufacturerParams{Authority: env.authority, Owner: env.maker}); err != nil {
		t.Fatalf("verify manufacturer: %v", err)
	}

	b, _, err := l.RegisterBatch(ledger.RegisterBatchParams{
		Authority: env.authority,
		Signer:    env.maker,
		BatchID:   env.batchID,
		Category:  ledger.CategoryPharmaceuticals,
		BatchSize: 5,
	})
	if err != nil {
		t.Fatalf("register batch: %v", err)
	}
	if b.Status != ledger.StatusCreated || b.TotalEvents != 0 {
		t.Fatalf("new batch: status %s, total_events %d", b.Status, b.TotalEvents)
	}

	if _, err := l.CreateEvent(ledger.CreateEventParams{
		Authority:   env.authority,
		Signer:      env.maker,
		BatchID:     env.batchID,
		EventID:     env.eventID,
		EventType:   ledger.EventManufactured,
		OrderStatus: ledger.OrderConfirmed,
	}); err != nil {
		t.Fatalf("create event: %v", err)
	}

	env.deliverer = bridge.NewDispatcher(dir, nil)
	env.delegate = func(t *testing.T) {
		t.Helper()

		h, err := l.Delegate(context.Background(), env.delegateParams(), env.deliverer)
		if err != nil {
			t.Fatalf("delegate: %v", err)
		}
		env.handoff = h
	}

	return env
}

// delegateParams selects the test pair for the test venue.
func (e *testEnv) delegateParams() ledger.DelegateParams {
	return ledger.DelegateParams{
		Authority: e.authority,
		Signer:    e.maker,
		BatchID:   e.batchID,
		EventID:   e.eventID,
		Venue:     e.venue.VenueKey(),
	}
}

// notificationsOf returns the ledger notifications of kind.
func (e *testEnv) notificationsOf(t *testing.T, kind ledger.NotificationKind) []ledger.Notification {
	t.Helper()

	all, err := e.ledger.Notifications(0, 100)
	if err != nil {
		t.Fatalf("notifications: %v", err)
	}

	var out []ledger.Notification
	for _, n := range all {
		if n.Kind == kind {
			out = append(out, n)
		}
	}

	return out
}

// TestShippedScenario follows a batch from creation through a rollup
// status change and back to the ledger.
func TestShippedScenario(t *testing.T) {
	env := newTestEnv(t)
	env.delegate(t)
	ctx := context.Background()

	env.clock.now += 5

	shipped := ledger.StatusShipped
	if _, err := env.venue.ApplyUpdate(UpdateParams{
		Signer:        env.maker,
		BatchID:       env.batchID,
		EventID:       env.eventID,
		ProductStatus: &shipped,
	}); err != nil {
		t.Fatalf("apply update: %v", err)
	}

	if _, err := env.venue.Undelegate(ctx, UndelegateParams{Signer: env.maker, BatchID: env.batchID, EventID: env.eventID}); err != nil {
		t.Fatalf("undelegate: %v", err)
	}

	b, err := env.ledger.Batch(env.batchID)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if b.Status != ledger.StatusShipped || b.TotalEvents != 2 {
		t.Errorf("batch: status %s, total_events %d; want Shipped, 2", b.Status, b.TotalEvents)
	}

	done := env.notificationsOf(t, ledger.NotifySupplyChainCompleted)
	if len(done) != 1 {
		t.Fatalf("completion notifications: got %d, want 1", len(done))
	}
	c := done[0].SupplyChainCompleted
	if c.FinalStatus != ledger.StatusShipped || c.TotalEvents != 2 || c.CompletedBy != env.maker {
		t.Errorf("completion: %+v", c)
	}
	if c.FinalOrderStatus != ledger.OrderConfirmed || c.VerificationStatus != ledger.VerificationPending {
		t.Errorf("completion statuses: %+v", c)
	}

	updates := env.notificationsOf(t, ledger.NotifyStateUpdated)
	if len(updates) != 1 || updates[0].StateUpdated.ProductStatus != ledger.StatusShipped {
		t.Errorf("state updates: %+v", updates)
	}
	if updates[0].Seq > done[0].Seq {
		t.Error("state update logged after completion")
	}

	r, _ := env.ledger.BatchResidency(env.batchID)
	if r.State != ledger.Resident {
		t.Errorf("residency after release: %s", r.State)
	}
	if _, err := env.venue.Batch(env.batchID); !errors.Is(err, ledger.ErrNotDelegated) {
		t.Errorf("venue still holds batch: %v", err)
	}
}

// TestRoundTripRefreshesTimestamps verifies delegate then undelegate changes
// only the timestamps.
func TestRoundTripRefreshesTimestamps(t *testing.T) {
	env := newTestEnv(t)

	before, _ := env.ledger.Batch(env.batchID)
	beforeEvent, _ := env.ledger.Event(env.eventID)

	env.delegate(t)
	env.clock.now += 300

	if _, err := env.venue.Undelegate(context.Background(), UndelegateParams{Signer: env.maker, BatchID: env.batchID, EventID: env.eventID}); err != nil {
		t.Fatalf("undelegate: %v", err)
	}

	after, _ := env.ledger.Batch(env.batchID)
	afterEvent, _ := env.ledger.Event(env.eventID)

	if after.LastUpdated != env.clock.now || afterEvent.Timestamp != env.clock.now {
		t.Errorf("timestamps: batch %d event %d, want %d", after.LastUpdated, afterEvent.Timestamp, env.clock.now)
	}

	after.LastUpdated = before.LastUpdated
	afterEvent.Timestamp = beforeEvent.Timestamp

	wantBatch, _ := before.MarshalBinary()
	gotBatch, _ := after.MarshalBinary()
	if !bytes.Equal(wantBatch, gotBatch) {
		t.Errorf("batch changed: %+v, want %+v", after, before)
	}

	wantEvent, _ := beforeEvent.MarshalBinary()
	gotEvent, _ := afterEvent.MarshalBinary()
	if !bytes.Equal(wantEvent, gotEvent) {
		t.Errorf("event changed: %+v, want %+v", afterEvent, beforeEvent)
	}
}

// TestSparsePatch verifies absent fields are preserved.
func TestSparsePatch(t *testing.T) {
	env := newTestEnv(t)
	env.delegate(t)

	prev := testHash(0x10)
	meta := "ipfs://first"
	if _, err := env.venue.ApplyUpdate(UpdateParams{
		Signer:        env.maker,
		BatchID:       env.batchID,
		EventID:       env.eventID,
		PreviousEvent: &prev,
		Metadata:      &meta,
	}); err != nil {
		t.Fatalf("first update: %v", err)
	}

	refunded := ledger.OrderRefunded
	s, err := env.venue.ApplyUpdate(UpdateParams{
		Signer:      env.maker,
		BatchID:     env.batchID,
		EventID:     env.eventID,
		OrderStatus: &refunded,
	})
	if err != nil {
		t.Fatalf("second update: %v", err)
	}

	if s.Event.OrderStatus != ledger.OrderRefunded {
		t.Errorf("order status: got %s", s.Event.OrderStatus)
	}
	if s.Batch.Status != ledger.StatusCreated || s.Event.EventType != ledger.EventManufactured {
		t.Errorf("untouched fields changed: status %s type %s", s.Batch.Status, s.Event.EventType)
	}
	if s.Event.PreviousEvent == nil || *s.Event.PreviousEvent != prev || s.Event.NextEvent != nil {
		t.Errorf("links changed: prev %v next %v", s.Event.PreviousEvent, s.Event.NextEvent)
	}
	if s.Event.Metadata == nil || *s.Event.Metadata != meta {
		t.Errorf("metadata changed: %v", s.Event.Metadata)
	}
	if s.Batch.TotalEvents != 3 {
		t.Errorf("total_events: got %d, want 3", s.Batch.TotalEvents)
	}
	if len(s.Pending) != 2 || s.Pending[1].OrderStatus != ledger.OrderRefunded {
		t.Errorf("pending updates: %+v", s.Pending)
	}
}

// TestUpdateAuthorization verifies only the manufacturer can patch or release.
func TestUpdateAuthorization(t *testing.T) {
	env := newTestEnv(t)
	env.delegate(t)
	ctx := context.Background()

	intruder := testHash(0xEE)
	sold := ledger.StatusSold

	_, err := env.venue.ApplyUpdate(UpdateParams{Signer: intruder, BatchID: env.batchID, EventID: env.eventID, ProductStatus: &sold})
	if !errors.Is(err, ledger.ErrUnauthorized) {
		t.Errorf("foreign update: got %v, want Unauthorized", err)
	}

	_, err = env.venue.Undelegate(ctx, UndelegateParams{Signer: intruder, BatchID: env.batchID, EventID: env.eventID})
	if !errors.Is(err, ledger.ErrUnauthorized) {
		t.Errorf("foreign undelegate: got %v, want Unauthorized", err)
	}

	s, err := env.venue.Session(env.batchID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if s.Batch.Status != ledger.StatusCreated || s.Batch.TotalEvents != 1 || len(s.Pending) != 0 {
		t.Errorf("rejected calls changed state: %+v", s.Batch)
	}

	r, _ := env.ledger.BatchResidency(env.batchID)
	if r.State != ledger.Delegated {
		t.Errorf("residency: got %s, want Delegated", r.State)
	}
}

// TestCommitCheckpoints verifies a commit reaches the ledger without
// releasing the pair.
func TestCommitCheckpoints(t *testing.T) {
	env := newTestEnv(t)
	env.delegate(t)
	ctx := context.Background()

	inTransit := ledger.StatusInTransit
	if _, err := env.venue.ApplyUpdate(UpdateParams{Signer: env.maker, BatchID: env.batchID, EventID: env.eventID, ProductStatus: &inTransit}); err != nil {
		t.Fatalf("apply update: %v", err)
	}

	s, err := env.venue.Commit(ctx, env.batchID, env.eventID)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if s.Sequence != 1 || len(s.Pending) != 0 {
		t.Errorf("after commit: sequence %d pending %d", s.Sequence, len(s.Pending))
	}

	b, _ := env.ledger.Batch(env.batchID)
	if b.Status != ledger.StatusInTransit || b.TotalEvents != 2 {
		t.Errorf("ledger batch: status %s total %d", b.Status, b.TotalEvents)
	}

	r, _ := env.ledger.BatchResidency(env.batchID)
	if r.State != ledger.Delegated || r.Sequence != 1 {
		t.Errorf("residency: %+v", r)
	}

	env.clock.now += 3600
	_, err = env.ledger.CreateEvent(ledger.CreateEventParams{
		Authority: env.authority,
		Signer:    env.maker,
		BatchID:   env.batchID,
		EventID:   testHash(0x12),
		EventType: ledger.EventPackaged,
	})
	if !errors.Is(err, ledger.ErrDelegated) {
		t.Errorf("durable write while delegated: got %v, want Delegated", err)
	}

	s, err = env.venue.Commit(ctx, env.batchID, env.eventID)
	if err != nil {
		t.Fatalf("second commit: %v", err)
	}
	if s.Sequence != 2 {
		t.Errorf("second sequence: got %d", s.Sequence)
	}

	if n := len(env.notificationsOf(t, ledger.NotifyStateUpdated)); n != 1 {
		t.Errorf("state updates forwarded: got %d, want 1", n)
	}
}

// TestCommitFailureKeepsPending verifies a rejected commit loses nothing.
func TestCommitFailureKeepsPending(t *testing.T) {
	env := newTestEnv(t)
	env.delegate(t)

	v := env.venue
	v.sink = failingSink{}

	sold := ledger.StatusSold
	if _, err := v.ApplyUpdate(UpdateParams{Signer: env.maker, BatchID: env.batchID, EventID: env.eventID, ProductStatus: &sold}); err != nil {
		t.Fatalf("apply update: %v", err)
	}

	if _, err := v.Commit(context.Background(), env.batchID, env.eventID); !errors.Is(err, ledger.ErrStaleCommit) {
		t.Fatalf("commit: got %v, want StaleCommit", err)
	}
	if _, err := v.Undelegate(context.Background(), UndelegateParams{Signer: env.maker, BatchID: env.batchID, EventID: env.eventID}); err == nil {
		t.Fatal("undelegate succeeded through a failing sink")
	}

	s, err := v.Session(env.batchID)
	if err != nil {
		t.Fatalf("session dropped: %v", err)
	}
	if s.Sequence != 0 || len(s.Pending) != 1 {
		t.Errorf("session after failures: sequence %d pending %d", s.Sequence, len(s.Pending))
	}
}

// TestAcceptRejects verifies misaddressed and inconsistent hand-offs.
func TestAcceptRejects(t *testing.T) {
	env := newTestEnv(t)
	env.delegate(t)

	other := *env.handoff
	other.Venue[0] ^= 0xFF
	if err := env.venue.Accept(&other); !errors.Is(err, ledger.ErrUnauthorized) {
		t.Errorf("misaddressed hand-off: got %v, want Unauthorized", err)
	}

	foreign := *env.handoff
	foreign.Owner = testHash(0xEE)
	if err := env.venue.Accept(&foreign); !errors.Is(err, ledger.ErrInvalidInput) {
		t.Errorf("foreign owner: got %v, want InvalidInput", err)
	}
}

// TestUpdateValidation verifies bad patches are rejected before any change.
func TestUpdateValidation(t *testing.T) {
	env := newTestEnv(t)
	env.delegate(t)

	long := strings.Repeat("m", ledger.MaxTextLen+1)
	bad := ledger.EventType(200)

	for name, p := range map[string]UpdateParams{
		"long metadata": {Metadata: &long},
		"bad enum":      {EventType: &bad},
		"wrong event":   {EventID: testHash(0x99)},
	} {
		p.Signer = env.maker
		p.BatchID = env.batchID
		if p.EventID.IsZero() {
			p.EventID = env.eventID
		}

		if _, err := env.venue.ApplyUpdate(p); !errors.Is(err, ledger.ErrInvalidInput) {
			t.Errorf("%s: got %v, want InvalidInput", name, err)
		}
	}

	_, err := env.venue.ApplyUpdate(UpdateParams{Signer: env.maker, BatchID: testHash(0x77), EventID: env.eventID})
	if !errors.Is(err, ledger.ErrNotDelegated) {
		t.Errorf("unknown batch: got %v, want NotDelegated", err)
	}

	b, _ := env.venue.Batch(env.batchID)
	if b.TotalEvents != 1 {
		t.Errorf("rejected updates counted: total_events %d", b.TotalEvents)
	}
}

// TestEventLookup verifies events are found through the index.
func TestEventLookup(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.venue.Event(env.eventID); !errors.Is(err, ledger.ErrNotDelegated) {
		t.Errorf("before delegation: got %v", err)
	}

	env.delegate(t)

	ev, err := env.venue.Event(env.eventID)
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	if ev.BatchID != env.batchID || ev.EventType != ledger.EventManufactured {
		t.Errorf("event: %+v", ev)
	}
}

// TestSessionEncoding verifies pending updates survive storage.
func TestSessionEncoding(t *testing.T) {
	meta := "m"
	in := &Session{
		Nonce:    3,
		Sequence: 2,
		Owner:    testHash(0xB0),
		Batch:    ledger.BatchLedger{BatchID: testHash(1), Metadata: &meta, TotalEvents: 4},
		Event:    ledger.ProductEvent{EventID: testHash(2), BatchID: testHash(1)},
		Pending: []ledger.StateUpdated{
			{BatchID: testHash(1), EventID: testHash(2), ProductStatus: ledger.StatusSold, Timestamp: 9},
		},
	}

	data, err := in.MarshalBinary()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var out Session
	if err := out.UnmarshalBinary(data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Nonce != 3 || out.Sequence != 2 || out.Owner != in.Owner {
		t.Errorf("header: %+v", out)
	}
	if len(out.Pending) != 1 || out.Pending[0].ProductStatus != ledger.StatusSold {
		t.Errorf("pending: %+v", out.Pending)
	}
	if out.Batch.Metadata == nil || *out.Batch.Metadata != meta {
		t.Errorf("batch metadata: %v", out.Batch.Metadata)
	}
	if out.Inflight != nil {
		t.Errorf("inflight: got %+v, want none", out.Inflight)
	}

	in.Inflight = &ledger.Commit{
		BatchID:   testHash(1),
		EventID:   testHash(2),
		Nonce:     3,
		Sequence:  3,
		Release:   true,
		Actor:     testHash(0xB0),
		Timestamp: 9,
		Batch:     in.Batch,
		Event:     in.Event,
		Updates:   in.Pending,
		Signature: []byte{1, 2, 3},
	}

	data, err = in.MarshalBinary()
	if err != nil {
		t.Fatalf("encode inflight: %v", err)
	}

	out = Session{}
	if err := out.UnmarshalBinary(data); err != nil {
		t.Fatalf("decode inflight: %v", err)
	}

	c := out.Inflight
	if c == nil || c.Sequence != 3 || !c.Release || len(c.Updates) != 1 || !bytes.Equal(c.Signature, []byte{1, 2, 3}) {
		t.Errorf("inflight: %+v", c)
	}
}

// TestAcceptNonces verifies a repeated hand-off is a no-op, a newer one
// replaces the held session and an older one is refused.
func TestAcceptNonces(t *testing.T) {
	env := newTestEnv(t)
	env.delegate(t)

	sold := ledger.StatusSold
	if _, err := env.venue.ApplyUpdate(UpdateParams{Signer: env.maker, BatchID: env.batchID, EventID: env.eventID, ProductStatus: &sold}); err != nil {
		t.Fatalf("apply update: %v", err)
	}

	if err := env.venue.Accept(env.handoff); err != nil {
		t.Fatalf("repeated hand-off: %v", err)
	}

	s, err := env.venue.Session(env.batchID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if len(s.Pending) != 1 || s.Batch.Status != ledger.StatusSold {
		t.Errorf("repeated hand-off reset the session: %+v", s)
	}

	newer := *env.handoff
	newer.Nonce = env.handoff.Nonce + 1
	if err := env.venue.Accept(&newer); err != nil {
		t.Fatalf("newer hand-off: %v", err)
	}

	s, err = env.venue.Session(env.batchID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if s.Nonce != newer.Nonce || len(s.Pending) != 0 || s.Batch.Status != env.handoff.Batch.Status {
		t.Errorf("newer hand-off not applied: nonce %d pending %d", s.Nonce, len(s.Pending))
	}

	if err := env.venue.Accept(env.handoff); !errors.Is(err, ledger.ErrAlreadyExists) {
		t.Errorf("older hand-off: got %v, want AlreadyExists", err)
	}
}

// TestCommitReplyLost verifies a commit the ledger applied but never
// acknowledged is resent unchanged, and that later updates still go through.
func TestCommitReplyLost(t *testing.T) {
	env := newTestEnv(t)
	env.delegate(t)
	ctx := context.Background()

	v := env.venue
	sink := &lostReplySink{next: v.sink, drops: 1}
	v.sink = sink

	inTransit := ledger.StatusInTransit
	if _, err := v.ApplyUpdate(UpdateParams{Signer: env.maker, BatchID: env.batchID, EventID: env.eventID, ProductStatus: &inTransit}); err != nil {
		t.Fatalf("apply update: %v", err)
	}

	_, err := v.Commit(ctx, env.batchID, env.eventID)
	if err == nil || ledger.Refused(err) {
		t.Fatalf("commit with lost reply: got %v, want transport error", err)
	}

	r, _ := env.ledger.BatchResidency(env.batchID)
	if r.Sequence != 1 {
		t.Fatalf("ledger did not apply the commit: %+v", r)
	}

	s, err := v.Session(env.batchID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if s.Sequence != 0 || s.Inflight == nil || s.Inflight.Sequence != 1 || len(s.Pending) != 1 {
		t.Errorf("session after lost reply: sequence %d pending %d inflight %v", s.Sequence, len(s.Pending), s.Inflight != nil)
	}

	env.clock.now += 10

	shipped := ledger.StatusShipped
	if _, err := v.ApplyUpdate(UpdateParams{Signer: env.maker, BatchID: env.batchID, EventID: env.eventID, ProductStatus: &shipped}); err != nil {
		t.Fatalf("update while a commit is unconfirmed: %v", err)
	}

	s, err = v.Commit(ctx, env.batchID, env.eventID)
	if err != nil {
		t.Fatalf("resubmitted commit: %v", err)
	}
	if s.Sequence != 2 || len(s.Pending) != 0 || s.Inflight != nil {
		t.Errorf("session after resubmission: sequence %d pending %d", s.Sequence, len(s.Pending))
	}

	b, _ := env.ledger.Batch(env.batchID)
	if b.Status != ledger.StatusShipped || b.TotalEvents != 3 {
		t.Errorf("ledger batch: status %s total %d", b.Status, b.TotalEvents)
	}
	if n := len(env.notificationsOf(t, ledger.NotifyStateUpdated)); n != 2 {
		t.Errorf("state updates forwarded: got %d, want 2", n)
	}
}

// TestReleaseReplyLost verifies a release the ledger applied but never
// acknowledged blocks further updates and completes on the next attempt.
func TestReleaseReplyLost(t *testing.T) {
	env := newTestEnv(t)
	env.delegate(t)
	ctx := context.Background()

	v := env.venue
	v.sink = &lostReplySink{next: v.sink, drops: 1}

	release := UndelegateParams{Signer: env.maker, BatchID: env.batchID, EventID: env.eventID}

	if _, err := v.Undelegate(ctx, release); err == nil {
		t.Fatal("undelegate with lost reply succeeded")
	}

	r, _ := env.ledger.BatchResidency(env.batchID)
	if r.State != ledger.Resident {
		t.Fatalf("ledger did not apply the release: %+v", r)
	}

	sold := ledger.StatusSold
	_, err := v.ApplyUpdate(UpdateParams{Signer: env.maker, BatchID: env.batchID, EventID: env.eventID, ProductStatus: &sold})
	if !errors.Is(err, ledger.ErrNotDelegated) {
		t.Errorf("update during release: got %v, want NotDelegated", err)
	}

	if _, err := v.Undelegate(ctx, release); err != nil {
		t.Fatalf("resubmitted release: %v", err)
	}
	if _, err := v.Session(env.batchID); !errors.Is(err, ledger.ErrNotDelegated) {
		t.Errorf("venue still holds the pair: %v", err)
	}
	if n := len(env.notificationsOf(t, ledger.NotifySupplyChainCompleted)); n != 1 {
		t.Errorf("completion notifications: got %d, want 1", n)
	}

	env.delegate(t)
	if env.handoff.Nonce != 2 {
		t.Errorf("redelegation nonce: got %d, want 2", env.handoff.Nonce)
	}
}

// TestHandoffReplyLost verifies a hand-off the venue accepted without the
// ledger hearing back leaves a single writer, and that delegating again
// completes the transfer.
func TestHandoffReplyLost(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.ledger.Delegate(ctx, env.delegateParams(), lostReplyDeliverer{next: env.deliverer})
	if err == nil {
		t.Fatal("delegate with lost reply succeeded")
	}

	r, _ := env.ledger.BatchResidency(env.batchID)
	if r.State != ledger.Delegated || r.Nonce != 1 {
		t.Errorf("ledger residency after lost reply: %+v", r)
	}

	env.clock.now += 3600
	_, err = env.ledger.CreateEvent(ledger.CreateEventParams{
		Authority: env.authority,
		Signer:    env.maker,
		BatchID:   env.batchID,
		EventID:   testHash(0x12),
		EventType: ledger.EventPackaged,
	})
	if !errors.Is(err, ledger.ErrDelegated) {
		t.Errorf("durable write while the venue holds the pair: got %v, want Delegated", err)
	}

	env.delegate(t)
	if env.handoff.Nonce != 1 {
		t.Errorf("retried hand-off nonce: got %d, want 1", env.handoff.Nonce)
	}

	packaged := ledger.EventPackaged
	if _, err := env.venue.ApplyUpdate(UpdateParams{Signer: env.maker, BatchID: env.batchID, EventID: env.eventID, EventType: &packaged}); err != nil {
		t.Fatalf("apply update: %v", err)
	}
	if _, err := env.venue.Commit(ctx, env.batchID, env.eventID); err != nil {
		t.Fatalf("commit: %v", err)
	}

	e, _ := env.ledger.Event(env.eventID)
	if e.EventType != ledger.EventPackaged {
		t.Errorf("ledger event type: got %s", e.EventType)
	}
}
