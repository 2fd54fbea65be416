// Package rollup implements the venue that holds delegated batch and event
// pairs: it accepts hand-offs from the ledger, applies sparse patches at high
// frequency and pushes signed commits back.
package rollup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"Cassegrain/internal/bridge"
	"Cassegrain/internal/ledger"
	"Cassegrain/internal/logger"
	"Cassegrain/internal/metrics"
	"Cassegrain/internal/storage"
	"Cassegrain/internal/types"
)

// CommitSink delivers a signed commit to the ledger and waits for it to apply.
type CommitSink interface {
	SubmitCommit(ctx context.Context, c *ledger.Commit) error
}

// Venue is the rollup side of the bridge.
type Venue struct {
	mu      sync.Mutex       // mu serializes commits and releases, held across the bridge call
	store   sync.Mutex       // store guards session reads and writes, never held across a bridge call
	db      *storage.Storage // db holds the working copies
	clock   ledger.Clock     // clock is the venue clock
	signer  *bridge.Signer   // signer signs commits
	sink    CommitSink       // sink reaches the ledger
	metrics *metrics.Metrics // metrics tracks held pairs, may be nil
}

// New creates a venue over db. Sessions already in db are resumed.
func New(db *storage.Storage, clock ledger.Clock, signer *bridge.Signer, sink CommitSink, m *metrics.Metrics) (*Venue, error) {
	if clock == nil {
		clock = ledger.SystemClock{}
	}

	held, err := countSessions(db)
	if err != nil {
		return nil, fmt.Errorf("count sessions:\n%w", err)
	}
	m.AddDelegated(float64(held))

	if held > 0 {
		logger.Info("resumed sessions", "count", held)
	}

	return &Venue{
		db:      db,
		clock:   clock,
		signer:  signer,
		sink:    sink,
		metrics: m,
	}, nil
}

// VenueKey returns the key the ledger must delegate to.
func (v *Venue) VenueKey() ledger.VenueKey {
	return v.signer.VenueKey()
}

// Register installs the hand-off handler on r.
func (v *Venue) Register(r *bridge.Router) {
	r.Handle(types.MessageKindHandoff, func(_ context.Context, _ string, payload []byte) ([]byte, error) {
		h, err := bridge.DecodeHandoff(payload)
		if err != nil {
			return nil, err
		}

		return nil, v.Accept(h)
	})
}

// Accept stores the working copies of a delegated pair. Delivering the same
// nonce again succeeds without effect, and a higher nonce replaces the held
// session since the ledger no longer accepts commits for the older one.
func (v *Venue) Accept(h *ledger.Handoff) error {
	if h.Venue != v.signer.VenueKey() {
		return fmt.Errorf("%w: hand-off addressed to another venue", ledger.ErrUnauthorized)
	}
	if h.Batch.BatchID != h.BatchID || h.Event.EventID != h.EventID || h.Event.BatchID != h.BatchID {
		return fmt.Errorf("%w: hand-off records do not match their ids", ledger.ErrInvalidInput)
	}
	if h.Owner != h.Batch.Manufacturer {
		return fmt.Errorf("%w: hand-off owner is not the manufacturer", ledger.ErrInvalidInput)
	}

	// The ledger delivers while holding its own lock, so only store is taken.
	v.store.Lock()
	defer v.store.Unlock()

	held, err := loadSession(v.db, h.BatchID)
	if err != nil && !errors.Is(err, ledger.ErrNotDelegated) {
		return err
	}

	owner, err := batchForEvent(v.db, h.EventID)
	switch {
	case err == nil && owner != h.BatchID:
		return fmt.Errorf("event %s:\n%w", h.EventID.Short(), ledger.ErrAlreadyExists)
	case err != nil && !errors.Is(err, ledger.ErrNotDelegated):
		return err
	}

	s := &Session{
		Nonce: h.Nonce,
		Owner: h.Owner,
		Batch: h.Batch,
		Event: h.Event,
	}

	switch {
	case held == nil:
		if err := saveSession(v.db, s); err != nil {
			return err
		}
		v.metrics.AddDelegated(1)

	case held.Nonce == h.Nonce:
		logger.Debug("hand-off already held", "batch", h.BatchID.Short(), "nonce", h.Nonce)
		return nil

	case held.Nonce > h.Nonce:
		return fmt.Errorf("batch %s holds nonce %d:\n%w", h.BatchID.Short(), held.Nonce, ledger.ErrAlreadyExists)

	default:
		if err := replaceSession(v.db, held, s); err != nil {
			return err
		}
		logger.Warn("superseded session dropped", "batch", h.BatchID.Short(), "old_nonce", held.Nonce, "pending", len(held.Pending))
	}

	logger.Info("hand-off accepted", "batch", h.BatchID.Short(), "event", h.EventID.Short(), "nonce", h.Nonce)

	return nil
}

// UpdateParams is a sparse patch: nil fields are left unchanged.
type UpdateParams struct {
	Signer        ledger.Hash // Signer must be the batch's manufacturer
	BatchID       ledger.Hash
	EventID       ledger.Hash
	ProductStatus *ledger.ProductStatus
	OrderStatus   *ledger.OrderStatus
	EventType     *ledger.EventType
	PreviousEvent *ledger.Hash
	NextEvent     *ledger.Hash
	Metadata      *string
}

// ApplyUpdate patches the working copies. Every call counts as an event and
// refreshes both timestamps to the venue clock.
func (v *Venue) ApplyUpdate(p UpdateParams) (*Session, error) {
	if err := checkPatch(p); err != nil {
		return nil, err
	}

	v.store.Lock()
	defer v.store.Unlock()

	s, err := v.session(p.BatchID, p.EventID)
	if err != nil {
		return nil, err
	}
	if s.Owner != p.Signer {
		logger.Warn("update rejected", "batch", p.BatchID.Short(), "reason", "not owner")
		return nil, ledger.ErrUnauthorized
	}
	if s.Inflight != nil && s.Inflight.Release {
		return nil, fmt.Errorf("batch %s is being released:\n%w", p.BatchID.Short(), ledger.ErrNotDelegated)
	}

	now := v.clock.Now()

	if p.ProductStatus != nil {
		s.Batch.Status = *p.ProductStatus
	}
	if p.EventType != nil {
		s.Event.EventType = *p.EventType
	}
	if p.OrderStatus != nil {
		s.Event.OrderStatus = *p.OrderStatus
	}
	if p.PreviousEvent != nil {
		prev := *p.PreviousEvent
		s.Event.PreviousEvent = &prev
	}
	if p.NextEvent != nil {
		next := *p.NextEvent
		s.Event.NextEvent = &next
	}
	if p.Metadata != nil {
		meta := *p.Metadata
		s.Event.Metadata = &meta
	}

	s.Event.Timestamp = now
	s.Batch.LastUpdated = now
	s.Batch.TotalEvents++

	s.Pending = append(s.Pending, ledger.StateUpdated{
		BatchID:       p.BatchID,
		EventID:       p.EventID,
		UpdatedBy:     p.Signer,
		ProductStatus: s.Batch.Status,
		OrderStatus:   s.Event.OrderStatus,
		EventType:     s.Event.EventType,
		Timestamp:     now,
	})

	if err := saveSession(v.db, s); err != nil {
		return nil, err
	}

	logger.Debug("update applied",
		"batch", p.BatchID.Short(),
		"status", s.Batch.Status,
		"order_status", s.Event.OrderStatus,
		"total_events", s.Batch.TotalEvents,
	)

	return s, nil
}

// Commit checkpoints the working copies to the ledger and keeps write
// control. A commit left unconfirmed by an earlier call is sent again first,
// unchanged; if it was a release, the pair is released.
func (v *Venue) Commit(ctx context.Context, batchID, eventID ledger.Hash) (*Session, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	c, resent, err := v.stage(batchID, eventID, false, ledger.Hash{})
	if err != nil {
		return nil, err
	}

	s, err := v.submit(ctx, c)
	if err != nil || !resent || c.Release || len(s.Pending) == 0 {
		return s, err
	}

	// Updates applied after the resent commit was built.
	if c, _, err = v.stage(batchID, eventID, false, ledger.Hash{}); err != nil {
		return nil, err
	}

	return v.submit(ctx, c)
}

// UndelegateParams select the pair to release.
type UndelegateParams struct {
	Signer  ledger.Hash // Signer must be the batch's manufacturer
	BatchID ledger.Hash
	EventID ledger.Hash
}

// Undelegate sends a final commit that returns write control to the ledger,
// then drops the working copies. It returns the released state. Calling it
// again after a failed attempt resends the same release.
func (v *Venue) Undelegate(ctx context.Context, p UndelegateParams) (*Session, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	c, _, err := v.stage(p.BatchID, p.EventID, true, p.Signer)
	if err != nil {
		return nil, err
	}

	s, err := v.submit(ctx, c)
	if err != nil || c.Release {
		return s, err
	}

	// A checkpoint was still unconfirmed and went first.
	if c, _, err = v.stage(p.BatchID, p.EventID, true, p.Signer); err != nil {
		return nil, err
	}

	return v.submit(ctx, c)
}

// stage returns the commit to send for a held pair: the unconfirmed one if
// any, otherwise a new signed commit recorded as in flight before it is sent.
func (v *Venue) stage(batchID, eventID ledger.Hash, release bool, actor ledger.Hash) (c *ledger.Commit, resent bool, err error) {
	v.store.Lock()
	defer v.store.Unlock()

	s, err := v.session(batchID, eventID)
	if err != nil {
		return nil, false, err
	}
	if release && s.Owner != actor {
		logger.Warn("undelegate rejected", "batch", batchID.Short(), "reason", "not owner")
		return nil, false, ledger.ErrUnauthorized
	}
	if s.Inflight != nil {
		return s.Inflight, true, nil
	}

	if release {
		now := v.clock.Now()
		s.Batch.LastUpdated = now
		s.Event.Timestamp = now
	} else {
		actor = s.Owner
	}

	c, err = v.buildCommit(s, release, actor)
	if err != nil {
		return nil, false, err
	}

	s.Inflight = c
	if err := saveSession(v.db, s); err != nil {
		return nil, false, err
	}

	return c, false, nil
}

// submit sends c and settles the session. When the outcome is unknown c
// stays in flight so the next call can resend it.
func (v *Venue) submit(ctx context.Context, c *ledger.Commit) (*Session, error) {
	op := "commit"
	if c.Release {
		op = "release"
	}

	sent := v.sink.SubmitCommit(ctx, c)
	if sent != nil && !ledger.Refused(sent) {
		logger.Warn("commit unconfirmed", "batch", c.BatchID.Short(), "sequence", c.Sequence, "release", c.Release, "error", sent)
		return nil, fmt.Errorf("submit %s:\n%w", op, sent)
	}

	s, err := v.settle(c, sent)
	if err != nil {
		return nil, fmt.Errorf("submit %s:\n%w", op, err)
	}

	return s, nil
}

// settle records the ledger's answer to c. A refused commit is forgotten and
// its updates stay pending.
func (v *Venue) settle(c *ledger.Commit, refused error) (*Session, error) {
	v.store.Lock()
	defer v.store.Unlock()

	s, err := loadSession(v.db, c.BatchID)
	if err != nil {
		return nil, err
	}
	if s.Nonce != c.Nonce || s.Inflight == nil || s.Inflight.Sequence != c.Sequence {
		return nil, fmt.Errorf("batch %s was handed off again:\n%w", c.BatchID.Short(), ledger.ErrNotDelegated)
	}

	s.Inflight = nil

	if refused != nil {
		if err := saveSession(v.db, s); err != nil {
			return nil, err
		}
		return nil, refused
	}

	s.Sequence = c.Sequence
	s.Pending = s.Pending[min(len(c.Updates), len(s.Pending)):]
	if len(s.Pending) == 0 {
		s.Pending = nil
	}

	if c.Release {
		if err := dropSession(v.db, s); err != nil {
			return nil, err
		}
		v.metrics.AddDelegated(-1)

		logger.Info("pair released",
			"batch", c.BatchID.Short(),
			"status", s.Batch.Status,
			"total_events", s.Batch.TotalEvents,
		)

		return s, nil
	}

	if err := saveSession(v.db, s); err != nil {
		return nil, err
	}

	logger.Debug("commit accepted", "batch", c.BatchID.Short(), "sequence", c.Sequence, "updates", len(c.Updates))

	return s, nil
}

// Batch returns the working copy of a held batch.
func (v *Venue) Batch(batchID ledger.Hash) (*ledger.BatchLedger, error) {
	s, err := loadSession(v.db, batchID)
	if err != nil {
		return nil, err
	}

	return &s.Batch, nil
}

// Event returns the working copy of a held event.
func (v *Venue) Event(eventID ledger.Hash) (*ledger.ProductEvent, error) {
	batchID, err := batchForEvent(v.db, eventID)
	if err != nil {
		return nil, err
	}

	s, err := loadSession(v.db, batchID)
	if err != nil {
		return nil, err
	}

	return &s.Event, nil
}

// Session returns the full session for batchID.
func (v *Venue) Session(batchID ledger.Hash) (*Session, error) {
	return loadSession(v.db, batchID)
}

// session loads a held pair and checks the event belongs to it.
func (v *Venue) session(batchID, eventID ledger.Hash) (*Session, error) {
	s, err := loadSession(v.db, batchID)
	if err != nil {
		return nil, err
	}
	if s.Event.EventID != eventID {
		return nil, fmt.Errorf("%w: event %s is not delegated with batch %s",
			ledger.ErrInvalidInput, eventID.Short(), batchID.Short())
	}

	return s, nil
}

// buildCommit assembles and signs the next commit for s.
func (v *Venue) buildCommit(s *Session, release bool, actor ledger.Hash) (*ledger.Commit, error) {
	c := &ledger.Commit{
		BatchID:   s.Batch.BatchID,
		EventID:   s.Event.EventID,
		Nonce:     s.Nonce,
		Sequence:  s.Sequence + 1,
		Release:   release,
		Actor:     actor,
		Timestamp: v.clock.Now(),
		Batch:     s.Batch,
		Event:     s.Event,
		Updates:   append([]ledger.StateUpdated(nil), s.Pending...),
	}
	if err := v.signer.SignCommit(c); err != nil {
		return nil, fmt.Errorf("sign commit:\n%w", err)
	}

	return c, nil
}

// checkPatch validates a patch before any state is read.
func checkPatch(p UpdateParams) error {
	switch {
	case p.BatchID.IsZero() || p.EventID.IsZero():
		return fmt.Errorf("%w: batch and event ids are required", ledger.ErrInvalidInput)
	case p.ProductStatus != nil && !p.ProductStatus.Valid():
		return fmt.Errorf("%w: product status %d", ledger.ErrInvalidInput, *p.ProductStatus)
	case p.OrderStatus != nil && !p.OrderStatus.Valid():
		return fmt.Errorf("%w: order status %d", ledger.ErrInvalidInput, *p.OrderStatus)
	case p.EventType != nil && !p.EventType.Valid():
		return fmt.Errorf("%w: event type %d", ledger.ErrInvalidInput, *p.EventType)
	case p.Metadata != nil && len(*p.Metadata) > ledger.MaxTextLen:
		return fmt.Errorf("%w: metadata is %d bytes, max %d", ledger.ErrInvalidInput, len(*p.Metadata), ledger.MaxTextLen)
	}

	return nil
}
