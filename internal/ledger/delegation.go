package ledger

import (
	"context"
	"fmt"

	"github.com/zeebo/blake3"

	"Cassegrain/internal/codec"
	"Cassegrain/internal/logger"
)

// commitDomain separates commit digests from any other signed payload.
const commitDomain = "cassegrain/commit/v1"

// Handoff is the copy-on-delegate snapshot sent to the rollup venue.
type Handoff struct {
	BatchID Hash
	EventID Hash
	Nonce   uint64   // Nonce identifies this delegation
	Venue   VenueKey // Venue is the only key allowed to commit
	Owner   Hash     // Owner is the batch's manufacturer
	Batch   BatchLedger
	Event   ProductEvent
}

// Deliverer hands a snapshot to the rollup venue and waits for acceptance.
type Deliverer interface {
	Deliver(ctx context.Context, h *Handoff) error
}

// Commit carries rollup-local values back to durable storage.
type Commit struct {
	BatchID   Hash
	EventID   Hash
	Nonce     uint64 // Nonce must match the current delegation
	Sequence  uint64 // Sequence must exceed the last applied commit
	Release   bool   // Release returns write control to the ledger
	Actor     Hash   // Actor is the identity that requested the commit
	Timestamp int64  // Timestamp is read from the venue clock
	Batch     BatchLedger
	Event     ProductEvent
	Updates   []StateUpdated // Updates are the StateUpdated notifications since the last commit
	Signature []byte         // Signature is the venue's BLS signature over Digest
}

// Digest returns the blake3 hash of every field except the signature.
func (c *Commit) Digest() ([]byte, error) {
	batch, err := c.Batch.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode batch:\n%w", err)
	}
	event, err := c.Event.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode event:\n%w", err)
	}

	w := codec.NewWriter(512)
	w.String(commitDomain)
	w.Fixed(c.BatchID[:])
	w.Fixed(c.EventID[:])
	w.U64(c.Nonce)
	w.U64(c.Sequence)
	w.Bool(c.Release)
	w.Fixed(c.Actor[:])
	w.I64(c.Timestamp)
	w.VarBytes(batch)
	w.VarBytes(event)
	w.U32(uint32(len(c.Updates)))

	for i := range c.Updates {
		n := Notification{Kind: NotifyStateUpdated, StateUpdated: &c.Updates[i]}
		data, err := n.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("encode update %d:\n%w", i, err)
		}
		w.VarBytes(data)
	}

	sum := blake3.Sum256(w.Bytes())

	return sum[:], nil
}

// DelegateParams select the pair to hand to a venue.
type DelegateParams struct {
	Authority Hash // Authority selects the config
	Signer    Hash // Signer must be the batch's manufacturer
	BatchID   Hash
	EventID   Hash
	Venue     VenueKey // Venue is the BLS key of the receiving venue
}

// Delegate transfers write control of a batch and one of its events to a
// venue. The Delegated tag is committed before the snapshot is delivered, so
// durable writes are refused from the moment the venue may hold the pair.
// If the venue refuses the snapshot the tags are restored. Any other delivery
// failure leaves the pair delegated: calling Delegate again for the same venue
// delivers the same nonce until the venue confirms.
func (l *Ledger) Delegate(ctx context.Context, p DelegateParams, d Deliverer) (*Handoff, error) {
	if p.Venue.IsZero() {
		return nil, invalidf("venue key is zero")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.activeConfig(p.Authority); err != nil {
		return nil, err
	}

	batch, err := l.st.batch(p.BatchID)
	if err != nil {
		return nil, fmt.Errorf("load batch:\n%w", err)
	}
	if batch.Manufacturer != p.Signer {
		logger.Warn("delegate rejected", "batch", p.BatchID.Short(), "reason", "not owner")
		return nil, ErrUnauthorized
	}

	event, err := l.st.event(p.EventID)
	if err != nil {
		return nil, fmt.Errorf("load event:\n%w", err)
	}
	if event.BatchID != p.BatchID {
		return nil, invalidf("event %s belongs to batch %s", p.EventID.Short(), event.BatchID.Short())
	}

	batchKey, eventKey := BatchKey(p.BatchID), EventKey(p.EventID)

	rb, err := l.st.residency(batchKey)
	if err != nil {
		return nil, err
	}
	re, err := l.st.residency(eventKey)
	if err != nil {
		return nil, err
	}

	fresh := rb.State == Resident && re.State == Resident
	if !fresh && !unconfirmed(rb, re, p.Venue) {
		return nil, fmt.Errorf("batch %s:\n%w", p.BatchID.Short(), ErrDelegated)
	}

	nonce := rb.Nonce
	if fresh {
		nonce = max(rb.Nonce, re.Nonce) + 1

		tag := Residency{State: Delegated, Venue: p.Venue, Nonce: nonce}
		if err := l.setResidency(batchKey, eventKey, tag, tag); err != nil {
			return nil, err
		}
	}

	h := &Handoff{
		BatchID: p.BatchID,
		EventID: p.EventID,
		Nonce:   nonce,
		Venue:   p.Venue,
		Owner:   batch.Manufacturer,
		Batch:   *batch,
		Event:   *event,
	}

	if err := d.Deliver(ctx, h); err != nil {
		if fresh && Refused(err) {
			if rerr := l.setResidency(batchKey, eventKey, rb, re); rerr != nil {
				return nil, fmt.Errorf("restore residency:\n%w", rerr)
			}
			logger.Warn("hand-off refused", "batch", p.BatchID.Short(), "kind", Kind(err))
		} else {
			logger.Warn("hand-off unconfirmed", "batch", p.BatchID.Short(), "nonce", nonce, "error", err)
		}
		return nil, fmt.Errorf("deliver handoff:\n%w", err)
	}

	logger.Info("pair delegated",
		"batch", p.BatchID.Short(),
		"event", p.EventID.Short(),
		"venue", p.Venue.String()[:16],
		"nonce", nonce,
		"redelivered", !fresh,
	)

	return h, nil
}

// unconfirmed reports whether the pair is delegated to venue and has never
// been committed, so its hand-off may be delivered again.
func unconfirmed(rb, re Residency, venue VenueKey) bool {
	return rb.State == Delegated && re.State == Delegated &&
		rb.Venue == venue && re.Venue == venue &&
		rb.Nonce == re.Nonce && rb.Sequence == 0 && re.Sequence == 0
}

// setResidency writes both ownership tags in one batch.
func (l *Ledger) setResidency(batchKey, eventKey Hash, rb, re Residency) error {
	t := l.begin()
	defer t.close()

	l.st.stageResidency(t.batch, batchKey, rb)
	l.st.stageResidency(t.batch, eventKey, re)

	return l.commit(t)
}

// ApplyCommit writes a venue commit to durable storage. A release commit
// also returns both records to Resident and emits SupplyChainCompleted.
// Resubmitting the last applied commit unchanged succeeds without effect.
func (l *Ledger) ApplyCommit(c *Commit) error {
	if err := c.Validate(); err != nil {
		return err
	}

	digest, err := c.Digest()
	if err != nil {
		return fmt.Errorf("digest commit:\n%w", err)
	}

	var sum Hash
	copy(sum[:], digest)

	l.mu.Lock()
	defer l.mu.Unlock()

	batchKey, eventKey := BatchKey(c.BatchID), EventKey(c.EventID)

	rb, err := l.st.residency(batchKey)
	if err != nil {
		return err
	}
	re, err := l.st.residency(eventKey)
	if err != nil {
		return err
	}
	if applied(rb, re, c, sum) {
		logger.Debug("duplicate commit", "batch", c.BatchID.Short(), "nonce", c.Nonce, "sequence", c.Sequence)
		return nil
	}
	if rb.State != Delegated || re.State != Delegated || rb.Venue != re.Venue || rb.Nonce != re.Nonce {
		return fmt.Errorf("batch %s:\n%w", c.BatchID.Short(), ErrNotDelegated)
	}
	if c.Nonce != rb.Nonce || c.Sequence <= rb.Sequence {
		logger.Warn("stale commit",
			"batch", c.BatchID.Short(),
			"nonce", c.Nonce,
			"sequence", c.Sequence,
			"current_nonce", rb.Nonce,
			"current_sequence", rb.Sequence,
		)
		return fmt.Errorf("%w: nonce %d seq %d", ErrStaleCommit, c.Nonce, c.Sequence)
	}
	if !l.verify(rb.Venue, digest, c.Signature) {
		logger.Warn("commit signature rejected", "batch", c.BatchID.Short())
		return fmt.Errorf("%w: bad venue signature", ErrUnauthorized)
	}

	stored, err := l.st.batch(c.BatchID)
	if err != nil {
		return fmt.Errorf("load batch:\n%w", err)
	}
	storedEvent, err := l.st.event(c.EventID)
	if err != nil {
		return fmt.Errorf("load event:\n%w", err)
	}
	if err := checkImmutable(stored, storedEvent, c); err != nil {
		return err
	}
	if c.Release && c.Actor != stored.Manufacturer {
		return ErrUnauthorized
	}

	t := l.begin()
	defer t.close()

	if err := l.st.stage(t.batch, batchKey, &c.Batch); err != nil {
		return err
	}
	if err := l.st.stage(t.batch, eventKey, &c.Event); err != nil {
		return err
	}

	tag := Residency{State: Delegated, Venue: rb.Venue, Nonce: rb.Nonce, Sequence: c.Sequence, Digest: sum}
	if c.Release {
		tag = Residency{State: Resident, Nonce: rb.Nonce, Sequence: c.Sequence, Digest: sum}
	}
	l.st.stageResidency(t.batch, batchKey, tag)
	l.st.stageResidency(t.batch, eventKey, tag)

	for i := range c.Updates {
		u := c.Updates[i]
		if err := t.out.add(Notification{Kind: NotifyStateUpdated, StateUpdated: &u}); err != nil {
			return err
		}
	}

	if c.Release {
		err := t.out.add(Notification{
			Kind: NotifySupplyChainCompleted,
			SupplyChainCompleted: &SupplyChainCompleted{
				BatchID:             c.BatchID,
				EventID:             c.EventID,
				FinalStatus:         c.Batch.Status,
				FinalOrderStatus:    c.Event.OrderStatus,
				VerificationStatus:  c.Event.VerificationStatus,
				TotalEvents:         c.Batch.TotalEvents,
				CompletedBy:         c.Actor,
				CompletionTimestamp: c.Timestamp,
			},
		})
		if err != nil {
			return err
		}
	}

	if err := l.commit(t); err != nil {
		return err
	}

	logger.Debug("commit applied",
		"batch", c.BatchID.Short(),
		"nonce", c.Nonce,
		"sequence", c.Sequence,
		"release", c.Release,
		"updates", len(c.Updates),
	)

	return nil
}

// applied reports whether c is the commit both tags last recorded.
func applied(rb, re Residency, c *Commit, digest Hash) bool {
	return rb.Sequence > 0 &&
		rb.Nonce == c.Nonce && rb.Sequence == c.Sequence && rb.Digest == digest &&
		re.Nonce == c.Nonce && re.Sequence == c.Sequence && re.Digest == digest
}

// Validate checks a commit without touching storage.
func (c *Commit) Validate() error {
	if c.Batch.BatchID != c.BatchID || c.Event.EventID != c.EventID {
		return invalidf("commit records do not match their ids")
	}
	if c.Event.BatchID != c.BatchID {
		return invalidf("event %s belongs to batch %s", c.EventID.Short(), c.Event.BatchID.Short())
	}
	if err := c.Batch.Validate(); err != nil {
		return err
	}
	if err := c.Event.Validate(); err != nil {
		return err
	}

	for _, u := range c.Updates {
		if u.BatchID != c.BatchID || u.EventID != c.EventID {
			return invalidf("update for another pair")
		}
	}

	return nil
}

// checkImmutable rejects commits that rewrite fields fixed at creation.
func checkImmutable(batch *BatchLedger, event *ProductEvent, c *Commit) error {
	switch {
	case c.Batch.Manufacturer != batch.Manufacturer:
		return invalidf("commit changes batch manufacturer")
	case c.Batch.BatchSize != batch.BatchSize:
		return invalidf("commit changes batch size")
	case c.Batch.CreatedAt != batch.CreatedAt:
		return invalidf("commit changes batch creation time")
	case c.Event.Actor != event.Actor:
		return invalidf("commit changes event actor")
	}

	return nil
}
