package ledger

import (
	"fmt"

	"Cassegrain/internal/logger"
)

// RegisterBatchParams describe a batch to create.
type RegisterBatchParams struct {
	Authority Hash // Authority selects the config
	Signer    Hash // Signer must be a verified manufacturer
	BatchID   Hash
	Metadata  *string
	Category  ProductCategory
	BatchSize uint8
}

// RegisterBatch creates the batch ledger for p.BatchID. Creation is
// idempotent: if a non-empty record already exists the call succeeds,
// changes nothing, and reports created=false.
func (l *Ledger) RegisterBatch(p RegisterBatchParams) (batch *BatchLedger, created bool, err error) {
	if p.BatchID.IsZero() {
		return nil, false, invalidf("batch id is zero")
	}
	if err := checkOptText("metadata", p.Metadata); err != nil {
		return nil, false, err
	}
	if !p.Category.Valid() {
		return nil, false, invalidf("category %d", p.Category)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cfg, err := l.activeConfig(p.Authority)
	if err != nil {
		return nil, false, err
	}
	if p.BatchSize == 0 || p.BatchSize > cfg.MaxBatchSize {
		return nil, false, invalidf("batch size %d outside [1, %d]", p.BatchSize, cfg.MaxBatchSize)
	}

	profile, err := l.st.manufacturer(p.Signer)
	if err != nil {
		return nil, false, fmt.Errorf("load manufacturer:\n%w", err)
	}
	if profile.Owner != p.Signer {
		return nil, false, ErrUnauthorized
	}
	if !profile.IsVerified {
		return nil, false, ErrNotVerified
	}

	existing, err := l.st.batch(p.BatchID)
	switch {
	case err == nil && existing.BatchSize != 0:
		logger.Debug("batch already registered", "batch", p.BatchID.Short())
		return existing, false, nil
	case err != nil && CodeOf(err) != CodeNotFound:
		return nil, false, err
	}

	t := l.begin()
	defer t.close()

	batch = &BatchLedger{
		BatchID:          p.BatchID,
		ManufacturerName: profile.CompanyName,
		Status:           StatusCreated,
		CreatedAt:        t.now,
		LastUpdated:      t.now,
		Metadata:         p.Metadata,
		Category:         p.Category,
		Manufacturer:     p.Signer,
		BatchSize:        p.BatchSize,
		Salt:             DerivationSalt,
	}

	if err := l.st.stage(t.batch, BatchKey(p.BatchID), batch); err != nil {
		return nil, false, err
	}
	if err := l.commit(t); err != nil {
		return nil, false, err
	}

	logger.Debug("batch registered", "batch", p.BatchID.Short(), "size", p.BatchSize)

	return batch, true, nil
}

// CreateEventParams describe an event to append to a batch.
type CreateEventParams struct {
	Authority     Hash // Authority selects the config
	Signer        Hash // Signer must be the batch's manufacturer
	BatchID       Hash
	EventID       Hash
	EventType     EventType
	Metadata      *string
	OrderStatus   OrderStatus
	PreviousEvent *Hash // PreviousEvent is stored as given, never checked against the chain
}

// CreateEvent appends an event to a resident batch and emits EventCreated.
func (l *Ledger) CreateEvent(p CreateEventParams) (*ProductEvent, error) {
	if p.BatchID.IsZero() || p.EventID.IsZero() {
		return nil, invalidf("batch and event ids must be non-zero")
	}
	if err := checkOptText("metadata", p.Metadata); err != nil {
		return nil, err
	}
	if !p.EventType.Valid() || !p.OrderStatus.Valid() {
		return nil, invalidf("event type %d or order status %d", p.EventType, p.OrderStatus)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cfg, err := l.activeConfig(p.Authority)
	if err != nil {
		return nil, err
	}

	batch, err := l.st.batch(p.BatchID)
	if err != nil {
		return nil, fmt.Errorf("load batch:\n%w", err)
	}
	if batch.Manufacturer != p.Signer {
		return nil, ErrUnauthorized
	}

	profile, err := l.st.manufacturer(p.Signer)
	if err != nil {
		return nil, fmt.Errorf("load manufacturer:\n%w", err)
	}
	if profile.Owner != p.Signer {
		return nil, ErrUnauthorized
	}

	if err := l.requireResident(BatchKey(p.BatchID)); err != nil {
		return nil, err
	}

	exists, err := l.st.exists(EventKey(p.EventID))
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("event %s:\n%w", p.EventID.Short(), ErrAlreadyExists)
	}

	if cfg.MaxEventsPerProduct > 0 && batch.TotalEvents >= cfg.MaxEventsPerProduct {
		return nil, invalidf("event limit %d reached", cfg.MaxEventsPerProduct)
	}

	t := l.begin()
	defer t.close()

	if batch.TotalEvents > 0 {
		if elapsed := t.now - batch.LastUpdated; elapsed < cfg.MinEventInterval {
			logger.Info("event rate limited", "batch", p.BatchID.Short(), "elapsed", elapsed)
			return nil, fmt.Errorf("%w: %ds since last event, need %ds", ErrRateLimited, elapsed, cfg.MinEventInterval)
		}
	}

	event := &ProductEvent{
		EventID:            p.EventID,
		BatchID:            p.BatchID,
		EventType:          p.EventType,
		Actor:              p.Signer,
		Timestamp:          t.now,
		Metadata:           p.Metadata,
		VerificationStatus: VerificationPending,
		OrderStatus:        p.OrderStatus,
		PreviousEvent:      p.PreviousEvent,
		Salt:               DerivationSalt,
	}

	head := p.EventID
	batch.TotalEvents++
	batch.LastUpdated = t.now
	batch.EventChainHead = &head

	if err := l.st.stage(t.batch, EventKey(p.EventID), event); err != nil {
		return nil, err
	}
	if err := l.st.stage(t.batch, BatchKey(p.BatchID), batch); err != nil {
		return nil, err
	}
	err = t.out.add(Notification{
		Kind: NotifyEventCreated,
		EventCreated: &EventCreated{
			EventID:   p.EventID,
			BatchID:   p.BatchID,
			EventType: p.EventType,
			Actor:     p.Signer,
			Timestamp: t.now,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := l.commit(t); err != nil {
		return nil, err
	}

	logger.Debug("event created",
		"batch", p.BatchID.Short(),
		"event", p.EventID.Short(),
		"type", p.EventType,
		"total", batch.TotalEvents,
	)

	return event, nil
}

// requireResident fails with ErrDelegated if key is held by a venue.
func (l *Ledger) requireResident(key Hash) error {
	r, err := l.st.residency(key)
	if err != nil {
		return err
	}
	if r.State != Resident {
		return fmt.Errorf("%s:\n%w", key.Short(), ErrDelegated)
	}
	return nil
}
