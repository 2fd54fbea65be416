// Package ledger is the durable system of record: configuration, the
// manufacturer registry, batch and event lifecycle, and the durable side of
// the rollup delegation protocol.
//
// Every exported operation runs under a single mutex and stages all of its
// writes, notifications included, in one Pebble batch. Either the whole
// batch commits or nothing is observable.
package ledger

import (
	"fmt"
	"sync"

	"Cassegrain/internal/logger"
	"Cassegrain/internal/storage"
)

// VerifyFunc checks a venue signature over a commit digest.
type VerifyFunc func(venue VenueKey, digest, signature []byte) bool

// Ledger executes the durable operations.
type Ledger struct {
	mu      sync.Mutex       // mu serializes operations
	db      *storage.Storage // db is the underlying Pebble storage
	st      store            // st reads and stages records
	clock   Clock            // clock stamps every operation
	verify  VerifyFunc       // verify authenticates venue commits
	lastSeq uint64           // lastSeq is the last committed notification sequence
}

// New opens a ledger over db. verify may be nil, in which case every
// commit is rejected as unauthorized.
func New(db *storage.Storage, clock Clock, verify VerifyFunc) (*Ledger, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	if verify == nil {
		verify = func(VenueKey, []byte, []byte) bool { return false }
	}

	seq, err := lastNotifySeq(db)
	if err != nil {
		return nil, fmt.Errorf("recover notification log:\n%w", err)
	}

	logger.Debug("ledger opened", "last_seq", seq)

	return &Ledger{
		db:      db,
		st:      store{db: db},
		clock:   clock,
		verify:  verify,
		lastSeq: seq,
	}, nil
}

// txn is the write set of one operation.
type txn struct {
	batch *storage.Batch // batch stages record and log writes
	out   outbox         // out stages notifications
	now   int64          // now is the single clock reading of the operation
}

// begin opens a write set. Callers must hold l.mu and defer t.close().
func (l *Ledger) begin() *txn {
	b := l.db.NewBatch()

	return &txn{
		batch: b,
		out:   outbox{next: l.lastSeq + 1, batch: b},
		now:   l.clock.Now(),
	}
}

// close releases the batch.
func (t *txn) close() {
	_ = t.batch.Close()
}

// commit applies the write set and publishes its notification sequences.
func (l *Ledger) commit(t *txn) error {
	if err := t.batch.Commit(); err != nil {
		return fmt.Errorf("commit batch:\n%w", err)
	}

	l.lastSeq += uint64(t.out.count)

	return nil
}

// activeConfig loads the authority's config and rejects mutations while paused.
func (l *Ledger) activeConfig(authority Hash) (*Config, error) {
	cfg, err := l.st.config(authority)
	if err != nil {
		return nil, fmt.Errorf("load config:\n%w", err)
	}
	if cfg.Authority != authority {
		return nil, ErrUnauthorized
	}
	if cfg.IsPaused {
		return nil, ErrProgramPaused
	}

	return cfg, nil
}

// Config returns the config owned by authority.
func (l *Ledger) Config(authority Hash) (*Config, error) {
	return l.st.config(authority)
}

// Manufacturer returns the profile registered by owner.
func (l *Ledger) Manufacturer(owner Hash) (*ManufacturerProfile, error) {
	return l.st.manufacturer(owner)
}

// Batch returns the batch ledger for batchID.
func (l *Ledger) Batch(batchID Hash) (*BatchLedger, error) {
	return l.st.batch(batchID)
}

// Event returns the product event for eventID.
func (l *Ledger) Event(eventID Hash) (*ProductEvent, error) {
	return l.st.event(eventID)
}

// BatchResidency returns the ownership tag of a batch.
func (l *Ledger) BatchResidency(batchID Hash) (Residency, error) {
	return l.st.residency(BatchKey(batchID))
}

// EventResidency returns the ownership tag of an event.
func (l *Ledger) EventResidency(eventID Hash) (Residency, error) {
	return l.st.residency(EventKey(eventID))
}

// Notifications returns up to limit notifications with a sequence above after.
// A limit of zero or less returns everything.
func (l *Ledger) Notifications(after uint64, limit int) ([]Notification, error) {
	return readNotifications(l.db, after, limit)
}

// LastSeq returns the sequence of the newest committed notification.
func (l *Ledger) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.lastSeq
}
