package bridge

import (
	"context"
	"fmt"
	"sync"

	"Cassegrain/internal/ledger"
	"Cassegrain/internal/logger"
	"Cassegrain/internal/metrics"
	"Cassegrain/internal/types"
)

// Local is an in-process Caller that serves requests through a Router.
type Local struct {
	Router *Router // Router handles every request
	From   string  // From is reported to handlers as the remote identity
}

// Request serves data synchronously.
func (l *Local) Request(ctx context.Context, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return l.Router.Serve(ctx, l.From, append([]byte(nil), data...)), nil
}

// Directory maps venue keys to the connection that announced them.
type Directory struct {
	mu     sync.RWMutex               // mu protects venues
	venues map[ledger.VenueKey]Caller // venues maps a BLS key to its caller
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{venues: make(map[ledger.VenueKey]Caller)}
}

// Register binds venue to c, replacing any earlier binding.
func (d *Directory) Register(venue ledger.VenueKey, c Caller) {
	d.mu.Lock()
	d.venues[venue] = c
	d.mu.Unlock()
}

// Forget removes every venue bound to c.
func (d *Directory) Forget(c Caller) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for k, v := range d.venues {
		if v == c {
			delete(d.venues, k)
		}
	}
}

// Lookup returns the caller for venue.
func (d *Directory) Lookup(venue ledger.VenueKey) (Caller, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, ok := d.venues[venue]
	return c, ok
}

// Len returns the number of known venues.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.venues)
}

// Dispatcher delivers hand-offs to venues found in a Directory.
// It implements ledger.Deliverer.
type Dispatcher struct {
	dir     *Directory
	metrics *metrics.Metrics
}

// NewDispatcher creates a dispatcher over dir.
func NewDispatcher(dir *Directory, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{dir: dir, metrics: m}
}

// Deliver sends h to its venue and waits for the venue to accept it.
func (d *Dispatcher) Deliver(ctx context.Context, h *ledger.Handoff) error {
	c, ok := d.dir.Lookup(h.Venue)
	if !ok {
		return fmt.Errorf("%w: venue %s not connected", ledger.ErrNotFound, h.Venue.String()[:16])
	}

	data, err := EncodeHandoff(h)
	if err != nil {
		return fmt.Errorf("encode handoff:\n%w", err)
	}

	_, err = Call(ctx, c, types.MessageKindHandoff, data)
	d.metrics.ObserveBridge(types.MessageKindHandoff.String(), "out", outcome(err))

	return err
}

// CommitSender submits signed commits to the ledger over a Caller.
type CommitSender struct {
	ledger  Caller
	metrics *metrics.Metrics
}

// NewCommitSender creates a sender that talks to the ledger through c.
func NewCommitSender(c Caller, m *metrics.Metrics) *CommitSender {
	return &CommitSender{ledger: c, metrics: m}
}

// SubmitCommit encodes c and waits for the ledger to apply it.
func (s *CommitSender) SubmitCommit(ctx context.Context, c *ledger.Commit) error {
	data, err := EncodeCommit(c)
	if err != nil {
		return fmt.Errorf("encode commit:\n%w", err)
	}

	_, err = Call(ctx, s.ledger, types.MessageKindCommit, data)
	s.metrics.ObserveBridge(types.MessageKindCommit.String(), "out", outcome(err))

	return err
}

// Announce sends the venue's Hello over c.
func Announce(ctx context.Context, c Caller, s *Signer) error {
	if _, err := Call(ctx, c, types.MessageKindHello, EncodeHello(s)); err != nil {
		return fmt.Errorf("announce venue:\n%w", err)
	}

	return nil
}

// ResolveFunc returns the caller for a remote identity passed to a handler.
type ResolveFunc func(from string) (Caller, bool)

// ServeLedger registers the ledger-side handlers on r: Hello binds a venue
// key to the announcing connection and Commit applies a venue commit.
func ServeLedger(r *Router, l *ledger.Ledger, dir *Directory, resolve ResolveFunc) {
	r.Handle(types.MessageKindHello, func(_ context.Context, from string, payload []byte) ([]byte, error) {
		venue, err := DecodeHello(payload)
		if err != nil {
			return nil, err
		}

		c, ok := resolve(from)
		if !ok {
			return nil, fmt.Errorf("%w: peer %s", ledger.ErrNotFound, shortPeer(from))
		}

		dir.Register(venue, c)
		logger.Info("venue announced", "venue", venue.String()[:16], "peer", shortPeer(from))

		return nil, nil
	})

	r.Handle(types.MessageKindCommit, func(_ context.Context, _ string, payload []byte) ([]byte, error) {
		c, err := DecodeCommit(payload)
		if err != nil {
			return nil, err
		}

		return nil, l.ApplyCommit(c)
	})
}
