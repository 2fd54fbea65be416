package client

import (
	"context"
	"fmt"
	"net/http"

	"Cassegrain/internal/ledger"
	"Cassegrain/internal/rollup"
)

// Venue talks to a rollupd node.
type Venue struct {
	t transport
}

// NewVenue creates a client for the rollupd HTTP address. hc may be nil.
func NewVenue(addr string, hc *http.Client) *Venue {
	return &Venue{t: newTransport(addr, hc)}
}

// Key returns the venue key to delegate to.
func (c *Venue) Key(ctx context.Context) (ledger.VenueKey, error) {
	var resp struct {
		Venue ledger.VenueKey `json:"venue"`
	}

	if err := c.t.get(ctx, "/venue", &resp); err != nil {
		return ledger.VenueKey{}, fmt.Errorf("get venue key:\n%w", err)
	}

	return resp.Venue, nil
}

// ApplyUpdate sends a sparse patch. Nil fields of p are omitted.
func (c *Venue) ApplyUpdate(ctx context.Context, p rollup.UpdateParams) (*rollup.Session, error) {
	body := map[string]any{
		"signer":   p.Signer,
		"batch_id": p.BatchID,
		"event_id": p.EventID,
	}
	if p.ProductStatus != nil {
		body["new_product_status"] = *p.ProductStatus
	}
	if p.OrderStatus != nil {
		body["new_order_status"] = *p.OrderStatus
	}
	if p.EventType != nil {
		body["new_event_type"] = *p.EventType
	}
	if p.PreviousEvent != nil {
		body["previous_event"] = *p.PreviousEvent
	}
	if p.NextEvent != nil {
		body["next_event"] = *p.NextEvent
	}
	if p.Metadata != nil {
		body["metadata"] = *p.Metadata
	}

	var s rollup.Session
	if err := c.t.post(ctx, "/updates", body, &s); err != nil {
		return nil, fmt.Errorf("apply update:\n%w", err)
	}

	return &s, nil
}

// Commit checkpoints a held pair to the ledger.
func (c *Venue) Commit(ctx context.Context, batchID, eventID ledger.Hash) (*rollup.Session, error) {
	body := map[string]any{
		"batch_id": batchID,
		"event_id": eventID,
	}

	var s rollup.Session
	if err := c.t.post(ctx, "/commits", body, &s); err != nil {
		return nil, fmt.Errorf("commit:\n%w", err)
	}

	return &s, nil
}

// Undelegate returns a held pair to the ledger.
func (c *Venue) Undelegate(ctx context.Context, p rollup.UndelegateParams) (*rollup.Session, error) {
	body := map[string]any{
		"signer":   p.Signer,
		"batch_id": p.BatchID,
		"event_id": p.EventID,
	}

	var s rollup.Session
	if err := c.t.post(ctx, "/undelegations", body, &s); err != nil {
		return nil, fmt.Errorf("undelegate:\n%w", err)
	}

	return &s, nil
}

// Batch returns the working copy of a held batch.
func (c *Venue) Batch(ctx context.Context, id ledger.Hash) (*ledger.BatchLedger, error) {
	var batch ledger.BatchLedger
	if err := c.t.get(ctx, "/batches/"+id.String(), &batch); err != nil {
		return nil, fmt.Errorf("get held batch:\n%w", err)
	}

	return &batch, nil
}

// Event returns the working copy of a held event.
func (c *Venue) Event(ctx context.Context, id ledger.Hash) (*ledger.ProductEvent, error) {
	var event ledger.ProductEvent
	if err := c.t.get(ctx, "/events/"+id.String(), &event); err != nil {
		return nil, fmt.Errorf("get held event:\n%w", err)
	}

	return &event, nil
}
