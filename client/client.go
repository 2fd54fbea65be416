// Package client is a Go client for the ledgerd and rollupd HTTP APIs.
// Failed calls return errors that match the ledger sentinels with errors.Is.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"Cassegrain/internal/ledger"
)

// Ledger talks to a ledgerd node.
type Ledger struct {
	t transport
}

// Delegation is the summary returned by a successful delegate call.
type Delegation struct {
	BatchID ledger.Hash     `json:"batch_id"`
	EventID ledger.Hash     `json:"event_id"`
	Nonce   uint64          `json:"nonce"`
	Venue   ledger.VenueKey `json:"venue"`
}

// NewLedger creates a client for the ledgerd HTTP address. hc may be nil.
func NewLedger(addr string, hc *http.Client) *Ledger {
	return &Ledger{t: newTransport(addr, hc)}
}

// Health checks that the node answers.
func (c *Ledger) Health(ctx context.Context) error {
	return c.t.get(ctx, "/health", nil)
}

// Initialize creates the config owned by p.Authority.
func (c *Ledger) Initialize(ctx context.Context, p ledger.InitializeParams) (*ledger.Config, error) {
	body := map[string]any{
		"authority":                     p.Authority,
		"registration_fee":              p.RegistrationFee,
		"max_events_per_product":        p.MaxEventsPerProduct,
		"max_products_per_manufacturer": p.MaxProductsPerManufacturer,
		"min_event_interval":            p.MinEventInterval,
		"max_batch_size":                p.MaxBatchSize,
	}

	var cfg ledger.Config
	if err := c.t.post(ctx, "/config", body, &cfg); err != nil {
		return nil, fmt.Errorf("initialize:\n%w", err)
	}

	return &cfg, nil
}

// SetPaused toggles the pause switch of a config.
func (c *Ledger) SetPaused(ctx context.Context, p ledger.SetPausedParams) (*ledger.Config, error) {
	body := map[string]any{
		"authority": p.Authority,
		"paused":    p.Paused,
	}

	var cfg ledger.Config
	if err := c.t.post(ctx, "/config/pause", body, &cfg); err != nil {
		return nil, fmt.Errorf("set paused:\n%w", err)
	}

	return &cfg, nil
}

// RegisterManufacturer creates the profile of p.Signer.
func (c *Ledger) RegisterManufacturer(ctx context.Context, p ledger.RegisterManufacturerParams) (*ledger.ManufacturerProfile, error) {
	body := map[string]any{
		"authority":      p.Authority,
		"signer":         p.Signer,
		"company_name":   p.CompanyName,
		"business_type":  p.BusinessType,
		"certifications": p.Certifications,
	}

	var profile ledger.ManufacturerProfile
	if err := c.t.post(ctx, "/manufacturers", body, &profile); err != nil {
		return nil, fmt.Errorf("register manufacturer:\n%w", err)
	}

	return &profile, nil
}

// VerifyManufacturer marks a profile as verified.
func (c *Ledger) VerifyManufacturer(ctx context.Context, p ledger.VerifyManufacturerParams) (*ledger.ManufacturerProfile, error) {
	body := map[string]any{
		"authority": p.Authority,
		"owner":     p.Owner,
	}

	var profile ledger.ManufacturerProfile
	if err := c.t.post(ctx, "/manufacturers/verify", body, &profile); err != nil {
		return nil, fmt.Errorf("verify manufacturer:\n%w", err)
	}

	return &profile, nil
}

// RegisterBatch creates a batch, or returns the existing one for a known id.
func (c *Ledger) RegisterBatch(ctx context.Context, p ledger.RegisterBatchParams) (*ledger.BatchLedger, error) {
	body := map[string]any{
		"authority":  p.Authority,
		"signer":     p.Signer,
		"batch_id":   p.BatchID,
		"metadata":   p.Metadata,
		"category":   p.Category,
		"batch_size": p.BatchSize,
	}

	var batch ledger.BatchLedger
	if err := c.t.post(ctx, "/batches", body, &batch); err != nil {
		return nil, fmt.Errorf("register batch:\n%w", err)
	}

	return &batch, nil
}

// CreateEvent appends an event to a resident batch.
func (c *Ledger) CreateEvent(ctx context.Context, p ledger.CreateEventParams) (*ledger.ProductEvent, error) {
	body := map[string]any{
		"authority":      p.Authority,
		"signer":         p.Signer,
		"batch_id":       p.BatchID,
		"event_id":       p.EventID,
		"event_type":     p.EventType,
		"metadata":       p.Metadata,
		"order_status":   p.OrderStatus,
		"previous_event": p.PreviousEvent,
	}

	var event ledger.ProductEvent
	if err := c.t.post(ctx, "/events", body, &event); err != nil {
		return nil, fmt.Errorf("create event:\n%w", err)
	}

	return &event, nil
}

// Delegate hands a batch and event pair to a venue.
func (c *Ledger) Delegate(ctx context.Context, p ledger.DelegateParams) (*Delegation, error) {
	body := map[string]any{
		"authority": p.Authority,
		"signer":    p.Signer,
		"batch_id":  p.BatchID,
		"event_id":  p.EventID,
		"venue":     p.Venue,
	}

	var d Delegation
	if err := c.t.post(ctx, "/delegations", body, &d); err != nil {
		return nil, fmt.Errorf("delegate:\n%w", err)
	}

	return &d, nil
}

// Config returns the config owned by authority.
func (c *Ledger) Config(ctx context.Context, authority ledger.Hash) (*ledger.Config, error) {
	var cfg ledger.Config
	if err := c.t.get(ctx, "/config/"+authority.String(), &cfg); err != nil {
		return nil, fmt.Errorf("get config:\n%w", err)
	}

	return &cfg, nil
}

// Manufacturer returns the profile registered by owner.
func (c *Ledger) Manufacturer(ctx context.Context, owner ledger.Hash) (*ledger.ManufacturerProfile, error) {
	var profile ledger.ManufacturerProfile
	if err := c.t.get(ctx, "/manufacturers/"+owner.String(), &profile); err != nil {
		return nil, fmt.Errorf("get manufacturer:\n%w", err)
	}

	return &profile, nil
}

// Batch returns a batch and its ownership tag.
func (c *Ledger) Batch(ctx context.Context, id ledger.Hash) (*ledger.BatchLedger, ledger.Residency, error) {
	var resp struct {
		Batch     *ledger.BatchLedger `json:"batch"`
		Residency ledger.Residency    `json:"residency"`
	}

	if err := c.t.get(ctx, "/batches/"+id.String(), &resp); err != nil {
		return nil, ledger.Residency{}, fmt.Errorf("get batch:\n%w", err)
	}

	return resp.Batch, resp.Residency, nil
}

// Event returns an event and its ownership tag.
func (c *Ledger) Event(ctx context.Context, id ledger.Hash) (*ledger.ProductEvent, ledger.Residency, error) {
	var resp struct {
		Event     *ledger.ProductEvent `json:"event"`
		Residency ledger.Residency     `json:"residency"`
	}

	if err := c.t.get(ctx, "/events/"+id.String(), &resp); err != nil {
		return nil, ledger.Residency{}, fmt.Errorf("get event:\n%w", err)
	}

	return resp.Event, resp.Residency, nil
}

// Notifications returns up to limit notifications after sequence after, and
// the newest sequence the node has committed. A limit of zero uses the
// server default.
func (c *Ledger) Notifications(ctx context.Context, after uint64, limit int) ([]ledger.Notification, uint64, error) {
	query := url.Values{}
	query.Set("after", strconv.FormatUint(after, 10))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp struct {
		Notifications []ledger.Notification `json:"notifications"`
		LastSeq       uint64                `json:"last_seq"`
	}

	if err := c.t.get(ctx, "/notifications?"+query.Encode(), &resp); err != nil {
		return nil, 0, fmt.Errorf("get notifications:\n%w", err)
	}

	return resp.Notifications, resp.LastSeq, nil
}
