package ledger

import (
	"fmt"

	"Cassegrain/internal/codec"
)

// MaxTextLen bounds company names, certifications and metadata pointers.
const MaxTextLen = 32

// recordKind is the leading tag byte of every encoded record.
type recordKind uint8

const (
	kindConfig recordKind = iota + 1
	kindManufacturer
	kindBatch
	kindEvent
)

// Config holds the global parameters of one issuing authority.
type Config struct {
	Authority                  Hash   `json:"authority"`                     // Authority is the creating identity
	IsPaused                   bool   `json:"is_paused"`                     // IsPaused blocks every mutation
	RegistrationFee            uint64 `json:"registration_fee"`              // RegistrationFee is recorded, never charged
	FeeTreasury                Hash   `json:"fee_treasury"`                  // FeeTreasury is the fee destination
	MaxEventsPerProduct        uint32 `json:"max_events_per_product"`        // MaxEventsPerProduct caps create_event, 0 disables
	MaxProductsPerManufacturer uint32 `json:"max_products_per_manufacturer"` // MaxProductsPerManufacturer is stored only
	MinEventInterval           int64  `json:"min_event_interval"`            // MinEventInterval is in seconds
	MaxBatchSize               uint8  `json:"max_batch_size"`                // MaxBatchSize bounds register_batch
	Salt                       uint8  `json:"salt"`
}

// ManufacturerProfile is the registry entry of one registrant.
type ManufacturerProfile struct {
	CompanyName    string       `json:"company_name"`
	BusinessType   BusinessType `json:"business_type"`
	Owner          Hash         `json:"owner"`
	Certifications string       `json:"certifications"`
	IsVerified     bool         `json:"is_verified"`
	Salt           uint8        `json:"salt"`
}

// BatchLedger aggregates the lifecycle of one batch.
type BatchLedger struct {
	BatchID          Hash            `json:"batch_id"`
	ManufacturerName string          `json:"manufacturer_name"` // ManufacturerName is a snapshot taken at creation
	Status           ProductStatus   `json:"status"`
	CreatedAt        int64           `json:"created_at"`
	LastUpdated      int64           `json:"last_updated"`
	Metadata         *string         `json:"metadata,omitempty"`
	IsAuthentic      bool            `json:"is_authentic"`
	Category         ProductCategory `json:"category"`
	Manufacturer     Hash            `json:"manufacturer"`                // Manufacturer is the owning identity
	EventChainHead   *Hash           `json:"event_chain_head,omitempty"` // EventChainHead is the latest event created durably
	TotalEvents      uint32          `json:"total_events"`
	BatchSize        uint8           `json:"batch_size"`
	Salt             uint8           `json:"salt"`
}

// ProductEvent is one link of a batch's event chain.
type ProductEvent struct {
	EventID            Hash               `json:"event_id"`
	BatchID            Hash               `json:"batch_id"`
	EventType          EventType          `json:"event_type"`
	Actor              Hash               `json:"actor"`
	Timestamp          int64              `json:"timestamp"`
	Metadata           *string            `json:"metadata,omitempty"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	OrderStatus        OrderStatus        `json:"order_status"`
	PreviousEvent      *Hash              `json:"previous_event,omitempty"`
	NextEvent          *Hash              `json:"next_event,omitempty"`
	Salt               uint8              `json:"salt"`
}

// checkText rejects strings longer than MaxTextLen bytes.
func checkText(field, s string) error {
	if len(s) > MaxTextLen {
		return invalidf("%s is %d bytes, max %d", field, len(s), MaxTextLen)
	}
	return nil
}

// checkOptText is checkText for optional strings.
func checkOptText(field string, s *string) error {
	if s == nil {
		return nil
	}
	return checkText(field, *s)
}

// writeOptHash writes an optional 32-byte identity.
func writeOptHash(w *codec.Writer, h *Hash) {
	if h == nil {
		w.OptFixed(nil)
		return
	}
	w.OptFixed(h[:])
}

// readOptHash reads an optional 32-byte identity.
func readOptHash(r *codec.Reader) *Hash {
	var h Hash
	if !r.OptFixed(h[:]) {
		return nil
	}
	return &h
}

// readHeader consumes the record tag and checks it.
func readHeader(r *codec.Reader, want recordKind) error {
	if got := recordKind(r.U8()); r.Err() == nil && got != want {
		return fmt.Errorf("decode record: kind %d, want %d", got, want)
	}
	return r.Err()
}

// MarshalBinary encodes the config record.
func (c *Config) MarshalBinary() ([]byte, error) {
	w := codec.NewWriter(128)
	w.U8(uint8(kindConfig))
	w.Fixed(c.Authority[:])
	w.Bool(c.IsPaused)
	w.U64(c.RegistrationFee)
	w.Fixed(c.FeeTreasury[:])
	w.U32(c.MaxEventsPerProduct)
	w.U32(c.MaxProductsPerManufacturer)
	w.I64(c.MinEventInterval)
	w.U8(c.MaxBatchSize)
	w.U8(c.Salt)

	return w.Bytes(), nil
}

// UnmarshalBinary decodes a config record.
func (c *Config) UnmarshalBinary(data []byte) error {
	r := codec.NewReader(data)
	if err := readHeader(r, kindConfig); err != nil {
		return err
	}

	r.Fixed(c.Authority[:])
	c.IsPaused = r.Bool()
	c.RegistrationFee = r.U64()
	r.Fixed(c.FeeTreasury[:])
	c.MaxEventsPerProduct = r.U32()
	c.MaxProductsPerManufacturer = r.U32()
	c.MinEventInterval = r.I64()
	c.MaxBatchSize = r.U8()
	c.Salt = r.U8()

	return r.Done()
}

// MarshalBinary encodes the profile record.
func (m *ManufacturerProfile) MarshalBinary() ([]byte, error) {
	w := codec.NewWriter(128)
	w.U8(uint8(kindManufacturer))
	w.String(m.CompanyName)
	w.U8(uint8(m.BusinessType))
	w.Fixed(m.Owner[:])
	w.String(m.Certifications)
	w.Bool(m.IsVerified)
	w.U8(m.Salt)

	return w.Bytes(), nil
}

// UnmarshalBinary decodes a profile record.
func (m *ManufacturerProfile) UnmarshalBinary(data []byte) error {
	r := codec.NewReader(data)
	if err := readHeader(r, kindManufacturer); err != nil {
		return err
	}

	m.CompanyName = r.String()
	m.BusinessType = BusinessType(r.U8())
	r.Fixed(m.Owner[:])
	m.Certifications = r.String()
	m.IsVerified = r.Bool()
	m.Salt = r.U8()

	return r.Done()
}

// MarshalBinary encodes the batch record.
func (b *BatchLedger) MarshalBinary() ([]byte, error) {
	w := codec.NewWriter(192)
	w.U8(uint8(kindBatch))
	w.Fixed(b.BatchID[:])
	w.String(b.ManufacturerName)
	w.U8(uint8(b.Status))
	w.I64(b.CreatedAt)
	w.I64(b.LastUpdated)
	w.OptString(b.Metadata)
	w.Bool(b.IsAuthentic)
	w.U8(uint8(b.Category))
	w.Fixed(b.Manufacturer[:])
	writeOptHash(w, b.EventChainHead)
	w.U32(b.TotalEvents)
	w.U8(b.BatchSize)
	w.U8(b.Salt)

	return w.Bytes(), nil
}

// UnmarshalBinary decodes a batch record.
func (b *BatchLedger) UnmarshalBinary(data []byte) error {
	r := codec.NewReader(data)
	if err := readHeader(r, kindBatch); err != nil {
		return err
	}

	r.Fixed(b.BatchID[:])
	b.ManufacturerName = r.String()
	b.Status = ProductStatus(r.U8())
	b.CreatedAt = r.I64()
	b.LastUpdated = r.I64()
	b.Metadata = r.OptString()
	b.IsAuthentic = r.Bool()
	b.Category = ProductCategory(r.U8())
	r.Fixed(b.Manufacturer[:])
	b.EventChainHead = readOptHash(r)
	b.TotalEvents = r.U32()
	b.BatchSize = r.U8()
	b.Salt = r.U8()

	return r.Done()
}

// MarshalBinary encodes the event record.
func (e *ProductEvent) MarshalBinary() ([]byte, error) {
	w := codec.NewWriter(224)
	w.U8(uint8(kindEvent))
	w.Fixed(e.EventID[:])
	w.Fixed(e.BatchID[:])
	w.U8(uint8(e.EventType))
	w.Fixed(e.Actor[:])
	w.I64(e.Timestamp)
	w.OptString(e.Metadata)
	w.U8(uint8(e.VerificationStatus))
	w.U8(uint8(e.OrderStatus))
	writeOptHash(w, e.PreviousEvent)
	writeOptHash(w, e.NextEvent)
	w.U8(e.Salt)

	return w.Bytes(), nil
}

// UnmarshalBinary decodes an event record.
func (e *ProductEvent) UnmarshalBinary(data []byte) error {
	r := codec.NewReader(data)
	if err := readHeader(r, kindEvent); err != nil {
		return err
	}

	r.Fixed(e.EventID[:])
	r.Fixed(e.BatchID[:])
	e.EventType = EventType(r.U8())
	r.Fixed(e.Actor[:])
	e.Timestamp = r.I64()
	e.Metadata = r.OptString()
	e.VerificationStatus = VerificationStatus(r.U8())
	e.OrderStatus = OrderStatus(r.U8())
	e.PreviousEvent = readOptHash(r)
	e.NextEvent = readOptHash(r)
	e.Salt = r.U8()

	return r.Done()
}

// Validate checks the invariants a batch received from a remote venue must hold.
func (b *BatchLedger) Validate() error {
	if !b.Status.Valid() || !b.Category.Valid() {
		return invalidf("batch enum out of range")
	}
	if err := checkText("manufacturer_name", b.ManufacturerName); err != nil {
		return err
	}
	return checkOptText("metadata", b.Metadata)
}

// Validate checks the invariants an event received from a remote venue must hold.
func (e *ProductEvent) Validate() error {
	if !e.EventType.Valid() || !e.VerificationStatus.Valid() || !e.OrderStatus.Valid() {
		return invalidf("event enum out of range")
	}
	return checkOptText("metadata", e.Metadata)
}
