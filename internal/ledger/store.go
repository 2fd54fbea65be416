package ledger

import (
	"encoding"
	"fmt"

	"Cassegrain/internal/codec"
	"Cassegrain/internal/storage"
)

var (
	// recordPrefix is the Pebble key prefix for the four record kinds.
	recordPrefix = []byte("r:")

	// residencyPrefix is the Pebble key prefix for ownership tags.
	residencyPrefix = []byte("d:")
)

// ResidencyState tells which venue accepts writes for a record.
type ResidencyState uint8

const (
	// Resident records are mutable only through the durable lifecycle operations.
	Resident ResidencyState = iota
	// Delegated records are mutable only by commits from the holding venue.
	Delegated
)

func (s ResidencyState) String() string {
	if s == Delegated {
		return "Delegated"
	}
	return "Resident"
}

func (s ResidencyState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ResidencyState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "Resident":
		*s = Resident
	case "Delegated":
		*s = Delegated
	default:
		return invalidf("residency state %q", text)
	}
	return nil
}

// Residency is the ownership tag stored beside a batch or event record.
// It survives undelegation so that nonces never repeat for a key.
type Residency struct {
	State    ResidencyState `json:"state"`
	Venue    VenueKey       `json:"venue"`    // Venue is the holder while delegated
	Nonce    uint64         `json:"nonce"`    // Nonce counts delegations of this key
	Sequence uint64         `json:"sequence"` // Sequence is the last commit applied under Nonce
	Digest   Hash           `json:"-"`        // Digest identifies the commit at Sequence
}

func (r *Residency) marshal() []byte {
	w := codec.NewWriter(112)
	w.U8(uint8(r.State))
	w.Fixed(r.Venue[:])
	w.U64(r.Nonce)
	w.U64(r.Sequence)
	w.Fixed(r.Digest[:])

	return w.Bytes()
}

func (r *Residency) unmarshal(data []byte) error {
	rd := codec.NewReader(data)
	r.State = ResidencyState(rd.U8())
	rd.Fixed(r.Venue[:])
	r.Nonce = rd.U64()
	r.Sequence = rd.U64()
	rd.Fixed(r.Digest[:])

	return rd.Done()
}

// record is implemented by the four stored record types.
type record interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// store reads and stages ledger records over Pebble.
type store struct {
	db *storage.Storage // db is the underlying Pebble storage
}

// recordKey prefixes a derived key.
func recordKey(key Hash) []byte {
	return append(append([]byte{}, recordPrefix...), key[:]...)
}

// residencyKey prefixes a derived key.
func residencyKey(key Hash) []byte {
	return append(append([]byte{}, residencyPrefix...), key[:]...)
}

// load decodes the record at key into r. Returns ErrNotFound if absent.
func (s *store) load(key Hash, r record) error {
	data, err := s.db.Get(recordKey(key))
	if err != nil {
		return fmt.Errorf("read record %s:\n%w", key.Short(), err)
	}
	if data == nil {
		return ErrNotFound
	}

	if err := r.UnmarshalBinary(data); err != nil {
		return fmt.Errorf("decode record %s:\n%w", key.Short(), err)
	}

	return nil
}

// exists reports whether a record is stored at key.
func (s *store) exists(key Hash) (bool, error) {
	return s.db.Has(recordKey(key))
}

// stage adds a record write to b.
func (s *store) stage(b *storage.Batch, key Hash, r record) error {
	data, err := r.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode record %s:\n%w", key.Short(), err)
	}

	b.Set(recordKey(key), data)

	return nil
}

// residency returns the ownership tag of key. Absent tags mean Resident.
func (s *store) residency(key Hash) (Residency, error) {
	var r Residency

	data, err := s.db.Get(residencyKey(key))
	if err != nil {
		return r, fmt.Errorf("read residency %s:\n%w", key.Short(), err)
	}
	if data == nil {
		return r, nil
	}

	if err := r.unmarshal(data); err != nil {
		return r, fmt.Errorf("decode residency %s:\n%w", key.Short(), err)
	}

	return r, nil
}

// stageResidency adds an ownership tag write to b.
func (s *store) stageResidency(b *storage.Batch, key Hash, r Residency) {
	b.Set(residencyKey(key), r.marshal())
}

func (s *store) config(authority Hash) (*Config, error) {
	c := &Config{}
	if err := s.load(ConfigKey(authority), c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *store) manufacturer(owner Hash) (*ManufacturerProfile, error) {
	m := &ManufacturerProfile{}
	if err := s.load(ManufacturerKey(owner), m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *store) batch(batchID Hash) (*BatchLedger, error) {
	b := &BatchLedger{}
	if err := s.load(BatchKey(batchID), b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *store) event(eventID Hash) (*ProductEvent, error) {
	e := &ProductEvent{}
	if err := s.load(EventKey(eventID), e); err != nil {
		return nil, err
	}
	return e, nil
}
