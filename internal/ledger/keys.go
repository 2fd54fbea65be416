package ledger

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Namespaces separate the derived key spaces of the four record kinds.
const (
	nsConfig       = "config"
	nsManufacturer = "manufacturer"
	nsBatch        = "batch"
	nsEvent        = "event"
)

// DerivationSalt is stored in every record alongside its derived key.
const DerivationSalt uint8 = 255

// Hash is a 32-byte identity, identifier or derived storage key.
type Hash [32]byte

// VenueKey is the compressed BLS public key of a rollup venue.
type VenueKey [48]byte

// ParseHash decodes a 64-character hex string.
func ParseHash(s string) (Hash, error) {
	var h Hash

	b, err := hex.DecodeString(s)
	if err != nil {
		return h, invalidf("hash %q: %v", s, err)
	}
	if len(b) != len(h) {
		return h, invalidf("hash must be %d bytes, got %d", len(h), len(b))
	}

	copy(h[:], b)

	return h, nil
}

// String returns the hex encoding.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 8 hex characters for logs.
func (h Hash) Short() string {
	return hex.EncodeToString(h[:4])
}

// IsZero reports whether every byte is zero.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalText encodes the hash as hex.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText decodes a hex hash.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}

	*h = parsed

	return nil
}

// ParseVenueKey decodes a 96-character hex string.
func ParseVenueKey(s string) (VenueKey, error) {
	var k VenueKey

	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(k) {
		return k, fmt.Errorf("%w: venue key must be %d hex bytes", ErrInvalidInput, len(k))
	}

	copy(k[:], b)

	return k, nil
}

func (k VenueKey) String() string {
	return hex.EncodeToString(k[:])
}

// IsZero reports whether the key is unset.
func (k VenueKey) IsZero() bool {
	return k == VenueKey{}
}

func (k VenueKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *VenueKey) UnmarshalText(text []byte) error {
	parsed, err := ParseVenueKey(string(text))
	if err != nil {
		return err
	}

	*k = parsed

	return nil
}

// deriveKey computes blake3(namespace || id).
func deriveKey(namespace string, id []byte) Hash {
	buf := make([]byte, 0, len(namespace)+len(id))
	buf = append(buf, namespace...)
	buf = append(buf, id...)

	return blake3.Sum256(buf)
}

// ConfigKey derives the storage key of the Config owned by authority.
func ConfigKey(authority Hash) Hash {
	return deriveKey(nsConfig, authority[:])
}

// ManufacturerKey derives the storage key of the profile owned by signer.
func ManufacturerKey(signer Hash) Hash {
	return deriveKey(nsManufacturer, signer[:])
}

// BatchKey derives the storage key of a batch ledger.
func BatchKey(batchID Hash) Hash {
	return deriveKey(nsBatch, batchID[:])
}

// EventKey derives the storage key of a product event.
func EventKey(eventID Hash) Hash {
	return deriveKey(nsEvent, eventID[:])
}
