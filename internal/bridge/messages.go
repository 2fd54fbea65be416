// Package bridge carries delegation traffic between the ledger and a rollup
// venue: FlatBuffers framing, zstd-compressed hand-offs, BLS-signed commits
// and a small request router usable over QUIC or in process.
package bridge

import (
	"bytes"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/zeebo/blake3"

	"Cassegrain/internal/ledger"
	"Cassegrain/internal/types"
)

// minTableSize is the smallest buffer that can hold a root offset and a vtable.
const minTableSize = 8

// EncodeHandoff serializes and compresses a hand-off snapshot.
func EncodeHandoff(h *ledger.Handoff) ([]byte, error) {
	batch, err := h.Batch.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode batch:\n%w", err)
	}
	event, err := h.Event.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode event:\n%w", err)
	}

	sum := snapshotChecksum(batch, event)

	b := flatbuffers.NewBuilder(512)

	batchIDVec := b.CreateByteVector(h.BatchID[:])
	eventIDVec := b.CreateByteVector(h.EventID[:])
	venueVec := b.CreateByteVector(h.Venue[:])
	ownerVec := b.CreateByteVector(h.Owner[:])
	batchVec := b.CreateByteVector(batch)
	eventVec := b.CreateByteVector(event)
	sumVec := b.CreateByteVector(sum[:])

	types.HandoffStart(b)
	types.HandoffAddBatchId(b, batchIDVec)
	types.HandoffAddEventId(b, eventIDVec)
	types.HandoffAddNonce(b, h.Nonce)
	types.HandoffAddVenue(b, venueVec)
	types.HandoffAddOwner(b, ownerVec)
	types.HandoffAddBatch(b, batchVec)
	types.HandoffAddEvent(b, eventVec)
	types.HandoffAddChecksum(b, sumVec)
	b.Finish(types.HandoffEnd(b))

	return compress(b.FinishedBytes())
}

// DecodeHandoff reverses EncodeHandoff and verifies the snapshot checksum.
func DecodeHandoff(data []byte) (*ledger.Handoff, error) {
	raw, err := decompress(data)
	if err != nil {
		return nil, fmt.Errorf("decompress handoff:\n%w", err)
	}

	h := &ledger.Handoff{}

	err = safeDecode(raw, func() error {
		fb := types.GetRootAsHandoff(raw, 0)

		batch, event := fb.BatchBytes(), fb.EventBytes()
		sum := snapshotChecksum(batch, event)
		if !bytes.Equal(sum[:], fb.ChecksumBytes()) {
			return fmt.Errorf("%w: handoff checksum mismatch", ledger.ErrInvalidInput)
		}

		if err := copyFixed(h.BatchID[:], fb.BatchIdBytes(), "batch_id"); err != nil {
			return err
		}
		if err := copyFixed(h.EventID[:], fb.EventIdBytes(), "event_id"); err != nil {
			return err
		}
		if err := copyFixed(h.Venue[:], fb.VenueBytes(), "venue"); err != nil {
			return err
		}
		if err := copyFixed(h.Owner[:], fb.OwnerBytes(), "owner"); err != nil {
			return err
		}
		h.Nonce = fb.Nonce()

		if err := h.Batch.UnmarshalBinary(batch); err != nil {
			return fmt.Errorf("decode batch:\n%w", err)
		}
		if err := h.Event.UnmarshalBinary(event); err != nil {
			return fmt.Errorf("decode event:\n%w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return h, nil
}

// EncodeCommit serializes a signed commit.
func EncodeCommit(c *ledger.Commit) ([]byte, error) {
	batch, err := c.Batch.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode batch:\n%w", err)
	}
	event, err := c.Event.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode event:\n%w", err)
	}

	b := flatbuffers.NewBuilder(1024)

	updateOffsets := make([]flatbuffers.UOffsetT, len(c.Updates))
	for i, u := range c.Updates {
		byVec := b.CreateByteVector(u.UpdatedBy[:])

		types.StateUpdateStart(b)
		types.StateUpdateAddUpdatedBy(b, byVec)
		types.StateUpdateAddProductStatus(b, byte(u.ProductStatus))
		types.StateUpdateAddOrderStatus(b, byte(u.OrderStatus))
		types.StateUpdateAddEventType(b, byte(u.EventType))
		types.StateUpdateAddTimestamp(b, u.Timestamp)
		updateOffsets[i] = types.StateUpdateEnd(b)
	}

	types.CommitStartUpdatesVector(b, len(updateOffsets))
	for i := len(updateOffsets) - 1; i >= 0; i-- {
		b.PrependUOffsetT(updateOffsets[i])
	}
	updatesVec := b.EndVector(len(updateOffsets))

	batchIDVec := b.CreateByteVector(c.BatchID[:])
	eventIDVec := b.CreateByteVector(c.EventID[:])
	actorVec := b.CreateByteVector(c.Actor[:])
	batchVec := b.CreateByteVector(batch)
	eventVec := b.CreateByteVector(event)
	sigVec := b.CreateByteVector(c.Signature)

	types.CommitStart(b)
	types.CommitAddBatchId(b, batchIDVec)
	types.CommitAddEventId(b, eventIDVec)
	types.CommitAddNonce(b, c.Nonce)
	types.CommitAddSequence(b, c.Sequence)
	types.CommitAddRelease(b, c.Release)
	types.CommitAddActor(b, actorVec)
	types.CommitAddTimestamp(b, c.Timestamp)
	types.CommitAddBatch(b, batchVec)
	types.CommitAddEvent(b, eventVec)
	types.CommitAddUpdates(b, updatesVec)
	types.CommitAddSignature(b, sigVec)
	b.Finish(types.CommitEnd(b))

	return b.FinishedBytes(), nil
}

// DecodeCommit reverses EncodeCommit. The signature is not checked here.
func DecodeCommit(data []byte) (*ledger.Commit, error) {
	c := &ledger.Commit{}

	err := safeDecode(data, func() error {
		fb := types.GetRootAsCommit(data, 0)

		if err := copyFixed(c.BatchID[:], fb.BatchIdBytes(), "batch_id"); err != nil {
			return err
		}
		if err := copyFixed(c.EventID[:], fb.EventIdBytes(), "event_id"); err != nil {
			return err
		}
		if err := copyFixed(c.Actor[:], fb.ActorBytes(), "actor"); err != nil {
			return err
		}

		c.Nonce = fb.Nonce()
		c.Sequence = fb.Sequence()
		c.Release = fb.Release()
		c.Timestamp = fb.Timestamp()
		c.Signature = append([]byte(nil), fb.SignatureBytes()...)

		if err := c.Batch.UnmarshalBinary(fb.BatchBytes()); err != nil {
			return fmt.Errorf("decode batch:\n%w", err)
		}
		if err := c.Event.UnmarshalBinary(fb.EventBytes()); err != nil {
			return fmt.Errorf("decode event:\n%w", err)
		}

		n := fb.UpdatesLength()
		if n > 0 {
			c.Updates = make([]ledger.StateUpdated, n)
		}

		var su types.StateUpdate
		for i := 0; i < n; i++ {
			if !fb.Updates(&su, i) {
				return fmt.Errorf("%w: missing update %d", ledger.ErrInvalidInput, i)
			}

			u := &c.Updates[i]
			u.BatchID = c.BatchID
			u.EventID = c.EventID
			if err := copyFixed(u.UpdatedBy[:], su.UpdatedByBytes(), "updated_by"); err != nil {
				return err
			}
			u.ProductStatus = ledger.ProductStatus(su.ProductStatus())
			u.OrderStatus = ledger.OrderStatus(su.OrderStatus())
			u.EventType = ledger.EventType(su.EventType())
			u.Timestamp = su.Timestamp()
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return c, nil
}

// EncodeHello builds the venue announcement.
func EncodeHello(s *Signer) []byte {
	b := flatbuffers.NewBuilder(256)

	key := s.VenueKey()
	venueVec := b.CreateByteVector(key[:])
	proofVec := b.CreateByteVector(s.ProvePossession())

	types.HelloStart(b)
	types.HelloAddVenue(b, venueVec)
	types.HelloAddProof(b, proofVec)
	b.Finish(types.HelloEnd(b))

	return b.FinishedBytes()
}

// DecodeHello parses an announcement and checks its proof of possession.
func DecodeHello(data []byte) (ledger.VenueKey, error) {
	var venue ledger.VenueKey

	err := safeDecode(data, func() error {
		fb := types.GetRootAsHello(data, 0)

		if err := copyFixed(venue[:], fb.VenueBytes(), "venue"); err != nil {
			return err
		}
		if !VerifyPossession(venue, fb.ProofBytes()) {
			return fmt.Errorf("%w: bad proof of possession", ledger.ErrUnauthorized)
		}

		return nil
	})

	return venue, err
}

// snapshotChecksum hashes the two encoded records of a hand-off.
func snapshotChecksum(batch, event []byte) [32]byte {
	h := blake3.New()
	h.Write(batch)
	h.Write(event)

	var sum [32]byte
	h.Sum(sum[:0])

	return sum
}

// copyFixed copies src into dst, requiring an exact length.
func copyFixed(dst, src []byte, field string) error {
	if len(src) != len(dst) {
		return fmt.Errorf("%w: %s is %d bytes, want %d", ledger.ErrInvalidInput, field, len(src), len(dst))
	}

	copy(dst, src)

	return nil
}

// safeDecode runs fn over a FlatBuffers buffer and turns out-of-range
// accesses on malformed input into errors.
func safeDecode(data []byte, fn func() error) (err error) {
	if len(data) < minTableSize {
		return fmt.Errorf("%w: message too short", ledger.ErrInvalidInput)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: malformed message: %v", ledger.ErrInvalidInput, r)
		}
	}()

	return fn()
}
