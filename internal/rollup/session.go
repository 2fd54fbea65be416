package rollup

import (
	"fmt"

	"Cassegrain/internal/bridge"
	"Cassegrain/internal/codec"
	"Cassegrain/internal/ledger"
	"Cassegrain/internal/storage"
)

var (
	sessionPrefix = []byte("s:") // sessionPrefix keys sessions by batch id
	eventPrefix   = []byte("x:") // eventPrefix maps an event id to its batch id
)

// Session is the venue's working copy of one delegated pair.
type Session struct {
	Nonce    uint64                `json:"nonce"`    // Nonce is the delegation nonce from the hand-off
	Sequence uint64                `json:"sequence"` // Sequence is the last commit the ledger accepted
	Owner    ledger.Hash           `json:"owner"`
	Batch    ledger.BatchLedger    `json:"batch"`
	Event    ledger.ProductEvent   `json:"event"`
	Pending  []ledger.StateUpdated `json:"pending,omitempty"` // Pending are updates not yet committed
	Inflight *ledger.Commit        `json:"-"`                 // Inflight was sent but not confirmed by the ledger
}

// MarshalBinary encodes the session for local storage.
func (s *Session) MarshalBinary() ([]byte, error) {
	batch, err := s.Batch.MarshalBinary()
	if err != nil {
		return nil, err
	}
	event, err := s.Event.MarshalBinary()
	if err != nil {
		return nil, err
	}

	w := codec.NewWriter(256 + 64*len(s.Pending))
	w.U64(s.Nonce)
	w.U64(s.Sequence)
	w.Fixed(s.Owner[:])
	w.VarBytes(batch)
	w.VarBytes(event)
	w.U32(uint32(len(s.Pending)))

	for i := range s.Pending {
		n := ledger.Notification{Kind: ledger.NotifyStateUpdated, StateUpdated: &s.Pending[i]}
		data, err := n.MarshalBinary()
		if err != nil {
			return nil, err
		}
		w.VarBytes(data)
	}

	var inflight []byte
	if s.Inflight != nil {
		inflight, err = bridge.EncodeCommit(s.Inflight)
		if err != nil {
			return nil, fmt.Errorf("encode inflight commit:\n%w", err)
		}
	}
	w.VarBytes(inflight)

	return w.Bytes(), nil
}

// UnmarshalBinary reverses MarshalBinary.
func (s *Session) UnmarshalBinary(data []byte) error {
	r := codec.NewReader(data)
	s.Nonce = r.U64()
	s.Sequence = r.U64()
	r.Fixed(s.Owner[:])
	batch := r.VarBytes()
	event := r.VarBytes()
	count := r.U32()

	if err := r.Err(); err != nil {
		return err
	}
	if err := s.Batch.UnmarshalBinary(batch); err != nil {
		return fmt.Errorf("decode batch:\n%w", err)
	}
	if err := s.Event.UnmarshalBinary(event); err != nil {
		return fmt.Errorf("decode event:\n%w", err)
	}

	s.Pending = nil
	for i := uint32(0); i < count; i++ {
		var n ledger.Notification
		if err := n.UnmarshalBinary(r.VarBytes()); err != nil {
			return fmt.Errorf("decode pending update %d:\n%w", i, err)
		}
		if n.StateUpdated == nil {
			return fmt.Errorf("pending update %d is %s", i, n.Kind)
		}
		s.Pending = append(s.Pending, *n.StateUpdated)
	}

	s.Inflight = nil
	if inflight := r.VarBytes(); len(inflight) > 0 {
		c, err := bridge.DecodeCommit(inflight)
		if err != nil {
			return fmt.Errorf("decode inflight commit:\n%w", err)
		}
		s.Inflight = c
	}

	return r.Done()
}

func sessionKey(batchID ledger.Hash) []byte {
	return append(append([]byte{}, sessionPrefix...), batchID[:]...)
}

func eventIndexKey(eventID ledger.Hash) []byte {
	return append(append([]byte{}, eventPrefix...), eventID[:]...)
}

// loadSession returns the session for batchID, or ErrNotDelegated if the
// venue does not hold it.
func loadSession(db *storage.Storage, batchID ledger.Hash) (*Session, error) {
	data, err := db.Get(sessionKey(batchID))
	if err != nil {
		return nil, fmt.Errorf("read session %s:\n%w", batchID.Short(), err)
	}
	if data == nil {
		return nil, fmt.Errorf("batch %s:\n%w", batchID.Short(), ledger.ErrNotDelegated)
	}

	s := &Session{}
	if err := s.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("decode session %s:\n%w", batchID.Short(), err)
	}

	return s, nil
}

// batchForEvent resolves the batch holding eventID.
func batchForEvent(db *storage.Storage, eventID ledger.Hash) (ledger.Hash, error) {
	var batchID ledger.Hash

	data, err := db.Get(eventIndexKey(eventID))
	if err != nil {
		return batchID, fmt.Errorf("read event index %s:\n%w", eventID.Short(), err)
	}
	if len(data) != len(batchID) {
		return batchID, fmt.Errorf("event %s:\n%w", eventID.Short(), ledger.ErrNotDelegated)
	}

	copy(batchID[:], data)

	return batchID, nil
}

// saveSession writes s and its event index atomically.
func saveSession(db *storage.Storage, s *Session) error {
	data, err := s.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode session:\n%w", err)
	}

	b := db.NewBatch()
	defer b.Close()

	b.Set(sessionKey(s.Batch.BatchID), data)
	b.Set(eventIndexKey(s.Event.EventID), s.Batch.BatchID[:])

	return b.Commit()
}

// replaceSession drops old and writes s in one batch.
func replaceSession(db *storage.Storage, old, s *Session) error {
	data, err := s.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode session:\n%w", err)
	}

	b := db.NewBatch()
	defer b.Close()

	b.Delete(sessionKey(old.Batch.BatchID))
	b.Delete(eventIndexKey(old.Event.EventID))
	b.Set(sessionKey(s.Batch.BatchID), data)
	b.Set(eventIndexKey(s.Event.EventID), s.Batch.BatchID[:])

	return b.Commit()
}

// dropSession removes s and its event index atomically.
func dropSession(db *storage.Storage, s *Session) error {
	b := db.NewBatch()
	defer b.Close()

	b.Delete(sessionKey(s.Batch.BatchID))
	b.Delete(eventIndexKey(s.Event.EventID))

	return b.Commit()
}

// countSessions returns the number of held sessions.
func countSessions(db *storage.Storage) (int, error) {
	n := 0
	err := db.IteratePrefix(sessionPrefix, func(_, _ []byte) error {
		n++
		return nil
	})

	return n, err
}
