package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"Cassegrain/internal/codec"
	"Cassegrain/internal/storage"
)

// notifyPrefix is the Pebble key prefix for the append-only notification log.
var notifyPrefix = []byte("n:")

// errStopIteration ends a prefix scan early.
var errStopIteration = errors.New("stop iteration")

// NotificationKind identifies the body carried by a Notification.
type NotificationKind uint8

const (
	NotifyEventCreated NotificationKind = iota + 1
	NotifyStateUpdated
	NotifySupplyChainCompleted
	NotifyManufacturerVerified
	NotifyPauseChanged
)

var notificationKindNames = map[NotificationKind]string{
	NotifyEventCreated:         "EventCreated",
	NotifyStateUpdated:         "StateUpdated",
	NotifySupplyChainCompleted: "SupplyChainCompleted",
	NotifyManufacturerVerified: "ManufacturerVerified",
	NotifyPauseChanged:         "PauseChanged",
}

func (k NotificationKind) String() string {
	if name, ok := notificationKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", uint8(k))
}

func (k NotificationKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *NotificationKind) UnmarshalText(text []byte) error {
	for kind, name := range notificationKindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return invalidf("notification kind %q", text)
}

// EventCreated is emitted by create_event.
type EventCreated struct {
	EventID   Hash      `json:"event_id"`
	BatchID   Hash      `json:"batch_id"`
	EventType EventType `json:"event_type"`
	Actor     Hash      `json:"actor"`
	Timestamp int64     `json:"timestamp"`
}

// StateUpdated is emitted by the venue for every apply_update.
type StateUpdated struct {
	BatchID       Hash          `json:"batch_id"`
	EventID       Hash          `json:"event_id"`
	UpdatedBy     Hash          `json:"updated_by"`
	ProductStatus ProductStatus `json:"product_status"`
	OrderStatus   OrderStatus   `json:"order_status"`
	EventType     EventType     `json:"event_type"`
	Timestamp     int64         `json:"timestamp"`
}

// SupplyChainCompleted is emitted when undelegation returns control to the ledger.
type SupplyChainCompleted struct {
	BatchID             Hash               `json:"batch_id"`
	EventID             Hash               `json:"event_id"`
	FinalStatus         ProductStatus      `json:"final_status"`
	FinalOrderStatus    OrderStatus        `json:"final_order_status"`
	VerificationStatus  VerificationStatus `json:"verification_status"`
	TotalEvents         uint32             `json:"total_events"`
	CompletedBy         Hash               `json:"completed_by"`
	CompletionTimestamp int64              `json:"completion_timestamp"`
}

// ManufacturerVerified is emitted by verify_manufacturer.
type ManufacturerVerified struct {
	Owner     Hash  `json:"owner"`
	Authority Hash  `json:"authority"`
	Timestamp int64 `json:"timestamp"`
}

// PauseChanged is emitted by set_paused.
type PauseChanged struct {
	Authority Hash  `json:"authority"`
	Paused    bool  `json:"paused"`
	Timestamp int64 `json:"timestamp"`
}

// Notification is one entry of the append-only output stream.
// Exactly one body pointer is set, matching Kind.
type Notification struct {
	Seq                  uint64                `json:"seq"`
	Kind                 NotificationKind      `json:"kind"`
	EventCreated         *EventCreated         `json:"event_created,omitempty"`
	StateUpdated         *StateUpdated         `json:"state_updated,omitempty"`
	SupplyChainCompleted *SupplyChainCompleted `json:"supply_chain_completed,omitempty"`
	ManufacturerVerified *ManufacturerVerified `json:"manufacturer_verified,omitempty"`
	PauseChanged         *PauseChanged         `json:"pause_changed,omitempty"`
}

// MarshalBinary encodes the kind and body. Seq lives in the storage key.
func (n *Notification) MarshalBinary() ([]byte, error) {
	w := codec.NewWriter(160)
	w.U8(uint8(n.Kind))

	switch n.Kind {
	case NotifyEventCreated:
		b := n.EventCreated
		if b == nil {
			return nil, fmt.Errorf("notification %s has no body", n.Kind)
		}
		w.Fixed(b.EventID[:])
		w.Fixed(b.BatchID[:])
		w.U8(uint8(b.EventType))
		w.Fixed(b.Actor[:])
		w.I64(b.Timestamp)

	case NotifyStateUpdated:
		b := n.StateUpdated
		if b == nil {
			return nil, fmt.Errorf("notification %s has no body", n.Kind)
		}
		w.Fixed(b.BatchID[:])
		w.Fixed(b.EventID[:])
		w.Fixed(b.UpdatedBy[:])
		w.U8(uint8(b.ProductStatus))
		w.U8(uint8(b.OrderStatus))
		w.U8(uint8(b.EventType))
		w.I64(b.Timestamp)

	case NotifySupplyChainCompleted:
		b := n.SupplyChainCompleted
		if b == nil {
			return nil, fmt.Errorf("notification %s has no body", n.Kind)
		}
		w.Fixed(b.BatchID[:])
		w.Fixed(b.EventID[:])
		w.U8(uint8(b.FinalStatus))
		w.U8(uint8(b.FinalOrderStatus))
		w.U8(uint8(b.VerificationStatus))
		w.U32(b.TotalEvents)
		w.Fixed(b.CompletedBy[:])
		w.I64(b.CompletionTimestamp)

	case NotifyManufacturerVerified:
		b := n.ManufacturerVerified
		if b == nil {
			return nil, fmt.Errorf("notification %s has no body", n.Kind)
		}
		w.Fixed(b.Owner[:])
		w.Fixed(b.Authority[:])
		w.I64(b.Timestamp)

	case NotifyPauseChanged:
		b := n.PauseChanged
		if b == nil {
			return nil, fmt.Errorf("notification %s has no body", n.Kind)
		}
		w.Fixed(b.Authority[:])
		w.Bool(b.Paused)
		w.I64(b.Timestamp)

	default:
		return nil, fmt.Errorf("unknown notification kind %d", n.Kind)
	}

	return w.Bytes(), nil
}

// UnmarshalBinary decodes a notification body. Seq is left untouched.
func (n *Notification) UnmarshalBinary(data []byte) error {
	r := codec.NewReader(data)
	n.Kind = NotificationKind(r.U8())

	switch n.Kind {
	case NotifyEventCreated:
		b := &EventCreated{}
		r.Fixed(b.EventID[:])
		r.Fixed(b.BatchID[:])
		b.EventType = EventType(r.U8())
		r.Fixed(b.Actor[:])
		b.Timestamp = r.I64()
		n.EventCreated = b

	case NotifyStateUpdated:
		b := &StateUpdated{}
		r.Fixed(b.BatchID[:])
		r.Fixed(b.EventID[:])
		r.Fixed(b.UpdatedBy[:])
		b.ProductStatus = ProductStatus(r.U8())
		b.OrderStatus = OrderStatus(r.U8())
		b.EventType = EventType(r.U8())
		b.Timestamp = r.I64()
		n.StateUpdated = b

	case NotifySupplyChainCompleted:
		b := &SupplyChainCompleted{}
		r.Fixed(b.BatchID[:])
		r.Fixed(b.EventID[:])
		b.FinalStatus = ProductStatus(r.U8())
		b.FinalOrderStatus = OrderStatus(r.U8())
		b.VerificationStatus = VerificationStatus(r.U8())
		b.TotalEvents = r.U32()
		r.Fixed(b.CompletedBy[:])
		b.CompletionTimestamp = r.I64()
		n.SupplyChainCompleted = b

	case NotifyManufacturerVerified:
		b := &ManufacturerVerified{}
		r.Fixed(b.Owner[:])
		r.Fixed(b.Authority[:])
		b.Timestamp = r.I64()
		n.ManufacturerVerified = b

	case NotifyPauseChanged:
		b := &PauseChanged{}
		r.Fixed(b.Authority[:])
		b.Paused = r.Bool()
		b.Timestamp = r.I64()
		n.PauseChanged = b

	default:
		if r.Err() != nil {
			return r.Err()
		}
		return fmt.Errorf("unknown notification kind %d", n.Kind)
	}

	return r.Done()
}

// notifyKey builds the log key for seq. Big-endian keeps iteration in order.
func notifyKey(seq uint64) []byte {
	key := make([]byte, len(notifyPrefix)+8)
	copy(key, notifyPrefix)
	binary.BigEndian.PutUint64(key[len(notifyPrefix):], seq)

	return key
}

// outbox stages notifications into an operation's write batch.
// Sequence numbers are reserved locally and only published by the
// ledger after the batch commits.
type outbox struct {
	next  uint64          // next is the sequence assigned to the next entry
	batch *storage.Batch // batch is the operation's write batch
	count int             // count is the number of staged entries
}

// add stages one notification.
func (o *outbox) add(n Notification) error {
	n.Seq = o.next

	data, err := n.MarshalBinary()
	if err != nil {
		return err
	}

	o.batch.Set(notifyKey(n.Seq), data)
	o.next++
	o.count++

	return nil
}

// lastNotifySeq returns the highest sequence stored, or 0 for an empty log.
func lastNotifySeq(db *storage.Storage) (uint64, error) {
	key, err := db.LastWithPrefix(notifyPrefix)
	if err != nil {
		return 0, err
	}
	if key == nil {
		return 0, nil
	}
	if len(key) != len(notifyPrefix)+8 {
		return 0, fmt.Errorf("malformed notification key %x", key)
	}

	return binary.BigEndian.Uint64(key[len(notifyPrefix):]), nil
}

// readNotifications returns up to limit entries with Seq > after.
func readNotifications(db *storage.Storage, after uint64, limit int) ([]Notification, error) {
	if after == math.MaxUint64 {
		return nil, nil
	}

	var out []Notification

	err := db.IterateRange(notifyKey(after+1), storage.PrefixEnd(notifyPrefix), func(key, value []byte) error {
		if limit > 0 && len(out) >= limit {
			return errStopIteration
		}

		var n Notification
		if err := n.UnmarshalBinary(value); err != nil {
			return fmt.Errorf("decode notification %x:\n%w", key, err)
		}
		n.Seq = binary.BigEndian.Uint64(key[len(notifyPrefix):])
		out = append(out, n)

		return nil
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return nil, err
	}

	return out, nil
}
