package ledger

import "fmt"

// ProductStatus is the lifecycle status of a batch.
type ProductStatus uint8

const (
	StatusRegistered ProductStatus = iota
	StatusCreated
	StatusManufactured
	StatusInTransit
	StatusInWarehouse
	StatusForSale
	StatusSold
	StatusDelivered
	StatusRecalled
	StatusDestroyed
	StatusShipped
)

var productStatusNames = []string{
	"Registered", "Created", "Manufactured", "InTransit", "InWarehouse",
	"ForSale", "Sold", "Delivered", "Recalled", "Destroyed", "Shipped",
}

// ProductCategory classifies the goods in a batch.
type ProductCategory uint8

const (
	CategoryElectronics ProductCategory = iota
	CategoryAutomotive
	CategoryPharmaceuticals
	CategoryFood
	CategoryTextiles
	CategoryLuxury
	CategoryIndustrial
	CategoryOther
)

var productCategoryNames = []string{
	"Electronics", "Automotive", "Pharmaceuticals", "Food",
	"Textiles", "Luxury", "Industrial", "Other",
}

// EventType is the kind of lifecycle action an event records.
type EventType uint8

const (
	EventManufactured EventType = iota
	EventQualityCheck
	EventPackaged
	EventShipped
	EventInTransit
	EventDelivered
	EventSold
	EventRecalled
	EventQualityFailed
	EventOwnershipTransfer
	EventLocationUpdate
	EventCustomsCleared
)

var eventTypeNames = []string{
	"Manufactured", "QualityCheck", "Packaged", "Shipped", "InTransit", "Delivered",
	"Sold", "Recalled", "QualityFailed", "OwnershipTransfer", "LocationUpdate", "CustomsCleared",
}

// VerificationStatus is the review state of an event.
type VerificationStatus uint8

const (
	VerificationPending VerificationStatus = iota
	VerificationVerified
	VerificationFailed
	VerificationDisputed
)

var verificationStatusNames = []string{"Pending", "Verified", "Failed", "Disputed"}

// OrderStatus is the commercial state attached to an event.
type OrderStatus uint8

const (
	OrderPending OrderStatus = iota
	OrderConfirmed
	OrderProcessing
	OrderShipped
	OrderInTransit
	OrderDelivered
	OrderCompleted
	OrderCancelled
	OrderDisputed
	OrderRefunded
)

var orderStatusNames = []string{
	"Pending", "Confirmed", "Processing", "Shipped", "InTransit",
	"Delivered", "Completed", "Cancelled", "Disputed", "Refunded",
}

// PaymentStatus is part of the status taxonomy. Settlement itself is not modelled.
type PaymentStatus uint8

const (
	PaymentPending PaymentStatus = iota
	PaymentAuthorized
	PaymentCaptured
	PaymentInEscrow
	PaymentReleased
	PaymentRefunded
	PaymentFailed
)

var paymentStatusNames = []string{
	"Pending", "Authorized", "Captured", "InEscrow", "Released", "Refunded", "Failed",
}

// BusinessType classifies a registrant.
type BusinessType uint8

const (
	BusinessManufacturer BusinessType = iota
	BusinessDistributor
	BusinessRetailer
	BusinessLogisticsProvider
	BusinessQualityInspector
	BusinessConsumer
)

var businessTypeNames = []string{
	"Manufacturer", "Distributor", "Retailer", "LogisticsProvider", "QualityInspector", "Consumer",
}

func (s ProductStatus) String() string      { return enumName(productStatusNames, uint8(s)) }
func (c ProductCategory) String() string    { return enumName(productCategoryNames, uint8(c)) }
func (e EventType) String() string          { return enumName(eventTypeNames, uint8(e)) }
func (v VerificationStatus) String() string { return enumName(verificationStatusNames, uint8(v)) }
func (o OrderStatus) String() string        { return enumName(orderStatusNames, uint8(o)) }
func (p PaymentStatus) String() string      { return enumName(paymentStatusNames, uint8(p)) }
func (b BusinessType) String() string       { return enumName(businessTypeNames, uint8(b)) }

func (s ProductStatus) Valid() bool      { return int(s) < len(productStatusNames) }
func (c ProductCategory) Valid() bool    { return int(c) < len(productCategoryNames) }
func (e EventType) Valid() bool          { return int(e) < len(eventTypeNames) }
func (v VerificationStatus) Valid() bool { return int(v) < len(verificationStatusNames) }
func (o OrderStatus) Valid() bool        { return int(o) < len(orderStatusNames) }
func (p PaymentStatus) Valid() bool      { return int(p) < len(paymentStatusNames) }
func (b BusinessType) Valid() bool       { return int(b) < len(businessTypeNames) }

// Text encodings let the enums travel by name in JSON.

func (s ProductStatus) MarshalText() ([]byte, error)      { return marshalEnum(productStatusNames, uint8(s)) }
func (c ProductCategory) MarshalText() ([]byte, error)    { return marshalEnum(productCategoryNames, uint8(c)) }
func (e EventType) MarshalText() ([]byte, error)          { return marshalEnum(eventTypeNames, uint8(e)) }
func (v VerificationStatus) MarshalText() ([]byte, error) { return marshalEnum(verificationStatusNames, uint8(v)) }
func (o OrderStatus) MarshalText() ([]byte, error)        { return marshalEnum(orderStatusNames, uint8(o)) }
func (p PaymentStatus) MarshalText() ([]byte, error)      { return marshalEnum(paymentStatusNames, uint8(p)) }
func (b BusinessType) MarshalText() ([]byte, error)       { return marshalEnum(businessTypeNames, uint8(b)) }

func (s *ProductStatus) UnmarshalText(b []byte) error {
	return unmarshalEnum(productStatusNames, b, (*uint8)(s))
}

func (c *ProductCategory) UnmarshalText(b []byte) error {
	return unmarshalEnum(productCategoryNames, b, (*uint8)(c))
}

func (e *EventType) UnmarshalText(b []byte) error {
	return unmarshalEnum(eventTypeNames, b, (*uint8)(e))
}

func (v *VerificationStatus) UnmarshalText(b []byte) error {
	return unmarshalEnum(verificationStatusNames, b, (*uint8)(v))
}

func (o *OrderStatus) UnmarshalText(b []byte) error {
	return unmarshalEnum(orderStatusNames, b, (*uint8)(o))
}

func (p *PaymentStatus) UnmarshalText(b []byte) error {
	return unmarshalEnum(paymentStatusNames, b, (*uint8)(p))
}

func (b *BusinessType) UnmarshalText(text []byte) error {
	return unmarshalEnum(businessTypeNames, text, (*uint8)(b))
}

// enumName returns the name for v, or a numeric placeholder if out of range.
func enumName(names []string, v uint8) string {
	if int(v) < len(names) {
		return names[v]
	}
	return fmt.Sprintf("Unknown(%d)", v)
}

func marshalEnum(names []string, v uint8) ([]byte, error) {
	if int(v) >= len(names) {
		return nil, fmt.Errorf("%w: enum value %d out of range", ErrInvalidInput, v)
	}
	return []byte(names[v]), nil
}

func unmarshalEnum(names []string, text []byte, dst *uint8) error {
	for i, name := range names {
		if name == string(text) {
			*dst = uint8(i)
			return nil
		}
	}
	return fmt.Errorf("%w: unknown value %q", ErrInvalidInput, text)
}
