// Package bid defines the Bid entity placed by buyers against an Order.
package bid

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a Bid. Acceptance and rejection are
// terminal; a bid never transitions out of ACCEPTED/REJECTED/WITHDRAWN.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAccepted  Status = "ACCEPTED"
	StatusRejected  Status = "REJECTED"
	StatusWithdrawn Status = "WITHDRAWN"
)

// Bid is an independent offer from a Buyer on an Order. AgriMatch has no
// counter-offer negotiation; a bid is accepted, rejected, or withdrawn
// as-is.
type Bid struct {
	ID      string
	OrderID string
	BuyerID string

	OfferedPricePerKg decimal.Decimal
	VolumeKg          decimal.Decimal

	Status  Status
	Message *string
	Expiry  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the bid's expiry has passed as of now.
func (b *Bid) Expired(now time.Time) bool {
	return b.Expiry != nil && now.After(*b.Expiry)
}
