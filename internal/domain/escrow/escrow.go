// Package escrow defines the tripartite escrow aggregate that releases
// funds to a farmer and middleman across three milestones.
package escrow

import (
	"time"

	"github.com/agrimatch/core/internal/domain/money"
)

// Status is the lifecycle state of an Escrow.
type Status string

const (
	StatusWaitingFunds Status = "WAITING_FUNDS"
	StatusFundsHeld    Status = "FUNDS_HELD"
	StatusPickedUp     Status = "PICKED_UP"
	StatusDelivered    Status = "DELIVERED"
	StatusCancelled    Status = "CANCELLED"
)

// Tranche fractions, expressed as numerator over 100 (basis: percent).
const (
	PickupFarmerNumerator     = 20
	DeliveryFarmerNumerator   = 60
	DeliveryMiddlemanNumerator = 20
	Denominator               = 100
)

// Escrow holds the running release counters for one Order. At most one
// Escrow exists per order (spec invariant), and it is owned by the order,
// never by the farmer/buyer/middleman.
type Escrow struct {
	ID      string
	OrderID string

	TotalAmountCents money.Cents

	FarmerReleasedCents    money.Cents
	MiddlemanReleasedCents money.Cents
	RefundedCents          money.Cents

	Status Status

	// Opaque handles from the external payment processor.
	ProcessorIntentHandle        *string
	ProcessorCaptureID           *string
	ProcessorPickupTransferID    *string
	ProcessorFarmerTransferID    *string
	ProcessorMiddlemanTransferID *string

	FundsHeldAt  *time.Time
	PickedUpAt   *time.Time
	DeliveredAt  *time.Time
	CancelledAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Accounted returns the sum of every cent that has left WAITING_FUNDS,
// the left-hand side of the invariant
// farmer_released + middleman_released + refunded <= total.
func (e *Escrow) Accounted() money.Cents {
	return e.FarmerReleasedCents + e.MiddlemanReleasedCents + e.RefundedCents
}

// PickupShare returns floor(total * 20%).
func (e *Escrow) PickupShare() money.Cents {
	return money.Frac(e.TotalAmountCents, PickupFarmerNumerator, Denominator)
}

// DeliveryFarmerShare returns floor(total * 60%).
func (e *Escrow) DeliveryFarmerShare() money.Cents {
	return money.Frac(e.TotalAmountCents, DeliveryFarmerNumerator, Denominator)
}

// DeliveryMiddlemanShare returns floor(total * 20%).
func (e *Escrow) DeliveryMiddlemanShare() money.Cents {
	return money.Frac(e.TotalAmountCents, DeliveryMiddlemanNumerator, Denominator)
}
