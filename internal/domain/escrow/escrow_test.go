package escrow

import (
	"testing"

	"github.com/agrimatch/core/internal/domain/money"
)

func TestTrancheShares(t *testing.T) {
	e := &Escrow{TotalAmountCents: money.Cents(10000)}

	if got, want := e.PickupShare(), money.Cents(2000); got != want {
		t.Errorf("PickupShare() = %d, want %d", got, want)
	}
	if got, want := e.DeliveryFarmerShare(), money.Cents(6000); got != want {
		t.Errorf("DeliveryFarmerShare() = %d, want %d", got, want)
	}
	if got, want := e.DeliveryMiddlemanShare(), money.Cents(2000); got != want {
		t.Errorf("DeliveryMiddlemanShare() = %d, want %d", got, want)
	}
}

func TestTrancheSharesSumToTotalOnEvenAmounts(t *testing.T) {
	e := &Escrow{TotalAmountCents: money.Cents(50000)}
	sum := e.PickupShare() + e.DeliveryFarmerShare() + e.DeliveryMiddlemanShare()
	if sum != e.TotalAmountCents {
		t.Errorf("pickup+deliveryFarmer+deliveryMiddleman = %d, want %d (total)", sum, e.TotalAmountCents)
	}
}

func TestAccounted(t *testing.T) {
	e := &Escrow{
		FarmerReleasedCents:    money.Cents(2000),
		MiddlemanReleasedCents: money.Cents(500),
		RefundedCents:          money.Cents(100),
	}
	if got, want := e.Accounted(), money.Cents(2600); got != want {
		t.Errorf("Accounted() = %d, want %d", got, want)
	}
}

func TestAccountedNeverExceedsTotal(t *testing.T) {
	e := &Escrow{TotalAmountCents: money.Cents(10000)}
	e.FarmerReleasedCents = e.DeliveryFarmerShare() + e.PickupShare()
	e.MiddlemanReleasedCents = e.DeliveryMiddlemanShare()

	if e.Accounted() > e.TotalAmountCents {
		t.Errorf("Accounted() = %d, exceeds TotalAmountCents = %d", e.Accounted(), e.TotalAmountCents)
	}
}
