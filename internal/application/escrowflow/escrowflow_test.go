package escrowflow

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	domescrow "github.com/agrimatch/core/internal/domain/escrow"
	"github.com/agrimatch/core/internal/domain/logistics"
	"github.com/agrimatch/core/internal/domain/money"
	"github.com/agrimatch/core/internal/domain/order"
	"github.com/agrimatch/core/internal/domain/participant"
	"github.com/agrimatch/core/internal/events"
	"github.com/agrimatch/core/internal/processor"
	"github.com/agrimatch/core/internal/storage"
	"github.com/shopspring/decimal"
)

type fakeNotifier struct {
	calls []events.EventType
}

func (f *fakeNotifier) BroadcastToOrder(orderID string, eventType events.EventType, data any) {
	f.calls = append(f.calls, eventType)
}

func newTestService(t *testing.T) (*Service, *storage.Storage, *fakeNotifier) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "escrowflow-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := storage.New(storage.Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	proc := processor.New("", true) // demo client
	n := &fakeNotifier{}
	return New(store, proc, n), store, n
}

// seedOrderWithEscrow creates a farmer, an IN_TRANSIT order, and a
// FUNDS_HELD escrow with a known total, returning both.
func seedOrderWithEscrow(t *testing.T, ctx context.Context, store *storage.Storage, totalCents int64) (*order.Order, *domescrow.Escrow) {
	t.Helper()
	if err := store.UpsertFarmer(ctx, &participant.Farmer{ID: "farmer-1"}); err != nil {
		t.Fatalf("UpsertFarmer() error = %v", err)
	}

	now := time.Now()
	o := &order.Order{
		ID:                uuid.NewString(),
		FarmerID:          "farmer-1",
		CropType:          "tomato",
		Variety:           "roma",
		TotalVolumeKg:     decimal.NewFromInt(100),
		AvailableVolumeKg: decimal.NewFromInt(60),
		AskingPricePerKg:  decimal.NewFromFloat(2.00),
		Status:            order.StatusInTransit,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := store.CreateOrder(ctx, o); err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}

	intentHandle := "intent_test"
	e := &domescrow.Escrow{
		ID:                    uuid.NewString(),
		OrderID:               o.ID,
		TotalAmountCents:      money.Cents(totalCents),
		Status:                domescrow.StatusFundsHeld,
		ProcessorIntentHandle: &intentHandle,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := store.WithTx(ctx, func(q storage.Querier) error {
		return storage.CreateEscrow(ctx, q, e)
	}); err != nil {
		t.Fatalf("CreateEscrow() error = %v", err)
	}
	return o, e
}

func seedMiddleman(t *testing.T, ctx context.Context, store *storage.Storage, id string) {
	t.Helper()
	now := time.Now()
	m := &logistics.Middleman{
		ID:              id,
		TruckCapacityKg: 1000,
		TruckPlate:      "TEST-1",
		TruckType:       logistics.TruckDryVan,
		ServiceRadiusKm: 50,
		IsAvailable:     true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := store.UpsertMiddleman(ctx, m); err != nil {
		t.Fatalf("UpsertMiddleman(%s) error = %v", id, err)
	}
}

func TestCreatePaymentIntentIsIdempotentPastWaitingFunds(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	_, e := seedOrderWithEscrow(t, ctx, store, 10000)
	// FUNDS_HELD already, so CreatePaymentIntent should be a no-op passthrough.
	got, err := svc.CreatePaymentIntent(ctx, e.OrderID, "buyer-handle")
	if err != nil {
		t.Fatalf("CreatePaymentIntent() error = %v", err)
	}
	if got.Status != domescrow.StatusFundsHeld {
		t.Errorf("Status = %s, want unchanged %s", got.Status, domescrow.StatusFundsHeld)
	}
}

func TestReleasePickupRequiresFundsHeld(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	o, _ := seedOrderWithEscrow(t, ctx, store, 10000)

	if _, err := svc.ReleasePickup(ctx, o.ID, "farmer-handle"); err != nil {
		t.Fatalf("ReleasePickup() error = %v", err)
	}

	// A second pickup attempt must fail: status is now PICKED_UP.
	if _, err := svc.ReleasePickup(ctx, o.ID, "farmer-handle"); err == nil {
		t.Error("second ReleasePickup() error = nil, want invalid-transition error")
	}
}

func TestReleasePickupCreditsFarmerTwentyPercent(t *testing.T) {
	svc, store, notifier := newTestService(t)
	ctx := context.Background()
	o, _ := seedOrderWithEscrow(t, ctx, store, 10000)

	got, err := svc.ReleasePickup(ctx, o.ID, "farmer-handle")
	if err != nil {
		t.Fatalf("ReleasePickup() error = %v", err)
	}
	if got.Status != domescrow.StatusPickedUp {
		t.Errorf("Status = %s, want %s", got.Status, domescrow.StatusPickedUp)
	}
	if got.FarmerReleasedCents != 2000 {
		t.Errorf("FarmerReleasedCents = %d, want 2000", got.FarmerReleasedCents)
	}
	if len(notifier.calls) == 0 {
		t.Error("expected an ESCROW_UPDATE broadcast")
	}
}

func TestReleaseDeliveryRequiresPickedUp(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	o, _ := seedOrderWithEscrow(t, ctx, store, 10000)

	// Escrow is FUNDS_HELD, not PICKED_UP yet.
	if _, err := svc.ReleaseDelivery(ctx, o, "farmer-handle", "middleman-handle", "middleman-1"); err == nil {
		t.Error("ReleaseDelivery() error = nil, want invalid-transition error")
	}
}

func TestReleaseDeliverySettlesOrderAndSplitsRemainder(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	o, _ := seedOrderWithEscrow(t, ctx, store, 10000)

	seedMiddleman(t, ctx, store, "middleman-1")

	if _, err := svc.ReleasePickup(ctx, o.ID, "farmer-handle"); err != nil {
		t.Fatalf("ReleasePickup() error = %v", err)
	}

	got, err := svc.ReleaseDelivery(ctx, o, "farmer-handle", "middleman-handle", "middleman-1")
	if err != nil {
		t.Fatalf("ReleaseDelivery() error = %v", err)
	}
	if got.Status != domescrow.StatusDelivered {
		t.Errorf("Status = %s, want %s", got.Status, domescrow.StatusDelivered)
	}
	// 20% pickup + 60% delivery = 80% to farmer, 20% to middleman.
	if got.FarmerReleasedCents != 8000 {
		t.Errorf("FarmerReleasedCents = %d, want 8000", got.FarmerReleasedCents)
	}
	if got.MiddlemanReleasedCents != 2000 {
		t.Errorf("MiddlemanReleasedCents = %d, want 2000", got.MiddlemanReleasedCents)
	}

	reloadedOrder, err := store.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	if reloadedOrder.Status != order.StatusSettled {
		t.Errorf("order Status = %s, want %s", reloadedOrder.Status, order.StatusSettled)
	}
}

func TestCancelEscrowRefundsRemainder(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	o, _ := seedOrderWithEscrow(t, ctx, store, 10000)

	if _, err := svc.ReleasePickup(ctx, o.ID, "farmer-handle"); err != nil {
		t.Fatalf("ReleasePickup() error = %v", err)
	}

	got, err := svc.CancelEscrow(ctx, o.ID)
	if err != nil {
		t.Fatalf("CancelEscrow() error = %v", err)
	}
	if got.Status != domescrow.StatusCancelled {
		t.Errorf("Status = %s, want %s", got.Status, domescrow.StatusCancelled)
	}
	// 8000 remaining after the 2000 pickup release.
	if got.RefundedCents != 8000 {
		t.Errorf("RefundedCents = %d, want 8000", got.RefundedCents)
	}
	if got.Accounted() != got.TotalAmountCents {
		t.Errorf("Accounted() = %d, want %d (fully accounted)", got.Accounted(), got.TotalAmountCents)
	}
}

func TestCancelEscrowIsIdempotent(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	o, _ := seedOrderWithEscrow(t, ctx, store, 10000)

	first, err := svc.CancelEscrow(ctx, o.ID)
	if err != nil {
		t.Fatalf("first CancelEscrow() error = %v", err)
	}
	second, err := svc.CancelEscrow(ctx, o.ID)
	if err != nil {
		t.Fatalf("second CancelEscrow() error = %v", err)
	}
	if second.RefundedCents != first.RefundedCents {
		t.Errorf("second CancelEscrow() refunded %d again, want unchanged %d", second.RefundedCents, first.RefundedCents)
	}
}
