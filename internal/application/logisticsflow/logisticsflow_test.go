package logisticsflow

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agrimatch/core/internal/domain/logistics"
	"github.com/agrimatch/core/internal/domain/order"
	"github.com/agrimatch/core/internal/domain/participant"
	"github.com/agrimatch/core/internal/events"
	"github.com/agrimatch/core/internal/matcher"
	"github.com/agrimatch/core/internal/storage"
)

type fakeNotifier struct {
	calls []events.EventType
}

func (f *fakeNotifier) BroadcastToOrder(orderID string, eventType events.EventType, data any) {
	f.calls = append(f.calls, eventType)
}

func newTestService(t *testing.T) (*Service, *storage.Storage, *fakeNotifier) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "logisticsflow-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := storage.New(storage.Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	m := matcher.New(matcher.NewSQLiteStore(store))
	n := &fakeNotifier{}
	return New(store, m, n), store, n
}

// seedOrderInLogisticsSearch creates a farmer and an order already in
// LOGISTICS_SEARCH with 60kg already claimed by a buyer's bid.
func seedOrderInLogisticsSearch(t *testing.T, ctx context.Context, store *storage.Storage) *order.Order {
	t.Helper()
	farmer := &participant.Farmer{ID: "farmer-1", Location: logistics.GeoPoint{Lat: 0, Lon: 0}}
	if err := store.UpsertFarmer(ctx, farmer); err != nil {
		t.Fatalf("UpsertFarmer() error = %v", err)
	}

	now := time.Now()
	o := &order.Order{
		ID:                uuid.NewString(),
		FarmerID:          "farmer-1",
		CropType:          "tomato",
		Variety:           "roma",
		TotalVolumeKg:     decimal.NewFromInt(100),
		AvailableVolumeKg: decimal.NewFromInt(40),
		AskingPricePerKg:  decimal.NewFromFloat(2.00),
		Status:            order.StatusLogisticsSearch,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := store.CreateOrder(ctx, o); err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}
	return o
}

func seedMiddleman(t *testing.T, ctx context.Context, store *storage.Storage, id string, loc logistics.GeoPoint) *logistics.Middleman {
	t.Helper()
	now := time.Now()
	m := &logistics.Middleman{
		ID:              id,
		CurrentLocation: loc,
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
	return m
}

func TestSearchCandidatesRequiresLogisticsSearchStatus(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	o := seedOrderInLogisticsSearch(t, ctx, store)
	o.Status = order.StatusListed
	if err := store.WithTx(ctx, func(q storage.Querier) error {
		return storage.UpdateOrder(ctx, q, o)
	}); err != nil {
		t.Fatalf("UpdateOrder() error = %v", err)
	}

	if _, err := svc.SearchCandidates(ctx, o.ID); err == nil {
		t.Error("SearchCandidates() error = nil, want invalid-transition error")
	}
}

func TestSearchCandidatesOffersNearestMiddlemanOnce(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	o := seedOrderInLogisticsSearch(t, ctx, store)
	seedMiddleman(t, ctx, store, "near", logistics.GeoPoint{Lat: 0.05, Lon: 0})
	seedMiddleman(t, ctx, store, "far", logistics.GeoPoint{Lat: 0.2, Lon: 0})

	candidates, err := svc.SearchCandidates(ctx, o.ID)
	if err != nil {
		t.Fatalf("SearchCandidates() error = %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("len(candidates) = %d, want 2", len(candidates))
	}
	if candidates[0].Middleman.ID != "near" {
		t.Errorf("nearest candidate = %s, want near", candidates[0].Middleman.ID)
	}

	a, err := store.GetAssignmentForOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetAssignmentForOrder() error = %v", err)
	}
	if a.MiddlemanID != "near" {
		t.Errorf("offered middleman = %s, want near", a.MiddlemanID)
	}
	if a.Status != logistics.AssignmentOffered {
		t.Errorf("assignment status = %s, want %s", a.Status, logistics.AssignmentOffered)
	}

	// A second search must not create a duplicate offer.
	if _, err := svc.SearchCandidates(ctx, o.ID); err != nil {
		t.Fatalf("second SearchCandidates() error = %v", err)
	}
	second, err := store.GetAssignmentForOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetAssignmentForOrder() error = %v", err)
	}
	if second.ID != a.ID {
		t.Errorf("second search created a new assignment %s, want unchanged %s", second.ID, a.ID)
	}
}

func TestAcceptAssignmentTransitionsOrderAndLocksMiddleman(t *testing.T) {
	svc, store, notifier := newTestService(t)
	ctx := context.Background()
	o := seedOrderInLogisticsSearch(t, ctx, store)
	seedMiddleman(t, ctx, store, "near", logistics.GeoPoint{Lat: 0.01, Lon: 0})

	if _, err := svc.SearchCandidates(ctx, o.ID); err != nil {
		t.Fatalf("SearchCandidates() error = %v", err)
	}
	a, err := store.GetAssignmentForOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetAssignmentForOrder() error = %v", err)
	}

	gotOrder, gotAssignment, err := svc.AcceptAssignment(ctx, a.ID, "near")
	if err != nil {
		t.Fatalf("AcceptAssignment() error = %v", err)
	}
	if gotOrder.Status != order.StatusInTransit {
		t.Errorf("order Status = %s, want %s", gotOrder.Status, order.StatusInTransit)
	}
	if gotAssignment.Status != logistics.AssignmentAccepted {
		t.Errorf("assignment Status = %s, want %s", gotAssignment.Status, logistics.AssignmentAccepted)
	}

	m, err := store.GetMiddleman(ctx, "near")
	if err != nil {
		t.Fatalf("GetMiddleman() error = %v", err)
	}
	if m.IsAvailable {
		t.Error("middleman IsAvailable = true, want false after accepting an assignment")
	}

	if len(notifier.calls) == 0 {
		t.Error("expected an FSM_TRANSITION broadcast")
	}
}

func TestAcceptAssignmentRejectsWrongMiddleman(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	o := seedOrderInLogisticsSearch(t, ctx, store)
	seedMiddleman(t, ctx, store, "near", logistics.GeoPoint{Lat: 0.01, Lon: 0})

	if _, err := svc.SearchCandidates(ctx, o.ID); err != nil {
		t.Fatalf("SearchCandidates() error = %v", err)
	}
	a, err := store.GetAssignmentForOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetAssignmentForOrder() error = %v", err)
	}

	if _, _, err := svc.AcceptAssignment(ctx, a.ID, "someone-else"); err == nil {
		t.Error("AcceptAssignment() error = nil, want forbidden error for mismatched middleman")
	}
}

func TestAcceptAssignmentRejectsNonOfferedAssignment(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	o := seedOrderInLogisticsSearch(t, ctx, store)
	seedMiddleman(t, ctx, store, "near", logistics.GeoPoint{Lat: 0.01, Lon: 0})

	if _, err := svc.SearchCandidates(ctx, o.ID); err != nil {
		t.Fatalf("SearchCandidates() error = %v", err)
	}
	a, err := store.GetAssignmentForOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetAssignmentForOrder() error = %v", err)
	}
	if _, err := svc.RejectAssignment(ctx, a.ID, "near"); err != nil {
		t.Fatalf("RejectAssignment() error = %v", err)
	}

	if _, _, err := svc.AcceptAssignment(ctx, a.ID, "near"); err == nil {
		t.Error("AcceptAssignment() on a rejected assignment error = nil, want invalid-transition error")
	}
}

func TestRejectAssignmentLeavesOrderUntouched(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	o := seedOrderInLogisticsSearch(t, ctx, store)
	seedMiddleman(t, ctx, store, "near", logistics.GeoPoint{Lat: 0.01, Lon: 0})

	if _, err := svc.SearchCandidates(ctx, o.ID); err != nil {
		t.Fatalf("SearchCandidates() error = %v", err)
	}
	a, err := store.GetAssignmentForOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetAssignmentForOrder() error = %v", err)
	}

	got, err := svc.RejectAssignment(ctx, a.ID, "near")
	if err != nil {
		t.Fatalf("RejectAssignment() error = %v", err)
	}
	if got.Status != logistics.AssignmentRejected {
		t.Errorf("assignment Status = %s, want %s", got.Status, logistics.AssignmentRejected)
	}

	reloaded, err := store.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	if reloaded.Status != order.StatusLogisticsSearch {
		t.Errorf("order Status = %s, want unchanged %s", reloaded.Status, order.StatusLogisticsSearch)
	}
}

func TestRejectAssignmentRejectsWrongMiddleman(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	o := seedOrderInLogisticsSearch(t, ctx, store)
	seedMiddleman(t, ctx, store, "near", logistics.GeoPoint{Lat: 0.01, Lon: 0})

	if _, err := svc.SearchCandidates(ctx, o.ID); err != nil {
		t.Fatalf("SearchCandidates() error = %v", err)
	}
	a, err := store.GetAssignmentForOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetAssignmentForOrder() error = %v", err)
	}

	if _, err := svc.RejectAssignment(ctx, a.ID, "someone-else"); err == nil {
		t.Error("RejectAssignment() error = nil, want forbidden error for mismatched middleman")
	}
}
