package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agrimatch/core/internal/domain/order"
	"github.com/agrimatch/core/internal/domain/participant"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "agrimatch-storage-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := New(Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNew(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "agrimatch-storage-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	store, err := New(Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	dbPath := filepath.Join(tmpDir, "agrimatch.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
	if store.DB() == nil {
		t.Error("DB() returned nil")
	}
}

func TestNewWithTildeExpansion(t *testing.T) {
	home, _ := os.UserHomeDir()
	expanded := expandPath("~/.test")
	expected := filepath.Join(home, ".test")
	if expanded != expected {
		t.Errorf("expandPath(~/.test) = %s, want %s", expanded, expected)
	}
}

func TestStorageSchema(t *testing.T) {
	store := newTestStorage(t)

	tables := []string{"orders", "bids", "escrows", "logistics_assignments", "audit_log", "farmers", "buyers", "middlemen"}
	for _, table := range tables {
		var name string
		err := store.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func seedFarmer(t *testing.T, s *Storage, id string) {
	t.Helper()
	f := &participant.Farmer{ID: id}
	if err := s.UpsertFarmer(context.Background(), f); err != nil {
		t.Fatalf("UpsertFarmer(%s) error = %v", id, err)
	}
}

func newTestOrder(id, farmerID string) *order.Order {
	now := time.Now()
	return &order.Order{
		ID:                id,
		FarmerID:          farmerID,
		CropType:          "tomato",
		Variety:           "roma",
		TotalVolumeKg:     decimal.NewFromInt(500),
		AvailableVolumeKg: decimal.NewFromInt(500),
		AskingPricePerKg:  decimal.NewFromFloat(1.25),
		Status:            order.StatusListed,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestOrderCRUD(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	seedFarmer(t, store, "farmer-1")

	o := newTestOrder("order-1", "farmer-1")
	if err := store.CreateOrder(ctx, o); err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}

	got, err := store.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	if got.ID != o.ID {
		t.Errorf("ID = %s, want %s", got.ID, o.ID)
	}
	if !got.AskingPricePerKg.Equal(o.AskingPricePerKg) {
		t.Errorf("AskingPricePerKg = %s, want %s", got.AskingPricePerKg, o.AskingPricePerKg)
	}
	if got.Status != order.StatusListed {
		t.Errorf("Status = %s, want %s", got.Status, order.StatusListed)
	}

	got.Status = order.StatusNegotiating
	got.UpdatedAt = time.Now()
	if err := store.WithTx(ctx, func(q Querier) error {
		return UpdateOrder(ctx, q, got)
	}); err != nil {
		t.Fatalf("UpdateOrder() error = %v", err)
	}

	reloaded, err := store.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetOrder() after update error = %v", err)
	}
	if reloaded.Status != order.StatusNegotiating {
		t.Errorf("Status after update = %s, want %s", reloaded.Status, order.StatusNegotiating)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	store := newTestStorage(t)
	if _, err := store.GetOrder(context.Background(), "does-not-exist"); err == nil {
		t.Error("GetOrder() error = nil, want not-found error")
	}
}

func TestListOrdersFilter(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	seedFarmer(t, store, "farmer-1")
	seedFarmer(t, store, "farmer-2")

	o1 := newTestOrder("order-1", "farmer-1")
	o1.CropType = "tomato"
	o2 := newTestOrder("order-2", "farmer-2")
	o2.CropType = "lettuce"
	o3 := newTestOrder("order-3", "farmer-1")
	o3.CropType = "tomato"
	o3.Status = order.StatusCancelled

	for _, o := range []*order.Order{o1, o2, o3} {
		if err := store.CreateOrder(ctx, o); err != nil {
			t.Fatalf("CreateOrder(%s) error = %v", o.ID, err)
		}
	}

	t.Run("filter by crop type", func(t *testing.T) {
		got, err := store.ListOrders(ctx, ListOrdersFilter{CropType: "tomato"})
		if err != nil {
			t.Fatalf("ListOrders() error = %v", err)
		}
		if len(got) != 2 {
			t.Errorf("len(got) = %d, want 2", len(got))
		}
	})

	t.Run("filter by farmer", func(t *testing.T) {
		got, err := store.ListOrders(ctx, ListOrdersFilter{FarmerID: "farmer-2"})
		if err != nil {
			t.Fatalf("ListOrders() error = %v", err)
		}
		if len(got) != 1 || got[0].ID != "order-2" {
			t.Errorf("got = %v, want just order-2", got)
		}
	})

	t.Run("filter by status", func(t *testing.T) {
		got, err := store.ListOrders(ctx, ListOrdersFilter{Status: order.StatusCancelled})
		if err != nil {
			t.Fatalf("ListOrders() error = %v", err)
		}
		if len(got) != 1 || got[0].ID != "order-3" {
			t.Errorf("got = %v, want just order-3", got)
		}
	})

	t.Run("limit and offset", func(t *testing.T) {
		got, err := store.ListOrders(ctx, ListOrdersFilter{Limit: 1, Offset: 1})
		if err != nil {
			t.Fatalf("ListOrders() error = %v", err)
		}
		if len(got) != 1 {
			t.Errorf("len(got) = %d, want 1", len(got))
		}
	})
}

func TestWithTxRollsBackOnError(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	seedFarmer(t, store, "farmer-1")

	o := newTestOrder("order-1", "farmer-1")
	if err := store.CreateOrder(ctx, o); err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}

	wantErr := sql.ErrTxDone // any sentinel; only the rollback behavior matters
	err := store.WithTx(ctx, func(q Querier) error {
		o.Status = order.StatusNegotiating
		if err := UpdateOrder(ctx, q, o); err != nil {
			return err
		}
		return wantErr
	})
	if err == nil {
		t.Fatal("WithTx() error = nil, want propagated error")
	}

	reloaded, err := store.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	if reloaded.Status != order.StatusListed {
		t.Errorf("Status after rolled-back tx = %s, want %s (unchanged)", reloaded.Status, order.StatusListed)
	}
}
