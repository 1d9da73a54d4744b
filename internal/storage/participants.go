package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/agrimatch/core/internal/apperr"
	"github.com/agrimatch/core/internal/domain/participant"
)

// UpsertFarmer inserts or replaces a farmer's identity record.
func (s *Storage) UpsertFarmer(ctx context.Context, f *participant.Farmer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO farmers (id, lat, lon, completed_sales, processor_connected_handle)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			lat = excluded.lat, lon = excluded.lon,
			processor_connected_handle = excluded.processor_connected_handle
	`, f.ID, f.Location.Lat, f.Location.Lon, f.CompletedSales, f.ProcessorConnectedHandle)
	if err != nil {
		return fmt.Errorf("upsert farmer: %w", err)
	}
	return nil
}

// GetFarmer retrieves a farmer by ID.
func (s *Storage) GetFarmer(ctx context.Context, id string) (*participant.Farmer, error) {
	var f participant.Farmer
	var handle sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT id, lat, lon, completed_sales, processor_connected_handle FROM farmers WHERE id = ?`, id).
		Scan(&f.ID, &f.Location.Lat, &f.Location.Lon, &f.CompletedSales, &handle)
	if err == sql.ErrNoRows {
		return nil, apperr.ErrFarmerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get farmer: %w", err)
	}
	if handle.Valid {
		f.ProcessorConnectedHandle = &handle.String
	}
	return &f, nil
}

// IncrementFarmerSales bumps a farmer's completed-sales reputation counter
// on delivery settlement.
func IncrementFarmerSales(ctx context.Context, q Querier, id string) error {
	_, err := q.ExecContext(ctx, `UPDATE farmers SET completed_sales = completed_sales + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("increment farmer sales: %w", err)
	}
	return nil
}

// UpsertBuyer inserts or replaces a buyer's identity record.
func (s *Storage) UpsertBuyer(ctx context.Context, b *participant.Buyer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO buyers (id, delivery_lat, delivery_lon, processor_customer_handle)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			delivery_lat = excluded.delivery_lat, delivery_lon = excluded.delivery_lon,
			processor_customer_handle = excluded.processor_customer_handle
	`, b.ID, b.DeliveryLocation.Lat, b.DeliveryLocation.Lon, b.ProcessorCustomerHandle)
	if err != nil {
		return fmt.Errorf("upsert buyer: %w", err)
	}
	return nil
}

// GetBuyer retrieves a buyer by ID.
func (s *Storage) GetBuyer(ctx context.Context, id string) (*participant.Buyer, error) {
	var b participant.Buyer
	var handle sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT id, delivery_lat, delivery_lon, processor_customer_handle FROM buyers WHERE id = ?`, id).
		Scan(&b.ID, &b.DeliveryLocation.Lat, &b.DeliveryLocation.Lon, &handle)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("buyer not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get buyer: %w", err)
	}
	if handle.Valid {
		b.ProcessorCustomerHandle = &handle.String
	}
	return &b, nil
}
