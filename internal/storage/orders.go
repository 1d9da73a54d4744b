package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agrimatch/core/internal/apperr"
	"github.com/agrimatch/core/internal/domain/order"
)

// CreateOrder inserts a new order row.
func (s *Storage) CreateOrder(ctx context.Context, o *order.Order) error {
	return s.WithTx(ctx, func(q Querier) error {
		return insertOrder(ctx, q, o)
	})
}

func insertOrder(ctx context.Context, q Querier, o *order.Order) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO orders (
			id, farmer_id, buyer_id, crop_type, variety,
			total_volume_kg, available_volume_kg,
			asking_price_per_kg, accepted_price_per_kg,
			status, requires_cold_chain, harvest_date,
			route_linestring, quality_grade,
			pickup_qr_hash, delivery_qr_hash,
			logistics_search_started_at, settled_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.ID, o.FarmerID, o.BuyerID, o.CropType, o.Variety,
		o.TotalVolumeKg.String(), o.AvailableVolumeKg.String(),
		o.AskingPricePerKg.String(), decimalPtrString(o.AcceptedPricePerKg),
		string(o.Status), boolToInt(o.RequiresColdChain), timePtrUnix(o.HarvestDate),
		o.RouteLineString, o.QualityGrade,
		o.PickupQRHash, o.DeliveryQRHash,
		timePtrUnix(o.LogisticsSearchStartedAt), timePtrUnix(o.SettledAt),
		o.CreatedAt.Unix(), o.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetOrder retrieves an order by ID.
func (s *Storage) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	return scanOrderRow(s.db.QueryRowContext(ctx, orderSelectCols+" FROM orders WHERE id = ?", id))
}

// GetOrderForUpdate retrieves an order within a transaction begun by
// WithTx, for read-modify-write callers that must act on a row-locked
// snapshot.
func GetOrderForUpdate(ctx context.Context, q Querier, id string) (*order.Order, error) {
	return scanOrderRow(q.QueryRowContext(ctx, orderSelectCols+" FROM orders WHERE id = ?", id))
}

const orderSelectCols = `SELECT
	id, farmer_id, buyer_id, crop_type, variety,
	total_volume_kg, available_volume_kg,
	asking_price_per_kg, accepted_price_per_kg,
	status, requires_cold_chain, harvest_date,
	route_linestring, quality_grade,
	pickup_qr_hash, delivery_qr_hash,
	logistics_search_started_at, settled_at,
	created_at, updated_at`

func scanOrderRow(row *sql.Row) (*order.Order, error) {
	var o order.Order
	var buyerID, acceptedPrice sql.NullString
	var askingPrice string
	var routeLineString, qualityGrade, pickupHash, deliveryHash sql.NullString
	var harvestDate, searchStarted, settledAt sql.NullInt64
	var totalVol, availVol string
	var status string
	var requiresColdChain int
	var createdAt, updatedAt int64

	err := row.Scan(
		&o.ID, &o.FarmerID, &buyerID, &o.CropType, &o.Variety,
		&totalVol, &availVol,
		&askingPrice, &acceptedPrice,
		&status, &requiresColdChain, &harvestDate,
		&routeLineString, &qualityGrade,
		&pickupHash, &deliveryHash,
		&searchStarted, &settledAt,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}

	o.Status = order.Status(status)
	o.RequiresColdChain = requiresColdChain == 1
	o.CreatedAt = time.Unix(createdAt, 0)
	o.UpdatedAt = time.Unix(updatedAt, 0)

	if o.TotalVolumeKg, err = decimal.NewFromString(totalVol); err != nil {
		return nil, fmt.Errorf("parse total_volume_kg: %w", err)
	}
	if o.AvailableVolumeKg, err = decimal.NewFromString(availVol); err != nil {
		return nil, fmt.Errorf("parse available_volume_kg: %w", err)
	}
	if o.AskingPricePerKg, err = decimal.NewFromString(askingPrice); err != nil {
		return nil, fmt.Errorf("parse asking_price_per_kg: %w", err)
	}
	if buyerID.Valid {
		o.BuyerID = &buyerID.String
	}
	if acceptedPrice.Valid {
		d, err := decimal.NewFromString(acceptedPrice.String)
		if err != nil {
			return nil, fmt.Errorf("parse accepted_price_per_kg: %w", err)
		}
		o.AcceptedPricePerKg = &d
	}
	if harvestDate.Valid {
		t := time.Unix(harvestDate.Int64, 0)
		o.HarvestDate = &t
	}
	if routeLineString.Valid {
		o.RouteLineString = &routeLineString.String
	}
	if qualityGrade.Valid {
		o.QualityGrade = &qualityGrade.String
	}
	if pickupHash.Valid {
		o.PickupQRHash = &pickupHash.String
	}
	if deliveryHash.Valid {
		o.DeliveryQRHash = &deliveryHash.String
	}
	if searchStarted.Valid {
		t := time.Unix(searchStarted.Int64, 0)
		o.LogisticsSearchStartedAt = &t
	}
	if settledAt.Valid {
		t := time.Unix(settledAt.Int64, 0)
		o.SettledAt = &t
	}

	return &o, nil
}

// UpdateOrder persists the full mutable state of o (status, volumes,
// buyer binding, timestamps, proofs).
func UpdateOrder(ctx context.Context, q Querier, o *order.Order) error {
	_, err := q.ExecContext(ctx, `
		UPDATE orders SET
			buyer_id = ?,
			available_volume_kg = ?,
			accepted_price_per_kg = ?,
			status = ?,
			route_linestring = ?,
			quality_grade = ?,
			pickup_qr_hash = ?,
			delivery_qr_hash = ?,
			logistics_search_started_at = ?,
			settled_at = ?,
			updated_at = ?
		WHERE id = ?
	`,
		o.BuyerID, o.AvailableVolumeKg.String(), decimalPtrString(o.AcceptedPricePerKg),
		string(o.Status), o.RouteLineString, o.QualityGrade,
		o.PickupQRHash, o.DeliveryQRHash,
		timePtrUnix(o.LogisticsSearchStartedAt), timePtrUnix(o.SettledAt),
		o.UpdatedAt.Unix(), o.ID,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}

// DeleteOrder removes an order row outright. Callers must have already
// confirmed the order is LISTED (and therefore carries no bids, escrow,
// or assignment yet) within the same transaction's row lock.
func DeleteOrder(ctx context.Context, q Querier, id string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	return nil
}

// ListOrdersFilter narrows ListOrders by status, crop type, and/or owning
// farmer; a zero value field means "no filter on this column". Limit 0
// means unbounded; Limit/Offset only apply when Limit > 0.
type ListOrdersFilter struct {
	Status   order.Status
	CropType string
	FarmerID string
	SortBy   string // "created_at" (default) or "price"
	Limit    int
	Offset   int
}

// ListOrders returns orders matching filter, newest first unless SortBy
// requests price ordering.
func (s *Storage) ListOrders(ctx context.Context, filter ListOrdersFilter) ([]*order.Order, error) {
	query := orderSelectCols + " FROM orders WHERE 1=1"
	var args []any
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.CropType != "" {
		query += " AND crop_type = ?"
		args = append(args, filter.CropType)
	}
	if filter.FarmerID != "" {
		query += " AND farmer_id = ?"
		args = append(args, filter.FarmerID)
	}
	switch filter.SortBy {
	case "price":
		query += " ORDER BY CAST(asking_price_per_kg AS REAL) ASC"
	default:
		query += " ORDER BY created_at DESC"
	}
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []*order.Order
	for rows.Next() {
		o, err := scanOrderFromRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOrderFromRows(rows *sql.Rows) (*order.Order, error) {
	var o order.Order
	var buyerID, acceptedPrice sql.NullString
	var askingPrice string
	var routeLineString, qualityGrade, pickupHash, deliveryHash sql.NullString
	var harvestDate, searchStarted, settledAt sql.NullInt64
	var totalVol, availVol string
	var status string
	var requiresColdChain int
	var createdAt, updatedAt int64

	err := rows.Scan(
		&o.ID, &o.FarmerID, &buyerID, &o.CropType, &o.Variety,
		&totalVol, &availVol,
		&askingPrice, &acceptedPrice,
		&status, &requiresColdChain, &harvestDate,
		&routeLineString, &qualityGrade,
		&pickupHash, &deliveryHash,
		&searchStarted, &settledAt,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan order row: %w", err)
	}

	o.Status = order.Status(status)
	o.RequiresColdChain = requiresColdChain == 1
	o.CreatedAt = time.Unix(createdAt, 0)
	o.UpdatedAt = time.Unix(updatedAt, 0)
	if o.TotalVolumeKg, err = decimal.NewFromString(totalVol); err != nil {
		return nil, fmt.Errorf("parse total_volume_kg: %w", err)
	}
	if o.AvailableVolumeKg, err = decimal.NewFromString(availVol); err != nil {
		return nil, fmt.Errorf("parse available_volume_kg: %w", err)
	}
	if o.AskingPricePerKg, err = decimal.NewFromString(askingPrice); err != nil {
		return nil, fmt.Errorf("parse asking_price_per_kg: %w", err)
	}
	if buyerID.Valid {
		o.BuyerID = &buyerID.String
	}
	if acceptedPrice.Valid {
		d, err := decimal.NewFromString(acceptedPrice.String)
		if err != nil {
			return nil, err
		}
		o.AcceptedPricePerKg = &d
	}
	if harvestDate.Valid {
		t := time.Unix(harvestDate.Int64, 0)
		o.HarvestDate = &t
	}
	if routeLineString.Valid {
		o.RouteLineString = &routeLineString.String
	}
	if qualityGrade.Valid {
		o.QualityGrade = &qualityGrade.String
	}
	if pickupHash.Valid {
		o.PickupQRHash = &pickupHash.String
	}
	if deliveryHash.Valid {
		o.DeliveryQRHash = &deliveryHash.String
	}
	if searchStarted.Valid {
		t := time.Unix(searchStarted.Int64, 0)
		o.LogisticsSearchStartedAt = &t
	}
	if settledAt.Valid {
		t := time.Unix(settledAt.Int64, 0)
		o.SettledAt = &t
	}
	return &o, nil
}

func decimalPtrString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func timePtrUnix(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	u := t.Unix()
	return &u
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
