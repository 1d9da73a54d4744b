package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agrimatch/core/internal/apperr"
	"github.com/agrimatch/core/internal/domain/bid"
)

const bidSelectCols = `SELECT
	id, order_id, buyer_id, offered_price_per_kg, volume_kg,
	status, message, expiry, created_at, updated_at`

// CreateBid inserts a new bid row.
func CreateBid(ctx context.Context, q Querier, b *bid.Bid) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO bids (
			id, order_id, buyer_id, offered_price_per_kg, volume_kg,
			status, message, expiry, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		b.ID, b.OrderID, b.BuyerID, b.OfferedPricePerKg.String(), b.VolumeKg.String(),
		string(b.Status), b.Message, timePtrUnix(b.Expiry), b.CreatedAt.Unix(), b.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert bid: %w", err)
	}
	return nil
}

// GetBid retrieves a bid by ID.
func (s *Storage) GetBid(ctx context.Context, id string) (*bid.Bid, error) {
	return scanBidRow(s.db.QueryRowContext(ctx, bidSelectCols+" FROM bids WHERE id = ?", id))
}

// GetBidForUpdate retrieves a bid within a WithTx transaction.
func GetBidForUpdate(ctx context.Context, q Querier, id string) (*bid.Bid, error) {
	return scanBidRow(q.QueryRowContext(ctx, bidSelectCols+" FROM bids WHERE id = ?", id))
}

func scanBidRow(row *sql.Row) (*bid.Bid, error) {
	var b bid.Bid
	var status, price, volume string
	var message sql.NullString
	var expiry sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&b.ID, &b.OrderID, &b.BuyerID, &price, &volume, &status, &message, &expiry, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.ErrBidNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan bid: %w", err)
	}

	b.Status = bid.Status(status)
	b.CreatedAt = time.Unix(createdAt, 0)
	b.UpdatedAt = time.Unix(updatedAt, 0)
	if b.OfferedPricePerKg, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse offered_price_per_kg: %w", err)
	}
	if b.VolumeKg, err = decimal.NewFromString(volume); err != nil {
		return nil, fmt.Errorf("parse volume_kg: %w", err)
	}
	if message.Valid {
		b.Message = &message.String
	}
	if expiry.Valid {
		t := time.Unix(expiry.Int64, 0)
		b.Expiry = &t
	}
	return &b, nil
}

// UpdateBidStatus persists a bid's status transition (e.g. PENDING ->
// ACCEPTED/REJECTED/WITHDRAWN).
func UpdateBidStatus(ctx context.Context, q Querier, id string, status bid.Status, updatedAt time.Time) error {
	_, err := q.ExecContext(ctx, `UPDATE bids SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), updatedAt.Unix(), id)
	if err != nil {
		return fmt.Errorf("update bid status: %w", err)
	}
	return nil
}

// RejectOtherPendingBids marks every PENDING bid on orderID other than
// keepBidID as REJECTED, run in the same transaction as accepting keepBidID.
func RejectOtherPendingBids(ctx context.Context, q Querier, orderID, keepBidID string, updatedAt time.Time) error {
	_, err := q.ExecContext(ctx, `
		UPDATE bids SET status = ?, updated_at = ?
		WHERE order_id = ? AND id != ? AND status = ?
	`, string(bid.StatusRejected), updatedAt.Unix(), orderID, keepBidID, string(bid.StatusPending))
	if err != nil {
		return fmt.Errorf("reject other pending bids: %w", err)
	}
	return nil
}

// ListBidsForOrder returns every bid against order_id, newest first.
func (s *Storage) ListBidsForOrder(ctx context.Context, orderID string) ([]*bid.Bid, error) {
	rows, err := s.db.QueryContext(ctx, bidSelectCols+" FROM bids WHERE order_id = ? ORDER BY created_at DESC", orderID)
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	defer rows.Close()

	var out []*bid.Bid
	for rows.Next() {
		var b bid.Bid
		var status, price, volume string
		var message sql.NullString
		var expiry sql.NullInt64
		var createdAt, updatedAt int64
		if err := rows.Scan(&b.ID, &b.OrderID, &b.BuyerID, &price, &volume, &status, &message, &expiry, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan bid row: %w", err)
		}
		b.Status = bid.Status(status)
		b.CreatedAt = time.Unix(createdAt, 0)
		b.UpdatedAt = time.Unix(updatedAt, 0)
		if b.OfferedPricePerKg, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		if b.VolumeKg, err = decimal.NewFromString(volume); err != nil {
			return nil, err
		}
		if message.Valid {
			b.Message = &message.String
		}
		if expiry.Valid {
			t := time.Unix(expiry.Int64, 0)
			b.Expiry = &t
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

// ListExpirablePendingBids returns every PENDING bid whose expiry has
// passed as of now, for the stale-bid-expiry monitor pass.
func (s *Storage) ListExpirablePendingBids(ctx context.Context, now time.Time) ([]*bid.Bid, error) {
	rows, err := s.db.QueryContext(ctx,
		bidSelectCols+" FROM bids WHERE status = ? AND expiry IS NOT NULL AND expiry < ?",
		string(bid.StatusPending), now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("list expirable bids: %w", err)
	}
	defer rows.Close()

	var out []*bid.Bid
	for rows.Next() {
		b, err := scanBidFromRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBidFromRows(rows *sql.Rows) (*bid.Bid, error) {
	var b bid.Bid
	var status, price, volume string
	var message sql.NullString
	var expiry sql.NullInt64
	var createdAt, updatedAt int64
	if err := rows.Scan(&b.ID, &b.OrderID, &b.BuyerID, &price, &volume, &status, &message, &expiry, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan bid row: %w", err)
	}
	b.Status = bid.Status(status)
	b.CreatedAt = time.Unix(createdAt, 0)
	b.UpdatedAt = time.Unix(updatedAt, 0)
	var err error
	if b.OfferedPricePerKg, err = decimal.NewFromString(price); err != nil {
		return nil, err
	}
	if b.VolumeKg, err = decimal.NewFromString(volume); err != nil {
		return nil, err
	}
	if message.Valid {
		b.Message = &message.String
	}
	if expiry.Valid {
		t := time.Unix(expiry.Int64, 0)
		b.Expiry = &t
	}
	return &b, nil
}
