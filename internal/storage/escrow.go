package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agrimatch/core/internal/apperr"
	"github.com/agrimatch/core/internal/domain/escrow"
	"github.com/agrimatch/core/internal/domain/money"
)

const escrowSelectCols = `SELECT
	id, order_id, total_amount_cents, farmer_released_cents,
	middleman_released_cents, refunded_cents, status,
	processor_intent_handle, processor_capture_id, processor_pickup_transfer_id,
	processor_farmer_transfer_id, processor_middleman_transfer_id,
	funds_held_at, picked_up_at, delivered_at, cancelled_at,
	created_at, updated_at`

// CreateEscrow inserts a new escrow row.
func CreateEscrow(ctx context.Context, q Querier, e *escrow.Escrow) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO escrows (
			id, order_id, total_amount_cents, farmer_released_cents,
			middleman_released_cents, refunded_cents, status,
			processor_intent_handle, processor_capture_id, processor_pickup_transfer_id,
			processor_farmer_transfer_id, processor_middleman_transfer_id,
			funds_held_at, picked_up_at, delivered_at, cancelled_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.OrderID, int64(e.TotalAmountCents), int64(e.FarmerReleasedCents),
		int64(e.MiddlemanReleasedCents), int64(e.RefundedCents), string(e.Status),
		e.ProcessorIntentHandle, e.ProcessorCaptureID, e.ProcessorPickupTransferID,
		e.ProcessorFarmerTransferID, e.ProcessorMiddlemanTransferID,
		timePtrUnix(e.FundsHeldAt), timePtrUnix(e.PickedUpAt), timePtrUnix(e.DeliveredAt), timePtrUnix(e.CancelledAt),
		e.CreatedAt.Unix(), e.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert escrow: %w", err)
	}
	return nil
}

// GetEscrowByOrder retrieves the (at most one) escrow for an order.
func (s *Storage) GetEscrowByOrder(ctx context.Context, orderID string) (*escrow.Escrow, error) {
	return scanEscrowRow(s.db.QueryRowContext(ctx, escrowSelectCols+" FROM escrows WHERE order_id = ?", orderID))
}

// GetEscrowByOrderForUpdate retrieves an order's escrow within a WithTx
// transaction.
func GetEscrowByOrderForUpdate(ctx context.Context, q Querier, orderID string) (*escrow.Escrow, error) {
	return scanEscrowRow(q.QueryRowContext(ctx, escrowSelectCols+" FROM escrows WHERE order_id = ?", orderID))
}

func scanEscrowRow(row *sql.Row) (*escrow.Escrow, error) {
	var e escrow.Escrow
	var status string
	var total, farmerReleased, middlemanReleased, refunded int64
	var intentHandle, captureID, pickupTransfer, farmerTransfer, middlemanTransfer sql.NullString
	var fundsHeldAt, pickedUpAt, deliveredAt, cancelledAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&e.ID, &e.OrderID, &total, &farmerReleased, &middlemanReleased, &refunded, &status,
		&intentHandle, &captureID, &pickupTransfer, &farmerTransfer, &middlemanTransfer,
		&fundsHeldAt, &pickedUpAt, &deliveredAt, &cancelledAt,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.ErrEscrowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan escrow: %w", err)
	}

	e.TotalAmountCents = money.Cents(total)
	e.FarmerReleasedCents = money.Cents(farmerReleased)
	e.MiddlemanReleasedCents = money.Cents(middlemanReleased)
	e.RefundedCents = money.Cents(refunded)
	e.Status = escrow.Status(status)
	e.CreatedAt = time.Unix(createdAt, 0)
	e.UpdatedAt = time.Unix(updatedAt, 0)

	if intentHandle.Valid {
		e.ProcessorIntentHandle = &intentHandle.String
	}
	if captureID.Valid {
		e.ProcessorCaptureID = &captureID.String
	}
	if pickupTransfer.Valid {
		e.ProcessorPickupTransferID = &pickupTransfer.String
	}
	if farmerTransfer.Valid {
		e.ProcessorFarmerTransferID = &farmerTransfer.String
	}
	if middlemanTransfer.Valid {
		e.ProcessorMiddlemanTransferID = &middlemanTransfer.String
	}
	if fundsHeldAt.Valid {
		t := time.Unix(fundsHeldAt.Int64, 0)
		e.FundsHeldAt = &t
	}
	if pickedUpAt.Valid {
		t := time.Unix(pickedUpAt.Int64, 0)
		e.PickedUpAt = &t
	}
	if deliveredAt.Valid {
		t := time.Unix(deliveredAt.Int64, 0)
		e.DeliveredAt = &t
	}
	if cancelledAt.Valid {
		t := time.Unix(cancelledAt.Int64, 0)
		e.CancelledAt = &t
	}
	return &e, nil
}

// UpdateEscrow persists an escrow's mutable fields (release counters,
// status, processor handles, milestone timestamps).
func UpdateEscrow(ctx context.Context, q Querier, e *escrow.Escrow) error {
	_, err := q.ExecContext(ctx, `
		UPDATE escrows SET
			farmer_released_cents = ?,
			middleman_released_cents = ?,
			refunded_cents = ?,
			status = ?,
			processor_intent_handle = ?,
			processor_capture_id = ?,
			processor_pickup_transfer_id = ?,
			processor_farmer_transfer_id = ?,
			processor_middleman_transfer_id = ?,
			funds_held_at = ?,
			picked_up_at = ?,
			delivered_at = ?,
			cancelled_at = ?,
			updated_at = ?
		WHERE id = ?
	`,
		int64(e.FarmerReleasedCents), int64(e.MiddlemanReleasedCents), int64(e.RefundedCents),
		string(e.Status), e.ProcessorIntentHandle, e.ProcessorCaptureID, e.ProcessorPickupTransferID,
		e.ProcessorFarmerTransferID, e.ProcessorMiddlemanTransferID,
		timePtrUnix(e.FundsHeldAt), timePtrUnix(e.PickedUpAt), timePtrUnix(e.DeliveredAt), timePtrUnix(e.CancelledAt),
		e.UpdatedAt.Unix(), e.ID,
	)
	if err != nil {
		return fmt.Errorf("update escrow: %w", err)
	}
	return nil
}
