package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agrimatch/core/internal/domain/audit"
)

// AppendAuditEntry writes one append-only audit row. Called from inside
// the same WithTx transaction as the status edge it records, so a crash
// between the edge and its audit row is impossible.
func AppendAuditEntry(ctx context.Context, q Querier, e *audit.Entry) error {
	var extra sql.NullString
	if e.ExtraData != nil {
		data, err := json.Marshal(e.ExtraData)
		if err != nil {
			return fmt.Errorf("marshal audit extra_data: %w", err)
		}
		extra = sql.NullString{String: string(data), Valid: true}
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO audit_log (id, order_id, from_status, to_status, actor, reason, extra_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.OrderID, e.FromStatus, e.ToStatus, e.Actor, e.Reason, extra, e.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListAuditEntriesForOrder returns an order's full audit trail, oldest
// first.
func (s *Storage) ListAuditEntriesForOrder(ctx context.Context, orderID string) ([]*audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, from_status, to_status, actor, reason, extra_data, created_at
		FROM audit_log WHERE order_id = ? ORDER BY created_at ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*audit.Entry
	for rows.Next() {
		var e audit.Entry
		var reason, extra sql.NullString
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.OrderID, &e.FromStatus, &e.ToStatus, &e.Actor, &reason, &extra, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		if reason.Valid {
			e.Reason = reason.String
		}
		if extra.Valid {
			if err := json.Unmarshal([]byte(extra.String), &e.ExtraData); err != nil {
				return nil, fmt.Errorf("unmarshal audit extra_data: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
