package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agrimatch/core/internal/apperr"
	"github.com/agrimatch/core/internal/domain/logistics"
)

const middlemanSelectCols = `SELECT
	id, current_lat, current_lon, truck_capacity_kg, truck_plate, truck_type,
	service_radius_km, is_available, processor_connected_handle,
	completed_deliveries, created_at, updated_at`

// UpsertMiddleman inserts or replaces a middleman's registration and
// position.
func (s *Storage) UpsertMiddleman(ctx context.Context, m *logistics.Middleman) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO middlemen (
			id, current_lat, current_lon, truck_capacity_kg, truck_plate, truck_type,
			service_radius_km, is_available, processor_connected_handle,
			completed_deliveries, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			current_lat = excluded.current_lat,
			current_lon = excluded.current_lon,
			truck_capacity_kg = excluded.truck_capacity_kg,
			truck_plate = excluded.truck_plate,
			truck_type = excluded.truck_type,
			service_radius_km = excluded.service_radius_km,
			is_available = excluded.is_available,
			processor_connected_handle = excluded.processor_connected_handle,
			updated_at = excluded.updated_at
	`,
		m.ID, m.CurrentLocation.Lat, m.CurrentLocation.Lon, m.TruckCapacityKg, m.TruckPlate, string(m.TruckType),
		m.ServiceRadiusKm, boolToInt(m.IsAvailable), m.ProcessorConnectedHandle,
		m.CompletedDeliveries, m.CreatedAt.Unix(), m.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert middleman: %w", err)
	}
	return nil
}

// GetMiddleman retrieves a middleman by ID.
func (s *Storage) GetMiddleman(ctx context.Context, id string) (*logistics.Middleman, error) {
	return scanMiddlemanRow(s.db.QueryRowContext(ctx, middlemanSelectCols+" FROM middlemen WHERE id = ?", id))
}

func scanMiddlemanRow(row *sql.Row) (*logistics.Middleman, error) {
	var m logistics.Middleman
	var truckType string
	var isAvailable int
	var handle sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(
		&m.ID, &m.CurrentLocation.Lat, &m.CurrentLocation.Lon, &m.TruckCapacityKg, &m.TruckPlate, &truckType,
		&m.ServiceRadiusKm, &isAvailable, &handle, &m.CompletedDeliveries, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.ErrMiddlemanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan middleman: %w", err)
	}
	m.TruckType = logistics.TruckType(truckType)
	m.IsAvailable = isAvailable == 1
	m.CreatedAt = time.Unix(createdAt, 0)
	m.UpdatedAt = time.Unix(updatedAt, 0)
	if handle.Valid {
		m.ProcessorConnectedHandle = &handle.String
	}
	return &m, nil
}

// ListAvailableMiddlemen returns every middleman currently flagged
// available, for the matcher's candidate pool before it applies the
// haversine distance filter.
func (s *Storage) ListAvailableMiddlemen(ctx context.Context) ([]*logistics.Middleman, error) {
	rows, err := s.db.QueryContext(ctx, middlemanSelectCols+" FROM middlemen WHERE is_available = 1")
	if err != nil {
		return nil, fmt.Errorf("list available middlemen: %w", err)
	}
	defer rows.Close()

	var out []*logistics.Middleman
	for rows.Next() {
		var m logistics.Middleman
		var truckType string
		var isAvailable int
		var handle sql.NullString
		var createdAt, updatedAt int64
		if err := rows.Scan(&m.ID, &m.CurrentLocation.Lat, &m.CurrentLocation.Lon, &m.TruckCapacityKg, &m.TruckPlate,
			&truckType, &m.ServiceRadiusKm, &isAvailable, &handle, &m.CompletedDeliveries, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan middleman row: %w", err)
		}
		m.TruckType = logistics.TruckType(truckType)
		m.IsAvailable = isAvailable == 1
		m.CreatedAt = time.Unix(createdAt, 0)
		m.UpdatedAt = time.Unix(updatedAt, 0)
		if handle.Valid {
			m.ProcessorConnectedHandle = &handle.String
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// SetMiddlemanAvailability flips a middleman's availability flag (e.g.
// false once an assignment is accepted).
func SetMiddlemanAvailability(ctx context.Context, q Querier, id string, available bool, updatedAt time.Time) error {
	_, err := q.ExecContext(ctx, `UPDATE middlemen SET is_available = ?, updated_at = ? WHERE id = ?`,
		boolToInt(available), updatedAt.Unix(), id)
	if err != nil {
		return fmt.Errorf("set middleman availability: %w", err)
	}
	return nil
}

// IncrementMiddlemanDeliveries bumps a middleman's completed-deliveries
// reputation counter on delivery settlement.
func IncrementMiddlemanDeliveries(ctx context.Context, q Querier, id string, updatedAt time.Time) error {
	_, err := q.ExecContext(ctx, `UPDATE middlemen SET completed_deliveries = completed_deliveries + 1, updated_at = ? WHERE id = ?`,
		updatedAt.Unix(), id)
	if err != nil {
		return fmt.Errorf("increment middleman deliveries: %w", err)
	}
	return nil
}

const assignmentSelectCols = `SELECT
	id, order_id, middleman_id, status, last_gps_ping_at, gps_alert_sent,
	estimated_distance_km, offered_at, accepted_at, created_at, updated_at`

// CreateAssignment inserts a new logistics assignment (offer).
func CreateAssignment(ctx context.Context, q Querier, a *logistics.Assignment) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO logistics_assignments (
			id, order_id, middleman_id, status, last_gps_ping_at, gps_alert_sent,
			estimated_distance_km, offered_at, accepted_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.OrderID, a.MiddlemanID, string(a.Status), timePtrUnix(a.LastGPSPingAt), boolToInt(a.GPSAlertSent),
		a.EstimatedDistanceKm, a.OfferedAt.Unix(), timePtrUnix(a.AcceptedAt), a.CreatedAt.Unix(), a.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

// GetAssignmentForOrder retrieves the current assignment for an order, if
// any.
func (s *Storage) GetAssignmentForOrder(ctx context.Context, orderID string) (*logistics.Assignment, error) {
	return scanAssignmentRow(s.db.QueryRowContext(ctx, assignmentSelectCols+` FROM logistics_assignments
		WHERE order_id = ? ORDER BY created_at DESC LIMIT 1`, orderID))
}

// GetAssignmentByMiddleman retrieves the most recent ACCEPTED assignment
// for a middleman, used by the GPS stream to resolve which order a
// location frame belongs to.
func (s *Storage) GetAssignmentByMiddleman(ctx context.Context, middlemanID string) (*logistics.Assignment, error) {
	return scanAssignmentRow(s.db.QueryRowContext(ctx, assignmentSelectCols+` FROM logistics_assignments
		WHERE middleman_id = ? AND status = ? ORDER BY created_at DESC LIMIT 1`,
		middlemanID, string(logistics.AssignmentAccepted)))
}

// GetAssignmentByID retrieves an assignment by id through q, so callers can
// look one up either directly (passing s.DB()) or row-locked inside a
// WithTx transaction (passing the borrowed connection).
func GetAssignmentByID(ctx context.Context, q Querier, id string) (*logistics.Assignment, error) {
	return scanAssignmentRow(q.QueryRowContext(ctx, assignmentSelectCols+` FROM logistics_assignments WHERE id = ?`, id))
}

func scanAssignmentRow(row *sql.Row) (*logistics.Assignment, error) {
	var a logistics.Assignment
	var status string
	var lastPing, acceptedAt sql.NullInt64
	var alertSent int
	var offeredAt, createdAt, updatedAt int64

	err := row.Scan(&a.ID, &a.OrderID, &a.MiddlemanID, &status, &lastPing, &alertSent,
		&a.EstimatedDistanceKm, &offeredAt, &acceptedAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.ErrAssignmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan assignment: %w", err)
	}
	a.Status = logistics.AssignmentStatus(status)
	a.GPSAlertSent = alertSent == 1
	a.OfferedAt = time.Unix(offeredAt, 0)
	a.CreatedAt = time.Unix(createdAt, 0)
	a.UpdatedAt = time.Unix(updatedAt, 0)
	if lastPing.Valid {
		t := time.Unix(lastPing.Int64, 0)
		a.LastGPSPingAt = &t
	}
	if acceptedAt.Valid {
		t := time.Unix(acceptedAt.Int64, 0)
		a.AcceptedAt = &t
	}
	return &a, nil
}

// UpdateAssignment persists an assignment's mutable fields (status, GPS
// heartbeat, acceptance timestamp).
func UpdateAssignment(ctx context.Context, q Querier, a *logistics.Assignment) error {
	_, err := q.ExecContext(ctx, `
		UPDATE logistics_assignments SET
			status = ?, last_gps_ping_at = ?, gps_alert_sent = ?, accepted_at = ?, updated_at = ?
		WHERE id = ?
	`, string(a.Status), timePtrUnix(a.LastGPSPingAt), boolToInt(a.GPSAlertSent), timePtrUnix(a.AcceptedAt), a.UpdatedAt.Unix(), a.ID)
	if err != nil {
		return fmt.Errorf("update assignment: %w", err)
	}
	return nil
}

// ListStaleGPSAssignments returns every ACCEPTED assignment whose last GPS
// ping is older than cutoff and has not yet been alerted on, for the GPS
// heartbeat monitor.
func (s *Storage) ListStaleGPSAssignments(ctx context.Context, cutoff time.Time) ([]*logistics.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, assignmentSelectCols+` FROM logistics_assignments
		WHERE status = ? AND gps_alert_sent = 0
		AND (last_gps_ping_at IS NULL OR last_gps_ping_at < ?)`,
		string(logistics.AssignmentAccepted), cutoff.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("list stale gps assignments: %w", err)
	}
	defer rows.Close()

	var out []*logistics.Assignment
	for rows.Next() {
		var a logistics.Assignment
		var status string
		var lastPing, acceptedAt sql.NullInt64
		var alertSent int
		var offeredAt, createdAt, updatedAt int64
		if err := rows.Scan(&a.ID, &a.OrderID, &a.MiddlemanID, &status, &lastPing, &alertSent,
			&a.EstimatedDistanceKm, &offeredAt, &acceptedAt, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan stale assignment row: %w", err)
		}
		a.Status = logistics.AssignmentStatus(status)
		a.GPSAlertSent = alertSent == 1
		a.OfferedAt = time.Unix(offeredAt, 0)
		a.CreatedAt = time.Unix(createdAt, 0)
		a.UpdatedAt = time.Unix(updatedAt, 0)
		if lastPing.Valid {
			t := time.Unix(lastPing.Int64, 0)
			a.LastGPSPingAt = &t
		}
		if acceptedAt.Valid {
			t := time.Unix(acceptedAt.Int64, 0)
			a.AcceptedAt = &t
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// ListOrdersPastLogisticsSearchTimeout returns the ids of every order still
// in LOGISTICS_SEARCH whose search window started before cutoff, for the
// 48h logistics timeout monitor.
func (s *Storage) ListOrdersPastLogisticsSearchTimeout(ctx context.Context, status string, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM orders WHERE status = ? AND logistics_search_started_at IS NOT NULL AND logistics_search_started_at < ?`,
		status, cutoff.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("list timed-out orders: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan order id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
