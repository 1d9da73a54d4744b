// Package audit defines the append-only AuditLog entry written for every
// successful order-status edge and for every dispute proof.
package audit

import "time"

// Entry is one append-only audit row. extra_data is an arbitrary JSON bag
// (e.g. a dispute's geolocation proof, or the 48hr_timeout reason).
type Entry struct {
	ID         string
	OrderID    string
	FromStatus string
	ToStatus   string
	Actor      string // e.g. "farmer:<id>", "middleman:<id>", "system:timeout-monitor"
	Reason     string
	ExtraData  map[string]any
	CreatedAt  time.Time
}
