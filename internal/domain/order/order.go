// Package order defines the Order aggregate and its finite-state machine.
//
// The transition table below is the single source of truth for every legal
// order-status edge in the system (spec §4.1). No other package may mutate
// Order.Status directly; all mutation goes through application/orderflow,
// which consults CanTransition before writing anything.
package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an Order.
type Status string

const (
	StatusListed           Status = "LISTED"
	StatusNegotiating      Status = "NEGOTIATING"
	StatusLogisticsSearch  Status = "LOGISTICS_SEARCH"
	StatusInTransit        Status = "IN_TRANSIT"
	StatusSettled          Status = "SETTLED"
	StatusCancelled        Status = "CANCELLED"
)

// transitions enumerates every permitted (from -> to) edge. Anything not
// listed here is rejected by CanTransition.
var transitions = map[Status]map[Status]bool{
	StatusListed: {
		StatusNegotiating: true,
	},
	StatusNegotiating: {
		StatusLogisticsSearch: true,
		StatusListed:          true, // reserved: all bids withdrawn/rejected
	},
	StatusLogisticsSearch: {
		StatusInTransit: true,
		StatusListed:    true, // system rollback, 48h timeout
	},
	StatusInTransit: {
		StatusSettled: true,
	},
	StatusSettled:   {},
	StatusCancelled: {},
}

// CanTransition reports whether the edge from -> to is legal.
func CanTransition(from, to Status) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// Order is the trade-coordination aggregate at the center of the system.
// Related entities (Farmer, Buyer, Middleman) are referenced by id only;
// this package never loads or owns them.
type Order struct {
	ID      string
	FarmerID string
	BuyerID  *string

	CropType string
	Variety  string

	TotalVolumeKg     decimal.Decimal
	AvailableVolumeKg decimal.Decimal

	AskingPricePerKg   decimal.Decimal
	AcceptedPricePerKg *decimal.Decimal

	Status Status

	RequiresColdChain bool
	HarvestDate       *time.Time
	RouteLineString   *string // WKT "LINESTRING(lon lat, lon lat)", WGS-84
	QualityGrade      *string

	PickupQRHash   *string // sha256 hex of a one-time secret, never the raw secret
	DeliveryQRHash *string

	LogisticsSearchStartedAt *time.Time
	SettledAt                *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsFresh reports whether the order's harvest date is within the given
// freshness window of now. Computed on read, never persisted.
func (o *Order) IsFresh(now time.Time, window time.Duration) bool {
	if o.HarvestDate == nil {
		return false
	}
	return now.Sub(*o.HarvestDate) <= window
}
