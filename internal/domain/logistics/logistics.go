// Package logistics defines the Middleman (trucker) and LogisticsAssignment
// entities used by the spatial matcher and the verification endpoints.
package logistics

import "time"

// TruckType enumerates supported truck refrigeration classes. Only REEFER
// satisfies a cold-chain requirement.
type TruckType string

const (
	TruckReefer     TruckType = "REEFER"
	TruckVentilated TruckType = "VENTILATED"
	TruckInsulated  TruckType = "INSULATED"
	TruckDryVan     TruckType = "DRY_VAN"
)

// SatisfiesColdChain reports whether this truck type may carry cold-chain
// produce.
func (t TruckType) SatisfiesColdChain() bool {
	return t == TruckReefer
}

// GeoPoint is a WGS-84 (lon, lat) coordinate pair.
type GeoPoint struct {
	Lat float64
	Lon float64
}

// Middleman is a trucker available to carry a matched order.
type Middleman struct {
	ID                       string
	CurrentLocation          GeoPoint
	TruckCapacityKg          float64
	TruckPlate               string
	TruckType                TruckType
	ServiceRadiusKm          float64
	IsAvailable              bool
	ProcessorConnectedHandle *string

	CompletedDeliveries int // reputation counter, bumped on delivery settlement

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AssignmentStatus is the lifecycle state of a LogisticsAssignment.
type AssignmentStatus string

const (
	AssignmentOffered  AssignmentStatus = "OFFERED"
	AssignmentAccepted AssignmentStatus = "ACCEPTED"
	AssignmentRejected AssignmentStatus = "REJECTED"
)

// Assignment links one Middleman to one Order (at most one per order).
type Assignment struct {
	ID         string
	OrderID    string
	MiddlemanID string

	Status AssignmentStatus

	LastGPSPingAt *time.Time
	GPSAlertSent  bool

	EstimatedDistanceKm float64

	OfferedAt  time.Time
	AcceptedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
