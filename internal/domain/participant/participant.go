// Package participant defines the minimal Farmer and Buyer records this
// core needs (identity, geo-point, processor handle, reputation counters).
// Registration, authentication, and full profile CRUD live in an external
// collaborator service and are out of scope here.
package participant

import "github.com/agrimatch/core/internal/domain/logistics"

// Farmer owns orders.
type Farmer struct {
	ID       string
	Location logistics.GeoPoint

	CompletedSales int // reputation counter, bumped on delivery settlement

	ProcessorConnectedHandle *string
}

// Buyer places bids on orders.
type Buyer struct {
	ID               string
	DeliveryLocation logistics.GeoPoint
	ProcessorCustomerHandle *string
}
