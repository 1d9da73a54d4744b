package httpapi

import (
	"time"

	"github.com/agrimatch/core/internal/domain/audit"
	"github.com/agrimatch/core/internal/domain/bid"
	"github.com/agrimatch/core/internal/domain/escrow"
	"github.com/agrimatch/core/internal/domain/logistics"
	"github.com/agrimatch/core/internal/domain/order"
	"github.com/agrimatch/core/internal/matcher"
)

// The domain packages intentionally carry no json tags — they are the
// storage/application boundary, not the wire format. These DTOs are the
// one place request/response shapes are spelled out.

type orderDTO struct {
	ID                 string     `json:"id"`
	FarmerID           string     `json:"farmer_id"`
	BuyerID            *string    `json:"buyer_id,omitempty"`
	CropType           string     `json:"crop_type"`
	Variety            string     `json:"variety"`
	TotalVolumeKg      string     `json:"total_volume_kg"`
	AvailableVolumeKg  string     `json:"available_volume_kg"`
	AskingPricePerKg   string     `json:"asking_price_per_kg"`
	AcceptedPricePerKg *string    `json:"accepted_price_per_kg,omitempty"`
	Status             string     `json:"status"`
	RequiresColdChain  bool       `json:"requires_cold_chain"`
	HarvestDate        *time.Time `json:"harvest_date,omitempty"`
	QualityGrade       *string    `json:"quality_grade,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func newOrderDTO(o *order.Order) orderDTO {
	var accepted *string
	if o.AcceptedPricePerKg != nil {
		s := o.AcceptedPricePerKg.String()
		accepted = &s
	}
	return orderDTO{
		ID:                 o.ID,
		FarmerID:           o.FarmerID,
		BuyerID:            o.BuyerID,
		CropType:           o.CropType,
		Variety:            o.Variety,
		TotalVolumeKg:      o.TotalVolumeKg.String(),
		AvailableVolumeKg:  o.AvailableVolumeKg.String(),
		AskingPricePerKg:   o.AskingPricePerKg.String(),
		AcceptedPricePerKg: accepted,
		Status:             string(o.Status),
		RequiresColdChain:  o.RequiresColdChain,
		HarvestDate:        o.HarvestDate,
		QualityGrade:       o.QualityGrade,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
}

type bidDTO struct {
	ID                string     `json:"id"`
	OrderID           string     `json:"order_id"`
	BuyerID           string     `json:"buyer_id"`
	OfferedPricePerKg string     `json:"offered_price_per_kg"`
	VolumeKg          string     `json:"volume_kg"`
	Status            string     `json:"status"`
	Message           *string    `json:"message,omitempty"`
	Expiry            *time.Time `json:"expiry,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

func newBidDTO(b *bid.Bid) bidDTO {
	return bidDTO{
		ID:                b.ID,
		OrderID:           b.OrderID,
		BuyerID:           b.BuyerID,
		OfferedPricePerKg: b.OfferedPricePerKg.String(),
		VolumeKg:          b.VolumeKg.String(),
		Status:            string(b.Status),
		Message:           b.Message,
		Expiry:            b.Expiry,
		CreatedAt:         b.CreatedAt,
	}
}

type escrowDTO struct {
	ID                     string  `json:"id"`
	OrderID                string  `json:"order_id"`
	TotalAmountCents       int64   `json:"total_amount_cents"`
	FarmerReleasedCents    int64   `json:"farmer_released_cents"`
	MiddlemanReleasedCents int64   `json:"middleman_released_cents"`
	RefundedCents          int64   `json:"refunded_cents"`
	Status                 string  `json:"status"`
	ProcessorIntentHandle  *string `json:"processor_intent_handle,omitempty"`
}

func newEscrowDTO(e *escrow.Escrow) escrowDTO {
	return escrowDTO{
		ID:                     e.ID,
		OrderID:                e.OrderID,
		TotalAmountCents:       int64(e.TotalAmountCents),
		FarmerReleasedCents:    int64(e.FarmerReleasedCents),
		MiddlemanReleasedCents: int64(e.MiddlemanReleasedCents),
		RefundedCents:          int64(e.RefundedCents),
		Status:                 string(e.Status),
		ProcessorIntentHandle:  e.ProcessorIntentHandle,
	}
}

type candidateDTO struct {
	MiddlemanID string  `json:"middleman_id"`
	DistanceKm  float64 `json:"distance_km"`
	// EstimatedArrivalHours is the naive distance/60 estimate the matcher
	// spec calls for when no routing oracle is consulted.
	EstimatedArrivalHours float64  `json:"estimated_arrival_hours"`
	TruckType             string   `json:"truck_type"`
	TruckCapacityKg       float64  `json:"truck_capacity_kg"`
	CurrentLocation       geoPoint `json:"current_location"`
}

func newCandidateDTO(c matcher.Candidate) candidateDTO {
	return candidateDTO{
		MiddlemanID:           c.Middleman.ID,
		DistanceKm:            c.DistanceKm,
		EstimatedArrivalHours: c.DistanceKm / 60,
		TruckType:             string(c.Middleman.TruckType),
		TruckCapacityKg:       c.Middleman.TruckCapacityKg,
		CurrentLocation:       geoPoint{Latitude: c.Middleman.CurrentLocation.Lat, Longitude: c.Middleman.CurrentLocation.Lon},
	}
}

type assignmentDTO struct {
	ID                  string  `json:"id"`
	OrderID             string  `json:"order_id"`
	MiddlemanID         string  `json:"middleman_id"`
	Status              string  `json:"status"`
	EstimatedDistanceKm float64 `json:"estimated_distance_km"`
}

func newAssignmentDTO(a *logistics.Assignment) assignmentDTO {
	return assignmentDTO{
		ID:                  a.ID,
		OrderID:             a.OrderID,
		MiddlemanID:         a.MiddlemanID,
		Status:              string(a.Status),
		EstimatedDistanceKm: a.EstimatedDistanceKm,
	}
}

// geoPoint is the wire shape for a {latitude, longitude} pair, matching
// the GPS-frame JSON the spec describes.
type geoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (g geoPoint) toDomain() logistics.GeoPoint {
	return logistics.GeoPoint{Lat: g.Latitude, Lon: g.Longitude}
}

// orderStateSyncDTO is the STATE_SYNC payload: enough for a reconnecting
// client to recover without polling.
type orderStateSyncDTO struct {
	OrderStatus   string     `json:"order_status"`
	EscrowStatus  *string    `json:"escrow_status,omitempty"`
	LastGPSPingAt *time.Time `json:"last_gps_ping_at,omitempty"`
}

type auditEntryDTO struct {
	ID         string         `json:"id"`
	FromStatus string         `json:"from_status"`
	ToStatus   string         `json:"to_status"`
	Actor      string         `json:"actor"`
	Reason     string         `json:"reason"`
	ExtraData  map[string]any `json:"extra_data,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

func newAuditEntryDTO(e *audit.Entry) auditEntryDTO {
	return auditEntryDTO{
		ID:         e.ID,
		FromStatus: e.FromStatus,
		ToStatus:   e.ToStatus,
		Actor:      e.Actor,
		Reason:     e.Reason,
		ExtraData:  e.ExtraData,
		CreatedAt:  e.CreatedAt,
	}
}
