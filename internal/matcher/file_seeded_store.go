package matcher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/agrimatch/core/internal/domain/logistics"
)

// FileSeededStore is a degraded SpatialStore used when the SQLite-backed
// store cannot be reached. It loads a static JSON snapshot of middlemen
// from disk so logistics matching degrades to stale-but-available data
// rather than failing order flow outright.
type FileSeededStore struct {
	middlemen []*logistics.Middleman
}

type seedMiddleman struct {
	ID              string  `json:"id"`
	Lat             float64 `json:"lat"`
	Lon             float64 `json:"lon"`
	TruckCapacityKg float64 `json:"truck_capacity_kg"`
	TruckPlate      string  `json:"truck_plate"`
	TruckType       string  `json:"truck_type"`
	ServiceRadiusKm float64 `json:"service_radius_km"`
}

// NewFileSeededStore reads a seed file of middlemen positions. An empty
// path yields an empty store rather than an error, since seeding is
// optional in production and only meaningful for local development and
// demos.
func NewFileSeededStore(path string) (*FileSeededStore, error) {
	if path == "" {
		return &FileSeededStore{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seeds []seedMiddleman
	if err := json.Unmarshal(data, &seeds); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	now := time.Now()
	out := make([]*logistics.Middleman, 0, len(seeds))
	for _, s := range seeds {
		out = append(out, &logistics.Middleman{
			ID:              s.ID,
			CurrentLocation: logistics.GeoPoint{Lat: s.Lat, Lon: s.Lon},
			TruckCapacityKg: s.TruckCapacityKg,
			TruckPlate:      s.TruckPlate,
			TruckType:       logistics.TruckType(s.TruckType),
			ServiceRadiusKm: s.ServiceRadiusKm,
			IsAvailable:     true,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}
	return &FileSeededStore{middlemen: out}, nil
}

// CandidateMiddlemen returns the seeded snapshot.
func (s *FileSeededStore) CandidateMiddlemen(ctx context.Context) ([]*logistics.Middleman, error) {
	return s.middlemen, nil
}
