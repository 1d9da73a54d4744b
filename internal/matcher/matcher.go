// Package matcher finds middlemen near an order's pickup point (the order's
// route line is not consulted) and produces
// deterministic geolocation proofs for delivery disputes. It stands in for
// a PostGIS-backed spatial index, approximating haversine-distance
// filtering over the plain SQLite tables this core already owns, behind
// one interface that falls back to a seeded snapshot when the primary
// source is unavailable.
package matcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/agrimatch/core/internal/domain/logistics"
)

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two points in
// kilometers.
func HaversineKm(a, b logistics.GeoPoint) float64 {
	lat1, lon1 := degToRad(a.Lat), degToRad(a.Lon)
	lat2, lon2 := degToRad(b.Lat), degToRad(b.Lon)

	dLat := lat2 - lat1
	dLon := lon2 - lon1

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

func degToRad(d float64) float64 { return d * math.Pi / 180 }

// DefaultBufferKM is the search radius used when matching middlemen to an
// order, measured from the farmer's pickup point; the delivery route is not
// part of the distance check. Not tunable per order.
const DefaultBufferKM = 25

// SpatialStore is the source of candidate middlemen for route matching.
// The SQLite-backed implementation is primary; a file-seeded mock is used
// when the store is unavailable, so order flow never blocks on a missing
// spatial backend.
type SpatialStore interface {
	CandidateMiddlemen(ctx context.Context) ([]*logistics.Middleman, error)
}

// Matcher finds and scores middlemen against an order's route/pickup and
// verifies proximity at pickup/delivery time.
type Matcher struct {
	store SpatialStore
}

// New constructs a Matcher over the given SpatialStore. To degrade rather
// than fail when lookups fail, pass a FallbackStore wrapping the primary
// store and a FileSeededStore.
func New(store SpatialStore) *Matcher {
	return &Matcher{store: store}
}

// Candidate is a middleman scored against a pickup point.
type Candidate struct {
	Middleman   *logistics.Middleman
	DistanceKm  float64
}

// MaxCandidates is the maximum number of middlemen FindMiddlemenNearRoute
// returns, nearest first.
const MaxCandidates = 20

// FindMiddlemenNearRoute returns available middlemen within
// DefaultBufferKM of pickup, with sufficient truck capacity and (when
// required) cold-chain-capable trucks, nearest first, capped at
// MaxCandidates.
func (m *Matcher) FindMiddlemenNearRoute(ctx context.Context, pickup logistics.GeoPoint, volumeKg float64, requiresColdChain bool) ([]Candidate, error) {
	all, err := m.store.CandidateMiddlemen(ctx)
	if err != nil {
		return nil, fmt.Errorf("load candidate middlemen: %w", err)
	}

	var out []Candidate
	for _, mm := range all {
		if !mm.IsAvailable {
			continue
		}
		if mm.TruckCapacityKg < volumeKg {
			continue
		}
		if requiresColdChain && !mm.TruckType.SatisfiesColdChain() {
			continue
		}
		dist := HaversineKm(pickup, mm.CurrentLocation)
		if dist > mm.ServiceRadiusKm || dist > DefaultBufferKM {
			continue
		}
		out = append(out, Candidate{Middleman: mm, DistanceKm: dist})
	}

	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].DistanceKm < out[j-1].DistanceKm; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if len(out) > MaxCandidates {
		out = out[:MaxCandidates]
	}
	return out, nil
}

// DefaultDisputeThresholdM is the default proximity threshold, in meters,
// for CheckMiddlemanAtBuyer.
const DefaultDisputeThresholdM = 100.0

// CheckMiddlemanAtBuyer is a pure function: given a middleman's reported
// position and the buyer's delivery point, it reports whether the
// middleman is within thresholdM meters, the great-circle distance in
// meters, and a deterministic SHA-256 proof hash binding both points,
// the threshold, and the distance together for dispute resolution. Same
// inputs always produce the same outputs.
func CheckMiddlemanAtBuyer(middlemanPoint, buyerPoint logistics.GeoPoint, thresholdM float64) (isWithin bool, distanceM float64, proofHash string) {
	distanceM = HaversineKm(middlemanPoint, buyerPoint) * 1000
	isWithin = distanceM <= thresholdM
	proofHash = geolocationProof(middlemanPoint, buyerPoint, thresholdM, distanceM)
	return isWithin, distanceM, proofHash
}

// geolocationProof hashes "lat,lon|lat,lon|threshold|distance" with the
// distance rounded to four decimal places, so replaying the same two
// points and threshold reproduces the same proof.
func geolocationProof(middlemanPoint, buyerPoint logistics.GeoPoint, thresholdM, distanceM float64) string {
	h := sha256.New()
	fmt.Fprintf(h, "%.6f,%.6f|%.6f,%.6f|%.4f|%.4f",
		middlemanPoint.Lat, middlemanPoint.Lon, buyerPoint.Lat, buyerPoint.Lon, thresholdM, distanceM)
	return hex.EncodeToString(h.Sum(nil))
}
