package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/agrimatch/core/internal/apperr"
	"github.com/agrimatch/core/internal/events"
	"github.com/agrimatch/core/internal/storage"
)

// gpsPersistEvery is how often (every Nth frame) a GPS frame is written to
// the assignment's heartbeat; the middleman's position is updated on every
// frame, and every frame is re-broadcast live.
const gpsPersistEvery = 10

func (s *Server) handleOrderRoomWS(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, apperr.ErrUnauthorized)
		return
	}
	if _, err := s.authenticator.decode(token); err != nil {
		writeError(w, err)
		return
	}
	orderID := r.PathValue("order_id")
	if _, err := s.store.GetOrder(r.Context(), orderID); err != nil {
		writeError(w, err)
		return
	}
	s.hub.ServeOrderRoom(w, r, orderID)
}

func (s *Server) handleGPSStreamWS(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFromContext(r.Context())
	if claims.Role != "middleman" {
		writeError(w, apperr.ErrForbidden)
		return
	}
	orderID := r.URL.Query().Get("order_id")
	if orderID == "" {
		writeError(w, apperr.Wrap(apperr.KindValidation, "order_id query parameter is required", nil))
		return
	}
	if _, err := s.store.GetOrder(r.Context(), orderID); err != nil {
		writeError(w, err)
		return
	}
	s.hub.ServeGPSStream(w, r, claims.MiddlemanID, orderID)
}

// orderStateSync builds the STATE_SYNC snapshot sent to an order room
// subscriber right after CONNECTED, so a reconnecting client recovers
// without polling the REST surface.
func (s *Server) orderStateSync(orderID string) any {
	o, err := s.store.GetOrder(context.Background(), orderID)
	if err != nil {
		return nil
	}
	snapshot := orderStateSyncDTO{OrderStatus: string(o.Status)}

	if e, err := s.store.GetEscrowByOrder(context.Background(), orderID); err == nil {
		status := string(e.Status)
		snapshot.EscrowStatus = &status
	}
	if a, err := s.store.GetAssignmentForOrder(context.Background(), orderID); err == nil {
		snapshot.LastGPSPingAt = a.LastGPSPingAt
	}
	return snapshot
}

var gpsFrameCounts sync.Map // middlemanID -> *uint64, frame counter for persistence sampling

// persistGPSFrame updates the middleman's live position every frame and
// writes the owning assignment's heartbeat every gpsPersistEvery-th frame,
// clearing any stale-GPS alert the monitor may have raised.
func (s *Server) persistGPSFrame(middlemanID string, frame events.LocationFrame) {
	ctx := context.Background()

	m, err := s.store.GetMiddleman(ctx, middlemanID)
	if err != nil {
		s.log.Warn("gps frame for unknown middleman", "middleman_id", middlemanID, "error", err)
		return
	}
	m.CurrentLocation = geoPoint{Latitude: frame.Latitude, Longitude: frame.Longitude}.toDomain()
	m.UpdatedAt = time.Now()
	if err := s.store.UpsertMiddleman(ctx, m); err != nil {
		s.log.Warn("failed to persist middleman location", "middleman_id", middlemanID, "error", err)
		return
	}

	countVal, _ := gpsFrameCounts.LoadOrStore(middlemanID, new(uint64))
	count := countVal.(*uint64)
	*count++
	if *count%gpsPersistEvery != 0 {
		return
	}

	a, err := s.store.GetAssignmentByMiddleman(ctx, middlemanID)
	if err != nil {
		if !errors.Is(err, apperr.ErrAssignmentNotFound) {
			s.log.Warn("failed to load assignment for gps frame", "middleman_id", middlemanID, "error", err)
		}
		return
	}
	now := time.Now()
	a.LastGPSPingAt = &now
	a.GPSAlertSent = false
	a.UpdatedAt = now
	if err := s.store.WithTx(ctx, func(q storage.Querier) error {
		return storage.UpdateAssignment(ctx, q, a)
	}); err != nil {
		s.log.Warn("failed to persist gps heartbeat", "middleman_id", middlemanID, "error", err)
	}
}
