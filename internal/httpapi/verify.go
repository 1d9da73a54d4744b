package httpapi

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/agrimatch/core/internal/apperr"
	"github.com/agrimatch/core/internal/domain/audit"
	domescrow "github.com/agrimatch/core/internal/domain/escrow"
	"github.com/agrimatch/core/internal/domain/logistics"
	"github.com/agrimatch/core/internal/domain/order"
	"github.com/agrimatch/core/internal/matcher"
	"github.com/agrimatch/core/internal/storage"
)

type verifyScanRequest struct {
	OrderID          string   `json:"order_id"`
	QRToken          string   `json:"qr_token"`
	MiddlemanLocation geoPoint `json:"middleman_location"`
}

// assignmentForCaller loads the order's single assignment and confirms
// the caller's middleman id owns it, the shared ownership check every
// verification endpoint needs before touching escrow.
func (s *Server) assignmentForCaller(r *http.Request, orderID, middlemanID string) error {
	a, err := s.store.GetAssignmentForOrder(r.Context(), orderID)
	if err != nil {
		return err
	}
	if a.MiddlemanID != middlemanID || a.Status != logistics.AssignmentAccepted {
		return apperr.ErrForbidden
	}
	return nil
}

// touchAssignmentGPSPing updates the order's assignment last-ping
// timestamp, the same bookkeeping a live GPS frame would do, since a
// pickup scan is itself proof of the middleman's live presence.
func (s *Server) touchAssignmentGPSPing(ctx context.Context, orderID string) error {
	return s.store.WithTx(ctx, func(q storage.Querier) error {
		a, err := s.store.GetAssignmentForOrder(ctx, orderID)
		if err != nil {
			return err
		}
		now := time.Now()
		a.LastGPSPingAt = &now
		a.GPSAlertSent = false
		a.UpdatedAt = now
		return storage.UpdateAssignment(ctx, q, a)
	})
}

func checkQRToken(submitted string, hash *string) error {
	if hash == nil {
		return apperr.Wrap(apperr.KindInvalidToken, "order has no pickup/delivery token set", nil)
	}
	sum := sha256.Sum256([]byte(submitted))
	got := hex.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(got), []byte(*hash)) != 1 {
		return apperr.ErrInvalidToken
	}
	return nil
}

func (s *Server) handleVerifyPickup(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFromContext(r.Context())

	var req verifyScanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.assignmentForCaller(r, req.OrderID, claims.MiddlemanID); err != nil {
		writeError(w, err)
		return
	}

	o, err := s.store.GetOrder(r.Context(), req.OrderID)
	if err != nil {
		writeError(w, err)
		return
	}
	if o.Status != order.StatusInTransit {
		writeError(w, apperr.Wrap(apperr.KindInvalidTransition, "order is not IN_TRANSIT", nil))
		return
	}
	escrowState, err := s.store.GetEscrowByOrder(r.Context(), req.OrderID)
	if err != nil {
		writeError(w, err)
		return
	}
	if escrowState.Status != domescrow.StatusFundsHeld {
		writeError(w, apperr.Wrap(apperr.KindInvalidTransition, "escrow is not FUNDS_HELD", nil))
		return
	}
	if err := checkQRToken(req.QRToken, o.PickupQRHash); err != nil {
		writeError(w, err)
		return
	}

	farmer, err := s.store.GetFarmer(r.Context(), o.FarmerID)
	if err != nil {
		writeError(w, err)
		return
	}
	var farmerHandle string
	if farmer.ProcessorConnectedHandle != nil {
		farmerHandle = *farmer.ProcessorConnectedHandle
	}

	if err := s.touchAssignmentGPSPing(r.Context(), req.OrderID); err != nil {
		writeError(w, err)
		return
	}

	released, err := s.escrows.ReleasePickup(r.Context(), req.OrderID, farmerHandle)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newEscrowDTO(released))
}

func (s *Server) handleVerifyDelivery(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFromContext(r.Context())

	var req verifyScanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.assignmentForCaller(r, req.OrderID, claims.MiddlemanID); err != nil {
		writeError(w, err)
		return
	}

	o, err := s.store.GetOrder(r.Context(), req.OrderID)
	if err != nil {
		writeError(w, err)
		return
	}
	if o.Status != order.StatusInTransit {
		writeError(w, apperr.Wrap(apperr.KindInvalidTransition, "order is not IN_TRANSIT", nil))
		return
	}
	escrowState, err := s.store.GetEscrowByOrder(r.Context(), req.OrderID)
	if err != nil {
		writeError(w, err)
		return
	}
	if escrowState.Status != domescrow.StatusPickedUp {
		writeError(w, apperr.Wrap(apperr.KindInvalidTransition, "escrow is not PICKED_UP", nil))
		return
	}
	if err := checkQRToken(req.QRToken, o.DeliveryQRHash); err != nil {
		writeError(w, err)
		return
	}

	farmer, err := s.store.GetFarmer(r.Context(), o.FarmerID)
	if err != nil {
		writeError(w, err)
		return
	}
	middleman, err := s.store.GetMiddleman(r.Context(), claims.MiddlemanID)
	if err != nil {
		writeError(w, err)
		return
	}
	var farmerHandle, middlemanHandle string
	if farmer.ProcessorConnectedHandle != nil {
		farmerHandle = *farmer.ProcessorConnectedHandle
	}
	if middleman.ProcessorConnectedHandle != nil {
		middlemanHandle = *middleman.ProcessorConnectedHandle
	}

	released, err := s.escrows.ReleaseDelivery(r.Context(), o, farmerHandle, middlemanHandle, claims.MiddlemanID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.WithTx(r.Context(), func(q storage.Querier) error {
		return storage.SetMiddlemanAvailability(r.Context(), q, claims.MiddlemanID, true, time.Now())
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newEscrowDTO(released))
}

type verifyDisputeRequest struct {
	OrderID           string   `json:"order_id"`
	MiddlemanLocation geoPoint `json:"middleman_location"`
	Evidence          *string  `json:"evidence,omitempty"`
}

// disputeResponse reports the proximity check and an informational 24h
// auto-release figure. No job in this module releases escrow when it runs
// out; the dispute changes no order or escrow state.
type disputeResponse struct {
	WithinThreshold    bool    `json:"within_threshold"`
	DistanceM          float64 `json:"distance_m"`
	ProofHash          string  `json:"proof_hash"`
	AutoReleaseInHours float64 `json:"auto_release_in_hours"`
}

func (s *Server) handleVerifyDispute(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFromContext(r.Context())

	var req verifyDisputeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.assignmentForCaller(r, req.OrderID, claims.MiddlemanID); err != nil {
		writeError(w, err)
		return
	}

	o, err := s.store.GetOrder(r.Context(), req.OrderID)
	if err != nil {
		writeError(w, err)
		return
	}
	if o.Status != order.StatusInTransit {
		writeError(w, apperr.Wrap(apperr.KindInvalidTransition, "order is not IN_TRANSIT", nil))
		return
	}
	if o.BuyerID == nil {
		writeError(w, apperr.Wrap(apperr.KindInvalidTransition, "order has no buyer", nil))
		return
	}
	buyer, err := s.store.GetBuyer(r.Context(), *o.BuyerID)
	if err != nil {
		writeError(w, err)
		return
	}

	reported := req.MiddlemanLocation.toDomain()
	withinThreshold, distanceM, proofHash := matcher.CheckMiddlemanAtBuyer(reported, buyer.DeliveryLocation, matcher.DefaultDisputeThresholdM)

	now := time.Now().UTC()
	extra := map[string]any{
		"middleman_lat":    reported.Lat,
		"middleman_lon":    reported.Lon,
		"buyer_lat":        buyer.DeliveryLocation.Lat,
		"buyer_lon":        buyer.DeliveryLocation.Lon,
		"threshold_m":      matcher.DefaultDisputeThresholdM,
		"distance_m":       distanceM,
		"within_threshold": withinThreshold,
		"proof_hash":       proofHash,
	}
	if req.Evidence != nil {
		extra["evidence"] = *req.Evidence
	}

	if err := s.store.WithTx(r.Context(), func(q storage.Querier) error {
		return storage.AppendAuditEntry(r.Context(), q, &audit.Entry{
			ID:         uuid.NewString(),
			OrderID:    o.ID,
			FromStatus: string(o.Status),
			ToStatus:   string(o.Status),
			Actor:      "middleman:" + claims.MiddlemanID,
			Reason:     "delivery location dispute",
			ExtraData:  extra,
			CreatedAt:  now,
		})
	}); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, disputeResponse{
		WithinThreshold:    withinThreshold,
		DistanceM:          distanceM,
		ProofHash:          proofHash,
		AutoReleaseInHours: 24,
	})
}
