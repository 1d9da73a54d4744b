package httpapi

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/agrimatch/core/internal/apperr"
	"github.com/agrimatch/core/internal/domain/bid"
)

type bidCreateRequest struct {
	OrderID           string  `json:"order_id"`
	OfferedPricePerKg string  `json:"offered_price_per_kg"`
	VolumeKg          string  `json:"volume_kg"`
	Message           *string `json:"message,omitempty"`
}

func (s *Server) handleSubmitBid(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFromContext(r.Context())

	var req bidCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	price, err := decimal.NewFromString(req.OfferedPricePerKg)
	if err != nil || price.Sign() <= 0 {
		writeError(w, apperr.Wrap(apperr.KindValidation, "offered_price_per_kg must be a positive decimal", err))
		return
	}
	volume, err := decimal.NewFromString(req.VolumeKg)
	if err != nil || volume.Sign() <= 0 {
		writeError(w, apperr.Wrap(apperr.KindValidation, "volume_kg must be a positive decimal", err))
		return
	}
	if req.OrderID == "" {
		writeError(w, apperr.Wrap(apperr.KindValidation, "order_id is required", nil))
		return
	}

	b := &bid.Bid{
		OrderID:           req.OrderID,
		BuyerID:           claims.UserID,
		OfferedPricePerKg: price,
		VolumeKg:          volume,
		Message:           req.Message,
	}
	if err := s.orders.SubmitBid(r.Context(), b); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newBidDTO(b))
}

func (s *Server) handleListBidsForOrder(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFromContext(r.Context())
	orderID := r.PathValue("id")

	o, err := s.store.GetOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	if o.FarmerID != claims.UserID {
		writeError(w, apperr.ErrForbidden)
		return
	}

	bids, err := s.store.ListBidsForOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	dtos := make([]bidDTO, 0, len(bids))
	for _, b := range bids {
		dtos = append(dtos, newBidDTO(b))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// acceptBidResponse is the contract handed back to the farmer so their
// client can complete payment authorization with the processor.
type acceptBidResponse struct {
	ClientSecret string `json:"client_secret"`
	AmountCents  int64  `json:"amount_cents"`
}

func (s *Server) handleAcceptBid(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFromContext(r.Context())
	bidID := r.PathValue("id")

	b, err := s.store.GetBid(r.Context(), bidID)
	if err != nil {
		writeError(w, err)
		return
	}
	o, err := s.store.GetOrder(r.Context(), b.OrderID)
	if err != nil {
		writeError(w, err)
		return
	}
	if o.FarmerID != claims.UserID {
		writeError(w, apperr.ErrForbidden)
		return
	}

	if _, err := s.orders.AcceptBid(r.Context(), o.ID, bidID, "farmer:"+claims.UserID); err != nil {
		writeError(w, err)
		return
	}

	buyer, err := s.store.GetBuyer(r.Context(), b.BuyerID)
	if err != nil {
		writeError(w, err)
		return
	}
	var buyerHandle string
	if buyer.ProcessorCustomerHandle != nil {
		buyerHandle = *buyer.ProcessorCustomerHandle
	}

	escrow, err := s.escrows.CreatePaymentIntent(r.Context(), o.ID, buyerHandle)
	if err != nil {
		writeError(w, err)
		return
	}

	clientSecret := ""
	if escrow.ProcessorIntentHandle != nil {
		clientSecret = *escrow.ProcessorIntentHandle
	}
	writeJSON(w, http.StatusOK, acceptBidResponse{
		ClientSecret: clientSecret,
		AmountCents:  int64(escrow.TotalAmountCents),
	})
}

func (s *Server) handleRejectBid(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFromContext(r.Context())
	bidID := r.PathValue("id")

	b, err := s.store.GetBid(r.Context(), bidID)
	if err != nil {
		writeError(w, err)
		return
	}
	o, err := s.store.GetOrder(r.Context(), b.OrderID)
	if err != nil {
		writeError(w, err)
		return
	}
	if o.FarmerID != claims.UserID {
		writeError(w, apperr.ErrForbidden)
		return
	}

	rejected, err := s.orders.RejectBid(r.Context(), o.ID, bidID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newBidDTO(rejected))
}

func (s *Server) handleWithdrawBid(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFromContext(r.Context())
	bidID := r.PathValue("id")

	b, err := s.store.GetBid(r.Context(), bidID)
	if err != nil {
		writeError(w, err)
		return
	}
	if b.BuyerID != claims.UserID {
		writeError(w, apperr.ErrForbidden)
		return
	}
	if err := s.orders.WithdrawBid(r.Context(), bidID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
