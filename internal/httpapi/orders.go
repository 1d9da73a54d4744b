package httpapi

import (
	"crypto/sha256"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agrimatch/core/internal/apperr"
	"github.com/agrimatch/core/internal/domain/order"
	"github.com/agrimatch/core/internal/domain/participant"
	"github.com/agrimatch/core/internal/storage"
)

// orderCreateRequest is the wire shape for POST /orders. PickupLocation
// upserts the caller's Farmer row so the matcher always has a pickup
// point to route from; farmer registration itself lives outside this
// daemon.
type orderCreateRequest struct {
	CropType          string     `json:"crop_type"`
	Variety           string     `json:"variety"`
	TotalVolumeKg     string     `json:"total_volume_kg"`
	AskingPricePerKg  string     `json:"asking_price_per_kg"`
	RequiresColdChain bool       `json:"requires_cold_chain"`
	HarvestDate       *time.Time `json:"harvest_date,omitempty"`
	RouteLineString   *string    `json:"route_linestring,omitempty"`
	QualityGrade      *string    `json:"quality_grade,omitempty"`
	PickupLocation    geoPoint   `json:"pickup_location"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFromContext(r.Context())

	var req orderCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	totalVol, err := decimal.NewFromString(req.TotalVolumeKg)
	if err != nil || totalVol.Sign() <= 0 {
		writeError(w, apperr.Wrap(apperr.KindValidation, "total_volume_kg must be a positive decimal", err))
		return
	}
	askingPrice, err := decimal.NewFromString(req.AskingPricePerKg)
	if err != nil || askingPrice.Sign() <= 0 {
		writeError(w, apperr.Wrap(apperr.KindValidation, "asking_price_per_kg must be a positive decimal", err))
		return
	}
	if req.CropType == "" {
		writeError(w, apperr.Wrap(apperr.KindValidation, "crop_type is required", nil))
		return
	}

	if err := s.store.UpsertFarmer(r.Context(), &participant.Farmer{
		ID:       claims.UserID,
		Location: req.PickupLocation.toDomain(),
	}); err != nil {
		writeError(w, err)
		return
	}

	o := &order.Order{
		FarmerID:          claims.UserID,
		CropType:          req.CropType,
		Variety:           req.Variety,
		TotalVolumeKg:     totalVol,
		AskingPricePerKg:  askingPrice,
		RequiresColdChain: req.RequiresColdChain,
		HarvestDate:       req.HarvestDate,
		RouteLineString:   req.RouteLineString,
		QualityGrade:      req.QualityGrade,
	}
	if err := s.orders.CreateOrder(r.Context(), o); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newOrderDTO(o))
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storageListOrdersFilter(q)

	orders, err := s.store.ListOrders(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	dtos := make([]orderDTO, 0, len(orders))
	for _, o := range orders {
		dtos = append(dtos, newOrderDTO(o))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.store.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderDTO(o))
}

// uploadImageResponse is the grading-service response shape. Grading
// itself is a stub: a deterministic grade derived from the image bytes
// stands in for a real vision model, which is out of scope here.
type uploadImageResponse struct {
	QualityGrade string  `json:"quality_grade"`
	Confidence   float64 `json:"confidence"`
}

func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
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

	body, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindInvalid, "could not read image body", err))
		return
	}
	if len(body) == 0 {
		writeError(w, apperr.Wrap(apperr.KindInvalid, "empty image body", nil))
		return
	}

	grade, confidence := gradeFromImage(body)
	o.QualityGrade = &grade
	o.UpdatedAt = time.Now()
	if err := s.store.WithTx(r.Context(), func(q storage.Querier) error {
		return storage.UpdateOrder(r.Context(), q, o)
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadImageResponse{QualityGrade: grade, Confidence: confidence})
}

// gradeFromImage derives a stable grade/confidence pair from the image's
// digest. It is a placeholder for an external grading model; the point
// here is a deterministic, testable stand-in rather than real vision.
func gradeFromImage(body []byte) (string, float64) {
	sum := sha256.Sum256(body)
	grades := []string{"A", "B", "C"}
	grade := grades[int(sum[0])%len(grades)]
	confidence := 0.6 + float64(sum[1])/255.0*0.4
	return grade, confidence
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
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
	if o.Status != order.StatusListed {
		writeError(w, apperr.Wrap(apperr.KindInvalidTransition, "order can only be cancelled while LISTED", nil))
		return
	}
	if err := s.orders.CancelOrder(r.Context(), orderID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func storageListOrdersFilter(q url.Values) storage.ListOrdersFilter {
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	return storage.ListOrdersFilter{
		Status:   order.Status(q.Get("status")),
		CropType: q.Get("crop_type"),
		FarmerID: q.Get("farmer_id"),
		Limit:    limit,
		Offset:   offset,
	}
}
