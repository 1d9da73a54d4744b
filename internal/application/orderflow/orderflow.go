// Package orderflow implements the order lifecycle operations: listing,
// bidding, bid acceptance, and forced rollback to LISTED. One service type
// wraps storage and an event sink, exposing one method per player-visible
// action, each run inside a single row-locked transaction.
package orderflow

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agrimatch/core/internal/apperr"
	"github.com/agrimatch/core/internal/domain/audit"
	"github.com/agrimatch/core/internal/domain/bid"
	domescrow "github.com/agrimatch/core/internal/domain/escrow"
	"github.com/agrimatch/core/internal/domain/money"
	"github.com/agrimatch/core/internal/domain/order"
	"github.com/agrimatch/core/internal/events"
	"github.com/agrimatch/core/internal/metrics"
	"github.com/agrimatch/core/internal/storage"
	"github.com/agrimatch/core/pkg/logging"
)

// Notifier is the subset of internal/events.Hub orderflow needs, kept as
// an interface so this package depends on the hub's broadcast method, not
// its WebSocket upgrade machinery.
type Notifier interface {
	BroadcastToOrder(orderID string, eventType events.EventType, data any)
}

const (
	EventFSMTransition = events.EventFSMTransition
	EventNewBid        = events.EventNewBid
)

// Service implements order listing, bidding, acceptance, and rollback.
type Service struct {
	store    *storage.Storage
	notifier Notifier
	log      *logging.Logger
}

// New constructs an order-flow Service.
func New(store *storage.Storage, notifier Notifier) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		log:      logging.GetDefault().Component("orderflow"),
	}
}

// CreateOrder lists a new order in LISTED status.
func (s *Service) CreateOrder(ctx context.Context, o *order.Order) error {
	now := time.Now()
	o.Status = order.StatusListed
	o.AvailableVolumeKg = o.TotalVolumeKg
	o.CreatedAt = now
	o.UpdatedAt = now
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if err := s.store.CreateOrder(ctx, o); err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

// SubmitBid records a new PENDING bid against a LISTED or NEGOTIATING
// order (moving a LISTED order to NEGOTIATING in the same transaction), enforcing
// that the bid volume never exceeds the order's currently available
// volume.
func (s *Service) SubmitBid(ctx context.Context, b *bid.Bid) error {
	now := time.Now()
	b.Status = bid.StatusPending
	b.CreatedAt = now
	b.UpdatedAt = now
	if b.ID == "" {
		b.ID = uuid.NewString()
	}

	var transitioned bool
	var fromStatus order.Status
	err := s.store.WithTx(ctx, func(q storage.Querier) error {
		o, err := storage.GetOrderForUpdate(ctx, q, b.OrderID)
		if err != nil {
			return err
		}
		if o.Status != order.StatusListed && o.Status != order.StatusNegotiating {
			return apperr.Wrap(apperr.KindInvalidTransition, "order is not accepting bids", nil)
		}
		if b.VolumeKg.GreaterThan(o.AvailableVolumeKg) {
			return apperr.ErrInsufficientVolume
		}

		if o.Status == order.StatusListed {
			if !order.CanTransition(o.Status, order.StatusNegotiating) {
				return apperr.ErrInvalidTransition
			}
			from := o.Status
			o.Status = order.StatusNegotiating
			o.UpdatedAt = now
			if err := storage.UpdateOrder(ctx, q, o); err != nil {
				return err
			}
			if err := storage.AppendAuditEntry(ctx, q, &audit.Entry{
				ID: uuid.NewString(), OrderID: o.ID, FromStatus: string(from), ToStatus: string(o.Status),
				Actor: "buyer:" + b.BuyerID, Reason: "bid submitted", CreatedAt: now,
			}); err != nil {
				return err
			}
			transitioned, fromStatus = true, from
		}

		return storage.CreateBid(ctx, q, b)
	})
	if err != nil {
		return err
	}
	metrics.BidsSubmitted.Inc()
	if transitioned {
		metrics.OrdersTransitioned.WithLabelValues(string(fromStatus), string(order.StatusNegotiating)).Inc()
	}

	if s.notifier != nil {
		s.notifier.BroadcastToOrder(b.OrderID, EventNewBid, b)
	}
	return nil
}

// AcceptResult carries everything returned to the caller that accepted a
// bid: the updated order, the raw one-time QR tokens (never persisted,
// only their SHA-256 hashes are), and the freshly created escrow.
type AcceptResult struct {
	Order          *order.Order
	Escrow         *domescrow.Escrow
	PickupToken    string
	DeliveryToken  string
}

// AcceptBid accepts one bid, rejects every other pending bid on the same
// order, decrements available volume, binds the buyer, mints the pickup
// and delivery QR tokens, opens a WAITING_FUNDS escrow, and transitions
// the order to LOGISTICS_SEARCH. Running inside one BEGIN IMMEDIATE
// transaction is what guarantees that under concurrent accept attempts
// exactly one succeeds; the second observes InvalidTransition.
func (s *Service) AcceptBid(ctx context.Context, orderID, bidID, actor string) (*AcceptResult, error) {
	var result AcceptResult
	now := time.Now()

	err := s.store.WithTx(ctx, func(q storage.Querier) error {
		o, err := storage.GetOrderForUpdate(ctx, q, orderID)
		if err != nil {
			return err
		}
		if !order.CanTransition(o.Status, order.StatusLogisticsSearch) {
			return apperr.ErrInvalidTransition
		}

		accepted, err := storage.GetBidForUpdate(ctx, q, bidID)
		if err != nil {
			return err
		}
		if accepted.OrderID != orderID {
			return apperr.ErrBidNotFound
		}
		if accepted.Status != bid.StatusPending {
			return apperr.Wrap(apperr.KindInvalidTransition, "bid is no longer pending", nil)
		}
		if accepted.VolumeKg.GreaterThan(o.AvailableVolumeKg) {
			return apperr.ErrInsufficientVolume
		}

		if err := storage.UpdateBidStatus(ctx, q, accepted.ID, bid.StatusAccepted, now); err != nil {
			return err
		}
		if err := storage.RejectOtherPendingBids(ctx, q, orderID, accepted.ID, now); err != nil {
			return err
		}

		pickupToken, pickupHash, err := mintQRToken()
		if err != nil {
			return fmt.Errorf("mint pickup token: %w", err)
		}
		deliveryToken, deliveryHash, err := mintQRToken()
		if err != nil {
			return fmt.Errorf("mint delivery token: %w", err)
		}

		from := o.Status
		o.AvailableVolumeKg = o.AvailableVolumeKg.Sub(accepted.VolumeKg)
		o.BuyerID = &accepted.BuyerID
		o.AcceptedPricePerKg = &accepted.OfferedPricePerKg
		o.PickupQRHash = &pickupHash
		o.DeliveryQRHash = &deliveryHash
		o.Status = order.StatusLogisticsSearch
		o.LogisticsSearchStartedAt = &now
		o.UpdatedAt = now
		if err := storage.UpdateOrder(ctx, q, o); err != nil {
			return err
		}

		e := &domescrow.Escrow{
			ID:               uuid.NewString(),
			OrderID:          o.ID,
			TotalAmountCents: money.TotalCents(accepted.VolumeKg, accepted.OfferedPricePerKg),
			Status:           domescrow.StatusWaitingFunds,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := storage.CreateEscrow(ctx, q, e); err != nil {
			return err
		}

		if err := storage.AppendAuditEntry(ctx, q, &audit.Entry{
			ID: uuid.NewString(), OrderID: o.ID, FromStatus: string(from), ToStatus: string(o.Status),
			Actor: actor, Reason: "bid accepted", ExtraData: map[string]any{"bid_id": accepted.ID}, CreatedAt: now,
		}); err != nil {
			return err
		}

		result = AcceptResult{Order: o, Escrow: e, PickupToken: pickupToken, DeliveryToken: deliveryToken}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.OrdersTransitioned.WithLabelValues(string(order.StatusNegotiating), string(order.StatusLogisticsSearch)).Inc()

	if s.notifier != nil {
		s.notifier.BroadcastToOrder(orderID, EventFSMTransition, result.Order)
	}
	return &result, nil
}

// RejectBid marks one PENDING bid REJECTED without altering the order.
func (s *Service) RejectBid(ctx context.Context, orderID, bidID string) (*bid.Bid, error) {
	now := time.Now()
	var result *bid.Bid
	err := s.store.WithTx(ctx, func(q storage.Querier) error {
		b, err := storage.GetBidForUpdate(ctx, q, bidID)
		if err != nil {
			return err
		}
		if b.OrderID != orderID {
			return apperr.ErrBidNotFound
		}
		if b.Status != bid.StatusPending {
			return apperr.Wrap(apperr.KindInvalidTransition, "bid is no longer pending", nil)
		}
		if err := storage.UpdateBidStatus(ctx, q, b.ID, bid.StatusRejected, now); err != nil {
			return err
		}
		b.Status = bid.StatusRejected
		b.UpdatedAt = now
		result = b
		return nil
	})
	return result, err
}

// WithdrawBid marks one PENDING bid WITHDRAWN at the buyer's request.
func (s *Service) WithdrawBid(ctx context.Context, bidID string) error {
	now := time.Now()
	return s.store.WithTx(ctx, func(q storage.Querier) error {
		b, err := storage.GetBidForUpdate(ctx, q, bidID)
		if err != nil {
			return err
		}
		if b.Status != bid.StatusPending {
			return apperr.Wrap(apperr.KindInvalidTransition, "bid is no longer pending", nil)
		}
		return storage.UpdateBidStatus(ctx, q, b.ID, bid.StatusWithdrawn, now)
	})
}

// CancelOrder hard-deletes a LISTED order at the farmer's request. LISTED
// is the one status with no bids, escrow, or assignment attached yet, so
// there is nothing else to unwind. This is not an FSM edge — no code path
// sets an order to CANCELLED; only an escrow reaches CANCELLED, through
// escrowflow.CancelEscrow after a rollback — so no status is persisted and no AuditLog
// row is written; the §4.1 transition table has no entry for LISTED's
// removal because the row stops existing rather than changing state.
func (s *Service) CancelOrder(ctx context.Context, orderID string) error {
	return s.store.WithTx(ctx, func(q storage.Querier) error {
		o, err := storage.GetOrderForUpdate(ctx, q, orderID)
		if err != nil {
			return err
		}
		if o.Status != order.StatusListed {
			return apperr.Wrap(apperr.KindInvalidTransition, "order is not LISTED", nil)
		}
		return storage.DeleteOrder(ctx, q, o.ID)
	})
}

// mintQRToken generates a 32-byte random one-time token and returns it
// alongside the SHA-256 hex digest that is the only form ever persisted.
func mintQRToken() (token, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	token = hex.EncodeToString(buf)
	sum := sha256.Sum256(buf)
	hash = hex.EncodeToString(sum[:])
	return token, hash, nil
}

// RollbackToListed reverts an order from NEGOTIATING or LOGISTICS_SEARCH
// back to LISTED. Its caller is the 48h logistics-search-timeout monitor;
// no HTTP route calls it.
func (s *Service) RollbackToListed(ctx context.Context, orderID, actor, reason string) error {
	now := time.Now()
	var fromStatus order.Status
	err := s.store.WithTx(ctx, func(q storage.Querier) error {
		o, err := storage.GetOrderForUpdate(ctx, q, orderID)
		if err != nil {
			return err
		}
		if !order.CanTransition(o.Status, order.StatusListed) {
			return apperr.ErrInvalidTransition
		}
		fromStatus = o.Status

		if o.Status == order.StatusLogisticsSearch {
			accepted, err := findAcceptedBid(ctx, q, orderID)
			if err != nil {
				return err
			}
			if accepted != nil {
				o.AvailableVolumeKg = o.AvailableVolumeKg.Add(accepted.VolumeKg)
				if err := storage.UpdateBidStatus(ctx, q, accepted.ID, bid.StatusRejected, now); err != nil {
					return err
				}
			}
		}

		from := o.Status
		o.Status = order.StatusListed
		o.BuyerID = nil
		o.AcceptedPricePerKg = nil
		o.PickupQRHash = nil
		o.DeliveryQRHash = nil
		o.LogisticsSearchStartedAt = nil
		o.UpdatedAt = now
		if err := storage.UpdateOrder(ctx, q, o); err != nil {
			return err
		}
		return storage.AppendAuditEntry(ctx, q, &audit.Entry{
			ID: uuid.NewString(), OrderID: o.ID, FromStatus: string(from), ToStatus: string(o.Status),
			Actor: actor, Reason: reason, CreatedAt: now,
		})
	})
	if err != nil {
		return err
	}
	metrics.OrdersTransitioned.WithLabelValues(string(fromStatus), string(order.StatusListed)).Inc()
	return nil
}

// findAcceptedBid locates the (at most one) ACCEPTED bid on orderID
// within the caller's transaction, scanning the order's bids directly so
// the lookup participates in the same row-locked scope.
func findAcceptedBid(ctx context.Context, q storage.Querier, orderID string) (*bid.Bid, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM bids WHERE order_id = ? AND status = ?`, orderID, string(bid.StatusAccepted))
	if err != nil {
		return nil, fmt.Errorf("find accepted bid: %w", err)
	}
	defer rows.Close()

	var id string
	if rows.Next() {
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan accepted bid id: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, nil
	}
	return storage.GetBidForUpdate(ctx, q, id)
}
