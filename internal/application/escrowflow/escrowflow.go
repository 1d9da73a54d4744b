// Package escrowflow implements the tripartite escrow state machine:
// opening a payment intent once a bid is accepted, confirming funds via
// an idempotent webhook, capturing and releasing tranches at pickup and
// delivery, and refunding on cancellation. Structured the same way
// orderflow wraps storage and an event sink around one service type.
package escrowflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agrimatch/core/internal/apperr"
	"github.com/agrimatch/core/internal/domain/audit"
	domescrow "github.com/agrimatch/core/internal/domain/escrow"
	"github.com/agrimatch/core/internal/domain/order"
	"github.com/agrimatch/core/internal/events"
	"github.com/agrimatch/core/internal/metrics"
	"github.com/agrimatch/core/internal/processor"
	"github.com/agrimatch/core/internal/storage"
	"github.com/agrimatch/core/pkg/logging"
)

// Notifier is the subset of internal/events.Hub escrowflow needs.
type Notifier interface {
	BroadcastToOrder(orderID string, eventType events.EventType, data any)
}

const EventEscrowUpdate = events.EventEscrowUpdate

// Service drives escrow creation, funding, tranche release, and refund.
type Service struct {
	store     *storage.Storage
	processor processor.Client
	notifier  Notifier
	log       *logging.Logger
}

// New constructs an escrow-flow Service.
func New(store *storage.Storage, proc processor.Client, notifier Notifier) *Service {
	return &Service{
		store:     store,
		processor: proc,
		notifier:  notifier,
		log:       logging.GetDefault().Component("escrowflow"),
	}
}

// CreatePaymentIntent asks the processor to authorize (capture deferred)
// the escrow's total amount against the buyer's processor handle and
// stores the returned intent handle, for an escrow orderflow.AcceptBid
// already created in WAITING_FUNDS. It does not itself mark funds held —
// that happens when the processor's webhook confirms success via
// HandlePaymentSucceeded, matching a real authorize-then-capture flow.
func (s *Service) CreatePaymentIntent(ctx context.Context, orderID, buyerProcessorHandle string) (*domescrow.Escrow, error) {
	var result *domescrow.Escrow
	now := time.Now()

	err := s.store.WithTx(ctx, func(q storage.Querier) error {
		e, err := storage.GetEscrowByOrderForUpdate(ctx, q, orderID)
		if err != nil {
			return err
		}
		if e.Status != domescrow.StatusWaitingFunds {
			result = e
			return nil
		}

		intentHandle, err := s.processor.CreateIntent(ctx, buyerProcessorHandle, e.TotalAmountCents, orderID)
		if err != nil {
			return apperr.Wrap(apperr.KindProcessorFailure, "create payment intent", err)
		}

		e.ProcessorIntentHandle = &intentHandle
		e.UpdatedAt = now
		if err := storage.UpdateEscrow(ctx, q, e); err != nil {
			return err
		}
		result = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(orderID, result)
	return result, nil
}

// HandlePaymentSucceeded is the idempotent webhook handler for the
// processor's payment-succeeded event: it is a no-op unless the escrow is
// still WAITING_FUNDS, so at-least-once webhook delivery never double
// transitions it. For non-demo intents it captures the full authorized
// amount once here; the pickup/delivery tranches that follow are plain
// Transfer calls against these already-captured funds.
func (s *Service) HandlePaymentSucceeded(ctx context.Context, orderID, intentID string) (*domescrow.Escrow, error) {
	var result *domescrow.Escrow
	now := time.Now()

	err := s.store.WithTx(ctx, func(q storage.Querier) error {
		e, err := storage.GetEscrowByOrderForUpdate(ctx, q, orderID)
		if err != nil {
			return err
		}
		if e.Status != domescrow.StatusWaitingFunds {
			result = e
			return nil
		}

		captureID, err := s.processor.Capture(ctx, derefOrEmpty(e.ProcessorIntentHandle), e.TotalAmountCents)
		if err != nil {
			return apperr.Wrap(apperr.KindProcessorFailure, "capture payment intent", err)
		}

		e.ProcessorCaptureID = &captureID
		e.Status = domescrow.StatusFundsHeld
		e.FundsHeldAt = &now
		e.UpdatedAt = now
		if err := storage.UpdateEscrow(ctx, q, e); err != nil {
			return err
		}
		result = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(orderID, result)
	return result, nil
}

// ReleasePickup transfers the pickup tranche (20% to the farmer) out of
// the funds already captured in HandlePaymentSucceeded, once a
// middleman's pickup QR scan is verified.
func (s *Service) ReleasePickup(ctx context.Context, orderID, farmerProcessorHandle string) (*domescrow.Escrow, error) {
	var result *domescrow.Escrow
	now := time.Now()

	err := s.store.WithTx(ctx, func(q storage.Querier) error {
		e, err := storage.GetEscrowByOrderForUpdate(ctx, q, orderID)
		if err != nil {
			return err
		}
		if e.Status != domescrow.StatusFundsHeld {
			return apperr.Wrap(apperr.KindInvalidTransition, "escrow is not in FUNDS_HELD", nil)
		}

		share := e.PickupShare()
		transferID, err := s.processor.Transfer(ctx, farmerProcessorHandle, share, e.ID+":pickup")
		if err != nil {
			return apperr.Wrap(apperr.KindProcessorFailure, "transfer pickup tranche to farmer", err)
		}

		e.FarmerReleasedCents += share
		e.Status = domescrow.StatusPickedUp
		e.ProcessorPickupTransferID = &transferID
		e.PickedUpAt = &now
		e.UpdatedAt = now
		if err := storage.UpdateEscrow(ctx, q, e); err != nil {
			return err
		}

		result = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.EscrowReleasedCents.WithLabelValues("farmer").Add(float64(result.PickupShare()))

	s.notify(orderID, result)
	return result, nil
}

// ReleaseDelivery transfers the remaining 80% (60% farmer / 20%
// middleman) out of the already-captured funds, settles the order, and
// bumps both parties' reputation counters, once a middleman's delivery
// QR scan is verified.
func (s *Service) ReleaseDelivery(ctx context.Context, o *order.Order, farmerProcessorHandle, middlemanProcessorHandle, middlemanID string) (*domescrow.Escrow, error) {
	var result *domescrow.Escrow
	now := time.Now()

	err := s.store.WithTx(ctx, func(q storage.Querier) error {
		e, err := storage.GetEscrowByOrderForUpdate(ctx, q, o.ID)
		if err != nil {
			return err
		}
		if e.Status != domescrow.StatusPickedUp {
			return apperr.Wrap(apperr.KindInvalidTransition, "escrow is not in PICKED_UP", nil)
		}
		if !order.CanTransition(o.Status, order.StatusSettled) {
			return apperr.ErrInvalidTransition
		}

		farmerShare := e.DeliveryFarmerShare()
		middlemanShare := e.DeliveryMiddlemanShare()

		farmerTransferID, err := s.processor.Transfer(ctx, farmerProcessorHandle, farmerShare, e.ID+":delivery:farmer")
		if err != nil {
			return apperr.Wrap(apperr.KindProcessorFailure, "transfer delivery tranche to farmer", err)
		}
		middlemanTransferID, err := s.processor.Transfer(ctx, middlemanProcessorHandle, middlemanShare, e.ID+":delivery:middleman")
		if err != nil {
			return apperr.Wrap(apperr.KindProcessorFailure, "transfer delivery tranche to middleman", err)
		}

		e.FarmerReleasedCents += farmerShare
		e.MiddlemanReleasedCents += middlemanShare
		e.Status = domescrow.StatusDelivered
		e.ProcessorFarmerTransferID = &farmerTransferID
		e.ProcessorMiddlemanTransferID = &middlemanTransferID
		e.DeliveredAt = &now
		e.UpdatedAt = now
		if err := storage.UpdateEscrow(ctx, q, e); err != nil {
			return err
		}

		from := o.Status
		o.Status = order.StatusSettled
		o.SettledAt = &now
		o.UpdatedAt = now
		if err := storage.UpdateOrder(ctx, q, o); err != nil {
			return err
		}
		if err := storage.AppendAuditEntry(ctx, q, &audit.Entry{
			ID: uuid.NewString(), OrderID: o.ID, FromStatus: string(from), ToStatus: string(o.Status),
			Actor: "system:delivery-settlement", Reason: "delivery confirmed", CreatedAt: now,
		}); err != nil {
			return err
		}
		if err := storage.IncrementFarmerSales(ctx, q, o.FarmerID); err != nil {
			return err
		}
		if err := storage.IncrementMiddlemanDeliveries(ctx, q, middlemanID, now); err != nil {
			return err
		}

		result = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.OrdersTransitioned.WithLabelValues(string(order.StatusInTransit), string(order.StatusSettled)).Inc()
	metrics.EscrowReleasedCents.WithLabelValues("farmer").Add(float64(result.DeliveryFarmerShare()))
	metrics.EscrowReleasedCents.WithLabelValues("middleman").Add(float64(result.DeliveryMiddlemanShare()))

	s.notify(o.ID, result)
	return result, nil
}

// CancelEscrow refunds whatever remains unaccounted (total minus already
// released/refunded) to the buyer and marks the escrow CANCELLED. A
// processor failure here is logged but never propagated: a cancelled
// order must not get stuck because the refund call failed.
func (s *Service) CancelEscrow(ctx context.Context, orderID string) (*domescrow.Escrow, error) {
	var result *domescrow.Escrow
	var refunded int64
	now := time.Now()

	err := s.store.WithTx(ctx, func(q storage.Querier) error {
		e, err := storage.GetEscrowByOrderForUpdate(ctx, q, orderID)
		if err != nil {
			return err
		}
		if e.Status == domescrow.StatusCancelled {
			result = e
			return nil
		}

		remaining := e.TotalAmountCents - e.Accounted()
		if remaining > 0 {
			if _, err := s.processor.Refund(ctx, derefOrEmpty(e.ProcessorIntentHandle), remaining); err != nil {
				s.log.Error("refund failed during escrow cancellation, proceeding with cancellation anyway",
					"order_id", orderID, "error", err)
			}
			e.RefundedCents += remaining
			refunded = int64(remaining)
		} else {
			_ = s.processor.CancelIntent(ctx, derefOrEmpty(e.ProcessorIntentHandle))
		}

		e.Status = domescrow.StatusCancelled
		e.CancelledAt = &now
		e.UpdatedAt = now
		if err := storage.UpdateEscrow(ctx, q, e); err != nil {
			return err
		}

		result = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	if refunded > 0 {
		metrics.EscrowRefundedCents.Add(float64(refunded))
	}

	s.notify(orderID, result)
	return result, nil
}

func (s *Service) notify(orderID string, e *domescrow.Escrow) {
	if s.notifier != nil && e != nil {
		s.notifier.BroadcastToOrder(orderID, EventEscrowUpdate, e)
	}
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
