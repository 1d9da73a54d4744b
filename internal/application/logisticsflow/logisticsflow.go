// Package logisticsflow searches for and offers a middleman the logistics
// leg of an order, then advances the FSM once an offer is accepted or
// rejected. One service wraps storage, the spatial matcher, and an event
// sink, the same shape orderflow and escrowflow use.
package logisticsflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/agrimatch/core/internal/apperr"
	"github.com/agrimatch/core/internal/domain/audit"
	"github.com/agrimatch/core/internal/domain/logistics"
	"github.com/agrimatch/core/internal/domain/order"
	"github.com/agrimatch/core/internal/events"
	"github.com/agrimatch/core/internal/matcher"
	"github.com/agrimatch/core/internal/metrics"
	"github.com/agrimatch/core/internal/storage"
	"github.com/agrimatch/core/pkg/logging"
)

// Notifier is the subset of internal/events.Hub this package needs.
type Notifier interface {
	BroadcastToOrder(orderID string, eventType events.EventType, data any)
}

const EventFSMTransition = events.EventFSMTransition

// Service implements candidate search and assignment acceptance/rejection.
type Service struct {
	store    *storage.Storage
	matcher  *matcher.Matcher
	notifier Notifier
	log      *logging.Logger
}

// New constructs a logistics-flow Service.
func New(store *storage.Storage, m *matcher.Matcher, notifier Notifier) *Service {
	return &Service{
		store:    store,
		matcher:  m,
		notifier: notifier,
		log:      logging.GetDefault().Component("logisticsflow"),
	}
}

// SearchCandidates finds available middlemen near the farmer's pickup
// point and, if the order has no assignment yet, offers the nearest one
// the job by creating an OFFERED assignment — mirroring the lifecycle
// note that "LogisticsAssignments are created when a middleman is offered
// the job."
func (s *Service) SearchCandidates(ctx context.Context, orderID string) ([]matcher.Candidate, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != order.StatusLogisticsSearch {
		return nil, apperr.Wrap(apperr.KindInvalidTransition, "order is not in LOGISTICS_SEARCH", nil)
	}

	farmer, err := s.store.GetFarmer(ctx, o.FarmerID)
	if err != nil {
		return nil, err
	}

	shipmentVolume, _ := o.TotalVolumeKg.Sub(o.AvailableVolumeKg).Float64()
	candidates, err := s.matcher.FindMiddlemenNearRoute(ctx, farmer.Location, shipmentVolume, o.RequiresColdChain)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return candidates, nil
	}

	_, err = s.store.GetAssignmentForOrder(ctx, orderID)
	if err == nil {
		return candidates, nil
	}
	if !errors.Is(err, apperr.ErrAssignmentNotFound) {
		return nil, err
	}

	now := time.Now()
	top := candidates[0]
	a := &logistics.Assignment{
		ID:                  uuid.NewString(),
		OrderID:             orderID,
		MiddlemanID:         top.Middleman.ID,
		Status:              logistics.AssignmentOffered,
		EstimatedDistanceKm: top.DistanceKm,
		OfferedAt:           now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.store.WithTx(ctx, func(q storage.Querier) error {
		return storage.CreateAssignment(ctx, q, a)
	}); err != nil {
		return nil, err
	}
	s.log.Info("offered logistics assignment", "order_id", orderID, "middleman_id", top.Middleman.ID, "distance_km", top.DistanceKm)

	return candidates, nil
}

// AcceptAssignment marks the caller's OFFERED assignment ACCEPTED, flips
// the middleman unavailable, and transitions the order into IN_TRANSIT,
// all in one transaction.
func (s *Service) AcceptAssignment(ctx context.Context, assignmentID, middlemanID string) (*order.Order, *logistics.Assignment, error) {
	var resultOrder *order.Order
	var resultAssignment *logistics.Assignment
	now := time.Now()

	err := s.store.WithTx(ctx, func(q storage.Querier) error {
		a, err := storage.GetAssignmentByID(ctx, q, assignmentID)
		if err != nil {
			return err
		}
		if a.MiddlemanID != middlemanID {
			return apperr.ErrForbidden
		}
		if a.Status != logistics.AssignmentOffered {
			return apperr.Wrap(apperr.KindInvalidTransition, "assignment is not OFFERED", nil)
		}

		o, err := storage.GetOrderForUpdate(ctx, q, a.OrderID)
		if err != nil {
			return err
		}
		if !order.CanTransition(o.Status, order.StatusInTransit) {
			return apperr.ErrInvalidTransition
		}

		a.Status = logistics.AssignmentAccepted
		a.AcceptedAt = &now
		a.LastGPSPingAt = &now
		a.UpdatedAt = now
		if err := storage.UpdateAssignment(ctx, q, a); err != nil {
			return err
		}
		if err := storage.SetMiddlemanAvailability(ctx, q, middlemanID, false, now); err != nil {
			return err
		}

		from := o.Status
		o.Status = order.StatusInTransit
		o.UpdatedAt = now
		if err := storage.UpdateOrder(ctx, q, o); err != nil {
			return err
		}
		if err := storage.AppendAuditEntry(ctx, q, &audit.Entry{
			ID: uuid.NewString(), OrderID: o.ID, FromStatus: string(from), ToStatus: string(o.Status),
			Actor: "middleman:" + middlemanID, Reason: "logistics assignment accepted", CreatedAt: now,
		}); err != nil {
			return err
		}

		resultOrder = o
		resultAssignment = a
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	metrics.OrdersTransitioned.WithLabelValues(string(order.StatusLogisticsSearch), string(order.StatusInTransit)).Inc()

	if s.notifier != nil {
		s.notifier.BroadcastToOrder(resultOrder.ID, EventFSMTransition, resultOrder)
	}
	return resultOrder, resultAssignment, nil
}

// RejectAssignment marks the caller's OFFERED assignment REJECTED without
// touching the order. The rejected row stays the order's one assignment
// (order_id is unique), so a later SearchCandidates call returns candidates
// but does not offer the order to another middleman.
func (s *Service) RejectAssignment(ctx context.Context, assignmentID, middlemanID string) (*logistics.Assignment, error) {
	now := time.Now()
	var result *logistics.Assignment

	err := s.store.WithTx(ctx, func(q storage.Querier) error {
		a, err := storage.GetAssignmentByID(ctx, q, assignmentID)
		if err != nil {
			return err
		}
		if a.MiddlemanID != middlemanID {
			return apperr.ErrForbidden
		}
		if a.Status != logistics.AssignmentOffered {
			return apperr.Wrap(apperr.KindInvalidTransition, "assignment is not OFFERED", nil)
		}
		a.Status = logistics.AssignmentRejected
		a.UpdatedAt = now
		if err := storage.UpdateAssignment(ctx, q, a); err != nil {
			return err
		}
		result = a
		return nil
	})
	return result, err
}
