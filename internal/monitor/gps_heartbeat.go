package monitor

import (
	"context"
	"time"

	"github.com/agrimatch/core/internal/events"
	"github.com/agrimatch/core/internal/metrics"
	"github.com/agrimatch/core/internal/storage"
	"github.com/agrimatch/core/pkg/logging"
)

// AlertNotifier is the subset of internal/events.Hub the GPS heartbeat
// monitor needs to push an alert to an order's room.
type AlertNotifier interface {
	BroadcastToOrder(orderID string, eventType events.EventType, data any)
}

const EventGPSHeartbeatLost = events.EventGPSHeartbeatLost

// GPSHeartbeatMonitor flags an in-transit assignment whose middleman has
// not reported a GPS ping within Timeout, broadcasting one alert per
// assignment (GPSAlertSent prevents repeat alerts on every poll).
type GPSHeartbeatMonitor struct {
	store    *storage.Storage
	notifier AlertNotifier
	log      *logging.Logger

	timeout  time.Duration
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// NewGPSHeartbeatMonitor constructs the monitor. A zero interval defaults
// to 15 minutes and a zero timeout defaults to 2 hours.
func NewGPSHeartbeatMonitor(store *storage.Storage, notifier AlertNotifier, timeout, interval time.Duration) *GPSHeartbeatMonitor {
	if timeout == 0 {
		timeout = 2 * time.Hour
	}
	if interval == 0 {
		interval = 15 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &GPSHeartbeatMonitor{
		store:    store,
		notifier: notifier,
		log:      logging.GetDefault().Component("gps-heartbeat-monitor"),
		timeout:  timeout,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the ticker loop in a background goroutine.
func (m *GPSHeartbeatMonitor) Start() {
	go m.run()
	m.log.Info("gps heartbeat monitor started", "timeout", m.timeout, "interval", m.interval)
}

// Stop cancels the ticker loop.
func (m *GPSHeartbeatMonitor) Stop() {
	m.cancel()
	m.log.Info("gps heartbeat monitor stopped")
}

func (m *GPSHeartbeatMonitor) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweep(m.ctx)
		}
	}
}

// RunOnce performs a single sweep, exposed for tests so a full ticker
// interval never has to elapse to exercise sweep logic.
func (m *GPSHeartbeatMonitor) RunOnce(ctx context.Context) {
	m.sweep(ctx)
}

func (m *GPSHeartbeatMonitor) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-m.timeout)
	stale, err := m.store.ListStaleGPSAssignments(ctx, cutoff)
	if err != nil {
		m.log.Error("list stale gps assignments failed", "error", err)
		return
	}

	for _, a := range stale {
		a.GPSAlertSent = true
		a.UpdatedAt = time.Now()
		if err := m.store.WithTx(ctx, func(q storage.Querier) error {
			return storage.UpdateAssignment(ctx, q, a)
		}); err != nil {
			m.log.Error("mark gps alert sent failed", "assignment_id", a.ID, "error", err)
			continue
		}
		metrics.GPSHeartbeatAlerts.Inc()
		if m.notifier != nil {
			m.notifier.BroadcastToOrder(a.OrderID, EventGPSHeartbeatLost, a)
		}
		m.log.Warn("gps heartbeat lost", "order_id", a.OrderID, "middleman_id", a.MiddlemanID)
	}
}
