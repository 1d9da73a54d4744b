// Package monitor runs the background tickers that keep order and
// assignment state honest without a client request: one rolling back
// orders stuck too long in LOGISTICS_SEARCH, one alerting on missed GPS
// heartbeats from an in-transit middleman, one expiring stale bids. Each
// is a ticker-driven goroutine with explicit Start/Stop bound to a
// cancellable context.
package monitor

import (
	"context"
	"time"

	domescrow "github.com/agrimatch/core/internal/domain/escrow"
	"github.com/agrimatch/core/internal/domain/order"
	"github.com/agrimatch/core/internal/metrics"
	"github.com/agrimatch/core/internal/storage"
	"github.com/agrimatch/core/pkg/logging"
)

// RollbackService is the subset of orderflow.Service the logistics
// timeout monitor needs.
type RollbackService interface {
	RollbackToListed(ctx context.Context, orderID, actor, reason string) error
}

// EscrowCanceller is the subset of escrowflow.Service the logistics
// timeout monitor needs to unwind a WAITING_FUNDS/FUNDS_HELD escrow once
// its order rolls back.
type EscrowCanceller interface {
	CancelEscrow(ctx context.Context, orderID string) (*domescrow.Escrow, error)
}

// LogisticsTimeoutMonitor rolls an order back to LISTED once it has spent
// longer than Timeout in LOGISTICS_SEARCH without a middleman accepting,
// then cancels any escrow the rolled-back order had opened.
type LogisticsTimeoutMonitor struct {
	store    *storage.Storage
	rollback RollbackService
	escrow   EscrowCanceller
	log      *logging.Logger

	timeout  time.Duration
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// NewLogisticsTimeoutMonitor constructs the monitor. A zero interval
// defaults to 5 minutes and a zero timeout defaults to 48 hours.
func NewLogisticsTimeoutMonitor(store *storage.Storage, rollback RollbackService, escrow EscrowCanceller, timeout, interval time.Duration) *LogisticsTimeoutMonitor {
	if timeout == 0 {
		timeout = 48 * time.Hour
	}
	if interval == 0 {
		interval = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LogisticsTimeoutMonitor{
		store:    store,
		rollback: rollback,
		escrow:   escrow,
		log:      logging.GetDefault().Component("logistics-timeout-monitor"),
		timeout:  timeout,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the ticker loop in a background goroutine.
func (m *LogisticsTimeoutMonitor) Start() {
	go m.run()
	m.log.Info("logistics timeout monitor started", "timeout", m.timeout, "interval", m.interval)
}

// Stop cancels the ticker loop.
func (m *LogisticsTimeoutMonitor) Stop() {
	m.cancel()
	m.log.Info("logistics timeout monitor stopped")
}

func (m *LogisticsTimeoutMonitor) run() {
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
func (m *LogisticsTimeoutMonitor) RunOnce(ctx context.Context) {
	m.sweep(ctx)
}

func (m *LogisticsTimeoutMonitor) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-m.timeout)
	ids, err := m.store.ListOrdersPastLogisticsSearchTimeout(ctx, string(order.StatusLogisticsSearch), cutoff)
	if err != nil {
		m.log.Error("list timed-out orders failed", "error", err)
		return
	}

	for _, id := range ids {
		if err := m.rollback.RollbackToListed(ctx, id, "system:logistics-timeout-monitor", "48h logistics search timeout"); err != nil {
			m.log.Error("rollback failed", "order_id", id, "error", err)
			continue
		}
		metrics.LogisticsTimeoutRollbacks.Inc()
		m.log.Info("order rolled back to LISTED after logistics search timeout", "order_id", id)

		if _, err := m.escrow.CancelEscrow(ctx, id); err != nil {
			m.log.Error("escrow cancellation failed after rollback", "order_id", id, "error", err)
			continue
		}
	}
}
