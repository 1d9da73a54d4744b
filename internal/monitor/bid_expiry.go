package monitor

import (
	"context"
	"time"

	"github.com/agrimatch/core/internal/domain/bid"
	"github.com/agrimatch/core/internal/metrics"
	"github.com/agrimatch/core/internal/storage"
	"github.com/agrimatch/core/pkg/logging"
)

// BidExpiryMonitor expires PENDING bids past their stated expiry, a
// feature present in the original reference implementation's test suite
// but left out of the distilled order/bid lifecycle description.
type BidExpiryMonitor struct {
	store    *storage.Storage
	log      *logging.Logger
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// NewBidExpiryMonitor constructs the monitor. A zero interval defaults to
// 5 minutes.
func NewBidExpiryMonitor(store *storage.Storage, interval time.Duration) *BidExpiryMonitor {
	if interval == 0 {
		interval = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &BidExpiryMonitor{
		store:    store,
		log:      logging.GetDefault().Component("bid-expiry-monitor"),
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the ticker loop in a background goroutine.
func (m *BidExpiryMonitor) Start() {
	go m.run()
	m.log.Info("bid expiry monitor started", "interval", m.interval)
}

// Stop cancels the ticker loop.
func (m *BidExpiryMonitor) Stop() {
	m.cancel()
	m.log.Info("bid expiry monitor stopped")
}

func (m *BidExpiryMonitor) run() {
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
func (m *BidExpiryMonitor) RunOnce(ctx context.Context) {
	m.sweep(ctx)
}

func (m *BidExpiryMonitor) sweep(ctx context.Context) {
	now := time.Now()
	expirable, err := m.store.ListExpirablePendingBids(ctx, now)
	if err != nil {
		m.log.Error("list expirable bids failed", "error", err)
		return
	}

	for _, b := range expirable {
		if err := m.store.WithTx(ctx, func(q storage.Querier) error {
			return storage.UpdateBidStatus(ctx, q, b.ID, bid.StatusWithdrawn, now)
		}); err != nil {
			m.log.Error("expire bid failed", "bid_id", b.ID, "error", err)
			continue
		}
		metrics.BidsExpired.Inc()
		m.log.Info("bid expired", "bid_id", b.ID, "order_id", b.OrderID)
	}
}
