// Package metrics exposes Prometheus counters and gauges for the order
// lifecycle, escrow releases, and background monitor sweeps, wired the
// way prometheus/client_golang is wired across the broader example pack's
// HTTP services: a package-level registry plus a ready-made /metrics
// handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OrdersTransitioned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agrimatch_orders_transitioned_total",
		Help: "Count of order status transitions, labeled by from and to status.",
	}, []string{"from", "to"})

	BidsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agrimatch_bids_submitted_total",
		Help: "Count of bids submitted against any order.",
	})

	BidsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agrimatch_bids_expired_total",
		Help: "Count of bids expired by the stale-bid-expiry monitor.",
	})

	EscrowReleasedCents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agrimatch_escrow_released_cents_total",
		Help: "Total cents released from escrow, labeled by payee role (farmer/middleman).",
	}, []string{"payee"})

	EscrowRefundedCents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agrimatch_escrow_refunded_cents_total",
		Help: "Total cents refunded to buyers on escrow cancellation.",
	})

	LogisticsTimeoutRollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agrimatch_logistics_timeout_rollbacks_total",
		Help: "Count of orders rolled back to LISTED by the logistics search timeout monitor.",
	})

	GPSHeartbeatAlerts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agrimatch_gps_heartbeat_alerts_total",
		Help: "Count of GPS heartbeat loss alerts raised by the GPS heartbeat monitor.",
	})

	WebsocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agrimatch_websocket_connections",
		Help: "Current count of open order-room and GPS-stream WebSocket connections.",
	})
)

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
