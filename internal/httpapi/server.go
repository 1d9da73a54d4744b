// Package httpapi exposes AgriMatch's REST + WebSocket surface: a plain
// net/http.ServeMux using Go's method-and-path route patterns, wired the
// same way the teacher wires its single-dispatch JSON-RPC mux — one
// Server owning the listener, a CORS wrapper, and one handler per route.
package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/agrimatch/core/internal/application/escrowflow"
	"github.com/agrimatch/core/internal/application/logisticsflow"
	"github.com/agrimatch/core/internal/application/orderflow"
	"github.com/agrimatch/core/internal/config"
	"github.com/agrimatch/core/internal/events"
	"github.com/agrimatch/core/internal/matcher"
	"github.com/agrimatch/core/internal/metrics"
	"github.com/agrimatch/core/internal/processor"
	"github.com/agrimatch/core/internal/storage"
	"github.com/agrimatch/core/pkg/logging"
)

// Server wires every application-layer service to the REST + WebSocket
// surface described by the external-interfaces contract.
type Server struct {
	store      *storage.Storage
	orders     *orderflow.Service
	escrows    *escrowflow.Service
	logistics  *logisticsflow.Service
	matcher    *matcher.Matcher
	processor  processor.Client
	hub        *events.Hub
	cfg        config.ServerConfig
	webhookKey string

	authenticator *tokenAuthenticator
	log           *logging.Logger

	server   *http.Server
	listener net.Listener
}

// New constructs the Server and hooks it into the hub's STATE_SYNC and
// GPS-frame callbacks.
func New(
	cfg *config.Config,
	store *storage.Storage,
	orders *orderflow.Service,
	escrows *escrowflow.Service,
	logistics *logisticsflow.Service,
	m *matcher.Matcher,
	proc processor.Client,
	hub *events.Hub,
) *Server {
	s := &Server{
		store:         store,
		orders:        orders,
		escrows:       escrows,
		logistics:     logistics,
		matcher:       m,
		processor:     proc,
		hub:           hub,
		cfg:           cfg.Server,
		webhookKey:    cfg.Processor.WebhookSecret,
		authenticator: newTokenAuthenticator(cfg.Auth.TokenSecret),
		log:           logging.GetDefault().Component("httpapi"),
	}
	s.hub.OnSubscribe = s.orderStateSync
	s.hub.OnLocationFrame = s.persistGPSFrame
	return s
}

// Start begins listening and serving in a background goroutine.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:      s.corsMiddleware(s.routes()),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("http server error", "error", err)
		}
	}()

	s.log.Info("http api started", "addr", s.cfg.ListenAddr)
	return nil
}

// Stop gracefully shuts down the listener within the configured timeout.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	timeout := s.cfg.ShutdownTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/orders", s.requireRole([]string{"farmer"}, s.handleCreateOrder))
	mux.HandleFunc("GET /api/v1/orders", s.handleListOrders)
	mux.HandleFunc("GET /api/v1/orders/{id}", s.handleGetOrder)
	mux.HandleFunc("POST /api/v1/orders/{id}/upload-image", s.requireRole([]string{"farmer"}, s.handleUploadImage))
	mux.HandleFunc("DELETE /api/v1/orders/{id}", s.requireRole([]string{"farmer"}, s.handleCancelOrder))

	mux.HandleFunc("POST /api/v1/bids", s.requireRole([]string{"buyer"}, s.handleSubmitBid))
	mux.HandleFunc("GET /api/v1/bids/order/{id}", s.requireRole([]string{"farmer"}, s.handleListBidsForOrder))
	mux.HandleFunc("POST /api/v1/bids/{id}/accept", s.requireRole([]string{"farmer"}, s.handleAcceptBid))
	mux.HandleFunc("POST /api/v1/bids/{id}/reject", s.requireRole([]string{"farmer"}, s.handleRejectBid))
	mux.HandleFunc("DELETE /api/v1/bids/{id}", s.requireRole([]string{"buyer"}, s.handleWithdrawBid))

	mux.HandleFunc("GET /api/v1/logistics/search/{order_id}", s.handleSearchLogistics)
	mux.HandleFunc("POST /api/v1/logistics/accept/{id}", s.requireRole([]string{"middleman"}, s.handleAcceptAssignment))
	mux.HandleFunc("POST /api/v1/logistics/reject/{id}", s.requireRole([]string{"middleman"}, s.handleRejectAssignment))

	mux.HandleFunc("POST /api/v1/verify/pickup", s.requireRole([]string{"middleman"}, s.handleVerifyPickup))
	mux.HandleFunc("POST /api/v1/verify/delivery", s.requireRole([]string{"middleman"}, s.handleVerifyDelivery))
	mux.HandleFunc("POST /api/v1/verify/dispute", s.requireRole([]string{"middleman"}, s.handleVerifyDispute))

	mux.HandleFunc("POST /api/v1/webhooks/stripe", s.handleStripeWebhook)

	mux.HandleFunc("GET /ws/orders/{order_id}", s.handleOrderRoomWS)
	mux.HandleFunc("GET /ws/middlemen/me/location", s.requireAuth(s.handleGPSStreamWS))

	mux.Handle("GET /metrics", metrics.Handler())

	return mux
}

// corsMiddleware allows the configured origins (or any origin if "*" is
// listed) and answers preflight OPTIONS requests directly, the same shape
// as the teacher's cors wrapper.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	allowAll := false
	for _, o := range s.cfg.CORSOrigins {
		if o == "*" {
			allowAll = true
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" && originAllowed(origin, s.cfg.CORSOrigins) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == origin {
			return true
		}
	}
	return false
}
