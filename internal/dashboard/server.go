// Package dashboard serves a read-only JSON status API: live P&L,
// today's ledger records and stored reference prices. It never submits
// or closes orders.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/dfontaine/qqq-spread-bot/internal/ledger"
	"github.com/dfontaine/qqq-spread-bot/internal/pnl"
	"github.com/dfontaine/qqq-spread-bot/internal/pricestore"
)

// PnLReporter is the slice of the P&L monitor the dashboard reads.
type PnLReporter interface {
	SnapshotPositions(ctx context.Context) (*pnl.Snapshot, error)
}

// Config holds the HTTP server settings.
type Config struct {
	Port      int
	AuthToken string
}

// Server is the read-only status HTTP server.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	reporter  PnLReporter
	orders    *ledger.Ledger
	prices    *pricestore.Store
	logger    *logrus.Logger
	port      int
	authToken string
}

// NewServer wires the routes. The logger must not be nil.
func NewServer(cfg Config, reporter PnLReporter, orders *ledger.Ledger, prices *pricestore.Store, logger *logrus.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		reporter:  reporter,
		orders:    orders,
		prices:    prices,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/pnl", s.handlePnL)
	s.router.Get("/api/orders", s.handleOrders)
	s.router.Get("/api/reference/{date}", s.handleReference)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("starting dashboard on port %d", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

// handlePnL runs a report-only snapshot; it never enforces the
// stop-loss.
func (s *Server) handlePnL(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.reporter.SnapshotPositions(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("failed to snapshot positions")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, snapshot)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	dateKey := r.URL.Query().Get("date")
	strategy := r.URL.Query().Get("strategy")

	records, err := s.orders.Query(strategy, dateKey)
	if err != nil {
		s.logger.WithError(err).Error("failed to query order ledger")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []ledger.Record{}
	}
	s.writeJSON(w, records)
}

func (s *Server) handleReference(w http.ResponseWriter, r *http.Request) {
	dateKey := chi.URLParam(r, "date")
	price, err := s.prices.Load(dateKey)
	if err != nil {
		if errors.Is(err, pricestore.ErrNotFound) {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		s.logger.WithError(err).Error("failed to load reference price")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"date":  dateKey,
		"price": price,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("failed to encode response")
	}
}
