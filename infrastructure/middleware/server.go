package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes /metrics and /healthz while a run is in progress.
type Server struct {
	addr    string
	router  chi.Router
	srv     *http.Server
	logger  *zap.Logger
	started time.Time
}

// HealthResponse is the body served by /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// NewServer builds the router for metrics. addr is a host:port; port 0
// picks a free port on Start.
func NewServer(addr string, metrics *PrometheusMetrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{addr: addr, logger: logger, started: time.Now()}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/healthz", s.health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	s.router = r
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status: "healthy",
		Uptime: time.Since(s.started).Round(time.Second).String(),
	})
}

// Start listens on the configured address and serves in the background.
// It returns the bound address.
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return "", fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	bound := ln.Addr().String()
	s.logger.Info("metrics server listening", zap.String("addr", bound))
	return bound, nil
}

// Shutdown stops the server gracefully. It is a no-op before Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
