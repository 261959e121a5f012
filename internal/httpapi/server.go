// Package httpapi is Duskmesh's monitoring surface: health and status
// endpoints plus a Prometheus scrape target, adapted from the reference node's
// internal/api ServeMux pattern.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"duskmesh/internal/logger"
)

// StatusProvider exposes the node's current reconciliation view for the
// /status endpoint.
type StatusProvider interface {
	NodeID() string
	IsMaster() bool
	AlivePeers() int
}

// Server is the HTTP monitoring server.
type Server struct {
	addr     string
	status   StatusProvider
	registry *prometheus.Registry
	server   *http.Server
}

// New creates a new monitoring server.
func New(addr string, status StatusProvider, registry *prometheus.Registry) *Server {
	return &Server{addr: addr, status: status, registry: registry}
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("monitoring http server started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"nodeId":     s.status.NodeID(),
		"isMaster":   s.status.IsMaster(),
		"alivePeers": s.status.AlivePeers(),
	})
}
