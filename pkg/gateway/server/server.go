// Package server wires the gateway's HTTP surface: the realtime websocket
// endpoint and the health probe.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ventia-ai/salesim/pkg/gateway/live/sessions"
	"github.com/ventia-ai/salesim/pkg/store"
)

const healthPingTimeout = 2 * time.Second

type Server struct {
	logger   *slog.Logger
	store    store.Store
	tracker  *sessions.Tracker
	realtime http.Handler

	draining atomic.Bool
}

func New(logger *slog.Logger, st store.Store, tracker *sessions.Tracker, realtime http.Handler) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger:   logger,
		store:    st,
		tracker:  tracker,
		realtime: realtime,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /v1/realtime", http.HandlerFunc(s.handleRealtime))
	return mux
}

func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		http.Error(w, "server is draining", http.StatusServiceUnavailable)
		return
	}
	s.realtime.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status":        "ok",
		"live_sessions": s.tracker.Count(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["database"] = "unreachable"
	}
	if s.draining.Load() {
		status = http.StatusServiceUnavailable
		body["status"] = "draining"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// SetDraining rejects new realtime sessions; live ones continue until
// stopped or finished.
func (s *Server) SetDraining() {
	s.draining.Store(true)
}

// WaitLiveSessions blocks until live sessions finish or ctx expires.
func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.tracker.Wait(ctx)
}

// StopLiveSessions force-finalizes the remaining sessions.
func (s *Server) StopLiveSessions() {
	n := s.tracker.StopAll()
	if n > 0 {
		s.logger.Info("stopped live sessions", "count", n)
	}
}
