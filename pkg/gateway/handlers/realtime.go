// Package handlers holds the HTTP entry points of the simulation gateway.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ventia-ai/salesim/pkg/gateway/live/bridge"
	"github.com/ventia-ai/salesim/pkg/gateway/live/sessions"
	"github.com/ventia-ai/salesim/pkg/store"
	"github.com/ventia-ai/salesim/pkg/upstream/elevenlabs"
)

// Realtime upgrades /v1/realtime requests and runs one bridge per accepted
// connection.
type Realtime struct {
	logger   *slog.Logger
	store    store.Store
	composer bridge.PromptComposer
	scorer   bridge.Scorer
	tracker  *sessions.Tracker
	cfg      bridge.Config
	dial     bridge.UpstreamDialer

	upgrader websocket.Upgrader
}

func NewRealtime(logger *slog.Logger, st store.Store, composer bridge.PromptComposer, scorer bridge.Scorer, tracker *sessions.Tracker, cfg bridge.Config) *Realtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Realtime{
		logger:   logger,
		store:    st,
		composer: composer,
		scorer:   scorer,
		tracker:  tracker,
		cfg:      cfg,
		dial: func(ctx context.Context, cfg elevenlabs.Config) (bridge.Upstream, error) {
			return elevenlabs.Dial(ctx, cfg)
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			// Microphone capture runs in the browser on another origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Realtime) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	// Base64 PCM16 frames from the browser stay well under a megabyte.
	conn.SetReadLimit(1 << 20)

	b := bridge.New(h.logger, h.store, h.composer, h.dial, h.scorer, h.cfg, conn)

	unregister := h.tracker.Register(uuid.NewString(), sessions.Handle{Stop: b.Stop})
	defer unregister()

	if err := b.Run(r.Context()); err != nil {
		h.logger.Info("session ended with error", "remote", r.RemoteAddr, "error", err)
	}
}
