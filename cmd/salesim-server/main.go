package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ventia-ai/salesim/internal/dotenv"
	"github.com/ventia-ai/salesim/pkg/gateway/config"
	"github.com/ventia-ai/salesim/pkg/gateway/handlers"
	"github.com/ventia-ai/salesim/pkg/gateway/live/bridge"
	"github.com/ventia-ai/salesim/pkg/gateway/live/sessions"
	gatewayserver "github.com/ventia-ai/salesim/pkg/gateway/server"
	"github.com/ventia-ai/salesim/pkg/prompt"
	"github.com/ventia-ai/salesim/pkg/scoring"
	"github.com/ventia-ai/salesim/pkg/store"
)

type serverDeps struct {
	loadConfig   func() (config.Config, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultServerDeps() serverDeps {
	return serverDeps{
		loadConfig: config.LoadFromEnv,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func runServer(ctx context.Context, logger *slog.Logger, deps serverDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := store.Migrate(ctx, cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	st, err := store.NewPostgres(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer st.Close()

	grader, err := scoring.NewGeminiGrader(ctx, logger, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return fmt.Errorf("create grader: %w", err)
	}
	pipeline := scoring.NewPipeline(logger, st, grader)
	composer := prompt.NewComposer(st)
	tracker := sessions.NewTracker()

	realtime := handlers.NewRealtime(logger, st, composer, pipeline, tracker, bridge.Config{
		APIKey:           cfg.ElevenLabsAPIKey,
		AgentID:          cfg.ElevenLabsAgentID,
		BaseWSURL:        cfg.ElevenLabsWSBaseURL,
		Language:         cfg.AgentLanguage,
		FirstMessage:     cfg.AgentFirstMessage,
		Temperature:      cfg.AgentTemperature,
		MaxTokens:        cfg.AgentMaxTokens,
		RMSThreshold:     cfg.RMSThreshold,
		HandshakeTimeout: cfg.HandshakeTimeout,
		StopTimeout:      cfg.StopTimeout,
	})
	gw := gatewayserver.New(logger, st, tracker, realtime)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	logger.Info("starting server", "addr", cfg.Addr)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.WaitLiveSessions(waitCtx) {
		gw.StopLiveSessions()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps serverDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "salesim-server: %v\n", err)
		return 1
	}

	if err := runServer(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "salesim-server: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultServerDeps()))
}
