// Package bridge mediates one browser microphone socket and one upstream
// conversational-AI socket for the lifetime of a simulation session. It
// forwards audio both ways, tracks dialogue turns, and triggers post-call
// scoring exactly once when the session stops.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ventia-ai/salesim/pkg/gateway/live/protocol"
	"github.com/ventia-ai/salesim/pkg/store"
	"github.com/ventia-ai/salesim/pkg/upstream/elevenlabs"
)

const (
	defaultHandshakeTimeout = 15 * time.Second
	defaultStopTimeout      = 45 * time.Second
	defaultPingInterval     = 20 * time.Second
	pingWriteWait           = 5 * time.Second
)

// BrowserConn is the slice of a websocket connection the bridge uses. A
// *websocket.Conn satisfies it directly.
type BrowserConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Upstream is a live provider connection. *elevenlabs.Client satisfies it.
type Upstream interface {
	SendAudio(ctx context.Context, frameB64 string) error
	Events() <-chan elevenlabs.Event
	Err() error
	Close() error
}

// UpstreamDialer opens the provider socket for a session.
type UpstreamDialer func(ctx context.Context, cfg elevenlabs.Config) (Upstream, error)

// PromptComposer builds the agent system prompt for a stage.
type PromptComposer interface {
	Compose(ctx context.Context, courseID, stageID string) (string, store.StageConfig, error)
}

// Scorer runs the post-call scoring pipeline for a finished session.
type Scorer interface {
	Score(ctx context.Context, session store.Session, stage store.StageConfig) error
}

// Config carries the per-server bridge settings shared by all sessions.
type Config struct {
	APIKey    string
	AgentID   string
	BaseWSURL string

	Language     string
	FirstMessage string
	Temperature  float64
	MaxTokens    int

	RMSThreshold     float64
	HandshakeTimeout time.Duration
	StopTimeout      time.Duration
	PingInterval     time.Duration
}

// Bridge runs one simulation session. Construct one per accepted websocket
// and call Run once.
type Bridge struct {
	logger   *slog.Logger
	store    store.Store
	composer PromptComposer
	dial     UpstreamDialer
	scorer   Scorer
	energy   *EnergyDetector
	cfg      Config

	browser  BrowserConn
	upstream Upstream

	writeMu sync.Mutex

	session store.Session
	stage   store.StageConfig

	// turnOpenAt is the wall time the current user turn opened, zero when no
	// turn is open. Written by the browser loop, read by the upstream loop.
	turnMu     sync.Mutex
	turnOpenAt time.Time

	stopped   atomic.Bool
	callEnded atomic.Bool
	stopOnce  sync.Once
}

func New(logger *slog.Logger, st store.Store, composer PromptComposer, dial UpstreamDialer, scorer Scorer, cfg Config, browser BrowserConn) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	return &Bridge{
		logger:   logger,
		store:    st,
		composer: composer,
		dial:     dial,
		scorer:   scorer,
		energy:   NewEnergyDetector(cfg.RMSThreshold),
		cfg:      cfg,
		browser:  browser,
	}
}

// Run drives the session until the browser ends it, the agent hangs up, or
// either socket fails. It always leaves both sockets closed.
func (b *Bridge) Run(ctx context.Context) error {
	start, err := b.awaitSessionStart(ctx)
	if err != nil {
		b.rejectAndClose(err)
		return err
	}

	systemPrompt, stage, err := b.composer.Compose(ctx, start.CourseID, start.StageID)
	if err != nil {
		if errors.Is(err, store.ErrStageNotFound) {
			b.rejectAndClose(&protocol.DecodeError{Code: "stage_not_found", Message: "stage configuration not found"})
		} else {
			b.rejectAndClose(fmt.Errorf("compose prompt: %w", err))
		}
		return err
	}
	b.stage = stage

	session, err := b.store.CreateSession(ctx, start.UserID, start.CourseID, start.StageID)
	if err != nil {
		b.rejectAndClose(fmt.Errorf("create session: %w", err))
		return err
	}
	b.session = session
	b.logger = b.logger.With("session_id", session.ID, "user_id", session.UserID)

	agentID := b.cfg.AgentID
	if stage.AgentID != "" {
		agentID = stage.AgentID
	}
	up, err := b.dial(ctx, elevenlabs.Config{
		APIKey:       b.cfg.APIKey,
		AgentID:      agentID,
		BaseWSURL:    b.cfg.BaseWSURL,
		SystemPrompt: systemPrompt,
		FirstMessage: b.cfg.FirstMessage,
		Language:     b.cfg.Language,
		VoiceID:      stage.VoiceID,
		Temperature:  b.cfg.Temperature,
		MaxTokens:    b.cfg.MaxTokens,
	})
	if err != nil {
		b.logger.Error("upstream dial failed", "error", err)
		b.rejectAndClose(&protocol.DecodeError{Code: "upstream_unavailable", Message: "could not reach the conversation provider"})
		b.stop("upstream dial failed")
		return err
	}
	b.upstream = up

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		b.browserLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		b.upstreamLoop(ctx)
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	go b.keepBrowserAlive(done)
	select {
	case <-ctx.Done():
		b.stop("server shutdown")
		<-done
	case <-done:
		b.stop("session loops finished")
	}
	return nil
}

// awaitSessionStart reads and validates the mandatory first browser frame.
func (b *Bridge) awaitSessionStart(ctx context.Context) (protocol.ClientSessionStart, error) {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		_, data, err := b.browser.ReadMessage()
		ch <- result{data: data, err: err}
	}()

	timer := time.NewTimer(b.cfg.HandshakeTimeout)
	defer timer.Stop()

	var data []byte
	select {
	case <-ctx.Done():
		return protocol.ClientSessionStart{}, ctx.Err()
	case <-timer.C:
		return protocol.ClientSessionStart{}, &protocol.DecodeError{Code: "handshake_timeout", Message: "no session start received"}
	case r := <-ch:
		if r.err != nil {
			return protocol.ClientSessionStart{}, fmt.Errorf("read session start: %w", r.err)
		}
		data = r.data
	}

	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		return protocol.ClientSessionStart{}, err
	}
	start, ok := msg.(protocol.ClientSessionStart)
	if !ok {
		return protocol.ClientSessionStart{}, &protocol.DecodeError{Code: "bad_request", Message: "first message must be " + protocol.TypeSessionStart}
	}
	return start, nil
}

// rejectAndClose reports a pre-session failure to the browser and closes the
// socket. No session exists yet, so nothing is scored.
func (b *Bridge) rejectAndClose(err error) {
	var de *protocol.DecodeError
	env := protocol.ServerError{Type: protocol.TypeError, Code: "internal", Message: "session could not be started"}
	if errors.As(err, &de) {
		env.Code = de.Code
		env.Message = de.Message
	}
	b.writeBrowser(env)
	_ = b.browser.Close()
}

func (b *Bridge) browserLoop(ctx context.Context) {
	for {
		_, data, err := b.browser.ReadMessage()
		if err != nil {
			if !b.stopped.Load() {
				b.logger.Info("browser socket closed", "error", err)
			}
			b.stop("browser disconnected")
			return
		}

		msg, err := protocol.DecodeClientMessage(data)
		if err != nil {
			var de *protocol.DecodeError
			if errors.As(err, &de) {
				b.writeBrowser(protocol.ServerError{Type: protocol.TypeError, Code: de.Code, Message: de.Message})
			}
			continue
		}

		switch m := msg.(type) {
		case protocol.ClientAudioAppend:
			b.handleAudioFrame(ctx, m.Audio)
		case protocol.ClientSessionEnd:
			b.stop("client ended session")
			return
		case protocol.ClientSessionStart:
			b.writeBrowser(protocol.ServerError{Type: protocol.TypeError, Code: "bad_request", Message: "session already started"})
		}
	}
}

func (b *Bridge) handleAudioFrame(ctx context.Context, frameB64 string) {
	// The energy gate only decides turn-open timing. An undecodable frame
	// counts as silent and is still forwarded verbatim.
	speech, err := b.energy.NonSilent(frameB64)
	if err != nil {
		b.logger.Warn("treating undecodable audio frame as silent", "error", err)
	}
	if speech {
		b.turnMu.Lock()
		if b.turnOpenAt.IsZero() {
			b.turnOpenAt = time.Now()
		}
		b.turnMu.Unlock()
	}
	if err := b.upstream.SendAudio(ctx, frameB64); err != nil {
		if !b.stopped.Load() {
			b.logger.Error("forwarding audio failed", "error", err)
		}
		b.stop("upstream write failed")
	}
}

func (b *Bridge) upstreamLoop(ctx context.Context) {
	for ev := range b.upstream.Events() {
		switch ev.Type {
		case elevenlabs.EventMetadata:
			if err := b.store.SetProviderConversationID(ctx, b.session.ID, ev.ConversationID); err != nil {
				b.logger.Error("recording provider conversation id failed", "error", err)
			}
		case elevenlabs.EventAudio:
			b.writeBrowser(protocol.ServerAudioDelta{
				Type:   protocol.TypeAudioDelta,
				Delta:  ev.AudioB64,
				ItemID: strconv.Itoa(ev.EventID),
			})
		case elevenlabs.EventUserTranscript:
			b.recordTurn(ctx, store.SpeakerUser, ev.Transcript, b.closeUserTurn())
			b.writeBrowser(protocol.ServerUserTranscript{Type: protocol.TypeUserTranscript, Transcript: ev.Transcript})
		case elevenlabs.EventAgentResponse:
			b.recordTurn(ctx, store.SpeakerAssistant, ev.Transcript, nil)
			b.writeBrowser(protocol.ServerAgentTranscript{Type: protocol.TypeAgentTranscript, Transcript: ev.Transcript})
		case elevenlabs.EventInterruption:
			b.writeBrowser(protocol.ServerAudioClear{Type: protocol.TypeAudioClear})
		}
	}

	if err := b.upstream.Err(); err != nil {
		if !b.stopped.Load() {
			b.logger.Error("upstream socket failed", "error", err)
			b.writeBrowser(protocol.ServerError{Type: protocol.TypeError, Code: "upstream_disconnected", Message: "conversation provider disconnected"})
		}
		b.stop("upstream disconnected")
		return
	}
	// A clean provider close means the agent hung up, unless our own stop
	// path closed the socket.
	if !b.stopped.Load() && b.callEnded.CompareAndSwap(false, true) {
		b.writeBrowser(protocol.ServerCallEnd{Type: protocol.TypeCallEnd})
	}
	b.stop("agent hung up")
}

// keepBrowserAlive pings the browser socket so idle sessions survive proxies
// that reap quiet connections. A failed ping is left to the read loop, which
// sees the broken socket and stops the session.
func (b *Bridge) keepBrowserAlive(done <-chan struct{}) {
	ticker := time.NewTicker(b.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := b.browser.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingWriteWait)); err != nil {
				return
			}
		}
	}
}

// closeUserTurn returns the elapsed seconds of the open user turn and resets
// it, or nil when no turn was opened by the energy gate.
func (b *Bridge) closeUserTurn() *float64 {
	b.turnMu.Lock()
	defer b.turnMu.Unlock()
	if b.turnOpenAt.IsZero() {
		return nil
	}
	seconds := time.Since(b.turnOpenAt).Seconds()
	b.turnOpenAt = time.Time{}
	return &seconds
}

func (b *Bridge) recordTurn(ctx context.Context, speaker store.Speaker, text string, duration *float64) {
	if text == "" {
		return
	}
	if _, err := b.store.AppendTurn(ctx, b.session.ID, b.session.UserID, speaker, text, duration); err != nil {
		b.logger.Error("persisting turn failed", "speaker", speaker, "error", err)
	}
}

// Stop finalizes the session from outside the loops, e.g. on server drain.
// Safe to call at any point, any number of times.
func (b *Bridge) Stop() {
	b.stop("external stop")
}

// stop finalizes the session exactly once: close the session record, score
// the conversation, notify the browser, then tear down both sockets. It uses
// a detached context so shutdown still completes after ctx is cancelled.
func (b *Bridge) stop(reason string) {
	b.stopOnce.Do(func() {
		b.stopped.Store(true)
		b.logger.Info("stopping session", "reason", reason)

		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.StopTimeout)
		defer cancel()

		if err := b.store.CloseSession(ctx, b.session.ID, b.session.UserID); err != nil {
			b.logger.Error("closing session record failed", "error", err)
		}

		if b.scorer != nil {
			if err := b.scorer.Score(ctx, b.session, b.stage); err != nil {
				b.logger.Error("scoring failed", "error", err)
				// The browser still needs a terminal envelope when no
				// scoring result is coming.
				if b.callEnded.CompareAndSwap(false, true) {
					b.writeBrowser(protocol.ServerCallEnd{Type: protocol.TypeCallEnd})
				}
			} else {
				b.writeBrowser(protocol.ServerScoringCompleted{
					Type:           protocol.TypeScoringCompleted,
					ConversationID: b.session.ID,
				})
			}
		}

		if b.upstream != nil {
			_ = b.upstream.Close()
		}
		_ = b.browser.Close()
	})
}

func (b *Bridge) writeBrowser(v any) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := b.browser.WriteJSON(v); err != nil && !b.stopped.Load() {
		b.logger.Warn("browser write failed", "error", err)
	}
}
