package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ventia-ai/salesim/pkg/gateway/live/protocol"
	"github.com/ventia-ai/salesim/pkg/store"
	"github.com/ventia-ai/salesim/pkg/upstream/elevenlabs"
)

type fakeBrowser struct {
	mu       sync.Mutex
	incoming chan []byte
	done     chan struct{}
	once     sync.Once
	writes   []any
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{incoming: make(chan []byte, 16), done: make(chan struct{})}
}

func (f *fakeBrowser) send(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	f.incoming <- data
}

func (f *fakeBrowser) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.incoming:
		return 1, data, nil
	case <-f.done:
		return 0, nil, errors.New("connection closed")
	}
}

func (f *fakeBrowser) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, v)
	return nil
}

func (f *fakeBrowser) WriteControl(int, []byte, time.Time) error { return nil }

func (f *fakeBrowser) Close() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeBrowser) written() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, len(f.writes))
	copy(out, f.writes)
	return out
}

type fakeUpstream struct {
	mu     sync.Mutex
	events chan elevenlabs.Event
	once   sync.Once
	audio  []string
	err    error
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{events: make(chan elevenlabs.Event, 16)}
}

func (f *fakeUpstream) SendAudio(_ context.Context, frameB64 string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, frameB64)
	return nil
}

func (f *fakeUpstream) Events() <-chan elevenlabs.Event { return f.events }

func (f *fakeUpstream) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeUpstream) Close() error {
	f.once.Do(func() { close(f.events) })
	return nil
}

func (f *fakeUpstream) hangUp() { f.Close() }

func (f *fakeUpstream) audioFrames() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audio)
}

type fakeStore struct {
	store.Store

	mu             sync.Mutex
	sessions       int
	turns          []store.Turn
	closeCalls     int
	conversationID string
}

func (f *fakeStore) CreateSession(_ context.Context, userID, courseID, stageID string) (store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions++
	return store.Session{ID: "sess-1", UserID: userID, CourseID: courseID, StageID: stageID, Status: store.SessionOpen}, nil
}

func (f *fakeStore) SetProviderConversationID(_ context.Context, _, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversationID = conversationID
	return nil
}

func (f *fakeStore) AppendTurn(_ context.Context, sessionID, _ string, speaker store.Speaker, text string, duration *float64) (store.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	turn := store.Turn{SessionID: sessionID, Speaker: speaker, Text: text, Duration: duration}
	f.turns = append(f.turns, turn)
	return turn, nil
}

func (f *fakeStore) CloseSession(_ context.Context, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func (f *fakeStore) recordedTurns() []store.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Turn, len(f.turns))
	copy(out, f.turns)
	return out
}

type fakeComposer struct {
	err error
}

func (f *fakeComposer) Compose(_ context.Context, courseID, stageID string) (string, store.StageConfig, error) {
	if f.err != nil {
		return "", store.StageConfig{}, f.err
	}
	return "prompt", store.StageConfig{CourseID: courseID, StageID: stageID, VoiceID: "voice-1"}, nil
}

type fakeScorer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeScorer) Score(_ context.Context, _ store.Session, _ store.StageConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeScorer) scoreCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type harness struct {
	browser  *fakeBrowser
	upstream *fakeUpstream
	store    *fakeStore
	scorer   *fakeScorer
	bridge   *Bridge
	dialCfg  elevenlabs.Config
	dialed   chan struct{}
	done     chan error
}

func newHarness(t *testing.T, composer PromptComposer) *harness {
	t.Helper()
	h := &harness{
		browser:  newFakeBrowser(),
		upstream: newFakeUpstream(),
		store:    &fakeStore{},
		scorer:   &fakeScorer{},
		dialed:   make(chan struct{}),
		done:     make(chan error, 1),
	}
	dial := func(_ context.Context, cfg elevenlabs.Config) (Upstream, error) {
		h.dialCfg = cfg
		close(h.dialed)
		return h.upstream, nil
	}
	h.bridge = New(nil, h.store, composer, dial, h.scorer, Config{
		AgentID:          "agent-1",
		APIKey:           "key",
		FirstMessage:     "Aló, ¿quién habla?",
		HandshakeTimeout: time.Second,
		StopTimeout:      time.Second,
	}, h.browser)
	return h
}

func (h *harness) run(ctx context.Context) {
	go func() { h.done <- h.bridge.Run(ctx) }()
}

func (h *harness) waitDialed(t *testing.T) {
	t.Helper()
	select {
	case <-h.dialed:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream never dialed")
	}
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("bridge did not stop")
		return nil
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func startMsg() protocol.ClientSessionStart {
	return protocol.ClientSessionStart{
		Type:     protocol.TypeSessionStart,
		UserID:   "user-1",
		CourseID: "course-1",
		StageID:  "stage-1",
	}
}

func loudFrame() string {
	samples := make([]int16, 160)
	for i := range samples {
		samples[i] = 12000
	}
	return pcmFrame(samples)
}

func TestBridgeFullSession(t *testing.T) {
	h := newHarness(t, &fakeComposer{})
	h.run(context.Background())

	h.browser.send(t, startMsg())
	h.waitDialed(t)

	if h.dialCfg.FirstMessage != "Aló, ¿quién habla?" {
		t.Fatalf("dial first message = %q", h.dialCfg.FirstMessage)
	}
	if h.dialCfg.VoiceID != "voice-1" {
		t.Fatalf("dial voice = %q", h.dialCfg.VoiceID)
	}

	h.upstream.events <- elevenlabs.Event{Type: elevenlabs.EventMetadata, ConversationID: "conv-9"}

	h.browser.send(t, protocol.ClientAudioAppend{Type: protocol.TypeAudioAppend, Audio: loudFrame()})
	waitFor(t, func() bool { return h.upstream.audioFrames() == 1 })

	h.upstream.events <- elevenlabs.Event{Type: elevenlabs.EventUserTranscript, Transcript: "hola, le llamo de ventas"}
	h.upstream.events <- elevenlabs.Event{Type: elevenlabs.EventAudio, AudioB64: "AAAA", EventID: 7}
	h.upstream.events <- elevenlabs.Event{Type: elevenlabs.EventAgentResponse, Transcript: "buenas, dígame"}
	waitFor(t, func() bool { return len(h.store.recordedTurns()) == 2 })

	h.upstream.hangUp()
	if err := h.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	turns := h.store.recordedTurns()
	if turns[0].Speaker != store.SpeakerUser || turns[0].Duration == nil {
		t.Fatalf("user turn = %+v, want user speaker with duration", turns[0])
	}
	if turns[1].Speaker != store.SpeakerAssistant || turns[1].Duration != nil {
		t.Fatalf("assistant turn = %+v, want assistant speaker without duration", turns[1])
	}
	if h.store.conversationID != "conv-9" {
		t.Fatalf("provider conversation id = %q, want conv-9", h.store.conversationID)
	}
	if h.scorer.scoreCalls() != 1 {
		t.Fatalf("scorer calls = %d, want 1", h.scorer.scoreCalls())
	}
	if h.store.closeCalls != 1 {
		t.Fatalf("close calls = %d, want 1", h.store.closeCalls)
	}

	var sawCallEnd, sawScoring, sawDelta, sawUserTranscript bool
	for _, w := range h.browser.written() {
		switch v := w.(type) {
		case protocol.ServerCallEnd:
			sawCallEnd = true
		case protocol.ServerScoringCompleted:
			sawScoring = v.ConversationID == "sess-1"
		case protocol.ServerAudioDelta:
			sawDelta = v.Delta == "AAAA" && v.ItemID == "7"
		case protocol.ServerUserTranscript:
			sawUserTranscript = v.Transcript == "hola, le llamo de ventas"
		}
	}
	if !sawCallEnd || !sawScoring || !sawDelta || !sawUserTranscript {
		t.Fatalf("missing browser envelopes: call.end=%v scoring=%v delta=%v transcript=%v",
			sawCallEnd, sawScoring, sawDelta, sawUserTranscript)
	}
}

func TestBridgeInterruptionClearsAudio(t *testing.T) {
	h := newHarness(t, &fakeComposer{})
	h.run(context.Background())

	h.browser.send(t, startMsg())
	h.waitDialed(t)

	h.upstream.events <- elevenlabs.Event{Type: elevenlabs.EventInterruption}
	waitFor(t, func() bool {
		for _, w := range h.browser.written() {
			if _, ok := w.(protocol.ServerAudioClear); ok {
				return true
			}
		}
		return false
	})

	h.upstream.hangUp()
	_ = h.wait(t)
}

func TestBridgeClientEndsBeforeAudio(t *testing.T) {
	h := newHarness(t, &fakeComposer{})
	h.run(context.Background())

	h.browser.send(t, startMsg())
	h.waitDialed(t)

	h.browser.send(t, protocol.ClientSessionEnd{Type: protocol.TypeSessionEnd})
	if err := h.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if h.scorer.scoreCalls() != 1 {
		t.Fatalf("scorer calls = %d, want 1", h.scorer.scoreCalls())
	}
	if h.store.closeCalls != 1 {
		t.Fatalf("close calls = %d, want 1", h.store.closeCalls)
	}
	for _, w := range h.browser.written() {
		if _, ok := w.(protocol.ServerCallEnd); ok {
			t.Fatal("call.end sent for a client-initiated end")
		}
	}
}

func TestBridgeStopIsIdempotent(t *testing.T) {
	h := newHarness(t, &fakeComposer{})
	h.run(context.Background())

	h.browser.send(t, startMsg())
	h.waitDialed(t)

	// End from both sides at once.
	h.browser.send(t, protocol.ClientSessionEnd{Type: protocol.TypeSessionEnd})
	h.upstream.hangUp()
	_ = h.wait(t)

	if h.scorer.scoreCalls() != 1 {
		t.Fatalf("scorer calls = %d, want exactly 1", h.scorer.scoreCalls())
	}
	if h.store.closeCalls != 1 {
		t.Fatalf("close calls = %d, want exactly 1", h.store.closeCalls)
	}
}

func TestBridgeSendsCallEndWhenScoringFails(t *testing.T) {
	h := newHarness(t, &fakeComposer{})
	h.scorer.err = errors.New("transcript read failed")
	h.run(context.Background())

	h.browser.send(t, startMsg())
	h.waitDialed(t)

	h.browser.send(t, protocol.ClientSessionEnd{Type: protocol.TypeSessionEnd})
	if err := h.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var callEnds, scorings int
	for _, w := range h.browser.written() {
		switch w.(type) {
		case protocol.ServerCallEnd:
			callEnds++
		case protocol.ServerScoringCompleted:
			scorings++
		}
	}
	if callEnds != 1 {
		t.Fatalf("call.end envelopes = %d, want 1", callEnds)
	}
	if scorings != 0 {
		t.Fatalf("scoring.completed envelopes = %d, want 0", scorings)
	}
}

func TestBridgeRejectsInvalidFirstMessage(t *testing.T) {
	h := newHarness(t, &fakeComposer{})
	h.run(context.Background())

	h.browser.send(t, protocol.ClientAudioAppend{Type: protocol.TypeAudioAppend, Audio: loudFrame()})
	if err := h.wait(t); err == nil {
		t.Fatal("Run accepted a non-start first message")
	}

	if h.store.sessions != 0 {
		t.Fatalf("sessions created = %d, want 0", h.store.sessions)
	}
	if h.scorer.scoreCalls() != 0 {
		t.Fatalf("scorer calls = %d, want 0", h.scorer.scoreCalls())
	}
	writes := h.browser.written()
	if len(writes) != 1 {
		t.Fatalf("browser writes = %d, want 1 error envelope", len(writes))
	}
	if env, ok := writes[0].(protocol.ServerError); !ok || env.Code != "bad_request" {
		t.Fatalf("write = %+v, want bad_request error", writes[0])
	}
}

func TestBridgeRejectsUnknownStage(t *testing.T) {
	h := newHarness(t, &fakeComposer{err: store.ErrStageNotFound})
	h.run(context.Background())

	h.browser.send(t, startMsg())
	if err := h.wait(t); !errors.Is(err, store.ErrStageNotFound) {
		t.Fatalf("Run = %v, want ErrStageNotFound", err)
	}

	if h.store.sessions != 0 {
		t.Fatalf("sessions created = %d, want 0", h.store.sessions)
	}
	if h.scorer.scoreCalls() != 0 {
		t.Fatalf("scorer calls = %d, want 0", h.scorer.scoreCalls())
	}
	writes := h.browser.written()
	if len(writes) != 1 {
		t.Fatalf("browser writes = %d, want 1 error envelope", len(writes))
	}
	if env, ok := writes[0].(protocol.ServerError); !ok || env.Code != "stage_not_found" {
		t.Fatalf("write = %+v, want stage_not_found error", writes[0])
	}
}

func TestBridgeForwardsUndecodableFramesAsSilent(t *testing.T) {
	h := newHarness(t, &fakeComposer{})
	h.run(context.Background())

	h.browser.send(t, startMsg())
	h.waitDialed(t)

	h.browser.send(t, protocol.ClientAudioAppend{Type: protocol.TypeAudioAppend, Audio: "not-base64!!!"})
	waitFor(t, func() bool { return h.upstream.audioFrames() == 1 })

	// A frame that fails to decode never opens a turn, so a transcript that
	// follows it lands without a duration.
	h.upstream.events <- elevenlabs.Event{Type: elevenlabs.EventUserTranscript, Transcript: "mmm"}
	waitFor(t, func() bool { return len(h.store.recordedTurns()) == 1 })
	if turn := h.store.recordedTurns()[0]; turn.Duration != nil {
		t.Fatalf("turn duration = %v, want nil when no turn was opened", *turn.Duration)
	}

	h.browser.send(t, protocol.ClientAudioAppend{Type: protocol.TypeAudioAppend, Audio: loudFrame()})
	waitFor(t, func() bool { return h.upstream.audioFrames() == 2 })

	h.upstream.hangUp()
	_ = h.wait(t)
}
