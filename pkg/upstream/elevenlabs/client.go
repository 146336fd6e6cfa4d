// Package elevenlabs holds the upstream conversational-AI client. One Client
// owns one WebSocket to the ElevenLabs Agents endpoint for the lifetime of a
// simulation session.
package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultAgentWSBase = "wss://api.elevenlabs.io/v1/convai/conversation"

// ErrUpstreamDisconnected reports an abnormal upstream socket failure. A
// clean provider close (agent hang-up) is not an error.
var ErrUpstreamDisconnected = errors.New("upstream disconnected")

// Config carries everything needed for the session handshake.
type Config struct {
	APIKey    string
	AgentID   string
	BaseWSURL string

	SystemPrompt string
	FirstMessage string
	Language     string
	VoiceID      string
	Temperature  float64
	MaxTokens    int
}

// EventType enumerates the upstream events the bridge reacts to.
type EventType int

const (
	EventMetadata EventType = iota
	EventAudio
	EventUserTranscript
	EventAgentResponse
	EventInterruption
)

// Event is one upstream message translated into bridge vocabulary.
type Event struct {
	Type           EventType
	ConversationID string // EventMetadata
	AudioB64       string // EventAudio
	EventID        int    // EventAudio
	Transcript     string // EventUserTranscript, EventAgentResponse
}

// Client is a live connection to the conversational-AI provider.
type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once

	errMu   sync.Mutex
	readErr error
}

// Dial opens the upstream socket and sends the conversation initiation
// envelope. The returned client delivers translated events on Events() until
// the provider closes the socket.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("elevenlabs api key is required")
	}
	if strings.TrimSpace(cfg.AgentID) == "" {
		return nil, fmt.Errorf("elevenlabs agent id is required")
	}
	wsURL, err := buildAgentWSURL(strings.TrimSpace(cfg.BaseWSURL), strings.TrimSpace(cfg.AgentID))
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("xi-api-key", strings.TrimSpace(cfg.APIKey))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamDisconnected, err)
	}

	c := &Client{
		conn:   conn,
		events: make(chan Event, 64),
		closed: make(chan struct{}),
	}
	if err := c.sendInitiation(ctx, cfg); err != nil {
		_ = c.Close()
		return nil, err
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) sendInitiation(ctx context.Context, cfg Config) error {
	language := strings.TrimSpace(cfg.Language)
	if language == "" {
		language = "es"
	}
	agent := map[string]any{
		"prompt":   map[string]any{"prompt": cfg.SystemPrompt},
		"language": language,
	}
	if strings.TrimSpace(cfg.FirstMessage) != "" {
		agent["first_message"] = cfg.FirstMessage
	}
	override := map[string]any{"agent": agent}
	if strings.TrimSpace(cfg.VoiceID) != "" {
		override["tts"] = map[string]any{"voice_id": cfg.VoiceID}
	}
	payload := map[string]any{
		"type":                         "conversation_initiation_client_data",
		"conversation_config_override": override,
		"custom_llm_extra_body": map[string]any{
			"temperature": cfg.Temperature,
			"max_tokens":  cfg.MaxTokens,
		},
	}
	return c.writeJSON(ctx, payload)
}

// SendAudio forwards one base64 PCM frame verbatim to the agent.
func (c *Client) SendAudio(ctx context.Context, frameB64 string) error {
	return c.writeJSON(ctx, map[string]any{"user_audio_chunk": frameB64})
}

// Events returns the translated event stream. The channel closes when the
// upstream socket closes for any reason; Err distinguishes hang-up from
// failure.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Err reports why the event stream ended. It returns nil after a clean
// provider close and an ErrUpstreamDisconnected-wrapped error otherwise.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.readErr
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
	return nil
}

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.setReadErr(err)
			return
		}

		var msg struct {
			Type string `json:"type"`

			ConversationMetadata struct {
				ConversationID string `json:"conversation_id"`
			} `json:"conversation_initiation_metadata_event"`

			AudioEvent struct {
				AudioB64 string `json:"audio_base_64"`
				EventID  int    `json:"event_id"`
			} `json:"audio_event"`

			UserTranscriptionEvent struct {
				UserTranscript string `json:"user_transcript"`
			} `json:"user_transcription_event"`

			AgentResponseEvent struct {
				AgentResponse string `json:"agent_response"`
			} `json:"agent_response_event"`

			PingEvent struct {
				EventID int `json:"event_id"`
			} `json:"ping_event"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		var ev Event
		switch msg.Type {
		case "conversation_initiation_metadata":
			ev = Event{Type: EventMetadata, ConversationID: msg.ConversationMetadata.ConversationID}
		case "audio":
			ev = Event{Type: EventAudio, AudioB64: msg.AudioEvent.AudioB64, EventID: msg.AudioEvent.EventID}
		case "user_transcript":
			ev = Event{Type: EventUserTranscript, Transcript: msg.UserTranscriptionEvent.UserTranscript}
		case "agent_response":
			ev = Event{Type: EventAgentResponse, Transcript: msg.AgentResponseEvent.AgentResponse}
		case "interruption":
			ev = Event{Type: EventInterruption}
		case "ping":
			// Protocol keepalive; answered inline, never surfaced.
			_ = c.writeJSON(context.Background(), map[string]any{
				"type":     "pong",
				"event_id": msg.PingEvent.EventID,
			})
			continue
		default:
			// Unknown event types are ignored for forward compatibility.
			continue
		}

		select {
		case c.events <- ev:
		case <-c.closed:
			return
		}
	}
}

func (c *Client) setReadErr(err error) {
	select {
	case <-c.closed:
		// Local close; the bridge initiated shutdown.
		return
	default:
	}
	if isCleanClose(err) {
		return
	}
	c.errMu.Lock()
	c.readErr = fmt.Errorf("%w: %v", ErrUpstreamDisconnected, err)
	c.errMu.Unlock()
}

func isCleanClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}

func (c *Client) writeJSON(ctx context.Context, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	} else {
		_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	}
	if err := c.conn.WriteJSON(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamDisconnected, err)
	}
	return nil
}

func buildAgentWSURL(base, agentID string) (string, error) {
	if strings.TrimSpace(base) == "" {
		base = defaultAgentWSBase
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid elevenlabs ws base url: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("agent_id", agentID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
