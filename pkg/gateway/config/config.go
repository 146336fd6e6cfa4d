// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	DatabaseURL string

	ElevenLabsAPIKey    string
	ElevenLabsAgentID   string
	ElevenLabsWSBaseURL string

	GeminiAPIKey string
	GeminiModel  string

	// Agent conversation defaults passed through to the provider.
	AgentLanguage     string
	AgentFirstMessage string
	AgentTemperature  float64
	AgentMaxTokens    int

	// RMSThreshold gates the user-turn start timestamp; frames at or below
	// it never open a turn.
	RMSThreshold float64

	// Silence thresholds are reserved for client-driven turn ending. Turn
	// finalization is currently driven by upstream final-transcript events,
	// so they are loaded but not enforced.
	UserTurnEndSilence time.Duration
	BotTurnEndSilence  time.Duration

	HandshakeTimeout time.Duration
	StopTimeout      time.Duration

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("SALESIM_ADDR", ":8080"),
		DatabaseURL:         strings.TrimSpace(os.Getenv("DATABASE_URL")),
		ElevenLabsAPIKey:    strings.TrimSpace(os.Getenv("ELEVENLABS_API_KEY")),
		ElevenLabsAgentID:   strings.TrimSpace(os.Getenv("ELEVENLABS_AGENT_ID")),
		ElevenLabsWSBaseURL: envOr("ELEVENLABS_WS_BASE_URL", ""),
		GeminiAPIKey:        strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiModel:         envOr("SALESIM_GEMINI_MODEL", "gemini-2.5-flash"),
		AgentLanguage:       envOr("SALESIM_AGENT_LANGUAGE", "es"),
		AgentFirstMessage:   envOr("SALESIM_AGENT_FIRST_MESSAGE", "Aló, ¿quién habla?"),
		AgentTemperature:    envFloat64Or("SALESIM_AGENT_TEMPERATURE", 0.7),
		AgentMaxTokens:      envIntOr("SALESIM_AGENT_MAX_TOKENS", 250),
		RMSThreshold:        envFloat64Or("SALESIM_RMS_THRESHOLD", 0.01),
		UserTurnEndSilence:  envDurationOr("SALESIM_USER_TURN_END_SILENCE", 800*time.Millisecond),
		BotTurnEndSilence:   envDurationOr("SALESIM_BOT_TURN_END_SILENCE", 800*time.Millisecond),
		HandshakeTimeout:    envDurationOr("SALESIM_HANDSHAKE_TIMEOUT", 15*time.Second),
		StopTimeout:         envDurationOr("SALESIM_STOP_TIMEOUT", 45*time.Second),
		ReadHeaderTimeout:   envDurationOr("SALESIM_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("SALESIM_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.ElevenLabsAPIKey == "" {
		return Config{}, fmt.Errorf("ELEVENLABS_API_KEY must be set")
	}
	if cfg.ElevenLabsAgentID == "" {
		return Config{}, fmt.Errorf("ELEVENLABS_AGENT_ID must be set")
	}
	if cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("GEMINI_API_KEY must be set")
	}
	if cfg.RMSThreshold <= 0 || cfg.RMSThreshold >= 1 {
		return Config{}, fmt.Errorf("SALESIM_RMS_THRESHOLD must be in (0, 1)")
	}
	if cfg.AgentTemperature < 0 || cfg.AgentTemperature > 2 {
		return Config{}, fmt.Errorf("SALESIM_AGENT_TEMPERATURE must be in [0, 2]")
	}
	if cfg.AgentMaxTokens <= 0 {
		return Config{}, fmt.Errorf("SALESIM_AGENT_MAX_TOKENS must be > 0")
	}
	if cfg.UserTurnEndSilence <= 0 {
		return Config{}, fmt.Errorf("SALESIM_USER_TURN_END_SILENCE must be > 0")
	}
	if cfg.BotTurnEndSilence <= 0 {
		return Config{}, fmt.Errorf("SALESIM_BOT_TURN_END_SILENCE must be > 0")
	}
	if cfg.HandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("SALESIM_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.StopTimeout <= 0 {
		return Config{}, fmt.Errorf("SALESIM_STOP_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("SALESIM_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("SALESIM_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
