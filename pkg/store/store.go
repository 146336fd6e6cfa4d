// Package store persists simulation sessions, dialogue turns, stage
// configuration, and post-call scoring results.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrStageNotFound   = errors.New("stage not found")
)

type SessionStatus string

const (
	SessionOpen     SessionStatus = "open"
	SessionFinished SessionStatus = "finished"
)

// Speaker identifies who produced a turn as stored in the database.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Role returns the caller-facing role for a stored speaker: the trainee is
// the seller, the synthetic counterpart is the client.
func (s Speaker) Role() string {
	switch s {
	case SpeakerUser:
		return "seller"
	case SpeakerAssistant:
		return "client"
	default:
		return string(s)
	}
}

type Session struct {
	ID                     string
	UserID                 string
	CourseID               string
	StageID                string
	ProviderConversationID string
	Status                 SessionStatus
	CreatedAt              time.Time
	EndedAt                *time.Time
}

// Turn is one finalized utterance. Duration is seconds of speech, measured by
// the bridge for user turns; it is nil for assistant turns because the
// upstream provider does not report it.
type Turn struct {
	ID        string
	SessionID string
	Speaker   Speaker
	Text      string
	Duration  *float64
	CreatedAt time.Time
}

// StageConfig is the immutable configuration of one course stage driving a
// simulation.
type StageConfig struct {
	StageID    string
	CourseID   string
	Objectives string
	KeyThemes  []string
	VoiceID    string
	AgentID    string
	Level      string
	BotPrompt  string
	CourseBody string
}

// DimensionFeedback carries the per-dimension justification strings.
type DimensionFeedback struct {
	FillerWords   string
	Clarity       string
	Participation string
	KeyThemes     string
	QuestionIndex string
	SpeechRate    string
}

// ConversationScores is one finished session's dimension scores. Dimension
// scores are integers in [0,100]; Global is the weighted aggregate.
type ConversationScores struct {
	FillerWords      int
	Clarity          int
	Participation    int
	KeyThemes        int
	QuestionIndex    int
	SpeechRate       int
	Global           float64
	GoalAccomplished bool
	Feedback         DimensionFeedback
}

// SkillScore is one 1-5 rubric grade with its justification.
type SkillScore struct {
	Score         int
	Justification string
}

type ConversationSkills struct {
	Prospection     SkillScore
	Empathy         SkillScore
	TechnicalDomain SkillScore
	Negotiation     SkillScore
	Resilience      SkillScore
}

// SkillVector is the rolling per-user mean of the five rubric skills, in
// fixed order: prospection, empathy, technical domain, negotiation,
// resilience.
type SkillVector [5]float64

// Store is the persistence contract shared by the realtime bridge and the
// scoring pipeline. Implementations must be safe for concurrent use by
// independent sessions.
type Store interface {
	CreateSession(ctx context.Context, userID, courseID, stageID string) (Session, error)
	SetProviderConversationID(ctx context.Context, sessionID, providerConversationID string) error
	AppendTurn(ctx context.Context, sessionID, userID string, speaker Speaker, text string, duration *float64) (Turn, error)
	// CloseSession transitions the session to finished. Idempotent.
	CloseSession(ctx context.Context, sessionID, userID string) error
	// GetTranscript returns turns ordered by creation time.
	GetTranscript(ctx context.Context, sessionID string) ([]Turn, error)
	GetStageConfig(ctx context.Context, courseID, stageID string) (StageConfig, error)
	SaveConversationScores(ctx context.Context, sessionID string, scores ConversationScores) error
	SaveConversationSkills(ctx context.Context, sessionID string, skills ConversationSkills) error
	// GetUserSkillVector averages each rubric skill across the user's
	// finished sessions.
	GetUserSkillVector(ctx context.Context, userID string) (SkillVector, error)
	SaveUserProfile(ctx context.Context, userID string, generalScore float64, profile string) error
	Ping(ctx context.Context) error
}
