package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool, logger: logger.With("component", "store")}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) CreateSession(ctx context.Context, userID, courseID, stageID string) (Session, error) {
	s := Session{
		ID:       uuid.NewString(),
		UserID:   userID,
		CourseID: courseID,
		StageID:  stageID,
		Status:   SessionOpen,
	}
	row := p.pool.QueryRow(ctx, `
		INSERT INTO sessions (id, user_id, course_id, stage_id, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		s.ID, s.UserID, s.CourseID, s.StageID, s.Status)
	if err := row.Scan(&s.CreatedAt); err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

func (p *Postgres) SetProviderConversationID(ctx context.Context, sessionID, providerConversationID string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE sessions SET provider_conversation_id = $2 WHERE id = $1`,
		sessionID, providerConversationID)
	if err != nil {
		return fmt.Errorf("set provider conversation id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (p *Postgres) AppendTurn(ctx context.Context, sessionID, userID string, speaker Speaker, text string, duration *float64) (Turn, error) {
	t := Turn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Speaker:   speaker,
		Text:      text,
		Duration:  duration,
	}
	row := p.pool.QueryRow(ctx, `
		INSERT INTO turns (id, session_id, user_id, speaker, text, duration_seconds)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		t.ID, t.SessionID, userID, t.Speaker, t.Text, t.Duration)
	if err := row.Scan(&t.CreatedAt); err != nil {
		return Turn{}, fmt.Errorf("append turn: %w", err)
	}
	return t, nil
}

// CloseSession marks the session finished. Calling it on an already finished
// session is a no-op, preserving the original end timestamp.
func (p *Postgres) CloseSession(ctx context.Context, sessionID, userID string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE sessions
		SET status = $3, ended_at = COALESCE(ended_at, now())
		WHERE id = $1 AND user_id = $2`,
		sessionID, userID, SessionFinished)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (p *Postgres) GetTranscript(ctx context.Context, sessionID string) ([]Turn, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, session_id, speaker, text, duration_seconds, created_at
		FROM turns
		WHERE session_id = $1
		ORDER BY created_at, id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("get transcript: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Speaker, &t.Text, &t.Duration, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get transcript: %w", err)
	}
	return out, nil
}

func (p *Postgres) GetStageConfig(ctx context.Context, courseID, stageID string) (StageConfig, error) {
	var sc StageConfig
	row := p.pool.QueryRow(ctx, `
		SELECT stage_id, course_id, objectives, key_themes, voice_id, agent_id, level, bot_prompt, course_body
		FROM stages
		WHERE course_id = $1 AND stage_id = $2`,
		courseID, stageID)
	err := row.Scan(&sc.StageID, &sc.CourseID, &sc.Objectives, &sc.KeyThemes,
		&sc.VoiceID, &sc.AgentID, &sc.Level, &sc.BotPrompt, &sc.CourseBody)
	if errors.Is(err, pgx.ErrNoRows) {
		return StageConfig{}, ErrStageNotFound
	}
	if err != nil {
		return StageConfig{}, fmt.Errorf("get stage config: %w", err)
	}
	return sc, nil
}

func (p *Postgres) SaveConversationScores(ctx context.Context, sessionID string, s ConversationScores) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO conversation_scores (
			session_id, filler_words, clarity, participation, key_themes,
			question_index, speech_rate, global_score, goal_accomplished,
			filler_words_feedback, clarity_feedback, participation_feedback,
			key_themes_feedback, question_index_feedback, speech_rate_feedback
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (session_id) DO UPDATE SET
			filler_words = EXCLUDED.filler_words,
			clarity = EXCLUDED.clarity,
			participation = EXCLUDED.participation,
			key_themes = EXCLUDED.key_themes,
			question_index = EXCLUDED.question_index,
			speech_rate = EXCLUDED.speech_rate,
			global_score = EXCLUDED.global_score,
			goal_accomplished = EXCLUDED.goal_accomplished,
			filler_words_feedback = EXCLUDED.filler_words_feedback,
			clarity_feedback = EXCLUDED.clarity_feedback,
			participation_feedback = EXCLUDED.participation_feedback,
			key_themes_feedback = EXCLUDED.key_themes_feedback,
			question_index_feedback = EXCLUDED.question_index_feedback,
			speech_rate_feedback = EXCLUDED.speech_rate_feedback`,
		sessionID, s.FillerWords, s.Clarity, s.Participation, s.KeyThemes,
		s.QuestionIndex, s.SpeechRate, s.Global, s.GoalAccomplished,
		s.Feedback.FillerWords, s.Feedback.Clarity, s.Feedback.Participation,
		s.Feedback.KeyThemes, s.Feedback.QuestionIndex, s.Feedback.SpeechRate)
	if err != nil {
		return fmt.Errorf("save conversation scores: %w", err)
	}
	return nil
}

func (p *Postgres) SaveConversationSkills(ctx context.Context, sessionID string, sk ConversationSkills) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO conversation_skills (
			session_id, prospection, empathy, technical_domain, negotiation, resilience,
			prospection_justification, empathy_justification, technical_domain_justification,
			negotiation_justification, resilience_justification
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_id) DO UPDATE SET
			prospection = EXCLUDED.prospection,
			empathy = EXCLUDED.empathy,
			technical_domain = EXCLUDED.technical_domain,
			negotiation = EXCLUDED.negotiation,
			resilience = EXCLUDED.resilience,
			prospection_justification = EXCLUDED.prospection_justification,
			empathy_justification = EXCLUDED.empathy_justification,
			technical_domain_justification = EXCLUDED.technical_domain_justification,
			negotiation_justification = EXCLUDED.negotiation_justification,
			resilience_justification = EXCLUDED.resilience_justification`,
		sessionID, sk.Prospection.Score, sk.Empathy.Score, sk.TechnicalDomain.Score,
		sk.Negotiation.Score, sk.Resilience.Score,
		sk.Prospection.Justification, sk.Empathy.Justification,
		sk.TechnicalDomain.Justification, sk.Negotiation.Justification,
		sk.Resilience.Justification)
	if err != nil {
		return fmt.Errorf("save conversation skills: %w", err)
	}
	return nil
}

func (p *Postgres) GetUserSkillVector(ctx context.Context, userID string) (SkillVector, error) {
	var v SkillVector
	row := p.pool.QueryRow(ctx, `
		SELECT
			COALESCE(AVG(k.prospection), 0),
			COALESCE(AVG(k.empathy), 0),
			COALESCE(AVG(k.technical_domain), 0),
			COALESCE(AVG(k.negotiation), 0),
			COALESCE(AVG(k.resilience), 0)
		FROM conversation_skills k
		JOIN sessions s ON s.id = k.session_id
		WHERE s.user_id = $1 AND s.status = $2`,
		userID, SessionFinished)
	if err := row.Scan(&v[0], &v[1], &v[2], &v[3], &v[4]); err != nil {
		return SkillVector{}, fmt.Errorf("get user skill vector: %w", err)
	}
	return v, nil
}

func (p *Postgres) SaveUserProfile(ctx context.Context, userID string, generalScore float64, profile string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO user_profiles (user_id, general_score, profile, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id) DO UPDATE SET
			general_score = EXCLUDED.general_score,
			profile = EXCLUDED.profile,
			updated_at = now()`,
		userID, generalScore, profile)
	if err != nil {
		return fmt.Errorf("save user profile: %w", err)
	}
	return nil
}

var _ Store = (*Postgres)(nil)
