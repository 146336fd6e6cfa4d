package scoring

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/ventia-ai/salesim/pkg/store"
)

// Dimension weights. The goal check dominates: executing the stage objective
// is half the global score.
const (
	weightFillerWords   = 0.075
	weightClarity       = 0.075
	weightParticipation = 0.10
	weightKeyThemes     = 0.10
	weightQuestions     = 0.075
	weightSpeechRate    = 0.075
	weightGoal          = 0.50
)

// minScorableWords is the floor under which a transcript is too short for a
// meaningful evaluation. Below it no LLM call is made.
const minScorableWords = 100

const insufficientWordsFeedback = "La conversación es demasiado corta para una evaluación fiable."

// Pipeline runs the full post-call evaluation for a session. It is
// best-effort throughout: per-dimension failures default to zero scores and
// persistence failures are logged without aborting the remaining stages.
type Pipeline struct {
	logger *slog.Logger
	store  store.Store
	grader Grader
}

func NewPipeline(logger *slog.Logger, st store.Store, grader Grader) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{logger: logger, store: st, grader: grader}
}

// Score evaluates one finished session: the six conversation dimensions and
// the goal check, then the five rubric skills, then the user profile. It
// returns an error only when the transcript cannot be read.
func (p *Pipeline) Score(ctx context.Context, session store.Session, stage store.StageConfig) error {
	logger := p.logger.With("session_id", session.ID, "user_id", session.UserID)

	turns, err := p.store.GetTranscript(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}
	if len(turns) == 0 {
		logger.Info("no messages found, skipping scoring")
		return nil
	}

	d := NewDialogue(turns)
	if d.TotalWords() < minScorableWords {
		logger.Info("transcript below scoring floor", "words", d.TotalWords())
		if err := p.store.SaveConversationScores(ctx, session.ID, shortTranscriptScores()); err != nil {
			logger.Error("persisting scores failed", "error", err)
		}
		return nil
	}

	scores := p.scoreDimensions(ctx, d, stage)
	logger.Info("dimension scoring complete", "global", scores.Global, "goal", scores.GoalAccomplished)
	if err := p.store.SaveConversationScores(ctx, session.ID, scores); err != nil {
		logger.Error("persisting scores failed", "error", err)
	}

	skills := p.scoreSkills(ctx, d)
	if err := p.store.SaveConversationSkills(ctx, session.ID, skills); err != nil {
		logger.Error("persisting skills failed", "error", err)
	}

	if err := p.updateProfile(ctx, session.UserID); err != nil {
		logger.Error("updating user profile failed", "error", err)
	}
	return nil
}

// scoreDimensions fans the seven workers out. They share no state, so they
// join without error propagation; each worker defaults on its own failures.
func (p *Pipeline) scoreDimensions(ctx context.Context, d Dialogue, stage store.StageConfig) store.ConversationScores {
	var (
		filler        DimensionResult
		clarity       DimensionResult
		participation DimensionResult
		themes        DimensionResult
		questions     DimensionResult
		speechRate    DimensionResult
		goal          GoalResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { filler = ScoreFillerWords(d); return nil })
	g.Go(func() error { speechRate = ScoreSpeechRate(d); return nil })
	g.Go(func() error { clarity = ScoreClarity(gctx, p.grader, d); return nil })
	g.Go(func() error { participation = ScoreParticipation(gctx, p.grader, d); return nil })
	g.Go(func() error { themes = ScoreKeyThemes(gctx, p.grader, d, stage); return nil })
	g.Go(func() error { questions = ScoreQuestions(gctx, p.grader, d); return nil })
	g.Go(func() error { goal = ScoreGoal(gctx, p.grader, d, stage); return nil })
	_ = g.Wait()

	goalScore := 0.0
	if goal.Accomplished {
		goalScore = 100
	}
	global := weightFillerWords*float64(filler.Score) +
		weightClarity*float64(clarity.Score) +
		weightParticipation*float64(participation.Score) +
		weightKeyThemes*float64(themes.Score) +
		weightQuestions*float64(questions.Score) +
		weightSpeechRate*float64(speechRate.Score) +
		weightGoal*goalScore

	return store.ConversationScores{
		FillerWords:      filler.Score,
		Clarity:          clarity.Score,
		Participation:    participation.Score,
		KeyThemes:        themes.Score,
		QuestionIndex:    questions.Score,
		SpeechRate:       speechRate.Score,
		Global:           global,
		GoalAccomplished: goal.Accomplished,
		Feedback: store.DimensionFeedback{
			FillerWords:   filler.Feedback,
			Clarity:       clarity.Feedback,
			Participation: participation.Feedback,
			KeyThemes:     themes.Feedback,
			QuestionIndex: questions.Feedback,
			SpeechRate:    speechRate.Feedback,
		},
	}
}

func (p *Pipeline) scoreSkills(ctx context.Context, d Dialogue) store.ConversationSkills {
	results := make([]store.SkillScore, len(skillRubrics))

	g, gctx := errgroup.WithContext(ctx)
	for i, def := range skillRubrics {
		g.Go(func() error {
			results[i] = gradeSkill(gctx, p.grader, d, def.name, def.rubric)
			return nil
		})
	}
	_ = g.Wait()

	return store.ConversationSkills{
		Prospection:     results[0],
		Empathy:         results[1],
		TechnicalDomain: results[2],
		Negotiation:     results[3],
		Resilience:      results[4],
	}
}

func (p *Pipeline) updateProfile(ctx context.Context, userID string) error {
	vector, err := p.store.GetUserSkillVector(ctx, userID)
	if err != nil {
		return fmt.Errorf("read skill vector: %w", err)
	}
	label, general := ClassifyProfile(vector)
	if err := p.store.SaveUserProfile(ctx, userID, general, label); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

func shortTranscriptScores() store.ConversationScores {
	return store.ConversationScores{
		Feedback: store.DimensionFeedback{
			FillerWords:   insufficientWordsFeedback,
			Clarity:       insufficientWordsFeedback,
			Participation: insufficientWordsFeedback,
			KeyThemes:     insufficientWordsFeedback,
			QuestionIndex: insufficientWordsFeedback,
			SpeechRate:    insufficientWordsFeedback,
		},
	}
}
