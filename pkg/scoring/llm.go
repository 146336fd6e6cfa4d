// Package scoring evaluates finished simulation sessions: six conversation
// dimensions, a goal check, five rubric skills, and the user profile derived
// from them.
package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

const defaultModel = "gemini-2.5-flash"

// maxParseAttempts bounds re-asks when the model returns non-JSON. Parse
// failures are prompt-adherence noise, so there is no backoff between
// attempts.
const maxParseAttempts = 3

// Grader asks the LLM for a JSON object and unmarshals it into out.
type Grader interface {
	GradeJSON(ctx context.Context, prompt string, out any) error
}

// GeminiGrader grades with the Gemini API. generate is swappable so tests
// run without the network.
type GeminiGrader struct {
	logger   *slog.Logger
	model    string
	generate func(ctx context.Context, prompt string) (string, error)
}

func NewGeminiGrader(ctx context.Context, logger *slog.Logger, apiKey, model string) (*GeminiGrader, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(model) == "" {
		model = defaultModel
	}
	g := &GeminiGrader{logger: logger, model: model}
	g.generate = func(ctx context.Context, prompt string) (string, error) {
		resp, err := client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
			Temperature: genai.Ptr(float32(0.1)),
		})
		if err != nil {
			return "", err
		}
		return resp.Text(), nil
	}
	return g, nil
}

// GradeJSON sends the prompt and parses the reply into out, re-asking up to
// maxParseAttempts times when the reply is not valid JSON. Transport errors
// are not retried here.
func (g *GeminiGrader) GradeJSON(ctx context.Context, prompt string, out any) error {
	var lastErr error
	for attempt := 1; attempt <= maxParseAttempts; attempt++ {
		raw, err := g.generate(ctx, prompt)
		if err != nil {
			return fmt.Errorf("generate content: %w", err)
		}
		if err := json.Unmarshal([]byte(stripFences(raw)), out); err != nil {
			lastErr = err
			g.logger.Warn("llm returned unparseable json", "attempt", attempt, "error", err)
			continue
		}
		return nil
	}
	return fmt.Errorf("llm response never parsed after %d attempts: %w", maxParseAttempts, lastErr)
}

// stripFences removes a Markdown code fence around a JSON reply, with or
// without the json language tag.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
