package scoring

import (
	"context"
	"errors"
	"testing"
)

func TestStripFences(t *testing.T) {
	cases := map[string]string{
		"{\"a\":1}":                          "{\"a\":1}",
		"```json\n{\"a\":1}\n```":            "{\"a\":1}",
		"```\n{\"a\":1}\n```":                "{\"a\":1}",
		"  ```json\n{\"a\": \"b\"}\n```  \n": "{\"a\": \"b\"}",
	}
	for in, want := range cases {
		if got := stripFences(in); got != want {
			t.Errorf("stripFences(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGradeJSONRetriesOnParseFailure(t *testing.T) {
	replies := []string{"not json", "still not json", `{"count": 3}`}
	calls := 0
	g := &GeminiGrader{
		generate: func(context.Context, string) (string, error) {
			reply := replies[calls]
			calls++
			return reply, nil
		},
	}
	g.logger = testLogger()

	var out struct {
		Count int `json:"count"`
	}
	if err := g.GradeJSON(context.Background(), "p", &out); err != nil {
		t.Fatalf("GradeJSON: %v", err)
	}
	if calls != 3 {
		t.Fatalf("generate calls = %d, want 3", calls)
	}
	if out.Count != 3 {
		t.Fatalf("count = %d, want 3", out.Count)
	}
}

func TestGradeJSONGivesUpAfterBoundedAttempts(t *testing.T) {
	calls := 0
	g := &GeminiGrader{
		generate: func(context.Context, string) (string, error) {
			calls++
			return "garbage", nil
		},
	}
	g.logger = testLogger()

	var out map[string]any
	if err := g.GradeJSON(context.Background(), "p", &out); err == nil {
		t.Fatal("GradeJSON accepted garbage")
	}
	if calls != maxParseAttempts {
		t.Fatalf("generate calls = %d, want %d", calls, maxParseAttempts)
	}
}

func TestGradeJSONDoesNotRetryTransportErrors(t *testing.T) {
	calls := 0
	g := &GeminiGrader{
		generate: func(context.Context, string) (string, error) {
			calls++
			return "", errors.New("connection reset")
		},
	}
	g.logger = testLogger()

	var out map[string]any
	if err := g.GradeJSON(context.Background(), "p", &out); err == nil {
		t.Fatal("GradeJSON swallowed a transport error")
	}
	if calls != 1 {
		t.Fatalf("generate calls = %d, want 1", calls)
	}
}

func TestGradeJSONStripsFencedReply(t *testing.T) {
	g := &GeminiGrader{
		generate: func(context.Context, string) (string, error) {
			return "```json\n{\"score\": 4, \"justification\": \"bien\"}\n```", nil
		},
	}
	g.logger = testLogger()

	var out struct {
		Score         int    `json:"score"`
		Justification string `json:"justification"`
	}
	if err := g.GradeJSON(context.Background(), "p", &out); err != nil {
		t.Fatalf("GradeJSON: %v", err)
	}
	if out.Score != 4 || out.Justification != "bien" {
		t.Fatalf("out = %+v", out)
	}
}
