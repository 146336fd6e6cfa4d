package scoring

import (
	"strings"
	"testing"

	"github.com/ventia-ai/salesim/pkg/store"
)

func sellerTurn(text string, duration *float64) store.Turn {
	return store.Turn{Speaker: store.SpeakerUser, Text: text, Duration: duration}
}

func clientTurn(text string) store.Turn {
	return store.Turn{Speaker: store.SpeakerAssistant, Text: text}
}

func TestScoreFillerWordsCountsOnlyFillers(t *testing.T) {
	d := NewDialogue([]store.Turn{
		sellerTurn("eh eh eh okay eh", nil),
	})
	got := ScoreFillerWords(d)
	if got.Score != 80 {
		t.Fatalf("score = %d, want 80", got.Score)
	}
	if !strings.Contains(got.Feedback, `"eh"`) {
		t.Fatalf("feedback %q does not name the top filler", got.Feedback)
	}
	if strings.Contains(got.Feedback, "okay") {
		t.Fatalf("feedback %q counts okay as a filler", got.Feedback)
	}
}

func TestScoreFillerWordsIgnoresClientTurns(t *testing.T) {
	d := NewDialogue([]store.Turn{
		sellerTurn("buenos días, le presento nuestra oferta", nil),
		clientTurn("eh eh eh pues no sé"),
	})
	got := ScoreFillerWords(d)
	if got.Score != 100 {
		t.Fatalf("score = %d, want 100", got.Score)
	}
}

func TestScoreFillerWordsClampsAtZero(t *testing.T) {
	d := NewDialogue([]store.Turn{
		sellerTurn(strings.Repeat("eh ", 30), nil),
	})
	got := ScoreFillerWords(d)
	if got.Score != 0 {
		t.Fatalf("score = %d, want 0", got.Score)
	}
}

func TestScoreFillerWordsMarksConstantRepetition(t *testing.T) {
	d := NewDialogue([]store.Turn{
		sellerTurn("eh eh eh eh eh eh pues vale", nil),
	})
	got := ScoreFillerWords(d)
	if !strings.Contains(got.Feedback, "constante") {
		t.Fatalf("feedback %q does not flag constant repetition", got.Feedback)
	}
}

func TestScoreFillerWordsStripsPunctuation(t *testing.T) {
	d := NewDialogue([]store.Turn{
		sellerTurn("Eh, este... le decía que sí.", nil),
	})
	got := ScoreFillerWords(d)
	if got.Score != 90 {
		t.Fatalf("score = %d, want 90 for two fillers", got.Score)
	}
}
