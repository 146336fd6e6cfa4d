package scoring

import (
	"strings"
	"unicode"

	"github.com/ventia-ai/salesim/pkg/store"
)

// Dialogue is a transcript split by speaker with precomputed word counts.
type Dialogue struct {
	Turns       []store.Turn
	SellerTurns []store.Turn
	ClientTurns []store.Turn

	SellerWords int
	ClientWords int
}

func NewDialogue(turns []store.Turn) Dialogue {
	d := Dialogue{Turns: turns}
	for _, t := range turns {
		words := len(tokenize(t.Text))
		switch t.Speaker {
		case store.SpeakerUser:
			d.SellerTurns = append(d.SellerTurns, t)
			d.SellerWords += words
		case store.SpeakerAssistant:
			d.ClientTurns = append(d.ClientTurns, t)
			d.ClientWords += words
		}
	}
	return d
}

func (d Dialogue) TotalWords() int { return d.SellerWords + d.ClientWords }

// roleLabels renders the caller-facing roles in Spanish for LLM prompts.
var roleLabels = map[string]string{
	"seller": "Vendedor",
	"client": "Cliente",
}

// Formatted renders the transcript with role labels for LLM prompts.
func (d Dialogue) Formatted() string {
	var b strings.Builder
	for _, t := range d.Turns {
		label := roleLabels[t.Speaker.Role()]
		if label == "" {
			label = t.Speaker.Role()
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(t.Text))
		b.WriteString("\n")
	}
	return b.String()
}

// tokenize lowercases the text and splits it into words with surrounding
// punctuation stripped. Tokens that are pure punctuation are dropped.
func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		token := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
