package scoring

import (
	"fmt"
	"sort"
	"strings"
)

// DimensionResult is one conversation dimension's score in [0,100] with its
// feedback text.
type DimensionResult struct {
	Score    int
	Feedback string
}

// fillerVocabulary holds the Spanish discourse fillers counted against the
// seller. Ordinary agreement words like "okay" are deliberately absent.
var fillerVocabulary = map[string]bool{
	"eh":      true,
	"em":      true,
	"mm":      true,
	"mmm":     true,
	"este":    true,
	"osea":    true,
	"pues":    true,
	"digamos": true,
}

const fillerPenaltyPerWord = 5

// ScoreFillerWords counts filler tokens over seller turns only and applies a
// flat per-occurrence penalty.
func ScoreFillerWords(d Dialogue) DimensionResult {
	counts := make(map[string]int)
	total := 0
	for _, turn := range d.SellerTurns {
		for _, token := range tokenize(turn.Text) {
			if fillerVocabulary[token] {
				counts[token]++
				total++
			}
		}
	}

	score := clampScore(100 - fillerPenaltyPerWord*total)
	if total == 0 {
		return DimensionResult{Score: score, Feedback: "No se detectaron muletillas en el discurso del vendedor."}
	}

	type fillerCount struct {
		word  string
		count int
	}
	ranked := make([]fillerCount, 0, len(counts))
	for w, c := range counts {
		ranked = append(ranked, fillerCount{w, c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].word < ranked[j].word
	})

	top := make([]string, 0, 2)
	for i := 0; i < len(ranked) && i < 2; i++ {
		top = append(top, fmt.Sprintf("%q (%d)", ranked[i].word, ranked[i].count))
	}

	share := 0.0
	if d.SellerWords > 0 {
		share = 100 * float64(total) / float64(d.SellerWords)
	}
	feedback := fmt.Sprintf("Se detectaron %d muletillas, el %.1f%% de tus palabras. Las más frecuentes: %s.",
		total, share, strings.Join(top, ", "))

	// Mark constant repetition when a single filler dominates.
	if ranked[0].count > 5 && float64(ranked[0].count) > 0.7*float64(total) {
		feedback += fmt.Sprintf(" Repites %q de forma constante; intenta sustituirla por pausas.", ranked[0].word)
	}
	return DimensionResult{Score: score, Feedback: feedback}
}
