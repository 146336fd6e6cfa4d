package scoring

import (
	"fmt"
	"math"
)

// ScoreSpeechRate rates the seller's words-per-minute against the 130-150
// ideal band. Turns without a recorded duration contribute no per-turn rate.
func ScoreSpeechRate(d Dialogue) DimensionResult {
	var totalWords int
	var totalSeconds float64
	var perTurn []float64
	for _, turn := range d.SellerTurns {
		words := len(tokenize(turn.Text))
		if turn.Duration == nil || *turn.Duration <= 0 {
			continue
		}
		totalWords += words
		totalSeconds += *turn.Duration
		perTurn = append(perTurn, float64(words)/(*turn.Duration/60))
	}

	if totalSeconds == 0 {
		return DimensionResult{Score: 0, Feedback: "No hay duraciones de intervención registradas para medir tu ritmo de habla."}
	}

	mean := float64(totalWords) / (totalSeconds / 60)
	penalty := ppmPenalty(mean)

	unstable := false
	if stddev(perTurn) > 30 {
		penalty += 15
		unstable = true
	}

	feedback := fmt.Sprintf("Tu ritmo medio fue de %.0f palabras por minuto; el rango ideal es 130-150.", mean)
	if unstable {
		feedback += " Además tu ritmo varía mucho entre intervenciones; busca una cadencia más estable."
	}
	return DimensionResult{Score: clampScore(100 - penalty), Feedback: feedback}
}

func ppmPenalty(mean float64) int {
	switch {
	case mean < 100 || mean > 180:
		return 100
	case mean < 120 || mean > 160:
		return 60
	case mean < 130 || mean > 150:
		return 30
	default:
		return 0
	}
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(len(values)))
}
