package scoring

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/ventia-ai/salesim/pkg/store"
)

const jsonOnlyInstruction = "Responde únicamente con un objeto JSON válido, sin texto adicional ni marcas de formato."

// ScoreClarity asks the LLM to count unclear passages in the seller's turns
// and converts the count into a per-turn penalty ratio.
func ScoreClarity(ctx context.Context, grader Grader, d Dialogue) DimensionResult {
	if len(d.SellerTurns) == 0 {
		return DimensionResult{Score: 0, Feedback: "El vendedor no intervino en la conversación."}
	}

	prompt := fmt.Sprintf(`Analiza las intervenciones del vendedor en esta transcripción de una llamada de ventas.
Cuenta cuántas veces el vendedor es ambiguo, se desorganiza, deja frases sin terminar o se contradice.

Transcripción:
%s

%s Formato: {"count": <número entero>, "feedback": "<una o dos frases en español con tu valoración>"}`,
		d.Formatted(), jsonOnlyInstruction)

	var resp struct {
		Count    int    `json:"count"`
		Feedback string `json:"feedback"`
	}
	if err := grader.GradeJSON(ctx, prompt, &resp); err != nil {
		return llmFailureResult()
	}

	ratio := float64(resp.Count) / float64(len(d.SellerTurns))
	score := clampScore(int(math.Floor(100 * (1 - ratio))))
	return DimensionResult{Score: score, Feedback: resp.Feedback}
}

// participationPenalty maps the seller word share to a penalty. Both
// monopolizing and disappearing from the conversation are punished.
func participationPenalty(share float64) int {
	switch {
	case share < 0.1:
		return 100
	case share < 0.2:
		return 75
	case share < 0.3:
		return 25
	case share < 0.4:
		return 10
	case share <= 0.6:
		return 0
	case share <= 0.7:
		return 30
	case share <= 0.8:
		return 50
	case share <= 0.9:
		return 75
	default:
		return 100
	}
}

// ScoreParticipation combines the seller word share with an LLM count of
// genuine active-listening instances.
func ScoreParticipation(ctx context.Context, grader Grader, d Dialogue) DimensionResult {
	total := d.TotalWords()
	if total == 0 {
		return DimensionResult{Score: 0, Feedback: "La conversación no contiene palabras que evaluar."}
	}
	share := float64(d.SellerWords) / float64(total)
	penalty := participationPenalty(share)

	prompt := fmt.Sprintf(`En esta transcripción de una llamada de ventas, cuenta cuántas veces el vendedor practica escucha activa de verdad:
parafrasear lo que dijo el cliente o validar sus preocupaciones. Un simple "ajá" o "ok" no cuenta.

Transcripción:
%s

%s Formato: {"count": <número entero>, "feedback": "<una o dos frases en español con tu valoración>"}`,
		d.Formatted(), jsonOnlyInstruction)

	var resp struct {
		Count    int    `json:"count"`
		Feedback string `json:"feedback"`
	}
	if err := grader.GradeJSON(ctx, prompt, &resp); err != nil {
		return llmFailureResult()
	}

	bonus := 10 * resp.Count
	if bonus > 40 {
		bonus = 40
	}
	feedback := fmt.Sprintf("Hablaste el %.0f%% del tiempo. %s", 100*share, resp.Feedback)
	return DimensionResult{Score: clampScore(70 - penalty + bonus), Feedback: feedback}
}

// ScoreKeyThemes asks the LLM how many configured stage themes the seller
// covered substantively and whether concrete next steps were agreed.
func ScoreKeyThemes(ctx context.Context, grader Grader, d Dialogue, stage store.StageConfig) DimensionResult {
	if len(stage.KeyThemes) == 0 {
		return DimensionResult{Score: 100, Feedback: "La etapa no define temas clave que cubrir."}
	}

	prompt := fmt.Sprintf(`Evalúa esta transcripción de una llamada de ventas contra los temas clave de la etapa.
Temas clave: %s.
Un tema cuenta como tratado solo si el vendedor lo desarrolla de forma sustancial; mencionar una palabra suelta no basta.
Indica también si el vendedor estableció próximos pasos concretos con el cliente.

Transcripción:
%s

%s Formato: {"themes_missed": <número de temas NO tratados>, "next_steps": <true o false>, "feedback": "<una o dos frases en español>"}`,
		strings.Join(stage.KeyThemes, ", "), d.Formatted(), jsonOnlyInstruction)

	var resp struct {
		ThemesMissed int    `json:"themes_missed"`
		NextSteps    bool   `json:"next_steps"`
		Feedback     string `json:"feedback"`
	}
	if err := grader.GradeJSON(ctx, prompt, &resp); err != nil {
		return llmFailureResult()
	}

	penalty := 20 * resp.ThemesMissed
	bonus := 0
	if resp.NextSteps {
		bonus = 10
	}
	return DimensionResult{Score: clampScore(90 - penalty + bonus), Feedback: resp.Feedback}
}

// ScoreQuestions grades the seller's questioning technique: probing
// questions earn a bonus, closed-heavy or irrelevant questioning is
// penalized.
func ScoreQuestions(ctx context.Context, grader Grader, d Dialogue) DimensionResult {
	prompt := fmt.Sprintf(`Cuenta las preguntas que hace el vendedor en esta transcripción de una llamada de ventas y clasifícalas:
- cerradas: se responden con sí o no
- indagatorias: abiertas, exploran necesidades del cliente
- irrelevantes: no aportan a la venta

Transcripción:
%s

%s Formato: {"total": <entero>, "closed": <entero>, "probing": <entero>, "irrelevant": <entero>, "feedback": "<una o dos frases en español>"}`,
		d.Formatted(), jsonOnlyInstruction)

	var resp struct {
		Total      int    `json:"total"`
		Closed     int    `json:"closed"`
		Probing    int    `json:"probing"`
		Irrelevant int    `json:"irrelevant"`
		Feedback   string `json:"feedback"`
	}
	if err := grader.GradeJSON(ctx, prompt, &resp); err != nil {
		return llmFailureResult()
	}

	penalty := 0
	if resp.Total > 0 && float64(resp.Closed)/float64(resp.Total) > 0.6 {
		penalty += 15
	}
	penalty += 15 * resp.Irrelevant

	bonus := 10 * resp.Probing
	if bonus > 40 {
		bonus = 40
	}
	return DimensionResult{Score: clampScore(60 - penalty + bonus), Feedback: resp.Feedback}
}

// GoalResult is the outcome of the stage-objective check.
type GoalResult struct {
	Accomplished  bool
	Justification string
}

// ScoreGoal asks the LLM whether the seller verifiably executed the stage's
// primary objective during the call.
func ScoreGoal(ctx context.Context, grader Grader, d Dialogue, stage store.StageConfig) GoalResult {
	prompt := fmt.Sprintf(`Objetivo principal de la etapa para el vendedor: %s

¿El vendedor EJECUTÓ ese objetivo de forma verificable durante la llamada? Una promesa de hacerlo más tarde no cuenta.

Transcripción:
%s

%s Formato: {"accomplished": <true o false>, "justification": "<una o dos frases en español>"}`,
		strings.TrimSpace(stage.Objectives), d.Formatted(), jsonOnlyInstruction)

	var resp struct {
		Accomplished  bool   `json:"accomplished"`
		Justification string `json:"justification"`
	}
	if err := grader.GradeJSON(ctx, prompt, &resp); err != nil {
		return GoalResult{Accomplished: false, Justification: llmFailureFeedback}
	}
	return GoalResult{Accomplished: resp.Accomplished, Justification: resp.Justification}
}

const llmFailureFeedback = "Error during AI evaluation"

func llmFailureResult() DimensionResult {
	return DimensionResult{Score: 0, Feedback: llmFailureFeedback}
}
