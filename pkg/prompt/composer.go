// Package prompt assembles the system prompt for the upstream
// conversational-AI agent from stage and course configuration.
package prompt

import (
	"context"
	"fmt"
	"strings"

	"github.com/ventia-ai/salesim/pkg/store"
)

// StageReader is the slice of the session store the composer needs.
type StageReader interface {
	GetStageConfig(ctx context.Context, courseID, stageID string) (store.StageConfig, error)
}

// Difficulty preambles keyed by the stage level descriptor. Unknown levels
// fall back to no preamble.
const (
	LevelBasic        = "basic"
	LevelIntermediate = "intermediate"
	LevelAdvanced     = "advanced"
	LevelNone         = "none"
)

var difficultyPreambles = map[string]string{
	LevelBasic: "Nivel básico: eres un cliente receptivo y paciente. Responde con " +
		"interés, haz pocas objeciones y dale al vendedor espacio para desarrollar su discurso.",
	LevelIntermediate: "Nivel intermedio: eres un cliente ocupado y algo escéptico. " +
		"Plantea objeciones razonables y pide detalles concretos antes de mostrar interés.",
	LevelAdvanced: "Nivel avanzado: eres un cliente exigente y difícil de convencer. " +
		"Cuestiona precios, compara con la competencia y solo cede ante argumentos sólidos.",
	LevelNone: "",
}

const baseTemplate = `Eres la contraparte de una simulación de entrenamiento de ventas. ` +
	`Actúa siempre como el cliente, nunca como el vendedor, y no salgas del personaje. ` +
	`Habla en español con frases naturales y breves, como en una llamada real.`

// Composer builds the agent system prompt for a stage.
type Composer struct {
	stages StageReader
}

func NewComposer(stages StageReader) *Composer {
	return &Composer{stages: stages}
}

// Compose returns the assembled system prompt together with the stage
// configuration it was built from. It fails with store.ErrStageNotFound when
// the stage record is absent.
func (c *Composer) Compose(ctx context.Context, courseID, stageID string) (string, store.StageConfig, error) {
	sc, err := c.stages.GetStageConfig(ctx, courseID, stageID)
	if err != nil {
		return "", store.StageConfig{}, err
	}

	var b strings.Builder
	b.WriteString(baseTemplate)

	if preamble := difficultyPreambles[normalizeLevel(sc.Level)]; preamble != "" {
		b.WriteString("\n\n")
		b.WriteString(preamble)
	}
	if strings.TrimSpace(sc.Objectives) != "" {
		fmt.Fprintf(&b, "\n\nObjetivo de la etapa para el vendedor: %s", strings.TrimSpace(sc.Objectives))
	}
	if len(sc.KeyThemes) > 0 {
		fmt.Fprintf(&b, "\nTemas clave de la etapa: %s.", strings.Join(sc.KeyThemes, ", "))
	}
	if strings.TrimSpace(sc.CourseBody) != "" {
		fmt.Fprintf(&b, "\n\nContexto del curso:\n%s", strings.TrimSpace(sc.CourseBody))
	}
	if strings.TrimSpace(sc.BotPrompt) != "" {
		fmt.Fprintf(&b, "\n\n%s", strings.TrimSpace(sc.BotPrompt))
	}

	return b.String(), sc, nil
}

func normalizeLevel(level string) string {
	level = strings.ToLower(strings.TrimSpace(level))
	switch level {
	case LevelBasic, LevelIntermediate, LevelAdvanced:
		return level
	default:
		return LevelNone
	}
}
