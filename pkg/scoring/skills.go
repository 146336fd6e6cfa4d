package scoring

import (
	"context"
	"fmt"

	"github.com/ventia-ai/salesim/pkg/store"
)

// skillRubrics are the five 1-5 rubrics, in the fixed skill order used by
// the profile classifier.
var skillRubrics = []struct {
	name   string
	rubric string
}{
	{
		name: "prospección",
		rubric: `1: no explora la situación del cliente en absoluto.
2: hace alguna pregunta superficial sin profundizar.
3: identifica necesidades básicas del cliente.
4: explora necesidades y contexto con preguntas dirigidas.
5: descubre necesidades explícitas y latentes y las conecta con la oferta.`,
	},
	{
		name: "empatía",
		rubric: `1: ignora o atropella las emociones del cliente.
2: reconoce emociones solo de pasada.
3: valida las preocupaciones del cliente cuando aparecen.
4: adapta su discurso al estado emocional del cliente.
5: construye una conexión genuina y el cliente se siente escuchado.`,
	},
	{
		name: "dominio técnico",
		rubric: `1: comete errores de producto o no sabe responder.
2: conoce el producto de forma superficial.
3: responde correctamente a las dudas habituales.
4: explica el producto con precisión y lo adapta al caso del cliente.
5: domina producto, competencia y contexto, y lo demuestra con naturalidad.`,
	},
	{
		name: "negociación",
		rubric: `1: cede de inmediato o rompe la negociación.
2: maneja objeciones con respuestas genéricas.
3: responde objeciones con argumentos razonables.
4: convierte objeciones en oportunidades y defiende el valor.
5: dirige la negociación hacia un acuerdo beneficioso para ambas partes.`,
	},
	{
		name: "resiliencia",
		rubric: `1: se bloquea o abandona ante el primer rechazo.
2: acusa el golpe y pierde el hilo con los rechazos.
3: mantiene la compostura ante respuestas negativas.
4: se recupera con rapidez y reconduce la conversación.
5: usa cada rechazo para reposicionarse sin perder el control de la llamada.`,
	},
}

func gradeSkill(ctx context.Context, grader Grader, d Dialogue, name, rubric string) store.SkillScore {
	prompt := fmt.Sprintf(`Evalúa la habilidad de %s del vendedor en esta transcripción de una llamada de ventas, usando esta rúbrica del 1 al 5:
%s

Transcripción:
%s

%s Formato: {"score": <entero entre 1 y 5>, "justification": "<una o dos frases en español>"}`,
		name, rubric, d.Formatted(), jsonOnlyInstruction)

	var resp struct {
		Score         int    `json:"score"`
		Justification string `json:"justification"`
	}
	if err := grader.GradeJSON(ctx, prompt, &resp); err != nil {
		return store.SkillScore{Score: 0, Justification: llmFailureFeedback}
	}
	if resp.Score < 1 || resp.Score > 5 {
		return store.SkillScore{Score: 0, Justification: llmFailureFeedback}
	}
	return store.SkillScore{Score: resp.Score, Justification: resp.Justification}
}
