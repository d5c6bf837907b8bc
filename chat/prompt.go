package chat

import (
	"fmt"
	"strings"

	"github.com/Prateek-Gupta001/GuideMemory/types"
)

func guidePersona(g *types.Guide) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Tu identidad como %s\n\n", g.Name)
	fmt.Fprintf(&b, "Forma física: %s\n", g.PhysicalForm)
	fmt.Fprintf(&b, "Rasgos distintivos: %s\n", g.DistinctiveTraits)
	fmt.Fprintf(&b, "Personalidad: %s\n", g.Personality)
	fmt.Fprintf(&b, "Hábitat: %s\n", g.Habitat)
	fmt.Fprintf(&b, "Conexión con el usuario: %s\n", g.ConnectionWithUser)
	if len(g.SurveyAnswers) > 0 {
		b.WriteString("\nRespuestas del usuario en la encuesta original:\n")
		for i, a := range g.SurveyAnswers {
			fmt.Fprintf(&b, "%d. %s\n", i+1, a)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func systemPrompt(g *types.Guide, userName string, ac types.AssembledContext) string {
	sections := []string{
		fmt.Sprintf("Eres %s, un guía espiritual único creado para %s.", g.Name, userName),
		guidePersona(g),
		fmt.Sprintf(`## Tu forma de comunicarte
- Hablas en primera persona como %s.
- Mantienes tu personalidad (%s), tu forma física y tus rasgos.
- Tu vínculo con %s: %s
- Respondes con empatía y sabiduría, atento a su estado emocional.`, g.Name, g.Personality, userName, g.ConnectionWithUser),
	}
	if ac.PersonalFacts != "" {
		sections = append(sections, ac.PersonalFacts+"\n\nUsa esta información personal. Si el usuario pregunta por algo que aparece aquí, responde con el dato exacto.")
	}
	if ac.Preferences != "" {
		sections = append(sections, ac.Preferences+"\n\nAdapta tu estilo a estas preferencias.")
	}
	if ac.Relationship != "" {
		sections = append(sections, ac.Relationship+"\n\nAjusta tu tono y cercanía a esta relación.")
	}
	if ac.RelevantMemories != "" {
		sections = append(sections, ac.RelevantMemories)
	}
	if ac.ConversationalCoherence != "" {
		sections = append(sections, ac.ConversationalCoherence)
	}
	if ac.IsPersonalQuestion {
		sections = append(sections, "## Pregunta personal\nEl usuario pregunta por información que deberías recordar. Revisa los datos personales de arriba y responde con precisión.")
	}
	if ac.HasFullCoherence {
		sections = append(sections, "Tienes todo el contexto necesario: no hay referencias sin resolver.")
	} else {
		sections = append(sections, "Puede faltar información; responde con naturalidad con lo que tienes y pregunta solo si es imprescindible.")
	}
	sections = append(sections, fmt.Sprintf(`## Instrucciones
1. Responde siempre desde tu personalidad como %s.
2. Usa activamente lo que sabes de %s y nunca pidas que repita algo que ya te contó.
3. Las referencias como "los" o "eso" ya están resueltas en el contexto; úsalas.
4. Mantén el hilo de la conversación y adapta el tono a su estado emocional.
5. Usa metáforas que conecten con tu naturaleza y tu hábitat.
6. Responde en español, con 200 a 300 palabras, como una conversación natural.`, g.Name, userName))
	return strings.Join(sections, "\n\n")
}

// contextualPrompt renders the last turns followed by the current message.
// The current message is dropped from history when it was already recorded.
func contextualPrompt(recent []types.Message, current string) string {
	if n := len(recent); n > 0 && recent[n-1].Role == types.RoleUser && strings.TrimSpace(recent[n-1].Content) == strings.TrimSpace(current) {
		recent = recent[:n-1]
	}
	if len(recent) > historyTurns {
		recent = recent[len(recent)-historyTurns:]
	}
	var b strings.Builder
	if len(recent) > 0 {
		b.WriteString("## Historial reciente de nuestra conversación\n")
		for _, m := range recent {
			who := "Tú"
			if m.Role == types.RoleUser {
				who = "Usuario"
			}
			fmt.Fprintf(&b, "%s: %s\n", who, m.Content)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "## Mensaje actual del usuario\n%s\n\n", current)
	b.WriteString("Responde como el guía espiritual que eres, usando lo que sabes del usuario.")
	return b.String()
}
