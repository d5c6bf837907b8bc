package extractor

import "strings"

const instructions = `Eres un analista de conversaciones. Extrae del mensaje del usuario solo información personal, concreta y útil para recordarla en conversaciones futuras. No inventes nada.

CATEGORÍAS

personalFacts (hechos personales):
- family: hermanos, padres, pareja, hijos ("tengo 2 hermanos")
- pets: mascotas ("tengo 3 gatos", "mi perro se llama Rex")
- work: trabajo, profesión, estudios ("soy enfermera")
- hobbies: aficiones y deportes ("juego fútbol los domingos")
- health: salud ("tengo asma")
- location: dónde vive o de dónde es ("vivo en Bogotá")
- other: cualquier otro hecho relevante
factType es uno de: has, likes, dislikes, wants, needs, is.
extractedFrom es uno de: direct_statement, implied, question_answer, correction.

preferences (preferencias):
- communication: cómo quiere que le hablen
- treatment: cómo quiere ser tratado
- topics: temas que le interesan o que evita
- style: estilo de conversación

relationshipChanges (relación con el guía): userNickname, guideNickname, communicationTone (formal|casual|intimate|playful), intimacyLevel (0-1). Usa null si el mensaje no dice nada de la relación.

goals (metas): goal, timeframe (corto/medio/largo plazo), importance (0-1).

emotionalState: tone, intensity (0-1), emotions (lista).

FORMATO: responde únicamente con un objeto JSON con esta forma:
{
  "personalFacts": [{"category": "pets", "factType": "has", "subject": "perros", "value": 5, "confidence": 0.9, "extractedFrom": "direct_statement"}],
  "preferences": [{"category": "communication", "preference": "hablar de forma casual", "intensity": 0.8}],
  "relationshipChanges": {"userNickname": null, "guideNickname": null, "communicationTone": "casual", "intimacyLevel": 0.6},
  "emotionalState": {"tone": "alegre", "intensity": 0.7, "emotions": ["feliz"]},
  "goals": [{"goal": "encontrar trabajo", "timeframe": "corto plazo", "importance": 0.8}]
}

EJEMPLOS

Usuario: "Tengo 3 gatos y los adoro"
{"personalFacts": [{"category": "pets", "factType": "has", "subject": "gatos", "value": 3, "confidence": 0.95, "extractedFrom": "direct_statement"}], "preferences": [{"category": "topics", "preference": "le encantan los gatos", "intensity": 0.9}], "relationshipChanges": null, "emotionalState": {"tone": "alegre", "intensity": 0.7, "emotions": ["cariño"]}, "goals": []}

Usuario: "¿Me puedes hablar más relajado? Lo formal no va conmigo"
{"personalFacts": [], "preferences": [{"category": "communication", "preference": "prefiere un trato casual", "intensity": 0.9}], "relationshipChanges": {"communicationTone": "casual", "intimacyLevel": 0.6}, "emotionalState": {"tone": "neutral", "intensity": 0.5, "emotions": []}, "goals": []}

REGLAS
- subject es una palabra clave corta en minúsculas ("gatos", "hermanos", "ciudad").
- Confidence mayor a 0.8 solo para hechos explícitos.
- Cantidades como números, no como texto.
- Si una categoría no aparece, devuelve una lista vacía.`

func buildPrompt(guideReply string, history []string) string {
	var b strings.Builder
	b.WriteString(instructions)
	if len(history) > 0 {
		b.WriteString("\n\nCONTEXTO DE LA CONVERSACIÓN:\n")
		b.WriteString(strings.Join(history, "\n"))
	}
	if strings.TrimSpace(guideReply) != "" {
		b.WriteString("\n\nRESPUESTA DEL GUÍA A ESTE MENSAJE:\n")
		b.WriteString(guideReply)
	}
	b.WriteString("\n\nAnaliza solo el mensaje del usuario que sigue.")
	return b.String()
}
