package coherence

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Prateek-Gupta001/GuideMemory/types"
)

const stateInstructions = `Eres un analizador de conversaciones. Lee la conversación y describe su estado actual.

Devuelve SOLO un objeto JSON con esta forma:
{
  "currentTopic": "tema del que se habla ahora",
  "activeEntities": {"nombre": "qué es o qué se sabe de ello"},
  "implicitContext": ["lo que se da por sentado"],
  "conversationFlow": ["temas en el orden en que aparecieron"],
  "workingMemory": {"dato": "valor que sigue siendo relevante"},
  "lastReferences": ["entidades mencionadas en los últimos turnos"],
  "topicHistory": ["temas anteriores"],
  "emotionalFlow": ["cómo ha cambiado el ánimo del usuario"]
}

Incluye personas, mascotas, objetos y planes concretos en activeEntities. No inventes nada que no esté en la conversación.`

const referenceInstructions = `Resuelve las referencias del mensaje del usuario para que se entienda sin leer la conversación.

Tema actual: %s
Entidades activas: %s
Referencias recientes: %s

Conversación reciente:
%s

Sustituye pronombres ("los", "esos", "ella"), elipsis ("¿y los nombres?") y expresiones como "el que te conté" por las entidades concretas a las que se refieren. Si el mensaje ya es explícito, devuélvelo igual.

Ejemplo: si se habla de dos perros y el usuario escribe "¿cómo los puedo entrenar?", el mensaje resuelto es "¿cómo puedo entrenar a mis perros?".

Devuelve SOLO un objeto JSON:
{
  "resolvedText": "mensaje con las referencias resueltas",
  "referencedEntities": ["entidades a las que apunta el mensaje"]
}`

const implicitInstructions = `Enumera la información implícita que hace falta para entender del todo el mensaje del usuario.

Estado de la conversación:
%s

Conversación reciente:
%s

Busca lo que se da por sentado, contexto obvio que falta y conexiones no dichas con temas anteriores.

Devuelve SOLO un array JSON de strings, por ejemplo:
["El usuario se refiere a nombres para sus gatos", "Busca sugerencias concretas"]`

const completeInstructions = `Construye el contexto completo del turno para que el guía pueda responder sin pedir que se repita nada.

Mensaje original: %q
Mensaje resuelto: %q
Información implícita: %s
Estado de la conversación: %s

Describe qué se está hablando, la intención del usuario, su estado emocional y los siguientes pasos lógicos. Indica en needsMoreInfo si el mensaje sigue siendo ambiguo después de todo esto.

Devuelve SOLO un objeto JSON:
{
  "fullContext": "contexto completo en prosa",
  "inferences": ["inferencias adicionales"],
  "needsMoreInfo": false
}`

func transcript(msgs []types.Message) string {
	if len(msgs) == 0 {
		return "Sin conversación previa"
	}
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, strings.TrimSpace(m.Content)))
	}
	return strings.Join(lines, "\n")
}

func orNone(items []string) string {
	if len(items) == 0 {
		return "ninguna"
	}
	return strings.Join(items, ", ")
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
