package coherence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Prateek-Gupta001/GuideMemory/llm"
	"github.com/Prateek-Gupta001/GuideMemory/types"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	markState     = "Eres un analizador de conversaciones"
	markReference = "Resuelve las referencias"
	markImplicit  = "Enumera la información implícita"
	markComplete  = "Construye el contexto completo"
)

type call struct {
	system string
	user   string
	temp   float32
}

// scriptedLLM answers by the instruction marker found in the system prompt.
type scriptedLLM struct {
	mu      sync.Mutex
	answers map[string]string
	errs    map[string]error
	delays  map[string]time.Duration
	calls   map[string]call
}

func newScripted() *scriptedLLM {
	return &scriptedLLM{
		answers: map[string]string{},
		errs:    map[string]error{},
		delays:  map[string]time.Duration{},
		calls:   map[string]call{},
	}
}

func (s *scriptedLLM) Complete(ctx context.Context, msgs []types.Message, temperature float32) (string, error) {
	system, user := msgs[0].Content, msgs[len(msgs)-1].Content
	for _, mark := range []string{markState, markReference, markImplicit, markComplete} {
		if !strings.Contains(system, mark) {
			continue
		}
		s.mu.Lock()
		s.calls[mark] = call{system: system, user: user, temp: temperature}
		answer, err, delay := s.answers[mark], s.errs[mark], s.delays[mark]
		s.mu.Unlock()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		return answer, err
	}
	return "", fmt.Errorf("unexpected prompt")
}

func (s *scriptedLLM) called(mark string) (call, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[mark]
	return c, ok
}

func dogsConversation() []types.Message {
	return []types.Message{
		{Role: types.RoleUser, Content: "Tengo 2 perros llamados Rex y Luna"},
		{Role: types.RoleAssistant, Content: "¡Qué alegría! Rex y Luna deben llenar tu casa de energía."},
	}
}

func TestResolveDogsScenario(t *testing.T) {
	l := newScripted()
	l.answers[markState] = `{"currentTopic": "perros del usuario", "activeEntities": {"Rex": "perro", "Luna": "perra"}, "lastReferences": ["Rex", "Luna"], "emotionalFlow": ["alegría"]}`
	l.answers[markReference] = "Claro:\n```json\n{\"resolvedText\": \"¿cómo puedo entrenar a mis perros Rex y Luna?\", \"referencedEntities\": [\"perros\", \"Rex\", \" \", \"Luna\"]}\n```"
	l.answers[markImplicit] = `{"implicit": ["Los perros son Rex y Luna", ""]}`
	l.answers[markComplete] = `{"fullContext": "El usuario quiere entrenar a sus dos perros", "inferences": ["Busca consejos prácticos"], "needsMoreInfo": false}`

	e := New(l, time.Second)
	rc := e.Resolve(t.Context(), "¿cómo los puedo entrenar?", dogsConversation())

	assert.Contains(t, rc.ResolvedMessage, "perros")
	assert.Equal(t, "¿cómo los puedo entrenar?", rc.OriginalMessage)
	assert.Equal(t, []string{"perros", "Rex", "Luna"}, rc.ActiveReferences)
	assert.Equal(t, []string{"Los perros son Rex y Luna"}, rc.ImplicitInformation)
	assert.Equal(t, []string{"Busca consejos prácticos"}, rc.ContextualInferences)
	assert.Equal(t, "El usuario quiere entrenar a sus dos perros", rc.FullContext)
	assert.Equal(t, "perros del usuario", rc.ConversationState.CurrentTopic)
	assert.Equal(t, "perro", rc.ConversationState.ActiveEntities["Rex"])
	assert.False(t, rc.NeedsExplicitInfo)

	ref, ok := l.called(markReference)
	require.True(t, ok)
	assert.Contains(t, ref.system, "Tengo 2 perros llamados Rex y Luna")
	assert.Contains(t, ref.system, "perros del usuario")
	for _, mark := range []string{markState, markReference, markImplicit, markComplete} {
		c, ok := l.called(mark)
		require.True(t, ok, mark)
		assert.Equal(t, Temperature, c.temp)
	}
}

func TestResolveAllStagesFailing(t *testing.T) {
	l := newScripted()
	boom := errors.New("quota exceeded")
	for _, mark := range []string{markState, markReference, markImplicit, markComplete} {
		l.errs[mark] = boom
	}
	e := New(l, time.Second)
	msg := "¿y ahora qué hago?"
	rc := e.Resolve(t.Context(), msg, dogsConversation())

	assert.Equal(t, msg, rc.ResolvedMessage)
	assert.Equal(t, msg, rc.FullContext)
	assert.Equal(t, DefaultTopic, rc.ConversationState.CurrentTopic)
	assert.Empty(t, rc.ActiveReferences)
	assert.Empty(t, rc.ImplicitInformation)
	assert.Empty(t, rc.ContextualInferences)
	assert.False(t, rc.NeedsExplicitInfo)
}

func TestResolveUnparsableOutputs(t *testing.T) {
	l := newScripted()
	l.answers[markState] = "el tema son los perros"
	l.answers[markReference] = `{"resolvedText": 42}`
	l.answers[markImplicit] = `{"note": "nada"}`
	l.answers[markComplete] = "{not json"
	e := New(l, time.Second)
	msg := "¿cómo los puedo entrenar?"
	rc := e.Resolve(t.Context(), msg, dogsConversation())

	assert.Equal(t, DefaultState(), rc.ConversationState)
	assert.Equal(t, msg, rc.ResolvedMessage)
	assert.Equal(t, []string{}, rc.ImplicitInformation)
	assert.Equal(t, msg, rc.FullContext)
}

func TestResolveWithoutHistorySkipsStateAnalysis(t *testing.T) {
	l := newScripted()
	l.answers[markReference] = `{"resolvedText": "hola guía", "referencedEntities": []}`
	e := New(l, time.Second)
	rc := e.Resolve(t.Context(), "hola", []types.Message{{Role: types.RoleUser, Content: "   "}})

	_, ok := l.called(markState)
	assert.False(t, ok)
	assert.Equal(t, DefaultTopic, rc.ConversationState.CurrentTopic)
	assert.Equal(t, "hola guía", rc.ResolvedMessage)
	ref, _ := l.called(markReference)
	assert.Contains(t, ref.system, "Sin conversación previa")
}

func TestResolveEmptyMessage(t *testing.T) {
	l := newScripted()
	e := New(l, time.Second)
	rc := e.Resolve(t.Context(), "  ", dogsConversation())
	assert.Equal(t, "  ", rc.ResolvedMessage)
	assert.Empty(t, l.calls)
}

func TestResolveStageTimeout(t *testing.T) {
	l := newScripted()
	l.delays[markState] = time.Second
	l.answers[markState] = `{"currentTopic": "nunca llega"}`
	l.answers[markReference] = `{"resolvedText": "¿cómo puedo entrenar a mis perros?"}`
	e := New(l, 20*time.Millisecond)

	start := time.Now()
	rc := e.Resolve(t.Context(), "¿cómo los entreno?", dogsConversation())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, DefaultTopic, rc.ConversationState.CurrentTopic)
	assert.Equal(t, "¿cómo puedo entrenar a mis perros?", rc.ResolvedMessage)
}

func TestStageTimeoutsKeepBreakerClosed(t *testing.T) {
	l := newScripted()
	for _, mark := range []string{markState, markReference, markImplicit, markComplete} {
		l.delays[mark] = 50 * time.Millisecond
	}
	l.answers[markState] = `{"currentTopic": "perros"}`
	b := llm.NewBreakerLLM("llm", l, 5, 30*time.Second)
	e := New(b, 10*time.Millisecond)

	for range 2 {
		rc := e.Resolve(t.Context(), "¿cómo los entreno?", dogsConversation())
		assert.Equal(t, "¿cómo los entreno?", rc.ResolvedMessage)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())

	out, err := b.Complete(context.Background(), []types.Message{
		{Role: types.RoleSystem, Content: markState},
		{Role: types.RoleUser, Content: "hola"},
	}, 0.8)
	require.NoError(t, err)
	assert.Contains(t, out, "perros")
}

func TestResolveWindows(t *testing.T) {
	var recent []types.Message
	for i := 1; i <= 12; i++ {
		recent = append(recent, types.Message{Role: types.RoleUser, Content: fmt.Sprintf("m%02d", i)})
	}
	l := newScripted()
	e := New(l, time.Second)
	e.Resolve(t.Context(), "¿y?", recent)

	state, ok := l.called(markState)
	require.True(t, ok)
	assert.NotContains(t, state.user, "m02")
	assert.Contains(t, state.user, "m03")
	assert.Contains(t, state.user, "m12")

	ref, ok := l.called(markReference)
	require.True(t, ok)
	assert.NotContains(t, ref.system, "m07")
	assert.Contains(t, ref.system, "m08")
}

func TestFormat(t *testing.T) {
	rc := Unresolved("¿cómo los entreno?")
	rc.ResolvedMessage = "¿cómo entreno a mis perros?"
	rc.ActiveReferences = []string{"perros"}
	rc.ConversationState.CurrentTopic = "perros"
	rc.ConversationState.ActiveEntities = map[string]string{"Rex": "perro", "Luna": "perra"}

	mems := func(prefix string, n int) []types.MemorySearchResult {
		var out []types.MemorySearchResult
		for i := 0; i < n; i++ {
			out = append(out, types.MemorySearchResult{Record: types.MemoryRecord{Content: fmt.Sprintf("%s-%d", prefix, i)}})
		}
		return out
	}
	got := Format(rc, mems("entity", 7), mems("topic", 4))

	assert.Contains(t, got, "Mensaje resuelto: ¿cómo entreno a mis perros?")
	assert.Contains(t, got, "Referencias activas: perros")
	assert.Contains(t, got, "Entidades activas: Luna, Rex")
	assert.Contains(t, got, "Flujo emocional: neutral")
	assert.Contains(t, got, "entity-4")
	assert.NotContains(t, got, "entity-5")
	assert.Contains(t, got, "topic-2")
	assert.NotContains(t, got, "topic-3")
	assert.NotContains(t, got, "Información implícita")

	bare := Format(Unresolved("hola"), nil, nil)
	assert.NotContains(t, bare, "Información específica relevante")
	assert.NotContains(t, bare, "Memoria del tema actual")
}
