// Package coherence resolves a new utterance against the recent turns of a
// conversation.
//
// Resolve runs four stages: analyze the conversation state, resolve
// references, infer implicit information, and complete the context. Every
// stage has a degraded output it falls back to on provider errors, timeouts
// or unparsable answers, so Resolve itself never fails.
package coherence

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Prateek-Gupta001/GuideMemory/llm"
	"github.com/Prateek-Gupta001/GuideMemory/parse"
	"github.com/Prateek-Gupta001/GuideMemory/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTopic is the topic of a conversation nothing is known about.
	DefaultTopic = "general conversation"

	DefaultStageTimeout = 8 * time.Second

	Temperature float32 = 0.1

	stateWindow     = 10
	referenceWindow = 5
)

const (
	stageState     = "analyze_state"
	stageReference = "resolve_references"
	stageImplicit  = "infer_implicit"
	stageComplete  = "complete"
)

var Tracer = otel.Tracer("GuideMemory/coherence")

type Engine struct {
	LLM          llm.LLM
	StageTimeout time.Duration
	fallbacks    metric.Int64Counter
}

func New(l llm.LLM, stageTimeout time.Duration) *Engine {
	if stageTimeout <= 0 {
		stageTimeout = DefaultStageTimeout
	}
	counter, err := otel.Meter("GuideMemory/coherence").Int64Counter("coherence.stage.fallback",
		metric.WithDescription("coherence stages that fell back to their default output"))
	if err != nil {
		slog.Error("Got this error while creating the fallback counter", "error", err)
	}
	return &Engine{LLM: l, StageTimeout: stageTimeout, fallbacks: counter}
}

// DefaultState is the state of an empty or unreadable conversation.
func DefaultState() types.ConversationState {
	return types.ConversationState{
		CurrentTopic:     DefaultTopic,
		ActiveEntities:   map[string]string{},
		ImplicitContext:  []string{},
		ConversationFlow: []string{},
		WorkingMemory:    map[string]string{},
		LastReferences:   []string{},
		TopicHistory:     []string{},
		EmotionalFlow:    []string{},
	}
}

// Unresolved is the no-op resolution of userMessage.
func Unresolved(userMessage string) types.ResolvedContext {
	return types.ResolvedContext{
		OriginalMessage:      userMessage,
		ResolvedMessage:      userMessage,
		FullContext:          userMessage,
		ImplicitInformation:  []string{},
		ActiveReferences:     []string{},
		ContextualInferences: []string{},
		ConversationState:    DefaultState(),
	}
}

// Resolve rewrites userMessage into an explicit form given the recent turns,
// oldest first.
func (e *Engine) Resolve(ctx context.Context, userMessage string, recent []types.Message) types.ResolvedContext {
	ctx, span := Tracer.Start(ctx, "Resolve Context")
	defer span.End()

	if strings.TrimSpace(userMessage) == "" {
		return Unresolved(userMessage)
	}
	valid := validMessages(recent)
	state := e.analyzeState(ctx, lastN(valid, stateWindow))
	window := lastN(valid, referenceWindow)

	var (
		resolved string
		entities []string
		implicit []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		resolved, entities = e.resolveReferences(gctx, userMessage, window, state)
		return nil
	})
	g.Go(func() error {
		implicit = e.inferImplicit(gctx, userMessage, window, state)
		return nil
	})
	g.Wait()

	full, inferences, needsMore := e.complete(ctx, userMessage, resolved, implicit, state)
	span.SetAttributes(
		attribute.String("topic", state.CurrentTopic),
		attribute.Int("references", len(entities)),
		attribute.Bool("needsMoreInfo", needsMore),
	)
	return types.ResolvedContext{
		OriginalMessage:      userMessage,
		ResolvedMessage:      resolved,
		FullContext:          full,
		ImplicitInformation:  implicit,
		ActiveReferences:     entities,
		ContextualInferences: inferences,
		ConversationState:    state,
		NeedsExplicitInfo:    needsMore,
	}
}

// ask runs one stage call under the stage timeout. ok is false when the
// stage has to fall back.
func (e *Engine) ask(ctx context.Context, stage, system, user string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, e.StageTimeout)
	defer cancel()
	out, err := e.LLM.Complete(ctx, []types.Message{
		{Role: types.RoleSystem, Content: system},
		{Role: types.RoleUser, Content: user},
	}, Temperature)
	if err != nil {
		e.fallback(ctx, stage, err)
		return "", false
	}
	if strings.TrimSpace(out) == "" {
		e.fallback(ctx, stage, fmt.Errorf("empty answer"))
		return "", false
	}
	return out, true
}

func (e *Engine) fallback(ctx context.Context, stage string, err error) {
	if e.fallbacks != nil {
		e.fallbacks.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attribute.String("stage", stage)))
	}
	slog.Warn("Coherence stage fell back to its default", "stage", stage, "error", err)
}

func (e *Engine) analyzeState(ctx context.Context, msgs []types.Message) types.ConversationState {
	if len(msgs) == 0 {
		return DefaultState()
	}
	text := transcript(msgs)
	out, ok := e.ask(ctx, stageState, stateInstructions, text)
	if !ok {
		return DefaultState()
	}
	obj, ok := parse.Object(out)
	if !ok {
		e.fallback(ctx, stageState, fmt.Errorf("unparsable state"))
		return DefaultState()
	}
	state := types.ConversationState{
		CurrentTopic:     parse.String(obj["currentTopic"]),
		ActiveEntities:   parse.StringMap(obj["activeEntities"]),
		ImplicitContext:  parse.StringList(obj["implicitContext"]),
		ConversationFlow: parse.StringList(obj["conversationFlow"]),
		WorkingMemory:    parse.StringMap(obj["workingMemory"]),
		LastReferences:   parse.StringList(obj["lastReferences"]),
		TopicHistory:     parse.StringList(obj["topicHistory"]),
		EmotionalFlow:    parse.StringList(obj["emotionalFlow"]),
	}
	if state.CurrentTopic == "" {
		state.CurrentTopic = DefaultTopic
	}
	return state
}

func (e *Engine) resolveReferences(ctx context.Context, userMessage string, window []types.Message, state types.ConversationState) (string, []string) {
	system := fmt.Sprintf(referenceInstructions,
		state.CurrentTopic, compactJSON(state.ActiveEntities), orNone(state.LastReferences), transcript(window))
	out, ok := e.ask(ctx, stageReference, system, strings.TrimSpace(userMessage))
	if !ok {
		return userMessage, []string{}
	}
	obj, ok := parse.Object(out)
	if !ok {
		e.fallback(ctx, stageReference, fmt.Errorf("unparsable resolution"))
		return userMessage, []string{}
	}
	resolved := parse.String(obj["resolvedText"])
	if _, isString := obj["resolvedText"].(string); !isString || resolved == "" {
		resolved = userMessage
	}
	return resolved, parse.StringList(obj["referencedEntities"])
}

func (e *Engine) inferImplicit(ctx context.Context, userMessage string, window []types.Message, state types.ConversationState) []string {
	system := fmt.Sprintf(implicitInstructions, compactJSON(state), transcript(window))
	out, ok := e.ask(ctx, stageImplicit, system, strings.TrimSpace(userMessage))
	if !ok {
		return []string{}
	}
	return parse.StringArray(out)
}

func (e *Engine) complete(ctx context.Context, userMessage, resolved string, implicit []string, state types.ConversationState) (string, []string, bool) {
	system := fmt.Sprintf(completeInstructions, userMessage, resolved, compactJSON(implicit), compactJSON(state))
	out, ok := e.ask(ctx, stageComplete, system, resolved)
	if !ok {
		return resolved, []string{}, false
	}
	obj, ok := parse.Object(out)
	if !ok {
		e.fallback(ctx, stageComplete, fmt.Errorf("unparsable completion"))
		return resolved, []string{}, false
	}
	full := parse.String(obj["fullContext"])
	if full == "" {
		full = resolved
	}
	return full, parse.StringList(obj["inferences"]), parse.Bool(obj["needsMoreInfo"])
}

// Format renders the coherence narrative block of the prompt. At most five
// entity memories and three topic memories are listed.
func Format(rc types.ResolvedContext, entityMemories, topicMemories []types.MemorySearchResult) string {
	var b strings.Builder
	b.WriteString("## Contexto conversacional\n\n")
	fmt.Fprintf(&b, "Mensaje original: %q\n", rc.OriginalMessage)
	fmt.Fprintf(&b, "Mensaje resuelto: %s\n", rc.ResolvedMessage)
	if rc.FullContext != "" && rc.FullContext != rc.ResolvedMessage {
		fmt.Fprintf(&b, "Contexto completo: %s\n", rc.FullContext)
	}
	if len(rc.ActiveReferences) > 0 {
		fmt.Fprintf(&b, "Referencias activas: %s\n", strings.Join(rc.ActiveReferences, ", "))
	}
	if len(rc.ImplicitInformation) > 0 {
		b.WriteString("\nInformación implícita:\n")
		for _, info := range rc.ImplicitInformation {
			fmt.Fprintf(&b, "- %s\n", info)
		}
	}
	if len(rc.ContextualInferences) > 0 {
		b.WriteString("\nInferencias:\n")
		for _, inf := range rc.ContextualInferences {
			fmt.Fprintf(&b, "- %s\n", inf)
		}
	}

	st := rc.ConversationState
	b.WriteString("\nEstado de la conversación:\n")
	fmt.Fprintf(&b, "- Tema actual: %s\n", st.CurrentTopic)
	fmt.Fprintf(&b, "- Entidades activas: %s\n", orNone(sortedKeys(st.ActiveEntities)))
	emotional := "neutral"
	if len(st.EmotionalFlow) > 0 {
		emotional = strings.Join(st.EmotionalFlow, " → ")
	}
	fmt.Fprintf(&b, "- Flujo emocional: %s\n", emotional)

	writeMemories(&b, "Información específica relevante", entityMemories, 5)
	writeMemories(&b, "Memoria del tema actual", topicMemories, 3)

	b.WriteString("\nResponde con total coherencia con este contexto. No pidas al usuario que repita lo que ya está aquí.")
	return b.String()
}

func writeMemories(b *strings.Builder, title string, mems []types.MemorySearchResult, limit int) {
	if len(mems) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for i, m := range mems {
		if i == limit {
			break
		}
		fmt.Fprintf(b, "- %s\n", m.Record.Content)
	}
}

func validMessages(msgs []types.Message) []types.Message {
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) != "" {
			out = append(out, m)
		}
	}
	return out
}

func lastN(msgs []types.Message, n int) []types.Message {
	if len(msgs) > n {
		return msgs[len(msgs)-n:]
	}
	return msgs
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
