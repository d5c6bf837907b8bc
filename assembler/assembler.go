// Package assembler builds the per-turn prompt context: it resolves the
// utterance, searches long-term memory several ways at once and formats the
// results into prompt blocks.
package assembler

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/Prateek-Gupta001/GuideMemory/coherence"
	"github.com/Prateek-Gupta001/GuideMemory/embed"
	"github.com/Prateek-Gupta001/GuideMemory/memory"
	"github.com/Prateek-Gupta001/GuideMemory/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Placeholder is embedded when neither the resolved nor the raw message is
// usable.
const Placeholder = coherence.DefaultTopic

const (
	HistoryLimit = 15

	minEntityLength = 3
	relevantLimit   = 8
)

var (
	generalSearch = memory.SearchOptions{TopK: 15, MinScore: 0.4, IncludeRecent: true}
	entitySearch  = memory.SearchOptions{TopK: 5, MinScore: 0.7}
	topicSearch   = memory.SearchOptions{TopK: 8, MinScore: 0.5}
)

var Tracer = otel.Tracer("GuideMemory/assembler")

// History lists the user's latest messages of a conversation, oldest first.
type History interface {
	RecentMessages(ctx context.Context, userID, conversationID string, limit int) ([]types.StoredMessage, error)
}

type Resolver interface {
	Resolve(ctx context.Context, userMessage string, recent []types.Message) types.ResolvedContext
}

// Memories is the read side of memory.Store.
type Memories interface {
	Search(ctx context.Context, userID string, vector []float32, opts memory.SearchOptions) []types.MemorySearchResult
	GetFacts(ctx context.Context, userID, category string) []types.MemoryRecord
	GetPreferences(ctx context.Context, userID string) []types.MemoryRecord
}

type Assembler struct {
	History     History
	Resolver    Resolver
	Memories    Memories
	EmbedClient embed.Embed
}

func New(history History, resolver Resolver, memories Memories, embedClient embed.Embed) *Assembler {
	return &Assembler{
		History:     history,
		Resolver:    resolver,
		Memories:    memories,
		EmbedClient: embedClient,
	}
}

// AssembleContext never fails; every missing piece degrades to an empty
// block.
func (a *Assembler) AssembleContext(ctx context.Context, userID, conversationID, userMessage string) types.AssembledContext {
	ctx, span := Tracer.Start(ctx, "Assemble Context")
	defer span.End()
	span.SetAttributes(attribute.String("userId", userID), attribute.String("conversationId", conversationID))

	recent := a.recentMessages(ctx, userID, conversationID)
	resolved := a.Resolver.Resolve(ctx, userMessage, recent)

	queryText := firstUsable(resolved.ResolvedMessage, userMessage, Placeholder)
	vector := a.embedFirst(ctx, queryText, userMessage, Placeholder)

	intent := DetectPersonalQuestion(queryText)
	if !intent.IsPersonalQuestion && queryText != userMessage {
		if raw := DetectPersonalQuestion(userMessage); raw.IsPersonalQuestion {
			intent = raw
		}
	}

	var (
		relevant []types.MemorySearchResult
		topic    []types.MemorySearchResult
		facts    []types.MemoryRecord
		prefs    []types.MemoryRecord
	)
	entities := searchableEntities(resolved.ActiveReferences)
	entityHits := make([][]types.MemorySearchResult, len(entities))

	g, gctx := errgroup.WithContext(ctx)
	if vector != nil {
		g.Go(func() error {
			relevant = a.Memories.Search(gctx, userID, vector, generalSearch)
			return nil
		})
	}
	for i, entity := range entities {
		g.Go(func() error {
			entityHits[i] = a.searchText(gctx, userID, entity, entitySearch)
			return nil
		})
	}
	if t := strings.TrimSpace(resolved.ConversationState.CurrentTopic); t != "" && t != coherence.DefaultTopic {
		g.Go(func() error {
			topic = a.searchText(gctx, userID, t, topicSearch)
			return nil
		})
	}
	g.Go(func() error {
		facts = a.Memories.GetFacts(gctx, userID, "")
		return nil
	})
	g.Go(func() error {
		prefs = a.Memories.GetPreferences(gctx, userID)
		return nil
	})
	g.Wait()

	var entityMemories []types.MemorySearchResult
	for _, hits := range entityHits {
		entityMemories = append(entityMemories, hits...)
	}

	personal := formatFacts(facts)
	if intent.IsPersonalQuestion {
		terms := append(append([]string{}, intent.SearchTerms...), resolved.ActiveReferences...)
		if specific := specificFact(facts, terms); specific != "" {
			personal = specific + "\n\n" + personal
		}
	}

	span.SetAttributes(
		attribute.Bool("personalQuestion", intent.IsPersonalQuestion),
		attribute.Int("relevant", len(relevant)),
		attribute.Int("facts", len(facts)),
	)
	return types.AssembledContext{
		PersonalFacts:           personal,
		Preferences:             formatPreferences(prefs),
		Relationship:            formatRelationship(prefs),
		RelevantMemories:        formatRelevant(relevant),
		ConversationalCoherence: coherence.Format(resolved, entityMemories, topic),
		IsPersonalQuestion:      intent.IsPersonalQuestion,
		Intent:                  intent,
		HasFullCoherence:        !resolved.NeedsExplicitInfo,
		QueryText:               queryText,
		Resolved:                resolved,
		RecentMessages:          recent,
	}
}

func (a *Assembler) recentMessages(ctx context.Context, userID, conversationID string) []types.Message {
	if a.History == nil || conversationID == "" {
		return nil
	}
	stored, err := a.History.RecentMessages(ctx, userID, conversationID, HistoryLimit)
	if err != nil {
		slog.Error("Got this error while loading the conversation history", "error", err, "conversationId", conversationID)
		return nil
	}
	msgs := make([]types.Message, 0, len(stored))
	for _, m := range stored {
		msgs = append(msgs, types.Message{Role: m.Role, Content: m.Content})
	}
	return msgs
}

// embedFirst returns the embedding of the first candidate the provider
// accepts, or nil when none is.
func (a *Assembler) embedFirst(ctx context.Context, candidates ...string) []float32 {
	tried := map[string]bool{}
	for _, text := range candidates {
		text = strings.TrimSpace(text)
		if !usable(text) || tried[text] {
			continue
		}
		tried[text] = true
		vec, err := a.EmbedClient.Embed(ctx, text)
		if err == nil && len(vec) > 0 {
			return vec
		}
		slog.Warn("Embedding failed, trying the next query text", "error", err)
	}
	slog.Error("No query embedding available, similarity searches skipped")
	return nil
}

func (a *Assembler) searchText(ctx context.Context, userID, text string, opts memory.SearchOptions) []types.MemorySearchResult {
	vec, err := a.EmbedClient.Embed(ctx, text)
	if err != nil {
		slog.Warn("Got this error while embedding a search text", "error", err, "text", text)
		return nil
	}
	return a.Memories.Search(ctx, userID, vec, opts)
}

func searchableEntities(refs []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, r := range refs {
		r = strings.TrimSpace(r)
		if utf8.RuneCountInString(r) < minEntityLength || seen[strings.ToLower(r)] {
			continue
		}
		seen[strings.ToLower(r)] = true
		out = append(out, r)
	}
	return out
}

func usable(text string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(text)) >= embed.MinTextLength
}

func firstUsable(texts ...string) string {
	for _, t := range texts {
		if usable(t) {
			return strings.TrimSpace(t)
		}
	}
	return Placeholder
}
