package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/Prateek-Gupta001/GuideMemory/embed"
	"github.com/Prateek-Gupta001/GuideMemory/extractor"
	"github.com/Prateek-Gupta001/GuideMemory/types"
	"go.opentelemetry.io/otel/attribute"
)

// Extractor is the part of extractor.Extractor the agent needs.
type Extractor interface {
	Extract(ctx context.Context, userMessage, guideReply string, history []string) types.ExtractedInformation
}

// MemoryAgent is the write path: extract, embed, store.
type MemoryAgent struct {
	Store       *Store
	Extractor   Extractor
	EmbedClient embed.Embed
}

func NewMemoryAgent(store *Store, ex Extractor, embedClient embed.Embed) *MemoryAgent {
	return &MemoryAgent{
		Store:       store,
		Extractor:   ex,
		EmbedClient: embedClient,
	}
}

// Persist stores everything learnt from one user turn. It only fails on
// malformed jobs; per-record problems are logged and skipped.
func (m *MemoryAgent) Persist(ctx context.Context, job *types.MemoryJob) error {
	if job.UserId == "" || strings.TrimSpace(job.UserMessage) == "" {
		return &ValidationError{Field: "job", Reason: "needs userId and userMessage"}
	}
	ctx, span := Tracer.Start(ctx, "Persist Memory")
	defer span.End()
	span.SetAttributes(attribute.String("userId", job.UserId), attribute.String("reqId", job.ReqId))
	if !m.Store.Enabled() {
		slog.Info("Memory is disabled, skipping memory job", "reqId", job.ReqId)
		return nil
	}

	info := m.Extractor.Extract(ctx, job.UserMessage, job.GuideReply, job.History)
	importance := extractor.CalculateImportance(info)
	msgVector, err := m.EmbedClient.Embed(ctx, job.UserMessage)
	if err != nil {
		slog.Error("Got this error while embedding the user message", "error", err, "reqId", job.ReqId)
	}

	base := types.MemoryRecord{
		UserID:         job.UserId,
		GuideID:        job.GuideId,
		ConversationID: job.ConversationId,
		MessageID:      job.MessageId,
	}
	var records []types.MemoryRecord

	for _, f := range info.PersonalFacts {
		fact := f.PersonalFact
		rec := base
		rec.ID = RecordID(FactKey(job.UserId, fact.Subject, fact.Category))
		rec.Kind = types.KindPersonalFact
		rec.Content = fmt.Sprintf("%s: %s", fact.Subject, fact.Value)
		rec.ExtractedFrom = f.ExtractedFrom
		rec.Importance = math.Min(fact.Confidence+0.3, 1)
		rec.Fact = &fact
		records = append(records, rec)
	}
	for _, p := range info.Preferences {
		pref := p
		rec := base
		rec.ID = AppendID()
		rec.Kind = types.KindPreference
		rec.Content = pref.Preference
		rec.Importance = pref.Intensity
		rec.Preference = &pref
		records = append(records, rec)
	}
	if d := info.Relationship; d != nil {
		rel := types.Relationship{
			UserNickname:      d.UserNickname,
			GuideNickname:     d.GuideNickname,
			IntimacyLevel:     0.5,
			CommunicationTone: "casual",
		}
		if d.IntimacyLevel != nil {
			rel.IntimacyLevel = *d.IntimacyLevel
		}
		if d.CommunicationTone != "" {
			rel.CommunicationTone = d.CommunicationTone
		}
		rec := base
		rec.ID = RecordID(RelationshipKey(job.UserId, job.GuideId))
		rec.Kind = types.KindRelationship
		rec.Content = RelationshipContent(rel)
		rec.Importance = 0.8
		rec.Relationship = &rel
		records = append(records, rec)
	}
	for _, g := range info.Goals {
		goal := g
		rec := base
		rec.ID = AppendID()
		rec.Kind = types.KindGoal
		rec.Content = fmt.Sprintf("Meta: %s (%s)", goal.Goal, goal.Timeframe)
		rec.Importance = goal.Importance
		rec.Goal = &goal
		records = append(records, rec)
	}
	if e := info.EmotionalState; e.Intensity > 0.5 {
		emotion := e
		rec := base
		rec.ID = AppendID()
		rec.Kind = types.KindEmotionalState
		rec.Content = fmt.Sprintf("Estado emocional: %s (%s)", emotion.Tone, strings.Join(emotion.Emotions, ", "))
		rec.ExtractedFrom = types.FromImplied
		rec.Importance = math.Min(emotion.Intensity+0.2, 1)
		rec.Emotion = &emotion
		records = append(records, rec)
	}

	raw := base
	if job.MessageId != "" {
		raw.ID = RecordID(MessageKey(job.UserId, job.MessageId))
	} else {
		raw.ID = AppendID()
	}
	raw.Kind = types.KindPersonalFact
	raw.Content = job.UserMessage
	raw.Importance = math.Max(importance, 0.3)
	raw.Vector = msgVector

	stored := 0
	for _, rec := range records {
		rec.Vector = m.vectorFor(ctx, rec.Content, msgVector)
		if m.store(ctx, rec) {
			stored++
		}
	}
	if m.store(ctx, raw) {
		stored++
	}
	span.SetAttributes(attribute.Int("stored", stored))
	slog.Info("Memory job processed", "reqId", job.ReqId, "userId", job.UserId, "records", stored, "importance", importance)
	return nil
}

func (m *MemoryAgent) vectorFor(ctx context.Context, content string, fallback []float32) []float32 {
	vec, err := m.EmbedClient.Embed(ctx, content)
	if err != nil {
		slog.Warn("Falling back to the message embedding for a memory record", "error", err)
		return fallback
	}
	return vec
}

func (m *MemoryAgent) store(ctx context.Context, rec types.MemoryRecord) bool {
	if len(rec.Vector) == 0 {
		slog.Warn("No embedding available, memory record skipped", "kind", rec.Kind, "userId", rec.UserID)
		return false
	}
	if err := m.Store.Store(ctx, rec); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			slog.Error("Memory record rejected", "error", err, "kind", rec.Kind)
		}
		return false
	}
	return true
}

// RelationshipContent renders the relationship as prompt-ready text.
func RelationshipContent(r types.Relationship) string {
	parts := []string{fmt.Sprintf("Tono %s, intimidad %.0f%%", r.CommunicationTone, r.IntimacyLevel*100)}
	if r.UserNickname != "" {
		parts = append(parts, "el usuario quiere que lo llamen "+r.UserNickname)
	}
	if r.GuideNickname != "" {
		parts = append(parts, "llama al guía "+r.GuideNickname)
	}
	return "Relación: " + strings.Join(parts, "; ")
}
