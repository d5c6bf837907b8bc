// Package extractor turns a user utterance into typed memory candidates.
package extractor

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/Prateek-Gupta001/GuideMemory/llm"
	"github.com/Prateek-Gupta001/GuideMemory/parse"
	"github.com/Prateek-Gupta001/GuideMemory/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Temperature used for classification calls.
const Temperature float32 = 0.3

var Tracer = otel.Tracer("GuideMemory/extractor")

type Extractor struct {
	LLM llm.LLM
}

func New(l llm.LLM) *Extractor {
	return &Extractor{LLM: l}
}

// Extract never fails. Provider or parse problems yield the empty extraction.
// Numeric fields are passed through unclamped.
func (e *Extractor) Extract(ctx context.Context, userMessage, guideReply string, history []string) types.ExtractedInformation {
	ctx, span := Tracer.Start(ctx, "Extract")
	defer span.End()

	if strings.TrimSpace(userMessage) == "" {
		return types.EmptyExtraction()
	}
	raw, err := e.LLM.Complete(ctx, []types.Message{
		{Role: types.RoleSystem, Content: buildPrompt(guideReply, history)},
		{Role: types.RoleUser, Content: userMessage},
	}, Temperature)
	if err != nil {
		span.RecordError(err)
		slog.Error("Got this error while extracting information from the message", "error", err)
		return types.EmptyExtraction()
	}
	info := Decode(raw)
	span.SetAttributes(
		attribute.Int("facts", len(info.PersonalFacts)),
		attribute.Int("preferences", len(info.Preferences)),
		attribute.Int("goals", len(info.Goals)),
	)
	return info
}

// Decode coerces raw provider output into an ExtractedInformation.
func Decode(raw string) types.ExtractedInformation {
	info := types.EmptyExtraction()
	obj, ok := parse.Object(raw)
	if !ok {
		if strings.TrimSpace(raw) != "" {
			slog.Warn("No JSON object found in extraction output", "raw", truncate(raw, 200))
		}
		return info
	}

	for _, item := range parse.List(obj["personalFacts"]) {
		m := parse.Map(item)
		if m == nil {
			continue
		}
		subject := strings.ToLower(parse.String(m["subject"]))
		if subject == "" {
			continue
		}
		info.PersonalFacts = append(info.PersonalFacts, types.ExtractedFact{
			PersonalFact: types.PersonalFact{
				Category:   parse.OneOf(parse.String(m["category"]), types.FactCategories, "other"),
				FactType:   parse.OneOf(parse.String(m["factType"]), types.FactTypes, "has"),
				Subject:    subject,
				Value:      parse.String(m["value"]),
				Confidence: parse.Float(m["confidence"], 0.5),
			},
			ExtractedFrom: types.ParseProvenance(parse.String(m["extractedFrom"])),
		})
	}

	for _, item := range parse.List(obj["preferences"]) {
		m := parse.Map(item)
		if m == nil {
			continue
		}
		text := parse.String(m["preference"])
		if text == "" {
			continue
		}
		info.Preferences = append(info.Preferences, types.Preference{
			Category:   parse.OneOf(parse.String(m["category"]), types.PreferenceCategories, "topics"),
			Preference: text,
			Intensity:  parse.Float(m["intensity"], 0.5),
		})
	}

	rel := obj["relationshipChanges"]
	if rel == nil {
		rel = obj["relationship"]
	}
	if m := parse.Map(rel); m != nil {
		delta := &types.RelationshipDelta{
			UserNickname:  nullable(parse.String(m["userNickname"])),
			GuideNickname: nullable(parse.String(m["guideNickname"])),
		}
		if tone := parse.OneOf(parse.String(m["communicationTone"]), types.CommunicationTones, ""); tone != "" {
			delta.CommunicationTone = tone
		}
		if _, present := m["intimacyLevel"]; present {
			if lvl := parse.Float(m["intimacyLevel"], -1); lvl != -1 {
				delta.IntimacyLevel = &lvl
			}
		}
		if delta.UserNickname != "" || delta.GuideNickname != "" || delta.CommunicationTone != "" || delta.IntimacyLevel != nil {
			info.Relationship = delta
		}
	}

	for _, item := range parse.List(obj["goals"]) {
		m := parse.Map(item)
		if m == nil {
			continue
		}
		goal := parse.String(m["goal"])
		if goal == "" {
			continue
		}
		info.Goals = append(info.Goals, types.Goal{
			Goal:       goal,
			Timeframe:  parse.String(m["timeframe"]),
			Importance: parse.Float(m["importance"], 0.5),
		})
	}

	if m := parse.Map(obj["emotionalState"]); m != nil {
		tone := parse.String(m["tone"])
		if tone == "" {
			tone = "neutral"
		}
		info.EmotionalState = types.EmotionalState{
			Tone:      tone,
			Intensity: parse.Float(m["intensity"], 0.5),
			Emotions:  parse.StringList(m["emotions"]),
		}
	}
	return info
}

// CalculateImportance averages the weighted contribution of each non-empty
// category. An empty extraction scores 0.1.
func CalculateImportance(info types.ExtractedInformation) float64 {
	var total float64
	var categories int

	if n := len(info.PersonalFacts); n > 0 {
		var sum float64
		for _, f := range info.PersonalFacts {
			sum += f.Confidence
		}
		total += 0.4 * sum / float64(n)
		categories++
	}
	if n := len(info.Preferences); n > 0 {
		var sum float64
		for _, p := range info.Preferences {
			sum += p.Intensity
		}
		total += 0.3 * sum / float64(n)
		categories++
	}
	if info.Relationship != nil {
		total += 0.8
		categories++
	}
	if n := len(info.Goals); n > 0 {
		var sum float64
		for _, g := range info.Goals {
			sum += g.Importance
		}
		total += 0.2 * sum / float64(n)
		categories++
	}
	if categories == 0 {
		return 0.1
	}
	return total / float64(categories)
}

func nullable(s string) string {
	switch strings.ToLower(s) {
	case "null", "none", "nil", "nombre o null":
		return ""
	}
	return s
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
