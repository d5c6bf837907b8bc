package memory

import (
	"fmt"
	"strings"

	"github.com/Prateek-Gupta001/GuideMemory/types"
	"github.com/Prateek-Gupta001/GuideMemory/vectordb"
	"github.com/google/uuid"
)

// Payload keys. Typed payloads use <category>_<field>.
const (
	keyUserID         = "userId"
	keyGuideID        = "guideId"
	keyConversationID = "conversationId"
	keyMessageID      = "messageId"
	keyContent        = "content"
	keyKind           = "kind"
	keyExtractedFrom  = "extractedFrom"
	keyImportance     = "importance"
	keyCreatedAt      = "createdAt"
	keyLastUpdatedAt  = "lastUpdatedAt"
	keyUpdateCount    = "updateCount"
	keyFactCategory   = "personalFacts_category"
	keyShape          = "shape"
)

// Shapes tell typed records apart from the raw-message catch-alls that share
// their kind.
const (
	shapeStructured = "structured"
	shapeRaw        = "raw_message"
)

// FactKey identifies the single fact record per owner, subject and category.
func FactKey(userID, subject, category string) string {
	return fmt.Sprintf("%s_fact_%s_%s", userID, strings.ToLower(strings.TrimSpace(subject)), category)
}

func RelationshipKey(userID, guideID string) string {
	return fmt.Sprintf("%s_relationship_%s", userID, guideID)
}

func MessageKey(userID, messageID string) string {
	return fmt.Sprintf("%s_msg_%s", userID, messageID)
}

// RecordID maps a readable key onto the UUID the backend requires.
func RecordID(key string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

// AppendID is a fresh time-ordered id for append-only kinds.
func AppendID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// defaultID picks the id for records stored without one. Facts and
// relationships get deterministic ids so they merge in place.
func defaultID(rec types.MemoryRecord) string {
	switch {
	case rec.Kind == types.KindPersonalFact && rec.Fact != nil && rec.Fact.Subject != "":
		return RecordID(FactKey(rec.UserID, rec.Fact.Subject, rec.Fact.Category))
	case rec.Kind == types.KindRelationship:
		return RecordID(RelationshipKey(rec.UserID, rec.GuideID))
	}
	return AppendID()
}

func flatten(rec types.MemoryRecord) map[string]any {
	p := map[string]any{
		keyUserID:         rec.UserID,
		keyGuideID:        rec.GuideID,
		keyConversationID: rec.ConversationID,
		keyMessageID:      rec.MessageID,
		keyContent:        rec.Content,
		keyKind:           string(rec.Kind),
		keyExtractedFrom:  string(rec.ExtractedFrom),
		keyImportance:     rec.Importance,
		keyCreatedAt:      rec.CreatedAt,
		keyLastUpdatedAt:  rec.LastUpdatedAt,
		keyUpdateCount:    int64(rec.UpdateCount),
		keyShape:          shapeOf(rec),
	}
	if f := rec.Fact; f != nil {
		p[keyFactCategory] = f.Category
		p["personalFacts_factType"] = f.FactType
		p["personalFacts_subject"] = f.Subject
		p["personalFacts_value"] = f.Value
		p["personalFacts_confidence"] = f.Confidence
	}
	if pr := rec.Preference; pr != nil {
		p["preferences_category"] = pr.Category
		p["preferences_preference"] = pr.Preference
		p["preferences_intensity"] = pr.Intensity
	}
	if r := rec.Relationship; r != nil {
		p["relationship_userNickname"] = r.UserNickname
		p["relationship_guideNickname"] = r.GuideNickname
		p["relationship_intimacyLevel"] = r.IntimacyLevel
		p["relationship_communicationTone"] = r.CommunicationTone
	}
	if g := rec.Goal; g != nil {
		p["goals_goal"] = g.Goal
		p["goals_timeframe"] = g.Timeframe
		p["goals_importance"] = g.Importance
	}
	if e := rec.Emotion; e != nil {
		p["emotionalState_tone"] = e.Tone
		p["emotionalState_intensity"] = e.Intensity
		p["emotionalState_emotions"] = strings.Join(e.Emotions, ",")
	}
	return p
}

func shapeOf(rec types.MemoryRecord) string {
	if rec.Fact == nil && rec.Preference == nil && rec.Relationship == nil && rec.Goal == nil && rec.Emotion == nil {
		return shapeRaw
	}
	return shapeStructured
}

func unflatten(pt vectordb.Point) types.MemoryRecord {
	p := pt.Payload
	rec := types.MemoryRecord{
		ID:             pt.ID,
		UserID:         str(p, keyUserID),
		GuideID:        str(p, keyGuideID),
		ConversationID: str(p, keyConversationID),
		MessageID:      str(p, keyMessageID),
		Vector:         pt.Vector,
		Content:        str(p, keyContent),
		Kind:           types.MemoryKind(str(p, keyKind)),
		ExtractedFrom:  types.Provenance(str(p, keyExtractedFrom)),
		Importance:     num(p, keyImportance),
		CreatedAt:      int64(num(p, keyCreatedAt)),
		LastUpdatedAt:  int64(num(p, keyLastUpdatedAt)),
		UpdateCount:    int(num(p, keyUpdateCount)),
	}
	if _, ok := p["personalFacts_subject"]; ok {
		rec.Fact = &types.PersonalFact{
			Category:   str(p, keyFactCategory),
			FactType:   str(p, "personalFacts_factType"),
			Subject:    str(p, "personalFacts_subject"),
			Value:      str(p, "personalFacts_value"),
			Confidence: num(p, "personalFacts_confidence"),
		}
	}
	if _, ok := p["preferences_preference"]; ok {
		rec.Preference = &types.Preference{
			Category:   str(p, "preferences_category"),
			Preference: str(p, "preferences_preference"),
			Intensity:  num(p, "preferences_intensity"),
		}
	}
	if _, ok := p["relationship_communicationTone"]; ok {
		rec.Relationship = &types.Relationship{
			UserNickname:      str(p, "relationship_userNickname"),
			GuideNickname:     str(p, "relationship_guideNickname"),
			IntimacyLevel:     num(p, "relationship_intimacyLevel"),
			CommunicationTone: str(p, "relationship_communicationTone"),
		}
	}
	if _, ok := p["goals_goal"]; ok {
		rec.Goal = &types.Goal{
			Goal:       str(p, "goals_goal"),
			Timeframe:  str(p, "goals_timeframe"),
			Importance: num(p, "goals_importance"),
		}
	}
	if _, ok := p["emotionalState_tone"]; ok {
		emotions := []string{}
		if s := str(p, "emotionalState_emotions"); s != "" {
			emotions = strings.Split(s, ",")
		}
		rec.Emotion = &types.EmotionalState{
			Tone:      str(p, "emotionalState_tone"),
			Intensity: num(p, "emotionalState_intensity"),
			Emotions:  emotions,
		}
	}
	return rec
}

func str(p map[string]any, key string) string {
	s, _ := p[key].(string)
	return s
}

func num(p map[string]any, key string) float64 {
	switch n := p[key].(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}
