package types

import (
	"strings"
)

const UserIdKey ctxKey = iota

type ctxKey int

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type MemoryKind string

const (
	KindPersonalFact   MemoryKind = "personal_fact"
	KindPreference     MemoryKind = "preference"
	KindEmotionalState MemoryKind = "emotional_state"
	KindRelationship   MemoryKind = "relationship"
	KindGoal           MemoryKind = "goal"
)

func (k MemoryKind) Valid() bool {
	switch k {
	case KindPersonalFact, KindPreference, KindEmotionalState, KindRelationship, KindGoal:
		return true
	}
	return false
}

// Provenance records how a memory was obtained.
type Provenance string

const (
	FromDirectStatement Provenance = "direct_statement"
	FromImplied         Provenance = "implied"
	FromQuestionAnswer  Provenance = "question_answer"
	FromCorrection      Provenance = "correction"
)

func ParseProvenance(s string) Provenance {
	switch p := Provenance(strings.ToLower(strings.TrimSpace(s))); p {
	case FromDirectStatement, FromImplied, FromQuestionAnswer, FromCorrection:
		return p
	}
	return FromDirectStatement
}

var FactCategories = []string{"family", "pets", "work", "hobbies", "health", "location", "other"}

var FactTypes = []string{"has", "likes", "dislikes", "wants", "needs", "is"}

var PreferenceCategories = []string{"communication", "treatment", "topics", "style"}

var CommunicationTones = []string{"formal", "casual", "intimate", "playful"}

type PersonalFact struct {
	Category   string  `json:"category"`
	FactType   string  `json:"factType"`
	Subject    string  `json:"subject"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

type Preference struct {
	Category   string  `json:"category"`
	Preference string  `json:"preference"`
	Intensity  float64 `json:"intensity"`
}

type Relationship struct {
	UserNickname      string  `json:"userNickname,omitempty"`
	GuideNickname     string  `json:"guideNickname,omitempty"`
	IntimacyLevel     float64 `json:"intimacyLevel"`
	CommunicationTone string  `json:"communicationTone"`
}

type Goal struct {
	Goal       string  `json:"goal"`
	Timeframe  string  `json:"timeframe"`
	Importance float64 `json:"importance"`
}

type EmotionalState struct {
	Tone      string   `json:"tone"`
	Intensity float64  `json:"intensity"`
	Emotions  []string `json:"emotions"`
}

func NeutralEmotionalState() EmotionalState {
	return EmotionalState{Tone: "neutral", Intensity: 0.5, Emotions: []string{}}
}

// MemoryRecord is one unit of long-term memory. At most one of the typed
// payload pointers is set and it matches Kind.
type MemoryRecord struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	GuideID        string     `json:"guideId,omitempty"`
	ConversationID string     `json:"conversationId,omitempty"`
	MessageID      string     `json:"messageId,omitempty"`
	Vector         []float32  `json:"-"`
	Content        string     `json:"content"`
	Kind           MemoryKind `json:"kind"`
	ExtractedFrom  Provenance `json:"extractedFrom"`
	Importance     float64    `json:"importance"`
	CreatedAt      int64      `json:"createdAt"`
	LastUpdatedAt  int64      `json:"lastUpdatedAt"`
	UpdateCount    int        `json:"updateCount"`

	Fact         *PersonalFact   `json:"personalFact,omitempty"`
	Preference   *Preference     `json:"preference,omitempty"`
	Relationship *Relationship   `json:"relationship,omitempty"`
	Goal         *Goal           `json:"goal,omitempty"`
	Emotion      *EmotionalState `json:"emotionalState,omitempty"`
}

// MemorySearchResult pairs a record with its backend similarity.
type MemorySearchResult struct {
	Record MemoryRecord `json:"record"`
	Score  float32      `json:"score"`
}

// Blended is the ranking score: 0.7 similarity + 0.3 importance.
func (r MemorySearchResult) Blended() float64 {
	return 0.7*float64(r.Score) + 0.3*r.Record.Importance
}

// RelationshipDelta is a partial relationship update. Nil/empty fields
// were not mentioned in the turn.
type RelationshipDelta struct {
	UserNickname      string   `json:"userNickname,omitempty"`
	GuideNickname     string   `json:"guideNickname,omitempty"`
	IntimacyLevel     *float64 `json:"intimacyLevel,omitempty"`
	CommunicationTone string   `json:"communicationTone,omitempty"`
}

type ExtractedFact struct {
	PersonalFact
	ExtractedFrom Provenance `json:"extractedFrom"`
}

type ExtractedInformation struct {
	PersonalFacts  []ExtractedFact    `json:"personalFacts"`
	Preferences    []Preference       `json:"preferences"`
	Relationship   *RelationshipDelta `json:"relationship"`
	Goals          []Goal             `json:"goals"`
	EmotionalState EmotionalState     `json:"emotionalState"`
}

func EmptyExtraction() ExtractedInformation {
	return ExtractedInformation{
		PersonalFacts:  []ExtractedFact{},
		Preferences:    []Preference{},
		Goals:          []Goal{},
		EmotionalState: NeutralEmotionalState(),
	}
}

func (e ExtractedInformation) IsEmpty() bool {
	return len(e.PersonalFacts) == 0 && len(e.Preferences) == 0 && e.Relationship == nil && len(e.Goals) == 0
}

type ConversationState struct {
	CurrentTopic     string            `json:"currentTopic"`
	ActiveEntities   map[string]string `json:"activeEntities"`
	ImplicitContext  []string          `json:"implicitContext"`
	ConversationFlow []string          `json:"conversationFlow"`
	WorkingMemory    map[string]string `json:"workingMemory"`
	LastReferences   []string          `json:"lastReferences"`
	TopicHistory     []string          `json:"topicHistory"`
	EmotionalFlow    []string          `json:"emotionalFlow"`
}

type ResolvedContext struct {
	OriginalMessage      string            `json:"originalMessage"`
	ResolvedMessage      string            `json:"resolvedMessage"`
	FullContext          string            `json:"fullContext"`
	ImplicitInformation  []string          `json:"implicitInformation"`
	ActiveReferences     []string          `json:"activeReferences"`
	ContextualInferences []string          `json:"contextualInferences"`
	ConversationState    ConversationState `json:"conversationState"`
	NeedsExplicitInfo    bool              `json:"needsExplicitInfo"`
}

type QuestionType string

const (
	QuestionFactRecall        QuestionType = "fact_recall"
	QuestionPreferenceCheck   QuestionType = "preference_check"
	QuestionRelationshipQuery QuestionType = "relationship_query"
	QuestionGeneral           QuestionType = "general"
)

type PersonalQuestionIntent struct {
	IsPersonalQuestion bool         `json:"isPersonalQuestion"`
	SearchTerms        []string     `json:"searchTerms"`
	QuestionType       QuestionType `json:"questionType"`
}

// AssembledContext is the per-turn prompt context. Empty blocks are "".
type AssembledContext struct {
	PersonalFacts           string                 `json:"personalFacts"`
	Preferences             string                 `json:"preferences"`
	Relationship            string                 `json:"relationship"`
	RelevantMemories        string                 `json:"relevantMemories"`
	ConversationalCoherence string                 `json:"conversationalCoherence"`
	IsPersonalQuestion      bool                   `json:"isPersonalQuestion"`
	Intent                  PersonalQuestionIntent `json:"intent"`
	HasFullCoherence        bool                   `json:"hasFullCoherence"`
	QueryText               string                 `json:"queryText"`
	Resolved                ResolvedContext        `json:"resolved"`
	RecentMessages          []Message              `json:"-"`
}

// Prompt joins the non-empty blocks with blank lines.
func (a AssembledContext) Prompt() string {
	var blocks []string
	for _, b := range []string{a.PersonalFacts, a.Preferences, a.Relationship, a.RelevantMemories, a.ConversationalCoherence} {
		if strings.TrimSpace(b) != "" {
			blocks = append(blocks, b)
		}
	}
	return strings.Join(blocks, "\n\n")
}

type MemoryJob struct {
	ReqId          string   `json:"reqId"`
	UserId         string   `json:"userId"`
	GuideId        string   `json:"guideId"`
	ConversationId string   `json:"conversationId"`
	MessageId      string   `json:"messageId"`
	UserMessage    string   `json:"userMessage"`
	GuideReply     string   `json:"guideReply,omitempty"`
	History        []string `json:"history,omitempty"`
}

// Guide is the persona a user talks to.
type Guide struct {
	Id                 string   `json:"id"`
	UserId             string   `json:"userId"`
	Name               string   `json:"name"`
	PhysicalForm       string   `json:"physicalForm"`
	DistinctiveTraits  string   `json:"distinctiveTraits"`
	Personality        string   `json:"personality"`
	Habitat            string   `json:"habitat"`
	ConnectionWithUser string   `json:"connectionWithUser"`
	SurveyAnswers      []string `json:"surveyAnswers"`
}

type StoredMessage struct {
	Id             string `json:"id"`
	ConversationId string `json:"conversationId"`
	UserId         string `json:"userId"`
	Role           Role   `json:"role"`
	Content        string `json:"content"`
	CreatedAt      int64  `json:"createdAt"`
}

type ChatRequest struct {
	UserId         string `json:"userId"`
	UserName       string `json:"userName,omitempty"`
	GuideId        string `json:"guideId"`
	ConversationId string `json:"conversationId"`
	Content        string `json:"content"`
}

type ChatReply struct {
	ReqId          string `json:"reqId"`
	ConversationId string `json:"conversationId"`
	MessageId      string `json:"messageId"`
	Reply          string `json:"reply"`
	UsedMemory     bool   `json:"usedMemory"`
}

type ContextRequest struct {
	UserId         string `json:"userId"`
	ConversationId string `json:"conversationId"`
	Message        string `json:"message"`
}

type InsertMemoryRequest struct {
	UserId         string    `json:"userId"`
	GuideId        string    `json:"guideId"`
	ConversationId string    `json:"conversationId"`
	Messages       []Message `json:"messages"`
}

type MemoryRetrievalRequest struct {
	UserId    string    `json:"userId"`
	Messages  []Message `json:"messages,omitempty"`
	UserQuery string    `json:"query,omitempty"`
	Threshold float32   `json:"threshold,omitempty"`
	TopK      int       `json:"topK,omitempty"`
	ReqId     string    `json:"-"`
}
