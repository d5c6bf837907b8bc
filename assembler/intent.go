package assembler

import (
	"regexp"
	"strings"

	"github.com/Prateek-Gupta001/GuideMemory/types"
)

// Patterns of questions about the user themself. The first capture group,
// when present, is a search term.
var personalQuestionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`cu[aá]nt[oa]s?\s+(.+)\s+tengo`),
	regexp.MustCompile(`qu[eé]\s+(.+)\s+tengo`),
	regexp.MustCompile(`c[oó]mo\s+me\s+llamo`),
	regexp.MustCompile(`cu[aá]l\s+es\s+mi\s+(.+)`),
	regexp.MustCompile(`recuerdas?\s+(.+)`),
	regexp.MustCompile(`te\s+dije\s+(.+)`),
	regexp.MustCompile(`mencion[eé]\s+(.+)`),
	regexp.MustCompile(`how\s+many\s+(.+)\s+do\s+i\s+have`),
	regexp.MustCompile(`what(?:'s|\s+is)\s+my\s+(.+)`),
	regexp.MustCompile(`do\s+you\s+remember\s+(.+)`),
	regexp.MustCompile(`did\s+i\s+(?:tell|mention)\s+(?:you\s+)?(.+)`),
}

var searchKeywords = []string{
	"perros", "gatos", "trabajo", "hermanos", "familia", "casa", "ciudad",
	"dogs", "cats", "job", "siblings", "family", "home", "city",
}

// DetectPersonalQuestion classifies text with a fixed rule set. It makes no
// provider calls.
func DetectPersonalQuestion(text string) types.PersonalQuestionIntent {
	lower := strings.ToLower(text)
	intent := types.PersonalQuestionIntent{
		SearchTerms:  []string{},
		QuestionType: types.QuestionGeneral,
	}
	add := func(term string) {
		term = strings.Trim(strings.TrimSpace(term), "¿?¡!.,;: ")
		if term == "" {
			return
		}
		for _, t := range intent.SearchTerms {
			if t == term {
				return
			}
		}
		intent.SearchTerms = append(intent.SearchTerms, term)
	}

	for _, re := range personalQuestionPatterns {
		m := re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		intent.IsPersonalQuestion = true
		if len(m) > 1 {
			add(m[1])
		}
		intent.QuestionType = questionType(lower)
		break
	}
	for _, kw := range searchKeywords {
		if strings.Contains(lower, kw) {
			add(kw)
		}
	}
	return intent
}

func questionType(lower string) types.QuestionType {
	switch {
	case containsAny(lower, "cuántos", "cuántas", "cuantos", "cuantas", "qué tengo", "how many"):
		return types.QuestionFactRecall
	case containsAny(lower, "prefiero", "me gusta", "prefer", "i like"):
		return types.QuestionPreferenceCheck
	case containsAny(lower, "llamo", "nombre", "name", "call me"):
		return types.QuestionRelationshipQuery
	}
	return types.QuestionGeneral
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
