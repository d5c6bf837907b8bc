package assembler

import (
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Prateek-Gupta001/GuideMemory/types"
)

// formatFacts groups structured facts by category, keeping the order in
// which categories first appear.
func formatFacts(facts []types.MemoryRecord) string {
	var order []string
	byCategory := map[string][]string{}
	for _, f := range facts {
		if f.Fact == nil {
			continue
		}
		cat := f.Fact.Category
		if cat == "" {
			cat = "other"
		}
		if _, ok := byCategory[cat]; !ok {
			order = append(order, cat)
		}
		byCategory[cat] = append(byCategory[cat], fmt.Sprintf("- %s: %s", f.Fact.Subject, f.Fact.Value))
	}
	if len(order) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Hechos personales del usuario:\n")
	for _, cat := range order {
		fmt.Fprintf(&b, "**%s:**\n", capitalize(cat))
		for _, line := range byCategory[cat] {
			b.WriteString(line + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// specificFact finds the first fact, term by term, whose subject or content
// mentions the term.
func specificFact(facts []types.MemoryRecord, terms []string) string {
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		for _, f := range facts {
			if f.Fact == nil {
				continue
			}
			if strings.Contains(strings.ToLower(f.Fact.Subject), term) || strings.Contains(strings.ToLower(f.Content), term) {
				return fmt.Sprintf("## Información específica encontrada:\n- %s: %s", f.Fact.Subject, f.Fact.Value)
			}
		}
	}
	return ""
}

func formatPreferences(prefs []types.MemoryRecord) string {
	var lines []string
	for _, p := range prefs {
		if p.Preference == nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", p.Preference.Category, p.Preference.Preference))
	}
	if len(lines) == 0 {
		return ""
	}
	return "## Preferencias del usuario:\n" + strings.Join(lines, "\n")
}

func formatRelationship(prefs []types.MemoryRecord) string {
	for _, p := range prefs {
		rel := p.Relationship
		if rel == nil {
			continue
		}
		lines := []string{"## Información de la relación:"}
		if rel.UserNickname != "" {
			lines = append(lines, "- Llama al usuario: "+rel.UserNickname)
		}
		if rel.GuideNickname != "" {
			lines = append(lines, "- El usuario te llama: "+rel.GuideNickname)
		}
		lines = append(lines,
			"- Tono de comunicación: "+rel.CommunicationTone,
			fmt.Sprintf("- Nivel de intimidad: %d%%", int(math.Round(rel.IntimacyLevel*100))),
		)
		return strings.Join(lines, "\n")
	}
	return ""
}

func formatRelevant(results []types.MemorySearchResult) string {
	if len(results) == 0 {
		return ""
	}
	lines := []string{"## Contexto relevante de conversaciones pasadas:"}
	for i, r := range results {
		if i == relevantLimit {
			break
		}
		lines = append(lines, fmt.Sprintf("- %s (%s)", r.Record.Content, r.Record.Kind))
	}
	return strings.Join(lines, "\n")
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
