package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// WebSearcher answers a web_search tool call with text for the model. It
// never fails; problems are reported in the returned text.
type WebSearcher interface {
	Search(ctx context.Context, query string) string
}

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// GuideSearch answers date and year questions locally and everything else
// through Brave Search when a key is configured.
type GuideSearch struct {
	BraveAPIKey string
	Endpoint    string
	HTTPClient  *http.Client
	Location    *time.Location
	Now         func() time.Time
}

func NewGuideSearch(braveAPIKey string) *GuideSearch {
	loc, err := time.LoadLocation("America/Mexico_City")
	if err != nil {
		loc = time.UTC
	}
	return &GuideSearch{
		BraveAPIKey: braveAPIKey,
		Endpoint:    braveEndpoint,
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
		Location:    loc,
		Now:         time.Now,
	}
}

var (
	weekdaysES = []string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}
	monthsES   = []string{"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre"}
)

func (g *GuideSearch) Search(ctx context.Context, query string) string {
	q := strings.ToLower(query)
	now := g.Now().In(g.Location)
	switch {
	case containsAny(q, "fecha", "día", "hoy", "today"):
		return fmt.Sprintf("Información actual:\nFecha: %s %d de %s de %d\nHora: %s (hora de México)",
			weekdaysES[now.Weekday()], now.Day(), monthsES[now.Month()-1], now.Year(), now.Format("15:04"))
	case containsAny(q, "año", "year"):
		return fmt.Sprintf("Información temporal:\nAño actual: %d\nMes actual: %s", now.Year(), monthsES[now.Month()-1])
	}
	if g.BraveAPIKey == "" {
		return searchUnavailable(query)
	}
	results, err := g.brave(ctx, query)
	if err != nil {
		slog.Error("Got this error while searching the web", "error", err, "query", query)
		return searchUnavailable(query)
	}
	if len(results) == 0 {
		return searchUnavailable(query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Información actualizada de la web sobre %q:\n", query)
	for _, r := range results {
		fmt.Fprintf(&b, "\n%s\n%s\nFuente: %s\n", r.Title, r.Description, r.URL)
	}
	return b.String()
}

type braveResult struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

func (g *GuideSearch) brave(ctx context.Context, query string) ([]braveResult, error) {
	u := g.Endpoint + "?" + url.Values{"q": {query}, "count": {"5"}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", g.BraveAPIKey)
	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave search returned %d", resp.StatusCode)
	}
	var body struct {
		Web struct {
			Results []braveResult `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	results := body.Web.Results
	if len(results) > 3 {
		results = results[:3]
	}
	return results, nil
}

func searchUnavailable(query string) string {
	return fmt.Sprintf("Búsqueda solicitada: %q\nNo hay acceso a información actualizada de la web en este momento. Responde con tu conocimiento y sugiere consultar fuentes confiables.", query)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
