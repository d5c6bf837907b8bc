package vectordb

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryDB is an in-process VectorDB with brute-force cosine search. It backs
// VECTOR_BACKEND=memory and the tests.
type MemoryDB struct {
	mu     sync.RWMutex
	points map[string]Point
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{points: make(map[string]Point)}
}

func (m *MemoryDB) Probe(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryDB) Upsert(ctx context.Context, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		m.points[p.ID] = clonePoint(p)
	}
	return nil
}

func (m *MemoryDB) Get(ctx context.Context, ids []string) ([]Point, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Point
	for _, id := range ids {
		if p, ok := m.points[id]; ok {
			out = append(out, clonePoint(p))
		}
	}
	return out, nil
}

func (m *MemoryDB) Query(ctx context.Context, vector []float32, filter Filter, topK int, minScore float32) ([]ScoredPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ScoredPoint
	for _, p := range m.points {
		if !matches(p.Payload, filter) {
			continue
		}
		score := Cosine(vector, p.Vector)
		if score < minScore {
			continue
		}
		out = append(out, ScoredPoint{Point: clonePoint(p), Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (m *MemoryDB) Scroll(ctx context.Context, filter Filter, limit int) ([]Point, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Point
	for _, p := range m.points {
		if matches(p.Payload, filter) {
			out = append(out, clonePoint(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryDB) Delete(ctx context.Context, filter Filter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.points {
		if matches(p.Payload, filter) {
			delete(m.points, id)
		}
	}
	return nil
}

func (m *MemoryDB) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}

func matches(payload map[string]any, f Filter) bool {
	for _, c := range f.Must {
		v, ok := payload[c.Key]
		if !ok {
			return false
		}
		switch {
		case c.Gte != nil:
			n, ok := number(v)
			if !ok || n < *c.Gte {
				return false
			}
		case len(c.AnyOf) > 0:
			s, _ := v.(string)
			found := false
			for _, want := range c.AnyOf {
				if s == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			if s, _ := v.(string); s != c.Equals {
				return false
			}
		}
	}
	return true
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

// Cosine returns the cosine similarity of a and b, 0 when either is empty or
// the lengths differ.
func Cosine(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func clonePoint(p Point) Point {
	c := Point{ID: p.ID}
	if p.Vector != nil {
		c.Vector = append([]float32(nil), p.Vector...)
	}
	c.Payload = make(map[string]any, len(p.Payload))
	for k, v := range p.Payload {
		c.Payload[k] = v
	}
	return c
}
