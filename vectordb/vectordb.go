package vectordb

import (
	"context"
	"errors"
)

// Point is a vector plus a flat payload of scalars (string, float64, int64, bool).
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

type ScoredPoint struct {
	Point
	Score float32
}

// Condition matches one payload key. Exactly one of Equals, AnyOf or Gte is used.
type Condition struct {
	Key    string
	Equals string
	AnyOf  []string
	Gte    *float64
}

// Filter is a conjunction of conditions.
type Filter struct {
	Must []Condition
}

func Match(key, value string) Condition {
	return Condition{Key: key, Equals: value}
}

func MatchAny(key string, values ...string) Condition {
	return Condition{Key: key, AnyOf: values}
}

func AtLeast(key string, v float64) Condition {
	return Condition{Key: key, Gte: &v}
}

var ErrUnavailable = errors.New("vector store unavailable")

type VectorDB interface {
	// Probe checks that the backend and its collection are usable.
	Probe(ctx context.Context) error
	Upsert(ctx context.Context, points []Point) error
	Get(ctx context.Context, ids []string) ([]Point, error)
	Query(ctx context.Context, vector []float32, filter Filter, topK int, minScore float32) ([]ScoredPoint, error)
	// Scroll returns matches in id order. A limit <= 0 returns every match.
	Scroll(ctx context.Context, filter Filter, limit int) ([]Point, error)
	Delete(ctx context.Context, filter Filter) error
}
