package embed

import (
	"context"
	"log/slog"
	"strings"
)

type VectorCache interface {
	GetVector(ctx context.Context, text string) ([]float32, bool, error)
	SetVector(ctx context.Context, text string, vec []float32) error
}

// CachedEmbedder serves repeated texts from a cache. Cache failures fall
// through to the provider.
type CachedEmbedder struct {
	Next  Embed
	Cache VectorCache
}

func NewCachedEmbedder(next Embed, cache VectorCache) *CachedEmbedder {
	return &CachedEmbedder{Next: next, Cache: cache}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if vec, ok, err := c.Cache.GetVector(ctx, text); err == nil && ok {
		return vec, nil
	}
	vec, err := c.Next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.Cache.SetVector(ctx, text, vec); err != nil {
		slog.Warn("Could not cache embedding", "error", err)
	}
	return vec, nil
}
