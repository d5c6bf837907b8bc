package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder is a deterministic bag-of-words embedder for offline runs.
// Texts sharing words get positive cosine similarity.
type HashEmbedder struct {
	Dimensions int
}

func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &HashEmbedder{Dimensions: dimensions}
}

func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text, err := checkText("hash", text)
	if err != nil {
		return nil, err
	}
	vec := make([]float32, h.Dimensions)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		f := fnv.New32a()
		f.Write([]byte(w))
		vec[f.Sum32()%uint32(h.Dimensions)] += 1
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// punctuation only; still return a usable vector
		vec[0] = 1
		return vec, nil
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec, nil
}
