package embed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
)

// Embed converts text into a fixed-length vector.
type Embed interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// MinTextLength is the shortest text (in runes, after trimming) worth embedding.
const MinTextLength = 2

var ErrTextTooShort = errors.New("text too short to embed")

type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s embeddings: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

var Tracer = otel.Tracer("GuideMemory/embed")

// checkText trims text and rejects anything shorter than MinTextLength.
func checkText(provider, text string) (string, error) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < MinTextLength {
		return "", &ProviderError{Provider: provider, Err: ErrTextTooShort}
	}
	return text, nil
}
