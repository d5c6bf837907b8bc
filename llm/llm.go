package llm

import (
	"context"
	"fmt"

	"github.com/Prateek-Gupta001/GuideMemory/types"
	"go.opentelemetry.io/otel"
)

// LLM is the language generation provider. Implementations may run a tool
// round-trip internally; callers only see the final text.
type LLM interface {
	Complete(ctx context.Context, messages []types.Message, temperature float32) (string, error)
}

// ProviderError wraps transport, auth and quota failures of a provider.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

var Tracer = otel.Tracer("GuideMemory/llm")

// splitSystem separates system messages from the conversation turns.
func splitSystem(messages []types.Message) (string, []types.Message) {
	var system string
	turns := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == types.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		turns = append(turns, m)
	}
	return system, turns
}
