package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Prateek-Gupta001/GuideMemory/types"
	"github.com/sony/gobreaker"
)

// BreakerLLM trips after consecutive provider failures so a dead provider
// costs one fast error per call instead of a full timeout.
type BreakerLLM struct {
	Next    LLM
	breaker *gobreaker.CircuitBreaker
}

// callerGaveUp marks a failure caused by the caller's own context, such as a
// per-stage deadline. It is not held against the provider.
type callerGaveUp struct {
	err error
}

func (c *callerGaveUp) Error() string { return c.err.Error() }

func (c *callerGaveUp) Unwrap() error { return c.err }

func NewBreakerLLM(name string, next LLM, maxFailures uint32, openFor time.Duration) *BreakerLLM {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			var gaveUp *callerGaveUp
			return err == nil || errors.As(err, &gaveUp)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("LLM circuit breaker changed state", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &BreakerLLM{Next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerLLM) Complete(ctx context.Context, messages []types.Message, temperature float32) (string, error) {
	out, err := b.breaker.Execute(func() (interface{}, error) {
		out, err := b.Next.Complete(ctx, messages, temperature)
		if err != nil && ctx.Err() != nil {
			return "", &callerGaveUp{err: err}
		}
		return out, err
	})
	var gaveUp *callerGaveUp
	if errors.As(err, &gaveUp) {
		return "", gaveUp.err
	}
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", &ProviderError{Provider: "breaker", Err: err}
		}
		return "", err
	}
	return out.(string), nil
}

func (b *BreakerLLM) State() gobreaker.State {
	return b.breaker.State()
}
