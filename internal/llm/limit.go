package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// LimitedProvider throttles calls to a wrapped provider. The pipeline fans
// out classification across workers, so the limiter is shared by all of them.
type LimitedProvider struct {
	Provider
	limiter *rate.Limiter
}

// NewLimitedProvider wraps p with a token bucket of rps requests per second.
// A non-positive rps returns p unchanged.
func NewLimitedProvider(p Provider, rps float64) Provider {
	if rps <= 0 {
		return p
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &LimitedProvider{Provider: p, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Generate waits for a token and then delegates.
func (l *LimitedProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return l.Provider.Generate(ctx, prompt, maxTokens)
}

// LimitedEmbedder throttles calls to a wrapped embedder.
type LimitedEmbedder struct {
	Embedder
	limiter *rate.Limiter
}

// NewLimitedEmbedder wraps e with a token bucket of rps requests per second.
func NewLimitedEmbedder(e Embedder, rps float64) Embedder {
	if rps <= 0 {
		return e
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &LimitedEmbedder{Embedder: e, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Embed waits for a token and then delegates.
func (l *LimitedEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.Embedder.Embed(ctx, texts)
}
