package llm

import (
	"context"
	"sync/atomic"
	"unicode/utf8"
)

// Usage accumulates token counts for the calls made under one context. Counts
// are the provider's when it reports them and estimates otherwise.
type Usage struct {
	calls  atomic.Int64
	tokens atomic.Int64
}

func (u *Usage) Calls() int64 {
	return u.calls.Load()
}

func (u *Usage) Tokens() int64 {
	return u.tokens.Load()
}

type usageKey struct{}

// WithUsage returns a context whose completions are counted in the returned Usage.
func WithUsage(ctx context.Context) (context.Context, *Usage) {
	u := &Usage{}
	return context.WithValue(ctx, usageKey{}, u), u
}

func usageFrom(ctx context.Context) *Usage {
	u, _ := ctx.Value(usageKey{}).(*Usage)
	return u
}

// callUsage holds what the provider reported for a single completion.
type callUsage struct {
	reported bool
	tokens   int64
}

type callKey struct{}

// RecordUsage reports the provider's token count for the completion running
// under ctx. Metered bills it in place of its estimate.
func RecordUsage(ctx context.Context, tokens int64) {
	if c, ok := ctx.Value(callKey{}).(*callUsage); ok {
		c.reported = true
		c.tokens += tokens
	}
}

// EstimateTokens approximates a token count at four characters per token.
func EstimateTokens(s string) int64 {
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return 0
	}
	return int64((n + 3) / 4)
}

// Metered wraps a Client and records usage on the call's context.
type Metered struct {
	Client Client
}

func NewMetered(c Client) *Metered {
	return &Metered{Client: c}
}

func (m *Metered) Model() string {
	return ModelName(m.Client)
}

func (m *Metered) Complete(ctx context.Context, systemPrompt, userPrompt string, opts Options) (string, error) {
	call := &callUsage{}
	text, err := m.Client.Complete(context.WithValue(ctx, callKey{}, call), systemPrompt, userPrompt, opts)
	if u := usageFrom(ctx); u != nil {
		u.calls.Add(1)
		if call.reported {
			u.tokens.Add(call.tokens)
		} else {
			u.tokens.Add(EstimateTokens(systemPrompt) + EstimateTokens(userPrompt) + EstimateTokens(text))
		}
	}
	return text, err
}
