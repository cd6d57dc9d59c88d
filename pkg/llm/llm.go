// Package llm defines the completion boundary used by the workflow and the
// model clients that implement it.
package llm

import (
	"context"
)

// Options tunes a single completion. Zero values defer to the client defaults.
type Options struct {
	Temperature float64
	MaxTokens   int64
}

var (
	// Short is used for one-to-three sentence answers.
	Short = Options{Temperature: 0.3, MaxTokens: 200}
	// Long is used for summaries and explanatory responses.
	Long = Options{Temperature: 0.7}
)

type Client interface {
	// Complete sends a system and user prompt and returns the response text.
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts Options) (string, error)
}

// ModelNamer is implemented by clients that can report the model they call.
type ModelNamer interface {
	Model() string
}

// ModelName returns the client's model, or "unknown".
func ModelName(c Client) string {
	if n, ok := c.(ModelNamer); ok {
		return n.Model()
	}
	return "unknown"
}
