// Package llm provides the text-generation backend client used by the chat
// relay.
package llm

import (
	"context"
	"iter"
)

// Message is a role-tagged entry of the generation context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the generation backend boundary. Stream yields text fragments
// in arrival order; Complete blocks for the full response.
type Client interface {
	// Complete performs a single-shot completion.
	Complete(ctx context.Context, messages []Message) (string, error)

	// Stream performs a streaming completion, yielding fragments as they
	// arrive. Iteration stops on the first error.
	Stream(ctx context.Context, messages []Message) iter.Seq2[string, error]
}
