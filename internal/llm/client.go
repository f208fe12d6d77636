// Package llm abstracts the external model invocation service. The core
// engine only depends on the Client interface; the OpenRouter implementation
// lives alongside it.
package llm

import "context"

// Request is a single completion call.
type Request struct {
	System      string
	Prompt      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Response is the model's answer plus usage accounting.
type Response struct {
	Text       string
	TokensUsed int
}

// Client invokes a chat model. Implementations are expected to be fallible
// and timeout-prone; callers own retry policy.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
