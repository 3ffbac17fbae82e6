// Package ai defines the text-completion port (interface). The model behind
// it is an opaque capability; callers only see prompts in, text out.
package ai

import "context"

// Message roles in a conversation transcript.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one exchange entry in a transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion exchange.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Completer is the port interface for the AI text-completion capability.
// Implementations must apply a per-exchange request timeout; callers wrap
// errors at the step level rather than assuming delivery.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}
