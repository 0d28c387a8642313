// Package llm is the contract between the coaching step and the language
// models that grade interview answers.
//
// Backends live in sub-packages (openai, anyllm). Coaching asks for one JSON
// object per answer, so the contract is a single blocking completion call;
// there is no streaming or tool use.
package llm

import (
	"context"
	"errors"
)

// ErrNoMessages is returned for a request without any message.
var ErrNoMessages = errors.New("llm: request has no messages")

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// jsonInstruction is appended to the system prompt by backends that cannot
// switch the model into a JSON-only output mode.
const jsonInstruction = "Respond with a single JSON object and nothing else."

// Message is one turn of the prompt.
type Message struct {
	Role    string
	Content string
}

// Usage is token accounting as reported by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest is one grading prompt.
type CompletionRequest struct {
	// SystemPrompt goes first, ahead of Messages.
	SystemPrompt string
	Messages     []Message

	// Temperature in [0, 2]; 0 leaves the backend default.
	Temperature float64
	// MaxTokens caps the reply; 0 leaves the backend default.
	MaxTokens int

	// JSONMode asks for a single JSON object. Callers still parse
	// defensively: not every model honours it.
	JSONMode bool
}

// Validate reports requests no backend can serve.
func (r CompletionRequest) Validate() error {
	if len(r.Messages) == 0 {
		return ErrNoMessages
	}
	return nil
}

// SystemPromptFor returns the system prompt a backend without a native JSON
// switch should send: SystemPrompt, plus an explicit instruction in JSON mode.
func (r CompletionRequest) SystemPromptFor(nativeJSON bool) string {
	if !r.JSONMode || nativeJSON {
		return r.SystemPrompt
	}
	if r.SystemPrompt == "" {
		return jsonInstruction
	}
	return r.SystemPrompt + "\n\n" + jsonInstruction
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	Content string
	// Model names the model that produced Content.
	Model string
	Usage Usage
}

// Provider is a language model backend. Implementations must be safe for
// concurrent use and return promptly once ctx is done.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
