package llm

import "context"

// Message is one turn of a chat completion conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is the token accounting returned with each completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// TokenSink receives per-call token usage. Implementations must be safe for
// concurrent use.
type TokenSink interface {
	AddTokens(model string, usage Usage)
}

// Provider is the interface all LLM implementations must satisfy.
type Provider interface {
	// Chat runs a chat completion. When jsonMode is set the provider asks
	// the model for a JSON object response.
	Chat(ctx context.Context, model string, messages []Message, jsonMode bool) (string, Usage, error)
	// ChatVision runs a completion with an attached image.
	ChatVision(ctx context.Context, model, prompt string, image []byte) (string, Usage, error)
}
