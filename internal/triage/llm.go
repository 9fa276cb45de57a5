package triage

import "context"

// Provider is the interface for any LLM backend. Implementations make a
// single attempt; retries belong to LLMClient.
type Provider interface {
	Send(ctx context.Context, req *LLMRequest) (*LLMResponse, error)
}

// LLMRequest is one completion request.
type LLMRequest struct {
	MaxTokens int
	Messages  []Message
}

// Message is a single conversation turn. Role is "user" or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLMResponse is the provider's text reply plus accounting.
type LLMResponse struct {
	Text  string
	Model string
	Usage Usage
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
