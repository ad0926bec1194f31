package llm

import (
	"context"
)

// LLMRequest represents a single-turn request to the LLM
type LLMRequest struct {
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// LLMResponse represents a complete LLM response
type LLMResponse struct {
	Content    string `json:"content"`
	Model      string `json:"model"`
	TokensUsed int    `json:"tokens_used"`
}

// LLMClient defines the interface for LLM providers
type LLMClient interface {
	// Chat sends a completion request and returns the complete response
	Chat(ctx context.Context, req *LLMRequest) (*LLMResponse, error)

	// Provider names the backing API, used for metrics and logs
	Provider() string

	// GetModel returns the current model
	GetModel() string
}
