package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 2048

// AnthropicClient implements LLMClient using the Anthropic Messages API.
type AnthropicClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicClient creates a new Anthropic client. An empty apiKey falls
// back to the ANTHROPIC_API_KEY environment variable.
func NewAnthropicClient(apiKey, baseURL, model string) *AnthropicClient {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
	}
}

// Chat implements LLMClient
func (c *AnthropicClient) Chat(ctx context.Context, req *LLMRequest) (*LLMResponse, error) {
	model := c.model
	if req.Model != "" {
		model = anthropic.Model(req.Model)
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(req.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Type: "text", Text: req.System},
		}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic API error: %w", err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			return &LLMResponse{
				Content:    block.Text,
				Model:      string(msg.Model),
				TokensUsed: int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
			}, nil
		}
	}

	return nil, fmt.Errorf("no text content in anthropic response")
}

// Provider implements LLMClient
func (c *AnthropicClient) Provider() string {
	return "anthropic"
}

// GetModel returns the current model
func (c *AnthropicClient) GetModel() string {
	return string(c.model)
}
