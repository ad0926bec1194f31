package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient implements LLMClient for OpenAI-compatible chat APIs,
// including DashScope's compatible mode for Qwen models.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	baseURL string
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(apiKey, baseURL, model string) *OpenAIClient {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Retries are handled by Generator.
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(opts...)
	return &OpenAIClient{
		client:  &client,
		model:   model,
		baseURL: baseURL,
	}
}

// Chat implements LLMClient
func (c *OpenAIClient) Chat(ctx context.Context, req *LLMRequest) (*LLMResponse, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:       model,
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in OpenAI response")
	}

	return &LLMResponse{
		Content:    resp.Choices[0].Message.Content,
		Model:      model,
		TokensUsed: int(resp.Usage.TotalTokens),
	}, nil
}

// Provider implements LLMClient
func (c *OpenAIClient) Provider() string {
	return "openai"
}

// GetModel returns the current model
func (c *OpenAIClient) GetModel() string {
	return c.model
}
