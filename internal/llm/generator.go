package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/cenkalti/backoff/v5"
	"github.com/openai/openai-go"

	"sqlagent-backend/internal/metrics"
)

// ErrEmptyCompletion is returned when the model answers with blank text.
var ErrEmptyCompletion = errors.New("empty completion")

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	Logger *slog.Logger
	Client LLMClient

	Temperature float64
	MaxTokens   int

	// MaxTries bounds calls per Generate, including the first one.
	MaxTries uint

	// RetryInterval is the initial backoff between tries.
	RetryInterval time.Duration
}

func (cfg *GeneratorConfig) validate() error {
	if cfg.Client == nil {
		return errors.New("llm client is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	return nil
}

// Generator renders prompt templates and sends them to an LLMClient,
// retrying transient failures with exponential backoff.
type Generator struct {
	log *slog.Logger
	cfg GeneratorConfig
}

// NewGenerator creates a Generator from cfg.
func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Generator{log: cfg.Logger, cfg: cfg}, nil
}

// Generate renders p with vars and returns the model's text.
func (g *Generator) Generate(ctx context.Context, p Prompt, vars map[string]string) (string, error) {
	userPrompt, err := p.Render(vars)
	if err != nil {
		return "", err
	}

	provider := g.cfg.Client.Provider()
	start := time.Now()
	g.log.Debug("llm: call starting", "provider", provider, "prompt", p.Name, "promptLen", len(userPrompt))

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.cfg.RetryInterval

	attempt := 0
	resp, err := backoff.Retry(ctx, func() (*LLMResponse, error) {
		attempt++
		resp, err := g.cfg.Client.Chat(ctx, &LLMRequest{
			System:      p.System,
			Prompt:      userPrompt,
			MaxTokens:   g.cfg.MaxTokens,
			Temperature: g.cfg.Temperature,
		})
		if err != nil {
			if !IsRetryableError(err) {
				return nil, backoff.Permanent(err)
			}
			g.log.Warn("llm: call failed, retrying", "provider", provider, "attempt", attempt, "error", err)
			return nil, err
		}
		return resp, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(g.cfg.MaxTries))

	duration := time.Since(start)
	if err != nil {
		metrics.LLMCallsTotal.WithLabelValues(provider, "error").Inc()
		g.log.Error("llm: call failed", "provider", provider, "prompt", p.Name, "attempts", attempt, "duration", duration, "error", err)
		return "", fmt.Errorf("failed to generate %s: %w", p.Name, err)
	}

	metrics.LLMCallsTotal.WithLabelValues(provider, "success").Inc()
	g.log.Debug("llm: call completed", "provider", provider, "prompt", p.Name, "duration", duration, "tokens", resp.TokensUsed)

	if strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("%w from %s", ErrEmptyCompletion, provider)
	}
	return resp.Content, nil
}

// IsRetryableError reports whether err is worth another try: rate limits,
// server errors and transient network failures.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var oaiErr *openai.Error
	if errors.As(err, &oaiErr) {
		return isRetryableStatus(oaiErr.StatusCode)
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return isRetryableStatus(antErr.StatusCode)
	}

	errStr := strings.ToLower(err.Error())
	for _, retryable := range []string{
		"timeout",
		"connection reset",
		"connection refused",
		"temporary failure",
		"rate limit",
		"server error",
		"eof",
	} {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}
	return false
}

func isRetryableStatus(code int) bool {
	return code == 408 || code == 409 || code == 429 || code >= 500
}
