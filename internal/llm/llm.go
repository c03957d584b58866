// Package llm adapts chat model backends to the single call shape
// agents need: messages in, assistant text out, bounded by a timeout
// and a retry budget.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/quantclan/HedgeCouncil/internal/capability"
	"github.com/quantclan/HedgeCouncil/internal/config"
	"github.com/quantclan/HedgeCouncil/internal/instrument"
)

// Completer is the capability surface agents depend on.
type Completer interface {
	Complete(ctx context.Context, messages []*schema.Message) (string, error)
}

// Client wraps an eino chat model with per-call timeouts, retries on
// transient failures, and request/response instrumentation.
type Client struct {
	model   model.BaseChatModel
	timeout time.Duration
	retry   capability.RetryPolicy
	log     *slog.Logger
}

// NewClient builds the chat model named by cfg.LLMProvider.
func NewClient(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var cm model.BaseChatModel
	var err error
	switch cfg.LLMProvider {
	case config.ProviderDeepSeek:
		cm, err = deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			APIKey:    cfg.DeepSeekAPIKey,
			Model:     cfg.Model,
			MaxTokens: 8192,
		})
	case config.ProviderOpenAI:
		maxTokens := 8192
		cm, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:   cfg.OpenAIBaseURL,
			APIKey:    cfg.OpenAIAPIKey,
			Model:     cfg.Model,
			MaxTokens: &maxTokens,
		})
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.LLMProvider)
	}
	if err != nil {
		return nil, fmt.Errorf("llm: create %s chat model: %w", cfg.LLMProvider, err)
	}

	policy := capability.DefaultRetryPolicy()
	policy.MaxAttempts = uint(cfg.MaxRetryAttempts)

	return &Client{
		model:   cm,
		timeout: time.Duration(cfg.CompletionTimeoutSec) * time.Second,
		retry:   policy,
		log:     logger,
	}, nil
}

// Complete runs one chat turn. Timeouts and rate limits are retried
// under the configured budget; other API errors end the call.
func (c *Client) Complete(ctx context.Context, messages []*schema.Message) (string, error) {
	out, err := capability.Retry(ctx, c.retry, func() (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		started := time.Now()
		resp, err := c.model.Generate(callCtx, messages)
		if err != nil {
			c.log.Warn("chat completion failed", "err", err, "elapsed", time.Since(started))
			return "", classify(err)
		}
		if resp == nil || resp.Content == "" {
			return "", capability.Transient("llm", errors.New("empty completion"))
		}
		return resp.Content, nil
	})
	if err != nil {
		return "", err
	}

	instrument.RecordLLM(ctx, renderRequest(messages), out)
	return out, nil
}

// classify buckets provider errors so the retry loop knows which ones
// are worth another attempt.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return capability.Transient("llm", err)
	}
	if errors.Is(err, context.Canceled) {
		return capability.Permanent("llm", err)
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"rate limit", "429", "timeout", "connection reset", "temporarily", "503", "502"} {
		if strings.Contains(msg, marker) {
			return capability.Transient("llm", err)
		}
	}
	return capability.Permanent("llm", err)
}

// renderRequest flattens a message list for the step record.
func renderRequest(messages []*schema.Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s] %s", m.Role, m.Content)
	}
	return b.String()
}
