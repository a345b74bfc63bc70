// Package llm asks a completion service for SQL and parses its structured answer.
package llm

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"nlsql-workers/internal/common/errors"
	commonhttp "nlsql-workers/internal/common/http"
)

// Completer turns a prompt into raw completion text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type GenAIConfig struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	MaxRetries  int
	MaxTokens   int
	Temperature float64
}

// GenAICompleter calls the platform GenAI service at POST {base}/api/ai/generate.
type GenAICompleter struct {
	client *commonhttp.Client
	config GenAIConfig
}

func NewGenAICompleter(cfg GenAIConfig) *GenAICompleter {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &GenAICompleter{
		client: commonhttp.NewClient(cfg.Timeout, commonhttp.WithRetries(cfg.MaxRetries)),
		config: cfg,
	}
}

type generateRequest struct {
	Prompt         string  `json:"prompt"`
	MaxTokens      int     `json:"max_tokens"`
	Temperature    float64 `json:"temperature"`
	ResponseFormat string  `json:"response_format"`
}

type generateResponse struct {
	Text string `json:"text"`
}

func (c *GenAICompleter) Complete(ctx context.Context, prompt string) (string, error) {
	headers := map[string]string{}
	if c.config.APIKey != "" {
		headers["Authorization"] = "Bearer " + c.config.APIKey
	}

	var resp generateResponse
	err := c.client.PostJSON(ctx, strings.TrimRight(c.config.BaseURL, "/")+"/api/ai/generate", headers, generateRequest{
		Prompt:         prompt,
		MaxTokens:      c.config.MaxTokens,
		Temperature:    c.config.Temperature,
		ResponseFormat: "json",
	}, &resp)
	if err != nil {
		return "", requestError("genai", err)
	}
	return resp.Text, nil
}

func requestError(service string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewLLMTimeoutError(service)
	}
	return errors.NewLLMRequestFailedError(service, err)
}
