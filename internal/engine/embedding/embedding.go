// Package embedding turns question text into the vector used for similarity search.
package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"nlsql-workers/internal/common/errors"
	commonhttp "nlsql-workers/internal/common/http"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// HTTPEmbedder calls the platform GenAI service at POST {base}/api/ai/embed.
type HTTPEmbedder struct {
	client  *commonhttp.Client
	baseURL string
	apiKey  string
}

func NewHTTPEmbedder(baseURL, apiKey string, timeout time.Duration, maxRetries int) *HTTPEmbedder {
	return &HTTPEmbedder{
		client:  commonhttp.NewClient(timeout, commonhttp.WithRetries(maxRetries)),
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	headers := map[string]string{}
	if e.apiKey != "" {
		headers["Authorization"] = "Bearer " + e.apiKey
	}

	var resp embedResponse
	if err := e.client.PostJSON(ctx, e.baseURL+"/api/ai/embed", headers, embedRequest{Text: text}, &resp); err != nil {
		return nil, errors.NewEmbeddingFailedError(err)
	}
	if len(resp.Embedding) == 0 {
		return nil, errors.NewEmbeddingFailedError(fmt.Errorf("empty embedding"))
	}
	return resp.Embedding, nil
}

const DefaultGeminiEmbeddingModel = "text-embedding-004"

type GeminiEmbedder struct {
	client *genai.Client
	model  *genai.EmbeddingModel
}

func NewGeminiEmbedder(ctx context.Context, apiKey, model string) (*GeminiEmbedder, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if model == "" {
		model = DefaultGeminiEmbeddingModel
	}
	return &GeminiEmbedder{client: client, model: client.EmbeddingModel(model)}, nil
}

func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := g.model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, errors.NewEmbeddingFailedError(err)
	}
	if res == nil || res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, errors.NewEmbeddingFailedError(fmt.Errorf("empty embedding"))
	}
	return res.Embedding.Values, nil
}

func (g *GeminiEmbedder) Close() error {
	return g.client.Close()
}
