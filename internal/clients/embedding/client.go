// Package embedding talks to the Ollama-compatible embedding endpoint.
// Every input in a batch is embedded independently; the endpoint
// enforces a per-input context limit, which surfaces as HTTP 400 with a
// context/length marker in the body.
package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hsn0918/memex/internal/config"
	"github.com/hsn0918/memex/pkg/clients/base"
)

const (
	// DefaultTimeout covers cold model loads on the serving side.
	DefaultTimeout = 120 * time.Second
	ServiceName    = "embedding"
)

// Embedder is the capability the workers and the search pipeline need.
type Embedder interface {
	// Embed returns one vector per input, aligned by index.
	Embed(ctx context.Context, model string, inputs []string) ([][]float32, error)
}

// Client implements Embedder over HTTP.
type Client struct {
	httpClient *base.HTTPClient
	cfg        config.ServiceConfig
}

var _ Embedder = (*Client)(nil)

func NewClient(cfg config.ServiceConfig) *Client {
	httpClient := base.NewHTTPClient(ServiceName, cfg.BaseURL, cfg.APIKey, DefaultTimeout)
	return &Client{httpClient: httpClient, cfg: cfg}
}

type Request struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type Response struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

func (c *Client) Embed(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	var result Response
	req := Request{Model: model, Input: inputs}
	if err := c.httpClient.Post(ctx, "/api/embed", req, &result); err != nil {
		return nil, err
	}
	if len(result.Embeddings) != len(inputs) {
		return nil, base.NewClientError(ServiceName, "embed",
			fmt.Errorf("expected %d embeddings, got %d", len(inputs), len(result.Embeddings)))
	}
	return result.Embeddings, nil
}

// Dimensions returns the vector width for a known embedding model.
// The schema's vector columns are sized from this at startup.
func Dimensions(model string) int {
	switch model {
	case "nomic-embed-text":
		return 768
	case "mxbai-embed-large":
		return 1024
	case "all-minilm":
		return 384
	default:
		return 768
	}
}

// IsContextLengthError reports whether the failure is the endpoint
// rejecting an over-long input, which callers handle by splitting the
// batch rather than retrying it whole.
func IsContextLengthError(err error) bool {
	if base.StatusCode(err) != 400 {
		return false
	}
	body := strings.ToLower(base.ErrorBody(err))
	return strings.Contains(body, "context") || strings.Contains(body, "length") ||
		strings.Contains(body, "too long")
}
