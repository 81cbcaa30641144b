// Package rerank scores search candidates against a query with a
// cross-encoder model. The service is optional; an unconfigured or
// failing endpoint degrades search instead of breaking it.
package rerank

import (
	"context"
	"time"

	"github.com/hsn0918/memex/internal/config"
	"github.com/hsn0918/memex/pkg/clients/base"
)

const (
	DefaultTimeout = 30 * time.Second
	ServiceName    = "rerank"
)

// Reranker is the capability interface consumed by the search pipeline.
type Reranker interface {
	// Rerank returns relevance scores indexed into documents.
	Rerank(ctx context.Context, query string, documents []string) ([]Result, error)
	// Available reports whether the service is configured.
	Available() bool
}

// Client implements Reranker over HTTP.
type Client struct {
	httpClient *base.HTTPClient
	cfg        config.ServiceConfig
}

var _ Reranker = (*Client)(nil)

func NewClient(cfg config.ServiceConfig) *Client {
	httpClient := base.NewHTTPClient(ServiceName, cfg.BaseURL, cfg.APIKey, DefaultTimeout)
	return &Client{httpClient: httpClient, cfg: cfg}
}

type Request struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type Result struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type Response struct {
	Results []Result `json:"results"`
}

func (c *Client) Available() bool {
	return c.cfg.BaseURL != ""
}

func (c *Client) Rerank(ctx context.Context, query string, documents []string) ([]Result, error) {
	var result Response
	req := Request{Model: c.cfg.Model, Query: query, Documents: documents}
	if err := c.httpClient.Post(ctx, "/rerank", req, &result); err != nil {
		return nil, err
	}
	return result.Results, nil
}
