// Package extract delegates PDF text extraction to an external
// extractor service. Extraction failures surface as parse errors on the
// ingest path, never as panics.
package extract

import (
	"context"
	"time"

	"github.com/hsn0918/memex/internal/config"
	"github.com/hsn0918/memex/pkg/clients/base"
)

const (
	// DefaultTimeout allows for large scanned documents.
	DefaultTimeout = 120 * time.Second
	ServiceName    = "extract"
)

// Extractor pulls plain text out of a PDF payload.
type Extractor interface {
	ExtractText(ctx context.Context, pdfData []byte) (string, error)
	Available() bool
}

// Client implements Extractor over HTTP.
type Client struct {
	httpClient *base.HTTPClient
	cfg        config.ServiceConfig
}

var _ Extractor = (*Client)(nil)

func NewClient(cfg config.ServiceConfig) *Client {
	httpClient := base.NewHTTPClient(ServiceName, cfg.BaseURL, cfg.APIKey, DefaultTimeout)
	return &Client{httpClient: httpClient, cfg: cfg}
}

type Response struct {
	Text string `json:"text"`
}

func (c *Client) Available() bool {
	return c.cfg.BaseURL != ""
}

func (c *Client) ExtractText(ctx context.Context, pdfData []byte) (string, error) {
	var result Response
	if err := c.httpClient.PostBytes(ctx, "/extract", "application/pdf", pdfData, &result); err != nil {
		return "", err
	}
	return result.Text, nil
}
