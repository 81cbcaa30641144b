// Package tagger talks to the named-entity tagging service. The tagger
// is optional: when unconfigured, PII scanning falls back to regex-only
// signals and the concept backfill stays idle.
package tagger

import (
	"context"
	"time"

	"github.com/hsn0918/memex/internal/config"
	"github.com/hsn0918/memex/pkg/clients/base"
)

const (
	DefaultTimeout = 60 * time.Second
	ServiceName    = "tagger"

	// maxTagChars bounds the text sent per request; entity density past
	// this point adds nothing to either signal.
	maxTagChars = 10000
)

// LabelPerson marks entities that flip the PII verdict.
const LabelPerson = "PERSON"

// Entity is one tagged span.
type Entity struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}

// Tagger is the capability interface for named-entity extraction.
type Tagger interface {
	Tag(ctx context.Context, text string) ([]Entity, error)
	Available() bool
}

// Client implements Tagger over HTTP.
type Client struct {
	httpClient *base.HTTPClient
	cfg        config.ServiceConfig
}

var _ Tagger = (*Client)(nil)

func NewClient(cfg config.ServiceConfig) *Client {
	httpClient := base.NewHTTPClient(ServiceName, cfg.BaseURL, cfg.APIKey, DefaultTimeout)
	return &Client{httpClient: httpClient, cfg: cfg}
}

type Request struct {
	Text string `json:"text"`
}

type Response struct {
	Entities []Entity `json:"entities"`
}

func (c *Client) Available() bool {
	return c.cfg.BaseURL != ""
}

func (c *Client) Tag(ctx context.Context, text string) ([]Entity, error) {
	runes := []rune(text)
	if len(runes) > maxTagChars {
		text = string(runes[:maxTagChars])
	}

	var result Response
	if err := c.httpClient.Post(ctx, "/tag", Request{Text: text}, &result); err != nil {
		return nil, err
	}
	return result.Entities, nil
}
