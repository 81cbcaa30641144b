// Package base provides the shared HTTP client used by every external
// service client. It wraps resty with uniform retry behavior, JSON
// codec, and a typed error carrying the originating service and status.
package base

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
)

const (
	DefaultTimeout = 30 * time.Second

	retryCount       = 3
	retryWaitTime    = 1 * time.Second
	retryMaxWaitTime = 5 * time.Second
)

// ClientError describes a failed call to an external service.
type ClientError struct {
	Op         string
	Service    string
	StatusCode int
	Body       string
	Err        error
}

func (e *ClientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("client: %s %s failed with status %d: %v", e.Service, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("client: %s %s failed: %v", e.Service, e.Op, e.Err)
}

func (e *ClientError) Unwrap() error { return e.Err }

func NewClientError(service, op string, err error) *ClientError {
	return &ClientError{Op: op, Service: service, Err: err}
}

func NewHTTPError(service, op string, statusCode int, body string) *ClientError {
	return &ClientError{
		Op:         op,
		Service:    service,
		StatusCode: statusCode,
		Body:       body,
		Err:        fmt.Errorf("HTTP %d: %s", statusCode, body),
	}
}

// HTTPClient is a thin resty wrapper bound to one service.
type HTTPClient struct {
	client  *resty.Client
	service string
}

// NewHTTPClient builds a client for the given service. Transport errors
// and 5xx responses are retried up to three times with backoff; 4xx
// responses surface immediately so callers can inspect the status.
func NewHTTPClient(service, baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(retryWaitTime).
		SetRetryMaxWaitTime(retryMaxWaitTime)

	if apiKey != "" {
		client.SetHeader("Authorization", "Bearer "+apiKey)
	}

	client.JSONMarshal = sonic.Marshal
	client.JSONUnmarshal = sonic.Unmarshal

	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err != nil || r.StatusCode() >= 500
	})

	return &HTTPClient{client: client, service: service}
}

// Post sends a JSON body and decodes a 200 response into result.
func (h *HTTPClient) Post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	resp, err := h.client.R().SetContext(ctx).SetBody(body).SetResult(result).Post(endpoint)
	if err != nil {
		return NewClientError(h.service, "POST "+endpoint, err)
	}
	if resp.StatusCode() != 200 {
		return NewHTTPError(h.service, "POST "+endpoint, resp.StatusCode(), resp.String())
	}
	return nil
}

// PostBytes sends a raw payload with the given content type.
func (h *HTTPClient) PostBytes(ctx context.Context, endpoint, contentType string, payload []byte, result interface{}) error {
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetBody(payload).
		SetResult(result).
		Post(endpoint)
	if err != nil {
		return NewClientError(h.service, "POST "+endpoint, err)
	}
	if resp.StatusCode() != 200 {
		return NewHTTPError(h.service, "POST "+endpoint, resp.StatusCode(), resp.String())
	}
	return nil
}

// Get issues a GET with query params and decodes a 200 response.
func (h *HTTPClient) Get(ctx context.Context, endpoint string, params map[string]string, result interface{}) error {
	req := h.client.R().SetContext(ctx).SetResult(result)
	for k, v := range params {
		req.SetQueryParam(k, v)
	}
	resp, err := req.Get(endpoint)
	if err != nil {
		return NewClientError(h.service, "GET "+endpoint, err)
	}
	if resp.StatusCode() != 200 {
		return NewHTTPError(h.service, "GET "+endpoint, resp.StatusCode(), resp.String())
	}
	return nil
}

// StatusCode extracts the HTTP status from a client error, zero when the
// failure happened before a response arrived.
func StatusCode(err error) int {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.StatusCode
	}
	return 0
}

// ErrorBody extracts the raw response body from a client error.
func ErrorBody(err error) string {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Body
	}
	return ""
}

// IsRetryableError reports whether the failure class is worth retrying.
func IsRetryableError(err error) bool {
	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		return false
	}
	return clientErr.StatusCode >= 500 || clientErr.StatusCode == 0
}
