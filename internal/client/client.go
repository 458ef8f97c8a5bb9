// Package client is an HTTP client for the assignment API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/TimurManjosov/goassign/internal/api"
	"github.com/TimurManjosov/goassign/internal/engine"
)

// ErrNotModified is returned by Registry when the server's ETag matches.
var ErrNotModified = errors.New("registry not modified")

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Response   api.ErrorResponse
}

func (e *APIError) Error() string {
	if e.Response.Message != "" {
		return fmt.Sprintf("API error (status %d, %s): %s", e.StatusCode, e.Response.Code, e.Response.Message)
	}
	return fmt.Sprintf("API error (status %d)", e.StatusCode)
}

// Client talks to an assignment server.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a client for baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Evaluate evaluates one key. A malformed override comes back as the
// fail-safe assignment with resp.Error set, not as an error.
func (c *Client) Evaluate(ctx context.Context, key string, uc engine.UserContext) (*api.EvaluateResponse, error) {
	var out api.EvaluateResponse
	if err := c.do(ctx, http.MethodPost, "/v1/evaluate", api.EvaluateRequest{Key: key, User: uc}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAssignments evaluates every key for uc.
func (c *Client) ListAssignments(ctx context.Context, uc engine.UserContext) (*api.AssignmentsResponse, error) {
	var out api.AssignmentsResponse
	if err := c.do(ctx, http.MethodPost, "/v1/assignments", api.AssignmentsRequest{User: uc}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAssignmentsQuery is ListAssignments over GET, with overrides passed in
// the debug query parameter as "key:value" entries.
func (c *Client) ListAssignmentsQuery(ctx context.Context, uc engine.UserContext, overrides []string) (*api.AssignmentsResponse, error) {
	q := url.Values{}
	setIf(q, "userId", uc.UserID)
	setIf(q, "sessionId", uc.SessionID)
	setIf(q, "email", uc.Email)
	if len(uc.Segments) > 0 {
		q.Set("segments", strings.Join(uc.Segments, ","))
	}
	if len(overrides) > 0 {
		q.Set("ff", strings.Join(overrides, ","))
	}

	var out api.AssignmentsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/assignments?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Registry fetches the registry. With a non-empty etag it returns
// ErrNotModified when nothing changed.
func (c *Client) Registry(ctx context.Context, etag string) (*api.RegistryResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/registry", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, ErrNotModified
	}
	var out api.RegistryResponse
	if err := readResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecordExposure asks the server to evaluate key and record the exposure.
func (c *Client) RecordExposure(ctx context.Context, key string, uc engine.UserContext) (*api.ExposureResponse, error) {
	var out api.ExposureResponse
	if err := c.do(ctx, http.MethodPost, "/v1/events/exposure", api.ExposureRequest{Key: key, User: uc}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RecordConversion(ctx context.Context, key string, uc engine.UserContext, metric string) (bool, error) {
	var out api.EventResponse
	err := c.do(ctx, http.MethodPost, "/v1/events/conversion", api.ConversionRequest{Key: key, User: uc, Metric: metric}, &out)
	return out.Recorded, err
}

func (c *Client) RecordMetric(ctx context.Context, key string, uc engine.UserContext, metric string, value float64) (bool, error) {
	var out api.EventResponse
	err := c.do(ctx, http.MethodPost, "/v1/events/metric", api.MetricRequest{Key: key, User: uc, Metric: metric, Value: &value}, &out)
	return out.Recorded, err
}

// EndSession ends a session on the server, flushing its telemetry.
func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/sessions/"+url.PathEscape(sessionID), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return readResponse(resp, out)
}

func readResponse(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		bodyBytes, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(bodyBytes, &apiErr.Response); err != nil {
			apiErr.Response.Message = strings.TrimSpace(string(bodyBytes))
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}
