package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Sink delivers a batch to an analytics backend. Errors wrapped with
// backoff.Permanent are not retried.
type Sink interface {
	Write(ctx context.Context, batch Batch) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, batch Batch) error

func (f SinkFunc) Write(ctx context.Context, batch Batch) error { return f(ctx, batch) }

// LogSink writes each event as a structured log line.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Write(_ context.Context, batch Batch) error {
	for _, ev := range batch.Events {
		e := s.Log.Info().
			Str("batch", batch.ID).
			Str("event_id", ev.ID).
			Str("type", string(ev.Type)).
			Str("key", ev.SubjectKey).
			Str("identity", ev.Identity).
			Str("session", ev.SessionID).
			Time("at", ev.Timestamp)
		if ev.VariantOrEnabled != nil {
			e = e.Interface("value", ev.VariantOrEnabled)
		}
		if ev.MetricName != "" {
			e = e.Str("metric", ev.MetricName)
		}
		if ev.Value != nil {
			e = e.Float64("metric_value", *ev.Value)
		}
		e.Msg("telemetry event")
	}
	return nil
}

const maxResponseBodySize = 1024

// HTTPSink POSTs batches as JSON, signed with HMAC-SHA256 when a secret is set.
//
// Headers:
//   - X-Assign-Signature: "sha256=<hex>" over the body
//   - X-Assign-Delivery: the batch ID, identical across retries
//
// 2xx is success. 408, 429 and 5xx are retried; other statuses are permanent.
type HTTPSink struct {
	URL    string
	Secret string
	Client *http.Client
}

// NewHTTPSink returns an HTTPSink with a 10s client timeout.
func NewHTTPSink(url, secret string) *HTTPSink {
	return &HTTPSink{
		URL:    url,
		Secret: secret,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("telemetry endpoint returned %d: %s", e.StatusCode, e.Body)
}

func (s *HTTPSink) Write(ctx context.Context, batch Batch) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("marshal batch: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Assign-Delivery", batch.ID)
	if s.Secret != "" {
		req.Header.Set("X-Assign-Signature", Sign(payload, s.Secret))
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	serr := &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	if retryableStatus(resp.StatusCode) {
		return serr
	}
	return backoff.Permanent(serr)
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

// RedisSink appends events to a Redis stream, one entry per event, in a
// single pipeline per batch.
type RedisSink struct {
	Client redis.Cmdable
	Stream string
	// MaxLen caps the stream approximately; 0 means uncapped.
	MaxLen int64
}

func (s *RedisSink) Write(ctx context.Context, batch Batch) error {
	if len(batch.Events) == 0 {
		return nil
	}
	pipe := s.Client.Pipeline()
	for _, ev := range batch.Events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("marshal event %s: %w", ev.ID, err))
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.Stream,
			MaxLen: s.MaxLen,
			Approx: s.MaxLen > 0,
			Values: map[string]any{
				"id":      ev.ID,
				"type":    string(ev.Type),
				"batch":   batch.ID,
				"payload": payload,
			},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("xadd %s: %w", s.Stream, err)
	}
	return nil
}

var (
	ErrRedisURL      = errors.New("invalid redis url")
	ErrRedisNotReady = errors.New("redis not ready")
)

// ConnectRedis parses url and pings the server, retrying up to attempts
// times with interval between tries.
func ConnectRedis(ctx context.Context, url string, attempts int, interval time.Duration) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Join(ErrRedisURL, err)
	}
	if attempts < 1 {
		attempts = 1
	}

	client := redis.NewClient(opts)
	for i := range attempts {
		if err := client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			_ = client.Close()
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(interval):
		}
	}
	_ = client.Close()
	return nil, ErrRedisNotReady
}
