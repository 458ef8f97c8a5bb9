package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBatch() Batch {
	v := 3.0
	return Batch{
		ID:     "batch-1",
		SentAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Events: []Event{
			{ID: "e1", Type: EventExposure, SubjectKey: "hero_style", VariantOrEnabled: "animated", Identity: "u1", SessionID: "s1"},
			{ID: "e2", Type: EventMetric, SubjectKey: "hero_style", Identity: "u1", SessionID: "s1", MetricName: "clicks", Value: &v},
		},
	}
}

func TestHTTPSink_SignsAndPosts(t *testing.T) {
	var got Batch
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)

		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "batch-1", r.Header.Get("X-Assign-Delivery"))
		assert.True(t, VerifySignature(body, r.Header.Get("X-Assign-Signature"), "s3cret"))
		assert.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL, "s3cret")
	require.NoError(t, sink.Write(context.Background(), sampleBatch()))
	require.Len(t, got.Events, 2)
	assert.Equal(t, "clicks", got.Events[1].MetricName)
}

func TestHTTPSink_NoSecretNoSignature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("X-Assign-Signature"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, NewHTTPSink(srv.URL, "").Write(context.Background(), sampleBatch()))
}

func TestHTTPSink_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusUnauthorized, true},
		{http.StatusRequestTimeout, false},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("nope"))
			}))
			defer srv.Close()

			err := NewHTTPSink(srv.URL, "").Write(context.Background(), sampleBatch())
			require.Error(t, err)

			var perr *backoff.PermanentError
			assert.Equal(t, tt.permanent, errors.As(err, &perr))

			var serr *StatusError
			require.True(t, errors.As(err, &serr))
			assert.Equal(t, tt.status, serr.StatusCode)
			assert.Equal(t, "nope", serr.Body)
		})
	}
}

func TestHTTPSink_NetworkErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewHTTPSink(url, "").Write(context.Background(), sampleBatch())
	require.Error(t, err)
	var perr *backoff.PermanentError
	assert.False(t, errors.As(err, &perr))
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Log: zerolog.New(&buf)}

	require.NoError(t, sink.Write(context.Background(), sampleBatch()))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, "telemetry event", first["message"])
	assert.Equal(t, "hero_style", first["key"])
	assert.Equal(t, "animated", first["value"])
	assert.Equal(t, "batch-1", first["batch"])

	var second map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &second))
	assert.Equal(t, 3.0, second["metric_value"])
}

func TestConnectRedis_InvalidURL(t *testing.T) {
	_, err := ConnectRedis(context.Background(), "not-a-url", 1, time.Millisecond)
	assert.ErrorIs(t, err, ErrRedisURL)
}

// Runs against a real server when ASSIGN_TEST_REDIS_URL is set.
func TestRedisSink_Integration(t *testing.T) {
	url := os.Getenv("ASSIGN_TEST_REDIS_URL")
	if url == "" {
		t.Skip("ASSIGN_TEST_REDIS_URL not set, skipping redis integration test")
	}
	ctx := context.Background()
	client, err := ConnectRedis(ctx, url, 3, 100*time.Millisecond)
	require.NoError(t, err)
	defer client.Close()

	stream := "assign:test:" + time.Now().Format("150405.000000")
	defer client.Del(ctx, stream)

	sink := &RedisSink{Client: client, Stream: stream, MaxLen: 1000}
	require.NoError(t, sink.Write(ctx, sampleBatch()))

	entries, err := client.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "e1", entries[0].Values["id"])
	assert.Equal(t, "batch-1", entries[1].Values["batch"])

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(entries[1].Values["payload"].(string)), &ev))
	assert.Equal(t, "clicks", ev.MetricName)
}

func TestRedisSink_EmptyBatch(t *testing.T) {
	sink := &RedisSink{Client: redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), Stream: "unused"}
	assert.NoError(t, sink.Write(context.Background(), Batch{ID: "empty"}))
}
