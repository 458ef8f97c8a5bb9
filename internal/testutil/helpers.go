// Package testutil holds fixtures shared by tests that need a running
// assignment server.
package testutil

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/TimurManjosov/goassign/internal/api"
	"github.com/TimurManjosov/goassign/internal/engine"
	"github.com/TimurManjosov/goassign/internal/registry"
	"github.com/TimurManjosov/goassign/internal/telemetry"
)

// Definitions returns a small registry: a beta flag, an internal flag and
// a three-arm experiment.
func Definitions() registry.Definitions {
	return registry.Definitions{
		Flags: []registry.FlagDefinition{
			{Name: "beta_checkout", RolloutStage: registry.StageBeta},
			{Name: "driver_map", RolloutStage: registry.StageInternal},
		},
		Experiments: []registry.ExperimentDefinition{
			{Name: "hero_style", Variants: []string{"control", "animated", "cinematic"}, Weights: []int{34, 33, 33}, Active: true},
		},
	}
}

// Sink records every batch written to it.
type Sink struct {
	mu      sync.Mutex
	batches []telemetry.Batch
}

func (s *Sink) Write(_ context.Context, b telemetry.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, b)
	return nil
}

// Events returns all events received so far, in order.
func (s *Sink) Events() []telemetry.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []telemetry.Event
	for _, b := range s.batches {
		out = append(out, b.Events...)
	}
	return out
}

// Server is a running API server backed by a recording sink.
type Server struct {
	*httptest.Server
	Emitter *telemetry.Emitter
	Sink    *Sink
}

// NewServer starts an API server over defs. The emitter is not started, so
// recorded events stay queued until Flush or Close. Everything is torn
// down with the test.
func NewServer(t *testing.T, defs registry.Definitions, opts ...engine.Option) *Server {
	t.Helper()
	reg, err := registry.New(defs)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	sink := &Sink{}
	em := telemetry.NewEmitter(sink)
	ts := httptest.NewServer(api.NewServer(engine.New(reg, opts...), em).Router())
	t.Cleanup(func() {
		ts.Close()
		_ = em.Close(context.Background())
	})
	return &Server{Server: ts, Emitter: em, Sink: sink}
}

// HTTPRequest is a helper for making test HTTP requests.
type HTTPRequest struct {
	Method  string
	Path    string
	Body    string
	Headers map[string]string
}

// Do executes the HTTP request and returns the response recorder.
func (r *HTTPRequest) Do(t *testing.T, handler http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if r.Body != "" {
		body = bytes.NewBufferString(r.Body)
	}
	req := httptest.NewRequest(r.Method, r.Path, body)
	if r.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}
