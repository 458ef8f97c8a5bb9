// Package api exposes the assignment engine and telemetry recording over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/TimurManjosov/goassign/internal/engine"
	"github.com/TimurManjosov/goassign/internal/override"
	"github.com/TimurManjosov/goassign/internal/telemetry"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// Recorder receives telemetry for evaluated assignments.
// *telemetry.Emitter implements it.
type Recorder interface {
	RecordExposure(a engine.Assignment, uc engine.UserContext) bool
	RecordConversion(key string, uc engine.UserContext, metricName string) bool
	RecordMetric(key string, uc engine.UserContext, metricName string, value float64) bool
	EndSession(ctx context.Context, sessionID string) error
}

type Server struct {
	engine        *engine.Engine
	recorder      Recorder
	log           zerolog.Logger
	tracer        trace.Tracer
	overrideParam string
	ratePerMinute int
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l.With().Str("component", "api").Logger() }
}

// WithOverrideParam sets the query parameter carrying debug overrides.
func WithOverrideParam(name string) Option {
	return func(s *Server) {
		if name != "" {
			s.overrideParam = name
		}
	}
}

// WithRateLimit limits the event endpoints to n requests per minute per IP.
// Zero disables the limit.
func WithRateLimit(n int) Option {
	return func(s *Server) { s.ratePerMinute = n }
}

func NewServer(eng *engine.Engine, rec Recorder, opts ...Option) *Server {
	s := &Server{
		engine:        eng,
		recorder:      rec,
		log:           zerolog.Nop(),
		tracer:        otel.Tracer("github.com/TimurManjosov/goassign/internal/api"),
		overrideParam: override.DefaultQueryParam,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Second))
	r.Use(telemetry.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/v1/registry", s.handleRegistry)
	r.Post("/v1/evaluate", s.handleEvaluate)
	r.Post("/v1/assignments", s.handleAssignments)
	r.Get("/v1/assignments", s.handleAssignmentsGET)

	r.Group(func(r chi.Router) {
		if s.ratePerMinute > 0 {
			r.Use(httprate.Limit(s.ratePerMinute, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(RateLimitedError),
			))
		}
		r.Post("/v1/events/exposure", s.handleExposure)
		r.Post("/v1/events/conversion", s.handleConversion)
		r.Post("/v1/events/metric", s.handleMetric)
		r.Delete("/v1/sessions/{sessionID}", s.handleEndSession)
	})

	return r
}
