package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/TimurManjosov/goassign/internal/api"
	"github.com/TimurManjosov/goassign/internal/config"
	"github.com/TimurManjosov/goassign/internal/engine"
	"github.com/TimurManjosov/goassign/internal/logging"
	"github.com/TimurManjosov/goassign/internal/store"
	"github.com/TimurManjosov/goassign/internal/telemetry"
	"github.com/TimurManjosov/goassign/internal/tracing"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout).
		With().Str("env", cfg.AppEnv).Logger()

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
	log.Info().Msg("stopped")
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, "goassign", cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	src, err := store.NewSource(ctx, cfg.RegistrySource, cfg.RegistryPath, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("registry source: %w", err)
	}
	defer src.Close()

	reg, err := store.LoadRegistry(ctx, src)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	telemetry.Init()
	telemetry.RegistryKeys.Set(float64(reg.Len()))
	log.Info().
		Str("source", cfg.RegistrySource).
		Int("keys", reg.Len()).
		Str("etag", reg.ETag()).
		Msg("registry loaded")

	eng := engine.New(reg,
		engine.WithSalt(cfg.HashSalt),
		engine.WithInternalSegment(cfg.InternalSegment),
		engine.WithLogger(log),
	)

	sink, closeSink, err := newSink(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("telemetry sink: %w", err)
	}
	defer closeSink()

	emitter := telemetry.NewEmitter(sink,
		telemetry.WithQueueSize(cfg.TelemetryQueueSize),
		telemetry.WithBatchSize(cfg.TelemetryBatchSize),
		telemetry.WithFlushInterval(cfg.TelemetryFlushInterval),
		telemetry.WithFlushTimeout(cfg.TelemetryFlushTimeout),
		telemetry.WithMaxAttempts(cfg.TelemetryMaxAttempts),
		telemetry.WithLogger(log),
	)
	emitter.Start()

	srvAPI := api.NewServer(eng, emitter,
		api.WithLogger(log),
		api.WithOverrideParam(cfg.OverrideParam),
		api.WithRateLimit(cfg.RateLimitPerIP),
	)
	apiServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srvAPI.Router(),
		ReadHeaderTimeout: 3 * time.Second,
		ReadTimeout:       5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", telemetry.Handler())
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsRouter,
		ReadHeaderTimeout: 3 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
		return listen(apiServer)
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
		return listen(metricsServer)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := errors.Join(
			apiServer.Shutdown(sctx),
			metricsServer.Shutdown(sctx),
		)
		if cerr := emitter.Close(sctx); cerr != nil {
			log.Warn().Err(cerr).Int("pending", emitter.Pending()).Msg("telemetry not fully flushed")
		}
		return err
	})
	return g.Wait()
}

func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	}
	return nil
}

// newSink builds the configured telemetry sink and a func releasing it.
func newSink(ctx context.Context, cfg *config.Config, log zerolog.Logger) (telemetry.Sink, func(), error) {
	switch cfg.TelemetrySink {
	case config.SinkHTTP:
		return telemetry.NewHTTPSink(cfg.TelemetryURL, cfg.TelemetrySecret), func() {}, nil
	case config.SinkRedis:
		client, err := telemetry.ConnectRedis(ctx, cfg.RedisURL, 5, time.Second)
		if err != nil {
			return nil, nil, err
		}
		sink := &telemetry.RedisSink{Client: client, Stream: cfg.TelemetryStream, MaxLen: cfg.TelemetryStreamMaxLen}
		return sink, func() { _ = client.Close() }, nil
	default:
		return telemetry.LogSink{Log: logging.Component(log, "events")}, func() {}, nil
	}
}
