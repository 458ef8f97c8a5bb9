// Package telemetry records exposure, conversion and metric events and
// delivers them to an analytics sink off the evaluation path.
//
// Recording never blocks and never fails the caller: events go into a bounded
// queue (newest dropped when full) drained by one background worker, which
// batches them and retries the sink with exponential backoff up to a fixed
// number of attempts before dropping the batch.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/TimurManjosov/goassign/internal/engine"
)

const (
	DefaultQueueSize     = 1000
	DefaultBatchSize     = 50
	DefaultFlushInterval = 2 * time.Second
	DefaultMaxAttempts   = 4
	DefaultFlushTimeout  = 2 * time.Second
)

// ErrClosed is returned by Flush after Close.
var ErrClosed = errors.New("telemetry emitter closed")

// Emitter queues telemetry events and delivers them in batches to a Sink.
type Emitter struct {
	sink    Sink
	log     zerolog.Logger
	tracer  trace.Tracer
	now     func() time.Time
	exposed *exposureSet

	queueSize     int
	batchSize     int
	flushInterval time.Duration
	flushTimeout  time.Duration
	maxAttempts   uint
	retryInitial  time.Duration
	retryMax      time.Duration

	queue   chan Event
	flushes chan chan struct{}
	stop    chan struct{}
	done    chan struct{}

	// ctx bounds in-flight deliveries; cancelled when Close gives up waiting.
	ctx    context.Context
	cancel context.CancelFunc

	// mu orders enqueue against Close: read-held across the closed check and
	// the send, write-held while closing.
	mu      sync.RWMutex
	started atomic.Bool
	closed  atomic.Bool
}

// Option configures an Emitter.
type Option func(*Emitter)

func WithQueueSize(n int) Option {
	return func(e *Emitter) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

func WithBatchSize(n int) Option {
	return func(e *Emitter) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(e *Emitter) {
		if d > 0 {
			e.flushInterval = d
		}
	}
}

// WithFlushTimeout bounds the best-effort flush performed by EndSession.
func WithFlushTimeout(d time.Duration) Option {
	return func(e *Emitter) {
		if d > 0 {
			e.flushTimeout = d
		}
	}
}

// WithMaxAttempts sets how many times a batch is offered to the sink.
func WithMaxAttempts(n int) Option {
	return func(e *Emitter) {
		if n > 0 {
			e.maxAttempts = uint(n)
		}
	}
}

// WithRetryBackoff sets the initial and maximum retry intervals.
func WithRetryBackoff(initial, maxInterval time.Duration) Option {
	return func(e *Emitter) {
		e.retryInitial = initial
		e.retryMax = maxInterval
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Emitter) { e.log = l.With().Str("component", "telemetry").Logger() }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Emitter) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithNow overrides the event timestamp source.
func WithNow(now func() time.Time) Option {
	return func(e *Emitter) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEmitter creates an emitter delivering to sink. Call Start to begin
// delivery and Close to stop it.
func NewEmitter(sink Sink, opts ...Option) *Emitter {
	e := &Emitter{
		sink:          sink,
		log:           zerolog.Nop(),
		tracer:        otel.Tracer("github.com/TimurManjosov/goassign/internal/telemetry"),
		now:           func() time.Time { return time.Now().UTC() },
		exposed:       newExposureSet(),
		queueSize:     DefaultQueueSize,
		batchSize:     DefaultBatchSize,
		flushInterval: DefaultFlushInterval,
		flushTimeout:  DefaultFlushTimeout,
		maxAttempts:   DefaultMaxAttempts,
		retryInitial:  200 * time.Millisecond,
		retryMax:      5 * time.Second,
		flushes:       make(chan chan struct{}),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.queue = make(chan Event, e.queueSize)
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e
}

// Start launches the delivery worker. Calling it more than once is a no-op.
func (e *Emitter) Start() {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	go e.worker()
}

// RecordExposure records the first time a decision is shown to an identity
// in a session. Repeated calls for the same (identity, key) pair in the same
// session are no-ops. Reports whether an event was queued.
func (e *Emitter) RecordExposure(a engine.Assignment, uc engine.UserContext) bool {
	identity := uc.Identity()
	if !e.exposed.add(uc.SessionID, identity, a.Key, a.Value) {
		Events.WithLabelValues(string(EventExposure), OutcomeDuplicate).Inc()
		return false
	}

	ev := newEvent(EventExposure, a.Key, uc, e.now())
	ev.Kind = a.Kind
	ev.VariantOrEnabled = a.Value
	ev.Source = a.Source
	if !e.enqueue(ev) {
		// let a later render report the exposure again
		e.exposed.remove(uc.SessionID, identity, a.Key)
		return false
	}
	return true
}

// RecordConversion records a conversion for key. Conversions are never
// deduplicated. metricName may be empty.
func (e *Emitter) RecordConversion(key string, uc engine.UserContext, metricName string) bool {
	ev := newEvent(EventConversion, key, uc, e.now())
	ev.MetricName = metricName
	e.attachExposure(&ev, uc)
	return e.enqueue(ev)
}

// RecordMetric records a numeric observation for key. Never deduplicated.
func (e *Emitter) RecordMetric(key string, uc engine.UserContext, metricName string, value float64) bool {
	ev := newEvent(EventMetric, key, uc, e.now())
	ev.MetricName = metricName
	ev.Value = &value
	e.attachExposure(&ev, uc)
	return e.enqueue(ev)
}

// EndSession forgets the session's exposures and flushes pending events,
// giving up after the configured flush timeout.
func (e *Emitter) EndSession(ctx context.Context, sessionID string) error {
	n := e.exposed.clear(sessionID)
	e.log.Debug().Str("session", sessionID).Int("exposures", n).Msg("session ended")

	ctx, cancel := context.WithTimeout(ctx, e.flushTimeout)
	defer cancel()
	if err := e.Flush(ctx); err != nil {
		e.log.Warn().Err(err).Str("session", sessionID).Msg("session flush abandoned")
		return err
	}
	return nil
}

// Flush asks the worker to deliver everything queued so far and waits until
// it has, or until ctx is done. Abandoning the wait does not cancel delivery.
func (e *Emitter) Flush(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if !e.started.Load() {
		return nil
	}
	ack := make(chan struct{})
	select {
	case e.flushes <- ack:
	case <-e.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events, delivers what is queued and waits for the
// worker. If ctx ends first, remaining deliveries are cancelled and ctx.Err
// is returned without waiting further. Close is safe to call more than once.
func (e *Emitter) Close(ctx context.Context) error {
	e.mu.Lock()
	swapped := e.closed.CompareAndSwap(false, true)
	e.mu.Unlock()
	if !swapped {
		return nil
	}
	if !e.started.Load() {
		e.cancel()
		return nil
	}
	close(e.stop)
	select {
	case <-e.done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		return ctx.Err()
	}
}

// Pending returns the number of queued events.
func (e *Emitter) Pending() int {
	return len(e.queue)
}

func (e *Emitter) attachExposure(ev *Event, uc engine.UserContext) {
	if v, ok := e.exposed.exposed(uc.SessionID, ev.Identity, ev.SubjectKey); ok {
		ev.VariantOrEnabled = v
	}
}

func (e *Emitter) enqueue(ev Event) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed.Load() {
		Events.WithLabelValues(string(ev.Type), OutcomeDropped).Inc()
		e.log.Warn().Str("type", string(ev.Type)).Str("key", ev.SubjectKey).Msg("emitter closed, dropping event")
		return false
	}
	select {
	case e.queue <- ev:
		Events.WithLabelValues(string(ev.Type), OutcomeQueued).Inc()
		QueueDepth.Set(float64(len(e.queue)))
		return true
	default:
		Events.WithLabelValues(string(ev.Type), OutcomeDropped).Inc()
		e.log.Warn().
			Int("queue_size", e.queueSize).
			Str("type", string(ev.Type)).
			Str("key", ev.SubjectKey).
			Str("identity", ev.Identity).
			Msg("telemetry queue full, dropping event")
		return false
	}
}

func (e *Emitter) worker() {
	defer close(e.done)

	ticker := time.NewTicker(e.flushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, e.batchSize)
	send := func() {
		if len(batch) == 0 {
			return
		}
		e.deliver(batch)
		batch = make([]Event, 0, e.batchSize)
	}
	drain := func() {
		for {
			select {
			case ev := <-e.queue:
				batch = append(batch, ev)
				if len(batch) >= e.batchSize {
					send()
				}
			default:
				QueueDepth.Set(0)
				send()
				return
			}
		}
	}

	for {
		select {
		case ev := <-e.queue:
			QueueDepth.Set(float64(len(e.queue)))
			batch = append(batch, ev)
			if len(batch) >= e.batchSize {
				send()
			}
		case <-ticker.C:
			send()
		case ack := <-e.flushes:
			drain()
			close(ack)
		case <-e.stop:
			drain()
			return
		}
	}
}

func (e *Emitter) deliver(events []Event) {
	batch := Batch{ID: uuid.NewString(), SentAt: e.now(), Events: events}

	ctx, span := e.tracer.Start(e.ctx, "telemetry.deliver", trace.WithAttributes(
		attribute.String("batch.id", batch.ID),
		attribute.Int("batch.size", len(events)),
	))
	defer span.End()

	attempts := 0
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.retryInitial
	bo.MaxInterval = e.retryMax

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		return struct{}{}, e.sink.Write(ctx, batch)
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(e.maxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			e.log.Warn().Err(err).Str("batch", batch.ID).Dur("retry_in", next).Msg("telemetry delivery failed, retrying")
		}),
	)
	span.SetAttributes(attribute.Int("delivery.attempts", attempts))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		Batches.WithLabelValues(OutcomeFailed).Inc()
		countEvents(events, OutcomeFailed)
		e.log.Error().
			Err(fmt.Errorf("deliver batch: %w", err)).
			Str("batch", batch.ID).
			Int("events", len(events)).
			Int("attempts", attempts).
			Msg("dropping telemetry batch")
		return
	}
	Batches.WithLabelValues(OutcomeDelivered).Inc()
	countEvents(events, OutcomeDelivered)
	e.log.Debug().Str("batch", batch.ID).Int("events", len(events)).Int("attempts", attempts).Msg("telemetry batch delivered")
}

func countEvents(events []Event, outcome string) {
	for _, ev := range events {
		Events.WithLabelValues(string(ev.Type), outcome).Inc()
	}
}
