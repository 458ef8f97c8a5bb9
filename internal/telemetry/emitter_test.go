package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TimurManjosov/goassign/internal/engine"
	"github.com/TimurManjosov/goassign/internal/registry"
)

type recordingSink struct {
	mu      sync.Mutex
	batches []Batch
}

func (s *recordingSink) Write(_ context.Context, b Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, b)
	return nil
}

func (s *recordingSink) events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, b := range s.batches {
		out = append(out, b.Events...)
	}
	return out
}

func (s *recordingSink) sizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.batches))
	for i, b := range s.batches {
		out[i] = len(b.Events)
	}
	return out
}

func newTestEmitter(t *testing.T, sink Sink, opts ...Option) *Emitter {
	t.Helper()
	base := []Option{
		WithFlushInterval(time.Hour),
		WithRetryBackoff(time.Millisecond, 2*time.Millisecond),
	}
	e := NewEmitter(sink, append(base, opts...)...)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

var (
	alice = engine.UserContext{UserID: "alice", SessionID: "s-1"}
	hero  = engine.Assignment{Key: "hero_style", Kind: registry.KindExperiment, Value: "animated", Source: engine.SourceComputed}
)

func TestRecordExposure_Idempotent(t *testing.T) {
	e := newTestEmitter(t, &recordingSink{})

	assert.True(t, e.RecordExposure(hero, alice))
	assert.False(t, e.RecordExposure(hero, alice))
	assert.Equal(t, 1, e.Pending())

	other := alice
	other.SessionID = "s-2"
	assert.True(t, e.RecordExposure(hero, other), "dedup is scoped to the session")

	flag := engine.Assignment{Key: "beta_checkout", Kind: registry.KindFlag, Value: false, Source: engine.SourceComputed}
	assert.True(t, e.RecordExposure(flag, alice))
	assert.Equal(t, 3, e.Pending())
}

func TestRecordExposure_ConcurrentSamePair(t *testing.T) {
	e := newTestEmitter(t, &recordingSink{})

	var queued atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if e.RecordExposure(hero, alice) {
				queued.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), queued.Load())
	assert.Equal(t, 1, e.Pending())
}

func TestRecordConversion_NotDeduplicated(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEmitter(t, sink)

	require.True(t, e.RecordExposure(hero, alice))
	for i := 0; i < 3; i++ {
		assert.True(t, e.RecordConversion("hero_style", alice, "purchase"))
	}
	assert.True(t, e.RecordMetric("hero_style", alice, "basket_value", 42.5))

	e.Start()
	require.NoError(t, e.Flush(context.Background()))

	got := sink.events()
	require.Len(t, got, 5)
	for _, ev := range got[1:4] {
		assert.Equal(t, EventConversion, ev.Type)
		assert.Equal(t, "purchase", ev.MetricName)
		assert.Equal(t, "animated", ev.VariantOrEnabled, "conversions carry the exposed variant")
	}
	require.NotNil(t, got[4].Value)
	assert.Equal(t, 42.5, *got[4].Value)
	assert.Equal(t, EventMetric, got[4].Type)
}

func TestEnqueue_DropsNewestWhenFull(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEmitter(t, sink, WithQueueSize(2))

	assert.True(t, e.RecordConversion("k", alice, "first"))
	assert.True(t, e.RecordConversion("k", alice, "second"))
	assert.False(t, e.RecordConversion("k", alice, "third"))

	e.Start()
	require.NoError(t, e.Flush(context.Background()))

	var names []string
	for _, ev := range sink.events() {
		names = append(names, ev.MetricName)
	}
	assert.Equal(t, []string{"first", "second"}, names)
}

func TestRecordExposure_RetriedAfterDrop(t *testing.T) {
	e := newTestEmitter(t, &recordingSink{}, WithQueueSize(1))

	require.True(t, e.RecordConversion("filler", alice, ""))
	assert.False(t, e.RecordExposure(hero, alice), "queue is full")
	assert.Zero(t, e.exposed.len(), "dropped exposure is not remembered")
}

func TestWorker_Batches(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEmitter(t, sink, WithBatchSize(2))

	for i := 0; i < 5; i++ {
		require.True(t, e.RecordConversion("k", alice, ""))
	}
	e.Start()
	require.NoError(t, e.Flush(context.Background()))

	assert.Equal(t, []int{2, 2, 1}, sink.sizes())
}

func TestWorker_FlushInterval(t *testing.T) {
	sink := &recordingSink{}
	e := NewEmitter(sink, WithFlushInterval(10*time.Millisecond), WithBatchSize(100))
	defer e.Close(context.Background())
	e.Start()

	require.True(t, e.RecordConversion("k", alice, ""))
	assert.Eventually(t, func() bool { return len(sink.events()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestDeliver_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	sink := SinkFunc(func(context.Context, Batch) error {
		if calls.Add(1) < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	e := newTestEmitter(t, sink, WithMaxAttempts(4))

	require.True(t, e.RecordConversion("k", alice, ""))
	e.Start()
	require.NoError(t, e.Flush(context.Background()))

	assert.Equal(t, int32(3), calls.Load())
}

func TestDeliver_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	sink := SinkFunc(func(context.Context, Batch) error {
		calls.Add(1)
		return errors.New("unavailable")
	})
	e := newTestEmitter(t, sink, WithMaxAttempts(3))

	require.True(t, e.RecordConversion("k", alice, ""))
	e.Start()
	require.NoError(t, e.Flush(context.Background()), "delivery failures never reach the caller")

	assert.Equal(t, int32(3), calls.Load())
}

func TestDeliver_PermanentErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	sink := SinkFunc(func(context.Context, Batch) error {
		calls.Add(1)
		return backoff.Permanent(errors.New("bad request"))
	})
	e := newTestEmitter(t, sink, WithMaxAttempts(4))

	require.True(t, e.RecordConversion("k", alice, ""))
	e.Start()
	require.NoError(t, e.Flush(context.Background()))

	assert.Equal(t, int32(1), calls.Load())
}

func TestDeliver_BatchIDStableAcrossRetries(t *testing.T) {
	var mu sync.Mutex
	var ids []string
	sink := SinkFunc(func(_ context.Context, b Batch) error {
		mu.Lock()
		defer mu.Unlock()
		ids = append(ids, b.ID)
		if len(ids) == 1 {
			return errors.New("timeout")
		}
		return nil
	})
	e := newTestEmitter(t, sink)

	require.True(t, e.RecordConversion("k", alice, ""))
	e.Start()
	require.NoError(t, e.Flush(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, ids, 2)
	assert.Equal(t, ids[0], ids[1])
}

func TestEndSession_ClearsExposuresAndFlushes(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEmitter(t, sink)
	e.Start()

	require.True(t, e.RecordExposure(hero, alice))
	require.NoError(t, e.EndSession(context.Background(), alice.SessionID))
	assert.Len(t, sink.events(), 1)

	assert.True(t, e.RecordExposure(hero, alice), "a new session exposes again")
}

func TestEndSession_AbandonsFlushAfterDeadline(t *testing.T) {
	release := make(chan struct{})
	sink := SinkFunc(func(ctx context.Context, _ Batch) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	e := newTestEmitter(t, sink, WithFlushTimeout(20*time.Millisecond))
	e.Start()

	require.True(t, e.RecordExposure(hero, alice))
	start := time.Now()
	err := e.EndSession(context.Background(), alice.SessionID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	close(release)
}

func TestClose_DeliversQueuedEvents(t *testing.T) {
	sink := &recordingSink{}
	e := NewEmitter(sink, WithFlushInterval(time.Hour))
	e.Start()

	for i := 0; i < 3; i++ {
		require.True(t, e.RecordConversion("k", alice, ""))
	}
	require.NoError(t, e.Close(context.Background()))
	assert.Len(t, sink.events(), 3)

	assert.False(t, e.RecordConversion("k", alice, ""), "closed emitter drops events")
	assert.NoError(t, e.Close(context.Background()))
	assert.ErrorIs(t, e.Flush(context.Background()), ErrClosed)
}

func TestClose_RacingRecordersLoseNoQueuedEvents(t *testing.T) {
	for round := 0; round < 50; round++ {
		sink := &recordingSink{}
		e := NewEmitter(sink, WithFlushInterval(time.Hour), WithQueueSize(10000))
		e.Start()

		var queued atomic.Int64
		var wg sync.WaitGroup
		begin := make(chan struct{})
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-begin
				for j := 0; j < 100; j++ {
					if e.RecordConversion("k", alice, "") {
						queued.Add(1)
					}
				}
			}()
		}

		close(begin)
		require.NoError(t, e.Close(context.Background()))
		wg.Wait()

		require.Len(t, sink.events(), int(queued.Load()), "round %d: every accepted event is delivered", round)
	}
}

func TestClose_WithoutStart(t *testing.T) {
	e := NewEmitter(&recordingSink{})
	assert.NoError(t, e.Close(context.Background()))
}

func TestEvent_JSONShape(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e := newTestEmitter(t, &recordingSink{}, WithNow(func() time.Time { return now }))

	require.True(t, e.RecordExposure(hero, alice))
	ev := <-e.queue

	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "exposure", m["type"])
	assert.Equal(t, "hero_style", m["subjectKey"])
	assert.Equal(t, "experiment", m["kind"])
	assert.Equal(t, "animated", m["variantOrEnabled"])
	assert.Equal(t, "computed", m["source"])
	assert.Equal(t, "alice", m["identity"])
	assert.Equal(t, "s-1", m["sessionId"])
	assert.Equal(t, "2026-01-02T03:04:05Z", m["timestamp"])
	assert.NotEmpty(t, m["id"])
	assert.NotContains(t, m, "metricName")
	assert.NotContains(t, m, "value")
}

func TestEvent_DisabledFlagKeepsValue(t *testing.T) {
	e := newTestEmitter(t, &recordingSink{})
	off := engine.Assignment{Key: "beta_checkout", Kind: registry.KindFlag, Value: false, Source: engine.SourceDefault}

	require.True(t, e.RecordExposure(off, engine.UserContext{SessionID: "anon"}))
	raw, err := json.Marshal(<-e.queue)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"variantOrEnabled":false`)
	assert.Contains(t, string(raw), `"identity":"anon"`)
}
