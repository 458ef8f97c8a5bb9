// Package engine decides, for a user context, which flags are enabled and
// which experiment variants are shown.
//
// Evaluation order for a key:
//  1. Unknown key → fail-safe default (flag off / control), logged as a warning
//  2. Inactive definition (flag stage off, experiment inactive) → same default
//  3. Override present in the context → returned as-is (no hashing);
//     a malformed override yields the default AND an override error
//  4. Otherwise bucket = Hasher(identity, key), then RolloutPolicy (flags)
//     or variant selection (experiments). A context with no identity gets
//     the default whenever the outcome would depend on the bucket.
//
// Evaluation reads only the immutable registry and the caller's context, has
// no side effects besides diagnostics logging, and is safe for concurrent use.
// Exposure telemetry is the caller's job (see package telemetry).
package engine

import (
	"github.com/rs/zerolog"

	"github.com/TimurManjosov/goassign/internal/override"
	"github.com/TimurManjosov/goassign/internal/registry"
	"github.com/TimurManjosov/goassign/internal/rollout"
	"github.com/TimurManjosov/goassign/internal/targeting"
)

// Engine composes the registry, hasher, rollout policy, variant selection and
// override resolution behind a single Evaluate entry point.
type Engine struct {
	reg     *registry.Registry
	hasher  rollout.Hasher
	policy  rollout.Policy
	matcher *targeting.Matcher
	clock   Clock
	log     zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithHasher replaces the default xxHash bucketing.
func WithHasher(h rollout.Hasher) Option {
	return func(e *Engine) {
		if h != nil {
			e.hasher = h
		}
	}
}

// WithSalt appends salt to every hash input.
func WithSalt(salt string) Option {
	return func(e *Engine) { e.hasher = rollout.XXHasher{Salt: salt} }
}

// WithInternalSegment sets the segment gating the internal stage.
func WithInternalSegment(id string) Option {
	return func(e *Engine) { e.policy.InternalSegment = id }
}

// WithClock sets the clock used for Assignment.EvaluatedAt.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l.With().Str("component", "engine").Logger() }
}

// New builds an engine over reg.
func New(reg *registry.Registry, opts ...Option) *Engine {
	e := &Engine{
		reg:    reg,
		hasher: rollout.XXHasher{},
		clock:  SystemClock{},
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	rules := reg.SegmentRules()
	if len(rules) > 0 {
		converted := make([]targeting.SegmentRule, len(rules))
		for i, r := range rules {
			converted[i] = targeting.SegmentRule{Segment: r.ID, Expression: r.Rule}
		}
		e.matcher = targeting.NewMatcher(converted)
	}
	return e
}

// Registry returns the registry the engine evaluates against.
func (e *Engine) Registry() *registry.Registry {
	return e.reg
}

// Evaluate returns the assignment for key, dispatching on the key's kind.
// Unknown keys are reported as disabled flags with SourceDefault.
//
// The returned error is non-nil only for a malformed override, in which case
// the assignment is still the usable fail-safe default.
func (e *Engine) Evaluate(key string, uc UserContext) (Assignment, error) {
	kind, ok := e.reg.Kind(key)
	if !ok {
		e.log.Warn().Str("key", key).Msg("unknown key, using fail-safe default")
		return e.fallback(key, registry.KindFlag, false), nil
	}
	if kind == registry.KindExperiment {
		return e.EvaluateExperiment(key, uc)
	}
	return e.EvaluateFlag(key, uc)
}

// EvaluateFlag evaluates key as a flag.
func (e *Engine) EvaluateFlag(key string, uc UserContext) (Assignment, error) {
	def, ok := e.reg.Flag(key)
	if !ok {
		e.log.Warn().Str("key", key).Str("kind", string(registry.KindFlag)).Msg("unknown key, using fail-safe default")
		return e.fallback(key, registry.KindFlag, false), nil
	}
	if def.Inactive() {
		return e.fallback(key, registry.KindFlag, false), nil
	}

	v, present, err := override.Flag(def, uc.Overrides)
	if err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("ignoring invalid override")
		return e.fallback(key, registry.KindFlag, false), err
	}
	if present {
		return e.assignment(key, registry.KindFlag, v, SourceOverride), nil
	}

	segments := e.segments(uc)
	bucket := e.bucket(key, uc)
	if bucket < 0 && e.policy.NeedsBucket(def, segments) {
		e.log.Warn().Str("key", key).Msg("no identity in context, using fail-safe default")
		return e.fallback(key, registry.KindFlag, false), nil
	}
	enabled := e.policy.IsEnabled(def, segments, bucket)
	return e.assignment(key, registry.KindFlag, enabled, SourceComputed), nil
}

// EvaluateExperiment evaluates key as an experiment. Unknown experiments
// resolve to registry.DefaultControlVariant.
func (e *Engine) EvaluateExperiment(key string, uc UserContext) (Assignment, error) {
	def, ok := e.reg.Experiment(key)
	if !ok {
		e.log.Warn().Str("key", key).Str("kind", string(registry.KindExperiment)).Msg("unknown key, using fail-safe default")
		return e.fallback(key, registry.KindExperiment, registry.DefaultControlVariant), nil
	}
	control := def.Control()
	if !def.Active {
		return e.fallback(key, registry.KindExperiment, control), nil
	}

	v, present, err := override.Experiment(def, uc.Overrides)
	if err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("ignoring invalid override")
		return e.fallback(key, registry.KindExperiment, control), err
	}
	if present {
		return e.assignment(key, registry.KindExperiment, v, SourceOverride), nil
	}

	bucket := e.bucket(key, uc)
	if bucket < 0 {
		e.log.Warn().Str("key", key).Msg("no identity in context, showing control")
		return e.fallback(key, registry.KindExperiment, control), nil
	}
	variant, err := rollout.SelectVariant(def, bucket)
	if err != nil {
		e.log.Error().Err(err).Str("key", key).Msg("variant selection failed, showing control")
		return e.fallback(key, registry.KindExperiment, control), nil
	}
	return e.assignment(key, registry.KindExperiment, variant, SourceComputed), nil
}

// IsEnabled is EvaluateFlag reduced to its value. Errors degrade to false.
func (e *Engine) IsEnabled(key string, uc UserContext) bool {
	a, _ := e.EvaluateFlag(key, uc)
	return a.Enabled()
}

// Variant is EvaluateExperiment reduced to its value. Errors degrade to control.
func (e *Engine) Variant(key string, uc UserContext) string {
	a, _ := e.EvaluateExperiment(key, uc)
	return a.Variant()
}

// Bucket exposes the computed bucket for key, or -1 when the context has no
// identity. Intended for QA tooling.
func (e *Engine) Bucket(key string, uc UserContext) int {
	return e.bucket(key, uc)
}

// ListActiveAssignments evaluates every known key for uc, sorted by key.
// Malformed overrides fall back to the default assignment.
func (e *Engine) ListActiveAssignments(uc UserContext) []Assignment {
	keys := e.reg.Keys()
	out := make([]Assignment, 0, len(keys))
	for _, key := range keys {
		a, _ := e.Evaluate(key, uc)
		out = append(out, a)
	}
	return out
}

// Segments returns the context's explicit plus rule-derived segments.
func (e *Engine) Segments(uc UserContext) []string {
	return e.segments(uc)
}

func (e *Engine) segments(uc UserContext) []string {
	if e.matcher.Empty() {
		return uc.Segments
	}
	segments, errs := e.matcher.Segments(targeting.UserContext{
		"userId":    uc.UserID,
		"sessionId": uc.SessionID,
		"email":     uc.Email,
		"segments":  uc.Segments,
	}, uc.Segments)
	for _, err := range errs {
		e.log.Warn().Err(err).Msg("segment rule failed")
	}
	return segments
}

func (e *Engine) bucket(key string, uc UserContext) int {
	identity := uc.Identity()
	if identity == "" {
		return -1
	}
	return e.hasher.Bucket(identity, key)
}

func (e *Engine) fallback(key string, kind registry.Kind, value any) Assignment {
	return e.assignment(key, kind, value, SourceDefault)
}

func (e *Engine) assignment(key string, kind registry.Kind, value any, source Source) Assignment {
	return Assignment{
		Key:         key,
		Kind:        kind,
		Value:       value,
		Source:      source,
		EvaluatedAt: e.clock.Now(),
	}
}
