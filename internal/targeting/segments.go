package targeting

import "slices"

// SegmentRule places a user into Segment when Expression matches.
type SegmentRule struct {
	Segment    string
	Expression string
}

type compiledRule struct {
	segment string
	rule    Rule
	err     error // compile failure, reported on every evaluation
}

// Matcher derives segment membership from a fixed rule set.
// It holds no mutable state and is safe for concurrent use.
type Matcher struct {
	rules []compiledRule
}

// NewMatcher compiles rules. A rule that does not compile never matches and
// is reported by Segments; registries validate rules at load, so this only
// happens for hand-built rule sets.
func NewMatcher(rules []SegmentRule) *Matcher {
	m := &Matcher{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		rule, err := Compile(r.Expression)
		m.rules = append(m.rules, compiledRule{segment: r.Segment, rule: rule, err: err})
	}
	return m
}

// Empty reports whether the matcher has no rules.
func (m *Matcher) Empty() bool {
	return m == nil || len(m.rules) == 0
}

// Segments returns explicit plus derived segments for ctx, without
// duplicates. explicit is never modified. Rules that fail are reported
// through the returned errors and treated as non-matching.
func (m *Matcher) Segments(ctx UserContext, explicit []string) ([]string, []error) {
	out := slices.Clone(explicit)
	if m.Empty() {
		return out, nil
	}

	var errs []error
	for _, cr := range m.rules {
		if slices.Contains(out, cr.segment) {
			continue
		}
		if cr.err != nil {
			errs = append(errs, &RuleError{Segment: cr.segment, Err: cr.err})
			continue
		}
		match, err := cr.rule.Match(ctx)
		if err != nil {
			errs = append(errs, &RuleError{Segment: cr.segment, Err: err})
			continue
		}
		if match {
			out = append(out, cr.segment)
		}
	}
	return out, errs
}

// RuleError reports a segment rule that could not be evaluated.
type RuleError struct {
	Segment string
	Err     error
}

func (e *RuleError) Error() string {
	return "segment " + e.Segment + ": " + e.Err.Error()
}

func (e *RuleError) Unwrap() error { return e.Err }
