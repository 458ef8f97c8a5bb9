package targeting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher_DerivesSegments(t *testing.T) {
	m := NewMatcher([]SegmentRule{
		{Segment: "internal", Expression: `{"in": ["@staff.example.com", {"var": "email"}]}`},
		{Segment: "vip", Expression: `{"==": [{"var": "userId"}, "user-1"]}`},
	})

	explicit := []string{"beta_testers"}
	got, errs := m.Segments(UserContext{"email": "ana@staff.example.com", "userId": "user-9"}, explicit)

	require.Empty(t, errs)
	assert.Equal(t, []string{"beta_testers", "internal"}, got)
	assert.Equal(t, []string{"beta_testers"}, explicit, "explicit segments must not be modified")
}

func TestMatcher_SkipsSegmentsAlreadyPresent(t *testing.T) {
	m := NewMatcher([]SegmentRule{
		{Segment: "internal", Expression: `{"==": [1, 1]}`},
	})

	got, errs := m.Segments(UserContext{}, []string{"internal"})

	require.Empty(t, errs)
	assert.Equal(t, []string{"internal"}, got)
}

func TestMatcher_ReportsBrokenRules(t *testing.T) {
	m := NewMatcher([]SegmentRule{{Segment: "broken", Expression: `{"==": [`}})

	got, errs := m.Segments(UserContext{}, nil)

	assert.Empty(t, got)
	require.Len(t, errs, 1)
	var ruleErr *RuleError
	require.ErrorAs(t, errs[0], &ruleErr)
	assert.Equal(t, "broken", ruleErr.Segment)
}

func TestMatcher_NilIsEmpty(t *testing.T) {
	var m *Matcher
	assert.True(t, m.Empty())
	got, errs := m.Segments(UserContext{}, []string{"a"})
	assert.Nil(t, errs)
	assert.Equal(t, []string{"a"}, got)
}
