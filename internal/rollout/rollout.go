// Package rollout decides flag enablement and experiment variants from a
// deterministic bucket. Buckets come from a Hasher keyed by identity and the
// flag or experiment name, which guarantees:
//   - Same identity always gets the same result for a key (deterministic)
//   - Even distribution across buckets (xxHash)
//   - Independent buckets per key (the key is part of the hash input)
//   - Safe progressive rollouts: moving a flag up the stage ladder only adds
//     identities, because enablement is "bucket < percentage"
package rollout

import (
	"github.com/TimurManjosov/goassign/internal/registry"
)

// DefaultInternalSegment is the segment that gates the internal stage.
const DefaultInternalSegment = "internal"

// Policy interprets a flag's rollout stage and segment membership.
type Policy struct {
	// InternalSegment gates the internal stage; empty means DefaultInternalSegment.
	InternalSegment string
}

// IsEnabled determines if a flag is on for a user with the given segments and bucket.
//
// Algorithm:
//  1. off → false; full → true, unconditionally
//  2. internal → true iff segments contain the internal segment (bucket ignored)
//  3. beta, gradual25/50/100 → true if the user is in one of the flag's
//     segments, otherwise bucket < stage percentage
//
// Unknown stages are treated as off.
func (p Policy) IsEnabled(flag registry.FlagDefinition, segments []string, bucket int) bool {
	switch flag.RolloutStage {
	case registry.StageOff:
		return false
	case registry.StageFull:
		return true
	case registry.StageInternal:
		return containsAny(segments, p.internalSegment())
	case registry.StageBeta, registry.StageGradual25, registry.StageGradual50, registry.StageGradual100:
		if len(flag.Segments) > 0 && containsAny(segments, flag.Segments...) {
			return true
		}
		return bucket >= 0 && bucket < flag.RolloutStage.Percentage()
	default:
		return false
	}
}

// NeedsBucket reports whether the decision for flag depends on the bucket,
// that is a percentage stage the user's segments do not already enable.
func (p Policy) NeedsBucket(flag registry.FlagDefinition, segments []string) bool {
	switch flag.RolloutStage {
	case registry.StageBeta, registry.StageGradual25, registry.StageGradual50, registry.StageGradual100:
		return len(flag.Segments) == 0 || !containsAny(segments, flag.Segments...)
	default:
		return false
	}
}

func (p Policy) internalSegment() string {
	if p.InternalSegment == "" {
		return DefaultInternalSegment
	}
	return p.InternalSegment
}

func containsAny(have []string, want ...string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}
