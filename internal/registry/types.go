package registry

import (
	"fmt"
	"slices"
	"strings"
)

// Kind distinguishes flags from experiments.
type Kind string

const (
	KindFlag       Kind = "flag"
	KindExperiment Kind = "experiment"
)

// Stage is a point on the fixed rollout ladder of a flag.
type Stage string

const (
	StageInternal   Stage = "internal"
	StageBeta       Stage = "beta"
	StageGradual25  Stage = "gradual25"
	StageGradual50  Stage = "gradual50"
	StageGradual100 Stage = "gradual100"
	StageFull       Stage = "full"
	StageOff        Stage = "off"
)

// DefaultControlVariant is returned for experiments the registry does not know.
const DefaultControlVariant = "control"

var stagePercentages = map[Stage]int{
	StageInternal:   100,
	StageBeta:       10,
	StageGradual25:  25,
	StageGradual50:  50,
	StageGradual100: 100,
	StageFull:       100,
	StageOff:        0,
}

// ParseStage resolves a stage name, case-insensitively.
func ParseStage(s string) (Stage, error) {
	stage := Stage(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := stagePercentages[stage]; !ok {
		return "", fmt.Errorf("unknown rollout stage %q", s)
	}
	return stage, nil
}

// Valid reports whether s is one of the ladder stages.
func (s Stage) Valid() bool {
	_, ok := stagePercentages[s]
	return ok
}

// Percentage returns the canonical traffic percentage of the stage.
// The internal stage reports 100 but is gated by segment, not by traffic.
func (s Stage) Percentage() int {
	return stagePercentages[s]
}

// Stages lists the ladder in rollout order.
func Stages() []Stage {
	return []Stage{StageOff, StageInternal, StageBeta, StageGradual25, StageGradual50, StageGradual100, StageFull}
}

// FlagDefinition is a boolean toggle gated by rollout stage and segments.
type FlagDefinition struct {
	Name         string   `json:"name" yaml:"name"`
	RolloutStage Stage    `json:"rolloutStage" yaml:"rolloutStage"`
	Segments     []string `json:"segments,omitempty" yaml:"segments,omitempty"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// HasSegment reports whether the flag lists the given segment.
func (f FlagDefinition) HasSegment(id string) bool {
	return slices.Contains(f.Segments, id)
}

// Inactive reports whether the flag is switched off.
func (f FlagDefinition) Inactive() bool {
	return f.RolloutStage == StageOff
}

func (f FlagDefinition) clone() FlagDefinition {
	f.Segments = slices.Clone(f.Segments)
	return f
}

// ExperimentDefinition is a split test with weighted, mutually exclusive variants.
// Variants[0] is the control arm.
type ExperimentDefinition struct {
	Name        string   `json:"name" yaml:"name"`
	Variants    []string `json:"variants" yaml:"variants"`
	Weights     []int    `json:"weights" yaml:"weights"`
	Active      bool     `json:"active" yaml:"active"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// Control returns the control variant, or DefaultControlVariant when none is declared.
func (e ExperimentDefinition) Control() string {
	if len(e.Variants) == 0 {
		return DefaultControlVariant
	}
	return e.Variants[0]
}

// HasVariant reports whether name is one of the declared variants.
func (e ExperimentDefinition) HasVariant(name string) bool {
	return slices.Contains(e.Variants, name)
}

func (e ExperimentDefinition) clone() ExperimentDefinition {
	e.Variants = slices.Clone(e.Variants)
	e.Weights = slices.Clone(e.Weights)
	return e
}

// SegmentRule derives membership of segment ID from a JSON Logic rule
// evaluated against the user context.
type SegmentRule struct {
	ID   string `json:"id" yaml:"id"`
	Rule string `json:"rule" yaml:"rule"`
}

// Definitions is the raw static configuration the registry is built from.
type Definitions struct {
	Flags       []FlagDefinition       `json:"flags" yaml:"flags"`
	Experiments []ExperimentDefinition `json:"experiments" yaml:"experiments"`
	Segments    []SegmentRule          `json:"segments,omitempty" yaml:"segments,omitempty"`
}
