package registry

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func sampleDefinitions() Definitions {
	return Definitions{
		Flags: []FlagDefinition{
			{Name: "beta_checkout", RolloutStage: StageBeta, Description: "New checkout flow"},
			{Name: "driver_map", RolloutStage: StageInternal},
		},
		Experiments: []ExperimentDefinition{
			{Name: "hero_style", Variants: []string{"control", "animated", "cinematic"}, Weights: []int{34, 33, 33}, Active: true},
		},
		Segments: []SegmentRule{
			{ID: "internal", Rule: `{"in": ["@staff.example.com", {"var": "email"}]}`},
		},
	}
}

func TestNew_ValidDefinitions(t *testing.T) {
	r, err := New(sampleDefinitions())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}
	wantKeys := []string{"beta_checkout", "driver_map", "hero_style"}
	if !reflect.DeepEqual(r.Keys(), wantKeys) {
		t.Errorf("Keys() = %v, want %v", r.Keys(), wantKeys)
	}

	if kind, ok := r.Kind("hero_style"); !ok || kind != KindExperiment {
		t.Errorf("Kind(hero_style) = (%s, %v), want (experiment, true)", kind, ok)
	}
	if f, ok := r.Flag("beta_checkout"); !ok || f.RolloutStage != StageBeta {
		t.Errorf("Flag(beta_checkout) = (%+v, %v), want beta stage", f, ok)
	}
	if _, ok := r.Flag("hero_style"); ok {
		t.Error("Flag(hero_style) found, experiments are not flags")
	}
	if _, err := r.MustKind("missing"); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("MustKind(missing) error = %v, want ErrUnknownKey", err)
	}
}

func TestNew_NormalizesStageCase(t *testing.T) {
	r, err := New(Definitions{Flags: []FlagDefinition{{Name: "f", RolloutStage: "Gradual25"}}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if f, _ := r.Flag("f"); f.RolloutStage != StageGradual25 {
		t.Errorf("RolloutStage = %q, want %q", f.RolloutStage, StageGradual25)
	}
}

func TestNew_RejectsInvalidConfiguration(t *testing.T) {
	tests := []struct {
		name  string
		defs  Definitions
		field string
	}{
		{
			name: "weights do not sum to 100",
			defs: Definitions{Experiments: []ExperimentDefinition{
				{Name: "e", Variants: []string{"a", "b"}, Weights: []int{50, 40}},
			}},
			field: "experiments[0].variants",
		},
		{
			name: "fewer than two variants",
			defs: Definitions{Experiments: []ExperimentDefinition{
				{Name: "e", Variants: []string{"a"}, Weights: []int{100}},
			}},
			field: "experiments[0].variants",
		},
		{
			name: "duplicate flag keys",
			defs: Definitions{Flags: []FlagDefinition{
				{Name: "f", RolloutStage: StageFull},
				{Name: "f", RolloutStage: StageOff},
			}},
			field: "flags[1].name",
		},
		{
			name: "key with surrounding whitespace",
			defs: Definitions{Flags: []FlagDefinition{
				{Name: " beta_checkout", RolloutStage: StageBeta},
				{Name: "beta_checkout", RolloutStage: StageBeta},
			}},
			field: "flags[0].name",
		},
		{
			name: "experiment key with trailing whitespace",
			defs: Definitions{Experiments: []ExperimentDefinition{
				{Name: "hero_style ", Variants: []string{"a", "b"}, Weights: []int{50, 50}},
			}},
			field: "experiments[0].name",
		},
		{
			name: "key shared by flag and experiment",
			defs: Definitions{
				Flags: []FlagDefinition{{Name: "k", RolloutStage: StageFull}},
				Experiments: []ExperimentDefinition{
					{Name: "k", Variants: []string{"a", "b"}, Weights: []int{50, 50}},
				},
			},
			field: "experiments[0].name",
		},
		{
			name:  "unknown stage",
			defs:  Definitions{Flags: []FlagDefinition{{Name: "f", RolloutStage: "gradual75"}}},
			field: "flags[0].rolloutStage",
		},
		{
			name:  "invalid segment rule",
			defs:  Definitions{Segments: []SegmentRule{{ID: "internal", Rule: "nope"}}},
			field: "segments[0].rule",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(tt.defs)
			if err == nil {
				t.Fatalf("New() = %v, want error", r.Keys())
			}
			if r != nil {
				t.Error("New() returned a registry alongside an error")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error = %v, want ErrInvalidConfig", err)
			}

			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("error type = %T, want *ConfigError", err)
			}
			if _, ok := cfgErr.Fields[tt.field]; !ok {
				t.Errorf("Fields = %v, want an entry for %s", cfgErr.Fields, tt.field)
			}
		})
	}
}

func TestMustNew_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustNew() with an empty key did not panic")
		}
	}()
	MustNew(Definitions{Flags: []FlagDefinition{{Name: "", RolloutStage: StageFull}}})
}

func TestRegistry_AccessorsReturnCopies(t *testing.T) {
	r := MustNew(sampleDefinitions())

	e, _ := r.Experiment("hero_style")
	e.Variants[0] = "mutated"
	e.Weights[0] = 0

	again, _ := r.Experiment("hero_style")
	if again.Control() != "control" || again.Weights[0] != 34 {
		t.Errorf("stored experiment modified through accessor: %+v", again)
	}
}

func TestRegistry_ETagStableAcrossDeclarationOrder(t *testing.T) {
	a := MustNew(sampleDefinitions())

	reordered := sampleDefinitions()
	reordered.Flags[0], reordered.Flags[1] = reordered.Flags[1], reordered.Flags[0]
	b := MustNew(reordered)

	if a.ETag() != b.ETag() {
		t.Errorf("ETag changed with declaration order: %s vs %s", a.ETag(), b.ETag())
	}
	if !strings.HasPrefix(a.ETag(), `W/"`) {
		t.Errorf("ETag() = %s, want weak validator", a.ETag())
	}

	changed := sampleDefinitions()
	changed.Flags[0].RolloutStage = StageGradual25
	if c := MustNew(changed); c.ETag() == a.ETag() {
		t.Error("ETag unchanged after a stage change")
	}
}

func TestStage_Percentages(t *testing.T) {
	tests := []struct {
		stage Stage
		want  int
	}{
		{StageOff, 0},
		{StageInternal, 100},
		{StageBeta, 10},
		{StageGradual25, 25},
		{StageGradual50, 50},
		{StageGradual100, 100},
		{StageFull, 100},
	}
	for _, tt := range tests {
		if got := tt.stage.Percentage(); got != tt.want {
			t.Errorf("%s.Percentage() = %d, want %d", tt.stage, got, tt.want)
		}
	}
	if Stage("gradual75").Valid() {
		t.Error("gradual75 should not be a valid stage")
	}
}

func TestDecode_YAML(t *testing.T) {
	doc := `
flags:
  - name: beta_checkout
    rolloutStage: beta
    segments: [beta_testers]
experiments:
  - name: hero_style
    variants: [control, animated, cinematic]
    weights: [34, 33, 33]
    active: true
segments:
  - id: internal
    rule: '{"in": ["@staff.example.com", {"var": "email"}]}'
`
	r, err := Parse([]byte(doc), FormatYAML)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	f, ok := r.Flag("beta_checkout")
	if !ok {
		t.Fatal("beta_checkout not loaded")
	}
	if !f.HasSegment("beta_testers") {
		t.Errorf("Segments = %v, want beta_testers", f.Segments)
	}
	if n := len(r.SegmentRules()); n != 1 {
		t.Errorf("len(SegmentRules()) = %d, want 1", n)
	}
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		format Format
	}{
		{name: "json", doc: `{"flags": [{"name": "f", "rollout": 10}]}`, format: FormatJSON},
		{name: "yaml", doc: "flags:\n  - name: f\n    stage: beta\n", format: FormatYAML},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc), tt.format); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Parse() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestDecode_EmptyYAMLIsEmptyRegistry(t *testing.T) {
	r, err := Parse(nil, FormatYAML)
	if err != nil {
		t.Fatalf("Parse(nil) error = %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestEncode_RoundTripsThroughFile(t *testing.T) {
	r := MustNew(sampleDefinitions())

	var buf bytes.Buffer
	if err := Encode(&buf, r.Definitions(), FormatJSON); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "registry.json")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if loaded.ETag() != r.ETag() {
		t.Errorf("round-tripped ETag = %s, want %s", loaded.ETag(), r.ETag())
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path string
		want Format
	}{
		{"flags.JSON", FormatJSON},
		{"flags.yaml", FormatYAML},
		{"flags.yml", FormatYAML},
	}
	for _, tt := range tests {
		if got := FormatFromPath(tt.path); got != tt.want {
			t.Errorf("FormatFromPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
