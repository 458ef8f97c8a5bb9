package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/TimurManjosov/goassign/internal/engine"
	"github.com/TimurManjosov/goassign/internal/registry"
)

// OutputFormat specifies the output format for CLI commands
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", s)
	}
}

// PrintAssignments writes assignments in the given format.
func PrintAssignments(w io.Writer, assignments []engine.Assignment, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(w, map[string]any{"assignments": assignments, "count": len(assignments)})
	case FormatYAML:
		return printYAML(w, assignments)
	case FormatTable:
		table := tablewriter.NewWriter(w)
		table.Header("Key", "Kind", "Value", "Source")
		for _, a := range assignments {
			if err := table.Append(a.Key, string(a.Kind), formatValue(a.Value), string(a.Source)); err != nil {
				return err
			}
		}
		return table.Render()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintDefinitions writes registry definitions. The table form lists flags and
// experiments together; json and yaml round-trip through registry.Decode.
func PrintDefinitions(w io.Writer, defs registry.Definitions, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return registry.Encode(w, defs, registry.FormatJSON)
	case FormatYAML:
		return registry.Encode(w, defs, registry.FormatYAML)
	case FormatTable:
		table := tablewriter.NewWriter(w)
		table.Header("Key", "Kind", "Rollout", "Segments", "Description")
		for _, f := range defs.Flags {
			if err := table.Append(f.Name, string(registry.KindFlag), string(f.RolloutStage),
				strings.Join(f.Segments, ","), truncate(f.Description, 40)); err != nil {
				return err
			}
		}
		for _, e := range defs.Experiments {
			rollout := experimentSplit(e)
			if !e.Active {
				rollout = "inactive"
			}
			if err := table.Append(e.Name, string(registry.KindExperiment), rollout, "",
				truncate(e.Description, 40)); err != nil {
				return err
			}
		}
		return table.Render()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func experimentSplit(e registry.ExperimentDefinition) string {
	parts := make([]string, len(e.Variants))
	for i, v := range e.Variants {
		if i < len(e.Weights) {
			v += " " + strconv.Itoa(e.Weights[i]) + "%"
		}
		parts[i] = v
	}
	return strings.Join(parts, " / ")
}

func formatValue(v any) string {
	switch t := v.(type) {
	case bool:
		return strconv.FormatBool(t)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

func printJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func printYAML(w io.Writer, data any) error {
	encoder := yaml.NewEncoder(w)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(data)
}
