package override

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// DefaultQueryParam is the debug query parameter carrying overrides.
const DefaultQueryParam = "ff"

// ParseQuery reads overrides from a query parameter of the form
// "key:value,key2:value2". The parameter may repeat. "true" and "false"
// (any case) become bools, anything else is kept as a variant name.
//
// Malformed entries are skipped and reported in the returned error; the
// well-formed entries are still returned.
func ParseQuery(values url.Values, param string) (map[string]any, error) {
	if param == "" {
		param = DefaultQueryParam
	}
	out := make(map[string]any)
	var errs []error

	for _, raw := range values[param] {
		for _, entry := range strings.Split(raw, ",") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			key, value, found := strings.Cut(entry, ":")
			key, value = strings.TrimSpace(key), strings.TrimSpace(value)
			if !found || key == "" || value == "" {
				errs = append(errs, fmt.Errorf("malformed override %q: want key:value", entry))
				continue
			}
			out[key] = parseValue(value)
		}
	}
	return out, errors.Join(errs...)
}

// ParsePairs parses "key=value" pairs, as given on a command line.
func ParsePairs(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, value, found := strings.Cut(p, "=")
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if !found || key == "" || value == "" {
			return nil, fmt.Errorf("malformed override %q: want key=value", p)
		}
		out[key] = parseValue(value)
	}
	return out, nil
}

func parseValue(v string) any {
	switch strings.ToLower(v) {
	case "true":
		return true
	case "false":
		return false
	default:
		return v
	}
}
