package flow

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// Interpolate substitutes every {{a.b.c}} placeholder in s against the
// scope. Missing paths yield an empty string.
func Interpolate(s string, scope map[string]any) string {
	out, _ := interpolate(s, scope)
	return out
}

// InterpolateStrict substitutes placeholders and reports the paths that did
// not resolve; callers treat a non-empty miss list as invalid input.
func InterpolateStrict(s string, scope map[string]any) (string, []string) {
	return interpolate(s, scope)
}

func interpolate(s string, scope map[string]any) (string, []string) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	var missing []string
	out := placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		path := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := ResolvePath(scope, path)
		if !ok || value == nil {
			missing = append(missing, path)
			return ""
		}
		return formatValue(value)
	})
	return out, missing
}

// InterpolateConfig deep-copies an action config, interpolating every string
// value. A string that is exactly one placeholder is replaced by the raw
// resolved value, preserving its type (so `"value": "{{input.location}}"`
// stays a map, not a rendered string).
func InterpolateConfig(config map[string]any, scope map[string]any) map[string]any {
	if config == nil {
		return nil
	}
	out := make(map[string]any, len(config))
	for k, v := range config {
		out[k] = interpolateValue(v, scope)
	}
	return out
}

func interpolateValue(v any, scope map[string]any) any {
	switch tv := v.(type) {
	case string:
		if path, ok := soleplaceholder(tv); ok {
			if resolved, found := ResolvePath(scope, path); found {
				return resolved
			}
			return ""
		}
		return Interpolate(tv, scope)
	case map[string]any:
		return InterpolateConfig(tv, scope)
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = interpolateValue(item, scope)
		}
		return out
	default:
		return v
	}
}

// soleplaceholder reports whether s is exactly one {{path}} and returns the path.
func soleplaceholder(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	m := placeholderPattern.FindStringSubmatch(trimmed)
	if m == nil || m[0] != trimmed {
		return "", false
	}
	return m[1], true
}

// ResolvePath walks a dotted path through nested maps.
func ResolvePath(scope map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = scope
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// SetPath writes a value at a dotted path, creating intermediate maps.
// Used by the set executor against collected_data and variables.
func SetPath(root map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := root
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

func formatValue(v any) string {
	switch tv := v.(type) {
	case string:
		return tv
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64)
	case int:
		return strconv.Itoa(tv)
	case int64:
		return strconv.FormatInt(tv, 10)
	case bool:
		return strconv.FormatBool(tv)
	case nil:
		return ""
	default:
		b, err := json.Marshal(tv)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
