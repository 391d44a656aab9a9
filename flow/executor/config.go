// Package executor provides the canonical executors wired into the flow
// registry at startup: response, llm, nlu, validation, http, set, branch,
// and score.
package executor

import "strconv"

// Config values arrive as generic JSON after interpolation; these helpers
// coerce them without panicking on absent or mistyped keys.

func getString(config map[string]any, key string) string {
	v, _ := config[key].(string)
	return v
}

func getStringDefault(config map[string]any, key, fallback string) string {
	if v, ok := config[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func getBool(config map[string]any, key string) bool {
	v, _ := config[key].(bool)
	return v
}

func getFloat(config map[string]any, key string, fallback float64) float64 {
	switch v := config[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func coerceFloat(v any, fallback float64) float64 {
	switch tv := v.(type) {
	case float64:
		return tv
	case int:
		return float64(tv)
	case string:
		if f, err := strconv.ParseFloat(tv, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getInt(config map[string]any, key string, fallback int) int {
	switch v := config[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getMap(config map[string]any, key string) map[string]any {
	v, _ := config[key].(map[string]any)
	return v
}

func getSlice(config map[string]any, key string) []any {
	v, _ := config[key].([]any)
	return v
}
