package executor

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/vaanihq/vaani/flow"
)

// Validation events beyond the reserved set.
const (
	EventValid = "valid"
	EventYes   = "yes"
	EventNo    = "no"
)

var (
	// Indian mobile numbers: 10 digits starting 6-9, optional +91/0 prefix.
	phonePattern = regexp.MustCompile(`^(?:\+91|91|0)?([6-9]\d{9})$`)
	otpPattern   = regexp.MustCompile(`^\d{4,6}$`)
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	pinPattern   = regexp.MustCompile(`^\d{6}$`)

	defaultYesPatterns = []string{"yes", "y", "yeah", "ok", "okay", "sure", "haan", "ha", "theek", "confirm"}
	defaultNoPatterns  = []string{"no", "n", "nope", "nahi", "nahin", "cancel", "mat"}
)

// Validation checks the bound user input against a typed rule and emits
// valid/invalid (or yes/no for confirmation prompts). On valid, the
// normalized value is written into collected_data.
type Validation struct{}

func (Validation) Name() string { return "validation" }

func (Validation) Execute(_ context.Context, config map[string]any, fc *flow.Context, input *flow.Input) (*flow.Result, error) {
	value := getString(config, "value")
	if value == "" && input != nil {
		value = input.Text
		if value == "" {
			value = input.ButtonReply
		}
	}
	value = strings.TrimSpace(value)

	kind := getStringDefault(config, "type", "nonempty")
	saveTo := getStringDefault(config, "save_to", kind)

	switch kind {
	case "phone":
		m := phonePattern.FindStringSubmatch(strings.ReplaceAll(value, " ", ""))
		if m == nil {
			return invalid(), nil
		}
		return valid(fc, saveTo, m[1]), nil

	case "otp":
		if !otpPattern.MatchString(value) {
			return invalid(), nil
		}
		return valid(fc, saveTo, value), nil

	case "email":
		if !emailPattern.MatchString(value) {
			return invalid(), nil
		}
		return valid(fc, saveTo, strings.ToLower(value)), nil

	case "pincode":
		if !pinPattern.MatchString(value) {
			return invalid(), nil
		}
		return valid(fc, saveTo, value), nil

	case "number":
		n, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return invalid(), nil
		}
		if min, ok := config["min"]; ok && n < coerceFloat(min, n) {
			return invalid(), nil
		}
		if max, ok := config["max"]; ok && n > coerceFloat(max, n) {
			return invalid(), nil
		}
		return valid(fc, saveTo, n), nil

	case "regex":
		pattern := getString(config, "pattern")
		re, err := regexp.Compile(pattern)
		if err != nil {
			return invalid(), nil
		}
		if !re.MatchString(value) {
			return invalid(), nil
		}
		return valid(fc, saveTo, value), nil

	case "yes_no":
		lower := strings.ToLower(value)
		if matchAny(lower, patternsOrDefault(config, "yes_patterns", defaultYesPatterns)) {
			return &flow.Result{Success: true, Event: EventYes}, nil
		}
		if matchAny(lower, patternsOrDefault(config, "no_patterns", defaultNoPatterns)) {
			return &flow.Result{Success: true, Event: EventNo}, nil
		}
		return invalid(), nil

	default: // nonempty
		if value == "" {
			return invalid(), nil
		}
		return valid(fc, saveTo, value), nil
	}
}

func valid(fc *flow.Context, saveTo string, value any) *flow.Result {
	flow.SetPath(fc.CollectedData, saveTo, value)
	return &flow.Result{Success: true, Event: EventValid, Output: value}
}

func invalid() *flow.Result {
	return &flow.Result{Success: true, Event: flow.EventInvalid}
}

func patternsOrDefault(config map[string]any, key string, fallback []string) []string {
	raw := getSlice(config, key)
	if len(raw) == 0 {
		return fallback
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, strings.ToLower(s))
		}
	}
	return out
}

// matchAny compares whole tokens, not substrings: the one-letter and Hindi
// shorthands ("y", "ha") must not fire inside words like "way" or "chalega".
func matchAny(text string, patterns []string) bool {
	for _, token := range strings.Fields(text) {
		token = strings.Trim(token, ".,!?")
		for _, p := range patterns {
			if token == p {
				return true
			}
		}
	}
	return false
}

// MatchYesNo classifies a free-text reply against the default yes/no
// vocabularies. ok is false when the text is neither.
func MatchYesNo(text string) (yes, ok bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if matchAny(lower, defaultYesPatterns) {
		return true, true
	}
	if matchAny(lower, defaultNoPatterns) {
		return false, true
	}
	return false, false
}
