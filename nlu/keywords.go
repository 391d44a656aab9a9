package nlu

import (
	"regexp"
	"strings"
)

// fallbackConfidence is deliberately below the router's high-confidence
// threshold: heuristic guesses start flows only through fallback routing.
const fallbackConfidence = 0.55

// Pre-compiled patterns for intent guessing when the NLU service is down.
// Patterns cover English plus common Hinglish phrasings seen in production.
var (
	greetingRegex = regexp.MustCompile(`(?i)^(hi|hii+|hello|hey|namaste|yo|good (morning|afternoon|evening))\b`)
	orderRegex    = regexp.MustCompile(`(?i)\b(order|khana|pizza|burger|biryani|food|bhookh|hungry|mangwa)\b`)
	trackRegex    = regexp.MustCompile(`(?i)\b(track|status|kahan|where.*order|delivery boy)\b`)
	cancelRegex   = regexp.MustCompile(`(?i)\b(cancel|cancel karo|band karo)\b`)
	helpRegex     = regexp.MustCompile(`(?i)\b(help|madad|support|complaint|problem|issue)\b`)
	walletRegex   = regexp.MustCompile(`(?i)\b(wallet|balance|paise|refund|payment)\b`)
)

type keywordRule struct {
	pattern *regexp.Regexp
	intent  string
}

// KeywordMatcher is the degraded-mode classifier used when the NLU service
// is unreachable.
type KeywordMatcher struct {
	rules []keywordRule
}

// NewKeywordMatcher creates the matcher with the built-in rule table.
func NewKeywordMatcher() *KeywordMatcher {
	return &KeywordMatcher{
		rules: []keywordRule{
			{greetingRegex, "greeting"},
			{cancelRegex, "cancel_order"},
			{trackRegex, "track_order"},
			{orderRegex, "order_food"},
			{walletRegex, "wallet"},
			{helpRegex, "help"},
		},
	}
}

// Classify produces a low-confidence guess from keyword rules.
// Rules are ordered by specificity; first match wins.
func (m *KeywordMatcher) Classify(text string) *Classification {
	trimmed := strings.TrimSpace(text)
	for _, rule := range m.rules {
		if rule.pattern.MatchString(trimmed) {
			return &Classification{
				Intent:     rule.intent,
				Confidence: fallbackConfidence,
				Language:   guessLanguage(trimmed),
				Fallback:   true,
			}
		}
	}
	return &Classification{
		Intent:     "unknown",
		Confidence: 0,
		Language:   guessLanguage(trimmed),
		Fallback:   true,
	}
}

// guessLanguage does a crude Latin/Devanagari split; the NLU service owns
// real language identification.
func guessLanguage(text string) string {
	for _, r := range text {
		if r >= 0x0900 && r <= 0x097F {
			return "hi"
		}
	}
	return "en"
}
