// Package preference extracts durable user preferences from conversation
// turns with an LLM and maintains the user profile document. It runs off the
// reply path: failures degrade to a no-op and are only logged.
package preference

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/vaanihq/vaani/llm"
	"github.com/vaanihq/vaani/store"
	"github.com/vaanihq/vaani/store/cache"
)

// Attribute status values.
const (
	StatusConfirmed = "confirmed"
	StatusPending   = "pending"
)

const (
	// persistThreshold and pendingThreshold split extractions into
	// persist-directly, persist-pending-and-ask, and discard tiers.
	persistThreshold = 0.85
	pendingThreshold = 0.70

	// questionCooldown bounds how often the same (user, key) pair may be
	// asked a confirmation question.
	questionCooldown = 24 * time.Hour

	// enrichBudget caps one enrichment pass end to end.
	enrichBudget = 2 * time.Second

	extractTemperature = 0.3
	extractMaxTokens   = 512
)

// Attr is one profile attribute with provenance.
type Attr struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Status     string  `json:"status"`
	UpdatedTs  int64   `json:"updated_ts"`
}

// AskFunc delivers a confirmation question to the user. Wired by the
// conversation service, which records key and value so the next yes/no reply
// can settle the pending attribute via Confirm.
type AskFunc func(userID, key, value, question string)

// Enricher drives preference extraction for one conversation turn.
type Enricher struct {
	llm       llm.Service
	store     *store.Store
	ask       AskFunc
	cooldowns *cache.LRUCache[string, time.Time]
}

func NewEnricher(service llm.Service, st *store.Store) *Enricher {
	return &Enricher{
		llm:       service,
		store:     st,
		cooldowns: cache.NewLRUCache[string, time.Time](4096, questionCooldown),
	}
}

// SetAskFunc wires the confirmation question sink.
func (e *Enricher) SetAskFunc(fn AskFunc) {
	e.ask = fn
}

// Enrich extracts preferences from the message plus recent history and folds
// them into the user's profile. Safe to call fire-and-forget; every failure
// path returns after logging without touching the profile.
func (e *Enricher) Enrich(ctx context.Context, userID, message string, recent []string) {
	if e.llm == nil || userID == "" || strings.TrimSpace(message) == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, enrichBudget)
	defer cancel()

	items, err := e.extract(ctx, message, recent)
	if err != nil {
		observeEnrichFailure()
		slog.Warn("preference: extraction failed", "user_id", userID, "error", err)
		return
	}
	if len(items) == 0 {
		return
	}

	if err := e.apply(ctx, userID, items); err != nil {
		observeEnrichFailure()
		slog.Warn("preference: profile update failed", "user_id", userID, "error", err)
	}
}

type extractedItem struct {
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

type extraction struct {
	Preferences []extractedItem `json:"preferences"`
}

func (e *Enricher) extract(ctx context.Context, message string, recent []string) ([]extractedItem, error) {
	var sb strings.Builder
	if len(recent) > 0 {
		sb.WriteString("Recent conversation:\n")
		for _, line := range recent {
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Latest user message:\n")
	sb.WriteString(message)

	content, _, err := e.llm.Chat(ctx,
		[]llm.Message{llm.SystemPrompt(extractionSystemPrompt), llm.UserMessage(sb.String())},
		&llm.Options{Temperature: extractTemperature, MaxTokens: extractMaxTokens, JSONOnly: true})
	if err != nil {
		return nil, err
	}

	var out extraction
	if err := json.Unmarshal([]byte(stripFences(content)), &out); err != nil {
		return nil, fmt.Errorf("invalid extraction json: %w", err)
	}
	return out.Preferences, nil
}

// apply merges extracted items into the stored profile under the tier rules
// and recomputes completeness.
func (e *Enricher) apply(ctx context.Context, userID string, items []extractedItem) error {
	attrs, err := e.loadAttrs(ctx, userID)
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	changed := false
	var questions []extractedItem

	for _, item := range items {
		if !validItem(item.Key, item.Value) {
			slog.Debug("preference: dropping off-schema item", "key", item.Key, "value", item.Value)
			continue
		}

		switch {
		case item.Confidence >= persistThreshold:
			attrs[item.Key] = Attr{Value: item.Value, Confidence: item.Confidence, Status: StatusConfirmed, UpdatedTs: now}
			observeExtracted("confirmed")
			changed = true

		case item.Confidence >= pendingThreshold:
			// A pending guess never downgrades a confirmed value.
			if cur, ok := attrs[item.Key]; ok && cur.Status == StatusConfirmed {
				continue
			}
			attrs[item.Key] = Attr{Value: item.Value, Confidence: item.Confidence, Status: StatusPending, UpdatedTs: now}
			observeExtracted("pending")
			changed = true
			if e.shouldAsk(userID, item.Key) {
				questions = append(questions, item)
			}

		default:
			observeExtracted("discarded")
		}
	}

	if !changed {
		return nil
	}

	doc, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("failed to encode attrs: %w", err)
	}
	if _, err := e.store.UpsertUserProfile(ctx, &store.UpsertUserProfile{
		UserID:       userID,
		Attrs:        doc,
		Completeness: Completeness(attrs),
	}); err != nil {
		return err
	}

	if e.ask != nil {
		for _, q := range questions {
			e.ask(userID, q.Key, q.Value, confirmationQuestion(q.Key, q.Value))
		}
	}
	return nil
}

// Confirm settles a pending attribute from the user's answer to a
// confirmation question: accepted promotes it to confirmed with confidence
// 1.0, rejected removes it. Confirmed attributes are left untouched.
func (e *Enricher) Confirm(ctx context.Context, userID, key string, accepted bool) error {
	attrs, err := e.loadAttrs(ctx, userID)
	if err != nil {
		return err
	}
	cur, ok := attrs[key]
	if !ok || cur.Status != StatusPending {
		return nil
	}

	if accepted {
		cur.Status = StatusConfirmed
		cur.Confidence = 1.0
		cur.UpdatedTs = time.Now().Unix()
		attrs[key] = cur
	} else {
		delete(attrs, key)
	}

	doc, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("failed to encode attrs: %w", err)
	}
	_, err = e.store.UpsertUserProfile(ctx, &store.UpsertUserProfile{
		UserID:       userID,
		Attrs:        doc,
		Completeness: Completeness(attrs),
	})
	return err
}

func (e *Enricher) loadAttrs(ctx context.Context, userID string) (map[string]Attr, error) {
	profile, err := e.store.GetUserProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	attrs := map[string]Attr{}
	if profile != nil && len(profile.Attrs) > 0 {
		if err := json.Unmarshal(profile.Attrs, &attrs); err != nil {
			return nil, fmt.Errorf("corrupt profile attrs for %s: %w", userID, err)
		}
	}
	return attrs, nil
}

// shouldAsk enforces the per-(user, key) question cooldown.
func (e *Enricher) shouldAsk(userID, key string) bool {
	cacheKey := userID + "|" + key
	if _, ok := e.cooldowns.Get(cacheKey); ok {
		return false
	}
	e.cooldowns.Set(cacheKey, time.Now(), questionCooldown)
	return true
}

func confirmationQuestion(key, value string) string {
	return fmt.Sprintf("Quick check: should I remember your %s as %q? Reply yes or no.",
		strings.ReplaceAll(key, "_", " "), value)
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// extractionSystemPrompt pins the extractable catalogue so the model cannot
// invent keys. Built once at init from the schema for a stable ordering.
var extractionSystemPrompt = buildSystemPrompt()

func buildSystemPrompt() string {
	byCategory := map[string][]string{}
	for key, spec := range schema {
		line := "- " + key
		if len(spec.Values) > 0 {
			line += " (one of: " + strings.Join(spec.Values, ", ") + ")"
		} else {
			line += " (free text, short)"
		}
		byCategory[spec.Category] = append(byCategory[spec.Category], line)
	}

	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var sb strings.Builder
	sb.WriteString("You extract long-term user preferences from a shopping and services conversation.\n")
	sb.WriteString("Only use the keys listed below. Ignore one-off facts about the current order.\n\n")
	for _, c := range categories {
		lines := byCategory[c]
		sort.Strings(lines)
		sb.WriteString(c + ":\n")
		sb.WriteString(strings.Join(lines, "\n"))
		sb.WriteString("\n\n")
	}
	sb.WriteString(`Respond with JSON only: {"preferences": [{"key": "...", "value": "...", "confidence": 0.0}]}. `)
	sb.WriteString("Confidence reflects how explicitly the user stated the preference. ")
	sb.WriteString(`Return {"preferences": []} when nothing qualifies.`)
	return sb.String()
}
