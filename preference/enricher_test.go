package preference

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaanihq/vaani/internal/profile"
	"github.com/vaanihq/vaani/llm"
	"github.com/vaanihq/vaani/store"
	"github.com/vaanihq/vaani/store/db/sqlite"
)

type fakeLLM struct {
	reply string
	err   error
}

func (f *fakeLLM) Chat(context.Context, []llm.Message, *llm.Options) (string, *llm.CallStats, error) {
	return f.reply, &llm.CallStats{}, f.err
}

func (f *fakeLLM) ChatStream(context.Context, []llm.Message, *llm.Options) (<-chan string, <-chan error) {
	c := make(chan string)
	e := make(chan error)
	close(c)
	close(e)
	return c, e
}

func (f *fakeLLM) Warmup(context.Context) {}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	p := &profile.Profile{Mode: "dev", Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "vaani_test.db")}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	require.NoError(t, driver.Migrate(context.Background()))
	st := store.New(driver, p)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func loadAttrs(t *testing.T, st *store.Store, userID string) map[string]Attr {
	t.Helper()
	p, err := st.GetUserProfile(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, p)
	attrs := map[string]Attr{}
	require.NoError(t, json.Unmarshal(p.Attrs, &attrs))
	return attrs
}

func TestEnrich_HighConfidencePersistsConfirmed(t *testing.T) {
	st := newTestStore(t)
	e := NewEnricher(&fakeLLM{reply: `{"preferences": [
		{"key": "veg_pref", "value": "veg", "confidence": 0.95},
		{"key": "spice_level", "value": "high", "confidence": 0.88}
	]}`}, st)

	e.Enrich(context.Background(), "u1", "main pure veg khata hoon, spicy pasand hai", nil)

	attrs := loadAttrs(t, st, "u1")
	assert.Equal(t, "veg", attrs["veg_pref"].Value)
	assert.Equal(t, StatusConfirmed, attrs["veg_pref"].Status)
	assert.Equal(t, StatusConfirmed, attrs["spice_level"].Status)
}

func TestEnrich_MidTierPendsAndAsksOnce(t *testing.T) {
	st := newTestStore(t)
	e := NewEnricher(&fakeLLM{reply: `{"preferences": [
		{"key": "budget_tier", "value": "premium", "confidence": 0.78}
	]}`}, st)

	var keys, questions []string
	e.SetAskFunc(func(_, key, _, q string) {
		keys = append(keys, key)
		questions = append(questions, q)
	})

	e.Enrich(context.Background(), "u1", "only branded stuff please", nil)

	attrs := loadAttrs(t, st, "u1")
	assert.Equal(t, StatusPending, attrs["budget_tier"].Status)
	require.Len(t, questions, 1)
	assert.Equal(t, []string{"budget_tier"}, keys)
	assert.Contains(t, questions[0], "budget tier")

	// Same key again inside the cooldown window: persisted, not re-asked.
	e.Enrich(context.Background(), "u1", "premium only", nil)
	assert.Len(t, questions, 1, "24h cooldown suppresses the repeat question")
}

func TestEnrich_LowConfidenceDiscarded(t *testing.T) {
	st := newTestStore(t)
	e := NewEnricher(&fakeLLM{reply: `{"preferences": [
		{"key": "tone", "value": "formal", "confidence": 0.4}
	]}`}, st)

	e.Enrich(context.Background(), "u1", "hello", nil)

	p, err := st.GetUserProfile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, p, "nothing crossed a persist threshold")
}

func TestEnrich_OffSchemaItemsDropped(t *testing.T) {
	st := newTestStore(t)
	e := NewEnricher(&fakeLLM{reply: `{"preferences": [
		{"key": "favorite_color", "value": "blue", "confidence": 0.99},
		{"key": "veg_pref", "value": "carnivore", "confidence": 0.99},
		{"key": "language", "value": "hinglish", "confidence": 0.9}
	]}`}, st)

	e.Enrich(context.Background(), "u1", "...", nil)

	attrs := loadAttrs(t, st, "u1")
	assert.Len(t, attrs, 1)
	assert.Equal(t, "hinglish", attrs["language"].Value)
}

func TestEnrich_PendingNeverDowngradesConfirmed(t *testing.T) {
	st := newTestStore(t)

	e := NewEnricher(&fakeLLM{reply: `{"preferences": [{"key": "veg_pref", "value": "veg", "confidence": 0.95}]}`}, st)
	e.Enrich(context.Background(), "u1", "pure veg", nil)

	e = NewEnricher(&fakeLLM{reply: `{"preferences": [{"key": "veg_pref", "value": "nonveg", "confidence": 0.75}]}`}, st)
	e.Enrich(context.Background(), "u1", "maybe chicken today", nil)

	attrs := loadAttrs(t, st, "u1")
	assert.Equal(t, "veg", attrs["veg_pref"].Value)
	assert.Equal(t, StatusConfirmed, attrs["veg_pref"].Status)
}

func TestConfirm_SettlesPendingAttribute(t *testing.T) {
	st := newTestStore(t)
	e := NewEnricher(&fakeLLM{reply: `{"preferences": [
		{"key": "budget_tier", "value": "premium", "confidence": 0.78},
		{"key": "spice_level", "value": "low", "confidence": 0.75}
	]}`}, st)
	e.Enrich(context.Background(), "u1", "only branded stuff, halka teekha", nil)

	// "yes" promotes the pending value to confirmed at full confidence.
	require.NoError(t, e.Confirm(context.Background(), "u1", "budget_tier", true))
	attrs := loadAttrs(t, st, "u1")
	assert.Equal(t, StatusConfirmed, attrs["budget_tier"].Status)
	assert.Equal(t, 1.0, attrs["budget_tier"].Confidence)

	// "no" removes the pending value.
	require.NoError(t, e.Confirm(context.Background(), "u1", "spice_level", false))
	attrs = loadAttrs(t, st, "u1")
	_, ok := attrs["spice_level"]
	assert.False(t, ok)

	// A rejection never touches an already confirmed attribute.
	require.NoError(t, e.Confirm(context.Background(), "u1", "budget_tier", false))
	attrs = loadAttrs(t, st, "u1")
	assert.Equal(t, StatusConfirmed, attrs["budget_tier"].Status)

	// Unknown key is a no-op.
	require.NoError(t, e.Confirm(context.Background(), "u1", "veg_pref", true))
}

func TestEnrich_FailuresAreNoOps(t *testing.T) {
	st := newTestStore(t)

	NewEnricher(&fakeLLM{err: errors.New("llm down")}, st).
		Enrich(context.Background(), "u1", "hi", nil)
	NewEnricher(&fakeLLM{reply: "not json at all"}, st).
		Enrich(context.Background(), "u1", "hi", nil)

	p, err := st.GetUserProfile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestEnrich_StripsCodeFences(t *testing.T) {
	st := newTestStore(t)
	e := NewEnricher(&fakeLLM{reply: "```json\n{\"preferences\": [{\"key\": \"language\", \"value\": \"hi\", \"confidence\": 0.9}]}\n```"}, st)

	e.Enrich(context.Background(), "u1", "hindi me baat karo", nil)

	attrs := loadAttrs(t, st, "u1")
	assert.Equal(t, "hi", attrs["language"].Value)
}

func TestCompleteness(t *testing.T) {
	assert.Zero(t, Completeness(nil))

	attrs := map[string]Attr{
		"veg_pref": {Value: "veg", Status: StatusConfirmed},
		"language": {Value: "hi", Status: StatusConfirmed},
		"tone":     {Value: "casual", Status: StatusPending}, // pending does not count
	}
	got := Completeness(attrs)
	assert.InDelta(t, (3.0+3.0)/totalWeight*100, got, 0.0001)

	// Filling every key confirmed saturates at 100.
	full := map[string]Attr{}
	for key := range schema {
		full[key] = Attr{Value: "x", Status: StatusConfirmed}
	}
	assert.InDelta(t, 100, Completeness(full), 0.0001)
}
