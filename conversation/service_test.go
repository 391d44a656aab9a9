package conversation

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaanihq/vaani/channel"
	"github.com/vaanihq/vaani/flow"
	"github.com/vaanihq/vaani/flow/executor"
	"github.com/vaanihq/vaani/internal/profile"
	"github.com/vaanihq/vaani/llm"
	"github.com/vaanihq/vaani/nlu"
	"github.com/vaanihq/vaani/preference"
	"github.com/vaanihq/vaani/router"
	"github.com/vaanihq/vaani/session"
	"github.com/vaanihq/vaani/store"
	"github.com/vaanihq/vaani/store/db/sqlite"
)

const testTokenKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type fakeClassifier struct {
	byText map[string]*nlu.Classification
}

func (f *fakeClassifier) Classify(_ context.Context, text, _ string) (*nlu.Classification, error) {
	if c, ok := f.byText[text]; ok {
		return c, nil
	}
	return &nlu.Classification{Intent: "unknown", Confidence: 0.21}, nil
}

func authFlow() *flow.Definition {
	return &flow.Definition{
		ID: "auth_v1", Name: "Authentication", Module: "auth",
		Version: 1, Enabled: true, InitialState: "prompt_phone",
		FinalStates: []string{"done"},
		States: map[string]flow.StateDefinition{
			"prompt_phone": {
				Type:        flow.StateAction,
				Actions:     []flow.ActionSpec{{Executor: "response", Config: map[string]any{"text": "Please enter phone"}}},
				Transitions: map[string]string{"success": "ask_phone"},
			},
			"ask_phone": {
				Type:        flow.StateInput,
				Actions:     []flow.ActionSpec{{Executor: "validation", Config: map[string]any{"type": "phone"}}},
				Transitions: map[string]string{"valid": "send_otp", "invalid": "bad_phone"},
			},
			"bad_phone": {
				Type:        flow.StateAction,
				Actions:     []flow.ActionSpec{{Executor: "response", Config: map[string]any{"text": "That number doesn't look right, try again."}}},
				Transitions: map[string]string{"success": "ask_phone"},
			},
			"send_otp": {
				Type:        flow.StateAction,
				Actions:     []flow.ActionSpec{{Executor: "response", Config: map[string]any{"text": "OTP sent"}}},
				Transitions: map[string]string{"success": "ask_otp"},
			},
			"ask_otp": {
				Type:        flow.StateInput,
				Actions:     []flow.ActionSpec{{Executor: "validation", Config: map[string]any{"type": "otp"}}},
				Transitions: map[string]string{"valid": "verified", "invalid": "send_otp"},
			},
			"verified": {
				Type: flow.StateAction,
				Actions: []flow.ActionSpec{
					{Executor: "set", Config: map[string]any{"path": "variables.auth_token", "value": "tok-test-123"}},
					{Executor: "response", Config: map[string]any{"text": "✅ Verified"}},
				},
				Transitions: map[string]string{"success": "done"},
			},
			"done": {Type: flow.StateEnd},
		},
	}
}

func foodFlow() *flow.Definition {
	return &flow.Definition{
		ID: "food_order_v1", Name: "Food order", Module: "food", Trigger: "order_food",
		Version: 1, Enabled: true, InitialState: "ask_item",
		FinalStates: []string{"done"},
		States: map[string]flow.StateDefinition{
			"ask_item": {
				Type:        flow.StateAction,
				Actions:     []flow.ActionSpec{{Executor: "response", Config: map[string]any{"text": "What would you like to order?"}}},
				Transitions: map[string]string{"success": "take_item"},
			},
			"take_item": {
				Type:        flow.StateInput,
				Actions:     []flow.ActionSpec{{Executor: "validation", Config: map[string]any{"type": "nonempty", "save_to": "item"}}},
				Transitions: map[string]string{"valid": "confirm", "invalid": "take_item"},
			},
			"confirm": {
				Type:        flow.StateAction,
				Actions:     []flow.ActionSpec{{Executor: "response", Config: map[string]any{"text": "Adding {{collected.item}} to your order"}}},
				Transitions: map[string]string{"success": "done"},
			},
			"done": {Type: flow.StateEnd},
		},
	}
}

type env struct {
	svc      *Service
	recorder *channel.Recorder
	store    *store.Store
	flows    *flow.DefinitionStore
	registry *flow.Registry
	eval     *flow.Evaluator
	sessions *session.Store
}

func setup(t *testing.T) *env {
	t.Helper()

	p := &profile.Profile{Mode: "dev", Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "vaani_test.db")}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	require.NoError(t, driver.Migrate(context.Background()))
	st := store.New(driver, p)
	t.Cleanup(func() { _ = st.Close() })

	eval, err := flow.NewEvaluator()
	require.NoError(t, err)

	flows := flow.NewDefinitionStore(st, eval)
	require.NoError(t, flows.Save(context.Background(), authFlow()))
	require.NoError(t, flows.Save(context.Background(), foodFlow()))

	classifier := &fakeClassifier{byText: map[string]*nlu.Classification{
		"order pizza": {Intent: "order_food", Confidence: 0.93, Entities: []nlu.Entity{{Type: "dish", Value: "pizza"}}},
	}}

	registry := flow.NewRegistry()
	executor.RegisterAll(registry, nil, classifier)

	recorder := channel.NewRecorder()
	dispatcher := channel.NewDispatcher()
	dispatcher.Register(recorder)

	sessions := session.NewStore(128, time.Hour)
	t.Cleanup(sessions.Close)

	e := &env{recorder: recorder, store: st, flows: flows, registry: registry, eval: eval, sessions: sessions}
	e.svc = e.newService(classifier, dispatcher, nil)
	return e
}

// newService builds a Service over the env's shared state; called a second
// time to model a node restart.
func (e *env) newService(classifier nlu.Classifier, dispatcher *channel.Dispatcher, enricher *preference.Enricher) *Service {
	engine := flow.NewEngine(e.registry, e.eval, NewRunStore(e.store))
	rt := router.New(classifier, e.flows, engine, nil)
	return NewService(&Options{
		Sessions:   e.sessions,
		Router:     rt,
		Engine:     engine,
		Flows:      e.flows,
		Dispatcher: dispatcher,
		Store:      e.store,
		Enricher:   enricher,
		TokenKey:   testTokenKey,
	})
}

func inbound(recipient, text string) channel.InboundMessage {
	return channel.InboundMessage{
		RecipientID: recipient,
		Platform:    channel.PlatformTest,
		Text:        text,
		ReceivedAt:  time.Now(),
	}
}

func texts(msgs []channel.OutboundMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

func TestAuthDetourJourney(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	// 1. Protected intent from a guest: stash and detour into auth.
	require.NoError(t, e.svc.HandleInbound(ctx, inbound("u1", "order pizza")))
	assert.Equal(t, []string{"Please enter phone"}, texts(e.recorder.Drain("u1")))

	// 2. Phone accepted, OTP requested.
	require.NoError(t, e.svc.HandleInbound(ctx, inbound("u1", "9876543210")))
	assert.Equal(t, []string{"OTP sent"}, texts(e.recorder.Drain("u1")))

	// 3. OTP accepted: auth completes and the stashed intent replays in the
	// same turn, in order.
	require.NoError(t, e.svc.HandleInbound(ctx, inbound("u1", "4321")))
	assert.Equal(t, []string{"✅ Verified", "What would you like to order?"}, texts(e.recorder.Drain("u1")))

	// 4. The replayed food flow is now in flight.
	require.NoError(t, e.svc.HandleInbound(ctx, inbound("u1", "paneer pizza")))
	assert.Equal(t, []string{"Adding paneer pizza to your order"}, texts(e.recorder.Drain("u1")))

	sess := e.sessions.Get("u1")
	require.NotNil(t, sess)
	assert.True(t, sess.Authenticated())
	assert.Equal(t, "9876543210", sess.GetString(session.KeyPhone))
	assert.Nil(t, sess.PendingIntent())

	e.svc.Drain()

	// The auth token landed encrypted in the profile.
	p, err := e.store.GetUserProfile(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, p)
	var attrs map[string]map[string]any
	require.NoError(t, json.Unmarshal(p.Attrs, &attrs))
	enc, _ := attrs["auth_token"]["value"].(string)
	token, err := store.DecryptToken(enc, testTokenKey)
	require.NoError(t, err)
	assert.Equal(t, "tok-test-123", token)

	// High-confidence classification was captured for training.
	samples, err := e.store.ListTrainingSamples(ctx, &store.FindTrainingSample{})
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, "order_food", samples[0].Intent)
	assert.Equal(t, store.ReviewAutoApproved, samples[0].ReviewStatus)

	// Both sides of the conversation were logged.
	msgs, err := e.store.ListConversationMessages(ctx, &store.FindConversationMessage{SessionID: strPtr("u1")})
	require.NoError(t, err)
	var users, assistants int
	for _, m := range msgs {
		switch m.Role {
		case store.RoleUser:
			users++
		case store.RoleAssistant:
			assistants++
		}
	}
	assert.Equal(t, 4, users)
	assert.Equal(t, 5, assistants)
}

func TestLowConfidenceAsksClarification(t *testing.T) {
	e := setup(t)

	require.NoError(t, e.svc.HandleInbound(context.Background(), inbound("u2", "play chess with me")))

	replies := e.recorder.Drain("u2")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "didn't catch that")

	runs, err := e.store.ListFlowRuns(context.Background(), &store.FindFlowRun{SessionID: strPtr("u2")})
	require.NoError(t, err)
	assert.Empty(t, runs, "no flow run is created for a clarification")
}

func TestEscapeWordCancelsSuspendedRun(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	require.NoError(t, e.svc.HandleInbound(ctx, inbound("u3", "order pizza")))
	e.recorder.Drain("u3")

	require.NoError(t, e.svc.HandleInbound(ctx, inbound("u3", "cancel")))
	replies := e.recorder.Drain("u3")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "cancelled")

	status := flow.StatusCancelled
	runs, err := e.store.ListFlowRuns(ctx, &store.FindFlowRun{SessionID: strPtr("u3"), Status: &status})
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	sess := e.sessions.Get("u3")
	require.NotNil(t, sess)
	assert.Nil(t, sess.PendingIntent(), "cancel clears the auth-detour stash")
	assert.Empty(t, sess.ActiveRunID())
}

func TestRestartAdoptsSuspendedRun(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	require.NoError(t, e.svc.HandleInbound(ctx, inbound("u4", "order pizza")))
	assert.Equal(t, []string{"Please enter phone"}, texts(e.recorder.Drain("u4")))

	// A fresh engine and service over the same store models a node restart;
	// the in-memory run registry is empty but the DB still has the
	// suspended run.
	classifier := &fakeClassifier{byText: map[string]*nlu.Classification{}}
	dispatcher := channel.NewDispatcher()
	dispatcher.Register(e.recorder)
	restarted := e.newService(classifier, dispatcher, nil)

	require.NoError(t, restarted.HandleInbound(ctx, inbound("u4", "9876543210")))
	assert.Equal(t, []string{"OTP sent"}, texts(e.recorder.Drain("u4")))
}

type fakeLLM struct {
	reply string
}

func (f *fakeLLM) Chat(context.Context, []llm.Message, *llm.Options) (string, *llm.CallStats, error) {
	return f.reply, &llm.CallStats{}, nil
}

func (f *fakeLLM) ChatStream(context.Context, []llm.Message, *llm.Options) (<-chan string, <-chan error) {
	c := make(chan string)
	e := make(chan error)
	close(c)
	close(e)
	return c, e
}

func (f *fakeLLM) Warmup(context.Context) {}

func feedbackFlow() *flow.Definition {
	return &flow.Definition{
		ID: "feedback_v1", Name: "Feedback", Module: "general", Trigger: "give_feedback",
		Version: 1, Enabled: true, InitialState: "thank",
		FinalStates: []string{"done"},
		States: map[string]flow.StateDefinition{
			"thank": {
				Type: flow.StateAction,
				Actions: []flow.ActionSpec{{
					Executor:  "response",
					Config:    map[string]any{"text": "Thanks for the feedback!"},
					OnSuccess: "archived",
				}},
				Transitions: map[string]string{"error": "done"},
			},
			"done": {Type: flow.StateEnd},
		},
	}
}

func TestFailedRunSendsApology(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	// The thank state renames success to "archived", which no transition
	// handles: the run fails mid-drive.
	require.NoError(t, e.flows.Save(ctx, feedbackFlow()))
	classifier := &fakeClassifier{byText: map[string]*nlu.Classification{
		"some feedback": {Intent: "give_feedback", Confidence: 0.95},
	}}
	dispatcher := channel.NewDispatcher()
	dispatcher.Register(e.recorder)
	svc := e.newService(classifier, dispatcher, nil)

	require.NoError(t, svc.HandleInbound(ctx, inbound("u5", "some feedback")))
	assert.Equal(t, []string{"Thanks for the feedback!", flowFailReply}, texts(e.recorder.Drain("u5")))

	status := flow.StatusFailed
	runs, err := e.store.ListFlowRuns(ctx, &store.FindFlowRun{SessionID: strPtr("u5"), Status: &status})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestPreferenceConfirmationJourney(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	enricher := preference.NewEnricher(&fakeLLM{reply: `{"preferences": [
		{"key": "budget_tier", "value": "premium", "confidence": 0.78}
	]}`}, e.store)
	classifier := &fakeClassifier{byText: map[string]*nlu.Classification{}}
	dispatcher := channel.NewDispatcher()
	dispatcher.Register(e.recorder)
	svc := e.newService(classifier, dispatcher, enricher)

	// The mid-tier extraction persists as pending and asks for confirmation
	// once the enrichment pass settles.
	require.NoError(t, svc.HandleInbound(ctx, inbound("u6", "only branded stuff please")))
	svc.Drain()
	replies := texts(e.recorder.Drain("u6"))
	require.Len(t, replies, 2)
	assert.Contains(t, replies[1], "budget tier")

	sess := e.sessions.Get("u6")
	require.NotNil(t, sess)
	require.NotNil(t, sess.PendingConfirmation())

	// "haan" settles the question: confirmed at full confidence, and the
	// reply never reaches the intent router.
	require.NoError(t, svc.HandleInbound(ctx, inbound("u6", "haan")))
	replies = texts(e.recorder.Drain("u6"))
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "remember")
	assert.Nil(t, sess.PendingConfirmation())

	svc.Drain()
	p, err := e.store.GetUserProfile(ctx, "u6")
	require.NoError(t, err)
	require.NotNil(t, p)
	var attrs map[string]map[string]any
	require.NoError(t, json.Unmarshal(p.Attrs, &attrs))
	assert.Equal(t, "premium", attrs["budget_tier"]["value"])
	assert.Equal(t, "confirmed", attrs["budget_tier"]["status"])
	assert.Equal(t, 1.0, attrs["budget_tier"]["confidence"])

	runs, err := e.store.ListFlowRuns(ctx, &store.FindFlowRun{SessionID: strPtr("u6")})
	require.NoError(t, err)
	assert.Empty(t, runs, "a confirmation answer starts no flow")
}

func TestPreferenceConfirmationRefused(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	enricher := preference.NewEnricher(&fakeLLM{reply: `{"preferences": [
		{"key": "spice_level", "value": "low", "confidence": 0.75}
	]}`}, e.store)
	classifier := &fakeClassifier{byText: map[string]*nlu.Classification{}}
	dispatcher := channel.NewDispatcher()
	dispatcher.Register(e.recorder)
	svc := e.newService(classifier, dispatcher, enricher)

	require.NoError(t, svc.HandleInbound(ctx, inbound("u7", "halka teekha chalega")))
	svc.Drain()
	e.recorder.Drain("u7")

	// A refusal, phrased as more than a bare "no", drops the pending value.
	require.NoError(t, svc.HandleInbound(ctx, inbound("u7", "no way")))
	replies := texts(e.recorder.Drain("u7"))
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "won't save")

	svc.Drain()
	p, err := e.store.GetUserProfile(ctx, "u7")
	require.NoError(t, err)
	require.NotNil(t, p)
	var attrs map[string]map[string]any
	require.NoError(t, json.Unmarshal(p.Attrs, &attrs))
	_, ok := attrs["spice_level"]
	assert.False(t, ok)
}

func strPtr(s string) *string { return &s }
