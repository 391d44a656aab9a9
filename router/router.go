// Package router turns an inbound utterance plus session state into a
// routing decision: resume the in-flight flow run, start a new flow, detour
// through authentication with the intent stashed for replay, or ask the user
// to clarify.
package router

import (
	"context"
	"log/slog"
	"strings"

	"github.com/vaanihq/vaani/flow"
	"github.com/vaanihq/vaani/nlu"
	"github.com/vaanihq/vaani/session"
)

// HighConfidence is the threshold above which a classified intent starts its
// triggered flow directly.
const HighConfidence = 0.80

// Kind enumerates routing decisions.
type Kind string

const (
	KindResume  Kind = "resume"
	KindStart   Kind = "start"
	KindClarify Kind = "clarify"
	KindCancel  Kind = "cancel"
)

// Decision is the router's verdict for one inbound message.
type Decision struct {
	Kind           Kind
	RunID          string           // KindResume: the suspended run to feed
	Flow           *flow.Definition // KindStart: the definition to start
	Classification *nlu.Classification
	Prompt         string // KindClarify / KindCancel: reply text
	AuthDetour     bool   // KindStart via the auth flow with a stashed intent
}

// FlowSource resolves flow definitions. *flow.DefinitionStore satisfies it.
type FlowSource interface {
	ByTrigger(ctx context.Context, intent string) (*flow.Definition, error)
	ByID(ctx context.Context, id string) (*flow.Definition, error)
}

// Runs answers whether a session has a live flow run. *flow.Engine
// satisfies it.
type Runs interface {
	InFlight(sessionID string) (string, bool)
}

// Config tunes the router. Zero values fall back to defaults.
type Config struct {
	// AuthFlowID is the flow started for the authentication detour.
	AuthFlowID string
	// AuthIntents lists intents whose flows act on the user's account and
	// therefore need an authenticated session before starting.
	AuthIntents []string
	// Fallbacks maps a module to the flow started when classification lands
	// below the threshold but the module is known.
	Fallbacks map[string]string
	// DefaultFlowID handles guest browsing and small talk.
	DefaultFlowID string
	// ClarifyPrompt is sent when nothing else matches.
	ClarifyPrompt string
}

const (
	defaultAuthFlowID    = "auth_v1"
	defaultFlowID        = "smalltalk_v1"
	defaultClarifyPrompt = "Sorry, I didn't catch that. I can help you order food, track an order, book a service, or check your wallet. What would you like to do?"
	cancelledPrompt      = "Okay, cancelled. What would you like to do next?"
)

// defaultAuthIntents cover the account-touching verticals shipped with the
// seed flows.
var defaultAuthIntents = []string{
	"order_food",
	"track_order",
	"cancel_order",
	"book_service",
	"wallet_balance",
	"raise_complaint",
}

// escapeWords force-terminate the in-flight run before any routing happens.
var escapeWords = map[string]bool{
	"cancel":   true,
	"/cancel":  true,
	"restart":  true,
	"/restart": true,
	"stop":     true,
}

// Router decides what each inbound message should do. It is stateless; all
// conversational state lives on the session.
type Router struct {
	classifier nlu.Classifier
	flows      FlowSource
	runs       Runs

	authFlowID    string
	authIntents   map[string]bool
	fallbacks     map[string]string
	defaultFlowID string
	clarifyPrompt string
}

func New(classifier nlu.Classifier, flows FlowSource, runs Runs, cfg *Config) *Router {
	if cfg == nil {
		cfg = &Config{}
	}
	r := &Router{
		classifier:    classifier,
		flows:         flows,
		runs:          runs,
		authFlowID:    cfg.AuthFlowID,
		authIntents:   map[string]bool{},
		fallbacks:     cfg.Fallbacks,
		defaultFlowID: cfg.DefaultFlowID,
		clarifyPrompt: cfg.ClarifyPrompt,
	}
	if r.authFlowID == "" {
		r.authFlowID = defaultAuthFlowID
	}
	if r.defaultFlowID == "" {
		r.defaultFlowID = defaultFlowID
	}
	if r.clarifyPrompt == "" {
		r.clarifyPrompt = defaultClarifyPrompt
	}
	intents := cfg.AuthIntents
	if intents == nil {
		intents = defaultAuthIntents
	}
	for _, it := range intents {
		r.authIntents[it] = true
	}
	return r
}

// Route decides what to do with one inbound message. The session is mutated
// in place (pending intent, cached classification); the caller holds the
// per-recipient lock.
func (r *Router) Route(ctx context.Context, sess *session.Session, input *flow.Input) (*Decision, error) {
	text := input.Text
	if text == "" {
		text = input.ButtonReply
	}

	if escapeWords[strings.ToLower(strings.TrimSpace(text))] {
		// Escape words clear the stashed intent too: the user bailing out of
		// the auth detour does not want the stash replayed later.
		sess.SetPendingIntent(nil)
		observeDecision(KindCancel)
		return &Decision{Kind: KindCancel, Prompt: cancelledPrompt}, nil
	}

	if runID, ok := r.runs.InFlight(sess.RecipientID); ok {
		observeDecision(KindResume)
		return &Decision{Kind: KindResume, RunID: runID}, nil
	}

	// Non-text input with no live run has nothing to resume and nothing to
	// classify; a stray button tap or location drop routes to clarification.
	if text == "" && input.Location == nil {
		observeDecision(KindClarify)
		return &Decision{Kind: KindClarify, Prompt: r.clarifyPrompt}, nil
	}

	classification, err := r.classifier.Classify(ctx, text, "")
	if err != nil || classification == nil {
		slog.Warn("router: classification unavailable", "recipient", sess.RecipientID, "error", err)
		classification = &nlu.Classification{Intent: "unknown", Fallback: true}
	}
	r.cacheClassification(sess, text, classification)

	decision, err := r.decide(ctx, sess, classification, text)
	if err != nil {
		return nil, err
	}
	observeDecision(decision.Kind)
	return decision, nil
}

func (r *Router) decide(ctx context.Context, sess *session.Session, c *nlu.Classification, text string) (*Decision, error) {
	if c.Confidence >= HighConfidence {
		if r.authIntents[c.Intent] && !sess.Authenticated() {
			return r.authDetour(ctx, sess, c, text)
		}
		def, err := r.flows.ByTrigger(ctx, c.Intent)
		if err != nil {
			return nil, err
		}
		if def != nil {
			return &Decision{Kind: KindStart, Flow: def, Classification: c}, nil
		}
	}

	// Below threshold (or trigger unmatched): a fallback flow for the
	// intent's module still gives the user a guided path.
	if def, err := r.fallbackFlow(ctx, c.Intent); err != nil {
		return nil, err
	} else if def != nil {
		return &Decision{Kind: KindStart, Flow: def, Classification: c}, nil
	}

	return &Decision{Kind: KindClarify, Prompt: r.clarifyPrompt, Classification: c}, nil
}

func (r *Router) authDetour(ctx context.Context, sess *session.Session, c *nlu.Classification, text string) (*Decision, error) {
	authFlow, err := r.flows.ByID(ctx, r.authFlowID)
	if err != nil {
		return nil, err
	}
	if authFlow == nil {
		// No auth flow deployed; better to start the protected flow than to
		// dead-end the user. The flow's own guards take over.
		def, err := r.flows.ByTrigger(ctx, c.Intent)
		if err != nil || def == nil {
			return &Decision{Kind: KindClarify, Prompt: r.clarifyPrompt, Classification: c}, err
		}
		return &Decision{Kind: KindStart, Flow: def, Classification: c}, nil
	}

	sess.SetPendingIntent(&session.PendingIntent{
		Intent:   c.Intent,
		Text:     text,
		Entities: c.EntityMap(),
	})
	slog.Info("router: auth detour",
		"recipient", sess.RecipientID,
		"intent", c.Intent,
	)
	return &Decision{Kind: KindStart, Flow: authFlow, Classification: c, AuthDetour: true}, nil
}

// fallbackFlow resolves the module of the classified intent (via its trigger
// flow, enabled or not it still names the module) and returns the module's
// fallback flow, the default flow for the general module, or nil.
func (r *Router) fallbackFlow(ctx context.Context, intent string) (*flow.Definition, error) {
	module := moduleOf(intent)
	if def, err := r.flows.ByTrigger(ctx, intent); err != nil {
		return nil, err
	} else if def != nil {
		module = def.Module
	}

	flowID, ok := r.fallbacks[module]
	if !ok {
		if module != "general" {
			return nil, nil
		}
		flowID = r.defaultFlowID
	}
	return r.flows.ByID(ctx, flowID)
}

// Replay re-routes the stashed pending intent after a successful auth flow.
// Returns nil when nothing is pending. The stash is cleared before routing
// so a second detour cannot loop.
func (r *Router) Replay(ctx context.Context, sess *session.Session) (*Decision, error) {
	pi := sess.PendingIntent()
	if pi == nil {
		return nil, nil
	}
	sess.SetPendingIntent(nil)
	slog.Info("router: replaying pending intent",
		"recipient", sess.RecipientID,
		"intent", pi.Intent,
	)
	return r.Route(ctx, sess, &flow.Input{Text: pi.Text})
}

func (r *Router) cacheClassification(sess *session.Session, text string, c *nlu.Classification) {
	sess.Set(session.KeyLastIntent, c.Intent)
	sess.Set(session.KeyLastMessage, text)
	sess.Set("last_classification", map[string]any{
		"intent":     c.Intent,
		"confidence": c.Confidence,
		"language":   c.Language,
		"fallback":   c.Fallback,
	})
}

// moduleOf maps well-known intents to their vertical when no trigger flow
// exists to ask. Small talk and greetings belong to the general module.
func moduleOf(intent string) string {
	switch intent {
	case "greeting", "small_talk", "chitchat", "thanks", "goodbye", "unknown":
		return "general"
	}
	return ""
}
