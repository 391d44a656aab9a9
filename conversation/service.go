// Package conversation is the top-level service tying channels, routing, the
// flow engine, and persistence together. One inbound message in, ordered
// outbound messages out; everything per recipient is serialized behind a
// bounded queue.
package conversation

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vaanihq/vaani/asr"
	"github.com/vaanihq/vaani/channel"
	"github.com/vaanihq/vaani/flow"
	"github.com/vaanihq/vaani/flow/executor"
	"github.com/vaanihq/vaani/nlu"
	"github.com/vaanihq/vaani/preference"
	"github.com/vaanihq/vaani/router"
	"github.com/vaanihq/vaani/session"
	"github.com/vaanihq/vaani/store"
)

const (
	// defaultStepDeadline is the wall-clock budget for handling one inbound
	// message end to end.
	defaultStepDeadline = 8 * time.Second

	// defaultQueueDepth bounds messages waiting behind the per-recipient
	// lock; overflow gets an explicit soft reject.
	defaultQueueDepth = 4

	// sendBudget caps outbound delivery after the step settles. Committed
	// outbound still goes out even when the step deadline was blown.
	sendBudget = 10 * time.Second

	// trainingAutoApprove is the confidence at which a captured sample
	// skips human review.
	trainingAutoApprove = 0.90

	logWriteBudget = 3 * time.Second
)

const (
	softRejectReply  = "Thoda dheere! You're sending messages too fast, give me a moment."
	softFailReply    = "Sorry, that took longer than expected. Please send that again."
	flowFailReply    = "Sorry, something went wrong on my side. Please start over."
	asrFailReply     = "Sorry, I couldn't make out that voice note. Could you type it instead?"
	prefSavedReply   = "Noted, I'll remember that! 👍"
	prefSkippedReply = "No problem, I won't save that."
)

// Options wires the service's collaborators.
type Options struct {
	Sessions    *session.Store
	Router      *router.Router
	Engine      *flow.Engine
	Flows       *flow.DefinitionStore
	Dispatcher  *channel.Dispatcher
	Store       *store.Store
	Enricher    *preference.Enricher
	Transcriber asr.Transcriber

	StepDeadline time.Duration
	QueueDepth   int
	TokenKey     string // hex AES key for auth tokens at rest; empty disables
}

// gate serializes one recipient's messages and counts the queue behind it.
type gate struct {
	mu    sync.Mutex
	depth atomic.Int32
}

// Service processes inbound messages. Parallel across recipients, serial per
// recipient.
type Service struct {
	sessions    *session.Store
	router      *router.Router
	engine      *flow.Engine
	flows       *flow.DefinitionStore
	dispatcher  *channel.Dispatcher
	store       *store.Store
	enricher    *preference.Enricher
	transcriber asr.Transcriber

	stepDeadline time.Duration
	queueDepth   int32
	tokenKey     string

	gates sync.Map // recipient id -> *gate
	bg    sync.WaitGroup
}

func NewService(opts *Options) *Service {
	s := &Service{
		sessions:     opts.Sessions,
		router:       opts.Router,
		engine:       opts.Engine,
		flows:        opts.Flows,
		dispatcher:   opts.Dispatcher,
		store:        opts.Store,
		enricher:     opts.Enricher,
		transcriber:  opts.Transcriber,
		stepDeadline: opts.StepDeadline,
		queueDepth:   int32(opts.QueueDepth),
		tokenKey:     opts.TokenKey,
	}
	if s.stepDeadline <= 0 {
		s.stepDeadline = defaultStepDeadline
	}
	if s.queueDepth <= 0 {
		s.queueDepth = defaultQueueDepth
	}

	s.engine.SetTimeoutHandler(s.handleFlowTimeout)
	s.sessions.OnExpire(func(sess *session.Session) {
		s.engine.Abandon(sess.RecipientID)
	})
	if s.enricher != nil {
		s.enricher.SetAskFunc(s.askPreference)
	}
	return s
}

// HandleInbound processes one normalized inbound message. The error return
// covers infrastructure failures only; conversational problems become
// outbound replies.
func (s *Service) HandleInbound(ctx context.Context, msg channel.InboundMessage) error {
	observeInbound(msg.Platform)
	start := time.Now()

	if msg.Text == "" && hasAudio(msg.Attachments) {
		text, ok := s.transcribe(ctx, &msg)
		if !ok {
			s.reply(ctx, msg.Platform, msg.RecipientID, asrFailReply)
			return nil
		}
		msg.Text = text
	}

	g := s.gate(msg.RecipientID)
	if g.depth.Add(1) > s.queueDepth {
		g.depth.Add(-1)
		observeQueueReject(msg.Platform)
		s.reply(ctx, msg.Platform, msg.RecipientID, softRejectReply)
		return nil
	}
	defer g.depth.Add(-1)
	g.mu.Lock()
	defer g.mu.Unlock()

	stepCtx, cancel := context.WithTimeout(ctx, s.stepDeadline)
	defer cancel()

	sess := s.sessions.GetOrCreate(msg.RecipientID, msg.Platform)
	s.sessions.Touch(msg.RecipientID)
	if msg.Location != nil {
		sess.Set(session.KeyLocation, map[string]any{"lat": msg.Location.Lat, "lng": msg.Location.Lng})
		sess.Set(session.KeyLocationSaved, true)
	}
	turn := s.nextTurn(sess)

	if replies, handled := s.settleConfirmation(stepCtx, sess, &msg, turn); handled {
		s.commitOutbound(ctx, sess, msg.RecipientID, replies, turn)
		sess.AppendTurn(store.RoleUser, msg.Text)
		for _, m := range replies {
			if m.Text != "" {
				sess.AppendTurn(store.RoleAssistant, m.Text)
			}
		}
		observeProcessed(msg.Platform, time.Since(start))
		return nil
	}

	input := &flow.Input{Text: msg.Text, ButtonReply: msg.ButtonReply, Location: msg.Location}

	// A node restart orphans suspended runs in the DB; the next message for
	// the session reinstates its run before routing sees "no run in flight".
	if _, ok := s.engine.InFlight(msg.RecipientID); !ok {
		s.adoptSuspended(stepCtx, sess)
	}

	decision, err := s.router.Route(stepCtx, sess, input)
	if err != nil {
		slog.Error("conversation: routing failed", "recipient", msg.RecipientID, "error", err)
		s.reply(ctx, msg.Platform, msg.RecipientID, softFailReply)
		return err
	}

	s.logUserTurn(sess, &msg, decision, turn)
	s.captureSample(msg.Text, decision.Classification)

	outbound, outcome := s.execute(stepCtx, sess, decision, input)
	outbound, outcome = s.afterRun(stepCtx, sess, decision, outcome, outbound)

	if outcome != nil {
		switch {
		case outcome.Context.LastError != nil && outcome.Context.LastError.Kind == flow.ErrKindDeadlineExceeded:
			observeDeadline(msg.Platform)
			outbound = append(outbound, channel.TextMessage(msg.RecipientID, softFailReply))
		case outcome.Context.Status == flow.StatusFailed:
			// A failed run (unhandled event, unrecoverable executor error)
			// never leaves the user with silence.
			outbound = append(outbound, channel.TextMessage(msg.RecipientID, flowFailReply))
		}
	}

	s.commitOutbound(ctx, sess, msg.RecipientID, outbound, turn)

	if msg.Text != "" {
		sess.AppendTurn(store.RoleUser, msg.Text)
	}
	for _, m := range outbound {
		if m.Text != "" {
			sess.AppendTurn(store.RoleAssistant, m.Text)
		}
	}

	s.fireEnrichment(sess, msg.Text)

	observeProcessed(msg.Platform, time.Since(start))
	return nil
}

// execute turns a routing decision into outbound messages and, for flow
// decisions, the run outcome.
func (s *Service) execute(ctx context.Context, sess *session.Session, d *router.Decision, input *flow.Input) ([]channel.OutboundMessage, *flow.Outcome) {
	switch d.Kind {
	case router.KindCancel:
		s.engine.CancelSession(sess.RecipientID)
		sess.SetActiveRunID("")
		return []channel.OutboundMessage{channel.TextMessage(sess.RecipientID, d.Prompt)}, nil

	case router.KindClarify:
		return []channel.OutboundMessage{channel.TextMessage(sess.RecipientID, d.Prompt)}, nil

	case router.KindResume:
		outcome, err := s.engine.Resume(ctx, d.RunID, sess.Data, input)
		if err != nil {
			// The run vanished between routing and resume (restart race).
			// Treat the message as a fresh arrival.
			slog.Warn("conversation: resume failed, re-routing", "run_id", d.RunID, "error", err)
			sess.SetActiveRunID("")
			fresh, rerr := s.router.Route(ctx, sess, input)
			if rerr != nil || fresh.Kind == router.KindResume {
				return []channel.OutboundMessage{channel.TextMessage(sess.RecipientID, softFailReply)}, nil
			}
			return s.execute(ctx, sess, fresh, input)
		}
		return outcome.Outbound, outcome

	case router.KindStart:
		outcome, err := s.engine.Start(ctx, d.Flow, sess.RecipientID, sess.GetString(session.KeyUserID), sess.Data)
		if err != nil {
			slog.Error("conversation: flow start failed", "flow_id", d.Flow.ID, "error", err)
			return []channel.OutboundMessage{channel.TextMessage(sess.RecipientID, softFailReply)}, nil
		}
		sess.Set(session.KeyModule, d.Flow.Module)
		return outcome.Outbound, outcome
	}
	return nil, nil
}

// afterRun handles run settlement: active-run bookkeeping, auth completion
// glue, and pending-intent replay after a successful auth flow.
func (s *Service) afterRun(ctx context.Context, sess *session.Session, d *router.Decision, outcome *flow.Outcome, outbound []channel.OutboundMessage) ([]channel.OutboundMessage, *flow.Outcome) {
	if outcome == nil {
		return outbound, nil
	}

	fc := outcome.Context
	if fc.Terminal() {
		sess.SetActiveRunID("")
	} else {
		sess.SetActiveRunID(fc.RunID)
	}

	if fc.Status != flow.StatusCompleted {
		return outbound, outcome
	}

	s.finalizeAuth(ctx, sess, d, fc)

	// Auth succeeded with an intent stashed before the detour: the stashed
	// text routes again as if it had just arrived.
	if sess.Authenticated() && sess.PendingIntent() != nil {
		replay, err := s.router.Replay(ctx, sess)
		if err != nil || replay == nil {
			return outbound, outcome
		}
		more, next := s.execute(ctx, sess, replay, &flow.Input{Text: ""})
		outbound = append(outbound, more...)
		if next != nil {
			if next.Context.Terminal() {
				sess.SetActiveRunID("")
			} else {
				sess.SetActiveRunID(next.Context.RunID)
			}
		}
	}
	return outbound, outcome
}

// finalizeAuth promotes a completed auth-module run into session identity:
// authenticated flag, user id, and the auth token (also encrypted into the
// user profile so a later session can be rebuilt).
func (s *Service) finalizeAuth(ctx context.Context, sess *session.Session, d *router.Decision, fc *flow.Context) {
	module := ""
	if d.Flow != nil && d.Flow.ID == fc.FlowID {
		module = d.Flow.Module
	} else if def, err := s.flows.ByID(ctx, fc.FlowID); err == nil && def != nil {
		module = def.Module
	}
	if module != "auth" {
		return
	}

	sess.Set(session.KeyAuthenticated, true)
	if phone, ok := fc.CollectedData["phone"].(string); ok && phone != "" {
		sess.Set(session.KeyPhone, phone)
		if sess.GetString(session.KeyUserID) == "" {
			sess.Set(session.KeyUserID, phone)
		}
	}

	token := stringFrom(fc.Variables["auth_token"], fc.CollectedData["auth_token"])
	if token == "" {
		return
	}
	sess.Set(session.KeyAuthToken, token)
	s.persistToken(ctx, s.profileKey(sess), token)

	slog.Info("conversation: session authenticated", "recipient", sess.RecipientID)
}

// persistToken stores the auth token AES-GCM encrypted inside the user
// profile attrs, preserving whatever the enricher has written there.
func (s *Service) persistToken(ctx context.Context, userID, token string) {
	if s.tokenKey == "" {
		return
	}
	enc, err := store.EncryptToken(token, s.tokenKey)
	if err != nil {
		slog.Warn("conversation: token encryption failed", "error", err)
		return
	}

	attrs := map[string]any{}
	completeness := 0.0
	if p, err := s.store.GetUserProfile(ctx, userID); err == nil && p != nil {
		completeness = p.Completeness
		if len(p.Attrs) > 0 {
			_ = json.Unmarshal(p.Attrs, &attrs)
		}
	}
	attrs["auth_token"] = map[string]any{
		"value":      enc,
		"status":     "system",
		"updated_ts": time.Now().Unix(),
	}

	if _, err := s.store.UpsertUserProfile(ctx, &store.UpsertUserProfile{
		UserID:       userID,
		Attrs:        store.MarshalJSONB(attrs),
		Completeness: completeness,
	}); err != nil {
		slog.Warn("conversation: token persist failed", "user_id", userID, "error", err)
	}
}

// commitOutbound stamps recipients and delivers in queue order. Delivery uses
// its own budget so messages already committed by the engine are not lost to
// an expired step deadline.
func (s *Service) commitOutbound(ctx context.Context, sess *session.Session, recipient string, msgs []channel.OutboundMessage, turn int) {
	if len(msgs) == 0 {
		return
	}
	for i := range msgs {
		if msgs[i].RecipientID == "" {
			msgs[i].RecipientID = recipient
		}
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendBudget)
	defer cancel()
	if err := s.dispatcher.SendAll(sendCtx, sess.Platform(), msgs); err != nil {
		slog.Error("conversation: outbound commit failed", "recipient", recipient, "error", err)
	}

	s.logAssistantTurns(sess, msgs, turn)
}

// handleFlowTimeout is the engine's timer callback: it serializes with
// inbound traffic for the session and re-enters the run with the timeout
// event, delivering whatever the flow decides to say.
func (s *Service) handleFlowTimeout(sessionID, runID string) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()

		g := s.gate(sessionID)
		g.mu.Lock()
		defer g.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), s.stepDeadline)
		defer cancel()

		var data map[string]any
		sess := s.sessions.Get(sessionID)
		if sess != nil {
			data = sess.Data
		}

		outcome, err := s.engine.ResumeTimeout(ctx, runID, data)
		if err != nil {
			slog.Debug("conversation: timeout resume skipped", "run_id", runID, "error", err)
			return
		}
		if sess == nil {
			return
		}
		if outcome.Context.Terminal() {
			sess.SetActiveRunID("")
		}
		outbound := outcome.Outbound
		if outcome.Context.Status == flow.StatusFailed {
			outbound = append(outbound, channel.TextMessage(sessionID, flowFailReply))
		}
		s.commitOutbound(ctx, sess, sessionID, outbound, s.currentTurn(sess))
	}()
}

// askPreference delivers an enricher confirmation question and marks the
// session so the next yes/no reply settles it. It runs on the enrichment
// goroutine; session access happens under the recipient gate, which the
// inbound path holds while mutating the same map. The profile key doubles as
// the recipient id; there is no cross-channel identity.
func (s *Service) askPreference(userID, key, value, question string) {
	g := s.gate(userID)
	g.mu.Lock()
	sess := s.sessions.Get(userID)
	if sess == nil {
		g.mu.Unlock()
		return
	}
	if _, inFlight := s.engine.InFlight(userID); inFlight {
		// A question landing mid-flow would be consumed as flow input.
		g.mu.Unlock()
		return
	}
	platform := sess.Platform()
	sess.SetPendingConfirmation(&session.PendingConfirmation{Key: key, Value: value})
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), sendBudget)
	defer cancel()
	if err := s.dispatcher.Send(ctx, platform, channel.TextMessage(userID, question)); err != nil {
		slog.Warn("conversation: preference question dropped", "recipient", userID, "error", err)
	}
}

// settleConfirmation consumes a yes/no answer to an outstanding enricher
// question. Any other message supersedes the question and routes normally;
// an in-flight flow always wins the reply.
func (s *Service) settleConfirmation(ctx context.Context, sess *session.Session, msg *channel.InboundMessage, turn int) ([]channel.OutboundMessage, bool) {
	pc := sess.PendingConfirmation()
	if pc == nil || s.enricher == nil || msg.Text == "" {
		return nil, false
	}
	if _, inFlight := s.engine.InFlight(msg.RecipientID); inFlight {
		sess.SetPendingConfirmation(nil)
		return nil, false
	}

	yes, ok := executor.MatchYesNo(msg.Text)
	sess.SetPendingConfirmation(nil)
	if !ok {
		return nil, false
	}

	s.logAsync(&store.CreateConversationMessage{
		SessionID:       sess.RecipientID,
		RecipientID:     sess.RecipientID,
		Platform:        string(msg.Platform),
		Role:            store.RoleUser,
		Content:         msg.Text,
		TurnNumber:      turn,
		RoutingDecision: "preference_confirm",
	})

	if err := s.enricher.Confirm(ctx, s.profileKey(sess), pc.Key, yes); err != nil {
		slog.Warn("conversation: preference confirm failed", "recipient", sess.RecipientID, "error", err)
		return []channel.OutboundMessage{channel.TextMessage(sess.RecipientID, softFailReply)}, true
	}
	reply := prefSkippedReply
	if yes {
		reply = prefSavedReply
	}
	return []channel.OutboundMessage{channel.TextMessage(sess.RecipientID, reply)}, true
}

func (s *Service) fireEnrichment(sess *session.Session, text string) {
	if s.enricher == nil || text == "" {
		return
	}
	userID := s.profileKey(sess)
	history := sess.History()
	recent := make([]string, 0, len(history))
	for _, t := range history {
		recent = append(recent, t.Role+": "+t.Content)
	}

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		s.enricher.Enrich(context.Background(), userID, text, recent)
	}()
}

// profileKey is the user profile identity: the channel recipient id. Session
// user_id (phone) is session-scoped; profiles must survive re-auth.
func (s *Service) profileKey(sess *session.Session) string {
	return sess.RecipientID
}

func (s *Service) transcribe(ctx context.Context, msg *channel.InboundMessage) (string, bool) {
	if s.transcriber == nil {
		return "", false
	}
	for _, a := range msg.Attachments {
		if a.Kind != channel.AttachmentAudio {
			continue
		}
		data := a.Data
		if len(data) == 0 && a.URL != "" {
			// Webhook payloads carry a media reference, not bytes.
			p := s.dispatcher.Provider(msg.Platform)
			if p == nil {
				return "", false
			}
			var err error
			data, _, err = p.DownloadMedia(ctx, a.URL)
			if err != nil {
				slog.Warn("conversation: media download failed", "recipient", msg.RecipientID, "error", err)
				return "", false
			}
		}
		if len(data) == 0 {
			continue
		}
		text, err := s.transcriber.Transcribe(ctx, data, a.MimeType)
		if err != nil {
			slog.Warn("conversation: transcription failed", "recipient", msg.RecipientID, "error", err)
			return "", false
		}
		return text, true
	}
	return "", false
}

// adoptSuspended reinstates the newest suspended run for the session from the
// database. A version drift between the persisted run and the currently
// enabled definition abandons the run instead of resuming into missing states.
func (s *Service) adoptSuspended(ctx context.Context, sess *session.Session) {
	status := flow.StatusSuspended
	limit := 1
	runs, err := s.store.ListFlowRuns(ctx, &store.FindFlowRun{
		SessionID: &sess.RecipientID,
		Status:    &status,
		Limit:     &limit,
	})
	if err != nil || len(runs) == 0 {
		return
	}

	fc, err := flow.UnmarshalContext(runs[0].Context)
	if err != nil {
		slog.Warn("conversation: corrupt persisted run", "run_id", runs[0].RunID, "error", err)
		return
	}
	def, err := s.flows.ByID(ctx, fc.FlowID)
	if err != nil || def == nil || def.Version != fc.FlowVersion {
		slog.Warn("conversation: suspended run not adoptable",
			"run_id", fc.RunID,
			"flow_id", fc.FlowID,
			"persisted_version", fc.FlowVersion,
		)
		return
	}

	s.engine.Adopt(def, fc)
	sess.SetActiveRunID(fc.RunID)
	slog.Info("conversation: adopted suspended run", "run_id", fc.RunID, "flow_id", fc.FlowID)
}

func (s *Service) captureSample(text string, c *nlu.Classification) {
	if c == nil || text == "" || c.Intent == "" || c.Intent == "unknown" || c.Confidence < router.HighConfidence {
		return
	}

	status := store.ReviewPending
	if c.Confidence >= trainingAutoApprove {
		status = store.ReviewAutoApproved
	}
	source := "nlu"
	if c.Fallback {
		source = "keyword"
	}

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), logWriteBudget)
		defer cancel()
		if _, err := s.store.CreateTrainingSample(ctx, &store.CreateTrainingSample{
			Text:         text,
			Intent:       c.Intent,
			Entities:     store.MarshalJSONB(c.EntityMap()),
			Language:     c.Language,
			Confidence:   c.Confidence,
			Source:       source,
			ReviewStatus: status,
		}); err != nil {
			slog.Warn("conversation: training sample dropped", "error", err)
		}
	}()
}

func (s *Service) logUserTurn(sess *session.Session, msg *channel.InboundMessage, d *router.Decision, turn int) {
	content := msg.Text
	if content == "" {
		content = msg.ButtonReply
	}
	create := &store.CreateConversationMessage{
		SessionID:       sess.RecipientID,
		RecipientID:     sess.RecipientID,
		Platform:        string(msg.Platform),
		Role:            store.RoleUser,
		Content:         content,
		TurnNumber:      turn,
		RoutingDecision: string(d.Kind),
	}
	if d.Classification != nil {
		create.Intent = d.Classification.Intent
		create.Confidence = d.Classification.Confidence
		create.Entities = store.MarshalJSONB(d.Classification.EntityMap())
	}
	s.logAsync(create)
}

func (s *Service) logAssistantTurns(sess *session.Session, msgs []channel.OutboundMessage, turn int) {
	platform := string(sess.Platform())
	for _, m := range msgs {
		if m.Text == "" {
			continue
		}
		s.logAsync(&store.CreateConversationMessage{
			SessionID:   sess.RecipientID,
			RecipientID: sess.RecipientID,
			Platform:    platform,
			Role:        store.RoleAssistant,
			Content:     m.Text,
			TurnNumber:  turn,
		})
	}
}

func (s *Service) logAsync(create *store.CreateConversationMessage) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), logWriteBudget)
		defer cancel()
		if _, err := s.store.CreateConversationMessage(ctx, create); err != nil {
			slog.Warn("conversation: log append dropped", "session_id", create.SessionID, "error", err)
		}
	}()
}

func (s *Service) reply(ctx context.Context, platform channel.Platform, recipient, text string) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendBudget)
	defer cancel()
	if err := s.dispatcher.Send(sendCtx, platform, channel.TextMessage(recipient, text)); err != nil {
		slog.Warn("conversation: reply dropped", "recipient", recipient, "error", err)
	}
}

func (s *Service) gate(recipient string) *gate {
	v, _ := s.gates.LoadOrStore(recipient, &gate{})
	return v.(*gate)
}

func (s *Service) nextTurn(sess *session.Session) int {
	turn := s.currentTurn(sess) + 1
	sess.Set("turn_number", turn)
	return turn
}

func (s *Service) currentTurn(sess *session.Session) int {
	if v, ok := sess.Get("turn_number"); ok {
		if n, ok := v.(int); ok {
			return n
		}
	}
	return 0
}

// Drain waits for background writers (logs, samples, enrichment) to finish.
// Called during shutdown.
func (s *Service) Drain() {
	s.bg.Wait()
}

func hasAudio(attachments []channel.Attachment) bool {
	for _, a := range attachments {
		if a.Kind == channel.AttachmentAudio {
			return true
		}
	}
	return false
}

func stringFrom(candidates ...any) string {
	for _, c := range candidates {
		if s, ok := c.(string); ok && s != "" {
			return s
		}
	}
	return ""
}
