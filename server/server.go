// Package server assembles the HTTP surface: channel webhooks, the web chat
// socket, the dev test API, health, and metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/vaanihq/vaani/asr"
	"github.com/vaanihq/vaani/channel"
	"github.com/vaanihq/vaani/channel/sms"
	"github.com/vaanihq/vaani/channel/telegram"
	"github.com/vaanihq/vaani/channel/webchat"
	"github.com/vaanihq/vaani/channel/whatsapp"
	"github.com/vaanihq/vaani/conversation"
	"github.com/vaanihq/vaani/flow"
	"github.com/vaanihq/vaani/flow/executor"
	"github.com/vaanihq/vaani/internal/profile"
	"github.com/vaanihq/vaani/llm"
	"github.com/vaanihq/vaani/nlu"
	"github.com/vaanihq/vaani/preference"
	"github.com/vaanihq/vaani/router"
	"github.com/vaanihq/vaani/session"
	"github.com/vaanihq/vaani/store"
)

// Server is the assembled vaani node.
type Server struct {
	e *echo.Echo

	Profile *profile.Profile
	Store   *store.Store

	Sessions     *session.Store
	Dispatcher   *channel.Dispatcher
	Flows        *flow.DefinitionStore
	Engine       *flow.Engine
	Conversation *conversation.Service

	recorder *channel.Recorder
	webchat  *webchat.Provider
	llm      llm.Service
}

// NewServer wires every component from the profile. Channels without
// credentials are simply not registered; the core runs with whatever
// subset is configured.
func NewServer(ctx context.Context, profile *profile.Profile, st *store.Store) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		e:       e,
		Profile: profile,
		Store:   st,
	}

	var llmService llm.Service
	if profile.IsLLMEnabled() {
		configs := []*llm.Config{{
			Name:    "primary",
			Model:   profile.LLMModel,
			APIKey:  profile.LLMAPIKey,
			BaseURL: profile.LLMBaseURL,
			Timeout: profile.LLMTimeout,
		}}
		if profile.LLMBackupAPIKey != "" {
			configs = append(configs, &llm.Config{
				Name:    "backup",
				Model:   profile.LLMBackupModel,
				APIKey:  profile.LLMBackupAPIKey,
				BaseURL: profile.LLMBackupBaseURL,
				Timeout: profile.LLMTimeout,
			})
		}
		llmService = llm.NewPool(configs)
		go llmService.Warmup(ctx)
	} else {
		slog.Warn("llm disabled: no api key configured; llm executor and enrichment degrade")
	}
	s.llm = llmService

	classifier := nlu.NewClient(&nlu.Config{
		BaseURL: profile.NLUBaseURL,
		APIKey:  profile.NLUAPIKey,
		Timeout: time.Duration(profile.NLUTimeoutMs) * time.Millisecond,
	})

	var transcriber asr.Transcriber
	if profile.ASRBaseURL != "" {
		transcriber = asr.NewClient(&asr.Config{BaseURL: profile.ASRBaseURL, APIKey: profile.ASRAPIKey})
	}

	eval, err := flow.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create condition evaluator: %w", err)
	}

	registry := flow.NewRegistry()
	executor.RegisterAll(registry, llmService, classifier)

	s.Flows = flow.NewDefinitionStore(st, eval)
	s.Engine = flow.NewEngine(registry, eval, conversation.NewRunStore(st))
	s.Sessions = session.NewStore(4096, session.DefaultTTL)

	s.Dispatcher = channel.NewDispatcher()
	s.webchat = webchat.New()
	s.Dispatcher.Register(s.webchat)
	if profile.TelegramToken != "" {
		tg, err := telegram.New(&telegram.Config{BotToken: profile.TelegramToken})
		if err != nil {
			return nil, fmt.Errorf("failed to init telegram provider: %w", err)
		}
		s.Dispatcher.Register(tg)
	}
	if profile.WhatsAppToken != "" {
		s.Dispatcher.Register(whatsapp.New(&whatsapp.Config{
			AccessToken:   profile.WhatsAppToken,
			PhoneNumberID: profile.WhatsAppPhoneNumberID,
			AppSecret:     profile.WhatsAppAppSecret,
		}))
	}
	if profile.SMSGatewayURL != "" {
		s.Dispatcher.Register(sms.New(&sms.Config{
			GatewayURL: profile.SMSGatewayURL,
			SenderID:   profile.SMSFrom,
		}))
	}
	if profile.IsDev() {
		s.recorder = channel.NewRecorder()
		s.Dispatcher.Register(s.recorder)
	}

	var enricher *preference.Enricher
	if llmService != nil {
		enricher = preference.NewEnricher(llmService, st)
	}

	rt := router.New(classifier, s.Flows, s.Engine, nil)
	s.Conversation = conversation.NewService(&conversation.Options{
		Sessions:    s.Sessions,
		Router:      rt,
		Engine:      s.Engine,
		Flows:       s.Flows,
		Dispatcher:  s.Dispatcher,
		Store:       st,
		Enricher:    enricher,
		Transcriber: transcriber,
		TokenKey:    profile.TokenKey,
	})

	s.registerRoutes()
	return s, nil
}

// Start begins serving in the background.
func (s *Server) Start(_ context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	go func() {
		if err := s.e.Start(address); err != nil && err != http.ErrServerClosed {
			slog.Error("server stopped", "error", err)
		}
	}()
	slog.Info("server started",
		"address", address,
		"version", s.Profile.Version,
		"platforms", s.Dispatcher.Platforms(),
	)
	return nil
}

// Shutdown drains in-flight work and closes everything in dependency order.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.e.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown http server", "error", err)
	}

	s.Conversation.Drain()
	s.Sessions.Close()
	if err := s.Dispatcher.Close(); err != nil {
		slog.Error("failed to close channel providers", "error", err)
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}

	slog.Info("vaani stopped properly")
}
