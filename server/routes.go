package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/websocket"
	"golang.org/x/time/rate"

	"github.com/vaanihq/vaani/channel"
)

func (s *Server) registerRoutes() {
	s.e.GET("/healthz", s.healthz)
	s.e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	hooks := s.e.Group("/webhooks")
	hooks.GET("/whatsapp", s.verifyWhatsApp)
	hooks.POST("/whatsapp", s.webhookHandler(channel.PlatformWhatsApp))
	hooks.POST("/telegram", s.webhookHandler(channel.PlatformTelegram))
	hooks.POST("/sms", s.webhookHandler(channel.PlatformSMS))

	s.e.POST("/auth/webchat", s.issueWebchatSession)
	s.e.GET("/ws", s.serveWebchat)

	// Dev-only loopback surface: push a message through the full pipeline and
	// read back what the recorder captured.
	if s.recorder != nil {
		s.e.POST("/test/messages", s.testMessage)
		s.e.GET("/test/messages/:recipient", s.testDrain)
	}
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.Profile.Version,
	})
}

// verifyWhatsApp answers the Cloud API subscription handshake.
func (s *Server) verifyWhatsApp(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	if mode != "subscribe" || token == "" || token != s.Profile.WhatsAppVerifyToken {
		return echo.NewHTTPError(http.StatusForbidden, "verification failed")
	}
	return c.String(http.StatusOK, c.QueryParam("hub.challenge"))
}

// webhookHandler validates, parses, and acks a platform webhook. Processing
// happens off the request goroutine so the platform gets its 200 before any
// flow step runs; payloads the provider cannot turn into a message (delivery
// statuses, edits) are acked and dropped.
func (s *Server) webhookHandler(platform channel.Platform) echo.HandlerFunc {
	return func(c echo.Context) error {
		provider := s.Dispatcher.Provider(platform)
		if provider == nil {
			return echo.NewHTTPError(http.StatusNotFound, "channel not configured")
		}

		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
		}

		ctx := c.Request().Context()
		if err := provider.ValidateWebhook(ctx, flattenHeaders(c.Request().Header), body); err != nil {
			slog.Warn("webhook rejected", "platform", platform, "error", err)
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
		}

		msg, err := provider.ParseInbound(ctx, body)
		if err != nil {
			if errors.Is(err, channel.ErrInvalidPayload) {
				return c.NoContent(http.StatusOK)
			}
			return echo.NewHTTPError(http.StatusBadRequest, "unparseable payload")
		}

		go func() {
			if err := s.Conversation.HandleInbound(context.Background(), *msg); err != nil {
				slog.Error("inbound handling failed",
					"platform", platform,
					"recipient", msg.RecipientID,
					"error", err,
				)
			}
		}()
		return c.NoContent(http.StatusOK)
	}
}

// serveWebchat upgrades to a socket and pumps frames through the pipeline.
// The socket is attached under the first frame's session id; outbound replies
// flow back over the same socket via the webchat provider. With a JWT secret
// configured the upgrade requires a token from /auth/webchat and frames are
// pinned to the recipient it was issued for.
func (s *Server) serveWebchat(c echo.Context) error {
	var bound string
	if s.Profile.JWTSecret != "" {
		recipient, err := s.verifyWebchatToken(c.QueryParam("token"))
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid socket token")
		}
		bound = recipient
	}

	handler := websocket.Handler(func(ws *websocket.Conn) {
		defer ws.Close()

		// A chatty client cannot starve the node; excess frames are dropped.
		limiter := rate.NewLimiter(rate.Limit(2), 5)

		var attached string
		defer func() {
			if attached != "" {
				s.webchat.Detach(attached, ws)
			}
		}()

		for {
			var raw []byte
			if err := websocket.Message.Receive(ws, &raw); err != nil {
				if err != io.EOF {
					slog.Debug("webchat: socket read failed", "error", err)
				}
				return
			}
			if !limiter.Allow() {
				continue
			}

			msg, err := s.webchat.ParseInbound(c.Request().Context(), raw)
			if err != nil {
				continue
			}
			if bound != "" && msg.RecipientID != bound {
				continue
			}
			if attached == "" {
				attached = msg.RecipientID
				s.webchat.Attach(attached, ws)
			}

			if err := s.Conversation.HandleInbound(context.Background(), *msg); err != nil {
				slog.Error("inbound handling failed",
					"platform", channel.PlatformWeb,
					"recipient", msg.RecipientID,
					"error", err,
				)
			}
		}
	})
	handler.ServeHTTP(c.Response(), c.Request())
	return nil
}

type testMessageRequest struct {
	Recipient string `json:"recipient"`
	Text      string `json:"text"`
}

func (s *Server) testMessage(c echo.Context) error {
	var req testMessageRequest
	if err := c.Bind(&req); err != nil || req.Recipient == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "recipient and text are required")
	}

	msg := channel.InboundMessage{
		Platform:    channel.PlatformTest,
		RecipientID: req.Recipient,
		Text:        req.Text,
		ReceivedAt:  time.Now(),
	}
	if err := s.Conversation.HandleInbound(c.Request().Context(), msg); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, s.recorder.Drain(req.Recipient))
}

func (s *Server) testDrain(c echo.Context) error {
	return c.JSON(http.StatusOK, s.recorder.Drain(c.Param("recipient")))
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
