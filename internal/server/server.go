// Package server exposes the telephony-facing HTTP surface: the voice
// webhook, the media-stream websocket and the outbound-call trigger.
package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	bridge "github.com/voicemux/callbridge/core"
	"github.com/voicemux/callbridge/core/telephony/twilio"
	"github.com/voicemux/callbridge/internal/config"
	"github.com/voicemux/callbridge/internal/log"
)

type Server struct {
	app      *fiber.App
	cfg      config.Config
	registry *bridge.SessionRegistry
	// trigger is nil when Twilio credentials are not configured; outbound
	// calls are then rejected with 503.
	trigger *twilio.CallTrigger
}

func New(cfg config.Config, registry *bridge.SessionRegistry, trigger *twilio.CallTrigger) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		trigger:  trigger,
	}

	app := fiber.New(fiber.Config{
		AppName:               "callbridge",
		DisableStartupMessage: true,
	})

	app.Get("/health", s.handleHealth)
	app.Post("/voice", s.handleVoice)
	app.Post("/calls", s.handleTriggerCall)

	app.Use("/media-stream", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/media-stream", websocket.New(s.handleMediaStream))

	s.app = app
	return s
}

func (s *Server) Listen() error {
	log.Info("listening", "port", s.cfg.Port)
	return s.app.Listen(":" + s.cfg.Port)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":       "ok",
		"active_calls": s.registry.Len(),
	})
}

// handleVoice answers Twilio's voice webhook with TwiML connecting the call
// to the media-stream websocket.
func (s *Server) handleVoice(c *fiber.Ctx) error {
	host, secure := s.streamHost(c)
	twiml, err := twilio.StreamTwiML(host, secure)
	if err != nil {
		log.Error("failed to render voice response", "error", err)
		return fiber.ErrInternalServerError
	}
	c.Type("xml")
	return c.SendString(twiml)
}

type triggerCallRequest struct {
	To string `json:"to"`
}

// handleTriggerCall places an outbound call; once answered it flows through
// the voice webhook like an inbound one.
func (s *Server) handleTriggerCall(c *fiber.Ctx) error {
	if s.trigger == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "outbound calling is not configured")
	}

	var req triggerCallRequest
	if err := c.BodyParser(&req); err != nil || req.To == "" {
		return fiber.NewError(fiber.StatusBadRequest, "a destination number is required")
	}

	host, _ := s.streamHost(c)
	callSID, err := s.trigger.Trigger(c.UserContext(), req.To, fmt.Sprintf("https://%s/voice", host))
	if err != nil {
		log.Error("failed to trigger outbound call", "to", req.To, "error", err)
		return fiber.ErrBadGateway
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"call_sid": callSID})
}

// handleMediaStream owns one call: it waits for the provider's start event,
// registers the session and relays audio until the stream closes.
func (s *Server) handleMediaStream(conn *websocket.Conn) {
	stream := twilio.NewMediaStream(conn)
	defer stream.Close()

	callID, err := stream.AwaitStart()
	if err != nil {
		log.Warn("media stream ended before start event", "error", err)
		return
	}

	session, err := s.registry.Create(callID, stream)
	if err != nil {
		if errors.Is(err, bridge.ErrRegistryFull) {
			log.Warn("rejecting call, at capacity", "call_id", callID)
		} else {
			log.Error("failed to create call session", "call_id", callID, "error", err)
		}
		return
	}
	defer s.registry.Remove(callID)

	log.Info("call connected", "call_id", callID)
	if err := session.Run(context.Background()); err != nil {
		log.Error("call session failed", "call_id", callID, "error", err)
		return
	}
	log.Info("call ended", "call_id", callID)
}

// streamHost resolves the externally reachable host for webhook and stream
// URLs. A configured public host implies TLS termination in front of us.
func (s *Server) streamHost(c *fiber.Ctx) (host string, secure bool) {
	if s.cfg.PublicHost != "" {
		return s.cfg.PublicHost, true
	}
	return c.Hostname(), c.Secure()
}
