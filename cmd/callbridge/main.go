package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	bridge "github.com/voicemux/callbridge/core"
	llmmock "github.com/voicemux/callbridge/core/llms/mock"
	"github.com/voicemux/callbridge/core/llms/openrouter"
	"github.com/voicemux/callbridge/core/speechtotext/deepgram"
	sttmock "github.com/voicemux/callbridge/core/speechtotext/mock"
	"github.com/voicemux/callbridge/core/telephony/twilio"
	"github.com/voicemux/callbridge/core/texttospeech/elevenlabs"
	ttsmock "github.com/voicemux/callbridge/core/texttospeech/mock"
	"github.com/voicemux/callbridge/internal/config"
	"github.com/voicemux/callbridge/internal/log"
	"github.com/voicemux/callbridge/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log.Init(cfg.LogLevel)

	var trigger *twilio.CallTrigger
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		trigger = twilio.NewCallTrigger(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioPhoneNumber)
	}

	registry := buildRegistry(cfg, trigger)

	srv := server.New(cfg, registry, trigger)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		log.Info("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		registry.Shutdown(ctx)

		if err := srv.Shutdown(); err != nil {
			log.Error("failed to shut down server", "error", err)
		}
	}()

	if err := srv.Listen(); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func buildRegistry(cfg config.Config, trigger *twilio.CallTrigger) *bridge.SessionRegistry {
	opts := []bridge.Option{
		bridge.WithMaxContextTurns(cfg.MaxContextTurns),
		bridge.WithToolLoopLimit(cfg.ToolLoopLimit),
		bridge.WithReplyTimeout(cfg.ReplyTimeout),
		bridge.WithMaxConcurrentCalls(cfg.MaxConcurrentCalls),
		bridge.WithTools(bridge.CurrentTimeTool()),
	}
	if trigger != nil {
		opts = append(opts, bridge.WithTools(bridge.SendMessageTool(func(to, body string) error {
			_, err := trigger.SendMessage(context.Background(), to, body)
			return err
		})))
	}

	if cfg.MockMode {
		log.Warn("mock mode enabled, using deterministic transducers")
		return bridge.NewSessionRegistry(append(opts,
			bridge.WithStreamingLLM(llmmock.NewClient()),
			bridge.WithSpeechToTextClient(func() bridge.SpeechToText {
				return sttmock.NewTranscriptionClient()
			}),
			bridge.WithTextToSpeechClient(ttsmock.NewTextToSpeechClient()),
		)...)
	}

	return bridge.NewSessionRegistry(append(opts,
		bridge.WithStreamingLLM(openrouter.NewClient(cfg.OpenRouterAPIKey, cfg.OpenRouterModel,
			openrouter.WithAttribution("https://github.com/voicemux/callbridge", "callbridge"),
		)),
		bridge.WithSpeechToTextClient(func() bridge.SpeechToText {
			return deepgram.NewTranscriptionClient()
		}),
		bridge.WithTextToSpeechClient(elevenlabs.NewTextToSpeechClient()),
	)...)
}
