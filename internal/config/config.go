// Package config provides environment-based configuration for callbridge.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Defaults for tunable call-session behavior.
const (
	DefaultPort               = "8000"
	DefaultMaxContextTurns    = 10
	DefaultToolLoopLimit      = 5
	DefaultReplyTimeout       = 30 * time.Second
	DefaultMaxConcurrentCalls = 32
)

// Config holds everything the process needs to run. Provider keys may be
// empty when MockMode is enabled.
type Config struct {
	Port       string
	PublicHost string
	LogLevel   string

	MockMode           bool
	MaxContextTurns    int
	ToolLoopLimit      int
	ReplyTimeout       time.Duration
	MaxConcurrentCalls int

	DeepgramAPIKey   string
	OpenRouterAPIKey string
	OpenRouterModel  string
	ElevenLabsAPIKey string

	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string
}

// Load reads configuration from the environment. It only fails when a
// provider credential is missing while mock mode is disabled.
func Load() (Config, error) {
	cfg := Config{
		Port:       getEnv("PORT", DefaultPort),
		PublicHost: os.Getenv("PUBLIC_HOST"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),

		MockMode:           getEnvBool("MOCK_MODE", false),
		MaxContextTurns:    getEnvInt("MAX_CONTEXT_TURNS", DefaultMaxContextTurns),
		ToolLoopLimit:      getEnvInt("TOOL_LOOP_LIMIT", DefaultToolLoopLimit),
		ReplyTimeout:       getEnvDurationMs("REPLY_TIMEOUT_MS", DefaultReplyTimeout),
		MaxConcurrentCalls: getEnvInt("MAX_CONCURRENT_CALLS", DefaultMaxConcurrentCalls),

		DeepgramAPIKey:   os.Getenv("DEEPGRAM_API_KEY"),
		OpenRouterAPIKey: os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterModel:  getEnv("OPENROUTER_MODEL", "openai/gpt-4o-mini"),
		ElevenLabsAPIKey: os.Getenv("ELEVENLABS_API_KEY"),

		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioPhoneNumber: os.Getenv("TWILIO_PHONE_NUMBER"),
	}

	if !cfg.MockMode {
		for name, value := range map[string]string{
			"DEEPGRAM_API_KEY":   cfg.DeepgramAPIKey,
			"OPENROUTER_API_KEY": cfg.OpenRouterAPIKey,
			"ELEVENLABS_API_KEY": cfg.ElevenLabsAPIKey,
		} {
			if value == "" {
				return Config{}, fmt.Errorf("%s is required unless MOCK_MODE is set", name)
			}
		}
	}

	return cfg, nil
}

func getEnv(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(name string, fallback bool) bool {
	value, ok := os.LookupEnv(name)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(name string, fallback int) int {
	value, ok := os.LookupEnv(name)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDurationMs(name string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(name)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}
