package bridge

import (
	"time"

	"github.com/voicemux/callbridge/core/audio"
	"github.com/voicemux/callbridge/core/llms"
)

type Option func(*SessionRegistry)

func WithStreamingLLM(client StreamingLLM) Option {
	return func(r *SessionRegistry) { r.llm = client }
}

// WithSpeechToTextClient sets the factory building one transcription client
// per call; transcription streams are not shareable across calls.
func WithSpeechToTextClient(factory func() SpeechToText) Option {
	return func(r *SessionRegistry) { r.newTranscriber = factory }
}

func WithTextToSpeechClient(client TextToSpeech) Option {
	return func(r *SessionRegistry) { r.textToSpeech = client }
}

// WithTools appends tools the model may invoke while generating replies.
func WithTools(tools ...llms.Tool) Option {
	return func(r *SessionRegistry) {
		r.config.tools = append(r.config.tools, tools...)
	}
}

func WithSystemPrompt(prompt string) Option {
	return func(r *SessionRegistry) {
		if prompt != "" {
			r.config.systemPrompt = prompt
		}
	}
}

// WithMaxContextTurns bounds the conversational context handed back to the
// model, in caller/assistant exchanges.
func WithMaxContextTurns(turns int) Option {
	return func(r *SessionRegistry) {
		if turns > 0 {
			r.config.maxContextTurns = turns
		}
	}
}

// WithToolLoopLimit bounds how many generation rounds a single reply may
// spend on tool invocations before failing with ErrToolLoopExceeded.
func WithToolLoopLimit(limit int) Option {
	return func(r *SessionRegistry) {
		if limit > 0 {
			r.config.toolLoopLimit = limit
		}
	}
}

// WithReplyTimeout bounds one reply task's generation and synthesis calls;
// exceeding it triggers the fallback path, not call teardown.
func WithReplyTimeout(timeout time.Duration) Option {
	return func(r *SessionRegistry) {
		if timeout > 0 {
			r.config.replyTimeout = timeout
		}
	}
}

// WithMaxConcurrentCalls caps active sessions; creation beyond the cap fails
// with ErrRegistryFull. Zero means no cap.
func WithMaxConcurrentCalls(calls int) Option {
	return func(r *SessionRegistry) {
		if calls >= 0 {
			r.config.maxConcurrentCalls = calls
		}
	}
}

func WithEncodingInfo(encoding audio.EncodingInfo) Option {
	return func(r *SessionRegistry) {
		if !encoding.IsZero() {
			r.config.encoding = encoding
		}
	}
}
