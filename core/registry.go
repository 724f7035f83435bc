package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/voicemux/callbridge/core/audio"
	"github.com/voicemux/callbridge/core/llms"
	"github.com/voicemux/callbridge/core/telephony"
)

const (
	defaultMaxContextTurns = 10
	defaultToolLoopLimit   = 5
	defaultReplyTimeout    = 30 * time.Second

	defaultSystemPrompt = "You are a helpful voice assistant on a phone call. " +
		"Keep replies short, conversational and easy to follow by ear."
)

type sessionConfig struct {
	systemPrompt string
	tools        []llms.Tool

	maxContextTurns    int
	toolLoopLimit      int
	replyTimeout       time.Duration
	maxConcurrentCalls int

	encoding audio.EncodingInfo
}

// SessionRegistry is the process-wide map of active call sessions. It creates
// sessions from the configured collaborators and serializes create, get and
// remove across call workers.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*CallSession

	llm            StreamingLLM
	textToSpeech   TextToSpeech
	newTranscriber func() SpeechToText

	config sessionConfig
}

func NewSessionRegistry(opts ...Option) *SessionRegistry {
	registry := &SessionRegistry{
		sessions: map[string]*CallSession{},
		config: sessionConfig{
			systemPrompt:    defaultSystemPrompt,
			maxContextTurns: defaultMaxContextTurns,
			toolLoopLimit:   defaultToolLoopLimit,
			replyTimeout:    defaultReplyTimeout,
			encoding:        audio.GetDefaultEncodingInfo(),
		},
	}
	for _, opt := range opts {
		opt(registry)
	}
	return registry
}

// Create builds and registers the session for a starting call. It fails with
// ErrDuplicateCallID while a session for the id exists, including one that is
// still mid-teardown, and with ErrRegistryFull at the concurrency cap.
func (r *SessionRegistry) Create(callID string, stream telephony.MediaStream) (*CallSession, error) {
	if r.llm == nil {
		return nil, fmt.Errorf("streaming llm client is required")
	}
	if r.textToSpeech == nil {
		return nil, fmt.Errorf("text-to-speech client is required")
	}
	if r.newTranscriber == nil {
		return nil, fmt.Errorf("speech-to-text client is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[callID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCallID, callID)
	}
	if r.config.maxConcurrentCalls > 0 && len(r.sessions) >= r.config.maxConcurrentCalls {
		return nil, fmt.Errorf("%w: %d active", ErrRegistryFull, len(r.sessions))
	}

	session := newCallSession(callID, stream, r.newTranscriber(),
		&llm{
			client:        r.llm,
			systemPrompt:  r.config.systemPrompt,
			tools:         r.config.tools,
			toolLoopLimit: r.config.toolLoopLimit,
		},
		r.textToSpeech,
		r.config,
	)
	r.sessions[callID] = session

	logger.Info("call session created", "call_id", callID, "active_calls", len(r.sessions))
	return session, nil
}

// Get returns the active session for a call id, if any.
func (r *SessionRegistry) Get(callID string) (*CallSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[callID]
	return session, ok
}

// Remove drops and ends the session for a call id. Removing an unknown or
// already-removed id is a no-op.
func (r *SessionRegistry) Remove(callID string) {
	r.mu.Lock()
	session, ok := r.sessions[callID]
	delete(r.sessions, callID)
	active := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return
	}

	session.End()
	logger.Info("call session removed", "call_id", callID, "active_calls", active)
}

// Len reports the number of active sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown ends every active session, for process teardown.
func (r *SessionRegistry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]*CallSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.sessions = map[string]*CallSession{}
	r.mu.Unlock()

	for _, session := range sessions {
		select {
		case <-ctx.Done():
			return
		default:
		}
		session.End()
	}
}
