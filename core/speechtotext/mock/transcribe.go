// Package mock provides a deterministic transcription client for mock mode
// and tests. It emits a scripted event sequence as audio arrives, without
// touching any provider.
package mock

import (
	"context"
	"sync"

	"github.com/voicemux/callbridge/core/speechtotext"
)

const defaultBytesPerEvent = 1600 // 200ms of 8kHz mulaw

type TranscriptionClient struct {
	mu       sync.Mutex
	options  speechtotext.TranscriptionOptions
	script   []speechtotext.TranscriptEvent
	cursor   int
	received int
	closed   bool

	bytesPerEvent int
}

type Option func(*TranscriptionClient)

// WithScript replaces the default scripted events. Events are emitted in
// order, one per received audio window.
func WithScript(events ...speechtotext.TranscriptEvent) Option {
	return func(c *TranscriptionClient) { c.script = events }
}

// WithBytesPerEvent sets how much audio must arrive before the next scripted
// event fires.
func WithBytesPerEvent(n int) Option {
	return func(c *TranscriptionClient) {
		if n > 0 {
			c.bytesPerEvent = n
		}
	}
}

func NewTranscriptionClient(opts ...Option) *TranscriptionClient {
	client := &TranscriptionClient{
		bytesPerEvent: defaultBytesPerEvent,
		script: []speechtotext.TranscriptEvent{
			{Text: "hello", IsFinal: false, Sequence: 1, Confidence: 0.9},
			{Text: "there", IsFinal: true, Sequence: 2, Confidence: 0.95},
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

func (c *TranscriptionClient) Transcribe(_ context.Context, opts ...speechtotext.TranscriptionOption) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, opt := range opts {
		opt(&c.options)
	}
	return nil
}

func (c *TranscriptionClient) SendAudio(audio []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.received += len(audio)
	var due []speechtotext.TranscriptEvent
	for c.cursor < len(c.script) && c.received >= (c.cursor+1)*c.bytesPerEvent {
		due = append(due, c.script[c.cursor])
		c.cursor++
	}
	callback := c.options.TranscriptCallback
	c.mu.Unlock()

	if callback != nil {
		for _, event := range due {
			callback(event)
		}
	}
	return nil
}

func (c *TranscriptionClient) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	return nil
}
