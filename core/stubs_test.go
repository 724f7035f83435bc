package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voicemux/callbridge/core/audio"
	"github.com/voicemux/callbridge/core/llms"
	"github.com/voicemux/callbridge/core/speechtotext"
	"github.com/voicemux/callbridge/core/telephony"
	"github.com/voicemux/callbridge/core/texttospeech"
)

var errStubFailure = errors.New("stub failure")

func audioLinear16() audio.EncodingInfo {
	return audio.EncodingInfo{SampleRate: 16000, Format: audio.EncodingLinear16}
}

func waitFor(t *testing.T, timeout time.Duration, message string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", message)
}

type contentChunk string

func (c contentChunk) FinishReason() *string { return nil }
func (c contentChunk) Content() string       { return string(c) }

type toolCallChunk struct{ call llms.ToolCall }

func (c toolCallChunk) FinishReason() *string  { return nil }
func (c toolCallChunk) ToolCall() llms.ToolCall { return c.call }

// scriptedStream yields its content chunks, then its tool calls. A non-zero
// delay is applied before each content chunk, honoring the context.
type scriptedStream struct {
	chunks    []string
	toolCalls []llms.ToolCall
	delay     time.Duration
	err       error
}

func (s scriptedStream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	return func(yield func(llms.StreamChunk, error) bool) {
		if s.err != nil {
			yield(nil, s.err)
			return
		}
		for _, chunk := range s.chunks {
			if s.delay > 0 {
				select {
				case <-ctx.Done():
					yield(nil, ctx.Err())
					return
				case <-time.After(s.delay):
				}
			} else if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}
			if !yield(contentChunk(chunk), nil) {
				return
			}
		}
		for _, call := range s.toolCalls {
			if !yield(toolCallChunk{call}, nil) {
				return
			}
		}
	}
}

// llmStub plays back scripted streams in call order, repeating the last one,
// and records the prompt options of every call.
type llmStub struct {
	mu      sync.Mutex
	streams []scriptedStream
	prompts []llms.StreamingPromptOptions
}

func (s *llmStub) PromptWithStream(_ context.Context, _ *string, opts ...llms.StreamingPromptOption) llms.Stream {
	options := llms.StreamingPromptOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.prompts = append(s.prompts, options)
	if len(s.streams) == 0 {
		return scriptedStream{chunks: []string{"okay"}}
	}
	stream := s.streams[0]
	if len(s.streams) > 1 {
		s.streams = s.streams[1:]
	}
	return stream
}

func (s *llmStub) promptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

// ttsStub synthesizes one audio chunk per SendText call, containing the text
// bytes, emitted on EndOfText with emitDelay between chunks.
type ttsStub struct {
	failGenerator bool
	emitDelay     time.Duration

	mu         sync.Mutex
	generators []*ttsGeneratorStub
}

func (s *ttsStub) NewSpeechGenerator(_ context.Context, opts ...texttospeech.Option) (texttospeech.SpeechGenerator, error) {
	if s.failGenerator {
		return nil, errStubFailure
	}

	generator := &ttsGeneratorStub{emitDelay: s.emitDelay}
	for _, opt := range opts {
		opt(&generator.options)
	}

	s.mu.Lock()
	s.generators = append(s.generators, generator)
	s.mu.Unlock()
	return generator, nil
}

// sawText reports whether any generator has been asked to synthesize text.
// Useful to detect synthesis that has started but not yet produced audio.
func (s *ttsStub) sawText(text string) bool {
	s.mu.Lock()
	generators := append([]*ttsGeneratorStub(nil), s.generators...)
	s.mu.Unlock()

	for _, generator := range generators {
		generator.mu.Lock()
		for _, sent := range generator.texts {
			if sent == text {
				generator.mu.Unlock()
				return true
			}
		}
		generator.mu.Unlock()
	}
	return false
}

type ttsGeneratorStub struct {
	options   texttospeech.Options
	emitDelay time.Duration

	mu     sync.Mutex
	texts  []string
	closed bool
}

func (g *ttsGeneratorStub) SendText(text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.texts = append(g.texts, text)
	return nil
}

func (g *ttsGeneratorStub) EndOfText() error {
	g.mu.Lock()
	texts := append([]string(nil), g.texts...)
	g.mu.Unlock()

	for _, text := range texts {
		if g.isClosed() {
			return nil
		}
		if g.emitDelay > 0 {
			time.Sleep(g.emitDelay)
		}
		if g.options.SpeechAudioCallback != nil {
			g.options.SpeechAudioCallback([]byte(text))
		}
	}
	if g.emitDelay > 0 {
		time.Sleep(g.emitDelay)
	}
	if g.options.SpeechEndedCallback != nil {
		g.options.SpeechEndedCallback()
	}
	return nil
}

func (g *ttsGeneratorStub) Cancel() error { return g.Close() }

func (g *ttsGeneratorStub) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

func (g *ttsGeneratorStub) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// streamStub is an in-memory media stream: Recv drains a channel, Send and
// Clear record what the caller would have received.
type streamStub struct {
	recvCh chan telephony.AudioChunk

	mu      sync.Mutex
	sent    [][]byte
	cleared int
	closed  bool
}

func newStreamStub() *streamStub {
	return &streamStub{recvCh: make(chan telephony.AudioChunk, 16)}
}

func (s *streamStub) Recv() (telephony.AudioChunk, error) {
	chunk, ok := <-s.recvCh
	if !ok {
		return telephony.AudioChunk{}, telephony.ErrStreamClosed
	}
	return chunk, nil
}

func (s *streamStub) Send(chunk telephony.AudioChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, chunk.Payload)
	return nil
}

func (s *streamStub) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared++
	return nil
}

func (s *streamStub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.recvCh)
	}
	return nil
}

func (s *streamStub) sentChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	chunks := make([][]byte, len(s.sent))
	copy(chunks, s.sent)
	return chunks
}

func (s *streamStub) clearCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleared
}

// sttStub records forwarded audio and lets tests inject transcript events.
type sttStub struct {
	mu       sync.Mutex
	options  speechtotext.TranscriptionOptions
	received [][]byte
	closes   int
}

func (s *sttStub) Transcribe(_ context.Context, opts ...speechtotext.TranscriptionOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, opt := range opts {
		opt(&s.options)
	}
	return nil
}

func (s *sttStub) SendAudio(audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, audio)
	return nil
}

func (s *sttStub) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

// subscribed reports whether Transcribe has registered the transcript
// callback; events emitted before that would be lost.
func (s *sttStub) subscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.options.TranscriptCallback != nil
}

func (s *sttStub) emit(event speechtotext.TranscriptEvent) {
	s.mu.Lock()
	callback := s.options.TranscriptCallback
	s.mu.Unlock()
	if callback != nil {
		callback(event)
	}
}

func (s *sttStub) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

func (s *sttStub) receivedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}
