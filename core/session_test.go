package bridge

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/voicemux/callbridge/core/speechtotext"
	"github.com/voicemux/callbridge/core/telephony"
)

type sessionFixture struct {
	registry *SessionRegistry
	session  *CallSession
	stream   *streamStub
	stt      *sttStub
	llm      *llmStub
	tts      *ttsStub
}

func newSessionFixture(t *testing.T, opts ...Option) *sessionFixture {
	t.Helper()

	fixture := &sessionFixture{
		stream: newStreamStub(),
		stt:    &sttStub{},
		llm:    &llmStub{},
		tts:    &ttsStub{},
	}
	fixture.registry = NewSessionRegistry(append([]Option{
		WithStreamingLLM(fixture.llm),
		WithSpeechToTextClient(func() SpeechToText { return fixture.stt }),
		WithTextToSpeechClient(fixture.tts),
	}, opts...)...)

	session, err := fixture.registry.Create("CAtest", fixture.stream)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	fixture.session = session
	return fixture
}

func (f *sessionFixture) run(t *testing.T) {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- f.session.Run(context.Background()) }()
	// Events emitted before Run registers the transcript callback are lost.
	waitFor(t, time.Second, "transcriber subscription", f.stt.subscribed)
	t.Cleanup(func() {
		f.stream.Close()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("session run failed: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("timed out waiting for session run to finish")
		}
		f.registry.Remove("CAtest")
	})
}

func TestSessionRepliesToFinalizedUtterance(t *testing.T) {
	fixture := newSessionFixture(t)
	fixture.llm.streams = []scriptedStream{{chunks: []string{"sunny today"}}}
	fixture.run(t)

	if got := fixture.session.State(); got != StateIdle {
		t.Fatalf("expected initial state IDLE, got %s", got)
	}

	for sequence := uint64(1); sequence <= 5; sequence++ {
		fixture.stt.emit(speechtotext.TranscriptEvent{Sequence: sequence})
	}
	waitFor(t, time.Second, "listening state", func() bool {
		return fixture.session.State() == StateListening
	})

	fixture.stt.emit(speechtotext.TranscriptEvent{
		Text: "what's the weather", IsFinal: true, Sequence: 6,
	})

	waitFor(t, 2*time.Second, "reply audio", func() bool {
		return len(fixture.stream.sentChunks()) > 0
	})
	waitFor(t, 2*time.Second, "return to listening", func() bool {
		return fixture.session.State() == StateListening
	})

	sent := fixture.stream.sentChunks()
	if len(sent) != 1 || !bytes.Equal(sent[0], []byte("sunny today")) {
		t.Errorf("expected synthesized reply forwarded unmodified, got %q", sent)
	}

	fixture.llm.mu.Lock()
	defer fixture.llm.mu.Unlock()
	if len(fixture.llm.prompts) != 1 {
		t.Fatalf("expected one generation call, got %d", len(fixture.llm.prompts))
	}
	turns := fixture.llm.prompts[0].Turns
	if len(turns) != 1 || turns[0].Utterance != "what's the weather" {
		t.Errorf("expected utterance with empty context, got %+v", turns)
	}
}

func TestSessionForwardsInboundAudioToTranscriber(t *testing.T) {
	fixture := newSessionFixture(t)
	fixture.run(t)

	fixture.stream.recvCh <- telephony.AudioChunk{Sequence: 1, Payload: []byte{0xFF, 0xFF}}
	waitFor(t, time.Second, "audio forwarded", func() bool {
		return fixture.stt.receivedCount() == 1
	})
}

func TestSessionDropsMalformedFrames(t *testing.T) {
	fixture := newSessionFixture(t, WithEncodingInfo(audioLinear16()))
	fixture.run(t)

	// Odd byte count is not a whole number of 16-bit samples.
	fixture.stream.recvCh <- telephony.AudioChunk{Sequence: 1, Payload: []byte{0x01}}
	fixture.stream.recvCh <- telephony.AudioChunk{Sequence: 2, Payload: []byte{0x01, 0x02}}

	waitFor(t, time.Second, "valid frame forwarded", func() bool {
		return fixture.stt.receivedCount() == 1
	})
}

func TestSessionBargeInPreemptsActiveReply(t *testing.T) {
	fixture := newSessionFixture(t)
	fixture.llm.streams = []scriptedStream{
		{chunks: []string{"first ", "reply ", "still ", "going"}},
		{chunks: []string{"second"}},
	}
	fixture.tts.emitDelay = 30 * time.Millisecond
	fixture.run(t)

	fixture.stt.emit(speechtotext.TranscriptEvent{Text: "first question", IsFinal: true, Sequence: 1})
	waitFor(t, 2*time.Second, "first reply speaking", func() bool {
		return len(fixture.stream.sentChunks()) > 0
	})

	fixture.stt.emit(speechtotext.TranscriptEvent{Text: "actually wait", IsFinal: true, Sequence: 2})
	waitFor(t, 2*time.Second, "second reply delivered", func() bool {
		for _, chunk := range fixture.stream.sentChunks() {
			if bytes.Equal(chunk, []byte("second")) {
				return true
			}
		}
		return false
	})
	waitFor(t, 2*time.Second, "return to listening", func() bool {
		return fixture.session.State() == StateListening
	})

	if fixture.stream.clearCount() == 0 {
		t.Error("expected buffered provider audio to be cleared on barge-in")
	}

	// No chunk of the preempted reply may follow the new reply's chunks.
	sent := fixture.stream.sentChunks()
	secondSeen := false
	for _, chunk := range sent {
		if bytes.Equal(chunk, []byte("second")) {
			secondSeen = true
			continue
		}
		if secondSeen {
			t.Fatalf("preempted reply chunk %q delivered after the new reply: %q", chunk, sent)
		}
	}
}

func TestSessionReplyTimeoutTriggersFallbackApology(t *testing.T) {
	fixture := newSessionFixture(t, WithReplyTimeout(50*time.Millisecond))
	fixture.llm.streams = []scriptedStream{
		{chunks: []string{"never arrives"}, delay: 5 * time.Second},
	}
	fixture.run(t)

	fixture.stt.emit(speechtotext.TranscriptEvent{Text: "hello", IsFinal: true, Sequence: 1})

	waitFor(t, 2*time.Second, "fallback apology audio", func() bool {
		for _, chunk := range fixture.stream.sentChunks() {
			if bytes.Equal(chunk, []byte(fallbackApology)) {
				return true
			}
		}
		return false
	})
	waitFor(t, 2*time.Second, "return to listening", func() bool {
		return fixture.session.State() == StateListening
	})

	if fixture.stt.closeCount() != 0 {
		t.Error("expected the call to stay alive after a reply failure")
	}
}

func TestSessionBargeInSilencesFallbackApology(t *testing.T) {
	fixture := newSessionFixture(t)
	fixture.llm.streams = []scriptedStream{
		{err: errStubFailure},
		{chunks: []string{"second"}},
	}
	fixture.tts.emitDelay = 200 * time.Millisecond
	fixture.run(t)

	fixture.stt.emit(speechtotext.TranscriptEvent{Text: "first question", IsFinal: true, Sequence: 1})
	waitFor(t, 2*time.Second, "apology synthesis to start", func() bool {
		return fixture.tts.sawText(fallbackApology)
	})

	// A newer finalized utterance wins over the pending apology as well.
	fixture.stt.emit(speechtotext.TranscriptEvent{Text: "actually wait", IsFinal: true, Sequence: 2})
	waitFor(t, 2*time.Second, "new reply delivered", func() bool {
		for _, chunk := range fixture.stream.sentChunks() {
			if bytes.Equal(chunk, []byte("second")) {
				return true
			}
		}
		return false
	})
	waitFor(t, 2*time.Second, "return to listening", func() bool {
		return fixture.session.State() == StateListening
	})

	if fixture.stream.clearCount() == 0 {
		t.Error("expected buffered provider audio cleared when barging in on the apology")
	}
	for _, chunk := range fixture.stream.sentChunks() {
		if bytes.Equal(chunk, []byte(fallbackApology)) {
			t.Fatalf("stale apology delivered after barge-in: %q", fixture.stream.sentChunks())
		}
	}
}

func TestSessionTimeoutDuringSynthesisTriggersFallback(t *testing.T) {
	fixture := newSessionFixture(t, WithReplyTimeout(100*time.Millisecond))
	fixture.llm.streams = []scriptedStream{{chunks: []string{"slow reply"}}}
	fixture.tts.emitDelay = 500 * time.Millisecond
	fixture.run(t)

	fixture.stt.emit(speechtotext.TranscriptEvent{Text: "hello", IsFinal: true, Sequence: 1})

	// Generation finishes, but audio delivery outlives the reply deadline.
	waitFor(t, 5*time.Second, "fallback apology audio", func() bool {
		for _, chunk := range fixture.stream.sentChunks() {
			if bytes.Equal(chunk, []byte(fallbackApology)) {
				return true
			}
		}
		return false
	})
	if got := fixture.session.State(); got != StateSpeaking {
		t.Errorf("expected SPEAKING while the apology streams, got %s", got)
	}

	waitFor(t, 2*time.Second, "return to listening", func() bool {
		return fixture.session.State() == StateListening
	})
	for _, chunk := range fixture.stream.sentChunks() {
		if bytes.Equal(chunk, []byte("slow reply")) {
			t.Errorf("expected the timed-out reply's audio to be dropped, got %q", fixture.stream.sentChunks())
		}
	}
}

func TestSessionFallbackSilenceWhenSynthesisUnavailable(t *testing.T) {
	fixture := newSessionFixture(t, WithReplyTimeout(50*time.Millisecond))
	fixture.llm.streams = []scriptedStream{
		{chunks: []string{"never arrives"}, delay: 5 * time.Second},
	}
	fixture.tts.failGenerator = true
	fixture.run(t)

	fixture.stt.emit(speechtotext.TranscriptEvent{Text: "hello", IsFinal: true, Sequence: 1})

	waitFor(t, 2*time.Second, "return to listening", func() bool {
		return fixture.session.State() == StateListening
	})
	if got := fixture.stream.sentChunks(); len(got) != 0 {
		t.Errorf("expected silence when synthesis is unavailable, got %q", got)
	}
}

func TestSessionStreamCloseReleasesTranscriberExactlyOnce(t *testing.T) {
	fixture := newSessionFixture(t)
	fixture.llm.streams = []scriptedStream{
		{chunks: []string{"long reply"}, delay: 100 * time.Millisecond},
	}

	done := make(chan error, 1)
	go func() { done <- fixture.session.Run(context.Background()) }()
	waitFor(t, time.Second, "transcriber subscription", fixture.stt.subscribed)

	fixture.stt.emit(speechtotext.TranscriptEvent{Text: "hello", IsFinal: true, Sequence: 1})
	waitFor(t, time.Second, "thinking state", func() bool {
		return fixture.session.State() == StateThinking
	})

	fixture.stream.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean teardown on stream close, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session run to finish")
	}

	if got := fixture.session.State(); got != StateEnded {
		t.Fatalf("expected ENDED after stream close, got %s", got)
	}
	if got := fixture.stt.closeCount(); got != 1 {
		t.Fatalf("expected transcriber released exactly once, got %d", got)
	}

	// Repeated teardown stays a no-op.
	fixture.session.End()
	if got := fixture.stt.closeCount(); got != 1 {
		t.Fatalf("expected no double release, got %d", got)
	}
}

func TestSessionDropsEventsAfterEnd(t *testing.T) {
	fixture := newSessionFixture(t)
	fixture.run(t)

	fixture.session.End()
	fixture.stt.emit(speechtotext.TranscriptEvent{Text: "too late", IsFinal: true, Sequence: 1})

	time.Sleep(50 * time.Millisecond)
	if got := fixture.session.State(); got != StateEnded {
		t.Fatalf("expected ENDED to be terminal, got %s", got)
	}
	if got := fixture.stream.sentChunks(); len(got) != 0 {
		t.Errorf("expected no audio after end, got %q", got)
	}
	if got := fixture.llm.promptCount(); got != 0 {
		t.Errorf("expected no generation after end, got %d prompts", got)
	}
}
