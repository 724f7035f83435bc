package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/voicemux/callbridge/core/audio"
	"github.com/voicemux/callbridge/core/llms"
	"github.com/voicemux/callbridge/core/speechtotext"
	"github.com/voicemux/callbridge/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const fallbackApology = "I'm sorry, I'm having trouble responding right now. Could you say that again?"

// fallbackTimeout bounds how long the apology synthesis may take before the
// call simply goes back to listening in silence.
const fallbackTimeout = 10 * time.Second

// replyTask is one in-flight utterance-to-audio pipeline invocation. At most
// one task per call is active at a time; starting a new one cancels the
// previous one. Cancellation is cooperative: the flag is checked before each
// external call and each emitted chunk.
type replyTask struct {
	id        string
	utterance Utterance

	cancel    context.CancelFunc
	cancelled atomic.Bool
}

func (t *replyTask) Cancel() {
	if t == nil || !t.cancelled.CompareAndSwap(false, true) {
		return
	}
	t.cancel()
}

func (t *replyTask) IsCancelled() bool {
	if t == nil {
		return false
	}
	return t.cancelled.Load()
}

type turnControllerCallbacks struct {
	// EmitAudio forwards one synthesized chunk to the outbound audio sink.
	EmitAudio func([]byte)
	// OnBargeIn is called after the previous task is cancelled so the
	// transport can drop provider-side buffered audio.
	OnBargeIn func()
	// OnEnded is called exactly once when the call reaches ENDED.
	OnEnded func()
}

func (c *turnControllerCallbacks) defaults() *turnControllerCallbacks {
	c.EmitAudio = func([]byte) {}
	c.OnBargeIn = func() {}
	c.OnEnded = func() {}
	return c
}

func (c *turnControllerCallbacks) with(callbacks turnControllerCallbacks) *turnControllerCallbacks {
	if callbacks.EmitAudio != nil {
		c.EmitAudio = callbacks.EmitAudio
	}
	if callbacks.OnBargeIn != nil {
		c.OnBargeIn = callbacks.OnBargeIn
	}
	if callbacks.OnEnded != nil {
		c.OnEnded = callbacks.OnEnded
	}
	return c
}

// TurnController owns one call's turn-taking state machine. Transcript events
// arrive from the STT stream, finalized utterances start reply tasks, and the
// most recent finalized utterance always wins.
type TurnController struct {
	callID string

	mu    sync.Mutex
	state State

	ctx context.Context

	aggregator *transcriptAggregator

	llm          *llm
	textToSpeech TextToSpeech
	encoding     audio.EncodingInfo

	maxContextTurns int
	replyTimeout    time.Duration

	turns  []llms.Turn
	active *replyTask
	// lastDispatched is the sequence number of the utterance governing the
	// active task; stale finalizations never start a task.
	lastDispatched uint64

	callbacks turnControllerCallbacks

	// writeMu serializes outbound audio so two tasks' chunks can never
	// interleave at the sink.
	writeMu sync.Mutex

	endOnce sync.Once
	tasksWg sync.WaitGroup
}

func newTurnController(
	callID string,
	llm *llm,
	textToSpeech TextToSpeech,
	encoding audio.EncodingInfo,
	maxContextTurns int,
	replyTimeout time.Duration,
	callbacks turnControllerCallbacks,
) *TurnController {
	return &TurnController{
		callID:          callID,
		state:           StateIdle,
		ctx:             context.Background(),
		aggregator:      newTranscriptAggregator(),
		llm:             llm,
		textToSpeech:    textToSpeech,
		encoding:        encoding,
		maxContextTurns: maxContextTurns,
		replyTimeout:    replyTimeout,
		callbacks:       *(new(turnControllerCallbacks).defaults().with(callbacks)),
	}
}

// bind attaches the call worker's context; reply tasks derive from it.
func (c *TurnController) bind(ctx context.Context) {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
}

func (c *TurnController) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnSpeechStarted moves an idle call to listening when caller audio arrives.
func (c *TurnController) OnSpeechStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateIdle {
		c.state = StateListening
	}
}

// OnTranscript consumes one STT event. Non-final events only aggregate; a
// final event dispatches a reply task for the completed utterance. Events
// after ENDED are dropped silently.
func (c *TurnController) OnTranscript(event speechtotext.TranscriptEvent) {
	c.mu.Lock()
	if c.state == StateEnded {
		c.mu.Unlock()
		return
	}
	if c.state == StateIdle {
		c.state = StateListening
	}
	c.mu.Unlock()

	utterance := c.aggregator.OnEvent(event)
	if utterance == nil {
		return
	}
	c.dispatch(*utterance)
}

// dispatch starts the reply task for a finalized utterance, cancelling any
// task still running. Only the latest finalized utterance at the moment of
// dispatch governs the active task.
func (c *TurnController) dispatch(utterance Utterance) {
	c.mu.Lock()
	if c.state == StateEnded {
		c.mu.Unlock()
		return
	}
	if utterance.Sequence <= c.lastDispatched {
		logger.Warn("dropping stale finalized utterance",
			"call_id", c.callID, "sequence", utterance.Sequence)
		c.mu.Unlock()
		return
	}
	c.lastDispatched = utterance.Sequence

	previous := c.active
	if previous != nil {
		c.state = StateInterrupted
	}
	c.mu.Unlock()

	if previous != nil {
		previous.Cancel()
		c.callbacks.OnBargeIn()
	}

	ctx, cancel := context.WithTimeout(c.taskBaseCtx(), c.replyTimeout)
	task := &replyTask{
		id:        uuid.NewString(),
		utterance: utterance,
		cancel:    cancel,
	}

	c.mu.Lock()
	if c.state == StateEnded {
		c.mu.Unlock()
		cancel()
		return
	}
	c.active = task
	c.state = StateThinking
	history := c.historyTailLocked()
	c.tasksWg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.tasksWg.Done()
		c.runTask(ctx, task, history)
	}()
}

func (c *TurnController) runTask(ctx context.Context, task *replyTask, history []llms.Turn) {
	defer task.cancel()

	ctx, span := tracer.Start(ctx, "process caller turn", trace.WithAttributes(
		attribute.String("call.id", c.callID),
		attribute.String("turn.id", task.id),
	))
	defer span.End()

	pipeline := newReplyPipeline(c.llm, c.textToSpeech, c.encoding,
		func(chunk []byte) { c.emitAudio(task, chunk) },
		task.IsCancelled,
	)

	turn, err := pipeline.Run(ctx, task.utterance.Text, history)
	c.finishTask(ctx, task, turn, err)
}

// finishTask records the completed turn and returns the call to listening. A
// failed task triggers the fallback apology; failure is never fatal to the
// call.
func (c *TurnController) finishTask(ctx context.Context, task *replyTask, turn llms.Turn, err error) {
	span := trace.SpanFromContext(ctx)

	failed := err != nil && !task.IsCancelled()

	c.mu.Lock()
	superseded := c.active != task
	ended := c.state == StateEnded
	if turn.Reply != "" || len(turn.ToolCalls) > 0 {
		c.turns = append(c.turns, turn)
		if overflow := len(c.turns) - c.maxContextTurns; overflow > 0 {
			c.turns = c.turns[overflow:]
		}
	}
	// The apology is a reply task of its own: a newer finalized utterance
	// barges in on it like on any other active reply.
	var fallback *replyTask
	var fallbackCtx context.Context
	if !superseded && !ended {
		if failed {
			ctx, cancel := context.WithTimeout(context.Background(), fallbackTimeout)
			fallback = &replyTask{id: uuid.NewString(), utterance: task.utterance, cancel: cancel}
			fallbackCtx = ctx
			c.active = fallback
		} else {
			c.active = nil
		}
	}
	c.mu.Unlock()

	if failed {
		err = fmt.Errorf("reply pipeline failed: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("reply pipeline failed", "call_id", c.callID, "error", err)
	}

	if superseded || ended {
		return
	}

	if fallback != nil {
		c.speakFallback(fallbackCtx, fallback)
		fallback.cancel()
	}

	c.mu.Lock()
	if fallback != nil && c.active == fallback {
		c.active = nil
	}
	if c.state != StateEnded && c.active == nil {
		c.state = StateListening
	}
	c.mu.Unlock()
}

// emitAudio forwards one chunk of a task's synthesized audio, entering
// SPEAKING on the first chunk. Chunks from cancelled or superseded tasks are
// dropped, never delivered.
func (c *TurnController) emitAudio(task *replyTask, chunk []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if task.IsCancelled() {
		return
	}

	c.mu.Lock()
	if c.active != task || c.state == StateEnded {
		c.mu.Unlock()
		return
	}
	if c.state == StateThinking {
		c.state = StateSpeaking
	}
	c.mu.Unlock()

	c.callbacks.EmitAudio(chunk)
}

// speakFallback voices the apology after a pipeline failure. The task is the
// active one, so its audio enters SPEAKING and is silenced by barge-in and
// teardown like any reply. If synthesis is unavailable too, the caller gets
// silence and the call keeps listening.
func (c *TurnController) speakFallback(ctx context.Context, task *replyTask) {
	done := make(chan struct{})
	generator, err := c.textToSpeech.NewSpeechGenerator(ctx,
		texttospeech.WithEncodingInfo(c.encoding),
		texttospeech.WithSpeechAudioCallback(func(chunk []byte) {
			c.emitAudio(task, chunk)
		}),
		texttospeech.WithSpeechEndedCallback(func() { close(done) }),
		texttospeech.WithErrorCallback(func(err error) {
			logger.Warn("fallback apology synthesis failed", "call_id", c.callID, "error", err)
		}),
	)
	if err != nil {
		logger.Warn("fallback apology unavailable", "call_id", c.callID, "error", err)
		return
	}
	defer generator.Close()

	if err := generator.SendText(fallbackApology); err != nil {
		return
	}
	if err := generator.EndOfText(); err != nil {
		return
	}

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// End moves the call to ENDED from any state, cancels the in-flight task,
// drains task goroutines and releases owned resources exactly once. Late
// events after End are dropped.
func (c *TurnController) End() {
	c.endOnce.Do(func() {
		c.mu.Lock()
		c.state = StateEnded
		task := c.active
		c.active = nil
		c.mu.Unlock()

		task.Cancel()
		c.tasksWg.Wait()
		c.callbacks.OnEnded()
	})
}

// Turns returns a copy of the bounded conversational context.
func (c *TurnController) Turns() []llms.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.historyTailLocked()
}

func (c *TurnController) historyTailLocked() []llms.Turn {
	turns := make([]llms.Turn, len(c.turns))
	copy(turns, c.turns)
	return turns
}

func (c *TurnController) taskBaseCtx() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}
