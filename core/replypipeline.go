package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/voicemux/callbridge/core/audio"
	"github.com/voicemux/callbridge/core/llms"
	"github.com/voicemux/callbridge/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TextToSpeech is the synthesis collaborator. One generator is opened per
// reply and produces audio in the order text was sent.
type TextToSpeech interface {
	NewSpeechGenerator(ctx context.Context, opts ...texttospeech.Option) (texttospeech.SpeechGenerator, error)
}

// replyPipeline runs one utterance through generation and synthesis and
// forwards the resulting audio. It is built fresh for every reply task.
type replyPipeline struct {
	llm          *llm
	textToSpeech TextToSpeech
	encoding     audio.EncodingInfo

	textBuffer  *textBuffer
	audioBuffer *audioBuffer

	// emit delivers one synthesized chunk towards the caller.
	emit func([]byte)
	// cancelled is checked before each external call and each emitted chunk.
	cancelled func() bool

	generatorMu sync.Mutex
	generator   texttospeech.SpeechGenerator

	response *llms.Response
}

func newReplyPipeline(
	llm *llm,
	textToSpeech TextToSpeech,
	encoding audio.EncodingInfo,
	emit func([]byte),
	cancelled func() bool,
) *replyPipeline {
	return &replyPipeline{
		llm:          llm,
		textToSpeech: textToSpeech,
		encoding:     encoding,
		textBuffer:   newTextBuffer(),
		audioBuffer:  newAudioBuffer(),
		emit:         emit,
		cancelled:    cancelled,
	}
}

// Run executes the generation, synthesis and forwarding workers for one
// utterance and returns the completed turn. Cancellation mid-run is not an
// error: the returned turn is marked cancelled and carries whatever reply
// text was already produced.
func (p *replyPipeline) Run(ctx context.Context, utterance string, history []llms.Turn) (llms.Turn, error) {
	ctx, span := tracer.Start(ctx, "run reply pipeline")
	defer span.End()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var workerErr error
	workerErrMu := sync.Mutex{}
	addWorkerErr := func(err error) {
		if err == nil {
			return
		}
		workerErrMu.Lock()
		workerErr = errors.Join(workerErr, err)
		workerErrMu.Unlock()
	}

	run := func(name string, f func(context.Context) error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				addWorkerErr(fmt.Errorf("%s worker panicked: %v", name, recovered))
				cancel()
			}
		}()

		if err := f(ctx); err != nil {
			addWorkerErr(fmt.Errorf("%s worker failed: %w", name, err))
			cancel()
		}
	}

	wg := &sync.WaitGroup{}
	wg.Add(3)
	go func() {
		defer wg.Done()
		run("reply generation", func(ctx context.Context) error {
			return p.generateReply(ctx, utterance, history)
		})
	}()
	go func() {
		defer wg.Done()
		run("speech synthesis", p.synthesizeText)
	}()
	go func() {
		defer wg.Done()
		run("speech forwarding", p.forwardSpeech)
	}()

	wg.Wait()
	p.closeGenerator()

	// An expired deadline stops the buffers and lets the workers return
	// clean; without a cancellation the reply still never finished.
	if workerErr == nil && !p.cancelled() && ctx.Err() != nil {
		addWorkerErr(fmt.Errorf("reply was cut off by its deadline: %w", ctx.Err()))
	}

	turn := llms.Turn{ID: uuid.NewString(), Utterance: utterance}
	if p.response != nil {
		turn.Reply = p.response.Content
		turn.ToolCalls = p.response.ToolCalls
	} else {
		turn.Reply = p.textBuffer.String()
		turn.Cancelled = p.cancelled()
	}

	if workerErr != nil && !p.cancelled() {
		return turn, fmt.Errorf("one or more reply pipeline workers failed: %w", workerErr)
	}
	return turn, nil
}

func (p *replyPipeline) generateReply(ctx context.Context, utterance string, history []llms.Turn) error {
	defer p.textBuffer.TextComplete()

	response, err := p.llm.generate(ctx, utterance, history, p.textBuffer.AddChunk, p.cancelled)
	if err != nil {
		return fmt.Errorf("failed to generate reply: %w", err)
	}
	if response != nil {
		p.response = response
	}
	return nil
}

func (p *replyPipeline) synthesizeText(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.textBuffer.Clear()
			p.audioBuffer.Stop()
		case <-done:
		}
	}()

	_, span := tracer.Start(ctx, "passing text to tts")
	defer span.End()

	generator, err := p.textToSpeech.NewSpeechGenerator(ctx,
		texttospeech.WithEncodingInfo(p.encoding),
		texttospeech.WithSpeechAudioCallback(p.audioBuffer.AddAudio),
		texttospeech.WithSpeechEndedCallback(p.audioBuffer.AllAudioLoaded),
		texttospeech.WithErrorCallback(func(err error) {
			logger.Warn("tts stream error", "error", err)
			p.audioBuffer.AllAudioLoaded()
		}),
	)
	if err != nil {
		p.audioBuffer.AllAudioLoaded()
		err = fmt.Errorf("failed to create speech generator: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	p.setGenerator(generator)

	sentChars := 0
	for chunk := range p.textBuffer.Chunks {
		if p.cancelled() {
			if err := generator.Cancel(); err != nil {
				span.RecordError(fmt.Errorf("failed to cancel tts: %w", err))
			}
			p.audioBuffer.Stop()
			return nil
		}

		if err := generator.SendText(chunk); err != nil {
			span.RecordError(fmt.Errorf("failed to send text to tts: %w", err))
		}
		sentChars += len(chunk)
	}
	span.SetAttributes(attribute.Int("reply.text_length", sentChars))

	if sentChars == 0 {
		// Nothing to voice; do not leave the forwarding worker waiting.
		p.audioBuffer.AllAudioLoaded()
		if err := generator.Close(); err != nil {
			span.RecordError(fmt.Errorf("failed to close tts: %w", err))
		}
		return nil
	}

	if err := generator.EndOfText(); err != nil {
		span.RecordError(fmt.Errorf("failed to signal end of text to tts: %w", err))
		p.audioBuffer.AllAudioLoaded()
	}
	return nil
}

func (p *replyPipeline) forwardSpeech(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.audioBuffer.Stop()
		case <-done:
		}
	}()

	_, span := tracer.Start(ctx, "passing speech to caller")
	defer span.End()

	for chunk := range p.audioBuffer.Audio {
		if p.cancelled() {
			return nil
		}
		if len(chunk) == 0 {
			continue
		}
		p.emit(chunk)
	}
	return nil
}

func (p *replyPipeline) setGenerator(generator texttospeech.SpeechGenerator) {
	p.generatorMu.Lock()
	p.generator = generator
	p.generatorMu.Unlock()
}

func (p *replyPipeline) closeGenerator() {
	p.generatorMu.Lock()
	generator := p.generator
	p.generatorMu.Unlock()

	if generator == nil {
		return
	}
	if err := generator.Close(); err != nil {
		logger.Warn("failed to close speech generator", "error", err)
	}
}
