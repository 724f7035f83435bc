// Package mock provides a deterministic speech generator for mock mode and
// tests. It produces silence frames proportional to the text it is given.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/voicemux/callbridge/core/audio"
	"github.com/voicemux/callbridge/core/texttospeech"
)

// One 20ms frame of 8kHz single-byte audio per ~8 characters of text.
const (
	frameSize     = 160
	charsPerFrame = 8
)

type TextToSpeechClient struct{}

func NewTextToSpeechClient() *TextToSpeechClient {
	return &TextToSpeechClient{}
}

func (c *TextToSpeechClient) NewSpeechGenerator(_ context.Context, opts ...texttospeech.Option) (texttospeech.SpeechGenerator, error) {
	gen := &speechGenerator{
		options: texttospeech.Options{
			SpeechAudioCallback: func([]byte) {},
			SpeechEndedCallback: func() {},
			ErrorCallback:       func(error) {},
			EncodingInfo:        audio.GetDefaultEncodingInfo(),
		},
	}
	for _, opt := range opts {
		opt(&gen.options)
	}
	return gen, nil
}

type speechGenerator struct {
	mu      sync.Mutex
	options texttospeech.Options

	pendingChars int
	textComplete bool
	cancelled    bool
	closed       bool
}

func (g *speechGenerator) SendText(text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return fmt.Errorf("speech generator closed")
	} else if g.cancelled {
		return fmt.Errorf("speech generator cancelled")
	} else if g.textComplete {
		return fmt.Errorf("speech generator text already completed")
	}

	g.pendingChars += len(text)
	return nil
}

func (g *speechGenerator) EndOfText() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return fmt.Errorf("speech generator closed")
	} else if g.cancelled {
		g.mu.Unlock()
		return fmt.Errorf("speech generator cancelled")
	} else if g.textComplete {
		g.mu.Unlock()
		return nil
	}
	g.textComplete = true

	frames := g.pendingChars / charsPerFrame
	if g.pendingChars > 0 && frames == 0 {
		frames = 1
	}
	encoding := g.options.EncodingInfo
	onAudio := g.options.SpeechAudioCallback
	onEnded := g.options.SpeechEndedCallback
	g.mu.Unlock()

	chunk := make([]byte, frameSize)
	for i := range chunk {
		chunk[i] = encoding.SilenceValue()
	}

	for range frames {
		if g.isDone() {
			return nil
		}
		frame := make([]byte, len(chunk))
		copy(frame, chunk)
		onAudio(frame)
	}

	onEnded()
	return g.Close()
}

func (g *speechGenerator) Cancel() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return fmt.Errorf("speech generator closed")
	}
	g.cancelled = true
	g.mu.Unlock()
	return g.Close()
}

func (g *speechGenerator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true
	return nil
}

func (g *speechGenerator) isDone() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed || g.cancelled
}
