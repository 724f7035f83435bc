package bridge

import "sync"

// audioBuffer carries synthesized audio from the TTS callbacks to the worker
// forwarding it to the caller. Audio blocks until more chunks arrive, the
// producer signals completion, or the buffer is stopped.
type audioBuffer struct {
	mu sync.Mutex

	audio    [][]byte
	playhead int

	allAudioLoaded bool
	stopped        bool

	updateSignal chan struct{}
}

func newAudioBuffer() *audioBuffer {
	return &audioBuffer{
		updateSignal: make(chan struct{}, 1),
	}
}

func (b *audioBuffer) AddAudio(audio []byte) {
	b.mu.Lock()
	b.audio = append(b.audio, audio)
	b.mu.Unlock()
	b.signalUpdate()
}

// AllAudioLoaded signals that no further chunks will arrive. Audio drains the
// remaining chunks and returns.
func (b *audioBuffer) AllAudioLoaded() {
	b.mu.Lock()
	b.allAudioLoaded = true
	b.mu.Unlock()
	b.signalUpdate()
}

func (b *audioBuffer) Audio(yield func([]byte) bool) {
	for {
		b.mu.Lock()
		if b.stopped {
			b.mu.Unlock()
			return
		}

		if b.playhead < len(b.audio) {
			audio := b.audio[b.playhead]
			b.playhead++
			b.mu.Unlock()
			if !yield(audio) {
				return
			}
			continue
		}

		if b.allAudioLoaded {
			b.mu.Unlock()
			return
		}

		b.mu.Unlock()
		<-b.updateSignal
	}
}

// Stop ends the Audio iteration without draining remaining chunks.
func (b *audioBuffer) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()
	b.signalUpdate()
}

func (b *audioBuffer) signalUpdate() {
	select {
	case b.updateSignal <- struct{}{}:
	default:
	}
}
