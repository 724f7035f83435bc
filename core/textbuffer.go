package bridge

import (
	"strings"
	"sync"
)

// textBuffer carries streamed reply text from the generation worker to the
// synthesis worker. Chunks drains a pending queue and blocks until more text
// arrives, the producer marks the text complete, or the buffer is cleared.
type textBuffer struct {
	mu sync.Mutex
	// produced accumulates everything ever added, so a cancelled reply can
	// still report the text it got out.
	produced     strings.Builder
	pending      []string
	textComplete bool
	cleared      bool
	updateSignal chan struct{}
}

func newTextBuffer() *textBuffer {
	return &textBuffer{
		updateSignal: make(chan struct{}, 1),
	}
}

func (b *textBuffer) AddChunk(chunk string) {
	b.mu.Lock()
	b.produced.WriteString(chunk)
	b.pending = append(b.pending, chunk)
	b.mu.Unlock()
	b.signalUpdate()
}

func (b *textBuffer) TextComplete() {
	b.mu.Lock()
	b.textComplete = true
	b.mu.Unlock()
	b.signalUpdate()
}

func (b *textBuffer) Chunks(yield func(string) bool) {
	for {
		b.mu.Lock()
		if b.cleared {
			b.mu.Unlock()
			return
		}

		if len(b.pending) > 0 {
			chunk := b.pending[0]
			b.pending = b.pending[1:]
			b.mu.Unlock()
			if !yield(chunk) {
				return
			}
			continue
		}

		if b.textComplete {
			b.mu.Unlock()
			return
		}

		b.mu.Unlock()
		<-b.updateSignal
	}
}

// String returns everything added so far, consumed or not.
func (b *textBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.produced.String()
}

// Clear drops undelivered text and unblocks the consumer.
func (b *textBuffer) Clear() {
	b.mu.Lock()
	b.cleared = true
	b.pending = nil
	b.mu.Unlock()
	b.signalUpdate()
}

func (b *textBuffer) signalUpdate() {
	select {
	case b.updateSignal <- struct{}{}:
	default:
	}
}
