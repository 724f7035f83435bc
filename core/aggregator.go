package bridge

import (
	"strings"
	"sync"

	"github.com/voicemux/callbridge/core/speechtotext"
)

// Utterance is one caller turn's finalized transcript, the unit the turn
// controller decides to respond to.
type Utterance struct {
	Text string
	// Sequence is the finalizing event's sequence number; later utterances
	// always have higher values.
	Sequence uint64
}

// transcriptAggregator folds one call's ordered transcript events into
// finalized utterances. Events at or below the last accepted sequence number
// are dropped; providers may resend, so that is an anomaly, not an error.
type transcriptAggregator struct {
	mu           sync.Mutex
	lastSequence uint64
	segments     []string
}

func newTranscriptAggregator() *transcriptAggregator {
	return &transcriptAggregator{}
}

// OnEvent consumes one transcript event and returns the completed utterance
// when the event finalizes one, nil otherwise. Duplicate finals for an
// already-cleared buffer return nil.
func (a *transcriptAggregator) OnEvent(event speechtotext.TranscriptEvent) *Utterance {
	a.mu.Lock()
	defer a.mu.Unlock()

	if event.Sequence <= a.lastSequence {
		logger.Warn("dropping out-of-order transcript event",
			"sequence", event.Sequence, "last_sequence", a.lastSequence)
		return nil
	}
	a.lastSequence = event.Sequence

	if text := strings.TrimSpace(event.Text); text != "" {
		a.segments = append(a.segments, text)
	}

	if !event.IsFinal {
		return nil
	}

	if len(a.segments) == 0 {
		return nil
	}

	utterance := &Utterance{
		Text:     strings.Join(a.segments, " "),
		Sequence: event.Sequence,
	}
	a.segments = nil
	return utterance
}
