package speechtotext

import "github.com/voicemux/callbridge/core/audio"

// TranscriptEvent is one ordered recognition result for a call. Sequence
// numbers are strictly increasing per transcription stream; a final event
// closes one utterance window.
type TranscriptEvent struct {
	Text       string
	IsFinal    bool
	Sequence   uint64
	Confidence float64
}

type TranscriptionOptions struct {
	TranscriptCallback func(TranscriptEvent)

	SpeechStartedCallback func()
	SpeechEndedCallback   func()

	EncodingInfo audio.EncodingInfo
}

type TranscriptionOption func(*TranscriptionOptions)

func WithTranscriptCallback(callback func(TranscriptEvent)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.TranscriptCallback = callback
	}
}

func WithSpeechStartedCallback(callback func()) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.SpeechStartedCallback = callback
	}
}

func WithSpeechEndedCallback(callback func()) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.SpeechEndedCallback = callback
	}
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.EncodingInfo = encodingInfo
	}
}
