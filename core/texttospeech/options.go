package texttospeech

import "github.com/voicemux/callbridge/core/audio"

type Options struct {
	// SpeechAudioCallback is called for each audio chunk the TTS client
	// produces, in synthesis order.
	SpeechAudioCallback func(audio []byte)
	// SpeechEndedCallback is called once all requested speech has been
	// produced.
	SpeechEndedCallback func()
	// ErrorCallback is called when the TTS client encounters an error, this
	// usually means the stream has been cancelled.
	ErrorCallback func(error)

	EncodingInfo audio.EncodingInfo
}

type Option func(*Options)

func WithSpeechAudioCallback(callback func([]byte)) Option {
	return func(o *Options) { o.SpeechAudioCallback = callback }
}

func WithSpeechEndedCallback(callback func()) Option {
	return func(o *Options) { o.SpeechEndedCallback = callback }
}

func WithErrorCallback(callback func(error)) Option {
	return func(o *Options) { o.ErrorCallback = callback }
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) Option {
	return func(o *Options) {
		if encodingInfo.IsZero() {
			return
		}
		o.EncodingInfo = encodingInfo
	}
}

// SpeechGenerator is one synthesis stream. Text sent in order produces audio
// in the same order.
type SpeechGenerator interface {
	// SendText sends text to be synthesized. It errors if EndOfText, Cancel
	// or Close has been called.
	SendText(string) error
	// EndOfText signals that no more text will be sent. The generator closes
	// itself once the remaining speech has been produced. Repeated calls are
	// ignored.
	EndOfText() error
	// Cancel immediately stops further speech generation and closes the
	// generator. Repeated calls are ignored.
	Cancel() error
	// Close immediately closes the generator. No audio is produced after it
	// returns. Repeated calls are ignored.
	Close() error
}
