// Package elevenlabs streams synthesized speech from the ElevenLabs
// websocket API in the call's telephony encoding.
package elevenlabs

import (
	"fmt"

	"github.com/voicemux/callbridge/core/audio"
)

const (
	// Rachel, the same default voice the hosted agents use.
	DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"
	DefaultModelID = "eleven_multilingual_v2"
)

type TextToSpeechClient struct {
	voiceID string
	modelID string

	stability       float64
	similarityBoost float64
}

type ClientOption func(*TextToSpeechClient)

func WithVoice(voiceID string) ClientOption {
	return func(c *TextToSpeechClient) { c.voiceID = voiceID }
}

func WithModel(modelID string) ClientOption {
	return func(c *TextToSpeechClient) { c.modelID = modelID }
}

func NewTextToSpeechClient(opts ...ClientOption) *TextToSpeechClient {
	client := &TextToSpeechClient{
		voiceID:         DefaultVoiceID,
		modelID:         DefaultModelID,
		stability:       0.5,
		similarityBoost: 0.75,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

func convertEncoding(encoding audio.EncodingInfo) (string, error) {
	switch encoding.Format {
	case audio.EncodingMulaw:
		if encoding.SampleRate != 8000 {
			return "", fmt.Errorf("unsupported sample rate for ulaw output")
		}
		return "ulaw_8000", nil
	case audio.EncodingLinear16:
		switch encoding.SampleRate {
		case 16000, 22050, 24000, 44100:
			return fmt.Sprintf("pcm_%d", encoding.SampleRate), nil
		}
		return "", fmt.Errorf("unsupported sample rate for pcm output")
	default:
		return "", fmt.Errorf("unsupported encoding")
	}
}
