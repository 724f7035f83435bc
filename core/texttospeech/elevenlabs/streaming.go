package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/voicemux/callbridge/core/audio"
	"github.com/voicemux/callbridge/core/texttospeech"
)

type streamingRequest struct {
	ws *websocket.Conn
	mu sync.Mutex

	options texttospeech.Options

	textComplete bool
	cancelled    bool
	closed       bool
}

func (c *TextToSpeechClient) NewSpeechGenerator(ctx context.Context, opts ...texttospeech.Option) (texttospeech.SpeechGenerator, error) {
	req := &streamingRequest{
		options: texttospeech.Options{
			SpeechAudioCallback: func([]byte) {},
			SpeechEndedCallback: func() {},
			ErrorCallback:       func(error) {},
			EncodingInfo:        audio.GetDefaultEncodingInfo(),
		},
	}

	for _, opt := range opts {
		opt(&req.options)
	}

	outputFormat, err := convertEncoding(req.options.EncodingInfo)
	if err != nil {
		return nil, fmt.Errorf("invalid encoding: %w", err)
	}

	apiKey, ok := os.LookupEnv("ELEVENLABS_API_KEY")
	if !ok {
		return nil, fmt.Errorf("elevenlabs api key not found")
	}

	urlValues := url.Values{}
	urlValues.Set("model_id", c.modelID)
	urlValues.Set("output_format", outputFormat)

	conn, _, err := websocket.DefaultDialer.Dial(
		(&url.URL{
			Scheme: "wss",
			Host:   "api.elevenlabs.io", Path: "/v1/text-to-speech/" + c.voiceID + "/stream-input",
			RawQuery: urlValues.Encode(),
		}).String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to elevenlabs: %w", err)
	}
	req.ws = conn

	// The first frame carries voice settings and authentication.
	if err := req.sendWebsocketMessage(initMsg{
		Text: " ",
		VoiceSettings: voiceSettings{
			Stability:       c.stability,
			SimilarityBoost: c.similarityBoost,
		},
		XIAPIKey: apiKey,
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize elevenlabs stream: %w", err)
	}

	go req.processIncomingMessages(ctx)

	return req, nil
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type initMsg struct {
	Text          string        `json:"text"`
	VoiceSettings voiceSettings `json:"voice_settings"`
	XIAPIKey      string        `json:"xi_api_key"`
}

type textMsg struct {
	Text                 string `json:"text"`
	TryTriggerGeneration bool   `json:"try_trigger_generation,omitempty"`
}

type incomingMsg struct {
	Audio   string `json:"audio"`
	IsFinal *bool  `json:"isFinal"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (r *streamingRequest) processIncomingMessages(_ context.Context) {
	for {
		_, msg, err := r.ws.ReadMessage()
		if err != nil {
			if !r.isDone() && err.Error() != "websocket: close 1000 (normal)" {
				log.Printf("Websocket read error: %v", err)
				r.options.ErrorCallback(err)
			}
			_ = r.Close()
			return
		}

		var parsedMsg incomingMsg
		if err := json.Unmarshal(msg, &parsedMsg); err != nil {
			log.Printf("Failed to unmarshal elevenlabs message: %v", err)
			continue
		}

		if parsedMsg.Error != "" {
			r.options.ErrorCallback(fmt.Errorf("elevenlabs error: %s: %s", parsedMsg.Error, parsedMsg.Message))
			continue
		}

		if parsedMsg.Audio != "" && !r.isDone() {
			chunk, err := base64.StdEncoding.DecodeString(parsedMsg.Audio)
			if err != nil {
				log.Printf("Failed to decode elevenlabs audio payload: %v", err)
				continue
			}
			r.options.SpeechAudioCallback(chunk)
		}

		if parsedMsg.IsFinal != nil && *parsedMsg.IsFinal {
			r.options.SpeechEndedCallback()
			_ = r.Close()
			return
		}
	}
}

func (r *streamingRequest) SendText(text string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("streaming request closed")
	} else if r.cancelled {
		r.mu.Unlock()
		return fmt.Errorf("streaming request cancelled")
	} else if r.textComplete {
		r.mu.Unlock()
		return fmt.Errorf("streaming request text already completed")
	}
	r.mu.Unlock()

	if text == "" {
		return nil
	}

	return r.sendWebsocketMessage(textMsg{Text: text, TryTriggerGeneration: true})
}

func (r *streamingRequest) EndOfText() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("streaming request closed")
	} else if r.cancelled {
		r.mu.Unlock()
		return fmt.Errorf("streaming request cancelled")
	} else if r.textComplete {
		r.mu.Unlock()
		return nil
	}
	r.textComplete = true
	r.mu.Unlock()

	// An empty text frame tells ElevenLabs to flush and finish the stream.
	return r.sendWebsocketMessage(textMsg{Text: ""})
}

func (r *streamingRequest) Cancel() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("streaming request closed")
	}
	if r.cancelled {
		r.mu.Unlock()
		return nil
	}
	r.cancelled = true
	r.mu.Unlock()

	return r.Close()
}

func (r *streamingRequest) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	ws := r.ws
	r.mu.Unlock()

	if ws != nil {
		return ws.Close()
	}
	return nil
}

func (r *streamingRequest) isDone() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed || r.cancelled
}

func (r *streamingRequest) sendWebsocketMessage(msg any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ws == nil {
		return fmt.Errorf("websocket connection is not open")
	}
	if err := r.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write to elevenlabs websocket: %w", err)
	}
	return nil
}
