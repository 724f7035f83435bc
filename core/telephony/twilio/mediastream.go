package twilio

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/voicemux/callbridge/core/telephony"
)

// Conn is the subset of a websocket connection the media stream needs. Both
// gorilla and fasthttp-based connections satisfy it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// MediaStream adapts one Twilio media-stream websocket to the telephony
// contract. Recv must be called from a single goroutine; Send and Clear are
// safe to call concurrently with it.
type MediaStream struct {
	conn    Conn
	writeMu sync.Mutex

	streamSID string
	callSID   string

	sequence atomic.Uint64
	closed   atomic.Bool
}

func NewMediaStream(conn Conn) *MediaStream {
	return &MediaStream{conn: conn}
}

// AwaitStart consumes messages until Twilio's start event arrives and
// returns the call SID. It fails if the stream closes first.
func (s *MediaStream) AwaitStart() (string, error) {
	for {
		envelope, err := s.readEnvelope()
		if err != nil {
			return "", err
		}

		switch envelope.Event {
		case eventStart:
			if envelope.Start == nil {
				return "", fmt.Errorf("twilio start event missing payload")
			}
			s.streamSID = envelope.Start.StreamSID
			s.callSID = envelope.Start.CallSID
			return s.callSID, nil
		case eventStop:
			return "", telephony.ErrStreamClosed
		default:
			// Media before start is not expected; drop it.
		}
	}
}

func (s *MediaStream) CallSID() string   { return s.callSID }
func (s *MediaStream) StreamSID() string { return s.streamSID }

func (s *MediaStream) Recv() (telephony.AudioChunk, error) {
	for {
		envelope, err := s.readEnvelope()
		if err != nil {
			return telephony.AudioChunk{}, err
		}

		switch envelope.Event {
		case eventMedia:
			if envelope.Media == nil {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(envelope.Media.Payload)
			if err != nil {
				logger.Warn("dropping media event with undecodable payload",
					"call_sid", s.callSID, "error", err)
				continue
			}
			return telephony.AudioChunk{
				Sequence: s.sequence.Add(1),
				Payload:  payload,
			}, nil

		case eventMark:
			if envelope.Mark != nil {
				logger.Debug("mark received", "call_sid", s.callSID, "mark", envelope.Mark.Name)
			}

		case eventStop:
			return telephony.AudioChunk{}, telephony.ErrStreamClosed

		case eventStart:
			if envelope.Start != nil {
				s.streamSID = envelope.Start.StreamSID
				s.callSID = envelope.Start.CallSID
			}
		}
	}
}

func (s *MediaStream) readEnvelope() (*Envelope, error) {
	if s.closed.Load() {
		return nil, telephony.ErrStreamClosed
	}

	for {
		msgType, msg, err := s.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", telephony.ErrStreamClosed, err)
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var envelope Envelope
		if err := json.Unmarshal(msg, &envelope); err != nil {
			logger.Warn("dropping unparseable media-stream message", "error", err)
			continue
		}
		return &envelope, nil
	}
}

func (s *MediaStream) Send(chunk telephony.AudioChunk) error {
	if s.closed.Load() {
		return telephony.ErrStreamClosed
	}

	return s.writeEnvelope(Envelope{
		Event:     eventMedia,
		StreamSID: s.streamSID,
		Media: &MediaPayload{
			Payload: base64.StdEncoding.EncodeToString(chunk.Payload),
		},
	})
}

// Clear tells Twilio to drop any audio it has buffered but not yet played.
func (s *MediaStream) Clear() error {
	if s.closed.Load() {
		return telephony.ErrStreamClosed
	}

	return s.writeEnvelope(Envelope{
		Event:     eventClear,
		StreamSID: s.streamSID,
	})
}

func (s *MediaStream) writeEnvelope(envelope Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal media-stream message: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write media-stream message: %w", err)
	}
	return nil
}

func (s *MediaStream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.conn.Close()
}

var _ telephony.MediaStream = (*MediaStream)(nil)
var _ telephony.Clearer = (*MediaStream)(nil)
