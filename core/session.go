// Package bridge implements the per-call duplex streaming session: it relays
// caller audio between the telephony media stream and the speech-to-text
// stream, folds transcript events into finalized utterances, and drives the
// turn-taking state machine that produces and streams back spoken replies.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/voicemux/callbridge/core/audio"
	"github.com/voicemux/callbridge/core/speechtotext"
	"github.com/voicemux/callbridge/core/telephony"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// transcriberCloseTimeout bounds the provider-side release during teardown.
const transcriberCloseTimeout = 5 * time.Second

// SpeechToText is the transcription collaborator. One instance serves one
// call and must be closed to release provider-side resources.
type SpeechToText interface {
	Transcribe(ctx context.Context, opts ...speechtotext.TranscriptionOption) error
	SendAudio(audio []byte) error
	Close(ctx context.Context) error
}

// CallSession binds one call's media stream, transcription stream and turn
// controller, and owns their lifetimes for the duration of the call.
type CallSession struct {
	CallID    string
	CreatedAt time.Time

	stream       telephony.MediaStream
	speechToText SpeechToText
	controller   *TurnController
	encoding     audio.EncodingInfo

	closeOnce   sync.Once
	releaseOnce sync.Once
}

func newCallSession(
	callID string,
	stream telephony.MediaStream,
	speechToText SpeechToText,
	llm *llm,
	textToSpeech TextToSpeech,
	config sessionConfig,
) *CallSession {
	session := &CallSession{
		CallID:       callID,
		CreatedAt:    time.Now(),
		stream:       stream,
		speechToText: speechToText,
		encoding:     config.encoding,
	}

	session.controller = newTurnController(
		callID,
		llm,
		textToSpeech,
		config.encoding,
		config.maxContextTurns,
		config.replyTimeout,
		turnControllerCallbacks{
			EmitAudio: func(chunk []byte) {
				if err := stream.Send(telephony.AudioChunk{Payload: chunk}); err != nil {
					logger.Warn("failed to send audio to caller", "call_id", callID, "error", err)
				}
			},
			OnBargeIn: func() {
				clearer, ok := stream.(telephony.Clearer)
				if !ok {
					return
				}
				if err := clearer.Clear(); err != nil {
					logger.Warn("failed to clear buffered caller audio", "call_id", callID, "error", err)
				}
			},
			OnEnded: session.releaseTranscriber,
		},
	)

	return session
}

// State reports the call's current turn-taking state.
func (s *CallSession) State() State {
	return s.controller.State()
}

// Run starts the transcription stream and relays inbound caller audio to it
// until the media stream closes. It returns nil on clean stream close and
// always leaves the session ended.
func (s *CallSession) Run(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "run call session",
		trace.WithAttributes(attribute.String("call.id", s.CallID)))
	defer span.End()
	defer s.End()

	s.controller.bind(ctx)

	if err := s.speechToText.Transcribe(ctx,
		speechtotext.WithEncodingInfo(s.encoding),
		speechtotext.WithTranscriptCallback(s.controller.OnTranscript),
		speechtotext.WithSpeechStartedCallback(s.controller.OnSpeechStarted),
	); err != nil {
		return fmt.Errorf("failed to start transcription: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		chunk, err := s.stream.Recv()
		if err != nil {
			if errors.Is(err, telephony.ErrStreamClosed) {
				return nil
			}
			return fmt.Errorf("failed to receive caller audio: %w", err)
		}

		if _, err := audio.Decode(s.encoding, chunk.Payload); err != nil {
			logger.Warn("dropping malformed audio frame",
				"call_id", s.CallID, "sequence", chunk.Sequence, "error", err)
			continue
		}

		if err := s.speechToText.SendAudio(chunk.Payload); err != nil {
			logger.Warn("failed to forward audio to transcriber",
				"call_id", s.CallID, "error", err)
		}
	}
}

// End tears the session down: the controller reaches ENDED, the in-flight
// reply task is cancelled, the transcription stream is released exactly once
// and the media stream is closed. Safe to call repeatedly.
func (s *CallSession) End() {
	s.closeOnce.Do(func() {
		s.controller.End()
		if err := s.stream.Close(); err != nil {
			logger.Debug("failed to close media stream", "call_id", s.CallID, "error", err)
		}
	})
}

func (s *CallSession) releaseTranscriber() {
	s.releaseOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), transcriberCloseTimeout)
		defer cancel()

		if err := s.speechToText.Close(ctx); err != nil {
			logger.Warn("failed to close transcription stream", "call_id", s.CallID, "error", err)
		}
	})
}
