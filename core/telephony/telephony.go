// Package telephony defines the contract between the call-session core and a
// telephony provider's media transport.
package telephony

import "errors"

// ErrStreamClosed reports that the provider closed the media stream; it is
// the clean-teardown signal, not a failure.
var ErrStreamClosed = errors.New("telephony: media stream closed")

// AudioChunk is one bounded frame of call audio in the fixed narrowband
// telephony encoding, with a per-call monotonically increasing sequence
// number. Chunks are ephemeral and never persisted.
type AudioChunk struct {
	Sequence uint64
	Payload  []byte
}

// MediaStream is one call's bidirectional audio channel.
type MediaStream interface {
	// Recv blocks until the next inbound chunk arrives. It returns
	// ErrStreamClosed once the provider ends the stream.
	Recv() (AudioChunk, error)
	// Send delivers one outbound chunk to the caller.
	Send(AudioChunk) error
	Close() error
}

// Clearer is implemented by streams that can drop provider-side buffered
// audio, used on barge-in so the caller stops hearing the stale reply.
type Clearer interface {
	Clear() error
}
