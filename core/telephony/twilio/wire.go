package twilio

// Envelope is one message on the Twilio media-stream websocket. Twilio sends
// start/media/mark/stop events; we send media/mark/clear back.
type Envelope struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSID      string        `json:"streamSid,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	Mark           *MarkPayload  `json:"mark,omitempty"`
}

type StartPayload struct {
	StreamSID   string      `json:"streamSid"`
	AccountSID  string      `json:"accountSid"`
	CallSID     string      `json:"callSid"`
	MediaFormat MediaFormat `json:"mediaFormat"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	// Payload is base64-encoded audio in the stream's media format.
	Payload string `json:"payload"`
}

type MarkPayload struct {
	Name string `json:"name"`
}

const (
	eventStart = "start"
	eventMedia = "media"
	eventMark  = "mark"
	eventStop  = "stop"
	eventClear = "clear"
)
