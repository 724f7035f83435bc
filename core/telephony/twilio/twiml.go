package twilio

import (
	"encoding/xml"
	"fmt"
)

type voiceResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Connect *twimlConnect `xml:"Connect,omitempty"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL string `xml:"url,attr"`
}

// StreamTwiML renders the voice-webhook answer that connects an answered
// call to the media-stream websocket. Twilio requires wss for public hosts.
func StreamTwiML(host string, secure bool) (string, error) {
	scheme := "ws"
	if secure {
		scheme = "wss"
	}

	response := voiceResponse{
		Connect: &twimlConnect{
			Stream: twimlStream{URL: fmt.Sprintf("%s://%s/media-stream", scheme, host)},
		},
	}

	body, err := xml.Marshal(response)
	if err != nil {
		return "", fmt.Errorf("failed to marshal twiml: %w", err)
	}
	return xml.Header + string(body), nil
}
