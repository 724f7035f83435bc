package bridge

import (
	"fmt"
	"time"

	"github.com/voicemux/callbridge/core/llms"
)

// CurrentTimeTool tells the model the current wall-clock time, so the agent
// can answer time questions without guessing.
func CurrentTimeTool() llms.Tool {
	return llms.NewTool("current_time", "Get the current date and time",
		func(struct{}) (string, error) {
			return time.Now().Format("Monday, 2 January 2006, 15:04 MST"), nil
		})
}

type sendMessageParameters struct {
	To   string `json:"to" jsonschema:"description=Recipient phone number in E.164 format"`
	Body string `json:"body" jsonschema:"description=The message text to send"`
}

// SendMessageTool dispatches a text message through the provided sender. A
// dispatch that has already started is never rolled back by barge-in; only
// audio delivery is cancelled.
func SendMessageTool(send func(to, body string) error) llms.Tool {
	return llms.NewTool("send_message", "Send a text message to a phone number",
		func(parameters sendMessageParameters) (string, error) {
			if parameters.To == "" || parameters.Body == "" {
				return "", fmt.Errorf("both recipient and message body are required")
			}
			if err := send(parameters.To, parameters.Body); err != nil {
				return "", fmt.Errorf("failed to send message: %w", err)
			}
			return "Message sent. Confirm to the caller with a very short phrase.", nil
		})
}
