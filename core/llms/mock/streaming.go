// Package mock provides a deterministic streaming LLM for mock mode and
// tests.
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/voicemux/callbridge/core/llms"
)

type Client struct {
	mu      sync.Mutex
	replies []string
	cursor  int
}

// NewClient returns a client that streams the given replies in order. With no
// replies configured it echoes the prompt back.
func NewClient(replies ...string) *Client {
	return &Client{replies: replies}
}

func (c *Client) PromptWithStream(_ context.Context, prompt *string, opts ...llms.StreamingPromptOption) llms.Stream {
	options := llms.StreamingPromptOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	c.mu.Lock()
	var reply string
	if c.cursor < len(c.replies) {
		reply = c.replies[c.cursor]
		c.cursor++
	} else if prompt != nil {
		reply = "You said: " + *prompt
	} else if len(options.Turns) > 0 {
		reply = "You said: " + options.Turns[len(options.Turns)-1].Utterance
	}
	c.mu.Unlock()

	return &stream{reply: reply}
}

type stream struct {
	reply string
}

func (s *stream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	return func(yield func(llms.StreamChunk, error) bool) {
		words := strings.Fields(s.reply)
		for i, word := range words {
			if ctx.Err() != nil {
				return
			}
			chunk := word
			if i < len(words)-1 {
				chunk += " "
			}
			if !yield(contentChunk{content: chunk}, nil) {
				return
			}
		}
	}
}

type contentChunk struct {
	content string
}

func (c contentChunk) FinishReason() *string { return nil }
func (c contentChunk) Content() string       { return c.content }
