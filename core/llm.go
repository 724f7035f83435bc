package bridge

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/voicemux/callbridge/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StreamingLLM is the text-generation collaborator. A nil prompt means the
// conversation's last turn carries the caller's utterance.
type StreamingLLM interface {
	PromptWithStream(ctx context.Context, prompt *string, opts ...llms.StreamingPromptOption) llms.Stream
}

// llm wraps the configured client with the call's system prompt, tool set and
// tool-loop bound.
type llm struct {
	client        StreamingLLM
	systemPrompt  string
	tools         []llms.Tool
	toolLoopLimit int
}

// generate streams one reply for the utterance. Tool invocations requested by
// the model are executed synchronously and fed back until the model produces
// a plain reply or the loop bound is hit. Text chunks are forwarded to
// onChunk as they arrive. A true cancelled() ends generation early with a nil
// response and no error.
func (l *llm) generate(
	ctx context.Context,
	utterance string,
	history []llms.Turn,
	onChunk func(string),
	cancelled func() bool,
) (*llms.Response, error) {
	ctx, span := tracer.Start(ctx, "generate reply")
	defer span.End()

	turn := llms.Turn{Utterance: utterance}
	for iteration := 0; ; iteration++ {
		if iteration >= l.toolLoopLimit {
			span.RecordError(ErrToolLoopExceeded)
			span.SetStatus(codes.Error, ErrToolLoopExceeded.Error())
			return nil, ErrToolLoopExceeded
		}

		stream := l.client.PromptWithStream(ctx, nil,
			llms.WithSystemPrompt(l.systemPrompt),
			llms.WithTurns(append(slices.Clone(history), turn)...),
			llms.WithTools(l.tools...),
		)

		var message strings.Builder
		toolCalls := []llms.ToolCall{}
		for chunk, err := range stream.Chunks(ctx) {
			if err != nil {
				err = fmt.Errorf("failed to stream llm response: %w", err)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}

			if cancelled != nil && cancelled() {
				return nil, nil
			}

			switch chunk := chunk.(type) {
			case llms.StreamContentChunk:
				message.WriteString(chunk.Content())
				if onChunk != nil {
					onChunk(chunk.Content())
				}

			case llms.StreamToolCallChunk:
				toolCalls = append(toolCalls, chunk.ToolCall())
			}
		}

		if len(toolCalls) == 0 {
			return &llms.Response{
				Content:   turn.Reply + message.String(),
				ToolCalls: turn.ToolCalls,
			}, nil
		}

		turn.Reply += message.String()
		for _, toolCall := range toolCalls {
			if cancelled != nil && cancelled() {
				return nil, nil
			}

			toolCall.Response = l.callTool(ctx, toolCall)
			turn.ToolCalls = append(turn.ToolCalls, toolCall)
		}
	}
}

// callTool executes one requested tool. Failures are handed back to the model
// as the tool result so it can recover or answer without it.
func (l *llm) callTool(ctx context.Context, toolCall llms.ToolCall) string {
	_, span := tracer.Start(ctx, "call tool",
		trace.WithAttributes(attribute.String("tool.name", toolCall.Name)))
	defer span.End()

	index := slices.IndexFunc(l.tools, func(tool llms.Tool) bool {
		return tool.Function.Name == toolCall.Name
	})
	if index < 0 {
		err := fmt.Errorf("unknown tool %q", toolCall.Name)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Sprintf("error: %s", err)
	}

	result, err := l.tools[index].Execute(toolCall.Arguments)
	if err != nil {
		err = fmt.Errorf("tool %q failed: %w", toolCall.Name, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Sprintf("error: %s", err)
	}
	return result
}
