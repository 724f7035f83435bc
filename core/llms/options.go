package llms

type StreamingPromptOptions struct {
	Instructions string
	Turns        []Turn
	Tools        []Tool
}

type StreamingPromptOption func(*StreamingPromptOptions)

// WithSystemPrompt sets the system prompt. Repeating this option overwrites
// the previous system prompt.
func WithSystemPrompt(prompt string) StreamingPromptOption {
	return func(o *StreamingPromptOptions) {
		o.Instructions = prompt
	}
}

// WithTurns appends prior conversation turns, oldest first.
func WithTurns(turns ...Turn) StreamingPromptOption {
	return func(o *StreamingPromptOptions) {
		o.Turns = append(o.Turns, turns...)
	}
}

// WithTools appends tools the model may call.
func WithTools(tools ...Tool) StreamingPromptOption {
	return func(o *StreamingPromptOptions) {
		o.Tools = append(o.Tools, tools...)
	}
}
