package llms

// Response is a single response from an LLM.
type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// ToolCall is one function invocation requested by the model, together with
// the result it was given back.
type ToolCall struct {
	ID        string
	Type      string
	Name      string
	Arguments string

	// Response is the tool's result, filled in after execution.
	Response string
}

// Turn is one completed caller/assistant exchange. An ordered slice of turns
// is the short-term conversational context handed back to the model.
type Turn struct {
	ID string

	// Utterance is the caller's finalized transcript that triggered the turn.
	Utterance string
	// Reply is the assistant's reply text for the turn.
	Reply     string
	ToolCalls []ToolCall

	// Cancelled marks a turn whose reply was cut short by barge-in. The
	// partial reply is still kept as context.
	Cancelled bool
}
