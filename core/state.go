package bridge

// State is one call's position in the turn-taking lifecycle.
type State string

const (
	// StateIdle means the call is connected but no caller speech has arrived.
	StateIdle State = "IDLE"
	// StateListening means caller audio is arriving and transcript events are
	// being aggregated.
	StateListening State = "LISTENING"
	// StateThinking means an utterance was finalized and a reply task is
	// running but has not produced audio yet.
	StateThinking State = "THINKING"
	// StateSpeaking means synthesized reply audio is streaming to the caller.
	StateSpeaking State = "SPEAKING"
	// StateInterrupted is the transient state while a barge-in cancels the
	// previous reply task and clears buffered provider audio.
	StateInterrupted State = "INTERRUPTED"
	// StateEnded is terminal; late events are dropped silently.
	StateEnded State = "ENDED"
)

func (s State) String() string { return string(s) }
