package agent

// EventKind discriminates progress events emitted during a turn.
type EventKind string

const (
	// EventToken carries one streamed fragment of assistant text.
	EventToken EventKind = "token"

	// EventToolStart marks the beginning of a tool invocation.
	EventToolStart EventKind = "tool_start"

	// EventToolEnd marks the end of a tool invocation; OK reports whether
	// it produced a usable observation.
	EventToolEnd EventKind = "tool_end"
)

// Event is one progress event. Events are emitted in causal order: a tool's
// start always precedes its end, and text produced after an observation
// follows the corresponding tool_end.
type Event struct {
	Kind  EventKind
	Token string // EventToken
	Tool  string // EventToolStart, EventToolEnd
	OK    bool   // EventToolEnd
}
