// Package agentevent declares the common event vocabulary every backend
// adapter emits and every consumer (the agent loop, tests) understands.
package agentevent

// Type enumerates the seven AgentEvent kinds.
type Type string

const (
	Message    Type = "message"
	Thinking   Type = "thinking"
	ToolUse    Type = "tool_use"
	ToolResult Type = "tool_result"
	Error      Type = "error"
	TokenUsage Type = "token_usage"
	Done       Type = "done"
)

// Event is one item in a backend's lazy, finite, non-restartable event
// stream. A well-formed stream emits zero or more non-terminal events
// followed by exactly one terminal event: Done, or Error immediately
// followed by Done. Consumers must tolerate unknown Metadata keys.
// `Message` events are additive text deltas — concatenating Content across
// a turn in arrival order yields the final assistant text.
type Event struct {
	Type     Type           `json:"type"`
	Content  string         `json:"content,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// IsTerminal reports whether this event ends the stream.
func (e Event) IsTerminal() bool {
	return e.Type == Done
}

// Usage is the token_usage event payload shape, stored under Metadata["usage"].
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ToolCall is the tool_use event payload shape, stored under Metadata["tool"].
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Sequence wraps a channel of Events with the terminal-event invariant:
// once a Done (or a terminal Error->Done pair) has been delivered, further
// sends are dropped rather than delivered twice. Backend adapters should
// build their output through a Sequence rather than writing to a raw
// channel, so "error after done" (spec §8 boundary behaviour) is enforced
// in one place.
type Sequence struct {
	ch       chan Event
	done     bool
}

// NewSequence allocates a Sequence with the given channel buffer depth.
func NewSequence(buffer int) *Sequence {
	return &Sequence{ch: make(chan Event, buffer)}
}

// Chan exposes the read side for consumers.
func (s *Sequence) Chan() <-chan Event { return s.ch }

// Emit sends an event unless the sequence has already terminated. It is the
// producer's responsibility to call Emit from a single goroutine.
func (s *Sequence) Emit(e Event) {
	if s.done {
		return
	}
	s.ch <- e
	if e.IsTerminal() {
		s.done = true
		close(s.ch)
	}
}

// Close terminates the sequence immediately without emitting a Done event.
// Used by producers that already emitted Done through Emit; safe to call
// more than once.
func (s *Sequence) Close() {
	if s.done {
		return
	}
	s.done = true
	close(s.ch)
}
