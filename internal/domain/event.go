package domain

import "context"

// StreamEvent is one event of the agent's answer stream. The set of variants
// is closed: TextDelta, ToolCallStart, ToolCallEnd and FinalOutput.
type StreamEvent interface {
	streamEvent()
}

// TextDelta is an incremental chunk of answer text.
type TextDelta struct {
	Text string
}

// ToolCallStart marks the beginning of a tool invocation.
type ToolCallStart struct {
	Name  string
	Input string
}

// ToolCallEnd carries the observation returned by a tool.
type ToolCallEnd struct {
	Name   string
	Output string
}

// FinalOutput is the complete final answer. It supersedes any text
// accumulated from earlier deltas.
type FinalOutput struct {
	Text string
}

func (TextDelta) streamEvent()     {}
func (ToolCallStart) streamEvent() {}
func (ToolCallEnd) streamEvent()   {}
func (FinalOutput) streamEvent()   {}

// DeltaKind distinguishes answer text from tool trace text.
type DeltaKind string

const (
	DeltaText  DeltaKind = "text"
	DeltaTrace DeltaKind = "trace"
)

// Delta is one incremental update pushed to a user interface.
type Delta struct {
	Kind DeltaKind `json:"kind"`
	Text string    `json:"text"`
}

// Sink receives the visible output of a single query.
type Sink interface {
	Stream(ctx context.Context, d Delta) error
	Complete(ctx context.Context, final string) error
}

// ToolInvocation records one tool call observed during a query.
type ToolInvocation struct {
	Name   string `json:"name"`
	Input  string `json:"input"`
	Output string `json:"output"`
}

// AggregatedResponse is the outcome of one query.
type AggregatedResponse struct {
	Trace     []string         `json:"trace"`
	FinalText string           `json:"finalText"`
	Tools     []ToolInvocation `json:"tools,omitempty"`
}
