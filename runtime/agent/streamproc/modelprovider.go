package streamproc

import "context"

// ModelProvider is the black-box LLM adapter boundary (spec §1). The core
// never inspects a provider's internals; it only consumes the Delta stream
// this interface exposes. modelprovider/anthropic ships one concrete,
// runnable implementation for the demo binary.
type ModelProvider interface {
	// Stream opens a delta stream for one AI turn given the conversation
	// history and the tool catalog (external tools unioned with workflow
	// pseudo-tools, spec §4.5). The returned DeltaStream is exhausted when
	// Next returns ok=false; callers check Err afterward.
	Stream(ctx context.Context, req Request) (DeltaStream, error)
}

// Request is one AI turn's input.
type Request struct {
	History []Message
	Tools   []ToolDescriptor
}

// Message is a provider-agnostic chat message.
type Message struct {
	Role  string
	Parts []any
}

// ToolDescriptor advertises one callable tool to the provider, including the
// workflow pseudo-tools synthesized from registered plugins.
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// DeltaKind discriminates the tagged Delta union a ModelProvider streams.
type DeltaKind string

const (
	DeltaText     DeltaKind = "text-delta"
	DeltaToolCall DeltaKind = "tool-call"
	DeltaFinish   DeltaKind = "finish"
)

// Delta is one increment of a provider's streamed response.
type Delta struct {
	Kind DeltaKind

	// text-delta
	Text string

	// tool-call
	ToolCallID string
	ToolName   string
	ToolArgs   map[string]any

	// finish
	FinishMessage Message
}

// DeltaStream is a pull-based iterator over a single AI turn's deltas.
type DeltaStream interface {
	Next(ctx context.Context) (Delta, bool)
	Err() error
	Close()
}

// ToolInvoker executes an external (non-workflow) tool call and returns its
// result. Processor logs an invocation error and discards the result; it is
// not fed back into the model stream. The MCP-backed
// transport is out of scope for the core; toolinvoker/inproc provides a
// minimal in-process implementation for the demo/tests.
type ToolInvoker interface {
	Invoke(ctx context.Context, toolName string, args map[string]any) (map[string]any, error)
}
