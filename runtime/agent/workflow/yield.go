package workflow

// YieldKind discriminates the tagged Yield union (spec §4.4.1).
type YieldKind string

const (
	YieldStatus           YieldKind = "status"
	YieldArtifact         YieldKind = "artifact"
	YieldProgress         YieldKind = "progress"
	YieldPause            YieldKind = "pause"
	YieldDispatchResponse YieldKind = "dispatch-response"
	YieldReturn           YieldKind = "return"
	YieldFail             YieldKind = "fail"
)

// Artifact is a named, typed output of a task (spec §3).
type Artifact struct {
	ArtifactID string
	Name       string
	MimeType   string
	Parts      []any
	Sequence   uint64
	Bounds     *Bounds
}

// Bounds describes how an artifact's content has been bounded relative to
// the full underlying data a plugin produced (e.g. a truncated log dump or a
// capped search result set), so callers can render a refinement hint instead
// of silently showing a partial view.
type Bounds struct {
	Returned       int
	Total          *int
	Truncated      bool
	RefinementHint string
}

// Yield is the tagged union a plugin's ExecuteFunc produces, one value per
// step (spec §4.4.1). Only the fields relevant to Kind are meaningful.
type Yield struct {
	Kind YieldKind

	// status
	WorkingMessage string

	// artifact
	Artifact   Artifact
	Append     bool
	Index      *int
	LastChunk  bool

	// progress
	Current int
	Total   int

	// pause
	Reason      string
	InputSchema map[string]any
	Message     string

	// dispatch-response
	Parts []any

	// return
	Result any

	// fail
	Err error
}

// Status builds a status{working} yield (or any non-pausing status).
func Status(message string) Yield {
	return Yield{Kind: YieldStatus, WorkingMessage: message}
}

// ArtifactUpdate builds an artifact{} yield.
func ArtifactUpdate(a Artifact, append bool, lastChunk bool) Yield {
	return Yield{Kind: YieldArtifact, Artifact: a, Append: append, LastChunk: lastChunk}
}

// Progress builds a progress{current,total} yield.
func Progress(current, total int) Yield {
	return Yield{Kind: YieldProgress, Current: current, Total: total}
}

// Pause builds a pause{} yield; the runtime validates the eventual resume
// input against inputSchema.
func Pause(reason string, inputSchema map[string]any, message string) Yield {
	return Yield{Kind: YieldPause, Reason: reason, InputSchema: inputSchema, Message: message}
}

// DispatchResponse builds a dispatch-response{parts} yield.
func DispatchResponse(parts []any) Yield {
	return Yield{Kind: YieldDispatchResponse, Parts: parts}
}

// Return builds a terminal return{result} yield.
func Return(result any) Yield {
	return Yield{Kind: YieldReturn, Result: result}
}

// Fail builds a terminal fail{error} yield.
func Fail(err error) Yield {
	return Yield{Kind: YieldFail, Err: err}
}
