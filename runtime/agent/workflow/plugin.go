package workflow

import (
	"context"
	"regexp"
	"strings"
)

// Plugin is the static descriptor for a workflow (spec §3: WorkflowPlugin).
// InputSchema is a JSON Schema document, compiled on each validation, that
// dispatch parameters are checked against. Resume input is checked against
// the schema carried by the pause yield instead.
type Plugin struct {
	ID          string
	Name        string
	Description string
	Version     string
	InputSchema map[string]any
	Execute     ExecuteFunc
}

// ExecuteFunc is a plugin's cooperative routine (spec §4.4.1). It receives a
// fresh Context for this execution only — the runtime never shares mutable
// state across executions — and the dispatch parameters already validated
// against InputSchema. It runs for the lifetime of the execution, sending
// Yield values through Context.Yield and optionally blocking for resume
// input when it yields a pause.
type ExecuteFunc func(wctx *Context, params map[string]any)

var canonicalBoundaryRE = regexp.MustCompile(`([a-z0-9])([A-Z])`)
var nonWordRE = regexp.MustCompile(`[^a-z0-9_]+`)

// canonicalize lowercases id and folds camelCase/kebab-case into snake_case,
// matching the canonical tool-name rule in spec §6.
func canonicalize(id string) string {
	s := canonicalBoundaryRE.ReplaceAllString(id, "${1}_${2}")
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "-", "_")
	s = nonWordRE.ReplaceAllString(s, "_")
	return s
}

// PseudoToolName returns the dispatch_workflow_<canonical(id)> pseudo-tool
// name advertised to the LLM for pluginID (spec §4.4.2).
func PseudoToolName(pluginID string) string {
	return "dispatch_workflow_" + canonicalize(pluginID)
}

const pseudoToolPrefix = "dispatch_workflow_"

// IsPseudoTool reports whether name looks like a dispatch_workflow_* tool
// call that StreamProcessor should intercept rather than forward to an
// external ToolInvoker.
func IsPseudoTool(name string) bool {
	return strings.HasPrefix(name, pseudoToolPrefix)
}

// contextKey is unexported to avoid collisions with other packages' use of
// context.WithValue.
type contextKey struct{}

// FromContext extracts the workflow Context previously stashed by the
// runtime, if any. Plugins normally receive their Context directly as the
// first argument to ExecuteFunc; this accessor exists for helper code that
// only has a context.Context in hand (e.g. nested calls).
func FromContext(ctx context.Context) (*Context, bool) {
	v, ok := ctx.Value(contextKey{}).(*Context)
	return v, ok
}
