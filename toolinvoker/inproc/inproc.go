// Package inproc provides a minimal in-process streamproc.ToolInvoker: a
// registry of Go functions keyed by canonical tool name (spec §6), intended
// for the demo binary and tests rather than production MCP transport, which
// is explicitly out of scope for the core (spec §1).
package inproc

import (
	"context"
	"regexp"
	"sync"

	"github.com/agentnode/core/runtime/agent/coreerr"
)

// canonicalToolNameRE matches spec §6's canonical tool-name rule:
// server__tool, both halves lowercase snake_case.
var canonicalToolNameRE = regexp.MustCompile(`^[a-z][a-z0-9_]*__[a-z][a-z0-9_]*$`)

// ToolFunc implements one tool's behavior.
type ToolFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

// Registry is an in-process ToolInvoker implementation.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]ToolFunc
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{tools: make(map[string]ToolFunc)}
}

// Register adds fn under name. name must match the canonical tool-name
// pattern (spec §6); names that do not are rejected at registration.
func (r *Registry) Register(name string, fn ToolFunc) error {
	if !canonicalToolNameRE.MatchString(name) {
		return coreerr.InvalidRequest("tool name " + name + " does not match canonical pattern server__tool")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = fn
	return nil
}

// Invoke implements streamproc.ToolInvoker.
func (r *Registry) Invoke(ctx context.Context, toolName string, args map[string]any) (map[string]any, error) {
	r.mu.RLock()
	fn, ok := r.tools[toolName]
	r.mu.RUnlock()
	if !ok {
		return nil, coreerr.New(coreerr.KindValidation, coreerr.CodePluginNotFound, "unknown tool "+toolName)
	}
	return fn(ctx, args)
}

// Names returns the currently registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for n := range r.tools {
		out = append(out, n)
	}
	return out
}
