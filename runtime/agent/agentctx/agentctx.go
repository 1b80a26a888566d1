// Package agentctx implements the ContextManager (spec component C3):
// conversation-scoped state grouping a set of owned task ids and an
// append-only message history.
//
// Grounded on runtime/agent/session's Store (sessions map + mutex,
// Create/Load/End operations on a process-wide in-memory map), generalized
// with the idle-sweep and strict-reattach rules from spec §4.3.
package agentctx

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentnode/core/runtime/agent/coreerr"
)

// Message is one entry in a context's history. Role and Parts mirror the
// wire Message shape (spec §3); the manager itself only appends and reads.
type Message struct {
	MessageID string
	Role      string
	TaskID    string
	Parts     []any
}

// Context is a conversation scope (spec §3).
type Context struct {
	ID             string
	CreatedAt      time.Time
	LastActivityAt time.Time
	Tasks          []string
	History        []Message
	Metadata       map[string]any
}

func (c *Context) clone() *Context {
	cp := *c
	cp.Tasks = append([]string(nil), c.Tasks...)
	cp.History = append([]Message(nil), c.History...)
	if c.Metadata != nil {
		cp.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// DefaultIdleTTL is the default context expiry window (spec §3).
const DefaultIdleTTL = 30 * time.Minute

// IsTerminal reports whether a task is in a terminal state. Supplied by the
// caller (task.Store) via SweepIdle to avoid an import cycle between
// agentctx and task.
type IsTerminal func(taskID string) bool

// Manager is the process-wide ContextManager singleton (C3). All methods are
// safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	contexts map[string]*Context
	idleTTL  time.Duration
}

// New constructs a Manager with the default idle TTL.
func New() *Manager {
	return NewWithIdleTTL(DefaultIdleTTL)
}

// NewWithIdleTTL constructs a Manager with an explicit idle TTL.
func NewWithIdleTTL(idleTTL time.Duration) *Manager {
	return &Manager{contexts: make(map[string]*Context), idleTTL: idleTTL}
}

// Create allocates a fresh context with a server-generated id.
func (m *Manager) Create() *Context {
	now := time.Now()
	c := &Context{ID: uuid.NewString(), CreatedAt: now, LastActivityAt: now}
	m.mu.Lock()
	m.contexts[c.ID] = c
	m.mu.Unlock()
	return c
}

// Reattach resolves an existing context by id. Unlike Create, Reattach never
// fabricates a context for an unknown id — spec §4.3 requires this to fail
// with InvalidRequest so that typos never silently start a fresh context.
func (m *Manager) Reattach(id string) (*Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[id]
	if !ok {
		return nil, coreerr.InvalidRequest("unknown contextId " + id + "; omit contextId to start a new context")
	}
	return c.clone(), nil
}

// AppendMessage appends msg to id's history and refreshes lastActivityAt.
func (m *Manager) AppendMessage(id string, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[id]
	if !ok {
		return coreerr.NotFound(id)
	}
	c.History = append(c.History, msg)
	c.LastActivityAt = time.Now()
	return nil
}

// RecordTask records taskID as owned by context id.
func (m *Manager) RecordTask(id, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[id]
	if !ok {
		return coreerr.NotFound(id)
	}
	c.Tasks = append(c.Tasks, taskID)
	return nil
}

// History returns a copy of id's message history.
func (m *Manager) History(id string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[id]
	if !ok {
		return nil, coreerr.NotFound(id)
	}
	return append([]Message(nil), c.History...), nil
}

// Touch refreshes id's lastActivityAt without appending to history.
func (m *Manager) Touch(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[id]
	if !ok {
		return coreerr.NotFound(id)
	}
	c.LastActivityAt = time.Now()
	return nil
}

// SweepIdle deletes every context whose lastActivityAt is older than the
// configured idle TTL relative to now, and whose tasks are all terminal per
// isTerminal. Contexts with any non-terminal task are never swept regardless
// of age (spec §4.3).
func (m *Manager) SweepIdle(now time.Time, isTerminal IsTerminal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.contexts {
		if now.Sub(c.LastActivityAt) < m.idleTTL {
			continue
		}
		allTerminal := true
		for _, taskID := range c.Tasks {
			if !isTerminal(taskID) {
				allTerminal = false
				break
			}
		}
		if allTerminal {
			delete(m.contexts, id)
		}
	}
}
