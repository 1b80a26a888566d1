// Package task implements the TaskStore (spec component C1): an in-memory
// mapping of task id to task record, kept consistent by projecting event bus
// records onto it.
package task

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentnode/core/runtime/agent/coreerr"
)

// Kind distinguishes an AI-turn task from a workflow execution task.
type Kind string

const (
	KindAITurn   Kind = "ai-turn"
	KindWorkflow Kind = "workflow"
)

// State is one point in the task state machine.
type State string

const (
	StateSubmitted      State = "submitted"
	StateWorking        State = "working"
	StateInputRequired  State = "input-required"
	StateAuthRequired   State = "auth-required"
	StateCompleted      State = "completed"
	StateFailed         State = "failed"
	StateCanceled       State = "canceled"
)

// Terminal reports whether s is one of the terminal states.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCanceled:
		return true
	default:
		return false
	}
}

// legalTransitions encodes the state machine's allowed edges. Terminal states
// have no outgoing edges; input-required is reachable only for workflow
// tasks, enforced by the caller rather than this table.
var legalTransitions = map[State]map[State]bool{
	StateSubmitted:     {StateWorking: true, StateFailed: true, StateCanceled: true, StateCompleted: true},
	StateWorking:       {StateWorking: true, StateInputRequired: true, StateAuthRequired: true, StateCompleted: true, StateFailed: true, StateCanceled: true},
	StateInputRequired: {StateInputRequired: true, StateWorking: true, StateFailed: true, StateCanceled: true},
	StateAuthRequired:  {StateAuthRequired: true, StateWorking: true, StateFailed: true, StateCanceled: true},
}

// PauseInfo describes the schema and prompt a paused workflow task is
// waiting on, carried from the workflow yield that produced it.
type PauseInfo struct {
	Reason      string
	InputSchema map[string]any
	Message     string
}

// Task is a unit of agent work (spec §3).
type Task struct {
	ID             string
	ContextID      string
	Kind           Kind
	ParentTaskID   string
	State          State
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Metadata       map[string]any
	PauseInfo      *PauseInfo
	ReferenceTasks []string
}

func (t *Task) clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Metadata != nil {
		cp.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	if t.PauseInfo != nil {
		pi := *t.PauseInfo
		cp.PauseInfo = &pi
	}
	if t.ReferenceTasks != nil {
		cp.ReferenceTasks = append([]string(nil), t.ReferenceTasks...)
	}
	return &cp
}

// Event is the minimal shape of an event-bus record that Store.ApplyEvent
// projects onto a task record: the task id, kind and final flag of a record
// plus the decoded state, pause info, reference task and error. This package
// does not import eventbus.
type Event struct {
	TaskID  string
	Kind    string
	State   State
	Final   bool
	Pause   *PauseInfo
	RefTask string
	Error   error
}

// Store is the process-wide TaskStore singleton (C1). All methods are safe
// for concurrent use.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*Task
	byCtx   map[string][]string
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		byID:  make(map[string]*Task),
		byCtx: make(map[string][]string),
	}
}

// Create allocates a new task in state submitted and records it against its
// context's secondary index.
func (s *Store) Create(kind Kind, contextID, parentTaskID string) *Task {
	now := time.Now()
	t := &Task{
		ID:           uuid.NewString(),
		ContextID:    contextID,
		Kind:         kind,
		ParentTaskID: parentTaskID,
		State:        StateSubmitted,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.mu.Lock()
	s.byID[t.ID] = t
	s.byCtx[contextID] = append(s.byCtx[contextID], t.ID)
	s.mu.Unlock()
	return t
}

// Get returns a defensive copy of the task, or a TaskNotFound error.
func (s *Store) Get(id string) (*Task, error) {
	s.mu.RLock()
	t, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, coreerr.NotFound(id)
	}
	return t.clone(), nil
}

// List returns the tasks recorded against contextID in creation order.
func (s *Store) List(contextID string) []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byCtx[contextID]
	out := make([]*Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.byID[id]; ok {
			out = append(out, t.clone())
		}
	}
	return out
}

// ApplyEvent idempotently projects an event-bus record onto its task,
// advancing state only along legal transitions (spec §4.1). An unknown task
// id is a programming error (Internal); a stale or repeated event that would
// move backwards from a terminal state is silently ignored (idempotent).
func (s *Store) ApplyEvent(evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[evt.TaskID]
	if !ok {
		return coreerr.Internal("applyEvent: unknown task "+evt.TaskID, nil)
	}
	if t.State.Terminal() {
		// Idempotent no-op: nothing may move a terminal task.
		return nil
	}
	if evt.State == "" {
		// Non state-bearing events (artifact-update, message, text-delta)
		// still update UpdatedAt and reference-task bookkeeping.
		t.UpdatedAt = time.Now()
		if evt.RefTask != "" {
			t.ReferenceTasks = append(t.ReferenceTasks, evt.RefTask)
		}
		return nil
	}
	if !legalTransitions[t.State][evt.State] {
		return coreerr.InvalidState("illegal transition " + string(t.State) + " -> " + string(evt.State))
	}
	t.State = evt.State
	t.UpdatedAt = time.Now()
	if evt.State == StateInputRequired {
		t.PauseInfo = evt.Pause
	} else {
		t.PauseInfo = nil
	}
	if evt.RefTask != "" {
		t.ReferenceTasks = append(t.ReferenceTasks, evt.RefTask)
	}
	return nil
}

// Cancel transitions a non-terminal task to canceled. Calling Cancel on an
// already-terminal task is a no-op that reports AlreadyTerminal, matching
// the idempotent cancel semantics of spec §4.1.
//
// Cancel only updates the authoritative record; like ApplyEvent, it never
// touches the event bus. Callers that need subscribers to observe the
// cancellation (tasks/cancel, spec.md:84) must publish the terminal
// status-update themselves -- see executor.Executor.Cancel, which pairs a
// bus publish with the store update the same way the rest of this codebase
// pairs Publish with ApplyEvent.
func (s *Store) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return coreerr.NotFound(id)
	}
	if t.State.Terminal() {
		return coreerr.New(coreerr.KindState, coreerr.CodeAlreadyTerminal, "task already terminal")
	}
	t.State = StateCanceled
	t.UpdatedAt = time.Now()
	return nil
}
