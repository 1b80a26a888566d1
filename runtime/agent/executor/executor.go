// Package executor implements the AgentExecutor (spec component C6): the
// single entry point for every inbound message, classifying whether it
// resumes a paused workflow or starts a new AI turn and orchestrating
// ContextManager, TaskStore, and StreamProcessor accordingly.
package executor

import (
	"context"
	"sync"

	"github.com/agentnode/core/runtime/agent/agentctx"
	"github.com/agentnode/core/runtime/agent/coreerr"
	"github.com/agentnode/core/runtime/agent/eventbus"
	"github.com/agentnode/core/runtime/agent/streamproc"
	"github.com/agentnode/core/runtime/agent/task"
	"github.com/agentnode/core/runtime/agent/workflow"
)

// Part mirrors the wire Message Part tagged union (spec §3): text, data, or
// file, discriminated by Kind.
type Part struct {
	Kind     string // "text" | "data" | "file"
	Text     string
	MimeType string
	Value    any
	URL      string
	Name     string
}

// InboundMessage is one caller-submitted message (spec §3).
type InboundMessage struct {
	MessageID string
	ContextID string // empty ⇒ create a new context
	TaskID    string // set ⇒ candidate workflow resume
	Parts     []Part
}

// Executor is the process-wide AgentExecutor singleton (C6).
type Executor struct {
	contexts  *agentctx.Manager
	tasks     *task.Store
	workflows *workflow.Runtime
	processor *streamproc.Processor
	bus       *eventbus.Bus

	seen seenMessages

	runsMu sync.Mutex
	runs   map[string]context.CancelFunc
}

// New constructs an Executor.
func New(contexts *agentctx.Manager, tasks *task.Store, workflows *workflow.Runtime, processor *streamproc.Processor, bus *eventbus.Bus) *Executor {
	return &Executor{
		contexts:  contexts,
		tasks:     tasks,
		workflows: workflows,
		processor: processor,
		bus:       bus,
		seen:      newSeenMessages(),
		runs:      make(map[string]context.CancelFunc),
	}
}

// Result is what Handle returns: the task that now owns the inbound
// message, resolved either by routing to an existing workflow resume or by
// allocating a new AI-turn task.
type Result struct {
	Task    *task.Task
	Context *agentctx.Context
}

// Handle classifies and routes one inbound message (spec §4.6). It does not
// wait for the resulting task to reach a terminal state; callers that need
// synchronous-to-final semantics (message/send) subscribe to the returned
// task's event bus themselves.
func (e *Executor) Handle(ctx context.Context, msg InboundMessage) (Result, error) {
	agentCtx, err := e.resolveContext(msg.ContextID)
	if err != nil {
		return Result{}, err
	}

	if msg.TaskID != "" {
		if dup, ok := e.seen.check(msg.TaskID, msg.MessageID); ok {
			return Result{Task: dup, Context: agentCtx}, nil
		}
		return e.routeToExistingTask(ctx, agentCtx, msg)
	}

	return e.startAITurn(ctx, agentCtx, msg)
}

func (e *Executor) resolveContext(contextID string) (*agentctx.Context, error) {
	if contextID == "" {
		return e.contexts.Create(), nil
	}
	return e.contexts.Reattach(contextID)
}

// routeToExistingTask implements routing rule 1 (spec §4.6): a supplied
// taskId only resumes a workflow when the task is non-terminal, of kind
// workflow, and currently input-required; any other combination is
// InvalidState. Presence of contextId alone never resumes anything.
func (e *Executor) routeToExistingTask(ctx context.Context, agentCtx *agentctx.Context, msg InboundMessage) (Result, error) {
	t, err := e.tasks.Get(msg.TaskID)
	if err != nil {
		return Result{}, err
	}
	if t.ContextID != agentCtx.ID {
		return Result{}, coreerr.InvalidRequest("taskId does not belong to contextId")
	}
	if t.State.Terminal() {
		return Result{}, coreerr.TaskTerminal(t.ID)
	}
	if t.Kind != task.KindWorkflow || t.State != task.StateInputRequired {
		return Result{}, coreerr.InvalidState("task is not awaiting workflow input")
	}

	input := extractInput(msg.Parts)
	if _, err := e.workflows.Resume(t.ID, input); err != nil {
		return Result{}, err
	}
	e.seen.record(msg.TaskID, msg.MessageID, t)
	return Result{Task: t, Context: agentCtx}, nil
}

// startAITurn implements routing rule 2: allocate a fresh ai-turn task,
// append the message to context history, and hand off to StreamProcessor.
//
// The turn runs under a context derived from context.Background(), not the
// caller's ctx: Handle returns as soon as the turn has been started, and the
// turn is not stopped when the request that started it ends or disconnects.
// Cancel stops the turn by canceling the run-scoped context registered here.
func (e *Executor) startAITurn(ctx context.Context, agentCtx *agentctx.Context, msg InboundMessage) (Result, error) {
	t := e.tasks.Create(task.KindAITurn, agentCtx.ID, "")

	parts := make([]any, len(msg.Parts))
	for i, p := range msg.Parts {
		parts[i] = p
	}
	_ = e.contexts.AppendMessage(agentCtx.ID, agentctx.Message{
		MessageID: msg.MessageID,
		Role:      "user",
		TaskID:    t.ID,
		Parts:     parts,
	})
	_ = e.contexts.RecordTask(agentCtx.ID, t.ID)

	e.seen.record(msg.TaskID, msg.MessageID, t)

	history, _ := e.contexts.History(agentCtx.ID)
	runCtx, cancel := context.WithCancel(context.Background())
	e.registerRun(t.ID, cancel)
	go func() {
		defer e.clearRun(t.ID)
		e.processor.Run(runCtx, t.ID, toProviderHistory(history), nil)
	}()

	return Result{Task: t, Context: agentCtx}, nil
}

func (e *Executor) registerRun(taskID string, cancel context.CancelFunc) {
	e.runsMu.Lock()
	e.runs[taskID] = cancel
	e.runsMu.Unlock()
}

func (e *Executor) clearRun(taskID string) {
	e.runsMu.Lock()
	delete(e.runs, taskID)
	e.runsMu.Unlock()
}

// Cancel implements tasks/cancel (spec.md:84): it stops whatever is driving
// taskID and emits a status-update{canceled, final=true} event so every
// subscriber (SSE stream, tasks/resubscribe) observes the cancellation,
// regardless of whether the inbound HTTP connection that started the task is
// still open.
func (e *Executor) Cancel(taskID string) error {
	t, err := e.tasks.Get(taskID)
	if err != nil {
		return err
	}
	if t.State.Terminal() {
		return coreerr.New(coreerr.KindState, coreerr.CodeAlreadyTerminal, "task already terminal")
	}
	if t.Kind == task.KindWorkflow {
		return e.workflows.Cancel(taskID)
	}

	e.runsMu.Lock()
	cancel, ok := e.runs[taskID]
	e.runsMu.Unlock()
	if ok {
		cancel()
	}

	_, _ = e.bus.Publish(taskID, eventbus.KindStatusUpdate, map[string]any{"state": string(task.StateCanceled)}, true)
	return e.tasks.ApplyEvent(task.Event{TaskID: taskID, State: task.StateCanceled})
}

func extractInput(parts []Part) map[string]any {
	for _, p := range parts {
		if p.Kind == "data" {
			if m, ok := p.Value.(map[string]any); ok {
				return m
			}
		}
	}
	return map[string]any{}
}

func toProviderHistory(history []agentctx.Message) []streamproc.Message {
	out := make([]streamproc.Message, len(history))
	for i, m := range history {
		out[i] = streamproc.Message{Role: m.Role, Parts: m.Parts}
	}
	return out
}
