// Package workflow implements the WorkflowRuntime (spec component C4): the
// registry of workflow plugins, the cooperative step loop that drives each
// execution, and the projection of plugin yields onto the event bus and
// task store.
//
// The step loop is grounded on runtime/agent/engine/inmem's pattern of
// spawning one goroutine per workflow and pumping values through channels
// rather than a callback-based state machine (see spec §9's discussion of
// "a goroutine/thread driven by send/receive channels").
package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentnode/core/runtime/agent/coreerr"
	"github.com/agentnode/core/runtime/agent/eventbus"
	"github.com/agentnode/core/runtime/agent/task"
	"github.com/agentnode/core/runtime/agent/telemetry"
)

// DefaultCancelGrace is the deadline after a cancel request before the
// runtime force-terminates an uncooperative execution (spec §4.4.1).
const DefaultCancelGrace = 5 * time.Second

type execution struct {
	id        string
	pluginID  string
	plugin    *Plugin // captured at dispatch; replace() never mutates this
	contextID string
	parentID  string

	stepMu sync.Mutex // serializes concurrent Resume calls

	wctx     *Context
	cancelCh chan struct{}
	canceled sync.Once
	done     chan struct{}

	mu          sync.Mutex
	state       task.State
	pauseSchema map[string]any // inputSchema of the pause currently awaiting resume
	artifacts   map[string]*Artifact
	lastErr     error
}

// Runtime is the process-wide WorkflowRuntime singleton (C4). All methods
// are safe for concurrent use.
type Runtime struct {
	mu          sync.RWMutex
	plugins     map[string]*Plugin
	executions  map[string]*execution
	tasks       *task.Store
	bus         *eventbus.Bus
	log         telemetry.Logger
	metrics     telemetry.Metrics
	cancelGrace time.Duration
}

// New constructs a Runtime backed by the given TaskStore and EventBus.
func New(tasks *task.Store, bus *eventbus.Bus, log telemetry.Logger, metrics telemetry.Metrics) *Runtime {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Runtime{
		plugins:     make(map[string]*Plugin),
		executions:  make(map[string]*execution),
		tasks:       tasks,
		bus:         bus,
		log:         log,
		metrics:     metrics,
		cancelGrace: DefaultCancelGrace,
	}
}

// Register adds plugin to the table, replacing any plugin already registered
// under the same ID. A nil plugin or an empty ID is rejected; the ID is not
// otherwise validated (PseudoToolName canonicalizes it for the LLM).
func (r *Runtime) Register(p *Plugin) error {
	if p == nil || p.ID == "" {
		return coreerr.InvalidRequest("plugin id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[p.ID] = p
	return nil
}

// Unregister removes a plugin from the table. In-flight executions that
// captured it at dispatch continue unaffected (spec §4.4.2).
func (r *Runtime) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.plugins, id)
}

// Replace swaps the registered plugin for p.ID. Only future dispatches
// observe the new implementation (spec §4.4.2, S6).
func (r *Runtime) Replace(p *Plugin) error {
	return r.Register(p)
}

// GetPlugin returns the currently registered plugin for id, if any.
func (r *Runtime) GetPlugin(id string) (*Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[id]
	return p, ok
}

// AvailableTools returns the dispatch_workflow_* pseudo-tool names for every
// currently registered plugin (spec §4.4.2).
func (r *Runtime) AvailableTools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.plugins))
	for id := range r.plugins {
		out = append(out, PseudoToolName(id))
	}
	return out
}

// PluginIDForTool reverses PseudoToolName by looking up the registered
// plugin whose canonical pseudo-tool name matches toolName exactly, since
// canonicalization is lossy and cannot be inverted in general.
func (r *Runtime) PluginIDForTool(toolName string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id := range r.plugins {
		if PseudoToolName(id) == toolName {
			return id, true
		}
	}
	return "", false
}

// DispatchRequest carries the parameters for starting a new execution.
type DispatchRequest struct {
	PluginID     string
	ContextID    string
	Parameters   map[string]any
	ParentTaskID string
}

// Dispatch validates parameters against the plugin's inputSchema, allocates
// a task, publishes task-created and status-update{submitted}, and starts
// the execution's step loop (spec §4.4.2).
func (r *Runtime) Dispatch(ctx context.Context, req DispatchRequest) (*task.Task, error) {
	r.mu.RLock()
	plugin, ok := r.plugins[req.PluginID]
	r.mu.RUnlock()
	if !ok {
		return nil, coreerr.New(coreerr.KindValidation, coreerr.CodePluginNotFound, "unknown plugin "+req.PluginID)
	}
	if err := validateAgainstSchema(plugin.InputSchema, req.Parameters); err != nil {
		return nil, coreerr.InvalidInput(err.Error())
	}

	t := r.tasks.Create(task.KindWorkflow, req.ContextID, req.ParentTaskID)
	if _, err := r.bus.Publish(t.ID, eventbus.KindTaskCreated, t, false); err != nil {
		return nil, err
	}
	if _, err := r.bus.Publish(t.ID, eventbus.KindStatusUpdate, statusPayload(task.StateSubmitted, ""), false); err != nil {
		return nil, err
	}
	_ = r.tasks.ApplyEvent(task.Event{TaskID: t.ID, State: task.StateSubmitted})

	exec := &execution{
		id:        t.ID,
		pluginID:  req.PluginID,
		plugin:    plugin,
		contextID: req.ContextID,
		parentID:  req.ParentTaskID,
		cancelCh:  make(chan struct{}),
		done:      make(chan struct{}),
		state:     task.StateSubmitted,
		artifacts: make(map[string]*Artifact),
	}
	exec.wctx = newContext(ctx, exec.cancelCh)

	r.mu.Lock()
	r.executions[t.ID] = exec
	r.mu.Unlock()

	go r.runPlugin(exec, req.Parameters)
	go r.stepLoop(exec)

	r.metrics.IncCounter("workflow.dispatched", 1, "plugin", req.PluginID)
	return t, nil
}

func (r *Runtime) runPlugin(exec *execution, params map[string]any) {
	defer close(exec.wctx.yieldCh)
	exec.plugin.Execute(exec.wctx, params)
}

// stepLoop is the single consumer of exec's yield channel, which is what
// makes "at most one step in progress" hold: the plugin goroutine cannot
// send a second yield until this loop has received the first.
func (r *Runtime) stepLoop(exec *execution) {
	defer close(exec.done)
	for y := range exec.wctx.yieldCh {
		if r.projectYield(exec, y) {
			return
		}
	}
	// Channel closed without a terminal yield. After a cancel request that is
	// the plugin honoring it; otherwise treat it as a plugin bug.
	select {
	case <-exec.cancelCh:
		exec.setState(task.StateCanceled)
		_, _ = r.bus.Publish(exec.id, eventbus.KindStatusUpdate, statusPayload(task.StateCanceled, ""), true)
		_ = r.tasks.ApplyEvent(task.Event{TaskID: exec.id, State: task.StateCanceled})
	default:
		r.fail(exec, coreerr.New(coreerr.KindPlugin, coreerr.CodePluginError, "workflow exited without return/fail"))
	}
}

// projectYield applies the event-mapping table from spec §4.4.3. It returns
// true once a terminal yield has been projected.
func (r *Runtime) projectYield(exec *execution, y Yield) bool {
	switch y.Kind {
	case YieldStatus:
		exec.setState(task.StateWorking)
		_, _ = r.bus.Publish(exec.id, eventbus.KindStatusUpdate, statusPayload(task.StateWorking, y.WorkingMessage), false)
		_ = r.tasks.ApplyEvent(task.Event{TaskID: exec.id, State: task.StateWorking})
		return false

	case YieldProgress:
		exec.setState(task.StateWorking)
		payload := statusPayload(task.StateWorking, "")
		payload["metadata"] = map[string]any{"progress": progressFraction(y.Current, y.Total)}
		_, _ = r.bus.Publish(exec.id, eventbus.KindStatusUpdate, payload, false)
		_ = r.tasks.ApplyEvent(task.Event{TaskID: exec.id, State: task.StateWorking})
		return false

	case YieldArtifact:
		exec.mergeArtifact(y)
		_, _ = r.bus.Publish(exec.id, eventbus.KindArtifactUpdate, artifactPayload(y), false)
		_ = r.tasks.ApplyEvent(task.Event{TaskID: exec.id})
		return false

	case YieldDispatchResponse:
		_, _ = r.bus.Publish(exec.id, eventbus.KindMessage, map[string]any{"role": "agent", "parts": y.Parts}, false)
		_ = r.tasks.ApplyEvent(task.Event{TaskID: exec.id})
		return false

	case YieldPause:
		exec.setState(task.StateInputRequired)
		pi := &task.PauseInfo{Reason: y.Reason, InputSchema: y.InputSchema, Message: y.Message}
		exec.mu.Lock()
		exec.pauseSchema = y.InputSchema
		exec.mu.Unlock()
		payload := statusPayload(task.StateInputRequired, y.Message)
		payload["inputSchema"] = y.InputSchema
		_, _ = r.bus.Publish(exec.id, eventbus.KindStatusUpdate, payload, false)
		_ = r.tasks.ApplyEvent(task.Event{TaskID: exec.id, State: task.StateInputRequired, Pause: pi})
		return false

	case YieldReturn:
		exec.setState(task.StateCompleted)
		payload := statusPayload(task.StateCompleted, "")
		payload["result"] = y.Result
		_, _ = r.bus.Publish(exec.id, eventbus.KindStatusUpdate, payload, true)
		_ = r.tasks.ApplyEvent(task.Event{TaskID: exec.id, State: task.StateCompleted})
		r.metrics.IncCounter("workflow.completed", 1, "plugin", exec.pluginID)
		return true

	case YieldFail:
		r.fail(exec, y.Err)
		return true
	}
	return false
}

func (r *Runtime) fail(exec *execution, err error) {
	exec.setState(task.StateFailed)
	exec.mu.Lock()
	exec.lastErr = err
	exec.mu.Unlock()
	payload := statusPayload(task.StateFailed, "")
	payload["error"] = err.Error()
	_, _ = r.bus.Publish(exec.id, eventbus.KindStatusUpdate, payload, true)
	_ = r.tasks.ApplyEvent(task.Event{TaskID: exec.id, State: task.StateFailed, Error: err})
	r.metrics.IncCounter("workflow.failed", 1, "plugin", exec.pluginID)
}

// ResumeResult reports the outcome of a resume call.
type ResumeResult struct {
	Accepted bool
}

// Resume validates input against the paused execution's declared schema and,
// if valid, feeds it to the blocked plugin goroutine as the pause yield's
// result. Invalid input reports InvalidInput without terminating the
// execution (spec §4.4.1).
func (r *Runtime) Resume(executionID string, input map[string]any) (ResumeResult, error) {
	r.mu.RLock()
	exec, ok := r.executions[executionID]
	r.mu.RUnlock()
	if !ok {
		return ResumeResult{}, coreerr.NotFound(executionID)
	}

	exec.stepMu.Lock()
	defer exec.stepMu.Unlock()

	exec.mu.Lock()
	state := exec.state
	schema := exec.pauseSchema
	exec.mu.Unlock()

	if state.Terminal() {
		return ResumeResult{}, coreerr.TaskTerminal(executionID)
	}
	if state != task.StateInputRequired {
		return ResumeResult{}, coreerr.InvalidState("execution is not awaiting input")
	}
	if err := validateAgainstSchema(schema, input); err != nil {
		return ResumeResult{}, coreerr.InvalidInput(err.Error())
	}

	select {
	case exec.wctx.resumeCh <- input:
		return ResumeResult{Accepted: true}, nil
	case <-exec.cancelCh:
		return ResumeResult{}, coreerr.TaskTerminal(executionID)
	case <-exec.done:
		return ResumeResult{}, coreerr.TaskTerminal(executionID)
	}
}

// Cancel signals the execution's cancellation channel and, if the plugin has
// not exited within the configured cancel grace, force-terminates it with a
// canceled status regardless of cooperation (spec §4.4.1).
func (r *Runtime) Cancel(executionID string) error {
	r.mu.RLock()
	exec, ok := r.executions[executionID]
	r.mu.RUnlock()
	if !ok {
		return coreerr.NotFound(executionID)
	}

	exec.mu.Lock()
	alreadyTerminal := exec.state.Terminal()
	exec.mu.Unlock()
	if alreadyTerminal {
		return nil
	}

	exec.canceled.Do(func() { close(exec.cancelCh) })

	select {
	case <-exec.done:
		return nil
	case <-time.After(r.cancelGrace):
	}

	exec.mu.Lock()
	stillRunning := !exec.state.Terminal()
	exec.mu.Unlock()
	if stillRunning {
		exec.setState(task.StateCanceled)
		_, _ = r.bus.Publish(executionID, eventbus.KindStatusUpdate, statusPayload(task.StateCanceled, ""), true)
		_ = r.tasks.ApplyEvent(task.Event{TaskID: executionID, State: task.StateCanceled})
	}
	return nil
}

// GetArtifact returns a copy of the named artifact from a task's accumulated
// set, or NotFound if the task or artifact id is unknown.
func (r *Runtime) GetArtifact(taskID, artifactID string) (*Artifact, error) {
	r.mu.RLock()
	exec, ok := r.executions[taskID]
	r.mu.RUnlock()
	if !ok {
		return nil, coreerr.NotFound(taskID)
	}
	exec.mu.Lock()
	defer exec.mu.Unlock()
	a, ok := exec.artifacts[artifactID]
	if !ok {
		return nil, coreerr.NotFound(artifactID)
	}
	cp := *a
	cp.Parts = append([]any(nil), a.Parts...)
	return &cp, nil
}

func (e *execution) setState(s task.State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *execution) mergeArtifact(y Yield) {
	e.mu.Lock()
	defer e.mu.Unlock()
	existing, ok := e.artifacts[y.Artifact.ArtifactID]
	if !ok || !y.Append {
		a := y.Artifact
		a.Sequence = 1
		if ok {
			a.Sequence = existing.Sequence + 1
		}
		cp := a
		cp.Parts = append([]any(nil), a.Parts...)
		e.artifacts[y.Artifact.ArtifactID] = &cp
		return
	}
	existing.Sequence++
	if y.Index != nil && *y.Index < len(existing.Parts) && len(y.Artifact.Parts) > 0 {
		// append=true with index=i: extend the ith existing part in place
		// (spec §4.4.3), rather than inserting a new sibling part next to it.
		existing.Parts[*y.Index] = mergePart(existing.Parts[*y.Index], y.Artifact.Parts[0])
	} else {
		existing.Parts = append(existing.Parts, y.Artifact.Parts...)
	}
}

// mergePart extends existing with incoming for the streamed-text case (spec
// §4.4.3): both sides are the wire Part shape (map[string]any with a "kind"
// discriminator); a "text" part's "text" field is concatenated in place. Any
// other combination of kinds falls back to replacing existing wholesale,
// since there is no general-purpose merge for non-text parts.
func mergePart(existing, incoming any) any {
	ep, eok := existing.(map[string]any)
	ip, iok := incoming.(map[string]any)
	if !eok || !iok || ep["kind"] != "text" || ip["kind"] != "text" {
		return incoming
	}
	etext, _ := ep["text"].(string)
	itext, _ := ip["text"].(string)
	return map[string]any{"kind": "text", "text": etext + itext}
}

func statusPayload(state task.State, message string) map[string]any {
	p := map[string]any{"state": string(state)}
	if message != "" {
		p["message"] = message
	}
	return p
}

func artifactPayload(y Yield) map[string]any {
	p := map[string]any{
		"artifactId": y.Artifact.ArtifactID,
		"name":       y.Artifact.Name,
		"mimeType":   y.Artifact.MimeType,
		"parts":      y.Artifact.Parts,
		"append":     y.Append,
		"lastChunk":  y.LastChunk,
	}
	if b := y.Artifact.Bounds; b != nil {
		bp := map[string]any{"returned": b.Returned, "truncated": b.Truncated}
		if b.Total != nil {
			bp["total"] = *b.Total
		}
		if b.RefinementHint != "" {
			bp["refinementHint"] = b.RefinementHint
		}
		p["bounds"] = bp
	}
	return p
}

func progressFraction(current, total int) string {
	if total == 0 {
		return "0/0"
	}
	return itoa(current) + "/" + itoa(total)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func validateAgainstSchema(schema map[string]any, instance map[string]any) error {
	if schema == nil {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	const resourceID = "urn:agentnode:workflow-input"
	if err := compiler.AddResource(resourceID, schema); err != nil {
		return err
	}
	compiled, err := compiler.Compile(resourceID)
	if err != nil {
		return err
	}
	return compiled.Validate(instance)
}
