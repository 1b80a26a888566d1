// Package streamproc implements the StreamProcessor (spec component C5): it
// drives exactly one AI turn, forwarding provider text to the task's event
// bus and intercepting dispatch_workflow_* tool calls so they spawn a child
// workflow task instead of being executed as an ordinary tool call.
//
// Grounded on runtime/agent/stream's Sink/Event fan-out idiom (a delta
// consumption loop translating provider events into a small set of tagged
// bus events) and on runtime/agent/runtime's turn loop shape, generalized to
// this spec's narrower event-mapping table (spec §4.5).
package streamproc

import (
	"context"
	"time"

	"github.com/agentnode/core/runtime/agent/coreerr"
	"github.com/agentnode/core/runtime/agent/eventbus"
	"github.com/agentnode/core/runtime/agent/task"
	"github.com/agentnode/core/runtime/agent/telemetry"
	"github.com/agentnode/core/runtime/agent/workflow"
)

// DefaultMaxSteps bounds the number of tool-call rounds per AI turn (spec
// §4.5).
const DefaultMaxSteps = 20

// DefaultWallClock bounds a full agent request (spec §5).
const DefaultWallClock = 300 * time.Second

// Processor drives AI turns for tasks (C5). It is stateless between turns;
// all per-task bookkeeping lives in the TaskStore and EventBus it is
// constructed with.
type Processor struct {
	tasks     *task.Store
	bus       *eventbus.Bus
	workflows *workflow.Runtime
	provider  ModelProvider
	invoker   ToolInvoker
	log       telemetry.Logger
	metrics   telemetry.Metrics
	maxSteps  int
	wallClock time.Duration
}

// New constructs a Processor.
func New(tasks *task.Store, bus *eventbus.Bus, workflows *workflow.Runtime, provider ModelProvider, invoker ToolInvoker, log telemetry.Logger, metrics telemetry.Metrics) *Processor {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Processor{
		tasks:     tasks,
		bus:       bus,
		workflows: workflows,
		provider:  provider,
		invoker:   invoker,
		log:       log,
		metrics:   metrics,
		maxSteps:  DefaultMaxSteps,
		wallClock: DefaultWallClock,
	}
}

// Run drives taskID through a complete AI turn: open a provider stream with
// the external tool catalog unioned with workflow pseudo-tools, forward text
// deltas, intercept workflow dispatches, invoke external tools, and publish
// a terminal status-update once the provider finishes, fails, or the turn is
// canceled (spec §4.5).
func (p *Processor) Run(ctx context.Context, taskID string, history []Message, externalTools []ToolDescriptor) {
	ctx, cancel := context.WithTimeout(ctx, p.wallClock)
	defer cancel()

	p.publishWorking(taskID)

	tools := append(append([]ToolDescriptor(nil), externalTools...), p.workflowTools()...)
	req := Request{History: history, Tools: tools}

	stream, err := p.provider.Stream(ctx, req)
	if err != nil {
		p.fail(taskID, coreerr.Wrap(coreerr.KindTransient, coreerr.CodeInternal, "provider stream open failed", err))
		return
	}
	defer stream.Close()

	steps := 0
	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				p.fail(taskID, coreerr.Timeout("agent request wall-clock exceeded"))
			} else {
				p.cancelTerminal(taskID)
			}
			return
		default:
		}

		delta, ok := stream.Next(ctx)
		if !ok {
			switch ctx.Err() {
			case context.DeadlineExceeded:
				p.fail(taskID, coreerr.Timeout("agent request wall-clock exceeded"))
			case context.Canceled:
				p.cancelTerminal(taskID)
			default:
				if err := stream.Err(); err != nil {
					p.fail(taskID, coreerr.Wrap(coreerr.KindTransient, coreerr.CodeInternal, "provider stream error", err))
					return
				}
				p.complete(taskID, Message{})
			}
			return
		}

		switch delta.Kind {
		case DeltaText:
			_, _ = p.bus.Publish(taskID, eventbus.KindTextDelta, map[string]any{"text": delta.Text}, false)

		case DeltaToolCall:
			steps++
			if steps > p.maxSteps {
				p.fail(taskID, coreerr.New(coreerr.KindInternal, coreerr.CodeStepLimitExceeded, "maxSteps exceeded"))
				return
			}
			if workflow.IsPseudoTool(delta.ToolName) {
				p.dispatchWorkflow(ctx, taskID, delta)
				continue
			}
			p.invokeExternalTool(ctx, taskID, delta)

		case DeltaFinish:
			p.complete(taskID, delta.FinishMessage)
			return
		}
	}
}

func (p *Processor) workflowTools() []ToolDescriptor {
	names := p.workflows.AvailableTools()
	out := make([]ToolDescriptor, 0, len(names))
	for _, n := range names {
		out = append(out, ToolDescriptor{Name: n})
	}
	return out
}

func (p *Processor) dispatchWorkflow(ctx context.Context, taskID string, delta Delta) {
	t, err := p.tasks.Get(taskID)
	if err != nil {
		return
	}
	pluginID, ok := p.workflows.PluginIDForTool(delta.ToolName)
	if !ok {
		p.log.Warn(ctx, "dispatch_workflow_* tool call for unknown plugin", "tool", delta.ToolName)
		return
	}
	child, err := p.workflows.Dispatch(ctx, workflow.DispatchRequest{
		PluginID:     pluginID,
		ContextID:    t.ContextID,
		Parameters:   delta.ToolArgs,
		ParentTaskID: taskID,
	})
	if err != nil {
		p.log.Warn(ctx, "workflow dispatch failed", "plugin", pluginID, "err", err)
		return
	}
	_, _ = p.bus.Publish(taskID, eventbus.KindStatusUpdate, map[string]any{
		"state":          string(task.StateWorking),
		"referenceTaskIds": []string{child.ID},
	}, false)
	_ = p.tasks.ApplyEvent(task.Event{TaskID: taskID, RefTask: child.ID})
}

func (p *Processor) invokeExternalTool(ctx context.Context, taskID string, delta Delta) {
	if p.invoker == nil {
		return
	}
	if _, err := p.invoker.Invoke(ctx, delta.ToolName, delta.ToolArgs); err != nil {
		p.log.Warn(ctx, "external tool invocation failed", "tool", delta.ToolName, "err", err)
	}
	// The result is discarded: nothing feeds it back into the model stream,
	// and the turn continues with whatever deltas the provider emits next.
}

func (p *Processor) publishWorking(taskID string) {
	_, _ = p.bus.Publish(taskID, eventbus.KindStatusUpdate, map[string]any{"state": string(task.StateWorking)}, false)
	_ = p.tasks.ApplyEvent(task.Event{TaskID: taskID, State: task.StateWorking})
}

func (p *Processor) complete(taskID string, _ Message) {
	_, _ = p.bus.Publish(taskID, eventbus.KindStatusUpdate, map[string]any{"state": string(task.StateCompleted)}, true)
	_ = p.tasks.ApplyEvent(task.Event{TaskID: taskID, State: task.StateCompleted})
	p.metrics.IncCounter("turn.completed", 1)
}

func (p *Processor) fail(taskID string, err error) {
	_, _ = p.bus.Publish(taskID, eventbus.KindStatusUpdate, map[string]any{"state": string(task.StateFailed), "error": err.Error()}, true)
	_ = p.tasks.ApplyEvent(task.Event{TaskID: taskID, State: task.StateFailed, Error: err})
	p.metrics.IncCounter("turn.failed", 1)
}

func (p *Processor) cancelTerminal(taskID string) {
	_, _ = p.bus.Publish(taskID, eventbus.KindStatusUpdate, map[string]any{"state": string(task.StateCanceled)}, true)
	_ = p.tasks.ApplyEvent(task.Event{TaskID: taskID, State: task.StateCanceled})
}
