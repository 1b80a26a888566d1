package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentnode/core/runtime/agent/agentctx"
	"github.com/agentnode/core/runtime/agent/coreerr"
	"github.com/agentnode/core/runtime/agent/eventbus"
	"github.com/agentnode/core/runtime/agent/streamproc"
	"github.com/agentnode/core/runtime/agent/task"
	"github.com/agentnode/core/runtime/agent/workflow"
)

type finishOnlyStream struct{ sent bool }

func (s *finishOnlyStream) Next(ctx context.Context) (streamproc.Delta, bool) {
	if s.sent {
		return streamproc.Delta{}, false
	}
	s.sent = true
	return streamproc.Delta{Kind: streamproc.DeltaFinish}, true
}
func (s *finishOnlyStream) Err() error { return nil }
func (s *finishOnlyStream) Close()     {}

type finishOnlyProvider struct{}

func (finishOnlyProvider) Stream(ctx context.Context, req streamproc.Request) (streamproc.DeltaStream, error) {
	return &finishOnlyStream{}, nil
}

func newTestExecutor() (*Executor, *task.Store, *agentctx.Manager, *workflow.Runtime) {
	tasks := task.New()
	bus := eventbus.New()
	contexts := agentctx.New()
	wf := workflow.New(tasks, bus, nil, nil)
	proc := streamproc.New(tasks, bus, wf, finishOnlyProvider{}, nil, nil, nil)
	return New(contexts, tasks, wf, proc, bus), tasks, contexts, wf
}

type blockingStream struct {
	unblock chan struct{}
}

func (s *blockingStream) Next(ctx context.Context) (streamproc.Delta, bool) {
	select {
	case <-s.unblock:
		return streamproc.Delta{}, false
	case <-ctx.Done():
		return streamproc.Delta{}, false
	}
}
func (s *blockingStream) Err() error { return nil }
func (s *blockingStream) Close()     {}

type blockingProvider struct{ unblock chan struct{} }

func (p blockingProvider) Stream(ctx context.Context, req streamproc.Request) (streamproc.DeltaStream, error) {
	return &blockingStream{unblock: p.unblock}, nil
}

func TestHandleWithoutContextIDCreatesNewContextAndTask(t *testing.T) {
	t.Parallel()

	e, tasks, _, _ := newTestExecutor()
	res, err := e.Handle(context.Background(), InboundMessage{
		MessageID: "m1",
		Parts:     []Part{{Kind: "text", Text: "hi"}},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Task)
	assert.Equal(t, task.KindAITurn, res.Task.Kind)

	require.Eventually(t, func() bool {
		got, _ := tasks.Get(res.Task.ID)
		return got.State == task.StateCompleted
	}, time.Second, 5*time.Millisecond)
}

func TestHandleUnknownContextIDIsInvalidRequest(t *testing.T) {
	t.Parallel()

	e, _, _, _ := newTestExecutor()
	_, err := e.Handle(context.Background(), InboundMessage{
		MessageID: "m1",
		ContextID: "does-not-exist",
		Parts:     []Part{{Kind: "text", Text: "hi"}},
	})
	require.Error(t, err)
	ce, ok := coreerr.As(err)
	require.True(t, ok)
	assert.Equal(t, coreerr.CodeInvalidRequest, ce.Code)
}

func TestHandleResumesInputRequiredWorkflowTask(t *testing.T) {
	t.Parallel()

	e, tasks, contexts, wf := newTestExecutor()
	agentCtx := contexts.Create()

	require.NoError(t, wf.Register(&workflow.Plugin{
		ID: "approval",
		Execute: func(wctx *workflow.Context, params map[string]any) {
			input, ok := wctx.Yield(workflow.Pause("need-approval", nil, "approve?"))
			if !ok {
				wctx.Yield(workflow.Fail(coreerr.Internal("canceled", nil)))
				return
			}
			wctx.Yield(workflow.Return(input))
		},
	}))

	wfTask, err := wf.Dispatch(context.Background(), workflow.DispatchRequest{PluginID: "approval", ContextID: agentCtx.ID})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, _ := tasks.Get(wfTask.ID)
		return got.State == task.StateInputRequired
	}, time.Second, 5*time.Millisecond)

	res, err := e.Handle(context.Background(), InboundMessage{
		MessageID: "m1",
		ContextID: agentCtx.ID,
		TaskID:    wfTask.ID,
		Parts:     []Part{{Kind: "data", Value: map[string]any{"approved": true}}},
	})
	require.NoError(t, err)
	assert.Equal(t, wfTask.ID, res.Task.ID)

	require.Eventually(t, func() bool {
		got, _ := tasks.Get(wfTask.ID)
		return got.State == task.StateCompleted
	}, time.Second, 5*time.Millisecond)
}

func TestHandleRoutingToCompletedWorkflowTaskIsRejected(t *testing.T) {
	t.Parallel()

	e, tasks, contexts, wf := newTestExecutor()
	agentCtx := contexts.Create()

	require.NoError(t, wf.Register(&workflow.Plugin{
		ID: "echo",
		Execute: func(wctx *workflow.Context, params map[string]any) {
			wctx.Yield(workflow.Return(nil))
		},
	}))
	wfTask, err := wf.Dispatch(context.Background(), workflow.DispatchRequest{PluginID: "echo", ContextID: agentCtx.ID})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, _ := tasks.Get(wfTask.ID)
		return got.State == task.StateCompleted
	}, time.Second, 5*time.Millisecond)

	_, err = e.Handle(context.Background(), InboundMessage{
		MessageID: "m1",
		ContextID: agentCtx.ID,
		TaskID:    wfTask.ID,
		Parts:     []Part{{Kind: "data", Value: map[string]any{}}},
	})
	require.Error(t, err)
}

func TestCancelAITurnTaskEmitsFinalCanceledEventAndAbortsRun(t *testing.T) {
	t.Parallel()

	tasks := task.New()
	bus := eventbus.New()
	contexts := agentctx.New()
	wf := workflow.New(tasks, bus, nil, nil)
	unblock := make(chan struct{})
	proc := streamproc.New(tasks, bus, wf, blockingProvider{unblock: unblock}, nil, nil, nil)
	e := New(contexts, tasks, wf, proc, bus)

	res, err := e.Handle(context.Background(), InboundMessage{
		MessageID: "m1",
		Parts:     []Part{{Kind: "text", Text: "hi"}},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, _ := tasks.Get(res.Task.ID)
		return got.State == task.StateWorking
	}, time.Second, 5*time.Millisecond)

	ch, unsubscribe := bus.Subscribe(res.Task.ID, 0)
	defer unsubscribe()

	require.NoError(t, e.Cancel(res.Task.ID))

	var sawFinalCanceled bool
	for rec := range ch {
		if rec.Final {
			m, ok := rec.Payload.(map[string]any)
			require.True(t, ok)
			assert.Equal(t, string(task.StateCanceled), m["state"])
			sawFinalCanceled = true
			break
		}
	}
	assert.True(t, sawFinalCanceled, "tasks/cancel must emit a final status-update{canceled} event")

	got, err := tasks.Get(res.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StateCanceled, got.State)
}

func TestCancelOnAlreadyTerminalTaskIsAlreadyTerminal(t *testing.T) {
	t.Parallel()

	e, tasks, _, _ := newTestExecutor()
	res, err := e.Handle(context.Background(), InboundMessage{
		MessageID: "m1",
		Parts:     []Part{{Kind: "text", Text: "hi"}},
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, _ := tasks.Get(res.Task.ID)
		return got.State == task.StateCompleted
	}, time.Second, 5*time.Millisecond)

	err = e.Cancel(res.Task.ID)
	require.Error(t, err)
	ce, ok := coreerr.As(err)
	require.True(t, ok)
	assert.Equal(t, coreerr.CodeAlreadyTerminal, ce.Code)
}

func TestHandleDuplicateMessageIDIsIdempotent(t *testing.T) {
	t.Parallel()

	e, tasks, contexts, wf := newTestExecutor()
	agentCtx := contexts.Create()

	require.NoError(t, wf.Register(&workflow.Plugin{
		ID: "approval",
		Execute: func(wctx *workflow.Context, params map[string]any) {
			if _, ok := wctx.Yield(workflow.Pause("x", nil, "")); !ok {
				return
			}
			wctx.Yield(workflow.Return(nil))
		},
	}))
	wfTask, err := wf.Dispatch(context.Background(), workflow.DispatchRequest{PluginID: "approval", ContextID: agentCtx.ID})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, _ := tasks.Get(wfTask.ID)
		return got.State == task.StateInputRequired
	}, time.Second, 5*time.Millisecond)

	msg := InboundMessage{MessageID: "dup-1", ContextID: agentCtx.ID, TaskID: wfTask.ID, Parts: []Part{{Kind: "data", Value: map[string]any{}}}}
	res1, err := e.Handle(context.Background(), msg)
	require.NoError(t, err)
	res2, err := e.Handle(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, res1.Task.ID, res2.Task.ID, "resubmitting the same messageId must not resume twice")
}
