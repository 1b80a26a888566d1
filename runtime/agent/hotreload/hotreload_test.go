package hotreload

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentnode/core/runtime/a2a"
	"github.com/agentnode/core/runtime/a2a/types"
	"github.com/agentnode/core/runtime/agent/agentctx"
	"github.com/agentnode/core/runtime/agent/eventbus"
	"github.com/agentnode/core/runtime/agent/executor"
	"github.com/agentnode/core/runtime/agent/streamproc"
	"github.com/agentnode/core/runtime/agent/task"
	"github.com/agentnode/core/runtime/agent/workflow"
)

type noopStream struct{ sent bool }

func (s *noopStream) Next(ctx context.Context) (streamproc.Delta, bool) {
	if s.sent {
		return streamproc.Delta{}, false
	}
	s.sent = true
	return streamproc.Delta{Kind: streamproc.DeltaFinish}, true
}
func (s *noopStream) Err() error { return nil }
func (s *noopStream) Close()     {}

type noopProvider struct{}

func (noopProvider) Stream(ctx context.Context, req streamproc.Request) (streamproc.DeltaStream, error) {
	return &noopStream{}, nil
}

func newHarness(applied *AIServiceConfig) (*Coordinator, *workflow.Runtime, *a2a.Server) {
	tasks := task.New()
	bus := eventbus.New()
	contexts := agentctx.New()
	wf := workflow.New(tasks, bus, nil, nil)
	proc := streamproc.New(tasks, bus, wf, noopProvider{}, nil, nil, nil)
	exec := executor.New(contexts, tasks, wf, proc, bus)
	server := a2a.New("/a2a", a2a.CardConfig{Name: "node"}, exec, tasks, bus, wf, nil)
	apply := func(c AIServiceConfig) {}
	if applied != nil {
		apply = func(c AIServiceConfig) { *applied = c }
	}
	coord := New(wf, server, apply, nil)
	return coord, wf, server
}

func TestApplyRegistersAddedPlugins(t *testing.T) {
	t.Parallel()

	coord, wf, _ := newHarness(nil)
	coord.Apply(Snapshot{
		Plugins: []PluginChange{{Add: &workflow.Plugin{ID: "p1"}}},
	})

	_, ok := wf.GetPlugin("p1")
	assert.True(t, ok)
}

func TestApplyUnregistersRemovedPlugins(t *testing.T) {
	t.Parallel()

	coord, wf, _ := newHarness(nil)
	require.NoError(t, wf.Register(&workflow.Plugin{ID: "p1"}))

	coord.Apply(Snapshot{Plugins: []PluginChange{{Remove: "p1"}}})

	_, ok := wf.GetPlugin("p1")
	assert.False(t, ok)
}

func TestApplyRebuildsCardWithWorkflowSkills(t *testing.T) {
	t.Parallel()

	coord, _, server := newHarness(nil)
	coord.Apply(Snapshot{
		Plugins: []PluginChange{{Add: &workflow.Plugin{ID: "billing.refund"}}},
		Card:    a2a.CardConfig{Name: "node", Skills: []types.Skill{{ID: "external.tool", Name: "external"}}},
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/.well-known/agent.json", nil)
	server.Handler().ServeHTTP(w, r)

	var card types.AgentCard
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &card))

	var ids []string
	for _, sk := range card.Skills {
		ids = append(ids, sk.ID)
	}
	assert.Contains(t, ids, "external.tool")
	assert.Contains(t, ids, workflow.PseudoToolName("billing.refund"))
}

func TestApplyForwardsAIServiceConfigBeforePluginChanges(t *testing.T) {
	t.Parallel()

	var applied AIServiceConfig
	coord, _, _ := newHarness(&applied)
	coord.Apply(Snapshot{AIService: AIServiceConfig{ModelID: "claude-sonnet-4-5", MaxOutputSteps: 10}})

	assert.Equal(t, "claude-sonnet-4-5", applied.ModelID)
	assert.Equal(t, 10, applied.MaxOutputSteps)
}
