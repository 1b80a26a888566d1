// Package hotreload implements the HotReloadCoordinator (spec component
// C8): applying a new configuration snapshot to the running system without
// disturbing in-flight tasks.
package hotreload

import (
	"github.com/agentnode/core/runtime/a2a"
	"github.com/agentnode/core/runtime/a2a/types"
	"github.com/agentnode/core/runtime/agent/telemetry"
	"github.com/agentnode/core/runtime/agent/workflow"
)

// AIServiceConfig captures the prompt and model parameters applied to new
// AI turns. The core treats ModelProvider as a black box; this struct only
// carries the pieces the coordinator can apply without reaching into it.
type AIServiceConfig struct {
	Prompt         string
	ModelID        string
	Temperature    float64
	MaxOutputSteps int
}

// PluginChange describes one addition, removal, or replacement to apply to
// the WorkflowRuntime's plugin table.
type PluginChange struct {
	Remove  string
	Add     *workflow.Plugin
	Replace *workflow.Plugin
}

// Snapshot is a complete configuration update (spec §4.8).
type Snapshot struct {
	AIService    AIServiceConfig
	Plugins      []PluginChange
	ExternalTool []types.Skill
	Card         a2a.CardConfig
}

// ApplyFunc lets the caller plug in how AIServiceConfig changes reach the
// StreamProcessor/ModelProvider, since those are supplied externally by
// cmd/agentnoded rather than owned by this package.
type ApplyFunc func(AIServiceConfig)

// Coordinator is the process-wide HotReloadCoordinator singleton (C8).
type Coordinator struct {
	workflows  *workflow.Runtime
	server     *a2a.Server
	applyAI    ApplyFunc
	log        telemetry.Logger
}

// New constructs a Coordinator.
func New(workflows *workflow.Runtime, server *a2a.Server, applyAI ApplyFunc, log telemetry.Logger) *Coordinator {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	if applyAI == nil {
		applyAI = func(AIServiceConfig) {}
	}
	return &Coordinator{workflows: workflows, server: server, applyAI: applyAI, log: log}
}

// Apply applies snap in the three-step order spec §4.8 requires: the AI
// service config first (affects only new turns), then the plugin table
// (affects only future dispatches; in-flight executions keep their captured
// plugin per workflow.Runtime.Replace), and finally the advertised card,
// which folds in the union of external and workflow pseudo-tools. Reload
// never cancels in-flight tasks and never mutates existing event history.
func (c *Coordinator) Apply(snap Snapshot) {
	c.applyAI(snap.AIService)

	for _, change := range snap.Plugins {
		switch {
		case change.Remove != "":
			c.workflows.Unregister(change.Remove)
		case change.Add != nil:
			_ = c.workflows.Register(change.Add)
		case change.Replace != nil:
			_ = c.workflows.Replace(change.Replace)
		}
	}

	skills := append([]types.Skill(nil), snap.Card.Skills...)
	skills = append(skills, snap.ExternalTool...)
	for _, name := range c.workflows.AvailableTools() {
		skills = append(skills, types.Skill{ID: name, Name: name})
	}
	card := snap.Card
	card.Skills = skills
	c.server.SetCard(card)
}
