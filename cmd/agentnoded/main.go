// Command agentnoded boots one agent node: the A2A HTTP/SSE surface, the
// task/context/workflow runtime, and a StreamProcessor driven by the
// Anthropic reference ModelProvider. It is the runnable analogue of the
// teacher's cmd/demo, rewired from a single-agent Temporal-backed runtime
// onto this package's task/eventbus/workflow/streamproc stack.
package main

import (
	"context"
	"errors"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentnode/core/modelprovider/anthropic"
	"github.com/agentnode/core/runtime/a2a"
	"github.com/agentnode/core/runtime/a2a/types"
	"github.com/agentnode/core/runtime/agent/agentctx"
	"github.com/agentnode/core/runtime/agent/eventbus"
	"github.com/agentnode/core/runtime/agent/eventbus/pulsefanout"
	"github.com/agentnode/core/runtime/agent/executor"
	"github.com/agentnode/core/runtime/agent/hotreload"
	"github.com/agentnode/core/runtime/agent/streamproc"
	"github.com/agentnode/core/runtime/agent/task"
	"github.com/agentnode/core/runtime/agent/telemetry"
	"github.com/agentnode/core/runtime/agent/workflow"
	"github.com/agentnode/core/toolinvoker/inproc"
)

func main() {
	log := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()

	tasks := task.New()
	bus := eventbus.New()
	if err := wireFanout(bus, log); err != nil {
		stdlog.Fatalf("pulse fanout: %v", err)
	}
	contexts := agentctx.New()
	workflows := workflow.New(tasks, bus, log, metrics)

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		stdlog.Fatal("ANTHROPIC_API_KEY is required")
	}
	provider, err := anthropic.NewFromAPIKey(apiKey, anthropic.Options{
		Model:       envOr("AGENTNODE_MODEL", "claude-sonnet-4-5"),
		MaxTokens:   4096,
		Temperature: 1,
	})
	if err != nil {
		stdlog.Fatalf("anthropic client: %v", err)
	}

	tools := inproc.New()
	registerDemoTools(tools)

	processor := streamproc.New(tasks, bus, workflows, provider, tools, log, metrics)
	exec := executor.New(contexts, tasks, workflows, processor, bus)

	card := a2a.CardConfig{
		Name:               "agentnode",
		Description:        "Conversational agent node exposing the A2A protocol.",
		Version:             "0.1.0",
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
		Skills:             []types.Skill{},
	}
	server := a2a.New("/a2a", card, exec, tasks, bus, workflows, log)

	coordinator := hotreload.New(workflows, server, nil, log)
	_ = coordinator // reserved for future config-reload triggers (e.g. SIGHUP)

	idleCtx, cancelIdle := context.WithCancel(context.Background())
	defer cancelIdle()
	go sweepIdleContexts(idleCtx, contexts, tasks)

	addr := envOr("AGENTNODE_ADDR", ":8080")
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE streams are long-lived
	}

	bgCtx := context.Background()
	go func() {
		log.Info(bgCtx, "agentnode listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			stdlog.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, cancel := context.WithTimeout(bgCtx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error(bgCtx, "shutdown", "error", err)
	}
}

// sweepIdleContexts evicts conversation contexts whose tasks have all gone
// terminal and which have seen no activity for the idle TTL (spec §4.3).
func sweepIdleContexts(ctx context.Context, contexts *agentctx.Manager, tasks *task.Store) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	isTerminal := func(taskID string) bool {
		t, err := tasks.Get(taskID)
		if err != nil {
			return true
		}
		return t.State.Terminal()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			contexts.SweepIdle(now, isTerminal)
		}
	}
}

// registerDemoTools wires a tiny example external tool so the node has
// something to call beyond workflow dispatch out of the box.
func registerDemoTools(tools *inproc.Registry) {
	_ = tools.Register("agentnode__echo", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{"echo": args}, nil
	})
}

// wireFanout installs a Redis-backed pulsefanout.Sink on bus when
// AGENTNODE_REDIS_ADDR is set, so task event streams are also observable
// outside this process. It is a no-op (and returns no error) otherwise:
// distributed fanout is an optional deployment, not a requirement of the
// EventBus itself.
func wireFanout(bus *eventbus.Bus, log telemetry.Logger) error {
	addr := os.Getenv("AGENTNODE_REDIS_ADDR")
	if addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	sink, err := pulsefanout.New(pulsefanout.Options{Streamer: pulsefanout.NewRedisStreamer(rdb, 0)})
	if err != nil {
		return err
	}
	bus.SetFanout(sink)
	log.Info(context.Background(), "eventbus fanout to pulse enabled", "redis_addr", addr)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
