// Package a2a implements the A2AServer (spec component C7): the HTTP
// JSON-RPC + SSE surface translating message/send, message/stream,
// tasks/resubscribe, tasks/get, and tasks/cancel onto the core's C1–C6.
//
// Grounded on the teacher's runtime/a2a.Server (a thin dispatcher wrapping
// an agentruntime.Client plus a TaskStore for cancellation), generalized to
// the fuller JSON-RPC method set and SSE framing spec §4.7 requires.
package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/agentnode/core/runtime/a2a/types"
	"github.com/agentnode/core/runtime/agent/coreerr"
	"github.com/agentnode/core/runtime/agent/eventbus"
	"github.com/agentnode/core/runtime/agent/executor"
	"github.com/agentnode/core/runtime/agent/task"
	"github.com/agentnode/core/runtime/agent/telemetry"
	"github.com/agentnode/core/runtime/agent/workflow"
)

// CardConfig is the static configuration used to compose the agent card
// (spec §6). It is supplied once at server construction and never mutated
// in place; HotReloadCoordinator replaces it wholesale via SetCard.
type CardConfig struct {
	Name               string
	Description        string
	Version            string
	DefaultInputModes  []string
	DefaultOutputModes []string
	Skills             []types.Skill
}

// Server is the process-wide A2AServer singleton (C7).
type Server struct {
	path      string
	card      CardConfig
	exec      *executor.Executor
	tasks     *task.Store
	bus       *eventbus.Bus
	workflows *workflow.Runtime
	log       telemetry.Logger
}

// New constructs a Server. path is the JSON-RPC POST endpoint (default
// "/a2a" per spec §4.7).
func New(path string, card CardConfig, exec *executor.Executor, tasks *task.Store, bus *eventbus.Bus, workflows *workflow.Runtime, log telemetry.Logger) *Server {
	if path == "" {
		path = "/a2a"
	}
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Server{path: path, card: card, exec: exec, tasks: tasks, bus: bus, workflows: workflows, log: log}
}

// SetCard atomically replaces the agent card configuration (used by
// HotReloadCoordinator step 3, spec §4.8).
func (s *Server) SetCard(card CardConfig) { s.card = card }

// Handler returns an http.Handler serving the full A2A surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleRPC)
	mux.HandleFunc("/.well-known/agent.json", s.handleAgentCard)
	mux.HandleFunc("/.well-known/agent-card.json", s.handleAgentCard)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc(s.path+"/tasks/", s.handleArtifact)
	return mux
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req types.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, nil, coreerr.RPCCode(coreerr.CodeInvalidRequest), "malformed JSON-RPC request", nil)
		return
	}

	switch req.Method {
	case "message/send":
		s.handleMessageSend(w, r.Context(), req)
	case "message/stream":
		s.handleMessageStream(w, r, req)
	case "tasks/resubscribe":
		s.handleResubscribe(w, r, req)
	case "tasks/get":
		s.handleTasksGet(w, req)
	case "tasks/cancel":
		s.handleTasksCancel(w, req)
	default:
		writeError(w, req.ID, coreerr.RPCMethodNotFound, "unknown method "+req.Method, nil)
	}
}

// handleMessageSend routes the message and blocks until the resulting task
// reaches a terminal state, returning the final Task record (spec §4.7:
// "awaits a terminal event").
func (s *Server) handleMessageSend(w http.ResponseWriter, ctx context.Context, req types.Request) {
	in, err := s.decodeInbound(req)
	if err != nil {
		writeAppError(w, req.ID, err)
		return
	}

	result, err := s.exec.Handle(ctx, in)
	if err != nil {
		writeAppError(w, req.ID, err)
		return
	}

	ch, unsubscribe := s.bus.Subscribe(result.Task.ID, 0)
	defer unsubscribe()
	for rec := range ch {
		if rec.Final {
			break
		}
	}
	final, err := s.tasks.Get(result.Task.ID)
	if err != nil {
		writeAppError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, renderTask(final))
}

// handleMessageStream routes the message and streams every event on the
// resulting task over SSE, closing on final=true (spec §4.7).
func (s *Server) handleMessageStream(w http.ResponseWriter, r *http.Request, req types.Request) {
	in, err := s.decodeInbound(req)
	if err != nil {
		writeAppError(w, req.ID, err)
		return
	}
	result, err := s.exec.Handle(r.Context(), in)
	if err != nil {
		writeAppError(w, req.ID, err)
		return
	}
	s.streamTask(w, r, req.ID, result.Task.ID, 0)
}

// handleResubscribe subscribes to an existing task from seq=0, replaying the
// retained snapshot before tailing live events (spec §4.7).
func (s *Server) handleResubscribe(w http.ResponseWriter, r *http.Request, req types.Request) {
	var params types.ResubscribeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeError(w, req.ID, coreerr.RPCInvalidParams, "malformed params", nil)
		return
	}
	if _, err := s.tasks.Get(params.ID); err != nil {
		writeAppError(w, req.ID, err)
		return
	}
	s.streamTask(w, r, req.ID, params.ID, 0)
}

func (s *Server) streamTask(w http.ResponseWriter, r *http.Request, reqID json.RawMessage, taskID string, fromSeq uint64) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, reqID, coreerr.RPCInternal, "streaming unsupported by transport", nil)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch, unsubscribe := s.bus.Subscribe(taskID, fromSeq)
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case rec, ok := <-ch:
			if !ok {
				return
			}
			frame := types.Response{JSONRPC: "2.0", ID: reqID, Result: renderEvent(rec)}
			data, _ := json.Marshal(frame)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
			if rec.Final {
				return
			}
		}
	}
}

func (s *Server) handleTasksGet(w http.ResponseWriter, req types.Request) {
	var params types.GetTaskParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeError(w, req.ID, coreerr.RPCInvalidParams, "malformed params", nil)
		return
	}
	t, err := s.tasks.Get(params.ID)
	if err != nil {
		writeAppError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, renderTask(t))
}

func (s *Server) handleTasksCancel(w http.ResponseWriter, req types.Request) {
	var params types.CancelTaskParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeError(w, req.ID, coreerr.RPCInvalidParams, "malformed params", nil)
		return
	}
	if err := s.exec.Cancel(params.ID); err != nil {
		writeAppError(w, req.ID, err)
		return
	}
	t, err := s.tasks.Get(params.ID)
	if err != nil {
		writeAppError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, renderTask(t))
}

func (s *Server) decodeInbound(req types.Request) (executor.InboundMessage, error) {
	var params types.SendMessageParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Message == nil {
		return executor.InboundMessage{}, coreerr.InvalidRequest("malformed message/send params")
	}
	parts := make([]executor.Part, len(params.Message.Parts))
	for i, p := range params.Message.Parts {
		ep := executor.Part{Kind: p.Kind, Text: p.Text, MimeType: p.MimeType, URL: p.URL, Name: p.Name}
		if len(p.Data) > 0 {
			var v any
			_ = json.Unmarshal(p.Data, &v)
			ep.Value = v
		}
		parts[i] = ep
	}
	return executor.InboundMessage{
		MessageID: params.Message.MessageID,
		ContextID: params.Message.ContextID,
		TaskID:    params.Message.TaskID,
		Parts:     parts,
	}, nil
}

// handleArtifact serves GET <path>/tasks/{taskId}/artifacts/{artifactId}
// (spec §4.7).
func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	trimmed := strings.TrimPrefix(r.URL.Path, s.path+"/tasks/")
	segs := strings.Split(trimmed, "/")
	if len(segs) != 3 || segs[1] != "artifacts" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	taskID, artifactID := segs[0], segs[2]
	a, err := s.workflows.GetArtifact(taskID, artifactID)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(a)
}

// handleAgentCard serves .well-known/agent.json and agent-card.json,
// rewriting url from the actual request per spec §4.7: x-forwarded-proto
// takes precedence over the request's own scheme, x-forwarded-host over
// Host, and x-forwarded-prefix is prepended to the server's a2a path.
func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	card := types.AgentCard{
		ProtocolVersion:    "0.3.0",
		Name:               s.card.Name,
		Description:        s.card.Description,
		URL:                resolvePublicURL(r, s.path),
		Version:            s.card.Version,
		Capabilities:       types.Capabilities{Streaming: true, PushNotifications: false},
		DefaultInputModes:  s.card.DefaultInputModes,
		DefaultOutputModes: s.card.DefaultOutputModes,
		Skills:             s.card.Skills,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(card)
}

func resolvePublicURL(r *http.Request, path string) string {
	proto := r.Header.Get("x-forwarded-proto")
	if proto == "" {
		if r.TLS != nil {
			proto = "https"
		} else {
			proto = "http"
		}
	}
	host := r.Header.Get("x-forwarded-host")
	if host == "" {
		host = r.Host
	}
	prefix := r.Header.Get("x-forwarded-prefix")
	return proto + "://" + host + prefix + path
}

func renderTask(t *task.Task) *types.Task {
	out := &types.Task{
		ID:             t.ID,
		ContextID:      t.ContextID,
		Kind:           string(t.Kind),
		ParentTaskID:   t.ParentTaskID,
		State:          string(t.State),
		CreatedAt:      t.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:      t.UpdatedAt.Format(time.RFC3339Nano),
		Metadata:       t.Metadata,
		ReferenceTasks: t.ReferenceTasks,
	}
	if t.PauseInfo != nil {
		out.PauseInfo = &types.PauseInfo{
			Reason:      t.PauseInfo.Reason,
			InputSchema: t.PauseInfo.InputSchema,
			Message:     t.PauseInfo.Message,
		}
	}
	return out
}

func renderEvent(rec eventbus.Record) *types.TaskEvent {
	evt := &types.TaskEvent{TaskID: rec.TaskID, Seq: rec.Seq, Kind: string(rec.Kind), Final: rec.Final}
	switch rec.Kind {
	case eventbus.KindTextDelta:
		if m, ok := rec.Payload.(map[string]any); ok {
			if text, ok := m["text"].(string); ok {
				evt.Text = text
			}
		}
	case eventbus.KindStatusUpdate, eventbus.KindTaskCreated:
		if m, ok := rec.Payload.(map[string]any); ok {
			evt.Status = &types.Task{State: stringField(m, "state")}
		} else if t, ok := rec.Payload.(*task.Task); ok {
			evt.Status = renderTask(t)
		}
	}
	return evt
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func writeResult(w http.ResponseWriter, id json.RawMessage, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(types.Response{JSONRPC: "2.0", ID: id, Result: result})
}

func writeError(w http.ResponseWriter, id json.RawMessage, code int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(types.Response{JSONRPC: "2.0", ID: id, Error: &types.Error{Code: code, Message: message, Data: data}})
}

func writeAppError(w http.ResponseWriter, id json.RawMessage, err error) {
	if ce, ok := coreerr.As(err); ok {
		writeError(w, id, coreerr.RPCCode(ce.Code), ce.Message, nil)
		return
	}
	writeError(w, id, coreerr.RPCInternal, err.Error(), nil)
}
