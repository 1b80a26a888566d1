// Package types defines the A2A wire protocol: the JSON-RPC 2.0 envelope,
// method parameter/result shapes, and the agent discovery document (spec
// §6). Field names use camelCase JSON tags to conform to the A2A protocol
// specification.
//
//nolint:tagliatelle // A2A protocol specification requires camelCase JSON field names
package types

import "encoding/json"

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope. Exactly one of Result or
// Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is the JSON-RPC error object (spec §6).
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// SendMessageParams is the request payload for message/send and
// message/stream.
type SendMessageParams struct {
	Message *Message `json:"message"`
}

// GetTaskParams is the request payload for tasks/get.
type GetTaskParams struct {
	ID string `json:"id"`
}

// CancelTaskParams is the request payload for tasks/cancel.
type CancelTaskParams struct {
	ID string `json:"id"`
}

// ResubscribeParams is the request payload for tasks/resubscribe.
type ResubscribeParams struct {
	ID string `json:"id"`
}

// Message is the wire representation of an A2A message (spec §3).
type Message struct {
	MessageID string  `json:"messageId"`
	ContextID string  `json:"contextId,omitempty"`
	TaskID    string  `json:"taskId,omitempty"`
	Role      string  `json:"role"`
	Parts     []*Part `json:"parts"`
}

// Part is the tagged Part union (spec §3): text, data, or file.
type Part struct {
	Kind     string          `json:"kind"`
	Text     string          `json:"text,omitempty"`
	MimeType string          `json:"mimeType,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	URL      string          `json:"url,omitempty"`
	Name     string          `json:"name,omitempty"`
}

// Task is the wire representation of a Task record (spec §3).
type Task struct {
	ID             string         `json:"id"`
	ContextID      string         `json:"contextId"`
	Kind           string         `json:"kind"`
	ParentTaskID   string         `json:"parentTaskId,omitempty"`
	State          string         `json:"state"`
	CreatedAt      string         `json:"createdAt"`
	UpdatedAt      string         `json:"updatedAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	PauseInfo      *PauseInfo     `json:"pauseInfo,omitempty"`
	ReferenceTasks []string       `json:"referenceTaskIds,omitempty"`
}

// PauseInfo mirrors task.PauseInfo on the wire.
type PauseInfo struct {
	Reason      string         `json:"reason,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
	Message     string         `json:"message,omitempty"`
}

// TaskEvent is one SSE frame's payload: a JSON-RPC response whose result is
// one event-bus record rendered onto the wire (spec §4.7).
type TaskEvent struct {
	TaskID string `json:"taskId"`
	Seq    uint64 `json:"seq"`
	Kind   string `json:"kind"`
	Status *Task  `json:"status,omitempty"`
	Artifact *Artifact `json:"artifact,omitempty"`
	Message  *Message  `json:"message,omitempty"`
	Text     string    `json:"text,omitempty"`
	Final    bool      `json:"final"`
}

// Artifact is the wire representation of a workflow artifact (spec §3).
type Artifact struct {
	ArtifactID string  `json:"artifactId"`
	Name       string  `json:"name,omitempty"`
	MimeType   string  `json:"mimeType,omitempty"`
	Parts      []*Part `json:"parts"`
	Sequence   uint64  `json:"sequence"`
	Append     bool    `json:"append,omitempty"`
	LastChunk  bool    `json:"lastChunk,omitempty"`
}

// AgentCard is the A2A discovery document (spec §6).
type AgentCard struct {
	ProtocolVersion    string         `json:"protocolVersion"`
	Name               string         `json:"name"`
	Description        string         `json:"description,omitempty"`
	URL                string         `json:"url"`
	Version            string         `json:"version"`
	Capabilities       Capabilities   `json:"capabilities"`
	Provider           map[string]any `json:"provider,omitempty"`
	DefaultInputModes  []string       `json:"defaultInputModes"`
	DefaultOutputModes []string       `json:"defaultOutputModes"`
	Skills             []Skill        `json:"skills"`
}

// Capabilities enumerates the protocol capabilities this agent advertises.
type Capabilities struct {
	Streaming         bool        `json:"streaming"`
	PushNotifications bool        `json:"pushNotifications"`
	Extensions        []Extension `json:"extensions,omitempty"`
}

// Extension names one protocol extension URI and its parameters.
type Extension struct {
	URI    string         `json:"uri"`
	Params map[string]any `json:"params,omitempty"`
}

// Skill describes one capability advertised in the agent card.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Examples    []string `json:"examples,omitempty"`
	InputModes  []string `json:"inputModes,omitempty"`
	OutputModes []string `json:"outputModes,omitempty"`
}
