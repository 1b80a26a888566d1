// Package pulsefanout implements an optional eventbus.Fanout backend that
// forwards EventBus records into Redis-backed goa.design/pulse streams, one
// stream per task id, so a task's event history is observable outside the
// process that produced it.
//
// Grounded on the teacher's features/stream/pulse/sink.go (envelope shape,
// and Send's stream-then-Add sequence, tested against a narrow injectable
// Client/Stream interface rather than the concrete Redis client) and
// features/stream/pulse/clients/pulse/client.go (building a pulse stream
// from a *redis.Client via streaming.NewStream). The EventBus itself (spec
// §4.2) has no notion of Redis or Pulse; this package is an additive
// deployment option wired behind eventbus.Bus.SetFanout, not a required
// part of C2.
package pulsefanout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/agentnode/core/runtime/agent/eventbus"
)

// Envelope is the JSON shape written to each Pulse stream entry, mirroring
// the teacher's pulse.Envelope fields.
type Envelope struct {
	TaskID    string    `json:"task_id"`
	Seq       uint64    `json:"seq"`
	Kind      string    `json:"kind"`
	Payload   any       `json:"payload,omitempty"`
	Final     bool      `json:"final,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Stream is the subset of a goa.design/pulse stream Forward needs.
type Stream interface {
	Add(ctx context.Context, event string, payload []byte) (string, error)
}

// Streamer opens (or creates) a named Pulse stream, mirroring the teacher's
// clients/pulse.Client.Stream.
type Streamer interface {
	Stream(name string) (Stream, error)
}

// redisStreamer is the production Streamer, backed directly by a Redis
// connection via goa.design/pulse/streaming.
type redisStreamer struct {
	redis        *redis.Client
	streamMaxLen int
}

// NewRedisStreamer builds a Streamer that opens goa.design/pulse streams on
// rdb. streamMaxLen of 0 uses Pulse's own default trimming.
func NewRedisStreamer(rdb *redis.Client, streamMaxLen int) Streamer {
	return &redisStreamer{redis: rdb, streamMaxLen: streamMaxLen}
}

func (s *redisStreamer) Stream(name string) (Stream, error) {
	var opts []streamopts.Stream
	if s.streamMaxLen > 0 {
		opts = append(opts, streamopts.WithStreamMaxLen(s.streamMaxLen))
	}
	str, err := streaming.NewStream(name, s.redis, opts...)
	if err != nil {
		return nil, fmt.Errorf("open pulse stream: %w", err)
	}
	return str, nil
}

// Options configures a Sink.
type Options struct {
	// Streamer opens per-task Pulse streams. Required.
	Streamer Streamer
	// StreamName derives the Pulse stream name for a task id. Defaults to
	// "agentnode/task/<taskID>".
	StreamName func(taskID string) string
}

// Sink forwards eventbus.Record values into per-task Pulse streams. Safe
// for concurrent use; eventbus.Bus invokes Forward from its own goroutine
// per publish.
type Sink struct {
	streamer   Streamer
	streamName func(string) string
}

// New constructs a Sink. Options.Streamer is required.
func New(opts Options) (*Sink, error) {
	if opts.Streamer == nil {
		return nil, fmt.Errorf("pulsefanout: streamer is required")
	}
	name := opts.StreamName
	if name == nil {
		name = defaultStreamName
	}
	return &Sink{streamer: opts.Streamer, streamName: name}, nil
}

// Forward opens (or reuses) rec.TaskID's Pulse stream and appends rec as a
// JSON envelope. It satisfies eventbus.Fanout.
func (s *Sink) Forward(ctx context.Context, rec eventbus.Record) error {
	str, err := s.streamer.Stream(s.streamName(rec.TaskID))
	if err != nil {
		return err
	}
	payload, err := json.Marshal(Envelope{
		TaskID:    rec.TaskID,
		Seq:       rec.Seq,
		Kind:      string(rec.Kind),
		Payload:   rec.Payload,
		Final:     rec.Final,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if _, err := str.Add(ctx, string(rec.Kind), payload); err != nil {
		return fmt.Errorf("pulse add: %w", err)
	}
	return nil
}

func defaultStreamName(taskID string) string {
	return fmt.Sprintf("agentnode/task/%s", taskID)
}
