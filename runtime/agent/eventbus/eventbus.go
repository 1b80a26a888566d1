// Package eventbus implements the EventBus (spec component C2): a per-task
// broadcast channel with a bounded replay buffer, fan-out to many concurrent
// subscribers, and atomic late-subscriber cutover.
//
// The fan-out shape is grounded on runtime/agent/hooks.Bus (a single global
// subscriber map guarded by one mutex); this package generalizes that
// pattern to one ring buffer and subscriber set per task, since replay and
// per-task ordering have no equivalent in the teacher's global bus.
package eventbus

import (
	"context"
	"sync"

	"github.com/agentnode/core/runtime/agent/coreerr"
)

// Kind enumerates the bus event kinds named in spec §3.
type Kind string

const (
	KindTaskCreated    Kind = "task-created"
	KindStatusUpdate   Kind = "status-update"
	KindArtifactUpdate Kind = "artifact-update"
	KindMessage        Kind = "message"
	KindTextDelta      Kind = "text-delta"
)

// Record is one entry on a task's event stream (spec §3).
type Record struct {
	TaskID  string
	Seq     uint64
	Kind    Kind
	Payload any
	Final   bool
}

// DefaultCapacity is the default ring buffer size per task (spec §4.2).
const DefaultCapacity = 256

// subscriberBuffer is sized generously above DefaultCapacity so that a
// freshly attached subscriber's snapshot plus a burst of live events never
// blocks the publisher on a slow consumer; a consumer that falls further
// behind than this is considered disconnected by the caller (SSE handlers
// tear down on write error well before this fills).
const subscriberBuffer = 1024

type taskState struct {
	mu          sync.Mutex
	capacity    int
	ring        []Record
	ringStart   uint64 // seq of ring[0], 0 if ring is empty
	lastSeq     uint64
	terminal    bool
	subscribers map[*subscription]chan Record
}

type subscription struct {
	taskID string
	ch     chan Record
}

// Fanout forwards published records to an external sink once they've been
// fanned out to local subscribers. The spec's EventBus is defined as
// in-process only; Fanout is an optional extension point for deployments
// that want a task's stream observable outside this node (e.g. a
// Redis-backed runtime/agent/eventbus/pulsefanout.Sink), not a required
// part of Publish's contract. Forward should not block for long: it runs in
// its own goroutine and its error, if any, never affects the local Publish
// call that triggered it.
type Fanout interface {
	Forward(ctx context.Context, rec Record) error
}

// Bus is the process-wide EventBus singleton (C2). All methods are safe for
// concurrent use.
type Bus struct {
	mu       sync.Mutex
	tasks    map[string]*taskState
	capacity int
	fanout   Fanout
}

// New constructs a Bus with the default per-task ring capacity.
func New() *Bus {
	return NewWithCapacity(DefaultCapacity)
}

// NewWithCapacity constructs a Bus with an explicit per-task ring capacity.
func NewWithCapacity(capacity int) *Bus {
	return &Bus{tasks: make(map[string]*taskState), capacity: capacity}
}

// SetFanout installs f as the Bus's external fanout sink. Nil disables
// fanout. Must be called before the Bus is shared across goroutines that
// call Publish, or while holding no expectation of delivering in-flight
// publishes to the newly installed sink.
func (b *Bus) SetFanout(f Fanout) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fanout = f
}

func (b *Bus) taskFor(taskID string) *taskState {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts, ok := b.tasks[taskID]
	if !ok {
		ts = &taskState{capacity: b.capacity, subscribers: make(map[*subscription]chan Record)}
		b.tasks[taskID] = ts
	}
	return ts
}

// Publish assigns the next sequence number for taskID, appends the record to
// its ring buffer, and fans it out to every currently registered subscriber.
// Publishing on a task that has already emitted a final=true record fails
// with TaskTerminal (spec §4.2).
func (b *Bus) Publish(taskID string, kind Kind, payload any, final bool) (Record, error) {
	fanout := b.getFanout()
	ts := b.taskFor(taskID)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.terminal {
		return Record{}, coreerr.TaskTerminal(taskID)
	}

	ts.lastSeq++
	rec := Record{TaskID: taskID, Seq: ts.lastSeq, Kind: kind, Payload: payload, Final: final}

	if len(ts.ring) == ts.capacity && ts.capacity > 0 {
		ts.ring = ts.ring[1:]
		ts.ringStart++
	}
	if ts.capacity > 0 {
		ts.ring = append(ts.ring, rec)
	}

	for sub, ch := range ts.subscribers {
		select {
		case ch <- rec:
		default:
			// Slow consumer: drop rather than block the publisher. The
			// ring buffer still holds the record for a fresh resubscribe.
			_ = sub
		}
		if final {
			close(ch)
			delete(ts.subscribers, sub)
		}
	}
	if final {
		ts.terminal = true
	}

	if fanout != nil {
		go func(f Fanout, r Record) { _ = f.Forward(context.Background(), r) }(fanout, rec)
	}

	return rec, nil
}

func (b *Bus) getFanout() Fanout {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fanout
}

// Subscribe attaches a new subscriber starting at fromSeq (default 0 to
// replay everything retained). The snapshot replay and registration for live
// events happen under the same lock, so no publish can be missed or
// duplicated across the cutover (spec §4.2).
func (b *Bus) Subscribe(taskID string, fromSeq uint64) (<-chan Record, func()) {
	ts := b.taskFor(taskID)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ch := make(chan Record, subscriberBuffer)
	for _, rec := range ts.ring {
		if rec.Seq >= fromSeq {
			ch <- rec
		}
	}
	if ts.terminal {
		// Replay is all there will ever be; signal end of stream
		// immediately rather than registering a subscriber that will
		// never be woken again.
		close(ch)
		return ch, func() {}
	}

	sub := &subscription{taskID: taskID, ch: ch}
	ts.subscribers[sub] = ch

	unsubscribe := func() {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		if _, ok := ts.subscribers[sub]; ok {
			delete(ts.subscribers, sub)
		}
	}
	return ch, unsubscribe
}

// Snapshot returns every event currently retained in taskID's ring buffer.
func (b *Bus) Snapshot(taskID string) []Record {
	ts := b.taskFor(taskID)
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]Record, len(ts.ring))
	copy(out, ts.ring)
	return out
}

// LastSeq returns the most recently assigned sequence number for taskID, or
// 0 if nothing has been published yet.
func (b *Bus) LastSeq(taskID string) uint64 {
	ts := b.taskFor(taskID)
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.lastSeq
}
