package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/agentnode/core/runtime/agent/streamproc"
)

// deltaStream adapts an Anthropic SSE stream to streamproc.DeltaStream,
// mirroring features/model/anthropic's anthropicStreamer: a single goroutine
// drains the SDK's stream and republishes onto a buffered channel that Next
// pulls from, so cancellation and backpressure compose with context.Context
// instead of the SDK's own iterator idiom.
type deltaStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	raw    *ssestream.Stream[sdk.MessageStreamEventUnion]

	deltas chan streamproc.Delta

	mu      sync.Mutex
	err     error
	pending map[int]*toolCallBuilder
}

type toolCallBuilder struct {
	id       string
	name     string
	argsJSON []byte
}

func newDeltaStream(ctx context.Context, raw *ssestream.Stream[sdk.MessageStreamEventUnion]) *deltaStream {
	cctx, cancel := context.WithCancel(ctx)
	ds := &deltaStream{
		ctx:     cctx,
		cancel:  cancel,
		raw:     raw,
		deltas:  make(chan streamproc.Delta, 32),
		pending: make(map[int]*toolCallBuilder),
	}
	go ds.run()
	return ds
}

func (ds *deltaStream) run() {
	defer close(ds.deltas)
	for ds.raw.Next() {
		evt := ds.raw.Current()
		ds.handleEvent(evt)
		select {
		case <-ds.ctx.Done():
			return
		default:
		}
	}
	if err := ds.raw.Err(); err != nil && err != io.EOF {
		ds.setErr(err)
	}
}

func (ds *deltaStream) handleEvent(event sdk.MessageStreamEventUnion) {
	switch ev := event.AsAny().(type) {
	case sdk.ContentBlockStartEvent:
		if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			ds.pending[int(ev.Index)] = &toolCallBuilder{id: toolUse.ID, name: toolUse.Name}
		}
	case sdk.ContentBlockDeltaEvent:
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			ds.emit(streamproc.Delta{Kind: streamproc.DeltaText, Text: delta.Text})
		case sdk.InputJSONDelta:
			if b, ok := ds.pending[int(ev.Index)]; ok {
				b.argsJSON = append(b.argsJSON, []byte(delta.PartialJSON)...)
			}
		}
	case sdk.ContentBlockStopEvent:
		if b, ok := ds.pending[int(ev.Index)]; ok {
			var args map[string]any
			_ = json.Unmarshal(b.argsJSON, &args)
			ds.emit(streamproc.Delta{Kind: streamproc.DeltaToolCall, ToolCallID: b.id, ToolName: b.name, ToolArgs: args})
			delete(ds.pending, int(ev.Index))
		}
	case sdk.MessageStopEvent:
		ds.emit(streamproc.Delta{Kind: streamproc.DeltaFinish})
	}
}

func (ds *deltaStream) emit(d streamproc.Delta) {
	select {
	case ds.deltas <- d:
	case <-ds.ctx.Done():
	}
}

func (ds *deltaStream) setErr(err error) {
	ds.mu.Lock()
	ds.err = err
	ds.mu.Unlock()
}

func (ds *deltaStream) Next(ctx context.Context) (streamproc.Delta, bool) {
	select {
	case d, ok := <-ds.deltas:
		return d, ok
	case <-ctx.Done():
		ds.setErr(ctx.Err())
		return streamproc.Delta{}, false
	}
}

func (ds *deltaStream) Err() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.err
}

func (ds *deltaStream) Close() {
	ds.cancel()
	_ = ds.raw.Close()
}
