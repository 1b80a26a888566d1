package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentnode/core/runtime/agent/coreerr"
)

func TestPublishAssignsMonotonicSequence(t *testing.T) {
	t.Parallel()

	b := New()
	r1, err := b.Publish("t1", KindStatusUpdate, "a", false)
	require.NoError(t, err)
	r2, err := b.Publish("t1", KindStatusUpdate, "b", false)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), r1.Seq)
	assert.Equal(t, uint64(2), r2.Seq)
}

func TestPublishAfterFinalIsTaskTerminal(t *testing.T) {
	t.Parallel()

	b := New()
	_, err := b.Publish("t1", KindStatusUpdate, "done", true)
	require.NoError(t, err)

	_, err = b.Publish("t1", KindStatusUpdate, "more", false)
	require.Error(t, err)
	ce, ok := coreerr.As(err)
	require.True(t, ok)
	assert.Equal(t, coreerr.CodeTaskTerminal, ce.Code)
}

func TestSubscribeReplaysRingThenLiveEvents(t *testing.T) {
	t.Parallel()

	b := New()
	_, _ = b.Publish("t1", KindStatusUpdate, "first", false)

	ch, unsubscribe := b.Subscribe("t1", 0)
	defer unsubscribe()

	rec := <-ch
	assert.Equal(t, "first", rec.Payload)

	_, _ = b.Publish("t1", KindStatusUpdate, "second", false)
	rec = <-ch
	assert.Equal(t, "second", rec.Payload)
}

func TestSubscribeFromSeqSkipsEarlierReplay(t *testing.T) {
	t.Parallel()

	b := New()
	_, _ = b.Publish("t1", KindStatusUpdate, "first", false)
	second, _ := b.Publish("t1", KindStatusUpdate, "second", false)

	ch, unsubscribe := b.Subscribe("t1", second.Seq)
	defer unsubscribe()

	rec := <-ch
	assert.Equal(t, "second", rec.Payload)
}

func TestSubscribeAfterFinalClosesImmediately(t *testing.T) {
	t.Parallel()

	b := New()
	_, _ = b.Publish("t1", KindStatusUpdate, "first", false)
	_, _ = b.Publish("t1", KindStatusUpdate, "done", true)

	ch, unsubscribe := b.Subscribe("t1", 0)
	defer unsubscribe()

	var got []any
	for rec := range ch {
		got = append(got, rec.Payload)
	}
	assert.Equal(t, []any{"first", "done"}, got)
}

func TestFinalClosesAllLiveSubscribers(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsubscribe := b.Subscribe("t1", 0)
	defer unsubscribe()

	_, err := b.Publish("t1", KindStatusUpdate, "done", true)
	require.NoError(t, err)

	rec, ok := <-ch
	require.True(t, ok)
	assert.True(t, rec.Final)

	_, ok = <-ch
	assert.False(t, ok, "channel closes after final delivery")
}

func TestRingBufferEvictsOldestPastCapacity(t *testing.T) {
	t.Parallel()

	b := NewWithCapacity(2)
	_, _ = b.Publish("t1", KindStatusUpdate, "a", false)
	_, _ = b.Publish("t1", KindStatusUpdate, "b", false)
	_, _ = b.Publish("t1", KindStatusUpdate, "c", false)

	snap := b.Snapshot("t1")
	require.Len(t, snap, 2)
	assert.Equal(t, "b", snap[0].Payload)
	assert.Equal(t, "c", snap[1].Payload)
}

type recordingFanout struct {
	mu      sync.Mutex
	records []Record
}

func (f *recordingFanout) Forward(ctx context.Context, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *recordingFanout) snapshot() []Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Record(nil), f.records...)
}

func TestSetFanoutForwardsEveryPublishedRecord(t *testing.T) {
	t.Parallel()

	b := New()
	fanout := &recordingFanout{}
	b.SetFanout(fanout)

	_, err := b.Publish("t1", KindStatusUpdate, "first", false)
	require.NoError(t, err)
	_, err = b.Publish("t1", KindStatusUpdate, "done", true)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(fanout.snapshot()) == 2
	}, time.Second, time.Millisecond)

	recs := fanout.snapshot()
	assert.Equal(t, "first", recs[0].Payload)
	assert.Equal(t, "done", recs[1].Payload)
	assert.True(t, recs[1].Final)
}

func TestTasksAreIndependent(t *testing.T) {
	t.Parallel()

	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _ = b.Publish("task-a", KindStatusUpdate, n, false)
			_, _ = b.Publish("task-b", KindStatusUpdate, n, false)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, uint64(20), b.LastSeq("task-a"))
	assert.Equal(t, uint64(20), b.LastSeq("task-b"))
}
