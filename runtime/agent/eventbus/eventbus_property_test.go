package eventbus

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestPublishSequenceIsMonotonicProperty verifies that for any run of N
// publishes on a fresh task, the assigned sequence numbers are exactly
// 1..N in emission order, regardless of N or the kinds published.
func TestPublishSequenceIsMonotonicProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("sequence numbers are 1..N in publish order", prop.ForAll(
		func(n int) bool {
			b := New()
			for i := 0; i < n; i++ {
				rec, err := b.Publish("t", KindMessage, i, false)
				if err != nil {
					return false
				}
				if rec.Seq != uint64(i+1) {
					return false
				}
			}
			return b.LastSeq("t") == uint64(n)
		},
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}

// TestSubscribeReplayIsGapFreeAndOrderedProperty verifies that a subscriber
// attached mid-stream (at any fromSeq within the retained range) receives
// exactly the retained records from fromSeq onward, in order, with no gaps
// or duplicates — independent of how many events preceded the subscribe.
func TestSubscribeReplayIsGapFreeAndOrderedProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("replay from fromSeq is ordered and gap-free", prop.ForAll(
		func(n int, fromSeqInt int) bool {
			fromSeq := uint64(fromSeqInt)
			b := NewWithCapacity(DefaultCapacity)
			for i := 0; i < n; i++ {
				if _, err := b.Publish("t", KindMessage, i, false); err != nil {
					return false
				}
			}
			ch, unsub := b.Subscribe("t", fromSeq)
			defer unsub()

			var lastSeq uint64
			seen := 0
			for {
				select {
				case rec, ok := <-ch:
					if !ok {
						return true
					}
					if rec.Seq < fromSeq {
						return false // replay must never emit below fromSeq
					}
					if seen > 0 && rec.Seq <= lastSeq {
						return false // must be strictly increasing, no duplicates
					}
					lastSeq = rec.Seq
					seen++
					if seen > n {
						return false
					}
				default:
					return true
				}
			}
		},
		gen.IntRange(0, 30),
		gen.IntRange(0, 40),
	))

	properties.TestingRun(t)
}

// TestFinalPublishClosesEveryLiveSubscriberProperty verifies that whatever
// number of subscribers are attached before a final record is published,
// every one of their channels observes the final record and is then closed.
func TestFinalPublishClosesEveryLiveSubscriberProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("final publish closes all live subscribers", prop.ForAll(
		func(subscriberCount int) bool {
			b := New()
			chans := make([]<-chan Record, 0, subscriberCount)
			for i := 0; i < subscriberCount; i++ {
				ch, _ := b.Subscribe("t", 0)
				chans = append(chans, ch)
			}
			if _, err := b.Publish("t", KindStatusUpdate, nil, true); err != nil {
				return false
			}
			for _, ch := range chans {
				rec, ok := <-ch
				if !ok || !rec.Final {
					return false
				}
				if _, stillOpen := <-ch; stillOpen {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}
