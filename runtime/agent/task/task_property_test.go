package task

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var allStates = []State{
	StateSubmitted, StateWorking, StateInputRequired, StateAuthRequired,
	StateCompleted, StateFailed, StateCanceled,
}

func genState() gopter.Gen {
	return gen.IntRange(0, len(allStates)-1).Map(func(i int) State {
		return allStates[i]
	})
}

// TestApplyEventNeverMovesOffTerminalProperty verifies that once a task
// reaches a terminal state, no further event (whatever state it targets) can
// change it: ApplyEvent's terminal check is a total block, not one that
// happens to cover the transitions this package's authors thought of.
func TestApplyEventNeverMovesOffTerminalProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("terminal tasks are immutable under any further event", prop.ForAll(
		func(terminal, target State) bool {
			if !terminal.Terminal() {
				return true
			}
			s := New()
			tsk := s.Create(KindAITurn, "ctx", "")
			_ = s.ApplyEvent(Event{TaskID: tsk.ID, State: terminal})
			if target != "" {
				_ = s.ApplyEvent(Event{TaskID: tsk.ID, State: target})
			}
			got, err := s.Get(tsk.ID)
			if err != nil {
				return false
			}
			return got.State == terminal
		},
		genState(),
		genState(),
	))

	properties.TestingRun(t)
}

// TestApplyEventOnlyMovesAlongLegalEdgesProperty verifies the inverse: a
// transition not listed in legalTransitions never changes a non-terminal
// task's state, regardless of the (from, to) pair gopter happens to draw.
func TestApplyEventOnlyMovesAlongLegalEdgesProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("state only changes for edges present in legalTransitions", prop.ForAll(
		func(from, to State) bool {
			if from.Terminal() {
				return true
			}
			s := New()
			tsk := s.Create(KindAITurn, "ctx", "")
			if from != StateSubmitted {
				if err := s.ApplyEvent(Event{TaskID: tsk.ID, State: from}); err != nil {
					return true // unreachable starting state for this harness, skip
				}
			}
			legal := legalTransitions[from][to]
			err := s.ApplyEvent(Event{TaskID: tsk.ID, State: to})
			got, gerr := s.Get(tsk.ID)
			if gerr != nil {
				return false
			}
			if legal {
				return err == nil && got.State == to
			}
			return err != nil && got.State == from
		},
		genState(),
		genState(),
	))

	properties.TestingRun(t)
}

// TestCloneIsIndependentProperty verifies Get's defensive copy is never
// aliased to the store's internal record, for any metadata map size.
func TestCloneIsIndependentProperty(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("mutating a fetched task never affects the store", prop.ForAll(
		func(keys []string) bool {
			s := New()
			tsk := s.Create(KindAITurn, "ctx", "")
			tsk.Metadata = map[string]any{}
			for i, k := range keys {
				tsk.Metadata[k] = i
			}
			s.mu.Lock()
			s.byID[tsk.ID].Metadata = tsk.Metadata
			s.mu.Unlock()

			got, err := s.Get(tsk.ID)
			if err != nil {
				return false
			}
			got.Metadata[fmt.Sprintf("injected-%d", len(keys))] = true
			again, err := s.Get(tsk.ID)
			if err != nil {
				return false
			}
			_, leaked := again.Metadata[fmt.Sprintf("injected-%d", len(keys))]
			return !leaked
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
