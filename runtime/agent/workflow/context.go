package workflow

import "context"

// Context is the per-execution handle a plugin's ExecuteFunc uses to yield
// values and, for pause yields, receive the caller-supplied resume input.
//
// Grounded on runtime/agent/engine/inmem's wfCtx/signalChan pair: a
// workflow goroutine there blocks sending on an unbuffered yield channel and
// receiving on a per-signal buffered channel; this Context generalizes that
// to the single yield/resume channel pair spec §4.4.1 calls for, with an
// explicit cancellation channel standing in for engine/inmem's done channel.
type Context struct {
	std      context.Context
	yieldCh  chan Yield
	resumeCh chan any
	cancelCh <-chan struct{}
}

func newContext(std context.Context, cancelCh <-chan struct{}) *Context {
	return &Context{
		std:      std,
		yieldCh:  make(chan Yield),
		resumeCh: make(chan any),
		cancelCh: cancelCh,
	}
}

// Context returns the context.Context the execution was dispatched with,
// carrying this Context as a value (see FromContext). It is not canceled by
// Runtime.Cancel; cancellation is observed through Canceled or through
// Yield returning false.
func (c *Context) Context() context.Context {
	return context.WithValue(c.std, contextKey{}, c)
}

// Canceled reports whether cancellation has been requested for this
// execution without blocking.
func (c *Context) Canceled() bool {
	select {
	case <-c.cancelCh:
		return true
	default:
		return false
	}
}

// Yield sends y to the runtime's stepper and, if y is a pause, blocks until
// either resume input arrives or the execution is canceled. For any other
// yield kind, Yield returns nil immediately after the stepper has observed
// it (the stepper always receives before the plugin goroutine proceeds,
// which is what makes "at most one step in progress" hold: this goroutine
// cannot produce a second yield until the first has been consumed).
//
// Yield returns (input, true) on a valid resume, or (nil, false) if the
// execution was canceled while paused.
func (c *Context) Yield(y Yield) (any, bool) {
	select {
	case c.yieldCh <- y:
	case <-c.cancelCh:
		return nil, false
	}
	if y.Kind != YieldPause {
		return nil, true
	}
	select {
	case in := <-c.resumeCh:
		return in, true
	case <-c.cancelCh:
		return nil, false
	}
}
