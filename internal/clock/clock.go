// Package clock provides the monotonic run timer shared by every stress
// worker. A Clock moves through unstarted → started → ended; Reset puts it
// back to unstarted between independent runs.
package clock

import (
	"sync/atomic"
	"time"
)

const (
	stateUnstarted int32 = iota
	stateStarting
	stateStarted
	stateStopping
	stateEnded
)

// Clock is safe for concurrent use. Start and end instants are stored as
// offsets from a monotonic origin so every read is a plain atomic load.
type Clock struct {
	now    func() time.Time
	origin time.Time

	state atomic.Int32
	start atomic.Int64
	end   atomic.Int64
}

// New returns an unstarted Clock backed by time.Now.
func New() *Clock {
	return NewWithNow(time.Now)
}

// NewWithNow returns an unstarted Clock that reads time from now.
func NewWithNow(now func() time.Time) *Clock {
	return &Clock{now: now, origin: now()}
}

func (c *Clock) offset() int64 {
	return int64(c.now().Sub(c.origin))
}

// Start records the start instant. Calls after the first are no-ops.
func (c *Clock) Start() {
	if !c.state.CompareAndSwap(stateUnstarted, stateStarting) {
		return
	}
	c.start.Store(c.offset())
	c.state.Store(stateStarted)
}

// Stop freezes the elapsed time. It does nothing before Start or after a
// previous Stop.
func (c *Clock) Stop() {
	if !c.state.CompareAndSwap(stateStarted, stateStopping) {
		return
	}
	c.end.Store(c.offset())
	c.state.Store(stateEnded)
}

// Reset returns the clock to the unstarted state.
func (c *Clock) Reset() {
	c.state.Store(stateUnstarted)
	c.start.Store(0)
	c.end.Store(0)
}

// Started reports whether Start has completed.
func (c *Clock) Started() bool {
	s := c.state.Load()
	return s == stateStarted || s == stateStopping || s == stateEnded
}

// Ended reports whether Stop has completed.
func (c *Clock) Ended() bool {
	return c.state.Load() == stateEnded
}

// Elapsed is the time since Start, or the frozen span once stopped.
func (c *Clock) Elapsed() time.Duration {
	switch c.state.Load() {
	case stateEnded:
		return time.Duration(c.end.Load() - c.start.Load())
	case stateStarted, stateStopping:
		return time.Duration(c.offset() - c.start.Load())
	default:
		return 0
	}
}

func (c *Clock) ElapsedSeconds() float64 {
	return c.Elapsed().Seconds()
}

func (c *Clock) ElapsedMillis() int64 {
	return c.Elapsed().Milliseconds()
}

// ShouldContinue reports whether less than limit has elapsed. An unstarted
// clock always continues so workers racing ahead of Start do not bail out.
func (c *Clock) ShouldContinue(limit time.Duration) bool {
	if !c.Started() {
		return true
	}
	return c.Elapsed() < limit
}
