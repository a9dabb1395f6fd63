package capture

import (
	"sync"
	"time"
)

// PauseSpan is one paused interval on the recording timeline.
type PauseSpan struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// Controller tracks a session's pause state and the spans it spent paused. Times are
// recording-clock offsets.
type Controller struct {
	mu       sync.Mutex
	paused   bool
	stopped  bool
	pausedAt time.Duration
	spans    []PauseSpan
}

// NewController constructs a controller in the running state.
func NewController() *Controller {
	return &Controller{}
}

// Pause enters the paused state at the given offset. It reports false when the controller
// was already paused or stopped.
func (c *Controller) Pause(at time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused || c.stopped {
		return false
	}
	c.paused = true
	c.pausedAt = at
	return true
}

// Resume leaves the paused state and closes the open span.
func (c *Controller) Resume(at time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused || c.stopped {
		return false
	}
	c.closeSpan(at)
	return true
}

// Stop ends the controller. A span still open at stop ends at the given offset.
func (c *Controller) Stop(at time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if c.paused {
		c.closeSpan(at)
	}
	c.stopped = true
}

func (c *Controller) closeSpan(at time.Duration) {
	c.paused = false
	c.spans = append(c.spans, PauseSpan{Start: c.pausedAt, End: max(at, c.pausedAt)})
}

// Paused reports whether capture is currently suspended.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused && !c.stopped
}

// Spans returns the closed pause spans in order.
func (c *Controller) Spans() []PauseSpan {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]PauseSpan(nil), c.spans...)
}

// PausedTotal sums the closed pause spans.
func (c *Controller) PausedTotal() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total time.Duration
	for _, s := range c.spans {
		total += s.End - s.Start
	}
	return total
}

// State reports the textual state for diagnostics.
func (c *Controller) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.stopped:
		return "stopped"
	case c.paused:
		return "paused"
	default:
		return "recording"
	}
}
