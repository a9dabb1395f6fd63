package capture

import (
	"sort"
	"sync"
	"time"
)

var processStart = time.Now()

// RecordingClock is the shared time origin for one session. Every pipeline receives the same
// instance and records its start instant against it.
type RecordingClock struct {
	now    func() time.Time
	origin time.Time

	mu     sync.Mutex
	starts map[string]time.Duration
}

// NewRecordingClock fixes the origin at now().
func NewRecordingClock(now func() time.Time) *RecordingClock {
	if now == nil {
		now = time.Now
	}
	return &RecordingClock{now: now, origin: now(), starts: make(map[string]time.Duration)}
}

// Origin returns the wall-clock instant the session clock started.
func (c *RecordingClock) Origin() time.Time {
	return c.origin
}

// MonotonicNs is the origin expressed as nanoseconds since process start.
func (c *RecordingClock) MonotonicNs() uint64 {
	d := c.origin.Sub(processStart)
	if d < 0 {
		return 0
	}
	return uint64(d)
}

// Since returns elapsed time on the session clock.
func (c *RecordingClock) Since() time.Duration {
	return c.now().Sub(c.origin)
}

// MarkStart records that stream produced its first data now. Only the first mark counts.
func (c *RecordingClock) MarkStart(stream string) time.Duration {
	return c.SetStart(stream, c.Since())
}

// SetStart records an explicit start instant for stream. Only the first record counts.
func (c *RecordingClock) SetStart(stream string, at time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.starts[stream]; ok {
		return prev
	}
	c.starts[stream] = at
	return at
}

// Start reports the recorded start of stream.
func (c *RecordingClock) Start(stream string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.starts[stream]
	return d, ok
}

// Streams lists every stream with a recorded start.
func (c *RecordingClock) Streams() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.starts))
	for name := range c.starts {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
