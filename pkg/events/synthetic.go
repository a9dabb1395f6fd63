package events

import (
	"context"
	"math"
	"time"
)

// SyntheticSource replays a fixed script of events. With Pace set, each event is held back
// until its timestamp has elapsed since Stream was called.
type SyntheticSource struct {
	Events []Event
	Pace   bool
}

// Stream emits the scripted events in order.
func (s SyntheticSource) Stream(ctx context.Context, emit func(Event) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	for _, event := range s.Events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.Pace {
			wait := time.Duration(event.T) - time.Since(start)
			if wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			}
		}
		if err := emit(event); err != nil {
			return err
		}
	}
	return nil
}

// DwellScript generates pointer samples that hover around (cx, cy) with small jitter for
// the given duration at rateHz.
func DwellScript(start time.Duration, duration time.Duration, rateHz int, cx, cy float64) []Event {
	if rateHz <= 0 {
		rateHz = 60
	}
	step := time.Second / time.Duration(rateHz)
	n := int(duration / step)
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		phase := float64(i) * 0.7
		out = append(out, Pointer(uint64(start+time.Duration(i)*step), cx+0.002*math.Sin(phase), cy+0.002*math.Cos(phase)))
	}
	return out
}

// ScanScript generates a sweep from (x0, y0) to (x1, y1) across the given duration.
func ScanScript(start time.Duration, duration time.Duration, rateHz int, x0, y0, x1, y1 float64) []Event {
	if rateHz <= 0 {
		rateHz = 60
	}
	step := time.Second / time.Duration(rateHz)
	n := int(duration / step)
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		p := float64(i) / math.Max(float64(n-1), 1)
		out = append(out, Pointer(uint64(start+time.Duration(i)*step), x0+(x1-x0)*p, y0+(y1-y0)*p))
	}
	return out
}

// DemoScript is the default synthetic recording: focus a window, dwell on a control, click,
// then sweep across the screen and type.
func DemoScript(rateHz int) []Event {
	script := []Event{WindowFocus(0, "Editor - notes.txt", "editor")}
	script = append(script, DwellScript(0, 4*time.Second, rateHz, 0.3, 0.4)...)
	script = append(script,
		Click(uint64(4*time.Second), ButtonLeft, StateDown, 0.3, 0.4),
		Click(uint64(4*time.Second+80*time.Millisecond), ButtonLeft, StateUp, 0.3, 0.4),
	)
	script = append(script, ScanScript(4*time.Second+100*time.Millisecond, 4*time.Second, rateHz, 0.05, 0.1, 0.95, 0.9)...)
	script = append(script,
		Key(uint64(8*time.Second+200*time.Millisecond), "KeyA", StateDown),
		Key(uint64(8*time.Second+260*time.Millisecond), "KeyA", StateUp),
		Scroll(uint64(8*time.Second+400*time.Millisecond), 0, -0.05, 0.95, 0.9),
	)
	return script
}
