package capture

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/offlinefirst/screenreel/pkg/events"
	"github.com/offlinefirst/screenreel/pkg/project"
)

// Monitor is one display as enumerated by a backend, in virtual-desktop pixels.
type Monitor struct {
	Index   int
	Name    string
	X       int
	Y       int
	Width   int
	Height  int
	Primary bool
}

// String renders the monitor as idx:name(WxH@x,y[,primary]).
func (m Monitor) String() string {
	suffix := ""
	if m.Primary {
		suffix = ",primary"
	}
	return fmt.Sprintf("%d:%s(%dx%d@%d,%d%s)", m.Index, m.Name, m.Width, m.Height, m.X, m.Y, suffix)
}

// Info converts the monitor for project metadata.
func (m Monitor) Info() project.MonitorInfo {
	return project.MonitorInfo{Index: m.Index, Name: m.Name, X: m.X, Y: m.Y, Width: m.Width, Height: m.Height, Primary: m.Primary}
}

// Bounds is an axis-aligned pixel rectangle.
type Bounds struct {
	X      int
	Y      int
	Width  int
	Height int
}

// VirtualBounds returns the union rectangle of monitors.
func VirtualBounds(monitors []Monitor) Bounds {
	if len(monitors) == 0 {
		return Bounds{}
	}
	minX, minY := monitors[0].X, monitors[0].Y
	maxX, maxY := monitors[0].X+monitors[0].Width, monitors[0].Y+monitors[0].Height
	for _, m := range monitors[1:] {
		minX = min(minX, m.X)
		minY = min(minY, m.Y)
		maxX = max(maxX, m.X+m.Width)
		maxY = max(maxY, m.Y+m.Height)
	}
	return Bounds{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

func describeMonitors(monitors []Monitor) string {
	parts := make([]string, 0, len(monitors))
	for _, m := range monitors {
		parts = append(parts, m.String())
	}
	return strings.Join(parts, ", ")
}

// PipelineSpec describes one stream to build.
type PipelineSpec struct {
	Stream       string
	Path         string
	Monitor      Monitor
	FPS          int
	Device       string
	SampleRate   int
	CursorHidden bool
}

// Stats summarise a pipeline after it stopped.
type Stats struct {
	FramesCaptured int64
	FramesDropped  int64
	Bytes          int64
	Latency        time.Duration
}

// DropRate is dropped/(captured+dropped), or 0 with no frames.
func (s Stats) DropRate() float64 {
	total := s.FramesCaptured + s.FramesDropped
	if total == 0 {
		return 0
	}
	return float64(s.FramesDropped) / float64(total)
}

// Pipeline is one independently running media stream.
type Pipeline interface {
	// Start begins capture and marks the stream's start on clock. It returns once the stream
	// is running; the pipeline keeps running until Stop.
	Start(ctx context.Context, clock *RecordingClock) error
	// Stop finalizes the output file and returns the pipeline's counters.
	Stop(ctx context.Context) (Stats, error)
	Codec() string
}

// Pauser is implemented by pipelines that can suspend capture in place.
type Pauser interface {
	Pause()
	Resume()
}

// Backend adapts a platform's capture facilities.
type Backend interface {
	Name() string
	Monitors(ctx context.Context) ([]Monitor, error)
	NewPipeline(spec PipelineSpec) (Pipeline, error)
	// Events returns the input source for the selected monitor, or nil when the backend has
	// no input tap.
	Events(clock *RecordingClock, monitor Monitor, virtual Bounds) events.EventSource
	CoordinateSpace() project.CoordinateSpace
}
