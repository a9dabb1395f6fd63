package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/offlinefirst/screenreel/pkg/events"
	"github.com/offlinefirst/screenreel/pkg/media"
	"github.com/offlinefirst/screenreel/pkg/project"
)

// SyntheticBackend is a deterministic backend for tests and dry runs. Pipelines write small
// placeholder files and the input tap replays Script.
type SyntheticBackend struct {
	MonitorList []Monitor
	Script      []events.Event
	Pace        bool
	// FailStream makes the named stream's Start fail.
	FailStream string
	// StartAt pins a stream's start instant instead of reading the clock.
	StartAt map[string]time.Duration

	mu        sync.Mutex
	pipelines map[string]*syntheticPipeline
}

// DefaultMonitors is a two-monitor desktop with the primary on the left.
func DefaultMonitors() []Monitor {
	return []Monitor{
		{Index: 0, Name: "SYNTH-1", X: 0, Y: 0, Width: 1920, Height: 1080, Primary: true},
		{Index: 1, Name: "SYNTH-2", X: 1920, Y: 0, Width: 1280, Height: 1024},
	}
}

// Name implements Backend.
func (b *SyntheticBackend) Name() string { return media.ProviderSynthetic }

// Monitors implements Backend.
func (b *SyntheticBackend) Monitors(ctx context.Context) ([]Monitor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(b.MonitorList) == 0 {
		return DefaultMonitors(), nil
	}
	return append([]Monitor(nil), b.MonitorList...), nil
}

// CoordinateSpace implements Backend.
func (b *SyntheticBackend) CoordinateSpace() project.CoordinateSpace {
	return project.SpaceCaptureNormalized
}

// NewPipeline implements Backend.
func (b *SyntheticBackend) NewPipeline(spec PipelineSpec) (Pipeline, error) {
	if spec.Path == "" {
		return nil, errors.New("pipeline path must not be empty")
	}
	p := &syntheticPipeline{spec: spec, fail: spec.Stream == b.FailStream}
	if at, ok := b.StartAt[spec.Stream]; ok {
		p.startAt, p.pinned = at, true
	}
	b.mu.Lock()
	if b.pipelines == nil {
		b.pipelines = make(map[string]*syntheticPipeline)
	}
	b.pipelines[spec.Path] = p
	b.mu.Unlock()
	return p, nil
}

// Events implements Backend.
func (b *SyntheticBackend) Events(_ *RecordingClock, _ Monitor, _ Bounds) events.EventSource {
	if len(b.Script) == 0 {
		return nil
	}
	return events.SyntheticSource{Events: b.Script, Pace: b.Pace}
}

// Prober reports the durations the synthetic pipelines actually recorded.
func (b *SyntheticBackend) Prober() media.Prober {
	return syntheticProber{b: b}
}

type syntheticProber struct {
	b *SyntheticBackend
}

func (p syntheticProber) lookup(path string) (*syntheticPipeline, error) {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	pl, ok := p.b.pipelines[path]
	if !ok {
		return nil, fmt.Errorf("no synthetic media at %s", path)
	}
	return pl, nil
}

func (p syntheticProber) Duration(_ context.Context, path string) (float64, error) {
	pl, err := p.lookup(path)
	if err != nil {
		return 0, err
	}
	return pl.recorded().Seconds(), nil
}

func (p syntheticProber) Dimensions(_ context.Context, path string) (int, int, error) {
	pl, err := p.lookup(path)
	if err != nil {
		return 0, 0, err
	}
	if pl.spec.Monitor.Width == 0 {
		return 0, 0, fmt.Errorf("%s has no video stream", path)
	}
	return pl.spec.Monitor.Width, pl.spec.Monitor.Height, nil
}

type syntheticPipeline struct {
	spec    PipelineSpec
	fail    bool
	startAt time.Duration
	pinned  bool

	mu       sync.Mutex
	clock    *RecordingClock
	begun    time.Duration
	elapsed  time.Duration
	pausedAt time.Duration
	paused   bool
	duration time.Duration
}

func (p *syntheticPipeline) Codec() string {
	switch p.spec.Stream {
	case project.TrackMic, project.TrackSystemAudio:
		return "pcm_s16le"
	default:
		return "h264"
	}
}

func (p *syntheticPipeline) Start(ctx context.Context, clock *RecordingClock) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.fail {
		return fmt.Errorf("synthetic %s device unavailable", p.spec.Stream)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clock = clock
	if p.pinned {
		p.begun = clock.SetStart(p.spec.Stream, p.startAt)
	} else {
		p.begun = clock.MarkStart(p.spec.Stream)
	}
	return nil
}

func (p *syntheticPipeline) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused || p.clock == nil {
		return
	}
	p.paused = true
	p.pausedAt = p.clock.Since()
}

func (p *syntheticPipeline) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		return
	}
	p.paused = false
	p.elapsed -= p.clock.Since() - p.pausedAt
}

func (p *syntheticPipeline) recorded() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

func (p *syntheticPipeline) Stop(ctx context.Context) (Stats, error) {
	p.mu.Lock()
	now := p.clock.Since()
	if p.paused {
		now = p.pausedAt
	}
	p.duration = max(now-p.begun+p.elapsed, 0)
	duration := p.duration
	p.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(p.spec.Path), 0o755); err != nil {
		return Stats{}, err
	}
	payload := fmt.Sprintf("synthetic %s stream duration=%s\n", p.spec.Stream, duration)
	if err := os.WriteFile(p.spec.Path, []byte(payload), 0o644); err != nil {
		return Stats{}, fmt.Errorf("write %s: %w", p.spec.Stream, err)
	}
	stats := Stats{Bytes: int64(len(payload))}
	if p.spec.FPS > 0 {
		stats.FramesCaptured = int64(duration.Seconds() * float64(p.spec.FPS))
	}
	return stats, ctx.Err()
}
