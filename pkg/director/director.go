// Package director derives camera keyframes from pointer activity.
package director

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/offlinefirst/screenreel/pkg/events"
	"github.com/offlinefirst/screenreel/pkg/faults"
	"github.com/offlinefirst/screenreel/pkg/project"
)

// Options tunes the analysis. Zero thresholds, zooms and MonitorCount take the values from
// DefaultOptions; a zero SmoothingWindow disables keyframe smoothing.
type Options struct {
	ChunkSeconds           float64
	DwellThresholdSeconds  float64
	DwellRadius            float64
	HoverZoom              float64
	ScanZoom               float64
	SmoothingWindow        int
	MinViewportSize        float64
	DwellVelocityThreshold float64
	MonitorCount           int
	FocusedMonitor         int
	Logger                 *slog.Logger
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{
		ChunkSeconds:           2.0,
		DwellThresholdSeconds:  1.0,
		DwellRadius:            0.15,
		HoverZoom:              0.4,
		ScanZoom:               0.85,
		SmoothingWindow:        3,
		MinViewportSize:        0.25,
		DwellVelocityThreshold: 0.18,
		MonitorCount:           1,
		FocusedMonitor:         0,
	}
}

// Activity classifies a chunk.
type Activity string

const (
	ActivityDwell Activity = "dwell"
	ActivityScan  Activity = "scan"
	ActivityIdle  Activity = "idle"
)

// Chunk is the per-window analysis, kept for diagnostics.
type Chunk struct {
	StartSecs   float64  `json:"start_secs"`
	EndSecs     float64  `json:"end_secs"`
	CentroidX   float64  `json:"centroid_x"`
	CentroidY   float64  `json:"centroid_y"`
	Spread      float64  `json:"spread"`
	Velocity    float64  `json:"velocity"`
	SampleCount int      `json:"sample_count"`
	Activity    Activity `json:"activity"`
}

// Result carries the generated keyframes and the chunks they came from.
type Result struct {
	Keyframes []project.Keyframe
	Chunks    []Chunk
}

// Director runs the chunk/classify/emit analysis.
type Director struct {
	opts   Options
	logger *slog.Logger
}

// New validates options and fills defaults.
func New(opts Options) (*Director, error) {
	def := DefaultOptions()
	if opts.ChunkSeconds == 0 {
		opts.ChunkSeconds = def.ChunkSeconds
	}
	if opts.DwellThresholdSeconds == 0 {
		opts.DwellThresholdSeconds = def.DwellThresholdSeconds
	}
	if opts.DwellRadius == 0 {
		opts.DwellRadius = def.DwellRadius
	}
	if opts.HoverZoom == 0 {
		opts.HoverZoom = def.HoverZoom
	}
	if opts.ScanZoom == 0 {
		opts.ScanZoom = def.ScanZoom
	}
	if opts.MinViewportSize == 0 {
		opts.MinViewportSize = def.MinViewportSize
	}
	if opts.DwellVelocityThreshold == 0 {
		opts.DwellVelocityThreshold = def.DwellVelocityThreshold
	}
	if opts.MonitorCount == 0 {
		opts.MonitorCount = def.MonitorCount
	}

	var errs []error
	// Chunks are stepped in whole nanoseconds; anything that truncates to zero never advances.
	if math.IsNaN(opts.ChunkSeconds) || math.IsInf(opts.ChunkSeconds, 0) || opts.ChunkSeconds < 0 || uint64(opts.ChunkSeconds*1e9) == 0 {
		errs = append(errs, fmt.Errorf("chunk seconds %v must be at least 1ns", opts.ChunkSeconds))
	}
	for name, v := range map[string]float64{"hover zoom": opts.HoverZoom, "scan zoom": opts.ScanZoom, "min viewport size": opts.MinViewportSize} {
		if v <= 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s %v outside (0,1]", name, v))
		}
	}
	if opts.SmoothingWindow < 0 {
		errs = append(errs, errors.New("smoothing window must not be negative"))
	}
	if opts.MonitorCount < 0 || opts.FocusedMonitor < 0 {
		errs = append(errs, errors.New("monitor count and focused monitor must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, &faults.Error{Code: faults.CodeConfiguration, Message: "invalid director options", Err: err}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Director{opts: opts, logger: logger}, nil
}

type sample struct {
	t    uint64
	x, y float64
}

// Analyze chunks the pointer activity in evs and emits one auto keyframe per
// classification transition. Keyframe times are seconds on the session clock.
func (d *Director) Analyze(evs []events.Event) Result {
	samples := d.focusedSamples(evs)
	chunks := d.chunk(samples)
	raw := d.emit(chunks)
	kfs := d.smooth(raw)
	d.logger.Debug("auto director analysed events",
		slog.Int("samples", len(samples)),
		slog.Int("chunks", len(chunks)),
		slog.Int("keyframes", len(kfs)),
	)
	return Result{Keyframes: kfs, Chunks: chunks}
}

// focusedSamples keeps positional events on the focused monitor slot and re-normalizes x
// into that slot.
func (d *Director) focusedSamples(evs []events.Event) []sample {
	count := d.opts.MonitorCount
	focus := min(d.opts.FocusedMonitor, max(count-1, 0))
	slot := 1.0
	lo, hi := 0.0, 1.0
	if count > 1 {
		slot = 1 / float64(count)
		lo = float64(focus) * slot
		hi = float64(focus+1) * slot
	}
	out := make([]sample, 0, len(evs))
	for _, ev := range evs {
		x, y, ok := ev.Position()
		if !ok {
			continue
		}
		if count > 1 {
			if x < lo || x > hi {
				continue
			}
			x = (x - lo) / slot
		}
		out = append(out, sample{t: ev.T, x: x, y: y})
	}
	return out
}

func (d *Director) chunk(samples []sample) []Chunk {
	if len(samples) == 0 {
		return nil
	}
	chunkNs := uint64(d.opts.ChunkSeconds * 1e9)
	startNs := samples[0].t
	endNs := samples[len(samples)-1].t

	var chunks []Chunk
	idx := 0
	for chunkStart := startNs; ; chunkStart += chunkNs {
		chunkEnd := chunkStart + chunkNs
		var window []sample
		for idx < len(samples) && samples[idx].t < chunkEnd {
			window = append(window, samples[idx])
			idx++
		}
		c := Chunk{
			StartSecs: float64(chunkStart) / 1e9,
			EndSecs:   float64(chunkEnd) / 1e9,
			CentroidX: 0.5,
			CentroidY: 0.5,
			Activity:  ActivityIdle,
		}
		if len(window) > 0 {
			c.SampleCount = len(window)
			c.CentroidX, c.CentroidY = centroid(window)
			c.Spread = spread(window, c.CentroidX, c.CentroidY)
			c.Velocity = velocity(window, d.opts.ChunkSeconds)
			c.Activity = ActivityScan
			if c.Spread <= d.opts.DwellRadius && c.Velocity <= d.opts.DwellVelocityThreshold {
				c.Activity = ActivityDwell
			}
		}
		chunks = append(chunks, c)
		if chunkEnd > endNs {
			break
		}
	}
	return chunks
}

// emit turns chunks into keyframes. A dwell only counts once its streak reaches the dwell
// threshold; shorter dwells are treated as scans. Consecutive chunks of the same class
// collapse into the first unless the centroid drifts further than the dwell radius.
func (d *Director) emit(chunks []Chunk) []project.Keyframe {
	var (
		kfs       []project.Keyframe
		streak    float64
		lastClass Activity
		lastX     float64
		lastY     float64
	)
	for _, c := range chunks {
		if c.Activity == ActivityIdle {
			streak = 0
			continue
		}
		class := c.Activity
		if class == ActivityDwell {
			streak += c.EndSecs - c.StartSecs
			if streak < d.opts.DwellThresholdSeconds {
				class = ActivityScan
			}
		} else {
			streak = 0
		}

		if class == lastClass && math.Hypot(c.CentroidX-lastX, c.CentroidY-lastY) <= d.opts.DwellRadius {
			continue
		}

		size := d.opts.ScanZoom
		if class == ActivityDwell {
			size = math.Max(d.opts.HoverZoom, d.opts.MinViewportSize)
		}
		kf := project.Keyframe{
			T:        c.StartSecs,
			Viewport: project.CenteredViewport(c.CentroidX, c.CentroidY, size, size),
			Easing:   project.EasingEaseInOut,
			Source:   project.SourceAuto,
		}
		// Identical timestamps: the later chunk wins.
		if n := len(kfs); n > 0 && math.Abs(kfs[n-1].T-kf.T) < 1e-6 {
			kfs[n-1] = kf
		} else {
			kfs = append(kfs, kf)
		}
		lastClass, lastX, lastY = class, c.CentroidX, c.CentroidY
	}
	return kfs
}

// smooth averages interior keyframe viewports over the configured window; the first and
// last keyframes are kept as-is.
func (d *Director) smooth(kfs []project.Keyframe) []project.Keyframe {
	window := d.opts.SmoothingWindow
	if len(kfs) <= 2 || window <= 1 {
		return kfs
	}
	out := make([]project.Keyframe, len(kfs))
	out[0], out[len(kfs)-1] = kfs[0], kfs[len(kfs)-1]
	half := window / 2
	for i := 1; i < len(kfs)-1; i++ {
		start := max(i-half, 0)
		end := min(i+half+1, len(kfs))
		var sx, sy, sw, sh float64
		for _, kf := range kfs[start:end] {
			sx += kf.Viewport.X
			sy += kf.Viewport.Y
			sw += kf.Viewport.W
			sh += kf.Viewport.H
		}
		n := float64(end - start)
		out[i] = kfs[i]
		out[i].Viewport = project.NewViewport(sx/n, sy/n, sw/n, sh/n)
	}
	return out
}

func centroid(s []sample) (float64, float64) {
	var sx, sy float64
	for _, p := range s {
		sx += p.x
		sy += p.y
	}
	n := float64(len(s))
	return sx / n, sy / n
}

func spread(s []sample, cx, cy float64) float64 {
	var m float64
	for _, p := range s {
		m = math.Max(m, math.Hypot(p.x-cx, p.y-cy))
	}
	return m
}

func velocity(s []sample, seconds float64) float64 {
	if len(s) < 2 || seconds <= 0 {
		return 0
	}
	var dist float64
	for i := 1; i < len(s); i++ {
		dist += math.Hypot(s[i].x-s[i-1].x, s[i].y-s[i-1].y)
	}
	return dist / seconds
}
