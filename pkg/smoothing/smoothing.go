// Package smoothing turns raw pointer samples into a smooth cursor path.
package smoothing

import (
	"sort"

	"github.com/offlinefirst/screenreel/pkg/events"
	"github.com/offlinefirst/screenreel/pkg/project"
)

// Point is one cursor sample; T is nanoseconds since session start.
type Point struct {
	T uint64
	X float64
	Y float64
}

// Kind selects a smoothing filter.
type Kind string

const (
	KindNone          Kind = "none"
	KindEMA           Kind = "ema"
	KindBezier        Kind = "bezier"
	KindKalman        Kind = "kalman"
	KindMovingAverage Kind = "moving_average"
)

// DefaultWindow is the moving-average window used when none is configured.
const DefaultWindow = 5

// Algorithm is a filter choice plus its parameters. Strength is in [0,1]; larger smooths
// more. Window is only read by moving_average.
type Algorithm struct {
	Kind     Kind
	Strength float64
	Window   int
}

// FromCursorConfig maps timeline cursor settings onto an Algorithm.
func FromCursorConfig(cfg project.CursorConfig) Algorithm {
	strength := clamp01(cfg.SmoothingFactor)
	switch cfg.Smoothing {
	case project.SmoothingEMA:
		return Algorithm{Kind: KindEMA, Strength: strength}
	case project.SmoothingBezier:
		return Algorithm{Kind: KindBezier, Strength: strength}
	case project.SmoothingKalman:
		return Algorithm{Kind: KindKalman, Strength: strength}
	case project.SmoothingMovingAverage:
		// Strength 0..1 maps to odd windows 1..11.
		return Algorithm{Kind: KindMovingAverage, Strength: strength, Window: 1 + 2*int(strength*5+0.5)}
	default:
		return Algorithm{Kind: KindNone}
	}
}

// WithStrength returns a copy using strength s. A none filter is upgraded to EMA so an
// explicit strength always has an effect.
func (a Algorithm) WithStrength(s float64) Algorithm {
	a.Strength = clamp01(s)
	if a.Kind == KindNone || a.Kind == "" {
		a.Kind = KindEMA
	}
	return a
}

// Smooth applies the filter. The output has the same length and timestamps as the input.
func (a Algorithm) Smooth(points []Point) []Point {
	switch a.Kind {
	case KindEMA:
		return ema(points, a.Strength)
	case KindBezier:
		return bezier(points, a.Strength)
	case KindKalman:
		return kalman(points, a.Strength)
	case KindMovingAverage:
		window := a.Window
		if window <= 0 {
			window = DefaultWindow
		}
		return movingAverage(points, window)
	default:
		out := make([]Point, len(points))
		copy(out, points)
		return out
	}
}

// FromEvents extracts positional samples from pointer, click and scroll events.
func FromEvents(evs []events.Event) []Point {
	out := make([]Point, 0, len(evs))
	for _, ev := range evs {
		if x, y, ok := ev.Position(); ok {
			out = append(out, Point{T: ev.T, X: x, Y: y})
		}
	}
	return out
}

func ema(raw []Point, strength float64) []Point {
	if len(raw) == 0 {
		return []Point{}
	}
	alpha := clamp01(1 - strength)
	out := make([]Point, len(raw))
	out[0] = raw[0]
	prev := raw[0]
	for i := 1; i < len(raw); i++ {
		prev.X = alpha*raw[i].X + (1-alpha)*prev.X
		prev.Y = alpha*raw[i].Y + (1-alpha)*prev.Y
		out[i] = Point{T: raw[i].T, X: prev.X, Y: prev.Y}
	}
	return out
}

func bezier(raw []Point, strength float64) []Point {
	out := make([]Point, len(raw))
	copy(out, raw)
	if len(raw) < 3 {
		return out
	}
	pull := clamp01(strength)
	for i := 1; i < len(raw)-1; i++ {
		mx := (raw[i-1].X + raw[i+1].X) * 0.5
		my := (raw[i-1].Y + raw[i+1].Y) * 0.5
		out[i].X = raw[i].X*(1-pull) + mx*pull
		out[i].Y = raw[i].Y*(1-pull) + my*pull
	}
	return out
}

func kalman(raw []Point, strength float64) []Point {
	if len(raw) == 0 {
		return []Point{}
	}
	fx := NewKalman1D(strength, raw[0].X)
	fy := NewKalman1D(strength, raw[0].Y)
	out := make([]Point, len(raw))
	for i, p := range raw {
		out[i] = Point{T: p.T, X: fx.Update(p.X), Y: fy.Update(p.Y)}
	}
	return out
}

func movingAverage(raw []Point, window int) []Point {
	out := make([]Point, len(raw))
	half := window / 2
	for i := range raw {
		start := max(i-half, 0)
		end := min(i+half+1, len(raw))
		var sx, sy float64
		for _, p := range raw[start:end] {
			sx += p.X
			sy += p.Y
		}
		n := float64(end - start)
		out[i] = Point{T: raw[i].T, X: sx / n, Y: sy / n}
	}
	return out
}

// Kalman1D is a constant-position Kalman filter over one axis.
type Kalman1D struct {
	x, p, q, r float64
}

// NewKalman1D seeds the estimate at x0 with unit variance.
func NewKalman1D(strength, x0 float64) *Kalman1D {
	s := clamp01(strength)
	return &Kalman1D{
		x: x0,
		p: 1,
		q: 0.001 + (1-s)*0.01,
		r: 0.001 + s*0.04,
	}
}

// Update runs one predict/update step with measurement z and returns the new estimate.
func (k *Kalman1D) Update(z float64) float64 {
	k.p += k.q
	gain := k.p / (k.p + k.r)
	k.x += gain * (z - k.x)
	k.p = (1 - gain) * k.p
	return k.x
}

// Variance is the current estimate variance.
func (k *Kalman1D) Variance() float64 {
	return k.p
}

// SampleAt returns the latest sample at or before t. Empty input or a query before the first
// sample yields false.
func SampleAt(points []Point, t uint64) (Point, bool) {
	idx := sort.Search(len(points), func(i int) bool { return points[i].T > t })
	if idx == 0 {
		return Point{}, false
	}
	return points[idx-1], true
}

// PositionAt linearly interpolates the path at t, holding the first and last samples
// outside the recorded range.
func PositionAt(points []Point, t uint64) (float64, float64, bool) {
	if len(points) == 0 {
		return 0, 0, false
	}
	first, last := points[0], points[len(points)-1]
	if t <= first.T {
		return first.X, first.Y, true
	}
	if t >= last.T {
		return last.X, last.Y, true
	}
	idx := sort.Search(len(points), func(i int) bool { return points[i].T > t })
	a, b := points[idx-1], points[idx]
	span := float64(b.T - a.T)
	if span < 1 {
		return a.X, a.Y, true
	}
	f := float64(t-a.T) / span
	return a.X + (b.X-a.X)*f, a.Y + (b.Y-a.Y)*f, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
