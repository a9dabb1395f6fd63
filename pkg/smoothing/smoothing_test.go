package smoothing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/offlinefirst/screenreel/pkg/events"
	"github.com/offlinefirst/screenreel/pkg/project"
)

func jitteryPath() []Point {
	return []Point{
		{T: 0, X: 0.50, Y: 0.50},
		{T: 16_000_000, X: 0.53, Y: 0.48},
		{T: 32_000_000, X: 0.48, Y: 0.52},
		{T: 48_000_000, X: 0.52, Y: 0.49},
		{T: 64_000_000, X: 0.49, Y: 0.51},
		{T: 80_000_000, X: 0.51, Y: 0.50},
		{T: 96_000_000, X: 0.50, Y: 0.50},
	}
}

func jitter(points []Point) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		total += math.Hypot(points[i].X-points[i-1].X, points[i].Y-points[i-1].Y)
	}
	return total
}

func TestEMAKeepsLengthAndFirstSample(t *testing.T) {
	raw := jitteryPath()
	for _, s := range []float64{0.05, 0.3, 0.5, 0.95} {
		out := Algorithm{Kind: KindEMA, Strength: s}.Smooth(raw)
		if len(out) != len(raw) {
			t.Fatalf("strength %v: expected %d points, got %d", s, len(raw), len(out))
		}
		if out[0] != raw[0] {
			t.Fatalf("strength %v: first sample changed: %+v", s, out[0])
		}
	}
	if got := (Algorithm{Kind: KindEMA, Strength: 0.7}).Smooth(raw); jitter(got) >= jitter(raw) {
		t.Fatalf("expected EMA to reduce jitter")
	}
}

func TestBezierIsNoOpForShortInput(t *testing.T) {
	alg := Algorithm{Kind: KindBezier, Strength: 0.8}
	for _, raw := range [][]Point{nil, {{T: 1, X: 0.2, Y: 0.3}}, {{T: 1, X: 0.2, Y: 0.3}, {T: 2, X: 0.9, Y: 0.1}}} {
		out := alg.Smooth(raw)
		require.Len(t, out, len(raw))
		for i := range raw {
			require.Equal(t, raw[i], out[i])
		}
	}
}

func TestBezierPullsInteriorTowardMidpoint(t *testing.T) {
	raw := []Point{{T: 0, X: 0, Y: 0}, {T: 1, X: 1, Y: 1}, {T: 2, X: 0, Y: 0}}
	out := Algorithm{Kind: KindBezier, Strength: 0.5}.Smooth(raw)
	require.Equal(t, raw[0], out[0])
	require.Equal(t, raw[2], out[2])
	require.InDelta(t, 0.5, out[1].X, 1e-12)
}

func TestKalmanVarianceNonIncreasingOnStillPointer(t *testing.T) {
	k := NewKalman1D(0.5, 0.4)
	prev := k.Variance()
	for i := 0; i < 200; i++ {
		k.Update(0.4)
		v := k.Variance()
		if v > prev+1e-15 {
			t.Fatalf("variance increased at step %d: %v > %v", i, v, prev)
		}
		prev = v
	}
	require.Less(t, prev, 1.0)
}

func TestKalmanSmoothsJitter(t *testing.T) {
	raw := jitteryPath()
	out := Algorithm{Kind: KindKalman, Strength: 0.9}.Smooth(raw)
	require.Len(t, out, len(raw))
	require.Less(t, jitter(out), jitter(raw))
}

func TestMovingAverageWindow(t *testing.T) {
	raw := []Point{{T: 0, X: 0}, {T: 1, X: 3}, {T: 2, X: 6}, {T: 3, X: 9}}
	out := Algorithm{Kind: KindMovingAverage, Window: 3}.Smooth(raw)
	require.InDelta(t, 1.5, out[0].X, 1e-12)
	require.InDelta(t, 3.0, out[1].X, 1e-12)
	require.InDelta(t, 7.5, out[3].X, 1e-12)
}

func TestSampleAtLastAtOrBefore(t *testing.T) {
	_, ok := SampleAt(nil, 10)
	require.False(t, ok)

	path := []Point{{T: 0, X: 0, Y: 0}, {T: 1_000_000_000, X: 1, Y: 1}}
	got, ok := SampleAt(path, 500_000_000)
	require.True(t, ok)
	require.Equal(t, path[0], got)

	got, ok = SampleAt(path, 1_000_000_000)
	require.True(t, ok)
	require.Equal(t, path[1], got)

	_, ok = SampleAt([]Point{{T: 5}}, 4)
	require.False(t, ok)
}

func TestPositionAtInterpolates(t *testing.T) {
	path := []Point{{T: 0, X: 0, Y: 0}, {T: 1_000_000_000, X: 1, Y: 0.5}}
	x, y, ok := PositionAt(path, 250_000_000)
	require.True(t, ok)
	require.InDelta(t, 0.25, x, 1e-12)
	require.InDelta(t, 0.125, y, 1e-12)

	x, _, _ = PositionAt(path, 5_000_000_000)
	require.Equal(t, 1.0, x)

	_, _, ok = PositionAt(nil, 0)
	require.False(t, ok)
}

func TestFromCursorConfig(t *testing.T) {
	cfg := project.DefaultCursorConfig()
	cfg.Smoothing = project.SmoothingKalman
	cfg.SmoothingFactor = 1.4
	alg := FromCursorConfig(cfg)
	require.Equal(t, KindKalman, alg.Kind)
	require.Equal(t, 1.0, alg.Strength)

	cfg.Smoothing = project.SmoothingNone
	require.Equal(t, KindEMA, FromCursorConfig(cfg).WithStrength(0.4).Kind)

	cfg.Smoothing = project.SmoothingMovingAverage
	cfg.SmoothingFactor = 0.4
	require.Equal(t, 5, FromCursorConfig(cfg).Window)
}

func TestFromEventsKeepsPositionalKinds(t *testing.T) {
	pts := FromEvents([]events.Event{
		events.Pointer(1, 0.1, 0.1),
		events.Key(2, "KeyA", events.StateDown),
		events.Click(3, events.ButtonLeft, events.StateDown, 0.2, 0.2),
		events.WindowFocus(4, "x", ""),
		events.Scroll(5, 0, 1, 0.3, 0.3),
	})
	require.Len(t, pts, 3)
	require.Equal(t, uint64(5), pts[2].T)
}

