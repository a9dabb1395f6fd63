package director

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/offlinefirst/screenreel/pkg/events"
	"github.com/offlinefirst/screenreel/pkg/faults"
	"github.com/offlinefirst/screenreel/pkg/project"
)

func newDirector(t *testing.T, opts Options) *Director {
	t.Helper()
	d, err := New(opts)
	require.NoError(t, err)
	return d
}

func TestDwellFixtureYieldsSingleTightKeyframe(t *testing.T) {
	evs := events.DwellScript(0, 5*time.Second, 60, 0.5, 0.5)
	res := newDirector(t, DefaultOptions()).Analyze(evs)

	require.Len(t, res.Keyframes, 1)
	kf := res.Keyframes[0]
	cx, cy := kf.Viewport.Center()
	require.InDelta(t, 0.5, cx, 0.01)
	require.InDelta(t, 0.5, cy, 0.01)
	require.Less(t, kf.Viewport.W, DefaultOptions().ScanZoom)
	require.Equal(t, project.SourceAuto, kf.Source)
	require.Equal(t, project.EasingEaseInOut, kf.Easing)
	for _, c := range res.Chunks {
		require.Equal(t, ActivityDwell, c.Activity)
	}
}

func TestDwellThenScanEmitsTransition(t *testing.T) {
	evs := events.DwellScript(0, 4*time.Second, 60, 0.2, 0.2)
	evs = append(evs, events.ScanScript(4*time.Second, 4*time.Second, 60, 0.05, 0.05, 0.95, 0.95)...)

	opts := DefaultOptions()
	opts.SmoothingWindow = 0
	res := newDirector(t, opts).Analyze(evs)

	require.GreaterOrEqual(t, len(res.Keyframes), 2)
	first := res.Keyframes[0]
	require.Equal(t, 0.0, first.T)
	require.InDelta(t, opts.HoverZoom, first.Viewport.W, 1e-9)
	second := res.Keyframes[1]
	require.InDelta(t, 4.0, second.T, 1e-9)
	require.InDelta(t, opts.ScanZoom, second.Viewport.W, 1e-9)

	for i := 1; i < len(res.Keyframes); i++ {
		require.Greater(t, res.Keyframes[i].T, res.Keyframes[i-1].T)
	}
}

func TestShortDwellBelowThresholdCountsAsScan(t *testing.T) {
	opts := DefaultOptions()
	opts.ChunkSeconds = 0.5
	opts.DwellThresholdSeconds = 2
	opts.SmoothingWindow = 0
	evs := events.DwellScript(0, time.Second, 60, 0.5, 0.5)

	res := newDirector(t, opts).Analyze(evs)
	require.Len(t, res.Keyframes, 1)
	require.InDelta(t, opts.ScanZoom, res.Keyframes[0].Viewport.W, 1e-9)
}

func TestIdleChunksAreSkipped(t *testing.T) {
	evs := []events.Event{
		events.Pointer(0, 0.5, 0.5),
		events.Pointer(uint64(500*time.Millisecond), 0.5, 0.5),
		events.Pointer(uint64(9*time.Second), 0.52, 0.5),
	}
	res := newDirector(t, DefaultOptions()).Analyze(evs)

	idle := 0
	for _, c := range res.Chunks {
		if c.Activity == ActivityIdle {
			idle++
		}
	}
	require.Equal(t, 3, idle)
	require.Len(t, res.Keyframes, 1)
}

func TestMonitorFocusFiltersAndRenormalizes(t *testing.T) {
	var evs []events.Event
	for i := 0; i < 120; i++ {
		ts := uint64(i) * uint64(16*time.Millisecond)
		evs = append(evs, events.Pointer(ts, 0.75, 0.5))
		evs = append(evs, events.Pointer(ts+1, 0.1+0.3*math.Sin(float64(i)), 0.5))
	}
	opts := DefaultOptions()
	opts.MonitorCount = 2
	opts.FocusedMonitor = 1

	res := newDirector(t, opts).Analyze(evs)
	require.NotEmpty(t, res.Keyframes)
	cx, _ := res.Keyframes[0].Viewport.Center()
	require.InDelta(t, 0.5, cx, 0.01)
}

func TestSmoothingKeepsEndpoints(t *testing.T) {
	d := newDirector(t, DefaultOptions())
	kfs := []project.Keyframe{
		{T: 0, Viewport: project.CenteredViewport(0.2, 0.2, 0.4, 0.4)},
		{T: 2, Viewport: project.CenteredViewport(0.8, 0.8, 0.85, 0.85)},
		{T: 4, Viewport: project.CenteredViewport(0.2, 0.8, 0.4, 0.4)},
	}
	out := d.smooth(kfs)
	require.Equal(t, kfs[0], out[0])
	require.Equal(t, kfs[2], out[2])
	require.InDelta(t, (0.4+0.85+0.4)/3, out[1].Viewport.W, 1e-9)
	require.NoError(t, out[1].Viewport.Validate())
}

func TestApplyToTimelinePreservesManual(t *testing.T) {
	tl := project.NewTimeline()
	tl.SetKeyframe(project.Keyframe{T: 0, Viewport: project.FullViewport})

	res := newDirector(t, DefaultOptions()).Analyze(events.DwellScript(0, 5*time.Second, 60, 0.5, 0.5))
	tl.ApplyAuto(res.Keyframes, false)

	require.Len(t, tl.Keyframes, 1)
	require.Equal(t, project.SourceManual, tl.Keyframes[0].Source)
}

func TestNewRejectsInvalidZoom(t *testing.T) {
	opts := DefaultOptions()
	opts.HoverZoom = 1.5
	_, err := New(opts)
	require.Error(t, err)
}

func TestAnalyzeEmptyInput(t *testing.T) {
	res := newDirector(t, Options{}).Analyze(nil)
	require.Empty(t, res.Keyframes)
	require.Empty(t, res.Chunks)
}

func TestNewRejectsChunkSeconds(t *testing.T) {
	cases := map[string]float64{
		"negative":      -1,
		"below 1ns":     1e-10,
		"not a number":  math.NaN(),
		"infinite":      math.Inf(1),
		"negative tiny": -1e-12,
	}
	for name, chunk := range cases {
		t.Run(name, func(t *testing.T) {
			opts := DefaultOptions()
			opts.ChunkSeconds = chunk
			_, err := New(opts)
			if !faults.Is(err, faults.CodeConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
			require.ErrorContains(t, err, "chunk seconds")
		})
	}

	opts := DefaultOptions()
	opts.ChunkSeconds = 1e-9
	d := newDirector(t, opts)
	require.NotEmpty(t, d.Analyze(events.DwellScript(0, 10*time.Nanosecond, 1e9, 0.5, 0.5)).Chunks)
}

func TestVerticalFollowsPointer(t *testing.T) {
	evs := events.ScanScript(0, 4*time.Second, 60, 0.1, 0.5, 0.9, 0.5)
	kfs, err := newDirector(t, DefaultOptions()).Vertical(evs, VerticalOptions{})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(kfs), 7)

	for i, kf := range kfs {
		require.NoError(t, kf.Viewport.Validate())
		require.InDelta(t, 9.0/16.0, (kf.Viewport.W*16)/(kf.Viewport.H*9), 1e-9, "keyframe %d is not 9:16 in pixels", i)
		require.Equal(t, project.SourceAuto, kf.Source)
		if i > 0 {
			require.GreaterOrEqual(t, kf.T-kfs[i-1].T, 0.5-1e-9)
			cx, _ := kf.Viewport.Center()
			px, _ := kfs[i-1].Viewport.Center()
			require.GreaterOrEqual(t, cx, px-1e-9, "camera pans with the pointer")
		}
	}
}

func TestVerticalWithoutPointerIsCentered(t *testing.T) {
	kfs, err := newDirector(t, DefaultOptions()).Vertical(nil, VerticalOptions{SourceAspect: 1})
	require.NoError(t, err)
	require.Len(t, kfs, 1)
	cx, cy := kfs[0].Viewport.Center()
	require.InDelta(t, 0.5, cx, 1e-9)
	require.InDelta(t, 0.5, cy, 1e-9)
	require.InDelta(t, 0.6*9/16, kfs[0].Viewport.W, 1e-9)

	_, err = newDirector(t, DefaultOptions()).Vertical(nil, VerticalOptions{Responsiveness: 2})
	if !faults.Is(err, faults.CodeConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
