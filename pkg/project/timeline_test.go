package project

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestViewportAtInterpolatesWithTargetEasing(t *testing.T) {
	tl := NewTimeline()
	tl.Keyframes = []Keyframe{
		{T: 0, Viewport: FullViewport, Easing: EasingLinear, Source: SourceAuto},
		{T: 2, Viewport: NewViewport(0.25, 0.25, 0.5, 0.5), Easing: EasingLinear, Source: SourceAuto},
		{T: 4, Viewport: FullViewport, Easing: EasingEaseIn, Source: SourceAuto},
	}

	mid := tl.ViewportAt(1)
	if math.Abs(mid.W-0.75) > 1e-9 || math.Abs(mid.X-0.125) > 1e-9 {
		t.Fatalf("expected halfway viewport, got %+v", mid)
	}

	// ease_in at p=0.5 is 0.125 of the way back to full.
	eased := tl.ViewportAt(3)
	if math.Abs(eased.W-(0.5+0.5*0.125)) > 1e-9 {
		t.Fatalf("expected eased width, got %v", eased.W)
	}

	if got := tl.ViewportAt(-1); got != FullViewport {
		t.Fatalf("expected first keyframe before start, got %+v", got)
	}
	if got := tl.ViewportAt(10); got != FullViewport {
		t.Fatalf("expected last keyframe after end, got %+v", got)
	}
}

func TestViewportAtWithoutKeyframesIsFull(t *testing.T) {
	tl := NewTimeline()
	require.Equal(t, FullViewport, tl.ViewportAt(5))
}

func TestNormalizeKeepsKeyframesSortedAndUnique(t *testing.T) {
	tl := NewTimeline()
	tl.Keyframes = []Keyframe{
		{T: 3, Viewport: FullViewport, Easing: EasingLinear, Source: SourceAuto},
		{T: 1, Viewport: FullViewport, Easing: EasingLinear, Source: SourceManual},
		{T: 1, Viewport: NewViewport(0.1, 0.1, 0.4, 0.4), Easing: EasingLinear, Source: SourceAuto},
		{T: 2, Viewport: FullViewport, Easing: EasingLinear, Source: SourceAuto},
	}
	tl.Normalize()

	require.Len(t, tl.Keyframes, 3)
	require.Equal(t, 1.0, tl.Keyframes[0].T)
	require.Equal(t, SourceManual, tl.Keyframes[0].Source)
	require.NoError(t, tl.Validate())
}

func TestApplyAutoPreservesManualKeyframes(t *testing.T) {
	tl := NewTimeline()
	tl.ApplyAuto([]Keyframe{
		{T: 0, Viewport: FullViewport, Easing: EasingEaseInOut},
		{T: 4, Viewport: NewViewport(0.3, 0.3, 0.4, 0.4), Easing: EasingEaseInOut},
	}, false)
	tl.SetKeyframe(Keyframe{T: 4, Viewport: NewViewport(0.1, 0.1, 0.5, 0.5)})

	added := tl.ApplyAuto([]Keyframe{
		{T: 2, Viewport: FullViewport, Easing: EasingEaseInOut},
		{T: 4, Viewport: FullViewport, Easing: EasingEaseInOut},
	}, false)

	require.Equal(t, 1, added)
	require.Len(t, tl.Keyframes, 2)
	require.Equal(t, SourceAuto, tl.Keyframes[0].Source)
	require.Equal(t, SourceManual, tl.Keyframes[1].Source)
	require.Equal(t, 0.5, tl.Keyframes[1].Viewport.W)

	tl.ApplyAuto([]Keyframe{{T: 4, Viewport: FullViewport, Easing: EasingLinear}}, true)
	require.Len(t, tl.Keyframes, 1)
	require.Equal(t, SourceAuto, tl.Keyframes[0].Source)
}

func TestCutBoundsAreInclusive(t *testing.T) {
	tl := NewTimeline()
	tl.Cuts = []Cut{{StartSecs: 10, EndSecs: 15, Reason: "silence"}}

	for _, ts := range []float64{10, 12.5, 15} {
		if !tl.IsCut(ts) {
			t.Fatalf("expected %v to be cut", ts)
		}
	}
	for _, ts := range []float64{9.99, 15.01} {
		if tl.IsCut(ts) {
			t.Fatalf("expected %v to be kept", ts)
		}
	}
}

func TestCursorSmoothStrengthUsesLastEffect(t *testing.T) {
	tl := NewTimeline()
	_, ok := tl.CursorSmoothStrength()
	require.False(t, ok)

	tl.Effects = []Effect{
		{Type: EffectCursorSmooth, Strength: 0.2},
		{Type: EffectHighlight},
		{Type: EffectCursorSmooth, Strength: 1.7},
	}
	s, ok := tl.CursorSmoothStrength()
	require.True(t, ok)
	require.Equal(t, 1.0, s)
}

func TestValidateRejectsBadViewport(t *testing.T) {
	tl := NewTimeline()
	tl.Keyframes = []Keyframe{{T: 0, Viewport: Viewport{X: 0.8, Y: 0, W: 0.5, H: 0.5}, Easing: EasingLinear, Source: SourceAuto}}
	require.Error(t, tl.Validate())
}

func TestEasingEndpoints(t *testing.T) {
	for _, e := range []Easing{EasingLinear, EasingEaseIn, EasingEaseOut, EasingEaseInOut} {
		if e.Apply(0) != 0 || e.Apply(1) != 1 {
			t.Fatalf("%s: endpoints not fixed", e)
		}
	}
}

func TestCenteredViewportStaysInsideFrame(t *testing.T) {
	v := CenteredViewport(0.95, 0.05, 0.4, 0.4)
	require.NoError(t, v.Validate())
	require.InDelta(t, 0.6, v.X, 1e-9)
	require.InDelta(t, 0.0, v.Y, 1e-9)

	lx, ly, ok := v.ToLocal(0.8, 0.2)
	require.True(t, ok)
	require.InDelta(t, 0.5, lx, 1e-9)
	require.InDelta(t, 0.5, ly, 1e-9)

	_, _, ok = v.ToLocal(0.1, 0.1)
	require.False(t, ok)
	require.InDelta(t, 2.5, v.ZoomFactor(), 1e-9)
}

func TestVerticalViewportIsPortraitInPixels(t *testing.T) {
	v := VerticalCenteredViewport(0.95, 0.5, 0.6, 16.0/9.0)
	require.NoError(t, v.Validate())
	require.InDelta(t, 9.0/16.0, (v.W*1920)/(v.H*1080), 1e-9)
	require.InDelta(t, 1-v.W, v.X, 1e-9, "shifted to stay inside the frame")

	square := VerticalCenteredViewport(0.5, 0.5, 0.8, 0)
	require.InDelta(t, 0.45, square.W, 1e-9)
}
