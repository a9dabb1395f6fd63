package project

import (
	"fmt"
	"math"
)

const minViewportSide = 0.01

// Viewport is a normalized crop rectangle; (0,0) is the top-left of the capture.
type Viewport struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// FullViewport shows the whole capture without zoom.
var FullViewport = Viewport{X: 0, Y: 0, W: 1, H: 1}

// NewViewport clamps each component into range; sides never drop below 1%.
func NewViewport(x, y, w, h float64) Viewport {
	return Viewport{
		X: clamp(x, 0, 1),
		Y: clamp(y, 0, 1),
		W: clamp(w, minViewportSide, 1),
		H: clamp(h, minViewportSide, 1),
	}
}

// CenteredViewport places a w×h rectangle around (cx, cy), shifted to stay inside the frame.
func CenteredViewport(cx, cy, w, h float64) Viewport {
	w = clamp(w, minViewportSide, 1)
	h = clamp(h, minViewportSide, 1)
	return Viewport{
		X: clamp(cx-w/2, 0, 1-w),
		Y: clamp(cy-h/2, 0, 1-h),
		W: w,
		H: h,
	}
}

// VerticalCenteredViewport builds a crop of the given normalized height that is 9:16 in
// pixels on a source whose width/height ratio is sourceAspect. A non-positive aspect is
// treated as square.
func VerticalCenteredViewport(cx, cy, height, sourceAspect float64) Viewport {
	if sourceAspect <= 0 {
		sourceAspect = 1
	}
	return CenteredViewport(cx, cy, height*9/16/sourceAspect, height)
}

// LerpViewport interpolates component-wise; t is clamped to [0,1].
func LerpViewport(a, b Viewport, t float64) Viewport {
	t = clamp(t, 0, 1)
	return Viewport{
		X: a.X + (b.X-a.X)*t,
		Y: a.Y + (b.Y-a.Y)*t,
		W: a.W + (b.W-a.W)*t,
		H: a.H + (b.H-a.H)*t,
	}
}

// Center returns the midpoint of the rectangle.
func (v Viewport) Center() (float64, float64) {
	return v.X + v.W/2, v.Y + v.H/2
}

func (v Viewport) right() float64  { return math.Min(v.X+v.W, 1) }
func (v Viewport) bottom() float64 { return math.Min(v.Y+v.H, 1) }

// ZoomFactor is 1 for the full frame and grows as the crop shrinks.
func (v Viewport) ZoomFactor() float64 {
	return 1 / math.Min(v.W, v.H)
}

// Contains reports whether a normalized point lies inside the crop (edges included).
func (v Viewport) Contains(px, py float64) bool {
	return px >= v.X && px <= v.right() && py >= v.Y && py <= v.bottom()
}

// ToLocal maps a capture-space point into crop-local [0,1] coordinates.
func (v Viewport) ToLocal(px, py float64) (float64, float64, bool) {
	if !v.Contains(px, py) {
		return 0, 0, false
	}
	return (px - v.X) / v.W, (py - v.Y) / v.H, true
}

// Validate enforces the stored-viewport invariant: components in [0,1], sides > 0.
func (v Viewport) Validate() error {
	for name, val := range map[string]float64{"x": v.X, "y": v.Y, "w": v.W, "h": v.H} {
		if math.IsNaN(val) || val < 0 || val > 1 {
			return fmt.Errorf("viewport %s=%v outside [0,1]", name, val)
		}
	}
	if v.W <= 0 || v.H <= 0 {
		return fmt.Errorf("viewport size %vx%v must be positive", v.W, v.H)
	}
	if v.X+v.W > 1+1e-9 || v.Y+v.H > 1+1e-9 {
		return fmt.Errorf("viewport %+v extends past the frame", v)
	}
	return nil
}

func (v Viewport) approxEqual(o Viewport) bool {
	const eps = 1e-9
	return math.Abs(v.X-o.X) < eps && math.Abs(v.Y-o.Y) < eps && math.Abs(v.W-o.W) < eps && math.Abs(v.H-o.H) < eps
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
