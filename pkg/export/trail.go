package export

import (
	"math"

	"github.com/offlinefirst/screenreel/pkg/project"
)

// TrailLayer is one ghost cursor drawn behind fast movement.
type TrailLayer struct {
	Opacity float64
	X       string
	Y       string
}

// buildTrail derives the ghost layers for a cursor path. Ghost k lags by spacing·k frames and
// is parked off-canvas while the cursor moves slower than the threshold.
func buildTrail(points []cursorPoint, cfg project.MotionTrail, fps, width, height int) []TrailLayer {
	if !cfg.Enabled || len(points) < 2 {
		return nil
	}
	ghosts := min(max(cfg.GhostCount, trailGhostMin), trailGhostMax)
	spacing := min(max(cfg.FrameSpacing, 1), trailFrameSpacingMax)
	rate := float64(max(fps, 1))
	threshold := math.Min(math.Max(cfg.SpeedThreshold, 0), trailMaxSpeedFactor) * float64(max(min(width, height), 1))

	speeds := make([]float64, len(points))
	for i := 1; i < len(points); i++ {
		dt := math.Max(points[i].T-points[i-1].T, 1e-6)
		speeds[i] = math.Hypot(points[i].X-points[i-1].X, points[i].Y-points[i-1].Y) / dt
	}

	layers := make([]TrailLayer, 0, ghosts)
	for k := 1; k <= ghosts; k++ {
		lag := float64(spacing*k) / rate
		xs := make([]ExprPoint, len(points))
		ys := make([]ExprPoint, len(points))
		for i, p := range points {
			if speeds[i] < threshold {
				xs[i] = ExprPoint{T: p.T, V: trailHiddenPosition}
				ys[i] = ExprPoint{T: p.T, V: trailHiddenPosition}
				continue
			}
			sx, sy := cursorAt(points, math.Max(p.T-lag, 0))
			xs[i] = ExprPoint{T: p.T, V: sx}
			ys[i] = ExprPoint{T: p.T, V: sy}
		}
		layers = append(layers, TrailLayer{
			Opacity: math.Min(math.Max(trailOpacityNumer/float64(k), trailOpacityMin), trailOpacityMax),
			X:       PiecewiseExpr(xs),
			Y:       PiecewiseExpr(ys),
		})
	}
	return layers
}

// cursorAt linearly interpolates a pixel path, holding the ends.
func cursorAt(points []cursorPoint, t float64) (float64, float64) {
	first, last := points[0], points[len(points)-1]
	if t <= first.T {
		return first.X, first.Y
	}
	if t >= last.T {
		return last.X, last.Y
	}
	for i := 0; i < len(points)-1; i++ {
		a, b := points[i], points[i+1]
		if t >= a.T && t <= b.T {
			f := clampUnit((t - a.T) / math.Max(b.T-a.T, 1e-6))
			return a.X + (b.X-a.X)*f, a.Y + (b.Y-a.Y)*f
		}
	}
	return last.X, last.Y
}
