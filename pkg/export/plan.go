package export

import (
	"context"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/offlinefirst/screenreel/pkg/project"
	"github.com/offlinefirst/screenreel/pkg/smoothing"
)

const (
	viewportSamples      = 48
	minCursorExprPoints  = 32
	maxCursorExprPoints  = 96
	cursorPointsPerSec   = 8.0
	cursorSimplifyTolPx  = 0.1
	minFramesPerWorker   = 256
	timeDedupEpsilon     = 1e-6
	scaleDynamicEpsilon  = 1e-6
	cursorSpriteSize     = 32
	cursorHotspot        = 5
	trailHiddenPosition  = -2000.0
	trailOpacityNumer    = 0.34
	trailOpacityMin      = 0.08
	trailOpacityMax      = 0.35
	trailMaxSpeedFactor  = 4.0
	trailGhostMin        = 2
	trailGhostMax        = 4
	trailFrameSpacingMax = 8
)

// Frame is one kept output frame.
type Frame struct {
	Index    int
	T        float64
	Viewport project.Viewport
	// CursorX/CursorY are output pixels; only meaningful when HasCursor is set.
	CursorX   float64
	CursorY   float64
	HasCursor bool
	// OffCamera is set when the cursor lies outside the viewport and was pinned to its edge.
	OffCamera bool
}

// FramePlan is the per-frame composition of an export.
type FramePlan struct {
	FPS int
	// Total counts every frame in [0, End); Frames holds the kept subset in order.
	Total     int
	Frames    []Frame
	Skipped   int
	OffCamera int
}

// PlanOptions configure BuildFramePlan. Cursor must already be projected into
// capture-normalized space.
type PlanOptions struct {
	Timeline   *project.Timeline
	Cursor     []smoothing.Point
	FPS        int
	Start      float64
	End        float64
	Width      int
	Height     int
	FullScreen bool
	Workers    int
}

// BuildFramePlan maps frame n to source time n/fps, skips frames outside [Start, End] or
// inside a cut and composes the rest. Frame ranges are planned concurrently; the timeline
// and cursor path are only read.
func BuildFramePlan(ctx context.Context, opts PlanOptions) (FramePlan, error) {
	fps := max(opts.FPS, 1)
	total := int(math.Ceil(opts.End * float64(fps)))
	plan := FramePlan{FPS: fps, Total: total}
	if total <= 0 {
		return plan, nil
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	chunk := max((total+workers-1)/workers, minFramesPerWorker)

	slots := make([]Frame, total)
	kept := make([]bool, total)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for lo := 0; lo < total; lo += chunk {
		lo, hi := lo, min(lo+chunk, total)
		g.Go(func() error {
			for n := lo; n < hi; n++ {
				if n%minFramesPerWorker == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				t := float64(n) / float64(fps)
				if t < opts.Start || t > opts.End || opts.Timeline.IsCut(t) {
					continue
				}
				slots[n] = composeFrame(opts, n, t)
				kept[n] = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return FramePlan{}, err
	}

	plan.Frames = make([]Frame, 0, total)
	for n := range slots {
		if !kept[n] {
			plan.Skipped++
			continue
		}
		if slots[n].OffCamera {
			plan.OffCamera++
		}
		plan.Frames = append(plan.Frames, slots[n])
	}
	return plan, nil
}

func composeFrame(opts PlanOptions, n int, t float64) Frame {
	vp := project.FullViewport
	if !opts.FullScreen {
		vp = opts.Timeline.ViewportAt(t)
	}
	f := Frame{Index: n, T: t, Viewport: vp}
	cx, cy, ok := smoothing.PositionAt(opts.Cursor, uint64(t*1e9))
	if !ok {
		return f
	}
	lx := (cx - vp.X) / vp.W
	ly := (cy - vp.Y) / vp.H
	f.OffCamera = lx < 0 || lx > 1 || ly < 0 || ly > 1
	f.CursorX = clampUnit(lx) * float64(opts.Width)
	f.CursorY = clampUnit(ly) * float64(opts.Height)
	f.HasCursor = true
	return f
}

type viewportSample struct {
	T  float64
	VP project.Viewport
}

// sampleViewport takes evenly spaced viewport samples across [start, end]. Full-screen
// renders pin the full viewport at both ends.
func sampleViewport(tl *project.Timeline, start, end float64, fullScreen bool) []viewportSample {
	if fullScreen {
		return []viewportSample{{T: start, VP: project.FullViewport}, {T: end, VP: project.FullViewport}}
	}
	out := make([]viewportSample, 0, viewportSamples)
	span := math.Max(end-start, 0)
	for i := 0; i < viewportSamples; i++ {
		t := start + span*float64(i)/float64(viewportSamples-1)
		out = append(out, viewportSample{T: t, VP: tl.ViewportAt(t)})
	}
	return out
}

// viewportIsDynamic reports whether the viewport size changes, which forces per-frame scaling.
func viewportIsDynamic(samples []viewportSample) bool {
	if len(samples) == 0 {
		return false
	}
	w, h := samples[0].VP.W, samples[0].VP.H
	for _, s := range samples[1:] {
		if math.Abs(s.VP.W-w) > scaleDynamicEpsilon || math.Abs(s.VP.H-h) > scaleDynamicEpsilon {
			return true
		}
	}
	return false
}

// ViewportExprs are the x/y/w/h expressions driving the screen layer.
type ViewportExprs struct {
	X, Y, W, H string
	Dynamic    bool
	Points     int
}

func viewportExprs(samples []viewportSample) ViewportExprs {
	xs := make([]ExprPoint, len(samples))
	ys := make([]ExprPoint, len(samples))
	ws := make([]ExprPoint, len(samples))
	hs := make([]ExprPoint, len(samples))
	for i, s := range samples {
		xs[i] = ExprPoint{T: s.T, V: s.VP.X}
		ys[i] = ExprPoint{T: s.T, V: s.VP.Y}
		ws[i] = ExprPoint{T: s.T, V: s.VP.W}
		hs[i] = ExprPoint{T: s.T, V: s.VP.H}
	}
	return ViewportExprs{
		X: PiecewiseExpr(xs), Y: PiecewiseExpr(ys),
		W: PiecewiseExpr(ws), H: PiecewiseExpr(hs),
		Dynamic: viewportIsDynamic(samples),
		Points:  len(samples),
	}
}

// cursorPoint is a cursor position in output pixels at source time T seconds.
type cursorPoint struct {
	T, X, Y float64
}

// cursorPath turns the kept frames into a bounded list of expression knots, padded to end.
func cursorPath(plan FramePlan, start, end float64, width, height int) []cursorPoint {
	var pts []cursorPoint
	for _, f := range plan.Frames {
		if !f.HasCursor {
			continue
		}
		if n := len(pts); n > 0 && math.Abs(pts[n-1].T-f.T) < timeDedupEpsilon {
			pts[n-1] = cursorPoint{T: f.T, X: f.CursorX, Y: f.CursorY}
			continue
		}
		pts = append(pts, cursorPoint{T: f.T, X: f.CursorX, Y: f.CursorY})
	}
	if len(pts) == 0 {
		cx, cy := float64(width)/2, float64(height)/2
		return []cursorPoint{{T: start, X: cx, Y: cy}, {T: end, X: cx, Y: cy}}
	}
	if last := pts[len(pts)-1]; last.T < end-timeDedupEpsilon {
		pts = append(pts, cursorPoint{T: end, X: last.X, Y: last.Y})
	}
	return simplifyCursor(pts, cursorBudget(end-start, plan.FPS), cursorSimplifyTolPx)
}

// cursorBudget bounds the knots of the cursor expressions: about eight per second, at least
// 32 and never more than 96 or one per frame.
func cursorBudget(durationSecs float64, fps int) int {
	f := float64(max(fps, 1))
	d := math.Max(durationSecs, 1)
	perSec := math.Max(math.Min(cursorPointsPerSec, f), 1)
	expected := int(math.Round(d * perSec))
	ceiling := min(maxCursorExprPoints, int(math.Round(d*f)))
	return max(min(max(expected, minCursorExprPoints), ceiling), 2)
}

// simplifyCursor runs Douglas-Peucker over the pixel path and then downsamples uniformly to
// the budget. Endpoints always survive.
func simplifyCursor(points []cursorPoint, budget int, tolerance float64) []cursorPoint {
	if len(points) <= budget {
		return points
	}
	keep := make([]bool, len(points))
	keep[0], keep[len(points)-1] = true, true
	stack := [][2]int{{0, len(points) - 1}}
	for len(stack) > 0 {
		seg := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		lo, hi := seg[0], seg[1]
		if hi <= lo+1 {
			continue
		}
		maxDist, maxIdx := 0.0, -1
		for i := lo + 1; i < hi; i++ {
			if d := segmentDistance(points[i], points[lo], points[hi]); d > maxDist {
				maxDist, maxIdx = d, i
			}
		}
		if maxIdx >= 0 && maxDist > tolerance {
			keep[maxIdx] = true
			stack = append(stack, [2]int{lo, maxIdx}, [2]int{maxIdx, hi})
		}
	}
	out := make([]cursorPoint, 0, budget)
	for i, p := range points {
		if keep[i] {
			out = append(out, p)
		}
	}
	return downsample(out, budget)
}

func segmentDistance(p, a, b cursorPoint) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	if math.Abs(dx) < 1e-9 && math.Abs(dy) < 1e-9 {
		return math.Hypot(p.X-a.X, p.Y-a.Y)
	}
	t := clampUnit(((p.X-a.X)*dx + (p.Y-a.Y)*dy) / (dx*dx + dy*dy))
	return math.Hypot(p.X-(a.X+t*dx), p.Y-(a.Y+t*dy))
}

func downsample(points []cursorPoint, limit int) []cursorPoint {
	if len(points) <= limit {
		return points
	}
	target := max(limit, 2)
	last := len(points) - 1
	out := make([]cursorPoint, 0, target)
	for i := 0; i < target; i++ {
		idx := int(math.Round(float64(i) / float64(target-1) * float64(last)))
		out = append(out, points[idx])
	}
	return out
}

func cursorExprs(points []cursorPoint) (string, string) {
	xs := make([]ExprPoint, len(points))
	ys := make([]ExprPoint, len(points))
	for i, p := range points {
		xs[i] = ExprPoint{T: p.T, V: p.X}
		ys[i] = ExprPoint{T: p.T, V: p.Y}
	}
	return PiecewiseExpr(xs), PiecewiseExpr(ys)
}
