package export

import (
	"math"
	"strings"

	"github.com/offlinefirst/screenreel/pkg/platform"
	"github.com/offlinefirst/screenreel/pkg/project"
	"github.com/offlinefirst/screenreel/pkg/smoothing"
)

// ProjectionEnv overrides the cursor coordinate model chosen for an export.
const ProjectionEnv = "SCREENREEL_CURSOR_PROJECTION"

// Projection maps recorded pointer coordinates into capture-normalized space.
type Projection struct {
	Model  project.CoordinateSpace
	ScaleX float64
	ScaleY float64
	OffX   float64
	OffY   float64
	// Score is 1 for an explicitly declared space, otherwise the heuristic score.
	Score float64
	// Override is set when ProjectionEnv replaced the selected model.
	Override bool
}

func identityProjection() Projection {
	return Projection{Model: project.SpaceCaptureNormalized, ScaleX: 1, ScaleY: 1}
}

// Apply projects one point and clamps it into [0,1].
func (p Projection) Apply(x, y float64) (float64, float64) {
	return clampUnit(x*p.ScaleX + p.OffX), clampUnit(y*p.ScaleY + p.OffY)
}

func (p Projection) raw(x, y float64) (float64, float64) {
	return x*p.ScaleX + p.OffX, y*p.ScaleY + p.OffY
}

// ApplyAll projects a path, keeping timestamps.
func (p Projection) ApplyAll(points []smoothing.Point) []smoothing.Point {
	out := make([]smoothing.Point, len(points))
	for i, pt := range points {
		x, y := p.Apply(pt.X, pt.Y)
		out[i] = smoothing.Point{T: pt.T, X: x, Y: y}
	}
	return out
}

// virtualCandidates returns the virtual-desktop models for rec. The root-origin model is only
// distinct when the virtual desktop does not start at (0,0).
func virtualCandidates(rec project.Recording) []Projection {
	mw, mh := float64(rec.MonitorWidth), float64(rec.MonitorHeight)
	vw, vh := float64(rec.VirtualWidth), float64(rec.VirtualHeight)
	if mw <= 0 || mh <= 0 || vw <= 0 || vh <= 0 {
		return nil
	}
	sx, sy := vw/mw, vh/mh
	bounds := Projection{
		Model:  project.SpaceVirtualDesktopNormalized,
		ScaleX: sx, ScaleY: sy,
		OffX: float64(rec.VirtualX-rec.MonitorX) / mw,
		OffY: float64(rec.VirtualY-rec.MonitorY) / mh,
	}
	root := Projection{
		Model:  project.SpaceVirtualDesktopRootOrigin,
		ScaleX: sx, ScaleY: sy,
		OffX: -float64(rec.MonitorX) / mw,
		OffY: -float64(rec.MonitorY) / mh,
	}
	if math.Abs(bounds.OffX-root.OffX) < 1e-9 && math.Abs(bounds.OffY-root.OffY) < 1e-9 {
		return []Projection{bounds}
	}
	return []Projection{bounds, root}
}

func projectionFor(space project.CoordinateSpace, rec project.Recording) (Projection, bool) {
	if space == project.SpaceCaptureNormalized {
		return identityProjection(), true
	}
	for _, c := range virtualCandidates(rec) {
		if c.Model == space {
			return c, true
		}
	}
	return Projection{}, false
}

// ScoreProjection rates how plausible a model is for the sampled path: points should land in
// bounds, keep a usable motion span and not stick to the border.
func ScoreProjection(p Projection, points []smoothing.Point) float64 {
	if len(points) == 0 {
		return 0
	}
	stride := int(math.Ceil(float64(len(points)) / 1024))
	if stride < 1 {
		stride = 1
	}
	var sampled, inBounds, border int
	minX, maxX := math.Inf(1), math.Inf(-1)
	minY, maxY := math.Inf(1), math.Inf(-1)
	for i := 0; i < len(points); i += stride {
		x, y := p.raw(points[i].X, points[i].Y)
		if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
			continue
		}
		sampled++
		if x < 0 || x > 1 || y < 0 || y > 1 {
			continue
		}
		inBounds++
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
		if x <= 0.01 || x >= 0.99 || y <= 0.01 || y >= 0.99 {
			border++
		}
	}
	if sampled == 0 {
		return -1
	}
	var spanX, spanY float64
	borderRatio := 1.0
	if inBounds > 0 {
		spanX = clampUnit(maxX - minX)
		spanY = clampUnit(maxY - minY)
		borderRatio = float64(border) / float64(inBounds)
	}
	span := math.Min(spanX+spanY, 1.5)
	return float64(inBounds)/float64(sampled)*4 + span - borderRatio*0.75
}

// SelectProjection picks the cursor model: the event header's declared space, then the
// project's, then the best-scoring candidate for legacy data. ProjectionEnv wins over all
// of them when it names a usable model.
func SelectProjection(headerSpace project.CoordinateSpace, rec project.Recording, points []smoothing.Point, lookup platform.LookupEnvFunc) Projection {
	selected := selectDeclared(headerSpace, rec, points)
	if lookup == nil {
		return selected
	}
	raw, ok := lookup(ProjectionEnv)
	if !ok || strings.TrimSpace(raw) == "" {
		return selected
	}
	var want project.CoordinateSpace
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "capture", "capture_normalized":
		want = project.SpaceCaptureNormalized
	case "virtual", "virtual_desktop", "virtual_desktop_normalized":
		want = project.SpaceVirtualDesktopNormalized
	case "virtual_root", "root", "virtual_desktop_root_origin":
		want = project.SpaceVirtualDesktopRootOrigin
	default:
		return selected
	}
	override, ok := projectionFor(want, rec)
	if !ok {
		return selected
	}
	override.Score = selected.Score
	override.Override = true
	return override
}

func selectDeclared(headerSpace project.CoordinateSpace, rec project.Recording, points []smoothing.Point) Projection {
	for _, space := range []project.CoordinateSpace{headerSpace, rec.PointerCoordinateSpace} {
		if !space.Known() {
			continue
		}
		if p, ok := projectionFor(space, rec); ok {
			p.Score = 1
			return p
		}
	}
	best := identityProjection()
	best.Score = ScoreProjection(best, points)
	for _, c := range virtualCandidates(rec) {
		if s := ScoreProjection(c, points); s > best.Score {
			best = c
			best.Score = s
		}
	}
	return best
}

func clampUnit(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}
