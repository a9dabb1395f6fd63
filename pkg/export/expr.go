package export

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// exprMergeWindow collapses points closer than this many seconds; the later value wins.
const exprMergeWindow = 1e-4

// ExprPoint is one (time, value) knot of a piecewise-linear ffmpeg expression.
type ExprPoint struct {
	T float64
	V float64
}

// PiecewiseExpr renders points as nested ffmpeg `if(lt(t,...))` linear segments. After the
// last knot the final value holds. An empty input renders "0".
func PiecewiseExpr(points []ExprPoint) string {
	if len(points) == 0 {
		return "0"
	}
	pts := append([]ExprPoint(nil), points...)
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].T < pts[j].T })

	merged := pts[:0]
	for _, p := range pts {
		if n := len(merged); n > 0 && math.Abs(merged[n-1].T-p.T) < exprMergeWindow {
			merged[n-1].V = p.V
			continue
		}
		merged = append(merged, p)
	}
	if len(merged) == 1 {
		return formatFloat(merged[0].V)
	}

	expr := formatFloat(merged[len(merged)-1].V)
	for i := len(merged) - 2; i >= 0; i-- {
		a, b := merged[i], merged[i+1]
		span := math.Max(b.T-a.T, exprMergeWindow)
		expr = fmt.Sprintf("if(lt(t,%s),%s+(%s)*(t-%s)/%s,%s)",
			formatFloat(b.T), formatFloat(a.V), formatFloat(b.V-a.V), formatFloat(a.T), formatFloat(span), expr)
	}
	return expr
}

func formatFloat(v float64) string {
	s := fmt.Sprintf("%.6f", v)
	if s == "-0.000000" {
		return "0.000000"
	}
	return s
}

// keepExpr renders a select() predicate that is true for source times inside [start, end]
// and outside every cut.
func keepExpr(start, end float64, cuts [][2]float64) string {
	terms := []string{fmt.Sprintf("between(t,%s,%s)", formatFloat(start), formatFloat(end))}
	for _, c := range cuts {
		terms = append(terms, fmt.Sprintf("not(between(t,%s,%s))", formatFloat(c[0]), formatFloat(c[1])))
	}
	return strings.Join(terms, "*")
}
