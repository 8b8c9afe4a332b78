package raster

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats are aggregates over the cells of a zone. Every field is nil when no
// valid cell center falls inside the zone.
type Stats struct {
	Minimum *float64 `json:"minimum"`
	Maximum *float64 `json:"maximum"`
	Mean    *float64 `json:"mean"`
	Median  *float64 `json:"median"`
	Std     *float64 `json:"std"`
	Sum     *float64 `json:"sum"`
	Count   *int     `json:"count"`
}

// Empty reports whether no cells contributed.
func (s Stats) Empty() bool {
	return s.Count == nil
}

// Window is an inclusive range of columns and rows.
type Window struct {
	Col0, Row0, Col1, Row1 int
}

// WindowFor returns the cell window covering b, clamped to the raster. ok is
// false when b lies entirely outside.
func (g *Grid) WindowFor(b orb.Bound) (Window, bool) {
	right := g.OriginX + float64(g.Cols)*g.CellWidth
	bottom := g.OriginY - float64(g.Rows)*g.CellHeight
	if b.Max[0] < g.OriginX || b.Min[0] > right || b.Max[1] < bottom || b.Min[1] > g.OriginY {
		return Window{}, false
	}
	w := Window{
		Col0: int(math.Floor((b.Min[0] - g.OriginX) / g.CellWidth)),
		Col1: int(math.Floor((b.Max[0] - g.OriginX) / g.CellWidth)),
		Row0: int(math.Floor((g.OriginY - b.Max[1]) / g.CellHeight)),
		Row1: int(math.Floor((g.OriginY - b.Min[1]) / g.CellHeight)),
	}
	w.Col0 = clamp(w.Col0, 0, g.Cols-1)
	w.Col1 = clamp(w.Col1, 0, g.Cols-1)
	w.Row0 = clamp(w.Row0, 0, g.Rows-1)
	w.Row1 = clamp(w.Row1, 0, g.Rows-1)
	return w, true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ZonalStats aggregates the cells whose centers fall inside zone. zone must
// already be in the raster's coordinate system.
func ZonalStats(g *Grid, zone orb.MultiPolygon) Stats {
	if len(zone) == 0 {
		return Stats{}
	}
	w, ok := g.WindowFor(zone.Bound())
	if !ok {
		return Stats{}
	}

	// rasterize the zone into a mask over the window, then read the window
	width := w.Col1 - w.Col0 + 1
	height := w.Row1 - w.Row0 + 1
	mask := make([]bool, width*height)
	for r := 0; r < height; r++ {
		for c := 0; c < width; c++ {
			x, y := g.CellCenter(w.Col0+c, w.Row0+r)
			mask[r*width+c] = planar.MultiPolygonContains(zone, orb.Point{x, y})
		}
	}

	values := make([]float64, 0, len(mask))
	for r := 0; r < height; r++ {
		for c := 0; c < width; c++ {
			if !mask[r*width+c] {
				continue
			}
			v := g.At(w.Col0+c, w.Row0+r)
			if g.IsNoData(v) {
				continue
			}
			values = append(values, v)
		}
	}
	return aggregate(values)
}

func aggregate(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	minV := floats.Min(values)
	maxV := floats.Max(values)
	sum := floats.Sum(values)
	mean, variance := stat.PopMeanVariance(values, nil)
	std := math.Sqrt(variance)
	median := medianOf(values)
	n := len(values)
	return Stats{
		Minimum: &minV,
		Maximum: &maxV,
		Mean:    &mean,
		Median:  &median,
		Std:     &std,
		Sum:     &sum,
		Count:   &n,
	}
}

func medianOf(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
