package geom

import (
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/planar"
	sf "github.com/peterstace/simplefeatures/geom"
)

// toSF converts through WKB. Invalid geometry (self-intersecting rings,
// unclosed rings, single point lines) is rejected here.
func toSF(g orb.Geometry) (sf.Geometry, error) {
	b, err := wkb.Marshal(g)
	if err != nil {
		return sf.Geometry{}, err
	}
	out, err := sf.UnmarshalWKB(b)
	if err != nil {
		return sf.Geometry{}, fmt.Errorf("invalid %s: %w", geometryType(g), err)
	}
	return out, nil
}

func fromSF(g sf.Geometry) (orb.Geometry, error) {
	if g.IsEmpty() {
		return nil, nil
	}
	return wkb.Unmarshal(g.AsBinary())
}

// IntersectionArea returns the area of a ∩ b.
func IntersectionArea(a, b orb.MultiPolygon) (float64, error) {
	if len(a) == 0 || len(b) == 0 || !a.Bound().Intersects(b.Bound()) {
		return 0, nil
	}
	ga, err := toSF(a)
	if err != nil {
		return 0, err
	}
	gb, err := toSF(b)
	if err != nil {
		return 0, err
	}
	inter, err := sf.Intersection(ga, gb)
	if err != nil {
		return 0, fmt.Errorf("polygon overlay: %w", err)
	}
	return inter.Area(), nil
}

// Intersects reports whether g touches or overlaps frame. Geometry the
// overlay rejects falls back to a bound test so callers that clip later can
// still report it.
func Intersects(g orb.Geometry, frame orb.MultiPolygon) bool {
	if g == nil || len(frame) == 0 {
		return false
	}
	if !g.Bound().Intersects(frame.Bound()) {
		return false
	}
	switch v := g.(type) {
	case orb.Point:
		return planar.MultiPolygonContains(frame, v)
	case orb.MultiPoint:
		for _, p := range v {
			if planar.MultiPolygonContains(frame, p) {
				return true
			}
		}
		return false
	}
	a, err := toSF(g)
	if err != nil {
		return true
	}
	b, err := toSF(frame)
	if err != nil {
		return true
	}
	return sf.Intersects(a, b)
}

// ClipLines returns the parts of mls that lie inside frame. Each part keeps
// the direction of its source line and parts are ordered along it.
func ClipLines(mls orb.MultiLineString, frame orb.MultiPolygon) (orb.MultiLineString, error) {
	if len(frame) == 0 {
		return nil, nil
	}
	fb := frame.Bound()
	var clip sf.Geometry
	loaded := false

	var out orb.MultiLineString
	for _, ls := range mls {
		if len(ls) < 2 || !ls.Bound().Intersects(fb) {
			continue
		}
		if !loaded {
			var err error
			if clip, err = toSF(frame); err != nil {
				return nil, err
			}
			loaded = true
		}
		g, err := toSF(ls)
		if err != nil {
			return nil, err
		}
		inter, err := sf.Intersection(g, clip)
		if err != nil {
			return nil, fmt.Errorf("line overlay: %w", err)
		}
		res, err := fromSF(inter)
		if err != nil {
			return nil, err
		}
		out = append(out, alongLine(ls, lineParts(res, nil))...)
	}
	return out, nil
}

// lineParts collects the linear members of g. Points where a line only
// touches the frame are dropped.
func lineParts(g orb.Geometry, out orb.MultiLineString) orb.MultiLineString {
	switch v := g.(type) {
	case orb.LineString:
		if len(v) >= 2 {
			out = append(out, v)
		}
	case orb.MultiLineString:
		for _, ls := range v {
			out = lineParts(ls, out)
		}
	case orb.Collection:
		for _, c := range v {
			out = lineParts(c, out)
		}
	}
	return out
}

// alongLine orients parts in the direction of src, orders them by their
// position on it and joins parts that meet end to start.
func alongLine(src orb.LineString, parts orb.MultiLineString) orb.MultiLineString {
	type located struct {
		ls   orb.LineString
		from float64
	}
	ps := make([]located, 0, len(parts))
	for _, p := range parts {
		from, to := locate(src, p[0]), locate(src, p[len(p)-1])
		if from > to {
			p = reversed(p)
			from = to
		}
		ps = append(ps, located{ls: p, from: from})
	}
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].from < ps[j].from })

	var out orb.MultiLineString
	for _, p := range ps {
		if n := len(out); n > 0 && out[n-1][len(out[n-1])-1].Equal(p.ls[0]) {
			out[n-1] = append(out[n-1], p.ls[1:]...)
			continue
		}
		out = append(out, append(orb.LineString(nil), p.ls...))
	}
	return out
}

// locate returns the distance along ls to the point of ls nearest p.
func locate(ls orb.LineString, p orb.Point) float64 {
	best, bestAt, walked := math.Inf(1), 0.0, 0.0
	for i := 0; i+1 < len(ls); i++ {
		a, b := ls[i], ls[i+1]
		dx, dy := b[0]-a[0], b[1]-a[1]
		seg := math.Hypot(dx, dy)
		t := 0.0
		if seg > 0 {
			t = ((p[0]-a[0])*dx + (p[1]-a[1])*dy) / (seg * seg)
			t = math.Max(0, math.Min(1, t))
		}
		d := math.Hypot(a[0]+t*dx-p[0], a[1]+t*dy-p[1])
		if d < best {
			best, bestAt = d, walked+t*seg
		}
		walked += seg
	}
	return bestAt
}

func reversed(ls orb.LineString) orb.LineString {
	out := make(orb.LineString, len(ls))
	for i, p := range ls {
		out[len(ls)-1-i] = p
	}
	return out
}
