package geom

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Transform returns a copy of g with f applied to every coordinate.
func Transform(g orb.Geometry, f func(orb.Point) orb.Point) orb.Geometry {
	switch v := g.(type) {
	case nil:
		return nil
	case orb.Point:
		return f(v)
	case orb.MultiPoint:
		out := make(orb.MultiPoint, len(v))
		for i, p := range v {
			out[i] = f(p)
		}
		return out
	case orb.LineString:
		return transformLine(v, f)
	case orb.MultiLineString:
		out := make(orb.MultiLineString, len(v))
		for i, ls := range v {
			out[i] = transformLine(ls, f)
		}
		return out
	case orb.Ring:
		return orb.Ring(transformLine(orb.LineString(v), f))
	case orb.Polygon:
		return transformPolygon(v, f)
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(v))
		for i, p := range v {
			out[i] = transformPolygon(p, f)
		}
		return out
	case orb.Collection:
		out := make(orb.Collection, len(v))
		for i, c := range v {
			out[i] = Transform(c, f)
		}
		return out
	case orb.Bound:
		return orb.Bound{Min: f(v.Min), Max: f(v.Max)}
	}
	return g
}

func transformLine(ls orb.LineString, f func(orb.Point) orb.Point) orb.LineString {
	out := make(orb.LineString, len(ls))
	for i, p := range ls {
		out[i] = f(p)
	}
	return out
}

func transformPolygon(p orb.Polygon, f func(orb.Point) orb.Point) orb.Polygon {
	out := make(orb.Polygon, len(p))
	for i, r := range p {
		out[i] = orb.Ring(transformLine(orb.LineString(r), f))
	}
	return out
}

// AsMultiPolygon normalizes polygonal geometry. Other types return an error.
func AsMultiPolygon(g orb.Geometry) (orb.MultiPolygon, error) {
	switch v := g.(type) {
	case orb.Polygon:
		return orb.MultiPolygon{v}, nil
	case orb.MultiPolygon:
		return v, nil
	case orb.Ring:
		return orb.MultiPolygon{orb.Polygon{v}}, nil
	case orb.Bound:
		return orb.MultiPolygon{v.ToPolygon()}, nil
	}
	return nil, fmt.Errorf("expected polygon geometry, got %s", geometryType(g))
}

// AsMultiLineString normalizes linear geometry. Other types return an error.
func AsMultiLineString(g orb.Geometry) (orb.MultiLineString, error) {
	switch v := g.(type) {
	case orb.LineString:
		return orb.MultiLineString{v}, nil
	case orb.MultiLineString:
		return v, nil
	}
	return nil, fmt.Errorf("expected line geometry, got %s", geometryType(g))
}

func geometryType(g orb.Geometry) string {
	if g == nil {
		return "empty geometry"
	}
	return g.GeoJSONType()
}

// Kind is the coarse geometry dimension used by layers.
type Kind string

const (
	KindPoint   Kind = "Point"
	KindLine    Kind = "Linestring"
	KindPolygon Kind = "Polygon"
	KindNone    Kind = "NoGeometry"
)

// KindOf returns the dimension of g.
func KindOf(g orb.Geometry) Kind {
	switch g.(type) {
	case orb.Point, orb.MultiPoint:
		return KindPoint
	case orb.LineString, orb.MultiLineString:
		return KindLine
	case orb.Polygon, orb.MultiPolygon, orb.Ring, orb.Bound:
		return KindPolygon
	}
	return KindNone
}

// Length returns the planar length of linear geometry; other kinds are 0.
func Length(g orb.Geometry) float64 {
	switch g.(type) {
	case orb.LineString, orb.MultiLineString:
		return planar.Length(g)
	}
	return 0
}

// Area returns the planar area of polygonal geometry with holes subtracted.
func Area(g orb.Geometry) float64 {
	mp, err := AsMultiPolygon(g)
	if err != nil {
		return 0
	}
	return planar.Area(mp)
}

// Endpoints returns the first and last vertex of a line, walking parts in order.
func Endpoints(mls orb.MultiLineString) (orb.Point, orb.Point, bool) {
	var first, last orb.Point
	found := false
	for _, ls := range mls {
		if len(ls) == 0 {
			continue
		}
		if !found {
			first = ls[0]
			found = true
		}
		last = ls[len(ls)-1]
	}
	return first, last, found
}

// BufferPoint approximates a circle of the given radius around p.
func BufferPoint(p orb.Point, radius float64, segments int) orb.Polygon {
	if segments < 8 {
		segments = 8
	}
	ring := make(orb.Ring, 0, segments+1)
	for i := 0; i < segments; i++ {
		theta := 2 * math.Pi * float64(i) / float64(segments)
		ring = append(ring, orb.Point{p[0] + radius*math.Cos(theta), p[1] + radius*math.Sin(theta)})
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}
}
