package geom

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func square(x0, y0, size float64) orb.Polygon {
	return orb.Polygon{{
		{x0, y0}, {x0 + size, y0}, {x0 + size, y0 + size}, {x0, y0 + size}, {x0, y0},
	}}
}

func near(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// GRS80 reference values for the geodesic checks.
const (
	semiMajor  = 6378137.0
	flattening = 1 / 298.257222101
	e2         = flattening * (2 - flattening)
)

func lerp(a, b orb.Point, t float64) orb.Point {
	return orb.Point{a[0] + t*(b[0]-a[0]), a[1] + t*(b[1]-a[1])}
}

func clipLength(t *testing.T, mls orb.MultiLineString, frame orb.MultiPolygon) float64 {
	t.Helper()
	clipped, err := ClipLines(mls, frame)
	if err != nil {
		t.Fatalf("ClipLines: %v", err)
	}
	return Length(clipped)
}

func TestZoneSelection(t *testing.T) {
	tests := []struct {
		lon  float64
		zone int
		epsg int
	}{
		{-180, 0, 26901},
		{-120.5, 9, 26910},
		{-114.0, 11, 26912},
		{-0.1, 29, 26930},
		{179.9, 59, 26960},
		{180, 59, 26960},
	}
	for _, tt := range tests {
		if got := ZoneIndex(tt.lon); got != tt.zone {
			t.Errorf("ZoneIndex(%v) = %d, want %d", tt.lon, got, tt.zone)
		}
		if got := EPSGForLongitude(tt.lon); got != tt.epsg {
			t.Errorf("EPSGForLongitude(%v) = %d, want %d", tt.lon, got, tt.epsg)
		}
	}
}

func TestForEPSG(t *testing.T) {
	u, err := ForEPSG(26910)
	if err != nil {
		t.Fatalf("ForEPSG: %v", err)
	}
	if u.Zone != 10 || u.South || u.CentralMeridian() != -123 {
		t.Fatalf("unexpected projection %+v cm=%v", u, u.CentralMeridian())
	}
	s, err := ForEPSG(32755)
	if err != nil || !s.South || s.Zone != 55 {
		t.Fatalf("unexpected south projection %+v err=%v", s, err)
	}
	if _, err := ForEPSG(4326); err == nil {
		t.Fatal("expected error for geographic EPSG")
	}
}

func TestForwardKnownValues(t *testing.T) {
	u := ForLongitude(-123)
	p := u.Forward(orb.Point{-123, 0})
	if !near(p[0], 500000, 1e-6) || !near(p[1], 0, 1e-6) {
		t.Fatalf("equator on central meridian = %v", p)
	}
	// meridian arc to 45 degrees scaled by k0
	p = u.Forward(orb.Point{-123, 45})
	if !near(p[0], 500000, 1e-6) || !near(p[1], 4982950.40, 0.5) {
		t.Fatalf("45N on central meridian = %v", p)
	}
}

func TestForwardInverseRoundTrip(t *testing.T) {
	u := ForLongitude(-116)
	for _, ll := range []orb.Point{{-116, 44}, {-118.9, 47.2}, {-114.1, 35.5}, {-117.3, 60.1}} {
		back := u.Inverse(u.Forward(ll))
		if !near(back[0], ll[0], 1e-8) || !near(back[1], ll[1], 1e-8) {
			t.Errorf("round trip %v -> %v", ll, back)
		}
	}
	s, _ := ForEPSG(32755)
	ll := orb.Point{147.2, -42.9}
	back := s.Inverse(s.Forward(ll))
	if !near(back[0], ll[0], 1e-8) || !near(back[1], ll[1], 1e-8) {
		t.Errorf("south round trip %v -> %v", ll, back)
	}
}

// vincenty returns the ellipsoidal distance in meters between two lon/lat points.
func vincenty(p1, p2 orb.Point) float64 {
	a := semiMajor
	f := flattening
	b := a * (1 - f)
	rad := math.Pi / 180
	L := (p2[0] - p1[0]) * rad
	U1 := math.Atan((1 - f) * math.Tan(p1[1]*rad))
	U2 := math.Atan((1 - f) * math.Tan(p2[1]*rad))
	sinU1, cosU1 := math.Sincos(U1)
	sinU2, cosU2 := math.Sincos(U2)

	lambda := L
	var sinSigma, cosSigma, sigma, cos2Alpha, cos2SigmaM float64
	for i := 0; i < 200; i++ {
		sinLambda, cosLambda := math.Sincos(lambda)
		sinSigma = math.Sqrt(math.Pow(cosU2*sinLambda, 2) + math.Pow(cosU1*sinU2-sinU1*cosU2*cosLambda, 2))
		if sinSigma == 0 {
			return 0
		}
		cosSigma = sinU1*sinU2 + cosU1*cosU2*cosLambda
		sigma = math.Atan2(sinSigma, cosSigma)
		sinAlpha := cosU1 * cosU2 * sinLambda / sinSigma
		cos2Alpha = 1 - sinAlpha*sinAlpha
		cos2SigmaM = 0
		if cos2Alpha != 0 {
			cos2SigmaM = cosSigma - 2*sinU1*sinU2/cos2Alpha
		}
		C := f / 16 * cos2Alpha * (4 + f*(4-3*cos2Alpha))
		prev := lambda
		lambda = L + (1-C)*f*sinAlpha*(sigma+C*sinSigma*(cos2SigmaM+C*cosSigma*(-1+2*cos2SigmaM*cos2SigmaM)))
		if math.Abs(lambda-prev) < 1e-12 {
			break
		}
	}
	u2 := cos2Alpha * (a*a - b*b) / (b * b)
	A := 1 + u2/16384*(4096+u2*(-768+u2*(320-175*u2)))
	B := u2 / 1024 * (256 + u2*(-128+u2*(74-47*u2)))
	deltaSigma := B * sinSigma * (cos2SigmaM + B/4*(cosSigma*(-1+2*cos2SigmaM*cos2SigmaM)-
		B/6*cos2SigmaM*(-3+4*sinSigma*sinSigma)*(-3+4*cos2SigmaM*cos2SigmaM)))
	return b * A * (sigma - deltaSigma)
}

// quadArea is the exact ellipsoidal area of a lon/lat quadrangle.
func quadArea(lon0, lat0, lon1, lat1 float64) float64 {
	e := math.Sqrt(e2)
	b := semiMajor * (1 - flattening)
	q := func(lat float64) float64 {
		s := math.Sin(lat * math.Pi / 180)
		return s/(1-e2*s*s) + math.Log((1+e*s)/(1-e*s))/(2*e)
	}
	return b * b * (lon1 - lon0) * math.Pi / 180 / 2 * (q(lat1) - q(lat0))
}

func densifiedQuad(lon0, lat0, lon1, lat1 float64, n int) orb.Polygon {
	var r orb.Ring
	edge := func(a, b orb.Point) {
		for i := 0; i < n; i++ {
			r = append(r, lerp(a, b, float64(i)/float64(n)))
		}
	}
	edge(orb.Point{lon0, lat0}, orb.Point{lon1, lat0})
	edge(orb.Point{lon1, lat0}, orb.Point{lon1, lat1})
	edge(orb.Point{lon1, lat1}, orb.Point{lon0, lat1})
	edge(orb.Point{lon0, lat1}, orb.Point{lon0, lat0})
	r = append(r, r[0])
	return orb.Polygon{r}
}

func TestProjectedMeasuresMatchGeodesic(t *testing.T) {
	cases := []struct {
		name string
		a, b orb.Point
	}{
		{"east-west near meridian", orb.Point{-117.2, 44.5}, orb.Point{-116.7, 44.5}},
		{"north-south", orb.Point{-111.1, 40.0}, orb.Point{-111.1, 40.4}},
		{"diagonal near zone edge", orb.Point{-119.9, 38.0}, orb.Point{-119.6, 38.25}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			line := orb.LineString{tc.a, tc.b}
			u := ForGeometry(line)
			got := Length(u.Project(line))
			want := vincenty(tc.a, tc.b)
			if math.Abs(got-want)/want > 0.001 {
				t.Fatalf("projected length %.3f vs geodesic %.3f", got, want)
			}
		})
	}

	poly := densifiedQuad(-116.3, 44.1, -115.8, 44.4, 50)
	u := ForGeometry(poly)
	got := Area(u.Project(poly))
	want := quadArea(-116.3, 44.1, -115.8, 44.4)
	if math.Abs(got-want)/want > 0.001 {
		t.Fatalf("projected area %.1f vs ellipsoidal %.1f", got, want)
	}
}

func TestClipLines(t *testing.T) {
	frame := orb.MultiPolygon{square(0, 0, 100)}
	tests := []struct {
		name string
		in   orb.MultiLineString
		want float64
	}{
		{"crossing", orb.MultiLineString{{{-50, 50}, {150, 50}}}, 100},
		{"half in", orb.MultiLineString{{{-100, 50}, {100, 50}}}, 100},
		{"inside", orb.MultiLineString{{{10, 10}, {90, 10}, {90, 90}}}, 160},
		{"outside", orb.MultiLineString{{{200, 0}, {300, 0}}}, 0},
		{"zigzag", orb.MultiLineString{{{-10, 10}, {50, 10}, {50, 110}, {60, 110}, {60, 20}}}, 50 + 90 + 80},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := clipLength(t, tt.in, frame)
			if !near(got, tt.want, 1e-9) {
				t.Fatalf("clipped length = %v, want %v", got, tt.want)
			}
		})
	}

	parts, err := ClipLines(orb.MultiLineString{{{-10, 10}, {50, 10}, {50, 110}, {60, 110}, {60, 20}}}, frame)
	if err != nil {
		t.Fatalf("ClipLines: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("expected line to split into 2 parts, got %d", len(parts))
	}
	first, last, _ := Endpoints(parts)
	if first != (orb.Point{0, 10}) || last != (orb.Point{60, 20}) {
		t.Fatalf("parts not ordered along the line: %v", parts)
	}
}

func TestClipLinesKeepsDirection(t *testing.T) {
	frame := orb.MultiPolygon{square(0, 0, 100)}
	for _, in := range []orb.LineString{
		{{150, 50}, {50, 50}, {-50, 50}},
		{{-50, 50}, {50, 50}, {150, 50}},
		{{50, -20}, {50, 120}},
	} {
		parts, err := ClipLines(orb.MultiLineString{in}, frame)
		if err != nil {
			t.Fatalf("ClipLines(%v): %v", in, err)
		}
		first, last, ok := Endpoints(parts)
		if !ok {
			t.Fatalf("ClipLines(%v) returned nothing", in)
		}
		// the clipped start is nearer the source start than the clipped end
		if locate(in, first) > locate(in, last) {
			t.Errorf("ClipLines(%v) reversed the line: %v", in, parts)
		}
	}
}

func TestClipLinesWithHole(t *testing.T) {
	frame := orb.MultiPolygon{{
		square(0, 0, 100)[0],
		orb.Ring{{40, 40}, {40, 60}, {60, 60}, {60, 40}, {40, 40}},
	}}
	got := clipLength(t, orb.MultiLineString{{{0, 50}, {100, 50}}}, frame)
	if !near(got, 80, 1e-9) {
		t.Fatalf("clipped length = %v, want 80", got)
	}
}

func TestArea(t *testing.T) {
	if got := Area(square(0, 0, 100)); !near(got, 10000, 1e-9) {
		t.Errorf("square area = %v", got)
	}
	cw := orb.Polygon{{{0, 0}, {0, 10}, {10, 10}, {10, 0}, {0, 0}}}
	if got := Area(cw); !near(got, 100, 1e-9) {
		t.Errorf("clockwise area = %v", got)
	}
	holed := orb.Polygon{square(0, 0, 100)[0], square(10, 10, 10)[0]}
	if got := Area(holed); !near(got, 9900, 1e-9) {
		t.Errorf("holed area = %v", got)
	}
	if got := Area(orb.LineString{{0, 0}, {1, 1}}); got != 0 {
		t.Errorf("line area = %v", got)
	}
}

func TestIntersectionArea(t *testing.T) {
	frame := orb.MultiPolygon{square(0, 0, 100)}
	lShape := orb.Polygon{{{-50, -50}, {50, -50}, {50, 50}, {150, 50}, {150, 150}, {-50, 150}, {-50, -50}}}
	tests := []struct {
		name string
		a    orb.MultiPolygon
		want float64
	}{
		{"inside", orb.MultiPolygon{square(25, 25, 50)}, 2500},
		{"quarter overlap", orb.MultiPolygon{square(50, 50, 100)}, 2500},
		{"disjoint", orb.MultiPolygon{square(200, 200, 10)}, 0},
		{"contains frame", orb.MultiPolygon{square(-10, -10, 200)}, 10000},
		{"concave", orb.MultiPolygon{lShape}, 7500},
		{"holed", orb.MultiPolygon{{square(-10, -10, 200)[0], square(10, 10, 20)[0]}}, 9600},
		{"two parts", orb.MultiPolygon{square(-10, -10, 20), square(90, 90, 20)}, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IntersectionArea(tt.a, frame)
			if err != nil || !near(got, tt.want, 1e-6) {
				t.Fatalf("IntersectionArea = %v (%v), want %v", got, err, tt.want)
			}
			got, err = IntersectionArea(frame, tt.a)
			if err != nil || !near(got, tt.want, 1e-6) {
				t.Fatalf("IntersectionArea (swapped) = %v (%v), want %v", got, err, tt.want)
			}
		})
	}
}

func TestIntersects(t *testing.T) {
	frame := orb.MultiPolygon{square(0, 0, 100)}
	tests := []struct {
		name string
		g    orb.Geometry
		want bool
	}{
		{"point inside", orb.Point{50, 50}, true},
		{"point outside", orb.Point{150, 50}, false},
		{"line crossing", orb.LineString{{-10, 50}, {110, 50}}, true},
		{"line outside", orb.LineString{{-10, -10}, {-10, 110}}, false},
		{"polygon overlapping", square(90, 90, 20), true},
		{"polygon containing frame", square(-10, -10, 200), true},
		{"polygon outside", square(200, 200, 10), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Intersects(tt.g, frame); got != tt.want {
				t.Fatalf("Intersects = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEndpointsAndBuffer(t *testing.T) {
	first, last, ok := Endpoints(orb.MultiLineString{{{0, 0}, {1, 1}}, {}, {{2, 2}, {3, 5}}})
	if !ok || first != (orb.Point{0, 0}) || last != (orb.Point{3, 5}) {
		t.Fatalf("Endpoints = %v %v %v", first, last, ok)
	}
	if _, _, ok := Endpoints(nil); ok {
		t.Fatal("Endpoints on empty line reported ok")
	}

	buf := BufferPoint(orb.Point{10, 10}, 10, 64)
	want := 64 * 100 * math.Sin(2*math.Pi/64) / 2
	if got := Area(buf); !near(got, want, 1e-6) {
		t.Fatalf("buffer area = %v, want %v", got, want)
	}
}

func TestTransformKeepsShape(t *testing.T) {
	shift := func(p orb.Point) orb.Point { return orb.Point{p[0] + 1, p[1] + 2} }
	got := Transform(orb.MultiPolygon{square(0, 0, 1)}, shift).(orb.MultiPolygon)
	if got[0][0][0] != (orb.Point{1, 2}) || len(got[0][0]) != 5 {
		t.Fatalf("Transform = %v", got)
	}
	if Transform(nil, shift) != nil {
		t.Fatal("Transform(nil) should be nil")
	}
	if KindOf(orb.MultiLineString{}) != KindLine || KindOf(orb.Point{}) != KindPoint || KindOf(square(0, 0, 1)) != KindPolygon {
		t.Fatal("KindOf mismatch")
	}
}

func TestIntersectionAreaRejectsInvalidPolygon(t *testing.T) {
	bowtie := orb.Polygon{{{0, 0}, {10, 10}, {10, 0}, {0, 10}, {0, 0}}}
	if _, err := IntersectionArea(orb.MultiPolygon{bowtie}, orb.MultiPolygon{square(0, 0, 10)}); err == nil {
		t.Fatal("expected an error for a self-intersecting ring")
	}
}
