// Package geom holds the planar geometry used by metric calculations:
// deterministic UTM selection and projection, clipping of lines and polygons
// against sample frames, and small construction helpers.
//
// Stored geometries are longitude/latitude (EPSG:4326). Every measurement is
// taken after projecting into one UTM zone so lengths are meters and areas
// are square meters.
package geom

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/wroge/wgs84"
)

// NAD83 / UTM zone N is EPSG 26900+N; WGS84 / UTM north is 32600+N and south 32700+N.
const (
	epsgNAD83UTMBase   = 26900
	epsgWGS84UTMNorth  = 32600
	epsgWGS84UTMSouth  = 32700
	EPSGGeographic     = 4326
	utmZoneWidth       = 6.0
	utmZoneCount       = 60
	utmFirstZoneOffset = 180.0
)

// ZoneIndex returns floor((180 + lon) / 6) clamped to [0, 59].
func ZoneIndex(lon float64) int {
	z := int(math.Floor((utmFirstZoneOffset + lon) / utmZoneWidth))
	if z < 0 {
		return 0
	}
	if z >= utmZoneCount {
		return utmZoneCount - 1
	}
	return z
}

// EPSGForLongitude returns 26901 + ZoneIndex(lon).
func EPSGForLongitude(lon float64) int {
	return epsgNAD83UTMBase + 1 + ZoneIndex(lon)
}

type coordFunc = func(a, b, c float64) (float64, float64, float64)

// UTM is a transverse Mercator projection for one zone. NAD83 zones are
// projected on the WGS84 ellipsoid; the two differ by well under a
// millimeter at UTM scale.
type UTM struct {
	EPSG  int
	Zone  int // 1..60
	South bool

	forward coordFunc
	inverse coordFunc
}

// ForLongitude returns the NAD83 UTM projection whose zone contains lon.
func ForLongitude(lon float64) UTM {
	return newUTM(ZoneIndex(lon)+1, false, EPSGForLongitude(lon))
}

// ForGeometry picks the zone from the center of g's bound. Callers choose one
// geometry (the sample frame) per calculation so zones never mix.
func ForGeometry(g orb.Geometry) UTM {
	return ForLongitude(g.Bound().Center().Lon())
}

// ForEPSG returns the UTM projection for a NAD83 or WGS84 UTM code.
func ForEPSG(epsg int) (UTM, error) {
	switch {
	case epsg > epsgNAD83UTMBase && epsg <= epsgNAD83UTMBase+utmZoneCount:
		return newUTM(epsg-epsgNAD83UTMBase, false, epsg), nil
	case epsg > epsgWGS84UTMNorth && epsg <= epsgWGS84UTMNorth+utmZoneCount:
		return newUTM(epsg-epsgWGS84UTMNorth, false, epsg), nil
	case epsg > epsgWGS84UTMSouth && epsg <= epsgWGS84UTMSouth+utmZoneCount:
		return newUTM(epsg-epsgWGS84UTMSouth, true, epsg), nil
	}
	return UTM{}, fmt.Errorf("EPSG:%d is not a supported UTM zone", epsg)
}

func newUTM(zone int, south bool, epsg int) UTM {
	crs := wgs84.UTM(float64(zone), !south)
	return UTM{
		EPSG:    epsg,
		Zone:    zone,
		South:   south,
		forward: wgs84.LonLat().To(crs),
		inverse: crs.To(wgs84.LonLat()),
	}
}

// CentralMeridian returns the zone's central meridian in degrees.
func (u UTM) CentralMeridian() float64 {
	return -183.0 + utmZoneWidth*float64(u.Zone)
}

// Forward projects a longitude/latitude point to easting/northing meters.
func (u UTM) Forward(p orb.Point) orb.Point {
	x, y, _ := u.forward(p.Lon(), p.Lat(), 0)
	return orb.Point{x, y}
}

// Inverse converts easting/northing meters back to longitude/latitude.
func (u UTM) Inverse(p orb.Point) orb.Point {
	lon, lat, _ := u.inverse(p[0], p[1], 0)
	return orb.Point{lon, lat}
}

// Project returns a projected copy of g.
func (u UTM) Project(g orb.Geometry) orb.Geometry {
	return Transform(g, u.Forward)
}

// Unproject returns a geographic copy of projected g.
func (u UTM) Unproject(g orb.Geometry) orb.Geometry {
	return Transform(g, u.Inverse)
}
