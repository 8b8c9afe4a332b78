package calc

import (
	"context"

	"github.com/paulmach/orb"

	"github.com/riverscapes/qris/internal/db"
	"github.com/riverscapes/qris/internal/errors"
	"github.com/riverscapes/qris/internal/geom"
)

// Frame is one sample frame feature prepared for measurement. The UTM zone is
// chosen once from the frame and used for every feature measured against it.
type Frame struct {
	FID       int64
	Geometry  orb.MultiPolygon // lon/lat
	UTM       geom.UTM
	Projected orb.MultiPolygon // meters
}

// LoadFrame fetches the polygon of a sample frame feature.
func LoadFrame(ctx context.Context, d *db.DB, sffID int64) (*Frame, error) {
	mp, err := d.GetSampleFrameGeometry(ctx, sffID)
	if err != nil {
		return nil, err
	}
	return NewFrame(sffID, mp), nil
}

// NewFrame prepares a lon/lat polygon.
func NewFrame(fid int64, mp orb.MultiPolygon) *Frame {
	u := geom.ForGeometry(mp)
	projected, _ := geom.AsMultiPolygon(u.Project(mp))
	return &Frame{FID: fid, Geometry: mp, UTM: u, Projected: projected}
}

// Area returns the frame area in square meters.
func (f *Frame) Area() float64 {
	return geom.Area(f.Projected)
}

// Project reprojects lon/lat geometry into the frame's zone.
func (f *Frame) Project(g orb.Geometry) orb.Geometry {
	return f.UTM.Project(g)
}

// ClippedLength returns the length in meters of the part of projected line
// geometry inside the frame. Other geometry measures 0.
func (f *Frame) ClippedLength(projected orb.Geometry) (float64, error) {
	mls, err := f.ClipLine(projected)
	if err != nil {
		return 0, err
	}
	return geom.Length(mls), nil
}

// ClipLine returns the part of projected line geometry inside the frame.
func (f *Frame) ClipLine(projected orb.Geometry) (orb.MultiLineString, error) {
	mls, err := geom.AsMultiLineString(projected)
	if err != nil {
		return nil, nil
	}
	clipped, err := geom.ClipLines(mls, f.Projected)
	if err != nil {
		return nil, errors.New(errors.KindCalculation, "clip line", err).With("sample_frame_feature", f.FID)
	}
	return clipped, nil
}

// ClippedArea returns the area in square meters of the part of projected
// polygon geometry inside the frame. Other geometry measures 0.
func (f *Frame) ClippedArea(projected orb.Geometry) (float64, error) {
	mp, err := geom.AsMultiPolygon(projected)
	if err != nil {
		return 0, nil
	}
	a, err := geom.IntersectionArea(mp, f.Projected)
	if err != nil {
		return 0, errors.New(errors.KindCalculation, "clip polygon", err).With("sample_frame_feature", f.FID)
	}
	return a, nil
}

// ClippedExtent measures projected geometry inside the frame: length for
// lines, area for polygons and 0 for points.
func (f *Frame) ClippedExtent(projected orb.Geometry) (float64, error) {
	switch geom.KindOf(projected) {
	case geom.KindLine:
		return f.ClippedLength(projected)
	case geom.KindPolygon:
		return f.ClippedArea(projected)
	}
	return 0, nil
}
