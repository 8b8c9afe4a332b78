package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"

	"github.com/riverscapes/qris/internal/db"
	"github.com/riverscapes/qris/internal/geom"
	"github.com/riverscapes/qris/internal/metricdef"
)

// Zone is the projection fixtures are laid out in (NAD83 / UTM 12N).
var Zone = geom.ForLongitude(-111)

// Fixture offsets are measured from this projected origin.
const (
	OriginEasting  = 500000.0
	OriginNorthing = 5000000.0
)

// Point returns the lon/lat of the point x, y meters from the fixture origin.
func Point(x, y float64) orb.Point {
	return Zone.Inverse(orb.Point{OriginEasting + x, OriginNorthing + y})
}

// Line returns a lon/lat line through meter offsets.
func Line(pts ...[2]float64) orb.LineString {
	ls := make(orb.LineString, len(pts))
	for i, p := range pts {
		ls[i] = Point(p[0], p[1])
	}
	return ls
}

// Square returns a lon/lat polygon that projects to a size by size meter
// square with its lower-left corner at x, y.
func Square(x, y, size float64) orb.Polygon {
	return Rect(x, y, x+size, y+size)
}

// Rect returns a lon/lat polygon projecting to the given meter rectangle.
func Rect(x0, y0, x1, y1 float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		Point(x0, y0), Point(x1, y0), Point(x1, y1), Point(x0, y1), Point(x0, y0),
	}}
}

// Builder creates project rows for engine tests. Every failure is fatal.
type Builder struct {
	t        testing.TB
	ctx      context.Context
	DB       *db.DB
	Protocol *db.Protocol
	Layers   map[string]*db.Layer
}

// NewBuilder opens a migrated project database under t.TempDir with one
// protocol and no layers.
func NewBuilder(t testing.TB) *Builder {
	t.Helper()
	d, err := db.NewDB(filepath.Join(t.TempDir(), "project.gpkg"))
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	b := &Builder{t: t, ctx: context.Background(), DB: d, Layers: map[string]*db.Layer{}}
	if err := d.CreateProject(b.ctx, &db.Project{Name: "Test Project"}); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	b.Protocol = &db.Protocol{Name: "Test Protocol", MachineCode: "TEST", Version: "1.0"}
	if err := d.CreateProtocol(b.ctx, b.Protocol); err != nil {
		t.Fatalf("CreateProtocol failed: %v", err)
	}
	return b
}

// Layer adds a protocol layer.
func (b *Builder) Layer(layerID, geomType string) *db.Layer {
	b.t.Helper()
	l := &db.Layer{ProtocolID: b.Protocol.ID, LayerID: layerID, Name: layerID, GeomType: geomType}
	if err := b.DB.CreateLayer(b.ctx, l); err != nil {
		b.t.Fatalf("CreateLayer(%s) failed: %v", layerID, err)
	}
	b.Layers[layerID] = l
	return l
}

// Event adds an event capturing the named layers.
func (b *Builder) Event(name string, layerIDs ...string) *db.Event {
	b.t.Helper()
	e := &db.Event{Name: name}
	for _, id := range layerIDs {
		l, ok := b.Layers[id]
		if !ok {
			b.t.Fatalf("unknown layer %s", id)
		}
		e.LayerIDs = append(e.LayerIDs, l.ID)
	}
	if err := b.DB.CreateEvent(b.ctx, e); err != nil {
		b.t.Fatalf("CreateEvent(%s) failed: %v", name, err)
	}
	return e
}

// Feature stores a feature on an event layer.
func (b *Builder) Feature(e *db.Event, layerID string, g orb.Geometry, attrs map[string]any) int64 {
	b.t.Helper()
	fid, err := b.DB.InsertEventFeature(b.ctx, e.ID, b.Layers[layerID], g, attrs)
	if err != nil {
		b.t.Fatalf("InsertEventFeature(%s) failed: %v", layerID, err)
	}
	return fid
}

// Frame adds a sample frame with one feature per polygon.
func (b *Builder) Frame(name string, polys ...orb.Polygon) (*db.SampleFrame, []*db.SampleFrameFeature) {
	b.t.Helper()
	sf := &db.SampleFrame{Name: name, MaskType: db.MaskTypeRegular}
	if err := b.DB.CreateSampleFrame(b.ctx, sf); err != nil {
		b.t.Fatalf("CreateSampleFrame failed: %v", err)
	}
	feats := make([]*db.SampleFrameFeature, len(polys))
	for i, p := range polys {
		f := &db.SampleFrameFeature{MaskID: sf.ID, Geometry: p}
		if err := b.DB.CreateSampleFrameFeature(b.ctx, f); err != nil {
			b.t.Fatalf("CreateSampleFrameFeature failed: %v", err)
		}
		feats[i] = f
	}
	return sf, feats
}

// Profile adds a centerline profile.
func (b *Builder) Profile(name string, g orb.Geometry) *db.Profile {
	b.t.Helper()
	p := &db.Profile{Name: name}
	if err := b.DB.CreateProfile(b.ctx, p, g); err != nil {
		b.t.Fatalf("CreateProfile failed: %v", err)
	}
	return p
}

// ValleyBottom adds a valley bottom polygon.
func (b *Builder) ValleyBottom(name string, g orb.Geometry) *db.ValleyBottom {
	b.t.Helper()
	vb := &db.ValleyBottom{Name: name}
	if err := b.DB.CreateValleyBottom(b.ctx, vb, g); err != nil {
		b.t.Fatalf("CreateValleyBottom failed: %v", err)
	}
	return vb
}

// Raster registers a surface raster stored at path, relative to the project.
func (b *Builder) Raster(name, path string, epsg int) *db.Raster {
	b.t.Helper()
	r := &db.Raster{Name: name, Path: path, RasterType: db.RasterTypeSurface,
		Metadata: map[string]any{"epsg": epsg}}
	if err := b.DB.CreateRaster(b.ctx, r); err != nil {
		b.t.Fatalf("CreateRaster failed: %v", err)
	}
	return r
}

// Metric adds a protocol metric. An empty params string makes it manual-only.
func (b *Builder) Metric(name string, f metricdef.Function, params string) *db.Metric {
	b.t.Helper()
	m := &db.Metric{ProtocolID: &b.Protocol.ID, Name: name, MachineName: name, Function: f}
	if params != "" {
		p, err := metricdef.ParseParams([]byte(params))
		if err != nil {
			b.t.Fatalf("ParseParams(%s) failed: %v", name, err)
		}
		m.Params = p
	}
	if err := b.DB.CreateMetric(b.ctx, m); err != nil {
		b.t.Fatalf("CreateMetric(%s) failed: %v", name, err)
	}
	return m
}

// Analysis adds an analysis over frame with the given inputs and metrics.
func (b *Builder) Analysis(name string, frame *db.SampleFrame, inputs map[string]int64, metrics ...*db.Metric) *db.Analysis {
	b.t.Helper()
	a := &db.Analysis{Name: name, SampleFrameID: frame.ID}
	for k, v := range inputs {
		a.SetInput(k, v)
	}
	for _, m := range metrics {
		a.Metrics = append(a.Metrics, db.AnalysisMetric{MetricID: m.ID, Level: db.LevelMetric})
	}
	if err := b.DB.CreateAnalysis(b.ctx, a); err != nil {
		b.t.Fatalf("CreateAnalysis failed: %v", err)
	}
	return a
}
