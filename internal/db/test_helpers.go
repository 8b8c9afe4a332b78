package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
)

// Helper functions for creating pointer values
func strPtr(s string) *string {
	return &s
}

func floatPtr(f float64) *float64 {
	return &f
}

func intPtr(i int) *int {
	return &i
}

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "project.gpkg"))
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// testSquare returns a lon/lat square with its lower-left corner at (lon, lat).
func testSquare(lon, lat, size float64) orb.Polygon {
	return orb.Polygon{{
		{lon, lat}, {lon + size, lat}, {lon + size, lat + size}, {lon, lat + size}, {lon, lat},
	}}
}

// testFixture is a small project: one protocol with a point, line and polygon
// layer, one event capturing the point and line layers and a sample frame with
// one feature.
type testFixture struct {
	Protocol *Protocol
	Points   *Layer
	Lines    *Layer
	Polygons *Layer
	Event    *Event
	Frame    *SampleFrame
	Feature  *SampleFrameFeature
}

func createTestFixture(t *testing.T, db *DB) *testFixture {
	t.Helper()
	ctx := context.Background()
	f := &testFixture{}

	f.Protocol = &Protocol{Name: "Test Protocol", MachineCode: "TEST", Version: "1.0"}
	if err := db.CreateProtocol(ctx, f.Protocol); err != nil {
		t.Fatalf("CreateProtocol failed: %v", err)
	}
	f.Points = &Layer{ProtocolID: f.Protocol.ID, LayerID: "jams", Name: "Jams", GeomType: "Point"}
	f.Lines = &Layer{ProtocolID: f.Protocol.ID, LayerID: "thalwegs", Name: "Thalwegs", GeomType: "Linestring"}
	f.Polygons = &Layer{ProtocolID: f.Protocol.ID, LayerID: "inundation", Name: "Inundation", GeomType: "Polygon"}
	for _, l := range []*Layer{f.Points, f.Lines, f.Polygons} {
		if err := db.CreateLayer(ctx, l); err != nil {
			t.Fatalf("CreateLayer(%s) failed: %v", l.LayerID, err)
		}
	}

	f.Event = &Event{
		Name:     "Spring Survey",
		Start:    DateSpec{Year: intPtr(2024), Month: intPtr(4)},
		LayerIDs: []int64{f.Points.ID, f.Lines.ID},
	}
	if err := db.CreateEvent(ctx, f.Event); err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}

	f.Frame = &SampleFrame{Name: "Reaches", MaskType: MaskTypeRegular}
	if err := db.CreateSampleFrame(ctx, f.Frame); err != nil {
		t.Fatalf("CreateSampleFrame failed: %v", err)
	}
	f.Feature = &SampleFrameFeature{MaskID: f.Frame.ID, DisplayLabel: "Reach 1", Geometry: testSquare(-111, 45, 0.01)}
	if err := db.CreateSampleFrameFeature(ctx, f.Feature); err != nil {
		t.Fatalf("CreateSampleFrameFeature failed: %v", err)
	}
	return f
}
