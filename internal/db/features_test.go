package db

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverscapes/qris/internal/errors"
)

func TestGeometryBlob_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		g    orb.Geometry
	}{
		{"point", orb.Point{-111.5, 45.25}},
		{"line", orb.LineString{{-111, 45}, {-111.01, 45.02}}},
		{"multiline", orb.MultiLineString{{{0, 0}, {1, 1}}, {{2, 2}, {3, 1}}}},
		{"polygon", testSquare(-111, 45, 0.01)},
		{"multipolygon", orb.MultiPolygon{testSquare(0, 0, 1), testSquare(5, 5, 1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob, err := EncodeGeometry(tt.g, SRSWGS84)
			require.NoError(t, err)
			assert.Equal(t, []byte("GP"), blob[:2])
			assert.Equal(t, byte(0), blob[2])
			assert.Equal(t, byte(0x03), blob[3])

			got, srs, err := DecodeGeometry(blob)
			require.NoError(t, err)
			assert.Equal(t, SRSWGS84, srs)
			if diff := cmp.Diff(tt.g, got); diff != "" {
				t.Errorf("geometry mismatch (-want +got):\n%s", diff)
			}

			env, ok := GeometryEnvelope(blob)
			require.True(t, ok)
			assert.Equal(t, tt.g.Bound(), env)
		})
	}
}

func TestGeometryBlob_Empty(t *testing.T) {
	blob, err := EncodeGeometry(orb.MultiPolygon{}, SRSWGS84)
	require.NoError(t, err)
	assert.Equal(t, byte(0x11), blob[3])
	_, ok := GeometryEnvelope(blob)
	assert.False(t, ok)

	g, _, err := DecodeGeometry(nil)
	require.NoError(t, err)
	assert.Nil(t, g)
}

func TestGeometryBlob_Invalid(t *testing.T) {
	_, _, err := DecodeGeometry([]byte("XX\x00\x03\x00\x00\x00\x00"))
	assert.Error(t, err)
	_, _, err = DecodeGeometry([]byte("GP\x01\x03\x00\x00\x00\x00"))
	assert.Error(t, err)
	_, _, err = DecodeGeometry([]byte("GP\x00\x03\x00\x00"))
	assert.Error(t, err)
}

func TestInsertEventFeature_GeometryMustMatchLayer(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	f := createTestFixture(t, db)

	_, err := db.InsertEventFeature(ctx, f.Event.ID, f.Points, orb.LineString{{0, 0}, {1, 1}}, nil)
	assert.True(t, errors.IsKind(err, errors.KindValidation), "got %v", err)

	fid, err := db.InsertEventFeature(ctx, f.Event.ID, f.Points, orb.Point{-110.995, 45.005},
		map[string]any{"structure_count": 3})
	require.NoError(t, err)
	assert.NotZero(t, fid)

	n, err := db.CountEventFeatures(ctx, f.Event.ID, f.Points)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = db.CountEventFeatures(ctx, f.Event.ID, f.Lines)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestFeatureReader_FiltersByEventAndFrame(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	f := createTestFixture(t, db)

	other := &Event{Name: "Fall Survey", LayerIDs: []int64{f.Points.ID}}
	require.NoError(t, db.CreateEvent(ctx, other))

	inside := orb.Point{-110.995, 45.005}
	outside := orb.Point{-110.5, 45.5}
	_, err := db.InsertEventFeature(ctx, f.Event.ID, f.Points, inside, map[string]any{"type": "primary"})
	require.NoError(t, err)
	_, err = db.InsertEventFeature(ctx, f.Event.ID, f.Points, outside, nil)
	require.NoError(t, err)
	_, err = db.InsertEventFeature(ctx, other.ID, f.Points, inside, nil)
	require.NoError(t, err)

	frame, err := db.GetSampleFrameGeometry(ctx, f.Feature.FID)
	require.NoError(t, err)

	ds, err := db.SpatialOpen(ctx)
	require.NoError(t, err)
	r, err := ds.Layer(ctx, f.Points.FeatureClass)
	require.NoError(t, err)
	feats, err := r.Where("event_id = ? AND event_layer_id = ?", f.Event.ID, f.Points.ID).
		SpatialFilter(frame).All()
	require.NoError(t, err)

	require.Len(t, feats, 1)
	assert.Equal(t, inside, feats[0].Geometry)
	v, ok := feats[0].Attribute("type")
	assert.True(t, ok)
	assert.Equal(t, "primary", v)
	assert.Equal(t, f.Event.ID, toInt64(feats[0].Columns["event_id"]))
}

func TestFeatureReader_ColumnsByName(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	f := createTestFixture(t, db)

	fid, err := db.InsertEventFeature(ctx, f.Event.ID, f.Points, orb.Point{-110.995, 45.005},
		map[string]any{"pieces": float64(4)})
	require.NoError(t, err)

	ds, err := db.SpatialOpen(ctx)
	require.NoError(t, err)
	r, err := ds.Layer(ctx, f.Points.FeatureClass)
	require.NoError(t, err)
	feats, err := r.All()
	require.NoError(t, err)
	require.Len(t, feats, 1)

	got := feats[0]
	assert.Equal(t, fid, got.FID)
	// fid, geometry and metadata are lifted out of the column map
	want := map[string]any{"event_id": f.Event.ID, "event_layer_id": f.Points.ID}
	if diff := cmp.Diff(want, got.Columns); diff != "" {
		t.Errorf("Columns mismatch (-want +got):\n%s", diff)
	}
	v, ok := got.Attribute("pieces")
	assert.True(t, ok)
	assert.Equal(t, float64(4), v)
}

func TestFeatureReader_LineCrossingFrame(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	f := createTestFixture(t, db)

	// Both vertices are outside the frame; the segment passes through it.
	crossing := orb.LineString{{-111.005, 45.005}, {-110.985, 45.005}}
	_, err := db.InsertEventFeature(ctx, f.Event.ID, f.Lines, crossing, nil)
	require.NoError(t, err)

	frame, err := db.GetSampleFrameGeometry(ctx, f.Feature.FID)
	require.NoError(t, err)
	ds, err := db.SpatialOpen(ctx)
	require.NoError(t, err)
	r, err := ds.Layer(ctx, TableLines)
	require.NoError(t, err)
	feats, err := r.SpatialFilter(frame).All()
	require.NoError(t, err)
	assert.Len(t, feats, 1)
}

func TestFeatureReader_UnknownTable(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	ds, err := db.SpatialOpen(ctx)
	require.NoError(t, err)
	_, err = ds.Layer(ctx, "events")
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestFeatureReader_Cancelled(t *testing.T) {
	db := setupTestDB(t)
	f := createTestFixture(t, db)
	for i := 0; i < 3; i++ {
		_, err := db.InsertEventFeature(context.Background(), f.Event.ID, f.Points, orb.Point{-110.995, 45.005}, nil)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ds, err := db.SpatialOpen(ctx)
	require.NoError(t, err)
	r, err := ds.Layer(ctx, TablePoints)
	require.NoError(t, err)
	defer r.Close()
	require.True(t, r.Next())
	cancel()
	for r.Next() {
	}
	assert.True(t, errors.IsKind(r.Err(), errors.KindCancelled), "got %v", r.Err())
}
