package statecode

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverscapes/qris/internal/errors"
)

// Two rectangles standing in for Utah and Idaho, plus a feature without a code.
const boundaries = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"STUSPS": "UT", "NAME": "Utah"},
     "geometry": {"type": "Polygon", "coordinates": [[[-114, 37], [-109, 37], [-109, 42], [-114, 42], [-114, 37]]]}},
    {"type": "Feature", "properties": {"postal": "id", "name": "Idaho"},
     "geometry": {"type": "MultiPolygon", "coordinates": [[[[-117, 42], [-111, 42], [-111, 49], [-117, 49], [-117, 42]]]]}},
    {"type": "Feature", "properties": {"other": "x"},
     "geometry": {"type": "Polygon", "coordinates": [[[0, 0], [1, 0], [1, 1], [0, 0]]]}},
    {"type": "Feature", "properties": {"STUSPS": "PT"},
     "geometry": {"type": "Point", "coordinates": [5, 5]}}
  ]
}`

func writeBoundaries(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "states.geojson")
	require.NoError(t, os.WriteFile(path, []byte(boundaries), 0o644))
	return path
}

func TestLookup(t *testing.T) {
	ix, err := Load(writeBoundaries(t))
	require.NoError(t, err)
	assert.Equal(t, 2, ix.Len())

	tests := []struct {
		name     string
		lon, lat float64
		want     string
	}{
		{"salt lake", -111.9, 40.7, "UT"},
		{"boise", -116.2, 43.6, "ID"},
		{"utah again from cache", -111.9, 40.7, "UT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ix.Lookup(tt.lon, tt.lat)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, 2, ix.cache.ItemCount())
	assert.Equal(t, "Idaho", ix.Name("id"))
	assert.Equal(t, "", ix.Name("NV"))
}

func TestLookup_Outside(t *testing.T) {
	ix, err := Parse([]byte(boundaries))
	require.NoError(t, err)

	_, err = ix.Lookup(-100, 35)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
	// inside the feature with no code property
	_, err = ix.Lookup(0.5, 0.2)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte(`not json`))
	assert.True(t, errors.IsKind(err, errors.KindIO))

	_, err = Parse([]byte(`{"type": "FeatureCollection", "features": []}`))
	assert.True(t, errors.IsKind(err, errors.KindValidation))

	_, err = Load(filepath.Join(t.TempDir(), "missing.geojson"))
	assert.True(t, errors.IsKind(err, errors.KindIO))
}
