package streamstats

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverscapes/qris/internal/db"
	"github.com/riverscapes/qris/internal/errors"
	"github.com/riverscapes/qris/internal/httputil"
)

const nestedResponse = `{
  "bcrequest": {
    "wsresp": {
      "featurecollection": [[
        {"name": "globalwatershedpoint", "feature": {"type": "FeatureCollection", "features": [
          {"type": "Feature", "properties": {}, "geometry": {"type": "Point", "coordinates": [-111.5, 41.5]}}
        ]}},
        {"name": "globalwatershed", "feature": {"type": "FeatureCollection", "features": [
          {"type": "Feature", "properties": {}, "geometry": {"type": "Polygon", "coordinates": [
            [[-111.6, 41.4], [-111.4, 41.4], [-111.4, 41.6], [-111.6, 41.6], [-111.6, 41.4]]
          ]}}
        ]}}
      ]],
      "parameters": [
        {"code": "DRNAREA", "name": "Drainage Area", "unit": "square miles", "value": 12.5}
      ]
    }
  }
}`

const flatResponse = `{
  "bcrequest": {
    "wsresp": {
      "featurecollection": [
        {"name": "globalwatershedpoint", "feature": {"type": "Point", "coordinates": [-111.5, 41.5]}},
        {"name": "globalwatershed", "feature": {"type": "Feature", "properties": {}, "geometry": {"type": "MultiPolygon", "coordinates": [
          [[[-111.6, 41.4], [-111.4, 41.4], [-111.4, 41.6], [-111.6, 41.4]]],
          [[[-111.3, 41.4], [-111.2, 41.4], [-111.2, 41.5], [-111.3, 41.4]]]
        ]}}}
      ]
    }
  }
}`

func TestParseDelineation(t *testing.T) {
	ws, err := ParseDelineation([]byte(nestedResponse))
	require.NoError(t, err)
	require.Len(t, ws.Catchment, 1)
	assert.Equal(t, orb.Point{-111.6, 41.4}, ws.Catchment[0][0][0])
	require.Contains(t, ws.Parameters, "DRNAREA")
	area := ws.Parameters["DRNAREA"].(map[string]any)
	assert.Equal(t, "square miles", area["unit"])

	ws, err = ParseDelineation([]byte(flatResponse))
	require.NoError(t, err)
	assert.Len(t, ws.Catchment, 2)
	assert.Nil(t, ws.Parameters)
}

func TestParseDelineation_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>`},
		{"no collection", `{"bcrequest": {"wsresp": {}}}`},
		{"no watershed", `{"bcrequest": {"wsresp": {"featurecollection": [[{"name": "globalwatershedpoint", "feature": {"type": "Point", "coordinates": [0, 0]}}]]}}}`},
		{"point only", `{"bcrequest": {"wsresp": {"featurecollection": [[{"name": "a"}, {"name": "globalwatershed", "feature": {"type": "Point", "coordinates": [0, 0]}}]]}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDelineation([]byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestDelineate(t *testing.T) {
	mock := httputil.NewMockHTTPClient().AddResponse(http.StatusOK, nestedResponse)
	c := NewClient(Config{BaseURL: "https://example.test/delineate/"}, mock)

	ws, err := c.Delineate(context.Background(), "ut", orb.Point{-111.5, 41.5})
	require.NoError(t, err)
	assert.Len(t, ws.Catchment, 1)

	require.Len(t, mock.Requests, 1)
	u := mock.Requests[0].URL
	assert.Equal(t, "/delineate/UT", u.Path)
	assert.Equal(t, "41.5000000", u.Query().Get("lat"))
	assert.Equal(t, "-111.5000000", u.Query().Get("lon"))
}

func TestDelineate_Errors(t *testing.T) {
	c := NewClient(Config{}, httputil.NewMockHTTPClient())
	_, err := c.Delineate(context.Background(), "", orb.Point{})
	assert.True(t, errors.IsKind(err, errors.KindValidation))

	mock := httputil.NewMockHTTPClient().AddResponse(http.StatusInternalServerError, "down")
	c = NewClient(Config{}, mock)
	_, err = c.Delineate(context.Background(), "UT", orb.Point{-111.5, 41.5})
	assert.True(t, errors.IsKind(err, errors.KindNetwork))
	assert.Equal(t, http.StatusInternalServerError, httputil.StatusOf(err))

	mock = httputil.NewMockHTTPClient().AddResponse(http.StatusOK, `{"bcrequest": {}}`)
	c = NewClient(Config{}, mock)
	_, err = c.Delineate(context.Background(), "UT", orb.Point{-111.5, 41.5})
	assert.True(t, errors.IsKind(err, errors.KindIO))
}

func TestStore(t *testing.T) {
	d, err := db.NewDB(filepath.Join(t.TempDir(), "project.gpkg"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	ctx := context.Background()

	ws, err := ParseDelineation([]byte(nestedResponse))
	require.NoError(t, err)
	pp, catchmentID, err := Store(ctx, d, "Outlet", orb.Point{-111.5, 41.5}, ws)
	require.NoError(t, err)
	assert.NotZero(t, pp.FID)
	assert.NotZero(t, catchmentID)

	pps, err := d.ListPourPoints(ctx)
	require.NoError(t, err)
	require.Len(t, pps, 1)
	assert.Equal(t, "Outlet", pps[0].Name)
	assert.InDelta(t, 41.5, pps[0].Latitude, 1e-9)
	assert.Contains(t, pps[0].BasinCharacteristics, "DRNAREA")
}
