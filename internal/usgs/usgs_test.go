package usgs

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverscapes/qris/internal/db"
	"github.com/riverscapes/qris/internal/errors"
)

const sitesRDB = `#
# US Geological Survey
# retrieved: 2024-05-01
#
agency_cd	site_no	station_nm	site_tp_cd	dec_lat_va	dec_long_va	coord_acy_cd	dec_coord_datum_cd	alt_va	huc_cd
5s	15s	50s	7s	16s	16s	1s	10s	8s	16s
USGS	10172200	RED BUTTE CREEK AT FORT DOUGLAS, NEAR SLC, UT	ST	40.7799444	-111.8060833	S	NAD83	5020	16020204
USGS	10172300	EMIGRATION CREEK NEAR SALT LAKE CITY, UT	ST	40.7462222	-111.8090000	S	NAD83		16020204
USGS	10172400	NO COORDINATES	ST			S	NAD83		16020204
`

const dischargeRDB = `# ---------------------------------- WARNING ----------------------------------------
# Some of the data that you have obtained from this U.S. Geological Survey database
#
agency_cd	site_no	datetime	149352_00060_00003	149352_00060_00003_cd	149353_00065_00003	149353_00065_00003_cd
5s	15s	20d	14n	10s	14n	10s
USGS	10172200	2024-01-01	2.41	A	1.02	A
USGS	10172200	2024-01-02	Ice	A:e		
USGS	10172200	2024-01-03	2.55	P	1.05	P
`

const siteURL = `=~^https://waterservices\.usgs\.gov/nwis/site/`
const dvURL = `=~^https://waterservices\.usgs\.gov/nwis/dv/`

func activate(t *testing.T) {
	t.Helper()
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)
}

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.NewDB(filepath.Join(t.TempDir(), "project.gpkg"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

var saltLake = orb.Bound{Min: orb.Point{-112, 40.5}, Max: orb.Point{-111.5, 41}}

func TestParseRDB(t *testing.T) {
	recs, err := ParseRDB([]byte(sitesRDB))
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "10172200", recs[0]["site_no"])
	assert.Equal(t, "", recs[1]["alt_va"])

	_, err = ParseRDB([]byte("a\tb\n1\t2\t3\n"))
	assert.Error(t, err)

	// CRLF endings, a stray quote and a short row
	recs, err = ParseRDB([]byte("# c\r\nsite_no\tstation_nm\tqual\r\n5s\t50s\t1s\r\n1\tOLD \"MILL\" CREEK\tA\r\n2\tDRY FORK\r\n"))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, `OLD "MILL" CREEK`, recs[0]["station_nm"])
	assert.Equal(t, "A", recs[0]["qual"])
	assert.Equal(t, "", recs[1]["qual"])
}

func TestSites(t *testing.T) {
	activate(t)
	httpmock.RegisterResponder(http.MethodGet, siteURL, httpmock.NewStringResponder(http.StatusOK, sitesRDB))

	c := NewClient(DefaultConfig(), nil)
	gages, err := c.Sites(context.Background(), saltLake)
	require.NoError(t, err)
	require.Len(t, gages, 2)
	assert.Equal(t, "RED BUTTE CREEK AT FORT DOUGLAS, NEAR SLC, UT", gages[0].SiteName)
	assert.Equal(t, "16020204", gages[0].HUC)
	assert.Equal(t, "NAD83", gages[0].SiteDatum)
	assert.InDelta(t, -111.8060833, gages[0].Longitude, 1e-9)
	assert.Equal(t, "5020", gages[0].Metadata["alt_va"])

	// a second lookup of the same box is served from the cache
	_, err = c.Sites(context.Background(), saltLake)
	require.NoError(t, err)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())

	info := httpmock.GetCallCountInfo()
	assert.Len(t, info, 1)
}

func TestSites_NoSitesAndErrors(t *testing.T) {
	activate(t)
	c := NewClient(DefaultConfig(), nil)

	httpmock.RegisterResponder(http.MethodGet, siteURL, httpmock.NewStringResponder(http.StatusNotFound, "No sites found"))
	gages, err := c.Sites(context.Background(), saltLake)
	require.NoError(t, err)
	assert.Empty(t, gages)

	httpmock.RegisterResponder(http.MethodGet, siteURL, httpmock.NewStringResponder(http.StatusServiceUnavailable, "busy"))
	_, err = c.Sites(context.Background(), orb.Bound{Min: orb.Point{-100, 40}, Max: orb.Point{-99, 41}})
	assert.True(t, errors.IsKind(err, errors.KindNetwork), "got %v", err)

	httpmock.RegisterResponder(http.MethodGet, siteURL, httpmock.NewStringResponder(http.StatusOK, "agency_cd\tsite_no\nUSGS\t1\n"))
	_, err = c.Sites(context.Background(), orb.Bound{Min: orb.Point{-98, 40}, Max: orb.Point{-97, 41}})
	assert.True(t, errors.IsKind(err, errors.KindIO), "got %v", err)
}

func TestDischarges(t *testing.T) {
	activate(t)
	httpmock.RegisterResponder(http.MethodGet, dvURL, func(req *http.Request) (*http.Response, error) {
		q := req.URL.Query()
		assert.Equal(t, "10172200", q.Get("sites"))
		assert.Equal(t, "2024-01-01", q.Get("startDT"))
		assert.Equal(t, "2024-01-03", q.Get("endDT"))
		return httpmock.NewStringResponse(http.StatusOK, dischargeRDB), nil
	})

	c := NewClient(DefaultConfig(), nil)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ds, err := c.Discharges(context.Background(), "10172200", start, start.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, ds, 3)

	require.NotNil(t, ds[0].Discharge)
	assert.Equal(t, 2.41, *ds[0].Discharge)
	assert.Equal(t, "A", *ds[0].DischargeCode)
	assert.Equal(t, 1.02, *ds[0].GageHeight)
	assert.Nil(t, ds[1].Discharge)
	assert.Equal(t, "A:e", *ds[1].DischargeCode)
	assert.Nil(t, ds[1].GageHeightCode)

	_, err = c.Discharges(context.Background(), "10172200", start, start.AddDate(0, 0, -1))
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestDiscoverAndImport(t *testing.T) {
	activate(t)
	httpmock.RegisterResponder(http.MethodGet, siteURL, httpmock.NewStringResponder(http.StatusOK, sitesRDB))
	httpmock.RegisterResponder(http.MethodGet, dvURL, httpmock.NewStringResponder(http.StatusOK, dischargeRDB))
	d := newTestDB(t)
	c := NewClient(DefaultConfig(), nil)
	ctx := context.Background()

	res, err := DiscoverGages(ctx, d, c, saltLake)
	require.NoError(t, err)
	assert.Equal(t, DiscoverResult{Found: 2, Inserted: 2}, res)

	// rediscovery skips stored site codes
	res, err = DiscoverGages(ctx, d, c, saltLake)
	require.NoError(t, err)
	assert.Equal(t, DiscoverResult{Found: 2, Skipped: 2}, res)

	gages, err := d.ListStreamGages(ctx)
	require.NoError(t, err)
	assert.Len(t, gages, 2)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	n, err := ImportDischarge(ctx, d, c, "10172200", start, start.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	stored, err := d.ListDischarges(ctx, gages[0].FID)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, "2024-01-03", stored[2].MeasurementDate)

	_, err = ImportDischarge(ctx, d, c, "99999999", start, start)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}
