package raster

import (
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"
)

const sampleGrid = `ncols 4
nrows 4
xllcorner 0
yllcorner 0
cellsize 10
NODATA_value -9999
1 2 3 4
5 6 7 8
9 10 11 12
13 14 15 -9999
`

func box(x0, y0, x1, y1 float64) orb.MultiPolygon {
	return orb.MultiPolygon{{{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}}
}

func TestParseASCIIGrid(t *testing.T) {
	g, err := ParseASCIIGrid(strings.NewReader(sampleGrid))
	require.NoError(t, err)
	assert.Equal(t, 4, g.Cols)
	assert.Equal(t, 4, g.Rows)
	assert.Equal(t, 40.0, g.OriginY)
	assert.Equal(t, 6.0, g.At(1, 1))
	require.NotNil(t, g.NoData)
	assert.True(t, g.IsNoData(g.At(3, 3)))

	x, y := g.CellCenter(0, 0)
	assert.Equal(t, 5.0, x)
	assert.Equal(t, 35.0, y)
}

func TestParseASCIIGridCenterHeaderNoNodata(t *testing.T) {
	src := "ncols 2\nnrows 1\nxllcenter 5\nyllcenter 5\ncellsize 10\n1.5 2.5\n"
	g, err := ParseASCIIGrid(strings.NewReader(src))
	require.NoError(t, err)
	assert.Nil(t, g.NoData)
	assert.Equal(t, 0.0, g.OriginX)
	assert.Equal(t, 10.0, g.OriginY)
	assert.Equal(t, []float64{1.5, 2.5}, g.Values)
}

func TestParseASCIIGridErrors(t *testing.T) {
	tests := map[string]string{
		"missing cellsize": "ncols 1\nnrows 1\nxllcorner 0\nyllcorner 0\n1\n",
		"short data":       "ncols 2\nnrows 2\nxllcorner 0\nyllcorner 0\ncellsize 1\n1 2 3\n",
		"bad value":        "ncols 1\nnrows 1\nxllcorner 0\nyllcorner 0\ncellsize 1\nx\n",
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseASCIIGrid(strings.NewReader(src))
			assert.Error(t, err)
		})
	}
}

func TestZonalStats(t *testing.T) {
	g, err := ParseASCIIGrid(strings.NewReader(sampleGrid))
	require.NoError(t, err)

	s := ZonalStats(g, box(0, 20, 20, 40))
	require.False(t, s.Empty())
	assert.Equal(t, 4, *s.Count)
	assert.Equal(t, 1.0, *s.Minimum)
	assert.Equal(t, 6.0, *s.Maximum)
	assert.Equal(t, 14.0, *s.Sum)
	assert.InDelta(t, 3.5, *s.Mean, 1e-12)
	assert.InDelta(t, 3.5, *s.Median, 1e-12)
	assert.InDelta(t, math.Sqrt(4.25), *s.Std, 1e-12)
}

func TestZonalStatsEdgesAndNoData(t *testing.T) {
	g, err := ParseASCIIGrid(strings.NewReader(sampleGrid))
	require.NoError(t, err)

	// exact raster extent; the nodata cell is skipped
	s := ZonalStats(g, box(0, 0, 40, 40))
	require.False(t, s.Empty())
	assert.Equal(t, 15, *s.Count)
	assert.Equal(t, 15.0, *s.Maximum)
	assert.Equal(t, 8.0, *s.Median)

	// zone larger than the raster is clamped
	s = ZonalStats(g, box(-100, -100, 100, 100))
	assert.Equal(t, 15, *s.Count)

	// only the nodata cell
	s = ZonalStats(g, box(30, 0, 40, 10))
	assert.True(t, s.Empty())
	assert.Nil(t, s.Minimum)

	// outside
	s = ZonalStats(g, box(100, 100, 120, 120))
	assert.True(t, s.Empty())

	assert.True(t, ZonalStats(g, nil).Empty())
}

func TestReadTIFFWithWorldFile(t *testing.T) {
	dir := t.TempDir()
	img := image.NewGray16(image.Rect(0, 0, 3, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			img.SetGray16(x, y, color.Gray16{Y: uint16(100 + y*3 + x)})
		}
	}
	path := filepath.Join(dir, "dem.tif")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, tiff.Encode(f, img, nil))
	require.NoError(t, f.Close())

	// 2 m cells, upper-left cell center at (501, 4999)
	world := "2\n0\n0\n-2\n501\n4999\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dem.tfw"), []byte(world), 0o644))

	g, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 3, g.Cols)
	assert.Equal(t, 2, g.Rows)
	assert.Equal(t, 500.0, g.OriginX)
	assert.Equal(t, 5000.0, g.OriginY)
	assert.Equal(t, 104.0, g.At(1, 1))

	s := ZonalStats(g, box(500, 4996, 502, 5000))
	require.False(t, s.Empty())
	assert.Equal(t, 100.0, *s.Minimum)
	assert.Equal(t, 103.0, *s.Maximum)
}

func TestOpenUnsupported(t *testing.T) {
	_, err := Open("surface.img")
	assert.Error(t, err)
}
