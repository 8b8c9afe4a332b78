// Package raster reads single-band elevation rasters and computes zonal
// statistics over polygons.
package raster

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
)

// Grid is a north-up single-band raster held in memory.
type Grid struct {
	Cols, Rows int
	// OriginX/OriginY is the outer top-left corner of the top-left cell.
	OriginX, OriginY float64
	CellWidth        float64
	CellHeight       float64 // positive; rows run south
	NoData           *float64
	EPSG             int
	Values           []float64 // row-major, top row first
}

// At returns the value at column c, row r.
func (g *Grid) At(c, r int) float64 {
	return g.Values[r*g.Cols+c]
}

// CellCenter returns the map coordinates of the center of cell (c, r).
func (g *Grid) CellCenter(c, r int) (float64, float64) {
	return g.OriginX + (float64(c)+0.5)*g.CellWidth, g.OriginY - (float64(r)+0.5)*g.CellHeight
}

// IsNoData reports whether v is the nodata value or NaN.
func (g *Grid) IsNoData(v float64) bool {
	if math.IsNaN(v) {
		return true
	}
	return g.NoData != nil && v == *g.NoData
}

func (g *Grid) validate() error {
	if g.Cols <= 0 || g.Rows <= 0 {
		return fmt.Errorf("invalid raster size %dx%d", g.Cols, g.Rows)
	}
	if g.CellWidth <= 0 || g.CellHeight <= 0 {
		return fmt.Errorf("invalid cell size %vx%v", g.CellWidth, g.CellHeight)
	}
	if len(g.Values) != g.Cols*g.Rows {
		return fmt.Errorf("raster has %d values, expected %d", len(g.Values), g.Cols*g.Rows)
	}
	return nil
}

// Open reads a raster by extension: .asc (ESRI ASCII grid) or .tif/.tiff
// with a sibling world file.
func Open(path string) (*Grid, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".asc":
		return ReadASCIIGrid(path)
	case ".tif", ".tiff":
		return ReadTIFF(path)
	}
	return nil, fmt.Errorf("unsupported raster format: %s", filepath.Base(path))
}
