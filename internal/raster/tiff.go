package raster

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/image/tiff"
)

// ReadTIFF decodes a single-band TIFF and georeferences it from the sibling
// world file (.tfw or .tifw).
func ReadTIFF(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open raster: %w", err)
	}
	defer f.Close()

	img, err := tiff.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode tiff: %w", err)
	}

	wf, err := readWorldFile(path)
	if err != nil {
		return nil, err
	}
	return gridFromImage(img, wf)
}

// worldFile holds the six affine coefficients of an ESRI world file.
type worldFile struct {
	A, D, B, E, C, F float64
}

func readWorldFile(rasterPath string) (worldFile, error) {
	base := strings.TrimSuffix(rasterPath, filepath.Ext(rasterPath))
	var lastErr error
	for _, ext := range []string{".tfw", ".tifw", ".TFW"} {
		f, err := os.Open(base + ext)
		if err != nil {
			lastErr = err
			continue
		}
		defer f.Close()
		return parseWorldFile(f)
	}
	return worldFile{}, fmt.Errorf("failed to find world file for %s: %w", rasterPath, lastErr)
}

func parseWorldFile(f io.Reader) (worldFile, error) {
	var vals []float64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return worldFile{}, fmt.Errorf("invalid world file line %q: %w", line, err)
		}
		vals = append(vals, v)
	}
	if err := sc.Err(); err != nil {
		return worldFile{}, fmt.Errorf("failed to read world file: %w", err)
	}
	if len(vals) != 6 {
		return worldFile{}, fmt.Errorf("world file has %d values, expected 6", len(vals))
	}
	wf := worldFile{A: vals[0], D: vals[1], B: vals[2], E: vals[3], C: vals[4], F: vals[5]}
	if wf.B != 0 || wf.D != 0 {
		return worldFile{}, fmt.Errorf("rotated rasters are not supported")
	}
	return wf, nil
}

func gridFromImage(img image.Image, wf worldFile) (*Grid, error) {
	b := img.Bounds()
	g := &Grid{
		Cols:       b.Dx(),
		Rows:       b.Dy(),
		CellWidth:  wf.A,
		CellHeight: -wf.E,
		// world file coordinates are cell centers
		OriginX: wf.C - wf.A/2,
		OriginY: wf.F - wf.E/2,
	}
	g.Values = make([]float64, 0, g.Cols*g.Rows)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g.Values = append(g.Values, sample(img, x, y))
		}
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func sample(img image.Image, x, y int) float64 {
	switch im := img.(type) {
	case *image.Gray16:
		return float64(im.Gray16At(x, y).Y)
	case *image.Gray:
		return float64(im.GrayAt(x, y).Y)
	}
	c := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16)
	return float64(c.Y)
}
