package raster

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ReadASCIIGrid opens an ESRI ASCII grid file.
func ReadASCIIGrid(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open raster: %w", err)
	}
	defer f.Close()
	return ParseASCIIGrid(f)
}

// ParseASCIIGrid parses the header (ncols, nrows, xll*, yll*, cellsize,
// nodata_value) followed by rows of values from north to south.
func ParseASCIIGrid(r io.Reader) (*Grid, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1024*1024), 64*1024*1024)
	sc.Split(bufio.ScanWords)

	header := map[string]float64{}
	var pending *float64
	for len(header) < 6 && sc.Scan() {
		key := strings.ToLower(sc.Text())
		if _, err := strconv.ParseFloat(key, 64); err == nil {
			// nodata_value is optional; the first number starts the data
			v, _ := strconv.ParseFloat(key, 64)
			pending = &v
			break
		}
		if !sc.Scan() {
			return nil, fmt.Errorf("missing value for header %q", key)
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid header %q: %w", key, err)
		}
		header[key] = v
	}

	cols, rows := int(header["ncols"]), int(header["nrows"])
	cell, ok := header["cellsize"]
	if !ok || cols <= 0 || rows <= 0 {
		return nil, fmt.Errorf("ascii grid header requires ncols, nrows and cellsize")
	}

	g := &Grid{Cols: cols, Rows: rows, CellWidth: cell, CellHeight: cell}
	switch {
	case hasKey(header, "xllcorner"):
		g.OriginX = header["xllcorner"]
	case hasKey(header, "xllcenter"):
		g.OriginX = header["xllcenter"] - cell/2
	default:
		return nil, fmt.Errorf("ascii grid header requires xllcorner or xllcenter")
	}
	switch {
	case hasKey(header, "yllcorner"):
		g.OriginY = header["yllcorner"] + float64(rows)*cell
	case hasKey(header, "yllcenter"):
		g.OriginY = header["yllcenter"] - cell/2 + float64(rows)*cell
	default:
		return nil, fmt.Errorf("ascii grid header requires yllcorner or yllcenter")
	}
	if nd, ok := header["nodata_value"]; ok {
		g.NoData = &nd
	}

	g.Values = make([]float64, 0, cols*rows)
	if pending != nil {
		g.Values = append(g.Values, *pending)
	}
	for len(g.Values) < cols*rows && sc.Scan() {
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid cell value %q: %w", sc.Text(), err)
		}
		g.Values = append(g.Values, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ascii grid: %w", err)
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func hasKey(m map[string]float64, k string) bool {
	_, ok := m[k]
	return ok
}
