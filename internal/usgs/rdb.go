package usgs

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Record is one data row of an RDB table keyed by column name.
type Record map[string]string

// ParseRDB reads the tab-delimited RDB format served by the USGS water
// services. Comment lines ("#") and the column-width line ("5s 15s ...")
// that follows the header are skipped.
func ParseRDB(data []byte) ([]Record, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = '\t'
	r.Comment = '#'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true

	var header []string
	var out []Record
	for {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read rdb: %w", err)
		}
		if header == nil {
			header = append([]string(nil), fields...)
			continue
		}
		if isWidthLine(fields) {
			continue
		}
		if len(fields) > len(header) {
			line, _ := r.FieldPos(0)
			return nil, fmt.Errorf("line %d: %d fields for %d columns", line, len(fields), len(header))
		}
		rec := make(Record, len(header))
		for i, col := range header {
			if i < len(fields) {
				rec[col] = strings.TrimSpace(fields[i])
			} else {
				rec[col] = ""
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// isWidthLine matches the RDB format row, e.g. "5s 15s 20d 14n 10s".
func isWidthLine(fields []string) bool {
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if len(f) < 2 || !strings.ContainsRune("sdn", rune(f[len(f)-1])) {
			return false
		}
		for _, c := range f[:len(f)-1] {
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return len(fields) > 0
}

// requireColumns reports the first of cols missing from the header of recs.
func requireColumns(recs []Record, cols ...string) error {
	if len(recs) == 0 {
		return nil
	}
	for _, c := range cols {
		if _, ok := recs[0][c]; !ok {
			return fmt.Errorf("missing column %q", c)
		}
	}
	return nil
}
