package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/paulmach/orb"

	"github.com/riverscapes/qris/internal/errors"
	"github.com/riverscapes/qris/internal/geom"
)

// Feature tables.
const (
	TablePoints              = "dce_points"
	TableLines               = "dce_lines"
	TablePolygons            = "dce_polygons"
	TableSampleFrameFeatures = "sample_frame_features"
	TableProfileCenterlines  = "profile_centerlines"
	TableValleyBottoms       = "valley_bottom_features"
	TablePourPoints          = "pour_points"
	TableCatchments          = "catchments"
	TableStreamGages         = "stream_gages"
)

// FeatureClassFor returns the event layer table for a layer geometry type.
func FeatureClassFor(geomType string) string {
	switch geom.Kind(geomType) {
	case geom.KindPoint:
		return TablePoints
	case geom.KindLine:
		return TableLines
	case geom.KindPolygon:
		return TablePolygons
	}
	return ""
}

// Feature is one row of a spatial table. Geometry is in EPSG:4326.
type Feature struct {
	FID      int64
	Geometry orb.Geometry
	Metadata map[string]any
	// Columns holds every other column by name.
	Columns map[string]any
}

// Attribute returns metadata.attributes[name].
func (f *Feature) Attribute(name string) (any, bool) {
	attrs, ok := f.Metadata["attributes"].(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := attrs[name]
	return v, ok
}

// Dataset is the spatial read facade over the project's feature tables.
type Dataset struct {
	db     *DB
	tables map[string]string // table -> geometry column
}

// SpatialOpen returns a Dataset listing the tables registered in
// gpkg_geometry_columns.
func (db *DB) SpatialOpen(ctx context.Context) (*Dataset, error) {
	rows, err := db.QueryContext(ctx, `SELECT table_name, column_name FROM gpkg_geometry_columns`)
	if err != nil {
		return nil, fmt.Errorf("failed to list feature tables: %w", err)
	}
	defer rows.Close()

	ds := &Dataset{db: db, tables: map[string]string{}}
	for rows.Next() {
		var table, col string
		if err := rows.Scan(&table, &col); err != nil {
			return nil, fmt.Errorf("failed to scan feature table: %w", err)
		}
		ds.tables[table] = col
	}
	return ds, rows.Err()
}

// Tables returns the registered feature table names, sorted.
func (d *Dataset) Tables() []string {
	out := make([]string, 0, len(d.tables))
	for t := range d.tables {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Layer returns a reader over one feature table.
func (d *Dataset) Layer(ctx context.Context, table string) (*FeatureReader, error) {
	col, ok := d.tables[table]
	if !ok {
		return nil, errors.Newf(errors.KindNotFound, "open layer", "feature table %q is not registered", table)
	}
	return &FeatureReader{ctx: ctx, q: d.db, table: table, geomCol: col}, nil
}

// FeatureReader iterates a feature table lazily. The query runs on the first
// call to Next.
type FeatureReader struct {
	ctx     context.Context
	q       Querier
	table   string
	geomCol string
	where   string
	args    []any
	filter  orb.MultiPolygon
	bound   orb.Bound

	rows    *sql.Rows
	width   int
	current *Feature
	err     error
	started bool
}

// Where restricts rows by a SQL predicate.
func (r *FeatureReader) Where(clause string, args ...any) *FeatureReader {
	r.where = clause
	r.args = args
	return r
}

// SpatialFilter keeps only features that intersect frame.
func (r *FeatureReader) SpatialFilter(frame orb.MultiPolygon) *FeatureReader {
	r.filter = frame
	r.bound = frame.Bound()
	return r
}

func (r *FeatureReader) start() error {
	q := fmt.Sprintf("SELECT * FROM %s", r.table)
	if r.where != "" {
		q += " WHERE " + r.where
	}
	q += " ORDER BY fid"
	rows, err := r.q.QueryContext(r.ctx, q, r.args...)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", r.table, err)
	}
	r.rows = rows
	return nil
}

// Next advances to the next matching feature.
func (r *FeatureReader) Next() bool {
	if r.err != nil {
		return false
	}
	if !r.started {
		r.started = true
		if err := r.start(); err != nil {
			r.err = err
			return false
		}
	}
	if r.rows == nil {
		return false
	}
	for r.rows.Next() {
		if err := r.ctx.Err(); err != nil {
			r.err = errors.New(errors.KindCancelled, "read features", err)
			return false
		}
		f, keep, err := r.scan()
		if err != nil {
			r.err = err
			return false
		}
		if keep {
			r.current = f
			return true
		}
	}
	r.current = nil
	if err := r.ctx.Err(); err != nil {
		r.err = errors.New(errors.KindCancelled, "read features", err)
		return false
	}
	r.err = r.rows.Err()
	return false
}

func (r *FeatureReader) scan() (*Feature, bool, error) {
	row := make(map[string]any, r.width)
	if err := sqlx.MapScan(r.rows, row); err != nil {
		return nil, false, fmt.Errorf("failed to scan %s: %w", r.table, err)
	}
	r.width = len(row)

	f := &Feature{FID: toInt64(row["fid"]), Columns: make(map[string]any, len(row))}
	blob, _ := row[r.geomCol].([]byte)
	if raw, ok := row["metadata"]; ok {
		md, err := decodeMetadata(raw)
		if err != nil {
			return nil, false, fmt.Errorf("feature %d of %s: %w", f.FID, r.table, err)
		}
		f.Metadata = md
	}
	for c, v := range row {
		switch c {
		case "fid", r.geomCol, "metadata":
			continue
		}
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		f.Columns[c] = v
	}

	if r.filter != nil {
		if env, ok := GeometryEnvelope(blob); ok && !env.Intersects(r.bound) {
			return nil, false, nil
		}
	}
	g, _, err := DecodeGeometry(blob)
	if err != nil {
		return nil, false, fmt.Errorf("feature %d of %s: %w", f.FID, r.table, err)
	}
	f.Geometry = g
	if r.filter != nil && !geom.Intersects(g, r.filter) {
		return nil, false, nil
	}
	return f, true, nil
}

// Feature returns the current feature. It is replaced by the next call to Next.
func (r *FeatureReader) Feature() *Feature {
	return r.current
}

// Err returns the first error met while iterating.
func (r *FeatureReader) Err() error {
	return r.err
}

// Close releases the underlying rows.
func (r *FeatureReader) Close() error {
	if r.rows != nil {
		return r.rows.Close()
	}
	return nil
}

// All drains the reader.
func (r *FeatureReader) All() ([]*Feature, error) {
	defer r.Close()
	var out []*Feature
	for r.Next() {
		out = append(out, r.Feature())
	}
	return out, r.Err()
}

func decodeMetadata(v any) (map[string]any, error) {
	var raw []byte
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		raw = []byte(t)
	case []byte:
		raw = t
	default:
		return nil, fmt.Errorf("unexpected metadata type %T", v)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return nil, nil
	}
	var md map[string]any
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, fmt.Errorf("invalid metadata json: %w", err)
	}
	return md, nil
}

func encodeMetadata(md map[string]any) (any, error) {
	if md == nil {
		return nil, nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(b), nil
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	}
	return 0
}

// insertFeature writes a row to a spatial table and returns its fid.
func insertFeature(ctx context.Context, q Querier, table string, cols map[string]any, g orb.Geometry) (int64, error) {
	blob, err := EncodeGeometry(g, SRSWGS84)
	if err != nil {
		return 0, err
	}
	names := make([]string, 0, len(cols)+1)
	for k := range cols {
		names = append(names, k)
	}
	sort.Strings(names)

	args := make([]any, 0, len(names)+1)
	for _, n := range names {
		args = append(args, cols[n])
	}
	names = append(names, "geom")
	args = append(args, blob)

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(names, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", "))
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, writeErr("insert into "+table, err)
	}
	fid, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return fid, nil
}

// InsertEventFeature stores a feature captured on an event for a layer. The
// table is the layer's feature class.
func (db *DB) InsertEventFeature(ctx context.Context, eventID int64, layer *Layer, g orb.Geometry, attributes map[string]any) (int64, error) {
	if layer.FeatureClass != FeatureClassFor(string(geom.KindOf(g))) {
		return 0, errors.Newf(errors.KindValidation, "insert event feature",
			"layer %s stores %s geometry, got %s", layer.LayerID, layer.GeomType, geom.KindOf(g))
	}
	md, err := encodeMetadata(attributesMetadata(attributes))
	if err != nil {
		return 0, err
	}
	return insertFeature(ctx, db, layer.FeatureClass, map[string]any{
		"event_id":       eventID,
		"event_layer_id": layer.ID,
		"metadata":       md,
	}, g)
}

func attributesMetadata(attributes map[string]any) map[string]any {
	if attributes == nil {
		return nil
	}
	return map[string]any{"attributes": attributes}
}

// CountEventFeatures counts the features of one layer on one event.
func (db *DB) CountEventFeatures(ctx context.Context, eventID int64, layer *Layer) (int, error) {
	if layer.FeatureClass == "" || geom.Kind(layer.GeomType) == geom.KindNone {
		return 0, nil
	}
	var n int
	err := db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE event_id = ? AND event_layer_id = ?", layer.FeatureClass),
		eventID, layer.ID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count features: %w", err)
	}
	return n, nil
}
