package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/paulmach/orb"

	"github.com/riverscapes/qris/internal/errors"
	"github.com/riverscapes/qris/internal/geom"
)

// Sample frame (mask) types, matching lkp_mask_types.
const (
	MaskTypeRegular     = "Regular"
	MaskTypeDirectional = "Directional"
	MaskTypeAOI         = "AOI"
)

var maskTypeIDs = map[string]int64{
	MaskTypeRegular:     1,
	MaskTypeDirectional: 2,
	MaskTypeAOI:         3,
}

// SampleFrame is a named collection of polygons metrics are aggregated over.
type SampleFrame struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	MaskType    string         `json:"mask_type"`
	Description *string        `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// SampleFrameFeature is one polygon of a sample frame.
type SampleFrameFeature struct {
	FID          int64          `json:"fid"`
	MaskID       int64          `json:"mask_id"`
	DisplayLabel string         `json:"display_label"`
	Geometry     orb.Geometry   `json:"-"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func maskTypeID(op, t string) (int64, error) {
	id, ok := maskTypeIDs[t]
	if !ok {
		return 0, errors.Newf(errors.KindValidation, op, "unknown sample frame type %q", t)
	}
	return id, nil
}

// CreateSampleFrame inserts a sample frame.
func (db *DB) CreateSampleFrame(ctx context.Context, sf *SampleFrame) error {
	name, err := cleanName("create sample frame", sf.Name)
	if err != nil {
		return err
	}
	if sf.MaskType == "" {
		sf.MaskType = MaskTypeRegular
	}
	typeID, err := maskTypeID("create sample frame", sf.MaskType)
	if err != nil {
		return err
	}
	md, err := jsonText(sf.Metadata)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO masks (name, mask_type_id, description, metadata) VALUES (?, ?, ?, ?)`,
		name, typeID, sf.Description, md)
	if err != nil {
		return writeErr("create sample frame", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	sf.ID = id
	sf.Name = name
	sf.CreatedAt = time.Now()
	return nil
}

const maskColumns = `m.id, m.name, t.name, m.description, m.metadata, m.created_at`

func scanSampleFrame(row interface{ Scan(...any) error }) (*SampleFrame, error) {
	var sf SampleFrame
	var desc, md sql.NullString
	var createdAt int64
	if err := row.Scan(&sf.ID, &sf.Name, &sf.MaskType, &desc, &md, &createdAt); err != nil {
		return nil, err
	}
	sf.Description = nullString(desc)
	if err := scanJSON(md, &sf.Metadata); err != nil {
		return nil, err
	}
	sf.CreatedAt = time.Unix(createdAt, 0)
	return &sf, nil
}

// GetSampleFrame retrieves a sample frame by ID.
func (db *DB) GetSampleFrame(ctx context.Context, id int64) (*SampleFrame, error) {
	sf, err := scanSampleFrame(db.QueryRowContext(ctx, `
		SELECT `+maskColumns+` FROM masks m JOIN lkp_mask_types t ON t.id = m.mask_type_id
		WHERE m.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, notFound("get sample frame", "sample frame", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sample frame: %w", err)
	}
	return sf, nil
}

// ListSampleFrames returns every sample frame ordered by ID.
func (db *DB) ListSampleFrames(ctx context.Context) ([]SampleFrame, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+maskColumns+` FROM masks m JOIN lkp_mask_types t ON t.id = m.mask_type_id
		ORDER BY m.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sample frames: %w", err)
	}
	defer rows.Close()
	var out []SampleFrame
	for rows.Next() {
		sf, err := scanSampleFrame(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sample frame: %w", err)
		}
		out = append(out, *sf)
	}
	return out, rows.Err()
}

// UpdateSampleFrame updates a sample frame's name, type and description.
func (db *DB) UpdateSampleFrame(ctx context.Context, sf *SampleFrame) error {
	name, err := cleanName("update sample frame", sf.Name)
	if err != nil {
		return err
	}
	typeID, err := maskTypeID("update sample frame", sf.MaskType)
	if err != nil {
		return err
	}
	md, err := jsonText(sf.Metadata)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx,
		`UPDATE masks SET name = ?, mask_type_id = ?, description = ?, metadata = ? WHERE id = ?`,
		name, typeID, sf.Description, md, sf.ID)
	if err != nil {
		return writeErr("update sample frame", err)
	}
	sf.Name = name
	return checkAffected(res, "update sample frame", "sample frame", sf.ID)
}

// DeleteSampleFrame deletes a sample frame and its features. Fails with a
// schema error while an analysis uses it.
func (db *DB) DeleteSampleFrame(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM masks WHERE id = ?`, id)
	if err != nil {
		return writeErr("delete sample frame", err)
	}
	return checkAffected(res, "delete sample frame", "sample frame", id)
}

// CreateSampleFrameFeature inserts a polygon into a sample frame.
func (db *DB) CreateSampleFrameFeature(ctx context.Context, f *SampleFrameFeature) error {
	if geom.KindOf(f.Geometry) != geom.KindPolygon {
		return errors.Newf(errors.KindValidation, "create sample frame feature",
			"sample frame features must be polygons, got %s", geom.KindOf(f.Geometry))
	}
	mp, err := geom.AsMultiPolygon(f.Geometry)
	if err != nil {
		return errors.New(errors.KindValidation, "create sample frame feature", err)
	}
	md, err := jsonText(f.Metadata)
	if err != nil {
		return err
	}
	fid, err := insertFeature(ctx, db, TableSampleFrameFeatures, map[string]any{
		"mask_id":       f.MaskID,
		"display_label": f.DisplayLabel,
		"metadata":      md,
	}, mp)
	if err != nil {
		return err
	}
	f.FID = fid
	return nil
}

func (db *DB) readSampleFrameFeatures(ctx context.Context, where string, args ...any) ([]SampleFrameFeature, error) {
	ds, err := db.SpatialOpen(ctx)
	if err != nil {
		return nil, err
	}
	r, err := ds.Layer(ctx, TableSampleFrameFeatures)
	if err != nil {
		return nil, err
	}
	feats, err := r.Where(where, args...).All()
	if err != nil {
		return nil, err
	}
	out := make([]SampleFrameFeature, 0, len(feats))
	for _, f := range feats {
		sff := SampleFrameFeature{FID: f.FID, Geometry: f.Geometry, Metadata: f.Metadata}
		sff.MaskID = toInt64(f.Columns["mask_id"])
		if s, ok := f.Columns["display_label"].(string); ok {
			sff.DisplayLabel = s
		}
		out = append(out, sff)
	}
	return out, nil
}

// GetSampleFrameFeature retrieves a sample frame feature by fid.
func (db *DB) GetSampleFrameFeature(ctx context.Context, fid int64) (*SampleFrameFeature, error) {
	feats, err := db.readSampleFrameFeatures(ctx, "fid = ?", fid)
	if err != nil {
		return nil, err
	}
	if len(feats) == 0 {
		return nil, notFound("get sample frame feature", "sample frame feature", fid)
	}
	return &feats[0], nil
}

// ListSampleFrameFeatures returns the features of a sample frame ordered by fid.
func (db *DB) ListSampleFrameFeatures(ctx context.Context, maskID int64) ([]SampleFrameFeature, error) {
	return db.readSampleFrameFeatures(ctx, "mask_id = ?", maskID)
}

// GetSampleFrameGeometry returns the polygon of one sample frame feature.
func (db *DB) GetSampleFrameGeometry(ctx context.Context, fid int64) (orb.MultiPolygon, error) {
	f, err := db.GetSampleFrameFeature(ctx, fid)
	if err != nil {
		return nil, err
	}
	mp, err := geom.AsMultiPolygon(f.Geometry)
	if err != nil || len(mp) == 0 {
		return nil, errors.Newf(errors.KindMetricInputMissing, "get sample frame geometry",
			"sample frame feature %d has no polygon geometry", fid)
	}
	return mp, nil
}

// DeleteSampleFrameFeature deletes one sample frame feature and its metric values.
func (db *DB) DeleteSampleFrameFeature(ctx context.Context, fid int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM sample_frame_features WHERE fid = ?`, fid)
	if err != nil {
		return writeErr("delete sample frame feature", err)
	}
	return checkAffected(res, "delete sample frame feature", "sample frame feature", fid)
}
