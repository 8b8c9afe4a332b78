package db

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/riverscapes/qris/internal/errors"
)

// Raster types, matching lkp_raster_types.
const (
	RasterTypeBasemap = "basemap"
	RasterTypeSurface = "surface"
	RasterTypeContext = "context"
)

var rasterTypeIDs = map[string]int64{
	RasterTypeBasemap: 1,
	RasterTypeSurface: 2,
	RasterTypeContext: 3,
}

// Raster is a raster file copied into the project. Path is relative to the
// project directory.
type Raster struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Path        string         `json:"path"`
	RasterType  string         `json:"raster_type"`
	Description *string        `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// EPSG returns metadata.epsg, or 0 when unset.
func (r *Raster) EPSG() int {
	switch v := r.Metadata["epsg"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

// AbsPath resolves the raster path against the project directory.
func (r *Raster) AbsPath(projectDir string) string {
	if filepath.IsAbs(r.Path) {
		return r.Path
	}
	return filepath.Join(projectDir, r.Path)
}

func rasterTypeID(op, t string) (int64, error) {
	id, ok := rasterTypeIDs[t]
	if !ok {
		return 0, errors.Newf(errors.KindValidation, op, "unknown raster type %q", t)
	}
	return id, nil
}

// CreateRaster inserts a raster.
func (db *DB) CreateRaster(ctx context.Context, r *Raster) error {
	name, err := cleanName("create raster", r.Name)
	if err != nil {
		return err
	}
	if r.Path == "" {
		return errors.Newf(errors.KindValidation, "create raster", "path is required")
	}
	typeID, err := rasterTypeID("create raster", r.RasterType)
	if err != nil {
		return err
	}
	md, err := jsonText(r.Metadata)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO rasters (name, path, raster_type_id, description, metadata) VALUES (?, ?, ?, ?, ?)`,
		name, r.Path, typeID, r.Description, md)
	if err != nil {
		return writeErr("create raster", err)
	}
	if r.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	r.Name = name
	r.CreatedAt = time.Now()
	return nil
}

const rasterColumns = `r.id, r.name, r.path, t.name, r.description, r.metadata, r.created_at`

func scanRaster(row interface{ Scan(...any) error }) (*Raster, error) {
	var r Raster
	var desc, md sql.NullString
	var createdAt int64
	if err := row.Scan(&r.ID, &r.Name, &r.Path, &r.RasterType, &desc, &md, &createdAt); err != nil {
		return nil, err
	}
	r.Description = nullString(desc)
	if err := scanJSON(md, &r.Metadata); err != nil {
		return nil, err
	}
	r.CreatedAt = time.Unix(createdAt, 0)
	return &r, nil
}

// GetRaster retrieves a raster by ID.
func (db *DB) GetRaster(ctx context.Context, id int64) (*Raster, error) {
	r, err := scanRaster(db.QueryRowContext(ctx, `
		SELECT `+rasterColumns+` FROM rasters r JOIN lkp_raster_types t ON t.id = r.raster_type_id
		WHERE r.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, notFound("get raster", "raster", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get raster: %w", err)
	}
	return r, nil
}

// ListRasters returns every raster ordered by ID.
func (db *DB) ListRasters(ctx context.Context) ([]Raster, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+rasterColumns+` FROM rasters r JOIN lkp_raster_types t ON t.id = r.raster_type_id
		ORDER BY r.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rasters: %w", err)
	}
	defer rows.Close()
	var out []Raster
	for rows.Next() {
		r, err := scanRaster(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan raster: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// UpdateRaster updates a raster's name, type and description.
func (db *DB) UpdateRaster(ctx context.Context, r *Raster) error {
	name, err := cleanName("update raster", r.Name)
	if err != nil {
		return err
	}
	typeID, err := rasterTypeID("update raster", r.RasterType)
	if err != nil {
		return err
	}
	md, err := jsonText(r.Metadata)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx,
		`UPDATE rasters SET name = ?, raster_type_id = ?, description = ?, metadata = ? WHERE id = ?`,
		name, typeID, r.Description, md, r.ID)
	if err != nil {
		return writeErr("update raster", err)
	}
	r.Name = name
	return checkAffected(res, "update raster", "raster", r.ID)
}

// DeleteRaster deletes a raster row. The file on disk is left to the caller.
func (db *DB) DeleteRaster(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM rasters WHERE id = ?`, id)
	if err != nil {
		return writeErr("delete raster", err)
	}
	return checkAffected(res, "delete raster", "raster", id)
}
