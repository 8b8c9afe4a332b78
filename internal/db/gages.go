package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/riverscapes/qris/internal/errors"
	"github.com/riverscapes/qris/internal/geom"
)

// StreamGage is a gage site discovered from the USGS site service.
type StreamGage struct {
	FID       int64          `json:"fid"`
	SiteCode  string         `json:"site_code"`
	SiteName  string         `json:"site_name"`
	Agency    string         `json:"agency"`
	HUC       string         `json:"huc"`
	SiteDatum string         `json:"site_datum"`
	Latitude  float64        `json:"latitude"`
	Longitude float64        `json:"longitude"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Discharge is one daily measurement of a gage.
type Discharge struct {
	StreamGageID    int64    `json:"stream_gage_id"`
	MeasurementDate string   `json:"measurement_date"`
	Discharge       *float64 `json:"discharge"`
	DischargeCode   *string  `json:"discharge_code"`
	GageHeight      *float64 `json:"gage_height"`
	GageHeightCode  *string  `json:"gage_height_code"`
}

// PourPoint is a watershed outlet with its delineation results.
type PourPoint struct {
	FID                  int64          `json:"fid"`
	Name                 string         `json:"name"`
	Latitude             float64        `json:"latitude"`
	Longitude            float64        `json:"longitude"`
	Description          *string        `json:"description"`
	BasinCharacteristics map[string]any `json:"basin_characteristics,omitempty"`
	FlowStatistics       map[string]any `json:"flow_statistics,omitempty"`
}

// InsertStreamGage stores a gage. A gage whose site code already exists is
// skipped and inserted is false.
func (db *DB) InsertStreamGage(ctx context.Context, g *StreamGage) (inserted bool, err error) {
	if g.SiteCode == "" {
		return false, errors.Newf(errors.KindValidation, "insert stream gage", "site code is required")
	}
	var existing int64
	err = db.QueryRowContext(ctx, `SELECT fid FROM stream_gages WHERE site_code = ?`, g.SiteCode).Scan(&existing)
	if err == nil {
		g.FID = existing
		return false, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("failed to check stream gage: %w", err)
	}
	md, err := jsonText(g.Metadata)
	if err != nil {
		return false, err
	}
	fid, err := insertFeature(ctx, db, TableStreamGages, map[string]any{
		"site_code":  g.SiteCode,
		"site_name":  g.SiteName,
		"agency":     g.Agency,
		"huc":        g.HUC,
		"site_datum": g.SiteDatum,
		"latitude":   g.Latitude,
		"longitude":  g.Longitude,
		"metadata":   md,
	}, orb.Point{g.Longitude, g.Latitude})
	if errors.IsKind(err, errors.KindDuplicateName) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	g.FID = fid
	return true, nil
}

// GetStreamGage retrieves a gage by site code.
func (db *DB) GetStreamGage(ctx context.Context, siteCode string) (*StreamGage, error) {
	gages, err := db.listStreamGages(ctx, `WHERE site_code = ?`, siteCode)
	if err != nil {
		return nil, err
	}
	if len(gages) == 0 {
		return nil, notFound("get stream gage", "stream gage", siteCode)
	}
	return &gages[0], nil
}

// ListStreamGages returns every gage ordered by fid.
func (db *DB) ListStreamGages(ctx context.Context) ([]StreamGage, error) {
	return db.listStreamGages(ctx, "")
}

func (db *DB) listStreamGages(ctx context.Context, where string, args ...any) ([]StreamGage, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT fid, site_code, COALESCE(site_name, ''), COALESCE(agency, ''), COALESCE(huc, ''),
			COALESCE(site_datum, ''), COALESCE(latitude, 0), COALESCE(longitude, 0), metadata
		FROM stream_gages `+where+` ORDER BY fid`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list stream gages: %w", err)
	}
	defer rows.Close()
	var out []StreamGage
	for rows.Next() {
		var g StreamGage
		var md sql.NullString
		if err := rows.Scan(&g.FID, &g.SiteCode, &g.SiteName, &g.Agency, &g.HUC,
			&g.SiteDatum, &g.Latitude, &g.Longitude, &md); err != nil {
			return nil, fmt.Errorf("failed to scan stream gage: %w", err)
		}
		if err := scanJSON(md, &g.Metadata); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// InsertDischarges bulk-inserts measurements of one gage in a transaction.
// A measurement for an existing date replaces the stored one.
func (db *DB) InsertDischarges(ctx context.Context, gageID int64, ds []Discharge) (int, error) {
	n := 0
	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO stream_gage_discharges (
				stream_gage_id, measurement_date, discharge, discharge_code, gage_height, gage_height_code
			) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (stream_gage_id, measurement_date) DO UPDATE SET
				discharge = excluded.discharge,
				discharge_code = excluded.discharge_code,
				gage_height = excluded.gage_height,
				gage_height_code = excluded.gage_height_code`)
		if err != nil {
			return fmt.Errorf("failed to prepare discharge insert: %w", err)
		}
		defer stmt.Close()
		for _, d := range ds {
			if _, err := stmt.ExecContext(ctx, gageID, d.MeasurementDate,
				d.Discharge, d.DischargeCode, d.GageHeight, d.GageHeightCode); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, writeErr("insert discharges", err)
	}
	return n, nil
}

// ListDischarges returns the measurements of a gage ordered by date.
func (db *DB) ListDischarges(ctx context.Context, gageID int64) ([]Discharge, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT stream_gage_id, measurement_date, discharge, discharge_code, gage_height, gage_height_code
		FROM stream_gage_discharges WHERE stream_gage_id = ? ORDER BY measurement_date`, gageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list discharges: %w", err)
	}
	defer rows.Close()
	var out []Discharge
	for rows.Next() {
		var d Discharge
		var q, h sql.NullFloat64
		var qc, hc sql.NullString
		if err := rows.Scan(&d.StreamGageID, &d.MeasurementDate, &q, &qc, &h, &hc); err != nil {
			return nil, fmt.Errorf("failed to scan discharge: %w", err)
		}
		d.Discharge, d.DischargeCode = nullFloat(q), nullString(qc)
		d.GageHeight, d.GageHeightCode = nullFloat(h), nullString(hc)
		out = append(out, d)
	}
	return out, rows.Err()
}

// InsertPourPoint stores a pour point and its catchment polygon in one
// transaction and returns the catchment fid.
func (db *DB) InsertPourPoint(ctx context.Context, pp *PourPoint, catchment orb.Geometry) (int64, error) {
	name, err := cleanName("insert pour point", pp.Name)
	if err != nil {
		return 0, err
	}
	mp, err := geom.AsMultiPolygon(catchment)
	if err != nil {
		return 0, errors.New(errors.KindValidation, "insert pour point", err)
	}
	basin, err := jsonText(pp.BasinCharacteristics)
	if err != nil {
		return 0, err
	}
	flow, err := jsonText(pp.FlowStatistics)
	if err != nil {
		return 0, err
	}
	var catchmentID int64
	err = db.Transaction(ctx, func(tx *sql.Tx) error {
		fid, err := insertFeature(ctx, tx, TablePourPoints, map[string]any{
			"name":                  name,
			"latitude":              pp.Latitude,
			"longitude":             pp.Longitude,
			"description":           pp.Description,
			"basin_characteristics": basin,
			"flow_statistics":       flow,
		}, orb.Point{pp.Longitude, pp.Latitude})
		if err != nil {
			return err
		}
		pp.FID = fid
		catchmentID, err = insertFeature(ctx, tx, TableCatchments, map[string]any{"pour_point_id": fid}, mp)
		return err
	})
	if err != nil {
		return 0, writeErr("insert pour point", err)
	}
	pp.Name = name
	return catchmentID, nil
}

// ListPourPoints returns every pour point ordered by fid.
func (db *DB) ListPourPoints(ctx context.Context) ([]PourPoint, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT fid, name, latitude, longitude, description, basin_characteristics, flow_statistics
		FROM pour_points ORDER BY fid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pour points: %w", err)
	}
	defer rows.Close()
	var out []PourPoint
	for rows.Next() {
		var pp PourPoint
		var desc, basin, flow sql.NullString
		if err := rows.Scan(&pp.FID, &pp.Name, &pp.Latitude, &pp.Longitude, &desc, &basin, &flow); err != nil {
			return nil, fmt.Errorf("failed to scan pour point: %w", err)
		}
		pp.Description = nullString(desc)
		if err := scanJSON(basin, &pp.BasinCharacteristics); err != nil {
			return nil, err
		}
		if err := scanJSON(flow, &pp.FlowStatistics); err != nil {
			return nil, err
		}
		out = append(out, pp)
	}
	return out, rows.Err()
}
