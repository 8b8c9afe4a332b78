package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/riverscapes/qris/internal/errors"
	"github.com/riverscapes/qris/internal/metricdef"
	"github.com/riverscapes/qris/internal/units"
)

// Metric levels, matching lkp_metric_levels.
const (
	LevelNone      = "none"
	LevelMetric    = "metric"
	LevelIndicator = "indicator"
)

var levelIDs = map[string]int64{LevelNone: 0, LevelMetric: 1, LevelIndicator: 2}

func levelID(op, level string) (int64, error) {
	if level == "" {
		return levelIDs[LevelMetric], nil
	}
	id, ok := levelIDs[level]
	if !ok {
		return 0, errors.Newf(errors.KindValidation, op, "unknown metric level %q", level)
	}
	return id, nil
}

func levelName(id int64) string {
	for name, v := range levelIDs {
		if v == id {
			return name
		}
	}
	return LevelNone
}

// MetricMetadata holds the display and validation hints of a metric.
type MetricMetadata struct {
	Precision *int     `json:"precision,omitempty"`
	Tolerance *float64 `json:"tolerance,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Hierarchy []string `json:"hierarchy,omitempty"`
}

// Metric is a metric definition. Params is nil for manual-only metrics.
type Metric struct {
	ID           int64              `json:"id"`
	ProtocolID   *int64             `json:"protocol_id"`
	Name         string             `json:"name"`
	MachineName  string             `json:"machine_name"`
	Version      int                `json:"version"`
	Status       string             `json:"status"`
	DefaultLevel string             `json:"default_level"`
	Function     metricdef.Function `json:"metric_function,omitempty"`
	Params       *metricdef.Params  `json:"metric_params,omitempty"`
	DefaultUnit  *string            `json:"default_unit"`
	Description  *string            `json:"description"`
	Metadata     MetricMetadata     `json:"metadata"`
}

// UnitType is the effective unit type of the stored values.
func (m *Metric) UnitType() units.UnitType {
	return metricdef.UnitType(m.Function, m.Params)
}

// Normalized reports whether the metric divides by a normalization layer.
func (m *Metric) Normalized() bool {
	return m.Params.Normalized()
}

// IsAutomatable reports whether the metric can be calculated.
func (m *Metric) IsAutomatable() bool {
	return m.Function != "" && m.Params != nil
}

// Precision returns the display precision, 2 when unset.
func (m *Metric) Precision() int {
	if m.Metadata.Precision != nil {
		return *m.Metadata.Precision
	}
	return 2
}

func (m *Metric) validate(op string) (string, error) {
	name, err := cleanName(op, m.Name)
	if err != nil {
		return "", err
	}
	if m.MachineName == "" {
		return "", errors.Newf(errors.KindValidation, op, "machine name is required")
	}
	if m.Function != "" && !m.Function.Known() {
		return "", errors.Newf(errors.KindValidation, op, "unknown metric function %q", m.Function)
	}
	if m.Params != nil {
		if err := m.Params.Validate(m.Function); err != nil {
			return "", errors.New(errors.KindValidation, op, err)
		}
	}
	if m.DefaultUnit != nil && *m.DefaultUnit != "" && !units.IsValid(*m.DefaultUnit, m.UnitType()) {
		return "", errors.Newf(errors.KindValidation, op, "default unit %q is not valid for %s (%s)",
			*m.DefaultUnit, m.UnitType(), units.GetValidUnitsString(m.UnitType()))
	}
	if m.Version == 0 {
		m.Version = 1
	}
	if m.Status == "" {
		m.Status = metricdef.StatusActive
	}
	return name, nil
}

func (m *Metric) columns() (function, params, metadata any, err error) {
	if m.Function != "" {
		function = string(m.Function)
	}
	if m.Params != nil {
		b, err := json.Marshal(m.Params)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to encode metric params: %w", err)
		}
		params = string(b)
	}
	metadata, err = jsonText(&m.Metadata)
	return function, params, metadata, err
}

// CreateMetric inserts a metric.
func (db *DB) CreateMetric(ctx context.Context, m *Metric) error {
	return db.createMetric(ctx, db, m)
}

func (db *DB) createMetric(ctx context.Context, q Querier, m *Metric) error {
	name, err := m.validate("create metric")
	if err != nil {
		return err
	}
	lvl, err := levelID("create metric", m.DefaultLevel)
	if err != nil {
		return err
	}
	fn, params, md, err := m.columns()
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO metrics (
			protocol_id, name, machine_name, version, status, default_level_id,
			metric_function, metric_params, default_unit, description, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ProtocolID, name, m.MachineName, m.Version, m.Status, lvl,
		fn, params, m.DefaultUnit, m.Description, md)
	if err != nil {
		return writeErr("create metric", err)
	}
	if m.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	m.Name = name
	m.DefaultLevel = levelName(lvl)
	return nil
}

const metricColumns = `
	id, protocol_id, name, machine_name, version, status, default_level_id,
	metric_function, metric_params, default_unit, description, metadata`

func scanMetric(row interface{ Scan(...any) error }) (*Metric, error) {
	var m Metric
	var protocolID, lvl sql.NullInt64
	var fn, params, unit, desc, md sql.NullString
	if err := row.Scan(&m.ID, &protocolID, &m.Name, &m.MachineName, &m.Version, &m.Status, &lvl,
		&fn, &params, &unit, &desc, &md); err != nil {
		return nil, err
	}
	m.ProtocolID = nullInt64(protocolID)
	m.DefaultLevel = levelName(lvl.Int64)
	m.Function = metricdef.Function(fn.String)
	if params.Valid {
		p, err := metricdef.ParseParams([]byte(params.String))
		if err != nil {
			return nil, errors.Newf(errors.KindSchema, "scan metric", "metric %d: %v", m.ID, err)
		}
		m.Params = p
	}
	m.DefaultUnit = nullString(unit)
	m.Description = nullString(desc)
	if err := scanJSON(md, &m.Metadata); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMetric retrieves a metric by ID.
func (db *DB) GetMetric(ctx context.Context, id int64) (*Metric, error) {
	m, err := scanMetric(db.QueryRowContext(ctx, `SELECT `+metricColumns+` FROM metrics WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, notFound("get metric", "metric", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metric: %w", err)
	}
	return m, nil
}

// ListMetrics returns every metric ordered by ID.
func (db *DB) ListMetrics(ctx context.Context) ([]Metric, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+metricColumns+` FROM metrics ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics: %w", err)
	}
	defer rows.Close()
	var out []Metric
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// UpdateMetric rewrites a metric definition.
func (db *DB) UpdateMetric(ctx context.Context, m *Metric) error {
	return db.updateMetric(ctx, db, m)
}

func (db *DB) updateMetric(ctx context.Context, q Querier, m *Metric) error {
	name, err := m.validate("update metric")
	if err != nil {
		return err
	}
	lvl, err := levelID("update metric", m.DefaultLevel)
	if err != nil {
		return err
	}
	fn, params, md, err := m.columns()
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		UPDATE metrics SET
			protocol_id = ?, name = ?, machine_name = ?, version = ?, status = ?, default_level_id = ?,
			metric_function = ?, metric_params = ?, default_unit = ?, description = ?, metadata = ?
		WHERE id = ?`,
		m.ProtocolID, name, m.MachineName, m.Version, m.Status, lvl,
		fn, params, m.DefaultUnit, m.Description, md, m.ID)
	if err != nil {
		return writeErr("update metric", err)
	}
	m.Name = name
	return checkAffected(res, "update metric", "metric", m.ID)
}

// DeleteMetric deletes a metric with its analysis links and values.
func (db *DB) DeleteMetric(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM metrics WHERE id = ?`, id)
	if err != nil {
		return writeErr("delete metric", err)
	}
	return checkAffected(res, "delete metric", "metric", id)
}
