package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/riverscapes/qris/internal/errors"
	"github.com/riverscapes/qris/internal/units"
)

// Analysis input keys stored in analysis metadata.
const (
	InputCenterline   = "centerline"
	InputDEM          = "dem"
	InputValleyBottom = "valley_bottom"
	metadataEvents    = "events"
)

// Analysis selects metrics to compute over the features of one sample frame.
// Metadata holds the selected inputs by name and the selected events.
type Analysis struct {
	ID            int64                    `json:"id"`
	Name          string                   `json:"name"`
	Description   *string                  `json:"description"`
	SampleFrameID int64                    `json:"sample_frame_id"`
	Units         units.DisplayPreferences `json:"units"`
	Metadata      map[string]any           `json:"metadata,omitempty"`
	Metrics       []AnalysisMetric         `json:"metrics"`
	CreatedAt     time.Time                `json:"created_at"`
}

// AnalysisMetric joins an analysis to a metric at a level.
type AnalysisMetric struct {
	ID         int64  `json:"id"`
	AnalysisID int64  `json:"analysis_id"`
	MetricID   int64  `json:"metric_id"`
	Level      string `json:"level"`
}

// AnalysisParams is the typed view of the analysis inputs.
type AnalysisParams struct {
	Centerline   *int64  `json:"centerline,omitempty"`
	DEM          *int64  `json:"dem,omitempty"`
	ValleyBottom *int64  `json:"valley_bottom,omitempty"`
	Events       []int64 `json:"events,omitempty"`
}

// Input returns the entity ID selected for name. The lower-case key wins;
// other spellings match case-insensitively in sorted key order. A null value
// counts as missing.
func (a *Analysis) Input(name string) (int64, bool) {
	if v, ok := a.Metadata[strings.ToLower(name)]; ok {
		return inputID(v)
	}
	var keys []string
	for k := range a.Metadata {
		if strings.EqualFold(k, name) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if id, ok := inputID(a.Metadata[k]); ok {
			return id, true
		}
	}
	return 0, false
}

func inputID(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}

// SetInput records the entity selected for an input name.
func (a *Analysis) SetInput(name string, id int64) {
	if a.Metadata == nil {
		a.Metadata = map[string]any{}
	}
	a.Metadata[strings.ToLower(name)] = id
}

// Params returns the typed inputs and event selection.
func (a *Analysis) Params() AnalysisParams {
	var p AnalysisParams
	if id, ok := a.Input(InputCenterline); ok {
		p.Centerline = &id
	}
	if id, ok := a.Input(InputDEM); ok {
		p.DEM = &id
	}
	if id, ok := a.Input(InputValleyBottom); ok {
		p.ValleyBottom = &id
	}
	p.Events = a.EventIDs()
	return p
}

// EventIDs returns the selected events, ascending.
func (a *Analysis) EventIDs() []int64 {
	raw, ok := a.Metadata[metadataEvents].([]any)
	if !ok {
		if ids, ok := a.Metadata[metadataEvents].([]int64); ok {
			out := append([]int64(nil), ids...)
			sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
			return out
		}
		return nil
	}
	out := make([]int64, 0, len(raw))
	for _, v := range raw {
		if f, ok := v.(float64); ok {
			out = append(out, int64(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SetEventIDs records the selected events.
func (a *Analysis) SetEventIDs(ids []int64) {
	if a.Metadata == nil {
		a.Metadata = map[string]any{}
	}
	a.Metadata[metadataEvents] = append([]int64(nil), ids...)
}

func (a *Analysis) validate(op string) (string, error) {
	name, err := cleanName(op, a.Name)
	if err != nil {
		return "", err
	}
	if a.Units == (units.DisplayPreferences{}) {
		a.Units = units.DefaultPreferences()
	}
	if err := a.Units.Validate(); err != nil {
		return "", errors.New(errors.KindValidation, op, err)
	}
	return name, nil
}

// CreateAnalysis inserts an analysis and its metrics in one transaction.
func (db *DB) CreateAnalysis(ctx context.Context, a *Analysis) error {
	name, err := a.validate("create analysis")
	if err != nil {
		return err
	}
	unitsJSON, err := jsonText(a.Units)
	if err != nil {
		return err
	}
	md, err := jsonText(a.Metadata)
	if err != nil {
		return err
	}
	err = db.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO analyses (name, description, mask_id, units, metadata) VALUES (?, ?, ?, ?, ?)`,
			name, a.Description, a.SampleFrameID, unitsJSON, md)
		if err != nil {
			return err
		}
		if a.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert ID: %w", err)
		}
		for i := range a.Metrics {
			a.Metrics[i].AnalysisID = a.ID
			if err := setAnalysisMetric(ctx, tx, &a.Metrics[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return writeErr("create analysis", err)
	}
	a.Name = name
	a.CreatedAt = time.Now()
	return nil
}

func setAnalysisMetric(ctx context.Context, q Querier, am *AnalysisMetric) error {
	lvl, err := levelID("set analysis metric", am.Level)
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO analysis_metrics (analysis_id, metric_id, level_id) VALUES (?, ?, ?)
		ON CONFLICT (analysis_id, metric_id) DO UPDATE SET level_id = excluded.level_id`,
		am.AnalysisID, am.MetricID, lvl); err != nil {
		return err
	}
	am.Level = levelName(lvl)
	return q.QueryRowContext(ctx, `SELECT id FROM analysis_metrics WHERE analysis_id = ? AND metric_id = ?`,
		am.AnalysisID, am.MetricID).Scan(&am.ID)
}

const analysisColumns = `id, name, description, mask_id, units, metadata, created_at`

func scanAnalysis(row interface{ Scan(...any) error }) (*Analysis, error) {
	var a Analysis
	var desc, unitsJSON, md sql.NullString
	var createdAt int64
	if err := row.Scan(&a.ID, &a.Name, &desc, &a.SampleFrameID, &unitsJSON, &md, &createdAt); err != nil {
		return nil, err
	}
	a.Description = nullString(desc)
	a.Units = units.DefaultPreferences()
	if err := scanJSON(unitsJSON, &a.Units); err != nil {
		return nil, err
	}
	if err := scanJSON(md, &a.Metadata); err != nil {
		return nil, err
	}
	a.CreatedAt = time.Unix(createdAt, 0)
	return &a, nil
}

// GetAnalysis retrieves an analysis with its metrics.
func (db *DB) GetAnalysis(ctx context.Context, id int64) (*Analysis, error) {
	a, err := scanAnalysis(db.QueryRowContext(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, notFound("get analysis", "analysis", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}
	if a.Metrics, err = db.ListAnalysisMetrics(ctx, id); err != nil {
		return nil, err
	}
	return a, nil
}

// ListAnalyses returns every analysis with its metrics, ordered by ID.
func (db *DB) ListAnalyses(ctx context.Context) ([]Analysis, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+analysisColumns+` FROM analyses ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	var out []Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		out = append(out, *a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Metrics, err = db.ListAnalysisMetrics(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// UpdateAnalysis updates an analysis row. Metrics are edited with
// SetAnalysisMetric and RemoveAnalysisMetric.
func (db *DB) UpdateAnalysis(ctx context.Context, a *Analysis) error {
	name, err := a.validate("update analysis")
	if err != nil {
		return err
	}
	unitsJSON, err := jsonText(a.Units)
	if err != nil {
		return err
	}
	md, err := jsonText(a.Metadata)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx,
		`UPDATE analyses SET name = ?, description = ?, mask_id = ?, units = ?, metadata = ? WHERE id = ?`,
		name, a.Description, a.SampleFrameID, unitsJSON, md, a.ID)
	if err != nil {
		return writeErr("update analysis", err)
	}
	a.Name = name
	return checkAffected(res, "update analysis", "analysis", a.ID)
}

// DeleteAnalysis deletes an analysis with its metric links, values and runs.
func (db *DB) DeleteAnalysis(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM analyses WHERE id = ?`, id)
	if err != nil {
		return writeErr("delete analysis", err)
	}
	return checkAffected(res, "delete analysis", "analysis", id)
}

// SetAnalysisMetric adds a metric to an analysis or changes its level.
func (db *DB) SetAnalysisMetric(ctx context.Context, am *AnalysisMetric) error {
	if err := setAnalysisMetric(ctx, db, am); err != nil {
		return writeErr("set analysis metric", err)
	}
	return nil
}

// RemoveAnalysisMetric removes a metric from an analysis. Stored values stay.
func (db *DB) RemoveAnalysisMetric(ctx context.Context, analysisID, metricID int64) error {
	res, err := db.ExecContext(ctx,
		`DELETE FROM analysis_metrics WHERE analysis_id = ? AND metric_id = ?`, analysisID, metricID)
	if err != nil {
		return writeErr("remove analysis metric", err)
	}
	return checkAffected(res, "remove analysis metric", "analysis metric", metricID)
}

// ListAnalysisMetrics returns the metrics of an analysis ordered by metric ID.
func (db *DB) ListAnalysisMetrics(ctx context.Context, analysisID int64) ([]AnalysisMetric, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, analysis_id, metric_id, level_id FROM analysis_metrics
		WHERE analysis_id = ? ORDER BY metric_id`, analysisID)
	if err != nil {
		return nil, fmt.Errorf("failed to list analysis metrics: %w", err)
	}
	defer rows.Close()
	var out []AnalysisMetric
	for rows.Next() {
		var am AnalysisMetric
		var lvl int64
		if err := rows.Scan(&am.ID, &am.AnalysisID, &am.MetricID, &lvl); err != nil {
			return nil, fmt.Errorf("failed to scan analysis metric: %w", err)
		}
		am.Level = levelName(lvl)
		out = append(out, am)
	}
	return out, rows.Err()
}
