package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/riverscapes/qris/internal/errors"
)

// UncertaintyKind names the form of a value's uncertainty.
type UncertaintyKind string

const (
	UncertaintyPlusMinus UncertaintyKind = "Plus/Minus"
	UncertaintyPercent   UncertaintyKind = "Percent"
	UncertaintyMinMax    UncertaintyKind = "Min/Max"
)

// Uncertainty of a manual value. Value is used by Plus/Minus and Percent;
// Min and Max by Min/Max. Stored as a one-key JSON object.
type Uncertainty struct {
	Kind  UncertaintyKind
	Value float64
	Min   float64
	Max   float64
}

// MarshalJSON implements json.Marshaler.
func (u Uncertainty) MarshalJSON() ([]byte, error) {
	switch u.Kind {
	case UncertaintyPlusMinus, UncertaintyPercent:
		return json.Marshal(map[string]float64{string(u.Kind): u.Value})
	case UncertaintyMinMax:
		return json.Marshal(map[string][2]float64{string(u.Kind): {u.Min, u.Max}})
	}
	return nil, fmt.Errorf("unknown uncertainty kind %q", u.Kind)
}

// UnmarshalJSON implements json.Unmarshaler.
func (u *Uncertainty) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid uncertainty: %w", err)
	}
	if len(raw) != 1 {
		return fmt.Errorf("invalid uncertainty: expected one key, got %d", len(raw))
	}
	for k, v := range raw {
		switch UncertaintyKind(k) {
		case UncertaintyPlusMinus, UncertaintyPercent:
			var f float64
			if err := json.Unmarshal(v, &f); err != nil {
				return fmt.Errorf("invalid %s uncertainty: %w", k, err)
			}
			*u = Uncertainty{Kind: UncertaintyKind(k), Value: f}
		case UncertaintyMinMax:
			var pair [2]float64
			if err := json.Unmarshal(v, &pair); err != nil {
				return fmt.Errorf("invalid %s uncertainty: %w", k, err)
			}
			*u = Uncertainty{Kind: UncertaintyMinMax, Min: pair[0], Max: pair[1]}
		default:
			return fmt.Errorf("unknown uncertainty kind %q", k)
		}
	}
	return nil
}

// Validate checks the bounds, and that manual lies inside a Min/Max range.
func (u *Uncertainty) Validate(manual *float64) error {
	const op = "validate uncertainty"
	if u == nil {
		return nil
	}
	switch u.Kind {
	case UncertaintyPlusMinus, UncertaintyPercent:
		if u.Value < 0 {
			return errors.Newf(errors.KindValidation, op, "%s uncertainty must not be negative", u.Kind)
		}
	case UncertaintyMinMax:
		if u.Min > u.Max {
			return errors.Newf(errors.KindValidation, op, "minimum %g is greater than maximum %g", u.Min, u.Max)
		}
		if manual != nil && (*manual < u.Min || *manual > u.Max) {
			return errors.Newf(errors.KindValidation, op, "value %g is outside [%g, %g]", *manual, u.Min, u.Max)
		}
	default:
		return errors.Newf(errors.KindValidation, op, "unknown uncertainty kind %q", u.Kind)
	}
	return nil
}

// Metadata keys written by calculations.
const (
	MetadataCalculationError = "calculation_error"
	MetadataFeasibility      = "feasibility"
)

// MetricValueKey identifies one analysis cell.
type MetricValueKey struct {
	AnalysisID           int64 `json:"analysis_id"`
	EventID              int64 `json:"event_id"`
	SampleFrameFeatureID int64 `json:"sample_frame_feature_id"`
	MetricID             int64 `json:"metric_id"`
}

// MetricValue is the stored result of one cell. Values are in the metric's
// base unit.
type MetricValue struct {
	ID int64 `json:"id"`
	MetricValueKey
	ManualValue    *float64       `json:"manual_value"`
	AutomatedValue *float64       `json:"automated_value"`
	IsManual       bool           `json:"is_manual"`
	Uncertainty    *Uncertainty   `json:"uncertainty,omitempty"`
	Description    *string        `json:"description"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// CurrentValue returns the manual value when is_manual is set, else the
// automated value.
func (v *MetricValue) CurrentValue() *float64 {
	if v.IsManual {
		return v.ManualValue
	}
	return v.AutomatedValue
}

// CalculationError returns the message recorded by the last failed calculation.
func (v *MetricValue) CalculationError() (string, bool) {
	s, ok := v.Metadata[MetadataCalculationError].(string)
	return s, ok
}

// SaveMetricValue writes a user edit of a cell, inserting or replacing every
// editable field.
func (db *DB) SaveMetricValue(ctx context.Context, v *MetricValue) error {
	if err := v.Uncertainty.Validate(v.ManualValue); err != nil {
		return err
	}
	unc, err := jsonText(v.Uncertainty)
	if err != nil {
		return err
	}
	md, err := jsonText(v.Metadata)
	if err != nil {
		return err
	}
	now := time.Now()
	_, err = db.ExecContext(ctx, `
		INSERT INTO metric_values (
			analysis_id, event_id, sample_frame_feature_id, metric_id,
			manual_value, automated_value, is_manual, uncertainty, description, metadata, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (analysis_id, event_id, sample_frame_feature_id, metric_id) DO UPDATE SET
			manual_value = excluded.manual_value,
			automated_value = excluded.automated_value,
			is_manual = excluded.is_manual,
			uncertainty = excluded.uncertainty,
			description = excluded.description,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		v.AnalysisID, v.EventID, v.SampleFrameFeatureID, v.MetricID,
		v.ManualValue, v.AutomatedValue, v.IsManual, unc, v.Description, md, now.Unix())
	if err != nil {
		return writeErr("save metric value", err)
	}
	v.UpdatedAt = now
	return db.QueryRowContext(ctx, `
		SELECT id FROM metric_values
		WHERE analysis_id = ? AND event_id = ? AND sample_frame_feature_id = ? AND metric_id = ?`,
		v.AnalysisID, v.EventID, v.SampleFrameFeatureID, v.MetricID).Scan(&v.ID)
}

// AutomatedResult is what one calculation attempt writes to a cell.
type AutomatedResult struct {
	// Value is written to automated_value when set; nil leaves the column alone.
	Value *float64
	// Err is recorded as metadata.calculation_error; nil clears it.
	Err error
	// Feasibility is recorded as metadata.feasibility when set.
	Feasibility any
	// NewIsManual is the is_manual flag used only when the row is created.
	NewIsManual bool
}

// UpsertAutomatedValue records a calculation attempt for a cell. Existing
// rows keep is_manual, manual_value, uncertainty and description.
func UpsertAutomatedValue(ctx context.Context, q Querier, key MetricValueKey, r AutomatedResult) error {
	var id int64
	var mdText sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT id, metadata FROM metric_values
		WHERE analysis_id = ? AND event_id = ? AND sample_frame_feature_id = ? AND metric_id = ?`,
		key.AnalysisID, key.EventID, key.SampleFrameFeatureID, key.MetricID).Scan(&id, &mdText)
	exists := err == nil
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read metric value: %w", err)
	}

	var md map[string]any
	if err := scanJSON(mdText, &md); err != nil {
		return err
	}
	if md == nil {
		md = map[string]any{}
	}
	if r.Err != nil {
		md[MetadataCalculationError] = r.Err.Error()
	} else {
		delete(md, MetadataCalculationError)
	}
	if r.Feasibility != nil {
		md[MetadataFeasibility] = r.Feasibility
	}
	mdJSON, err := jsonText(md)
	if err != nil {
		return err
	}
	now := time.Now().Unix()

	if !exists {
		_, err = q.ExecContext(ctx, `
			INSERT INTO metric_values (
				analysis_id, event_id, sample_frame_feature_id, metric_id,
				automated_value, is_manual, metadata, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			key.AnalysisID, key.EventID, key.SampleFrameFeatureID, key.MetricID,
			r.Value, r.NewIsManual, mdJSON, now)
		if err != nil {
			return writeErr("insert metric value", err)
		}
		return nil
	}

	if r.Value != nil {
		_, err = q.ExecContext(ctx,
			`UPDATE metric_values SET automated_value = ?, metadata = ?, updated_at = ? WHERE id = ?`,
			*r.Value, mdJSON, now, id)
	} else {
		_, err = q.ExecContext(ctx,
			`UPDATE metric_values SET metadata = ?, updated_at = ? WHERE id = ?`,
			mdJSON, now, id)
	}
	if err != nil {
		return writeErr("update metric value", err)
	}
	return nil
}

const metricValueColumns = `
	id, analysis_id, event_id, sample_frame_feature_id, metric_id,
	manual_value, automated_value, is_manual, uncertainty, description, metadata, updated_at`

func scanMetricValue(row interface{ Scan(...any) error }) (*MetricValue, error) {
	var v MetricValue
	var manual, automated sql.NullFloat64
	var unc, desc, md sql.NullString
	var updatedAt int64
	if err := row.Scan(&v.ID, &v.AnalysisID, &v.EventID, &v.SampleFrameFeatureID, &v.MetricID,
		&manual, &automated, &v.IsManual, &unc, &desc, &md, &updatedAt); err != nil {
		return nil, err
	}
	v.ManualValue = nullFloat(manual)
	v.AutomatedValue = nullFloat(automated)
	if unc.Valid && unc.String != "" {
		v.Uncertainty = &Uncertainty{}
		if err := json.Unmarshal([]byte(unc.String), v.Uncertainty); err != nil {
			return nil, err
		}
	}
	v.Description = nullString(desc)
	if err := scanJSON(md, &v.Metadata); err != nil {
		return nil, err
	}
	v.UpdatedAt = time.Unix(updatedAt, 0)
	return &v, nil
}

// GetMetricValue retrieves the value of one cell.
func (db *DB) GetMetricValue(ctx context.Context, key MetricValueKey) (*MetricValue, error) {
	v, err := scanMetricValue(db.QueryRowContext(ctx, `
		SELECT `+metricValueColumns+` FROM metric_values
		WHERE analysis_id = ? AND event_id = ? AND sample_frame_feature_id = ? AND metric_id = ?`,
		key.AnalysisID, key.EventID, key.SampleFrameFeatureID, key.MetricID))
	if err == sql.ErrNoRows {
		return nil, notFound("get metric value", "metric value", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metric value: %w", err)
	}
	return v, nil
}

// ListMetricValues returns the values of an analysis for one event, ordered
// by sample frame feature then metric. An eventID of 0 returns every event.
func (db *DB) ListMetricValues(ctx context.Context, analysisID, eventID int64) ([]MetricValue, error) {
	query := `SELECT ` + metricValueColumns + ` FROM metric_values WHERE analysis_id = ?`
	args := []any{analysisID}
	if eventID != 0 {
		query += ` AND event_id = ?`
		args = append(args, eventID)
	}
	query += ` ORDER BY event_id, sample_frame_feature_id, metric_id`
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list metric values: %w", err)
	}
	defer rows.Close()
	var out []MetricValue
	for rows.Next() {
		v, err := scanMetricValue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan metric value: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// DeleteMetricValue deletes the value of one cell.
func (db *DB) DeleteMetricValue(ctx context.Context, key MetricValueKey) error {
	res, err := db.ExecContext(ctx, `
		DELETE FROM metric_values
		WHERE analysis_id = ? AND event_id = ? AND sample_frame_feature_id = ? AND metric_id = ?`,
		key.AnalysisID, key.EventID, key.SampleFrameFeatureID, key.MetricID)
	if err != nil {
		return writeErr("delete metric value", err)
	}
	return checkAffected(res, "delete metric value", "metric value", key)
}
