package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Analysis run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// AnalysisRun records one orchestrated calculation pass over an analysis.
type AnalysisRun struct {
	ID         int64          `json:"id"`
	RunID      string         `json:"run_id"`
	AnalysisID int64          `json:"analysis_id"`
	Status     string         `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Computed   int            `json:"computed"`
	Skipped    int            `json:"skipped"`
	Failed     int            `json:"failed"`
	Error      *string        `json:"error,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
}

// CreateAnalysisRun inserts a run record.
func (db *DB) CreateAnalysisRun(ctx context.Context, r *AnalysisRun) error {
	params, err := jsonText(r.Params)
	if err != nil {
		return err
	}
	if r.Status == "" {
		r.Status = RunRunning
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO analysis_runs (run_id, analysis_id, status, started_at, params)
		VALUES (?, ?, ?, ?, ?)`,
		r.RunID, r.AnalysisID, r.Status, r.StartedAt.UnixNano(), params)
	if err != nil {
		return writeErr("create analysis run", err)
	}
	if r.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return nil
}

// FinishAnalysisRun stores the final status and counts of a run.
func (db *DB) FinishAnalysisRun(ctx context.Context, r *AnalysisRun) error {
	var finished any
	if r.FinishedAt != nil {
		finished = r.FinishedAt.UnixNano()
	}
	res, err := db.ExecContext(ctx, `
		UPDATE analysis_runs SET status = ?, finished_at = ?, computed = ?, skipped = ?, failed = ?, error = ?
		WHERE run_id = ?`,
		r.Status, finished, r.Computed, r.Skipped, r.Failed, r.Error, r.RunID)
	if err != nil {
		return writeErr("finish analysis run", err)
	}
	return checkAffected(res, "finish analysis run", "analysis run", r.RunID)
}

const analysisRunColumns = `
	id, run_id, analysis_id, status, started_at, finished_at, computed, skipped, failed, error, params`

func scanAnalysisRun(row interface{ Scan(...any) error }) (*AnalysisRun, error) {
	var r AnalysisRun
	var started int64
	var finished sql.NullInt64
	var errText, params sql.NullString
	if err := row.Scan(&r.ID, &r.RunID, &r.AnalysisID, &r.Status, &started, &finished,
		&r.Computed, &r.Skipped, &r.Failed, &errText, &params); err != nil {
		return nil, err
	}
	r.StartedAt = time.Unix(0, started)
	if finished.Valid {
		t := time.Unix(0, finished.Int64)
		r.FinishedAt = &t
	}
	r.Error = nullString(errText)
	if err := scanJSON(params, &r.Params); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetAnalysisRun retrieves a run by its run ID.
func (db *DB) GetAnalysisRun(ctx context.Context, runID string) (*AnalysisRun, error) {
	r, err := scanAnalysisRun(db.QueryRowContext(ctx,
		`SELECT `+analysisRunColumns+` FROM analysis_runs WHERE run_id = ?`, runID))
	if err == sql.ErrNoRows {
		return nil, notFound("get analysis run", "analysis run", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis run: %w", err)
	}
	return r, nil
}

// ListAnalysisRuns returns the runs of an analysis, newest first.
func (db *DB) ListAnalysisRuns(ctx context.Context, analysisID int64) ([]AnalysisRun, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+analysisRunColumns+` FROM analysis_runs WHERE analysis_id = ? ORDER BY started_at DESC, id DESC`,
		analysisID)
	if err != nil {
		return nil, fmt.Errorf("failed to list analysis runs: %w", err)
	}
	defer rows.Close()
	var out []AnalysisRun
	for rows.Next() {
		r, err := scanAnalysisRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis run: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
