// Package analysis orchestrates metric calculation across the cells of an
// analysis and records each pass as an analysis run.
package analysis

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/riverscapes/qris/internal/calc"
	"github.com/riverscapes/qris/internal/db"
	"github.com/riverscapes/qris/internal/errors"
	"github.com/riverscapes/qris/internal/feasibility"
	"github.com/riverscapes/qris/internal/monitoring"
	"github.com/riverscapes/qris/internal/project"
	"github.com/riverscapes/qris/internal/timeutil"
)

var logf = monitoring.Component("analysis")

// Selection narrows a run. Empty fields select everything: the analysis
// events (or every project event when the analysis names none), every feature
// of the analysis sample frame and every analysis metric.
type Selection struct {
	EventIDs              []int64 `json:"events,omitempty"`
	SampleFrameFeatureIDs []int64 `json:"sample_frame_features,omitempty"`
	MetricIDs             []int64 `json:"metrics,omitempty"`
}

// Outcome is what happened to one cell.
type Outcome string

const (
	OutcomeComputed Outcome = "computed"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// Cell is the result of one (event, sample frame feature, metric) cell.
type Cell struct {
	Key         db.MetricValueKey
	Feasibility feasibility.Result
	Outcome     Outcome
	Value       *float64
	Err         error
}

// Result is a finished run.
type Result struct {
	Run   *db.AnalysisRun
	Cells []Cell
}

// Warnings returns one message per cell that was not computed.
func (r *Result) Warnings() []string {
	var out []string
	for _, c := range r.Cells {
		switch c.Outcome {
		case OutcomeFailed:
			out = append(out, c.Err.Error())
		case OutcomeSkipped:
			if c.Feasibility.Status == feasibility.NotFeasible {
				out = append(out, string(c.Feasibility.Status)+": "+strings.Join(c.Feasibility.Reasons, "; "))
			}
		}
	}
	return out
}

// Runner runs one analysis. It is not safe for concurrent use; the project
// database write gate serializes runners that share a database.
type Runner struct {
	pc      *project.Context
	checker *feasibility.Checker
	calc    *calc.Calculator

	Clock timeutil.Clock
	// Progress, when set, is called after every cell with the number of
	// cells done and the total.
	Progress func(done, total int)
}

// NewRunner returns a Runner over a project context.
func NewRunner(pc *project.Context) *Runner {
	return &Runner{
		pc:      pc,
		checker: feasibility.ForContext(pc),
		calc:    calc.New(pc),
		Clock:   timeutil.RealClock{},
	}
}

// Calculator exposes the calculator so callers can tune it before a run.
func (r *Runner) Calculator() *calc.Calculator {
	return r.calc
}

type cellRef struct {
	event  *db.Event
	sffID  int64
	metric *db.Metric
}

// plan lists cells ordered by event, then sample frame feature, then metric,
// each ascending by id.
func (r *Runner) plan(ctx context.Context, sel Selection) ([]cellRef, error) {
	const op = "plan analysis run"
	a := r.pc.Analysis

	eventIDs := sel.EventIDs
	if len(eventIDs) == 0 {
		eventIDs = a.EventIDs()
	}
	if len(eventIDs) == 0 {
		eventIDs = r.pc.Project.EventIDs()
	}
	events := make([]*db.Event, 0, len(eventIDs))
	for _, id := range sortedIDs(eventIDs) {
		e, ok := r.pc.Project.Events[id]
		if !ok {
			return nil, errors.Newf(errors.KindNotFound, op, "event %d not found", id)
		}
		events = append(events, e)
	}

	feats, err := r.pc.DB.ListSampleFrameFeatures(ctx, a.SampleFrameID)
	if err != nil {
		return nil, err
	}
	inFrame := make(map[int64]bool, len(feats))
	for _, f := range feats {
		inFrame[f.FID] = true
	}
	sffIDs := sel.SampleFrameFeatureIDs
	if len(sffIDs) == 0 {
		for _, f := range feats {
			sffIDs = append(sffIDs, f.FID)
		}
	}
	for _, id := range sffIDs {
		if !inFrame[id] {
			return nil, errors.Newf(errors.KindValidation, op,
				"sample frame feature %d is not part of sample frame %d", id, a.SampleFrameID)
		}
	}

	inAnalysis := make(map[int64]bool, len(a.Metrics))
	var metricIDs []int64
	for _, am := range a.Metrics {
		inAnalysis[am.MetricID] = true
		metricIDs = append(metricIDs, am.MetricID)
	}
	if len(sel.MetricIDs) > 0 {
		for _, id := range sel.MetricIDs {
			if !inAnalysis[id] {
				return nil, errors.Newf(errors.KindValidation, op, "metric %d is not part of analysis %d", id, a.ID)
			}
		}
		metricIDs = sel.MetricIDs
	}
	metrics := make([]*db.Metric, 0, len(metricIDs))
	for _, id := range sortedIDs(metricIDs) {
		m, ok := r.pc.Project.Metrics[id]
		if !ok {
			return nil, errors.Newf(errors.KindNotFound, op, "metric %d not found", id)
		}
		metrics = append(metrics, m)
	}

	sffIDs = sortedIDs(sffIDs)
	cells := make([]cellRef, 0, len(events)*len(sffIDs)*len(metrics))
	for _, e := range events {
		for _, sff := range sffIDs {
			for _, m := range metrics {
				cells = append(cells, cellRef{event: e, sffID: sff, metric: m})
			}
		}
	}
	return cells, nil
}

func sortedIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Run processes every selected cell in order. Calculation failures are stored
// on their cell and the run continues. Cancelling ctx stops the run between
// cells; values committed before that stay in place and the run is recorded
// as cancelled with a Cancelled error.
func (r *Runner) Run(ctx context.Context, sel Selection) (*Result, error) {
	run := &db.AnalysisRun{
		RunID:      uuid.New().String(),
		AnalysisID: r.pc.Analysis.ID,
		Status:     db.RunRunning,
		StartedAt:  r.Clock.Now(),
		Params: map[string]any{
			"events":                sel.EventIDs,
			"sample_frame_features": sel.SampleFrameFeatureIDs,
			"metrics":               sel.MetricIDs,
		},
	}
	res := &Result{Run: run}

	cells, err := r.plan(ctx, sel)
	if err != nil {
		return nil, err
	}
	if err := r.pc.DB.CreateAnalysisRun(ctx, run); err != nil {
		return nil, err
	}
	logf("run %s started: analysis %d, %d cells", run.RunID, run.AnalysisID, len(cells))

	var runErr error
	for i, ref := range cells {
		if err := ctx.Err(); err != nil {
			runErr = errors.New(errors.KindCancelled, "run analysis", err)
			break
		}
		cell, err := r.runCell(ctx, ref)
		if err != nil {
			runErr = err
			break
		}
		res.Cells = append(res.Cells, cell)
		switch cell.Outcome {
		case OutcomeComputed:
			run.Computed++
		case OutcomeSkipped:
			run.Skipped++
		case OutcomeFailed:
			run.Failed++
			logf("run %s: metric %s on event %d, feature %d failed: %v",
				run.RunID, ref.metric.MachineName, ref.event.ID, ref.sffID, cell.Err)
		}
		if r.Progress != nil {
			r.Progress(i+1, len(cells))
		}
	}

	r.finish(ctx, run, runErr)
	return res, runErr
}

func (r *Runner) finish(ctx context.Context, run *db.AnalysisRun, runErr error) {
	finished := r.Clock.Now()
	run.FinishedAt = &finished
	switch {
	case runErr == nil:
		run.Status = db.RunCompleted
	case errors.IsKind(runErr, errors.KindCancelled):
		run.Status = db.RunCancelled
	default:
		run.Status = db.RunFailed
	}
	if runErr != nil {
		msg := runErr.Error()
		run.Error = &msg
	}
	monitoring.AnalysisRuns.WithLabelValues(run.Status).Inc()

	// the record is written even when ctx is already cancelled
	if err := r.pc.DB.FinishAnalysisRun(context.WithoutCancel(ctx), run); err != nil {
		logf("run %s: failed to record final status: %v", run.RunID, err)
	}
	logf("run %s %s in %s: %d computed, %d skipped, %d failed",
		run.RunID, run.Status, r.Clock.Since(run.StartedAt), run.Computed, run.Skipped, run.Failed)
}

// runCell checks, calculates and stores one cell. Only storage failures and
// cancellation are returned as errors.
func (r *Runner) runCell(ctx context.Context, ref cellRef) (Cell, error) {
	key := db.MetricValueKey{
		AnalysisID:           r.pc.Analysis.ID,
		EventID:              ref.event.ID,
		SampleFrameFeatureID: ref.sffID,
		MetricID:             ref.metric.ID,
	}
	cell := Cell{Key: key}
	cell.Feasibility = r.checker.Check(ctx, feasibility.Request{
		Metric:           ref.metric,
		Event:            ref.event,
		AnalysisMetadata: r.pc.Analysis.Metadata,
	})

	result := db.AutomatedResult{Feasibility: cell.Feasibility}
	if !cell.Feasibility.Automatable() {
		cell.Outcome = OutcomeSkipped
		result.NewIsManual = true
	} else {
		v, err := r.calc.Calculate(ctx, ref.metric, ref.event.ID, ref.sffID)
		switch {
		case errors.IsKind(err, errors.KindCancelled):
			return cell, err
		case err != nil:
			cell.Outcome = OutcomeFailed
			cell.Err = err
			result.Err = err
		default:
			cell.Outcome = OutcomeComputed
			cell.Value = &v
			result.Value = &v
		}
	}

	err := r.pc.DB.WithWriteLock(ctx, func() error {
		return r.pc.DB.Transaction(ctx, func(tx *sql.Tx) error {
			return db.UpsertAutomatedValue(ctx, tx, key, result)
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return cell, errors.New(errors.KindCancelled, "store metric value", err)
		}
		return cell, err
	}
	return cell, nil
}
