package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/riverscapes/qris/internal/analysis"
	"github.com/riverscapes/qris/internal/db"
	"github.com/riverscapes/qris/internal/errors"
	"github.com/riverscapes/qris/internal/feasibility"
	"github.com/riverscapes/qris/internal/monitoring"
	"github.com/riverscapes/qris/internal/project"
	"github.com/riverscapes/qris/internal/task"
	"github.com/riverscapes/qris/internal/units"
)

var logf = monitoring.Component("qris")

// loadContext opens the project and binds one analysis.
func (a *app) loadContext(ctx context.Context, analysisID int64) (*db.DB, *project.Context, error) {
	d, err := a.openProject()
	if err != nil {
		return nil, nil, err
	}
	p, err := project.Load(ctx, d)
	if err != nil {
		d.Close()
		return nil, nil, err
	}
	pc, err := project.NewContext(d, p, analysisID)
	if err != nil {
		d.Close()
		return nil, nil, err
	}
	return d, pc, nil
}

func feasibilityCommand(a *app) *cobra.Command {
	var analysisID, eventID int64

	cmd := &cobra.Command{
		Use:   "feasibility",
		Short: "Check which analysis metrics can be calculated for an event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, pc, err := a.loadContext(ctx, analysisID)
			if err != nil {
				return err
			}
			defer d.Close()

			event, ok := pc.Project.Events[eventID]
			if !ok {
				return errors.Newf(errors.KindNotFound, "check feasibility", "event %d not found", eventID)
			}
			checker := feasibility.ForContext(pc)
			var rows [][]string
			for _, am := range pc.Analysis.Metrics {
				m, ok := pc.Project.Metrics[am.MetricID]
				if !ok {
					continue
				}
				res := checker.Check(ctx, feasibility.Request{Metric: m, Event: event, AnalysisMetadata: pc.Analysis.Metadata})
				reasons := "-"
				if len(res.Reasons) > 0 {
					reasons = strings.Join(res.Reasons, "; ")
				}
				rows = append(rows, []string{m.Name, string(res.Status), reasons})
			}
			printTable(cmd.OutOrStdout(), []string{"METRIC", "STATUS", "REASONS"}, rows)
			return nil
		},
	}
	cmd.Flags().Int64Var(&analysisID, "analysis", 0, "Analysis ID")
	cmd.Flags().Int64Var(&eventID, "event", 0, "Event ID")
	cmd.MarkFlagRequired("analysis")
	cmd.MarkFlagRequired("event")
	return cmd
}

func analysisCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analysis",
		Short: "List, run and inspect analyses",
	}
	cmd.AddCommand(analysisListCommand(a), analysisRunCommand(a), analysisValuesCommand(a))
	return cmd
}

func analysisListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List analyses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.openProject()
			if err != nil {
				return err
			}
			defer d.Close()
			list, err := d.ListAnalyses(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(list))
			for _, an := range list {
				rows = append(rows, []string{
					strconv.FormatInt(an.ID, 10),
					an.Name,
					strconv.FormatInt(an.SampleFrameID, 10),
					strconv.Itoa(len(an.Metrics)),
				})
			}
			printTable(cmd.OutOrStdout(), []string{"ID", "NAME", "SAMPLE FRAME", "METRICS"}, rows)
			return nil
		},
	}
}

func analysisRunCommand(a *app) *cobra.Command {
	var (
		analysisID int64
		sel        analysis.Selection
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Calculate analysis metrics",
		Long: `Calculate every selected (event, sample frame feature, metric) cell of an
analysis. Empty selections mean all. Interrupting the command stops the run
between cells and keeps the values already stored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, pc, err := a.loadContext(ctx, analysisID)
			if err != nil {
				return err
			}
			defer d.Close()

			runner := task.NewRunner()
			runner.Start(ctx)
			defer runner.Stop()

			t, err := runner.Submit("analysis "+pc.Analysis.Name, func(ctx context.Context, progress func(float64)) (any, error) {
				r := analysis.NewRunner(pc)
				r.Calculator().BufferDistance = a.settings.Analysis.ZonalBuffer
				r.Progress = func(done, total int) {
					progress(float64(done) / float64(total))
					monitoring.Debugf("[qris] %d/%d cells", done, total)
				}
				return r.Run(ctx, sel)
			})
			if err != nil {
				return err
			}
			// the task ends on its own once ctx is cancelled
			res, err := t.Wait(context.WithoutCancel(ctx))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if result, ok := res.Value.(*analysis.Result); ok && result != nil {
				run := result.Run
				fmt.Fprintf(out, "run %s %s: %d computed, %d skipped, %d failed\n",
					run.RunID, run.Status, run.Computed, run.Skipped, run.Failed)
				for _, w := range result.Warnings() {
					fmt.Fprintf(out, "  warning: %s\n", w)
				}
			}
			return res.Err
		},
	}
	cmd.Flags().Int64Var(&analysisID, "analysis", 0, "Analysis ID")
	cmd.Flags().Int64SliceVar(&sel.EventIDs, "event", nil, "Event IDs (default: the analysis events)")
	cmd.Flags().Int64SliceVar(&sel.SampleFrameFeatureIDs, "feature", nil, "Sample frame feature IDs (default: all)")
	cmd.Flags().Int64SliceVar(&sel.MetricIDs, "metric", nil, "Metric IDs (default: all analysis metrics)")
	cmd.MarkFlagRequired("analysis")
	return cmd
}

func analysisValuesCommand(a *app) *cobra.Command {
	var analysisID, eventID int64

	cmd := &cobra.Command{
		Use:   "values",
		Short: "Show stored metric values in display units",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, pc, err := a.loadContext(ctx, analysisID)
			if err != nil {
				return err
			}
			defer d.Close()

			feats, err := d.ListSampleFrameFeatures(ctx, pc.Analysis.SampleFrameID)
			if err != nil {
				return err
			}
			labels := make(map[int64]string, len(feats))
			for _, f := range feats {
				labels[f.FID] = f.DisplayLabel
			}
			values, err := d.ListMetricValues(ctx, analysisID, eventID)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(values))
			for i := range values {
				v := &values[i]
				m, ok := pc.Project.Metrics[v.MetricID]
				if !ok {
					continue
				}
				label := labels[v.SampleFrameFeatureID]
				if label == "" {
					label = strconv.FormatInt(v.SampleFrameFeatureID, 10)
				}
				display := "-"
				if cur := v.CurrentValue(); cur != nil {
					if display, err = units.FormatValue(*cur, m.UnitType(), pc.Analysis.Units, m.Precision()); err != nil {
						return err
					}
				}
				source := "automated"
				if v.IsManual {
					source = "manual"
				}
				if msg, failed := v.CalculationError(); failed {
					source = "error: " + msg
				}
				rows = append(rows, []string{label, m.Name, display, source})
			}
			printTable(cmd.OutOrStdout(), []string{"FEATURE", "METRIC", "VALUE", "SOURCE"}, rows)
			return nil
		},
	}
	cmd.Flags().Int64Var(&analysisID, "analysis", 0, "Analysis ID")
	cmd.Flags().Int64Var(&eventID, "event", 0, "Event ID")
	cmd.MarkFlagRequired("analysis")
	cmd.MarkFlagRequired("event")
	cmd.AddCommand(analysisValuesSetCommand(a))
	return cmd
}

func analysisValuesSetCommand(a *app) *cobra.Command {
	var (
		key          db.MetricValueKey
		value        float64
		unit         string
		uncertainty  string
		description  string
		useAutomated bool
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Enter a manual value for one cell",
		Long: `Store a manual value for one (event, sample frame feature, metric) cell.
The value is converted from --unit to the metric's base unit; without --unit
it is taken as already in base units.

--uncertainty accepts "0.5" (plus/minus, in --unit), "5%" (percent) or
"1..3" (minimum and maximum, in --unit).

--automated switches the cell back to its calculated value and keeps the
manual value on record.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			const op = "set metric value"
			ctx := cmd.Context()
			valueSet := cmd.Flags().Changed("value")
			if valueSet == useAutomated {
				return errors.Newf(errors.KindValidation, op, "pass exactly one of --value and --automated")
			}

			d, pc, err := a.loadContext(ctx, key.AnalysisID)
			if err != nil {
				return err
			}
			defer d.Close()
			m, err := cellMetric(ctx, d, pc, key)
			if err != nil {
				return err
			}

			v, err := d.GetMetricValue(ctx, key)
			switch {
			case errors.IsKind(err, errors.KindNotFound):
				v = &db.MetricValue{MetricValueKey: key}
			case err != nil:
				return err
			}

			if useAutomated {
				v.IsManual = false
			} else {
				toBase := func(x float64) (float64, error) {
					if unit == "" {
						return x, nil
					}
					return units.ConvertToBase(x, unit, m.UnitType())
				}
				base, err := toBase(value)
				if err != nil {
					return errors.New(errors.KindValidation, op, err)
				}
				v.ManualValue = &base
				v.IsManual = true
				v.Uncertainty = nil
				if uncertainty != "" {
					if v.Uncertainty, err = parseUncertainty(uncertainty, toBase); err != nil {
						return errors.New(errors.KindValidation, op, err)
					}
				}
			}
			if cmd.Flags().Changed("description") {
				v.Description = &description
			}

			err = d.WithWriteLock(ctx, func() error {
				return d.SaveMetricValue(ctx, v)
			})
			if err != nil {
				return err
			}
			logf("analysis %d: %s on event %d, feature %d set by user", key.AnalysisID, m.MachineName, key.EventID, key.SampleFrameFeatureID)

			shown := "-"
			if cur := v.CurrentValue(); cur != nil {
				if shown, err = units.FormatValue(*cur, m.UnitType(), pc.Analysis.Units, m.Precision()); err != nil {
					return err
				}
			}
			source := "manual"
			if !v.IsManual {
				source = "automated"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s (%s)\n", m.Name, shown, source)
			return nil
		},
	}
	cmd.Flags().Int64Var(&key.AnalysisID, "analysis", 0, "Analysis ID")
	cmd.Flags().Int64Var(&key.EventID, "event", 0, "Event ID")
	cmd.Flags().Int64Var(&key.SampleFrameFeatureID, "feature", 0, "Sample frame feature ID")
	cmd.Flags().Int64Var(&key.MetricID, "metric", 0, "Metric ID")
	cmd.Flags().Float64Var(&value, "value", 0, "Manual value in --unit")
	cmd.Flags().StringVar(&unit, "unit", "", "Unit of --value, e.g. ft or ac")
	cmd.Flags().StringVar(&uncertainty, "uncertainty", "", "Uncertainty of the value")
	cmd.Flags().StringVar(&description, "description", "", "Note stored with the value")
	cmd.Flags().BoolVar(&useAutomated, "automated", false, "Use the calculated value for this cell")
	for _, name := range []string{"analysis", "event", "feature", "metric"} {
		cmd.MarkFlagRequired(name)
	}
	return cmd
}

// cellMetric checks that key names a cell of the bound analysis and returns
// its metric.
func cellMetric(ctx context.Context, d *db.DB, pc *project.Context, key db.MetricValueKey) (*db.Metric, error) {
	const op = "set metric value"
	if _, ok := pc.Project.Events[key.EventID]; !ok {
		return nil, errors.Newf(errors.KindNotFound, op, "event %d not found", key.EventID)
	}
	m, ok := pc.Project.Metrics[key.MetricID]
	if !ok {
		return nil, errors.Newf(errors.KindNotFound, op, "metric %d not found", key.MetricID)
	}
	inAnalysis := false
	for _, am := range pc.Analysis.Metrics {
		inAnalysis = inAnalysis || am.MetricID == key.MetricID
	}
	if !inAnalysis {
		return nil, errors.Newf(errors.KindValidation, op, "metric %d is not part of analysis %d", key.MetricID, key.AnalysisID)
	}
	feats, err := d.ListSampleFrameFeatures(ctx, pc.Analysis.SampleFrameID)
	if err != nil {
		return nil, err
	}
	for _, f := range feats {
		if f.FID == key.SampleFrameFeatureID {
			return m, nil
		}
	}
	return nil, errors.Newf(errors.KindValidation, op,
		"sample frame feature %d is not part of sample frame %d", key.SampleFrameFeatureID, pc.Analysis.SampleFrameID)
}

// parseUncertainty reads "x" (plus/minus), "x%" (percent) or "lo..hi"
// (min/max). Plus/minus and bounds go through toBase.
func parseUncertainty(s string, toBase func(float64) (float64, error)) (*db.Uncertainty, error) {
	s = strings.TrimSpace(s)
	num := func(t string) (float64, error) {
		x, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid uncertainty %q", s)
		}
		return x, nil
	}
	switch {
	case strings.HasSuffix(s, "%"):
		x, err := num(strings.TrimSuffix(s, "%"))
		if err != nil {
			return nil, err
		}
		return &db.Uncertainty{Kind: db.UncertaintyPercent, Value: x}, nil
	case strings.Contains(s, ".."):
		lo, hi, _ := strings.Cut(s, "..")
		var u db.Uncertainty
		u.Kind = db.UncertaintyMinMax
		for _, b := range []struct {
			text string
			dst  *float64
		}{{lo, &u.Min}, {hi, &u.Max}} {
			x, err := num(b.text)
			if err != nil {
				return nil, err
			}
			if *b.dst, err = toBase(x); err != nil {
				return nil, err
			}
		}
		return &u, nil
	}
	x, err := num(s)
	if err != nil {
		return nil, err
	}
	if x, err = toBase(x); err != nil {
		return nil, err
	}
	return &db.Uncertainty{Kind: db.UncertaintyPlusMinus, Value: x}, nil
}
