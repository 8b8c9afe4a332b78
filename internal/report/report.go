// Package report renders one metric across the sample frame features of one
// event as a bar chart, in the analysis display units.
package report

import (
	"context"
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/riverscapes/qris/internal/db"
	"github.com/riverscapes/qris/internal/errors"
	"github.com/riverscapes/qris/internal/units"
)

// Bar is one sample frame feature.
type Bar struct {
	Label string
	// Value is in display units. Missing bars have no current value.
	Value   float64
	Missing bool
	// Text is the formatted value with its unit label.
	Text string
}

// Series is the data behind a chart.
type Series struct {
	Title    string
	Subtitle string
	Unit     string
	Bars     []Bar
}

// Build collects the current values of metric for one event of analysis.
func Build(ctx context.Context, d *db.DB, a *db.Analysis, m *db.Metric, e *db.Event) (*Series, error) {
	const op = "build report"
	if err := a.Units.Validate(); err != nil {
		return nil, errors.New(errors.KindValidation, op, err)
	}
	feats, err := d.ListSampleFrameFeatures(ctx, a.SampleFrameID)
	if err != nil {
		return nil, err
	}
	values, err := d.ListMetricValues(ctx, a.ID, e.ID)
	if err != nil {
		return nil, err
	}
	byFeature := make(map[int64]*db.MetricValue, len(values))
	for i := range values {
		if values[i].MetricID == m.ID {
			byFeature[values[i].SampleFrameFeatureID] = &values[i]
		}
	}

	t := m.UnitType()
	unit := a.Units.UnitFor(t)
	s := &Series{
		Title:    m.Name,
		Subtitle: fmt.Sprintf("%s, %s", a.Name, e.Name),
		Unit:     units.Label(t, unit),
	}
	for _, f := range feats {
		bar := Bar{Label: f.DisplayLabel, Missing: true, Text: "n/a"}
		if bar.Label == "" {
			bar.Label = fmt.Sprintf("Feature %d", f.FID)
		}
		if mv, ok := byFeature[f.FID]; ok {
			if v := mv.CurrentValue(); v != nil {
				display, err := units.ConvertToDisplay(*v, unit, t)
				if err != nil {
					return nil, errors.New(errors.KindValidation, op, err)
				}
				text, err := units.FormatValue(*v, t, a.Units, m.Precision())
				if err != nil {
					return nil, errors.New(errors.KindValidation, op, err)
				}
				bar.Value, bar.Missing, bar.Text = display, false, text
			}
		}
		s.Bars = append(s.Bars, bar)
	}
	return s, nil
}

func (s *Series) labels() []string {
	out := make([]string, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Label
	}
	return out
}

// WriteBarChartPNG draws the series as a PNG.
func WriteBarChartPNG(w io.Writer, s *Series) error {
	if len(s.Bars) == 0 {
		return errors.Newf(errors.KindValidation, "write chart", "series %q has no bars", s.Title)
	}
	p := plot.New()
	p.Title.Text = s.Title + "\n" + s.Subtitle
	p.Y.Label.Text = s.Unit

	vals := make(plotter.Values, len(s.Bars))
	for i, b := range s.Bars {
		vals[i] = b.Value
	}
	bars, err := plotter.NewBarChart(vals, vg.Points(20))
	if err != nil {
		return fmt.Errorf("failed to create bar chart: %w", err)
	}
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.NominalX(s.labels()...)

	width := vg.Length(len(s.Bars))*0.6*vg.Inch + 2*vg.Inch
	wt, err := p.WriterTo(width, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write chart: %w", err)
	}
	return nil
}

// WriteHTMLChart renders the series as an interactive HTML page.
func WriteHTMLChart(w io.Writer, s *Series) error {
	data := make([]opts.BarData, len(s.Bars))
	for i, b := range s.Bars {
		if b.Missing {
			data[i] = opts.BarData{Name: b.Text, Value: "-"}
			continue
		}
		data[i] = opts.BarData{Name: b.Text, Value: b.Value}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: s.Title, Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: s.Title, Subtitle: s.Subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: s.Unit}),
	)
	bar.SetXAxis(s.labels()).
		AddSeries(s.Title, data,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.AddCharts(bar)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("failed to render chart page: %w", err)
	}
	return nil
}
