package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverscapes/qris/internal/db"
	"github.com/riverscapes/qris/internal/errors"
	"github.com/riverscapes/qris/internal/export"
	"github.com/riverscapes/qris/internal/metricdef"
	"github.com/riverscapes/qris/internal/testutil"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

type fixture struct {
	path     string
	analysis string
	event    string
	feature  string
	length   string
	count    string
}

// newFixture builds a project with one event carrying a single jam inside a
// one-feature sample frame.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := testutil.NewBuilder(t)
	b.Layer("thalwegs", "Linestring")
	b.Layer("jams", "Point")
	e := b.Event("Survey 2023", "thalwegs", "jams")
	frame, feats := b.Frame("Reaches", testutil.Square(0, 0, 100))
	length := b.Metric("Thalweg Length", metricdef.FuncLength, `{"dce_layers": [{"layer_id_ref": "thalwegs"}]}`)
	count := b.Metric("Jam Count", metricdef.FuncCount, `{"dce_layers": [{"layer_id_ref": "jams"}]}`)
	a := b.Analysis("Reach Analysis", frame, nil, length, count)
	b.Feature(e, "jams", testutil.Point(10, 10), nil)

	return &fixture{
		path:     b.DB.Path(),
		analysis: strconv.FormatInt(a.ID, 10),
		event:    strconv.FormatInt(e.ID, 10),
		feature:  strconv.FormatInt(feats[0].FID, 10),
		length:   strconv.FormatInt(length.ID, 10),
		count:    strconv.FormatInt(count.ID, 10),
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "qris ")
}

func TestInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logan.gpkg")

	out, err := execute(t, "init", "--project", path, "--name", "Logan River", "--description", "Restoration monitoring")
	require.NoError(t, err)
	assert.Contains(t, out, `created project "Logan River"`)

	d, err := db.OpenDB(path)
	require.NoError(t, err)
	defer d.Close()
	p, err := d.GetProject(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Logan River", p.Name)
	metrics, err := d.ListMetrics(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, metrics)

	_, err = execute(t, "init", "--project", path, "--name", "Again")
	assert.True(t, errors.IsKind(err, errors.KindValidation), "got %v", err)
}

func TestMigrateStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.gpkg")
	_, err := execute(t, "init", "--project", path, "--name", "P")
	require.NoError(t, err)

	out, err := execute(t, "migrate", "status", "--project", path)
	require.NoError(t, err)
	assert.Contains(t, out, "schema version 1 (dirty: false)")

	_, err = execute(t, "migrate", "force", "abc", "--project", path)
	assert.True(t, errors.IsKind(err, errors.KindValidation), "got %v", err)
}

func TestProjectRequired(t *testing.T) {
	t.Setenv("QRIS_PROJECT_PATH", "")
	_, err := execute(t, "analysis", "list")
	assert.True(t, errors.IsKind(err, errors.KindValidation), "got %v", err)

	_, err = execute(t, "analysis", "list", "--project", filepath.Join(t.TempDir(), "missing.gpkg"))
	assert.True(t, errors.IsKind(err, errors.KindNotFound), "got %v", err)
}

func TestAnalysisCommands(t *testing.T) {
	f := newFixture(t)

	out, err := execute(t, "analysis", "list", "-p", f.path)
	require.NoError(t, err)
	assert.Contains(t, out, "Reach Analysis")

	out, err = execute(t, "feasibility", "-p", f.path, "--analysis", f.analysis, "--event", f.event)
	require.NoError(t, err)
	assert.Contains(t, out, "Jam Count")
	assert.Contains(t, out, "FEASIBLE_EMPTY")

	out, err = execute(t, "analysis", "run", "-p", f.path, "--analysis", f.analysis)
	require.NoError(t, err)
	assert.Contains(t, out, "completed: 2 computed, 0 skipped, 0 failed")

	out, err = execute(t, "analysis", "values", "-p", f.path, "--analysis", f.analysis, "--event", f.event)
	require.NoError(t, err)
	assert.Contains(t, out, "Jam Count")
	assert.Contains(t, out, "Thalweg Length")
	assert.Contains(t, out, "automated")

	_, err = execute(t, "feasibility", "-p", f.path, "--analysis", f.analysis, "--event", "999")
	assert.True(t, errors.IsKind(err, errors.KindNotFound), "got %v", err)

	_, err = execute(t, "analysis", "run", "-p", f.path, "--analysis", "999")
	assert.True(t, errors.IsKind(err, errors.KindNotFound), "got %v", err)
}

func TestValuesSet(t *testing.T) {
	f := newFixture(t)
	cell := []string{"analysis", "values", "set", "-p", f.path,
		"--analysis", f.analysis, "--event", f.event, "--feature", f.feature, "--metric", f.length}
	set := func(extra ...string) (string, error) {
		return execute(t, append(append([]string(nil), cell...), extra...)...)
	}

	out, err := set("--value", "100", "--unit", "ft", "--uncertainty", "90..110", "--description", "paced")
	require.NoError(t, err)
	assert.Contains(t, out, "Thalweg Length = ")
	assert.Contains(t, out, "(manual)")

	d, err := db.OpenDB(f.path)
	require.NoError(t, err)
	defer d.Close()
	id := func(s string) int64 {
		n, err := strconv.ParseInt(s, 10, 64)
		require.NoError(t, err)
		return n
	}
	key := db.MetricValueKey{AnalysisID: id(f.analysis), EventID: id(f.event),
		SampleFrameFeatureID: id(f.feature), MetricID: id(f.length)}
	v, err := d.GetMetricValue(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, v.ManualValue)
	assert.InDelta(t, 30.48, *v.ManualValue, 1e-9)
	assert.True(t, v.IsManual)
	require.NotNil(t, v.Uncertainty)
	assert.Equal(t, db.UncertaintyMinMax, v.Uncertainty.Kind)
	assert.InDelta(t, 27.432, v.Uncertainty.Min, 1e-9)
	assert.InDelta(t, 33.528, v.Uncertainty.Max, 1e-9)
	require.NotNil(t, v.Description)
	assert.Equal(t, "paced", *v.Description)

	// a calculation run keeps the manual entry
	_, err = execute(t, "analysis", "run", "-p", f.path, "--analysis", f.analysis)
	require.NoError(t, err)
	v, err = d.GetMetricValue(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, v.IsManual)
	assert.InDelta(t, 30.48, *v.ManualValue, 1e-9)

	out, err = set("--automated")
	require.NoError(t, err)
	assert.Contains(t, out, "(automated)")
	v, err = d.GetMetricValue(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, v.IsManual)
	assert.InDelta(t, 30.48, *v.ManualValue, 1e-9)

	tests := []struct {
		name  string
		extra []string
		kind  errors.Kind
	}{
		{"area unit for a length", []string{"--value", "1", "--unit", "ac"}, errors.KindValidation},
		{"outside min max", []string{"--value", "5", "--uncertainty", "1..3"}, errors.KindValidation},
		{"negative percent", []string{"--value", "5", "--uncertainty", "-5%"}, errors.KindValidation},
		{"value and automated", []string{"--value", "5", "--automated"}, errors.KindValidation},
		{"neither", nil, errors.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := set(tt.extra...)
			assert.True(t, errors.IsKind(err, tt.kind), "got %v", err)
		})
	}

	_, err = execute(t, "analysis", "values", "set", "-p", f.path, "--analysis", f.analysis,
		"--event", f.event, "--feature", "999", "--metric", f.length, "--value", "1")
	assert.True(t, errors.IsKind(err, errors.KindValidation), "got %v", err)
}

func TestParseUncertainty(t *testing.T) {
	feet := func(x float64) (float64, error) { return x * 0.3048, nil }
	tests := []struct {
		in   string
		want db.Uncertainty
	}{
		{"10", db.Uncertainty{Kind: db.UncertaintyPlusMinus, Value: 3.048}},
		{"5%", db.Uncertainty{Kind: db.UncertaintyPercent, Value: 5}},
		{"10..20", db.Uncertainty{Kind: db.UncertaintyMinMax, Min: 3.048, Max: 6.096}},
	}
	for _, tt := range tests {
		got, err := parseUncertainty(tt.in, feet)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want.Kind, got.Kind, tt.in)
		assert.InDelta(t, tt.want.Value, got.Value, 1e-9, tt.in)
		assert.InDelta(t, tt.want.Min, got.Min, 1e-9, tt.in)
		assert.InDelta(t, tt.want.Max, got.Max, 1e-9, tt.in)
	}
	for _, bad := range []string{"abc", "5..x", "%"} {
		_, err := parseUncertainty(bad, feet)
		assert.Error(t, err, bad)
	}
}

func TestExportCommand(t *testing.T) {
	f := newFixture(t)
	dir := filepath.Join(t.TempDir(), "out")

	out, err := execute(t, "export", dir, "-p", f.path, "--event", f.event)
	require.NoError(t, err)
	assert.Contains(t, out, "exported event "+f.event)

	for _, name := range []string{export.DatabaseName, export.ManifestName} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestReportCommand(t *testing.T) {
	f := newFixture(t)
	_, err := execute(t, "analysis", "run", "-p", f.path, "--analysis", f.analysis)
	require.NoError(t, err)

	dir := t.TempDir()
	for _, name := range []string{"jams.png", "jams.html"} {
		out := filepath.Join(dir, name)
		_, err := execute(t, "report", "-p", f.path, "--analysis", f.analysis, "--metric", f.count, "--event", f.event, "-o", out)
		require.NoError(t, err, name)
		info, err := os.Stat(out)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}

	_, err = execute(t, "report", "-p", f.path, "--analysis", f.analysis, "--metric", f.count, "--event", f.event,
		"-o", filepath.Join(dir, "jams.svg"))
	assert.True(t, errors.IsKind(err, errors.KindValidation), "got %v", err)
}

func TestWatershedNeedsRegion(t *testing.T) {
	t.Setenv("QRIS_STATE_BOUNDARIES_PATH", "")
	f := newFixture(t)
	_, err := execute(t, "watershed", "delineate", "-p", f.path, "--name", "Outlet", "--lon", "-111.8", "--lat", "41.7")
	assert.True(t, errors.IsKind(err, errors.KindValidation), "got %v", err)

	_, err = execute(t, "watershed", "delineate", "-p", f.path, "--name", "Outlet", "--lon", "-211", "--lat", "41.7", "--region", "UT")
	assert.True(t, errors.IsKind(err, errors.KindValidation), "got %v", err)
}

func TestGagesDischargeDates(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name  string
		start string
		end   string
	}{
		{"bad start", "2023-13-01", ""},
		{"bad end", "2023-01-01", "yesterday"},
		{"reversed", "2023-06-01", "2023-01-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := []string{"gages", "discharge", "10109000", "-p", f.path, "--start", tt.start}
			if tt.end != "" {
				args = append(args, "--end", tt.end)
			}
			_, err := execute(t, args...)
			assert.True(t, errors.IsKind(err, errors.KindInvalidDate), "got %v", err)
		})
	}
}

func TestParseBBox(t *testing.T) {
	b, err := parseBBox([]float64{-112, 41, -111, 42})
	require.NoError(t, err)
	assert.Equal(t, -112.0, b.Min.Lon())
	assert.Equal(t, 42.0, b.Max.Lat())

	for _, vals := range [][]float64{
		{-112, 41, -111},
		{-111, 41, -112, 42},
		{-200, 41, -111, 42},
	} {
		_, err := parseBBox(vals)
		assert.True(t, errors.IsKind(err, errors.KindValidation), "%v: got %v", vals, err)
	}
}
