// Package calc computes metric values for one sample frame feature and one
// event. Every result is in the base unit of the metric's unit type.
package calc

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/riverscapes/qris/internal/db"
	"github.com/riverscapes/qris/internal/errors"
	"github.com/riverscapes/qris/internal/geom"
	"github.com/riverscapes/qris/internal/metricdef"
	"github.com/riverscapes/qris/internal/monitoring"
	"github.com/riverscapes/qris/internal/project"
	"github.com/riverscapes/qris/internal/raster"
)

var logf = monitoring.Component("calc")

// DefaultBufferDistance is the radius in meters of the gradient endpoint zones.
const DefaultBufferDistance = 10.0

// Calculator evaluates metric functions against one project context.
type Calculator struct {
	pc *project.Context

	// BufferDistance is the gradient endpoint buffer radius in meters.
	BufferDistance float64
	// OpenRaster reads a surface raster; raster.Open unless replaced.
	OpenRaster func(path string) (*raster.Grid, error)
}

// New returns a Calculator with default settings.
func New(pc *project.Context) *Calculator {
	return &Calculator{pc: pc, BufferDistance: DefaultBufferDistance, OpenRaster: raster.Open}
}

// cell is the per-call state shared by the metric functions.
type cell struct {
	ctx     context.Context
	ds      *db.Dataset
	frame   *Frame
	metric  *db.Metric
	eventID int64
}

type metricFunc func(c *Calculator, cl *cell) (float64, error)

var functions = map[metricdef.Function]metricFunc{
	metricdef.FuncCount:          (*Calculator).count,
	metricdef.FuncLength:         (*Calculator).length,
	metricdef.FuncArea:           (*Calculator).area,
	metricdef.FuncSinuosity:      (*Calculator).sinuosity,
	metricdef.FuncGradient:       (*Calculator).gradient,
	metricdef.FuncAreaProportion: (*Calculator).areaProportion,
}

// Calculate runs the metric's function. Unresolved inputs fail with
// MetricInputMissing, cancellation with Cancelled, and anything else raised by
// the function with CalculationError.
func (c *Calculator) Calculate(ctx context.Context, m *db.Metric, eventID, sffID int64) (float64, error) {
	v, err := c.calculate(ctx, m, eventID, sffID)
	outcome := "ok"
	if err != nil {
		outcome = strings.ToLower(string(errors.KindOf(err)))
	}
	monitoring.MetricCalculations.WithLabelValues(string(m.Function), outcome).Inc()
	return v, err
}

func (c *Calculator) calculate(ctx context.Context, m *db.Metric, eventID, sffID int64) (float64, error) {
	op := fmt.Sprintf("calculate %s", m.MachineName)
	if !m.IsAutomatable() {
		return 0, errors.Newf(errors.KindCalculation, op, "metric %s is manual only", m.Name)
	}
	fn, ok := functions[m.Function]
	if !ok {
		return 0, errors.Newf(errors.KindCalculation, op, "unknown metric function %q", m.Function)
	}

	frame, err := LoadFrame(ctx, c.pc.DB, sffID)
	if err != nil {
		return 0, classify(op, err)
	}
	ds, err := c.pc.DB.SpatialOpen(ctx)
	if err != nil {
		return 0, classify(op, err)
	}

	v, err := fn(c, &cell{ctx: ctx, ds: ds, frame: frame, metric: m, eventID: eventID})
	if err != nil {
		return 0, classify(op, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.Newf(errors.KindCalculation, op, "result is not a finite number")
	}
	return v, nil
}

// classify keeps input, cancellation and calculation kinds and turns
// everything else into a CalculationError.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch errors.KindOf(err) {
	case errors.KindMetricInputMissing, errors.KindCancelled, errors.KindCalculation:
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errors.New(errors.KindCancelled, op, err)
	}
	return errors.New(errors.KindCalculation, op, err)
}

// normalize divides v by the normalization factor when one is declared.
func (c *Calculator) normalize(cl *cell, v float64) (float64, error) {
	spec, ok := cl.metric.Params.Normalization()
	if !ok {
		return v, nil
	}
	src, err := c.resolve(spec, cl.metric, cl.eventID)
	if err != nil {
		return 0, err
	}
	factor := 0.0
	err = eachFeature(cl.ctx, cl.ds, cl.frame, src, func(_ *db.Feature, g orb.Geometry) error {
		x, err := cl.frame.ClippedExtent(g)
		factor += x
		return err
	})
	if err != nil {
		return 0, err
	}
	if factor == 0 {
		return 0, errors.Newf(errors.KindCalculation, "normalize",
			"normalization layer %s has no extent inside sample frame feature %d", src.name, cl.frame.FID)
	}
	return v / factor, nil
}

// metricSources resolves every contributing layer of the metric.
func (c *Calculator) metricSources(cl *cell) ([]source, error) {
	specs := cl.metric.Params.MetricLayers()
	out := make([]source, 0, len(specs))
	for _, spec := range specs {
		src, err := c.resolve(spec, cl.metric, cl.eventID)
		if err != nil {
			// one captured member is enough for a named group
			if l, ok := spec.(metricdef.DCELayer); ok && l.Usage.IsNamedGroup() &&
				errors.IsKind(err, errors.KindMetricInputMissing) {
				continue
			}
			return nil, err
		}
		out = append(out, src)
	}
	if len(out) == 0 {
		return nil, errors.Newf(errors.KindMetricInputMissing, "resolve metric input", "event %d captures no metric layer", cl.eventID)
	}
	return out, nil
}

func (c *Calculator) count(cl *cell) (float64, error) {
	srcs, err := c.metricSources(cl)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for _, src := range srcs {
		err := eachFeature(cl.ctx, cl.ds, cl.frame, src, func(f *db.Feature, g orb.Geometry) error {
			contribution, err := featureCount(f, src.countField)
			if err != nil {
				return err
			}
			full := geom.Length(g) + geom.Area(g)
			if full > 0 {
				inside, err := cl.frame.ClippedExtent(g)
				if err != nil {
					return err
				}
				contribution *= inside / full
			}
			total += math.RoundToEven(contribution)
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return c.normalize(cl, total)
}

// featureCount reads the count field of a feature; a missing or null value
// counts as one.
func featureCount(f *db.Feature, cf *metricdef.CountField) (float64, error) {
	if cf == nil {
		return 1, nil
	}
	v, ok := f.Attribute(cf.FieldIDRef)
	if !ok || v == nil {
		return 1, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		if strings.TrimSpace(n) == "" {
			return 1, nil
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("feature %d: count field %s is not a number: %q", f.FID, cf.FieldIDRef, n)
		}
		return x, nil
	}
	return 0, fmt.Errorf("feature %d: count field %s has unsupported type %T", f.FID, cf.FieldIDRef, v)
}

func (c *Calculator) length(cl *cell) (float64, error) {
	srcs, err := c.metricSources(cl)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for _, src := range srcs {
		err := eachFeature(cl.ctx, cl.ds, cl.frame, src, func(_ *db.Feature, g orb.Geometry) error {
			x, err := cl.frame.ClippedLength(g)
			total += x
			return err
		})
		if err != nil {
			return 0, err
		}
	}
	return c.normalize(cl, total)
}

func (c *Calculator) area(cl *cell) (float64, error) {
	srcs, err := c.metricSources(cl)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for _, src := range srcs {
		err := eachFeature(cl.ctx, cl.ds, cl.frame, src, func(_ *db.Feature, g orb.Geometry) error {
			x, err := cl.frame.ClippedArea(g)
			total += x
			return err
		})
		if err != nil {
			return 0, err
		}
	}
	return c.normalize(cl, total)
}

// clippedLine returns the first line of the metric's single DCE layer clipped
// to the frame.
func (c *Calculator) clippedLine(cl *cell) (orb.MultiLineString, error) {
	var spec metricdef.LayerSpec
	for _, l := range cl.metric.Params.MetricLayers() {
		if _, ok := l.(metricdef.DCELayer); ok {
			spec = l
			break
		}
	}
	if spec == nil {
		return nil, errors.Newf(errors.KindMetricInputMissing, "clip line", "metric has no dce layer")
	}
	src, err := c.resolve(spec, cl.metric, cl.eventID)
	if err != nil {
		return nil, err
	}

	var clipped orb.MultiLineString
	found := 0
	err = eachFeature(cl.ctx, cl.ds, cl.frame, src, func(f *db.Feature, g orb.Geometry) error {
		found++
		if found > 1 {
			return nil
		}
		var err error
		clipped, err = cl.frame.ClipLine(g)
		return err
	})
	if err != nil {
		return nil, err
	}
	if found > 1 {
		logf("%s: %d features of %s in sample frame feature %d, using the first",
			cl.metric.MachineName, found, src.name, cl.frame.FID)
	}
	if len(clipped) == 0 {
		return nil, errors.Newf(errors.KindMetricInputMissing, "clip line",
			"no %s line inside sample frame feature %d", src.name, cl.frame.FID)
	}
	return clipped, nil
}

func (c *Calculator) sinuosity(cl *cell) (float64, error) {
	line, err := c.clippedLine(cl)
	if err != nil {
		return 0, err
	}
	start, end, _ := geom.Endpoints(line)
	d := math.Hypot(end[0]-start[0], end[1]-start[1])
	if d == 0 {
		return 0, fmt.Errorf("line endpoints coincide")
	}
	return geom.Length(line) / d, nil
}

func (c *Calculator) gradient(cl *cell) (float64, error) {
	line, err := c.clippedLine(cl)
	if err != nil {
		return 0, err
	}
	l := geom.Length(line)
	if l == 0 {
		return 0, fmt.Errorf("clipped line has zero length")
	}

	demID, ok := c.pc.Input(metricdef.InputDEM)
	if !ok {
		return 0, errors.Newf(errors.KindMetricInputMissing, "gradient", "analysis has no dem selected")
	}
	r, ok := c.pc.Project.Rasters[demID]
	if !ok {
		return 0, errors.Newf(errors.KindMetricInputMissing, "gradient", "raster %d not found", demID)
	}
	grid, err := c.OpenRaster(r.AbsPath(c.pc.Project.Dir))
	if err != nil {
		return 0, fmt.Errorf("failed to open raster %s: %w", r.Name, err)
	}
	epsg := r.EPSG()
	if epsg == 0 {
		epsg = grid.EPSG
	}

	start, end, _ := geom.Endpoints(line)
	startMin, err := c.zonalMinimum(cl.frame, grid, epsg, start)
	if err != nil {
		return 0, fmt.Errorf("start of line: %w", err)
	}
	endMin, err := c.zonalMinimum(cl.frame, grid, epsg, end)
	if err != nil {
		return 0, fmt.Errorf("end of line: %w", err)
	}
	return (endMin - startMin) / l, nil
}

// zonalMinimum buffers a projected point and returns the lowest raster value
// inside the buffer.
func (c *Calculator) zonalMinimum(frame *Frame, grid *raster.Grid, epsg int, p orb.Point) (float64, error) {
	zone, err := toRasterCRS(orb.MultiPolygon{geom.BufferPoint(p, c.BufferDistance, 32)}, frame.UTM, epsg)
	if err != nil {
		return 0, err
	}
	stats := raster.ZonalStats(grid, zone)
	if stats.Minimum == nil {
		return 0, fmt.Errorf("no raster cells within %gm", c.BufferDistance)
	}
	return *stats.Minimum, nil
}

// toRasterCRS moves frame-zone geometry into the raster's coordinate system.
func toRasterCRS(mp orb.MultiPolygon, from geom.UTM, epsg int) (orb.MultiPolygon, error) {
	if epsg == from.EPSG {
		return mp, nil
	}
	if epsg == 0 {
		return nil, fmt.Errorf("raster has no coordinate system")
	}
	lonlat := from.Unproject(mp)
	if epsg == geom.EPSGGeographic {
		return geom.AsMultiPolygon(lonlat)
	}
	to, err := geom.ForEPSG(epsg)
	if err != nil {
		return nil, err
	}
	return geom.AsMultiPolygon(to.Project(lonlat))
}

func (c *Calculator) areaProportion(cl *cell) (float64, error) {
	srcs, err := c.metricSources(cl)
	if err != nil {
		return 0, err
	}
	var numerator, denominator float64
	hasDenominator := false
	for _, src := range srcs {
		isDenominator := src.usage.Kind == metricdef.UsageDenominator
		hasDenominator = hasDenominator || isDenominator
		err := eachFeature(cl.ctx, cl.ds, cl.frame, src, func(_ *db.Feature, g orb.Geometry) error {
			a, err := cl.frame.ClippedArea(g)
			if err != nil {
				return err
			}
			if isDenominator {
				denominator += a
			} else {
				numerator += a
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	if !hasDenominator {
		denominator = cl.frame.Area()
	}
	if denominator == 0 {
		return 0, nil
	}
	return numerator / denominator, nil
}
