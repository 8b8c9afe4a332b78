package calc

import (
	"context"

	"github.com/paulmach/orb"

	"github.com/riverscapes/qris/internal/db"
	"github.com/riverscapes/qris/internal/errors"
	"github.com/riverscapes/qris/internal/metricdef"
)

// source is a resolved layer spec: the feature table and the rows of it that
// belong to the spec.
type source struct {
	name       string
	usage      metricdef.Usage
	table      string
	where      string
	args       []any
	filter     *metricdef.AttributeFilter
	countField *metricdef.CountField
}

// inputTables maps analysis inputs that are feature layers to their table and
// owning id column.
var inputTables = map[string]struct{ table, column string }{
	metricdef.InputCenterline:   {db.TableProfileCenterlines, "profile_id"},
	metricdef.InputValleyBottom: {db.TableValleyBottoms, "valley_bottom_id"},
}

// resolve turns a layer spec into a source for one event.
func (c *Calculator) resolve(spec metricdef.LayerSpec, m *db.Metric, eventID int64) (source, error) {
	const op = "resolve metric input"
	switch s := spec.(type) {
	case metricdef.DCELayer:
		e, ok := c.pc.Project.Events[eventID]
		if !ok {
			return source{}, errors.Newf(errors.KindNotFound, op, "event %d not found", eventID)
		}
		layer, ok := c.pc.Project.EventLayer(m.ProtocolID, s.LayerIDRef, e.LayerIDs)
		if !ok {
			return source{}, errors.Newf(errors.KindMetricInputMissing, op, "layer %s is not captured by event %d", s.LayerIDRef, eventID)
		}
		if layer.FeatureClass == "" {
			return source{}, errors.Newf(errors.KindCalculation, op, "layer %s has no geometry", s.LayerIDRef)
		}
		return source{
			name:       s.LayerIDRef,
			usage:      s.Usage,
			table:      layer.FeatureClass,
			where:      "event_id = ? AND event_layer_id = ?",
			args:       []any{eventID, layer.ID},
			filter:     s.AttributeFilter,
			countField: s.CountField,
		}, nil
	case metricdef.InputRef:
		id, ok := c.pc.Input(s.Input)
		if !ok {
			return source{}, errors.Newf(errors.KindMetricInputMissing, op, "analysis has no %s selected", s.Input)
		}
		t, ok := inputTables[s.Input]
		if !ok {
			return source{}, errors.Newf(errors.KindCalculation, op, "input %s is not a feature layer", s.Input)
		}
		return source{
			name:  s.Input,
			usage: s.Usage,
			table: t.table,
			where: t.column + " = ?",
			args:  []any{id},
		}, nil
	}
	return source{}, errors.Newf(errors.KindCalculation, op, "unsupported layer spec %T", spec)
}

// eachFeature streams the features of src that intersect the frame and pass
// the attribute filter. fn receives the feature and its geometry projected
// into the frame's zone; neither may be kept after fn returns.
func eachFeature(ctx context.Context, ds *db.Dataset, frame *Frame, src source,
	fn func(f *db.Feature, projected orb.Geometry) error) error {
	r, err := ds.Layer(ctx, src.table)
	if err != nil {
		return err
	}
	r.Where(src.where, src.args...).SpatialFilter(frame.Geometry)
	defer r.Close()

	for r.Next() {
		f := r.Feature()
		if src.filter != nil {
			if v, ok := f.Attribute(src.filter.FieldIDRef); ok && !src.filter.Matches(v) {
				continue
			}
		}
		if f.Geometry == nil {
			continue
		}
		if err := fn(f, frame.Project(f.Geometry)); err != nil {
			return err
		}
	}
	return r.Err()
}
