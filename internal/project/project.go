// Package project loads the non-spatial project graph from the database and
// carries it, with the open connection and the analysis inputs, to the engine.
package project

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/riverscapes/qris/internal/db"
	"github.com/riverscapes/qris/internal/errors"
	"github.com/riverscapes/qris/internal/monitoring"
)

var logf = monitoring.Component("project")

// Project is an in-memory snapshot of every non-spatial table, keyed by id.
// It is read-only once loaded; background work reports results instead of
// mutating it.
type Project struct {
	Info          *db.Project
	Dir           string
	Protocols     map[int64]*db.Protocol
	Layers        map[int64]*db.Layer
	Events        map[int64]*db.Event
	SampleFrames  map[int64]*db.SampleFrame
	Profiles      map[int64]*db.Profile
	ValleyBottoms map[int64]*db.ValleyBottom
	Rasters       map[int64]*db.Raster
	Metrics       map[int64]*db.Metric
	Analyses      map[int64]*db.Analysis
}

// Load reads the project graph. A database without a project row loads with
// a nil Info.
func Load(ctx context.Context, d *db.DB) (*Project, error) {
	p := &Project{
		Dir:           filepath.Dir(d.Path()),
		Protocols:     map[int64]*db.Protocol{},
		Layers:        map[int64]*db.Layer{},
		Events:        map[int64]*db.Event{},
		SampleFrames:  map[int64]*db.SampleFrame{},
		Profiles:      map[int64]*db.Profile{},
		ValleyBottoms: map[int64]*db.ValleyBottom{},
		Rasters:       map[int64]*db.Raster{},
		Metrics:       map[int64]*db.Metric{},
		Analyses:      map[int64]*db.Analysis{},
	}

	info, err := d.GetProject(ctx)
	switch {
	case err == nil:
		p.Info = info
	case errors.IsKind(err, errors.KindNotFound):
	default:
		return nil, err
	}

	protocols, err := d.ListProtocols(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load protocols: %w", err)
	}
	for i := range protocols {
		p.Protocols[protocols[i].ID] = &protocols[i]
	}

	layers, err := d.ListLayers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load layers: %w", err)
	}
	for i := range layers {
		p.Layers[layers[i].ID] = &layers[i]
	}

	events, err := d.ListEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	for i := range events {
		p.Events[events[i].ID] = &events[i]
	}

	frames, err := d.ListSampleFrames(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load sample frames: %w", err)
	}
	for i := range frames {
		p.SampleFrames[frames[i].ID] = &frames[i]
	}

	profiles, err := d.ListProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}
	for i := range profiles {
		p.Profiles[profiles[i].ID] = &profiles[i]
	}

	vbs, err := d.ListValleyBottoms(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load valley bottoms: %w", err)
	}
	for i := range vbs {
		p.ValleyBottoms[vbs[i].ID] = &vbs[i]
	}

	rasters, err := d.ListRasters(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rasters: %w", err)
	}
	for i := range rasters {
		p.Rasters[rasters[i].ID] = &rasters[i]
	}

	metrics, err := d.ListMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load metrics: %w", err)
	}
	for i := range metrics {
		p.Metrics[metrics[i].ID] = &metrics[i]
	}

	analyses, err := d.ListAnalyses(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load analyses: %w", err)
	}
	for i := range analyses {
		p.Analyses[analyses[i].ID] = &analyses[i]
	}

	logf("loaded %d events, %d metrics, %d analyses from %s",
		len(p.Events), len(p.Metrics), len(p.Analyses), filepath.Base(d.Path()))
	return p, nil
}

// EventLayer resolves a stable layer id against the layers an event
// captures. When the protocol catalog defines ref, that layer is the only
// match and ok reports whether the event captures it. Without a protocol, or
// when its catalog lacks ref, the lowest id event layer with the same stable
// id is used.
func (p *Project) EventLayer(protocolID *int64, ref string, eventLayerIDs []int64) (*db.Layer, bool) {
	onEvent := make(map[int64]bool, len(eventLayerIDs))
	for _, id := range eventLayerIDs {
		onEvent[id] = true
	}
	if protocolID != nil {
		if l := p.protocolLayer(*protocolID, ref); l != nil {
			return l, onEvent[l.ID]
		}
	}
	var best *db.Layer
	for id := range onEvent {
		l, ok := p.Layers[id]
		if !ok || l.LayerID != ref {
			continue
		}
		if best == nil || l.ID < best.ID {
			best = l
		}
	}
	return best, best != nil
}

func (p *Project) protocolLayer(protocolID int64, ref string) *db.Layer {
	var best *db.Layer
	for _, l := range p.Layers {
		if l.LayerID != ref || l.ProtocolID != protocolID {
			continue
		}
		if best == nil || l.ID < best.ID {
			best = l
		}
	}
	return best
}

// EventIDs returns every event id in ascending order.
func (p *Project) EventIDs() []int64 {
	return sortedKeys(p.Events)
}

// MetricIDs returns every metric id in ascending order.
func (p *Project) MetricIDs() []int64 {
	return sortedKeys(p.Metrics)
}

func sortedKeys[T any](m map[int64]T) []int64 {
	out := make([]int64, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Context is passed to feasibility, calculation and orchestration in place of
// global state.
type Context struct {
	DB       *db.DB
	Project  *Project
	Analysis *db.Analysis
	Params   db.AnalysisParams
}

// NewContext binds an analysis of a loaded project.
func NewContext(d *db.DB, p *Project, analysisID int64) (*Context, error) {
	a, ok := p.Analyses[analysisID]
	if !ok {
		return nil, errors.Newf(errors.KindNotFound, "project context", "analysis %d not found", analysisID)
	}
	return &Context{DB: d, Project: p, Analysis: a, Params: a.Params()}, nil
}

// Input returns the entity id the analysis selected for name.
func (c *Context) Input(name string) (int64, bool) {
	if c.Analysis == nil {
		return 0, false
	}
	return c.Analysis.Input(name)
}
