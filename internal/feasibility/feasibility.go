// Package feasibility decides whether a metric can be calculated
// automatically for an event.
package feasibility

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/riverscapes/qris/internal/db"
	"github.com/riverscapes/qris/internal/geom"
	"github.com/riverscapes/qris/internal/monitoring"
	"github.com/riverscapes/qris/internal/project"
)

var logf = monitoring.Component("feasibility")

// Status is the outcome of a feasibility check.
type Status string

const (
	ManualOnly    Status = "MANUAL_ONLY"
	NotFeasible   Status = "NOT_FEASIBLE"
	FeasibleEmpty Status = "FEASIBLE_EMPTY"
	Feasible      Status = "FEASIBLE"
)

// Result is the structured feasibility answer. It is never an error.
type Result struct {
	Status  Status   `json:"status"`
	Reasons []string `json:"reasons"`
}

// Automatable reports whether a calculation attempt should be made.
func (r Result) Automatable() bool {
	return r.Status == Feasible || r.Status == FeasibleEmpty
}

// FeatureCounter counts the features of one layer on one event.
type FeatureCounter interface {
	CountEventFeatures(ctx context.Context, eventID int64, layer *db.Layer) (int, error)
}

// Request names what is checked. EventLayerIDs, when set, replaces the
// event's own layer list.
type Request struct {
	Metric           *db.Metric
	Event            *db.Event
	AnalysisMetadata map[string]any
	EventLayerIDs    []int64
}

// Checker evaluates requests against a loaded project.
type Checker struct {
	project *project.Project
	counter FeatureCounter
}

// NewChecker returns a Checker. counter is usually the project *db.DB.
func NewChecker(p *project.Project, counter FeatureCounter) *Checker {
	return &Checker{project: p, counter: counter}
}

// ForContext returns a Checker over a project context.
func ForContext(pc *project.Context) *Checker {
	return NewChecker(pc.Project, pc.DB)
}

// Check evaluates one metric on one event.
func (c *Checker) Check(ctx context.Context, req Request) Result {
	r := c.check(ctx, req)
	monitoring.FeasibilityResults.WithLabelValues(string(r.Status)).Inc()
	return r
}

func (c *Checker) check(ctx context.Context, req Request) Result {
	m := req.Metric
	if m == nil || m.Params == nil {
		return Result{Status: ManualOnly, Reasons: []string{"metric has no calculation parameters"}}
	}

	// inputs chosen on the analysis
	lookup := &db.Analysis{Metadata: req.AnalysisMetadata}
	var missing []string
	for _, in := range m.Params.Inputs {
		if _, ok := lookup.Input(in.Input); !ok {
			missing = append(missing, in.Input)
		}
	}
	if len(missing) > 0 {
		return Result{Status: NotFeasible, Reasons: []string{"missing inputs: " + strings.Join(missing, ", ")}}
	}

	layerIDs := req.EventLayerIDs
	if layerIDs == nil && req.Event != nil {
		layerIDs = req.Event.LayerIDs
	}

	var (
		reasons  []string
		present  []*db.Layer
		groups   = map[string][]string{}
		grouped  = map[string]bool{}
		groupSeq []string
	)
	for _, l := range m.Params.DCELayers {
		layer, ok := c.project.EventLayer(m.ProtocolID, l.LayerIDRef, layerIDs)
		if l.Usage.IsNamedGroup() {
			name := l.Usage.String()
			if _, seen := groups[name]; !seen {
				groupSeq = append(groupSeq, name)
				groups[name] = nil
			}
			groups[name] = append(groups[name], l.LayerIDRef)
			if ok {
				grouped[name] = true
				present = append(present, layer)
			}
			continue
		}
		if !ok {
			reasons = append(reasons, "missing layer: "+l.LayerIDRef)
			continue
		}
		present = append(present, layer)
	}
	for _, name := range groupSeq {
		if !grouped[name] {
			reasons = append(reasons, fmt.Sprintf("missing one of %s layers: %s", name, strings.Join(groups[name], ", ")))
		}
	}
	if len(reasons) > 0 {
		return Result{Status: NotFeasible, Reasons: reasons}
	}

	if req.Event != nil {
		var empty []string
		for _, layer := range present {
			if geom.Kind(layer.GeomType) == geom.KindNone {
				continue
			}
			n, err := c.counter.CountEventFeatures(ctx, req.Event.ID, layer)
			if err != nil {
				logf("count %s on event %d: %v", layer.LayerID, req.Event.ID, err)
				return Result{Status: NotFeasible, Reasons: []string{fmt.Sprintf("failed to count %s features: %v", layer.LayerID, err)}}
			}
			if n == 0 {
				empty = append(empty, layer.LayerID)
			}
		}
		if len(empty) > 0 {
			sort.Strings(empty)
			return Result{Status: FeasibleEmpty, Reasons: []string{"no features in layers: " + strings.Join(dedupe(empty), ", ")}}
		}
	}
	return Result{Status: Feasible, Reasons: []string{}}
}

func dedupe(sorted []string) []string {
	out := make([]string, 0, len(sorted))
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
