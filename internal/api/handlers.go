package api

import (
	"net/http"

	"github.com/riverscapes/qris/internal/db"
	"github.com/riverscapes/qris/internal/feasibility"
	"github.com/riverscapes/qris/internal/httputil"
	"github.com/riverscapes/qris/internal/project"
	"github.com/riverscapes/qris/internal/units"
)

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.db.GetProject(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSONOK(w, p)
}

func (s *Server) listAnalyses(w http.ResponseWriter, r *http.Request) {
	as, err := s.db.ListAnalyses(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if as == nil {
		as = []db.Analysis{}
	}
	httputil.WriteJSONOK(w, as)
}

func (s *Server) getAnalysis(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	a, err := s.db.GetAnalysis(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSONOK(w, a)
}

// valueResponse is one cell with its display rendering.
type valueResponse struct {
	db.MetricValue
	Metric           string   `json:"metric"`
	Current          *float64 `json:"current_value"`
	Display          string   `json:"display,omitempty"`
	CalculationError string   `json:"calculation_error,omitempty"`
}

func (s *Server) listValues(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	eventID, err := queryID(r, "event_id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	a, err := s.db.GetAnalysis(ctx, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if _, err := s.db.GetEvent(ctx, eventID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	values, err := s.db.ListMetricValues(ctx, a.ID, eventID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	metrics := map[int64]*db.Metric{}
	out := make([]valueResponse, 0, len(values))
	for _, v := range values {
		m, ok := metrics[v.MetricID]
		if !ok {
			if m, err = s.db.GetMetric(ctx, v.MetricID); err != nil {
				httputil.WriteError(w, err)
				return
			}
			metrics[v.MetricID] = m
		}
		resp := valueResponse{MetricValue: v, Metric: m.Name, Current: v.CurrentValue()}
		if resp.Current != nil {
			text, err := units.FormatValue(*resp.Current, m.UnitType(), a.Units, m.Precision())
			if err != nil {
				logf("analysis %d: cannot format %s: %v", a.ID, m.MachineName, err)
			}
			resp.Display = text
		}
		resp.CalculationError, _ = v.CalculationError()
		out = append(out, resp)
	}
	httputil.WriteJSONOK(w, out)
}

type feasibilityResponse struct {
	MetricID int64  `json:"metric_id"`
	Metric   string `json:"metric"`
	feasibility.Result
}

func (s *Server) checkFeasibility(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	eventID, err := queryID(r, "event_id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	p, err := project.Load(ctx, s.db)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	pc, err := project.NewContext(s.db, p, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	event, ok := p.Events[eventID]
	if !ok {
		httputil.WriteJSONError(w, http.StatusNotFound, "event not found")
		return
	}

	checker := feasibility.ForContext(pc)
	out := make([]feasibilityResponse, 0, len(pc.Analysis.Metrics))
	for _, am := range pc.Analysis.Metrics {
		m, ok := p.Metrics[am.MetricID]
		if !ok {
			continue
		}
		res := checker.Check(ctx, feasibility.Request{
			Metric:           m,
			Event:            event,
			AnalysisMetadata: pc.Analysis.Metadata,
		})
		out = append(out, feasibilityResponse{MetricID: m.ID, Metric: m.Name, Result: res})
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	runs, err := s.db.ListAnalysisRuns(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if runs == nil {
		runs = []db.AnalysisRun{}
	}
	httputil.WriteJSONOK(w, runs)
}
