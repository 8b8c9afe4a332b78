package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every engine counter. It is separate from the default
// registry so tests can inspect values without global collisions.
var Registry = prometheus.NewRegistry()

var (
	// MetricCalculations counts metric function invocations by function and outcome.
	MetricCalculations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qris",
		Name:      "metric_calculations_total",
		Help:      "Metric calculations by metric function and outcome.",
	}, []string{"function", "outcome"})

	// FeasibilityResults counts feasibility evaluations by status.
	FeasibilityResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qris",
		Name:      "feasibility_results_total",
		Help:      "Feasibility evaluations by resulting status.",
	}, []string{"status"})

	// AnalysisRuns counts orchestrated analysis runs by final status.
	AnalysisRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qris",
		Name:      "analysis_runs_total",
		Help:      "Analysis runs by final status.",
	}, []string{"status"})

	// ProducerRequests counts outbound requests made by external data producers.
	ProducerRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qris",
		Name:      "producer_requests_total",
		Help:      "External producer HTTP requests by service and outcome.",
	}, []string{"service", "outcome"})
)

func init() {
	Registry.MustRegister(MetricCalculations, FeasibilityResults, AnalysisRuns, ProducerRequests)
}

// Handler exposes the engine registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
