// Package api serves a read-only JSON view of a project: analyses, their
// metric values, feasibility and run history.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/riverscapes/qris/internal/db"
	"github.com/riverscapes/qris/internal/errors"
	"github.com/riverscapes/qris/internal/httputil"
	"github.com/riverscapes/qris/internal/monitoring"
)

var logf = monitoring.Component("api")

const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// Server answers API requests against one project database.
type Server struct {
	db *db.DB
}

// NewServer returns a Server over d.
func NewServer(d *db.DB) *Server {
	return &Server{db: d}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		logf("[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// Router returns the API routes and /metrics.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(LoggingMiddleware)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/project", s.getProject)
		r.Get("/analyses", s.listAnalyses)
		r.Route("/analyses/{id}", func(r chi.Router) {
			r.Get("/", s.getAnalysis)
			r.Get("/values", s.listValues)
			r.Get("/feasibility", s.checkFeasibility)
			r.Get("/runs", s.listRuns)
		})
	})
	r.Handle("/metrics", monitoring.Handler())
	return r
}

// Handler returns the router with the database debug console and backup
// download mounted under /debug/.
func (s *Server) Handler() (http.Handler, error) {
	debug := http.NewServeMux()
	if err := s.db.AttachAdminRoutes(debug); err != nil {
		return nil, err
	}
	r := s.Router()
	r.Mount("/debug", debug)
	return r, nil
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Newf(errors.KindValidation, "parse path", "invalid %s %q", name, raw)
	}
	return id, nil
}

func queryID(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, errors.Newf(errors.KindValidation, "parse query", "%s is required", name)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Newf(errors.KindValidation, "parse query", "invalid %s %q", name, raw)
	}
	return id, nil
}
