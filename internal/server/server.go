// Package server exposes the Ghillie HTTP API: health and readiness probes,
// on-demand report runs, rendered latest reports, metrics snapshots, and the
// daemon status endpoint. The daemon owns the listeners; this package only
// assembles the handler tree.
package server

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
	"git.home.luguber.info/inful/ghillie/internal/gold"
	"git.home.luguber.info/inful/ghillie/internal/logfields"
	"git.home.luguber.info/inful/ghillie/internal/reporting"
	"git.home.luguber.info/inful/ghillie/internal/silver"
)

// ReportRunner triggers on-demand report runs and aggregates model metrics.
// *reporting.Service implements it.
type ReportRunner interface {
	RunForRepository(ctx context.Context, repositoryID string, asOf time.Time) (*reporting.RunResult, error)
	Snapshot(ctx context.Context, periodStart, periodEnd time.Time, scope gold.Scope) (*reporting.MetricsSnapshot, error)
}

// Runtime reports daemon state for the status endpoint. The daemon implements
// it; declaring the interface here keeps the server importable from the
// daemon without a cycle.
type Runtime interface {
	RuntimeStatus(ctx context.Context) (RuntimeStatus, error)
}

// Deps carries the server collaborators. Runtime is optional: without a
// daemon the status endpoint reports unavailable.
type Deps struct {
	DB       *sql.DB
	Entities *silver.Store
	Reports  *gold.Store
	Runner   ReportRunner
	Runtime  Runtime
	Logger   *slog.Logger
}

// Server routes API requests to the reporting stores and services.
type Server struct {
	db       *sql.DB
	entities *silver.Store
	reports  *gold.Store
	runner   ReportRunner
	runtime  Runtime
	adapter  *gerrors.HTTPErrorAdapter
	logger   *slog.Logger
	handler  http.Handler
}

// New assembles the route tree and wraps it in the logging and panic
// recovery middleware chain.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(logfields.Component("server"))

	s := &Server{
		db:       deps.DB,
		entities: deps.Entities,
		reports:  deps.Reports,
		runner:   deps.Runner,
		runtime:  deps.Runtime,
		adapter:  gerrors.NewHTTPErrorAdapter(logger),
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("POST /reports/repositories/{owner}/{name}", s.handleRunReport)
	mux.HandleFunc("GET /reports/repositories/{owner}/{name}/latest", s.handleLatestReport)
	mux.HandleFunc("GET /metrics/reports", s.handleReportMetrics)
	mux.HandleFunc("GET /status", s.handleStatus)

	s.handler = Chain(logger, s.adapter)(mux)
	return s
}

// Handler returns the assembled handler for mounting on an http.Server.
func (s *Server) Handler() http.Handler {
	return s.handler
}
