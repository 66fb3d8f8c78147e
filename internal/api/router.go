package api

import (
	"log/slog"
	"net/http"

	"github.com/sydlexius/bodyscanmock/internal/api/middleware"
	"github.com/sydlexius/bodyscanmock/internal/history"
	"github.com/sydlexius/bodyscanmock/internal/logging"
	"github.com/sydlexius/bodyscanmock/internal/results"
	"github.com/sydlexius/bodyscanmock/internal/scan"
)

// RouterDeps bundles all dependencies needed by the HTTP router.
type RouterDeps struct {
	Machine     *scan.Machine
	Results     *results.Store
	History     *history.Service
	LogManager  *logging.Manager
	RateLimiter *middleware.RateLimiter
	Logger      *slog.Logger
}

// Router sets up all HTTP routes for the mock device.
type Router struct {
	machine     *scan.Machine
	results     *results.Store
	history     *history.Service
	logManager  *logging.Manager
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

// NewRouter creates a new Router.
func NewRouter(deps RouterDeps) *Router {
	return &Router{
		machine:     deps.Machine,
		results:     deps.Results,
		history:     deps.History,
		logManager:  deps.LogManager,
		rateLimiter: deps.RateLimiter,
		logger:      deps.Logger,
	}
}

// Handler returns the fully configured HTTP handler with middleware applied.
func (r *Router) Handler() http.Handler {
	mux := http.NewServeMux()

	// Device and scan lifecycle
	mux.HandleFunc("GET /getDeviceStatus", r.handleDeviceStatus)
	mux.HandleFunc("POST /startScan", r.limited(r.handleStartScan))
	mux.HandleFunc("POST /resetScan", r.limited(r.handleResetScan))
	mux.HandleFunc("GET /getScanStatus", r.handleScanStatus)
	mux.HandleFunc("GET /getScanState", r.handleScanState)
	mux.HandleFunc("POST /getScanResult", r.limited(r.handleScanResult))
	mux.HandleFunc("GET /getScanHistory", r.handleScanHistory)

	// Operations
	mux.HandleFunc("GET /health", r.handleHealth)
	mux.HandleFunc("GET /logging", r.handleGetLogging)
	mux.HandleFunc("PUT /logging", r.limited(r.handleUpdateLogging))

	var h http.Handler = mux
	h = middleware.SecurityHeaders(h)
	h = middleware.CORS(h)
	return middleware.Logging(r.logger)(h)
}

// limited wraps fn with the rate limiter when one is configured.
func (r *Router) limited(fn http.HandlerFunc) http.HandlerFunc {
	if r.rateLimiter == nil {
		return fn
	}
	return r.rateLimiter.Middleware(fn).ServeHTTP
}
