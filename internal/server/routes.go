package server

import (
	"log/slog"
	"net/http"

	"regions-server/internal/metrics"
	"regions-server/internal/middleware"
	regionHandlers "regions-server/internal/region/handlers"
	scanHandlers "regions-server/internal/scan/handlers"
	serverHandlers "regions-server/internal/server/handlers"
)

type Routes struct {
	scanHandler   *scanHandlers.ScanHandler
	regionHandler *regionHandlers.RegionHandler
	healthHandler *serverHandlers.HealthHandler
	authenticator *middleware.Authenticator
	logger        *slog.Logger
}

func NewRoutes(scanHandler *scanHandlers.ScanHandler, regionHandler *regionHandlers.RegionHandler, healthHandler *serverHandlers.HealthHandler, authenticator *middleware.Authenticator, logger *slog.Logger) *Routes {
	return &Routes{
		scanHandler:   scanHandler,
		regionHandler: regionHandler,
		healthHandler: healthHandler,
		authenticator: authenticator,
		logger:        logger,
	}
}

func (r *Routes) Setup() *http.ServeMux {
	logger := r.logger.With("component", "routes", "operation", "setup")
	logger.Debug("Setting up application routes")

	mux := http.NewServeMux()

	// Public endpoints
	mux.Handle("/api/server/health", r.healthHandler)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/api/regions/{id}", r.regionHandler.GetRegion)

	// Caller identity is optional for scans
	mux.Handle("/api/scan", r.authenticator.Optional(http.HandlerFunc(r.scanHandler.Scan)))

	// Operator-only endpoints
	mux.Handle("/api/regions/{id}/refresh", r.authenticator.RequireOperator(http.HandlerFunc(r.regionHandler.RefreshRegion)))

	logger.Info("Routes configured successfully",
		"public_endpoints", []string{"/api/server/health", "/metrics", "/api/regions/{id}", "/api/scan"},
		"operator_endpoints", []string{"/api/regions/{id}/refresh"},
	)

	return mux
}

// Handler wraps the mux in the middleware chain: request id, CORS, rate limit
func Handler(mux http.Handler, cors *middleware.CORSMiddleware, limiter *middleware.RateLimiter) http.Handler {
	return middleware.RequestID(cors.Middleware(limiter.Middleware(mux)))
}
