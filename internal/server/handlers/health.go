package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"regions-server/internal/shared/response"
)

// Pinger is a dependency whose reachability the health check reports
type Pinger interface {
	PingContext(ctx context.Context) error
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Store     string `json:"store"`
	Database  string `json:"database"`
	Cache     string `json:"cache"`
}

type HealthHandler struct {
	storeDriver string
	db          Pinger
	cache       Pinger
}

// NewHealthHandler takes nil for a dependency that is not configured
func NewHealthHandler(storeDriver string, db, cache Pinger) *HealthHandler {
	return &HealthHandler{storeDriver: storeDriver, db: db, cache: cache}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "health")

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Store:     h.storeDriver,
		Database:  ping(ctx, logger, "database", h.db),
		Cache:     ping(ctx, logger, "cache", h.cache),
	}

	status := http.StatusOK
	if resp.Database == "disconnected" {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	response.Success(w, status, resp)
}

func ping(ctx context.Context, logger *slog.Logger, name string, p Pinger) string {
	if p == nil {
		return "disabled"
	}
	if err := p.PingContext(ctx); err != nil {
		logger.Warn("Dependency ping failed", "dependency", name, "error", err)
		return "disconnected"
	}
	return "connected"
}
