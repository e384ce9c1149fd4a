package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"regions-server/internal/middleware"
	"regions-server/internal/region"
	"regions-server/internal/resource"
	"regions-server/internal/shared/errors"
	"regions-server/internal/shared/response"
)

type RegionHandler struct {
	regions   *region.Service
	lifecycle *resource.Service
}

func NewRegionHandler(regions *region.Service, lifecycle *resource.Service) *RegionHandler {
	return &RegionHandler{regions: regions, lifecycle: lifecycle}
}

func (h *RegionHandler) GetRegion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := slog.With("handler", "get_region")

	if r.Method != http.MethodGet {
		response.Error(w, r, logger, errors.MethodNotAllowed(r.Method))
		return
	}

	regionID, err := parseRegionID(r)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	found, err := h.regions.GetRegion(ctx, regionID)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	response.Success(w, http.StatusOK, found)
}

func (h *RegionHandler) RefreshRegion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := slog.With("handler", "refresh_region")

	if r.Method != http.MethodPost {
		response.Error(w, r, logger, errors.MethodNotAllowed(r.Method))
		return
	}

	regionID, err := parseRegionID(r)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	if claims := middleware.GetUserFromContext(r); claims != nil {
		logger.Info("Region refresh requested", "region_id", regionID, "username", claims.Username)
	}

	if _, err := h.lifecycle.RefreshByID(ctx, regionID); err != nil {
		response.Error(w, r, logger, err)
		return
	}

	refreshed, err := h.regions.GetRegion(ctx, regionID)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	response.Success(w, http.StatusOK, refreshed)
}

func parseRegionID(r *http.Request) (int, error) {
	regionIDStr := r.PathValue("id")
	if regionIDStr == "" {
		return 0, errors.Validation("region ID is required")
	}

	regionID, err := strconv.Atoi(regionIDStr)
	if err != nil {
		return 0, errors.WrapValidation("invalid region ID format", err)
	}
	if regionID <= 0 {
		return 0, errors.Validationf("invalid region ID %d", regionID)
	}
	return regionID, nil
}
