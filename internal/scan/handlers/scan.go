package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"regions-server/internal/middleware"
	"regions-server/internal/models"
	"regions-server/internal/scan"
	"regions-server/internal/shared/errors"
	"regions-server/internal/shared/response"

	"github.com/go-playground/validator/v10"
)

// ScanRequest is the body of POST /api/scan: [latitude, longitude]
type ScanRequest struct {
	Coordinates []float64 `json:"coordinates" validate:"required,len=2"`
}

type ScanHandler struct {
	service  *scan.Service
	validate *validator.Validate
}

func NewScanHandler(service *scan.Service) *ScanHandler {
	return &ScanHandler{
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *ScanHandler) Scan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := slog.With("handler", "scan")

	if r.Method != http.MethodPost {
		response.Error(w, r, logger, errors.MethodNotAllowed(r.Method))
		return
	}

	var req ScanRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, logger, errors.WrapValidation("invalid JSON in request body", err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, r, logger, errors.WrapValidation("coordinates must be [latitude, longitude]", err))
		return
	}

	if claims := middleware.GetUserFromContext(r); claims != nil {
		logger = logger.With("player_id", claims.PlayerID)
	}

	result, err := h.service.Scan(ctx, models.Coordinate{Lat: req.Coordinates[0], Lng: req.Coordinates[1]})
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	logger.Debug("Scan served", "scan_id", result.ScanID, "regions_created", result.RegionsCreated)
	response.Success(w, http.StatusOK, result)
}
