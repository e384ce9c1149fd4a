package response

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"regions-server/internal/shared/errors"
)

// ErrorResponse represents the JSON error response sent to clients
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Code      int    `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// Error logs an error and sends a JSON error response to the client.
// Handlers log nothing else about a failed request.
func Error(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	errorType := errors.GetType(err)
	statusCode := StatusCode(errorType)

	logError(logger, r, err, errorType, statusCode)

	message := err.Error()
	if errorType == errors.ErrorTypeInternal {
		message = "internal server error"
	}
	sendErrorResponse(w, r, errorType, message, statusCode)
}

// ErrorWithMessage is Error with a client message that differs from the logged error
func ErrorWithMessage(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, clientMessage string) {
	errorType := errors.GetType(err)
	statusCode := StatusCode(errorType)

	logError(logger, r, err, errorType, statusCode)

	sendErrorResponse(w, r, errorType, clientMessage, statusCode)
}

// StatusCode maps an error type to its HTTP status
func StatusCode(errorType errors.ErrorType) int {
	switch errorType {
	case errors.ErrorTypeNotFound:
		return http.StatusNotFound
	case errors.ErrorTypeValidation:
		return http.StatusBadRequest
	case errors.ErrorTypeConflict:
		return http.StatusConflict
	case errors.ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case errors.ErrorTypeForbidden:
		return http.StatusForbidden
	case errors.ErrorTypeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case errors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case errors.ErrorTypeCountMismatch, errors.ErrorTypeTransaction, errors.ErrorTypeInternal:
		fallthrough
	default:
		return http.StatusInternalServerError
	}
}

func logError(logger *slog.Logger, r *http.Request, err error, errorType errors.ErrorType, statusCode int) {
	logCtx := logger.With(
		"method", r.Method,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr,
		"error_type", errorType,
		"status_code", statusCode,
	)
	if id := RequestID(r.Context()); id != "" {
		logCtx = logCtx.With("request_id", id)
	}

	switch errorType {
	case errors.ErrorTypeNotFound, errors.ErrorTypeValidation, errors.ErrorTypeMethodNotAllowed:
		logCtx.Debug("Client error", "error", err)
	case errors.ErrorTypeUnauthorized, errors.ErrorTypeForbidden:
		logCtx.Warn("Authorization error", "error", err)
	case errors.ErrorTypeConflict:
		logCtx.Info("Conflict error", "error", err)
	case errors.ErrorTypeTimeout:
		logCtx.Warn("Request timed out", "error", err)
	case errors.ErrorTypeCountMismatch:
		logCtx.Error("Region resolution incomplete", "error", err)
	case errors.ErrorTypeTransaction:
		logCtx.Error("Transaction rolled back", "error", err)
	default:
		logCtx.Error("Internal server error", "error", err)
	}
}

func sendErrorResponse(w http.ResponseWriter, r *http.Request, errorType errors.ErrorType, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error:     string(errorType),
		Message:   message,
		Code:      statusCode,
		RequestID: RequestID(r.Context()),
	}

	// the status line is already out; nothing useful to do on failure
	_ = json.NewEncoder(w).Encode(response)
}

// Success sends a JSON success response to the client
func Success(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}
