package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/deposit-scanner/internal/errors"
	"github.com/deposit-scanner/internal/logging"
	"github.com/deposit-scanner/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	_ = json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// Common error codes
const (
	ErrCodeInvalidInput     = "INVALID_INPUT"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

// respondServiceError maps an operation error onto its HTTP status. Server
// side failures are logged and reported without their cause.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if !apperrors.IsUserError(err) {
		logging.FromContext(r.Context()).WithError(err).WithField("path", r.URL.Path).Error("Admin request failed")
	}
	status, svcErr := mapServiceError(err)
	respondError(w, status, svcErr.Code, svcErr.Message, svcErr.Details)
}

// mapServiceError maps service errors to HTTP status codes. Uncategorized
// errors become INTERNAL_ERROR.
func mapServiceError(err error) (int, *types.ServiceError) {
	catErr := apperrors.Categorize(err)
	if catErr == nil {
		return http.StatusInternalServerError, &types.ServiceError{Code: ErrCodeInternalError, Message: "An internal error occurred"}
	}

	status := apperrors.GetHTTPStatusCode(catErr)
	svcErr := catErr.ToServiceError()
	if !apperrors.IsUserError(catErr) && catErr.Code != "BROADCAST_TIMEOUT" {
		svcErr = &types.ServiceError{Code: catErr.Code, Message: "An internal error occurred"}
	}
	return status, svcErr
}
