package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// ErrorCode is a machine-readable error code.
type ErrorCode string

const (
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
	ErrCodeBadRequest      ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeRateLimited     ErrorCode = "RATE_LIMITED"
	ErrCodeRequestTooLarge ErrorCode = "REQUEST_TOO_LARGE"

	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidJSON     ErrorCode = "INVALID_JSON"
	ErrCodeMissingField    ErrorCode = "MISSING_FIELD"
	ErrCodeInvalidOverride ErrorCode = "INVALID_OVERRIDE"
)

// ErrorResponse is the error envelope for every non-2xx response.
type ErrorResponse struct {
	Error     string            `json:"error"`                // HTTP status text
	Message   string            `json:"message"`              // human-readable description
	Code      ErrorCode         `json:"code"`                 // machine-readable code
	Fields    map[string]string `json:"fields,omitempty"`     // field-level errors
	RequestID string            `json:"request_id,omitempty"` // for correlating logs
}

func NewErrorResponse(statusCode int, code ErrorCode, message string) *ErrorResponse {
	return &ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    code,
	}
}

func (e *ErrorResponse) WithFields(fields map[string]string) *ErrorResponse {
	e.Fields = fields
	return e
}

func (e *ErrorResponse) WithRequestID(requestID string) *ErrorResponse {
	e.RequestID = requestID
	return e
}

// AssignmentError is attached to a successful evaluation whose override was
// malformed. The assignment alongside it is the fail-safe default.
type AssignmentError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, errResp *ErrorResponse) {
	if reqID := middleware.GetReqID(r.Context()); reqID != "" {
		errResp.RequestID = reqID
	}
	writeJSON(w, statusCode, errResp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ValidationError writes a 400 with field-level details.
func ValidationError(w http.ResponseWriter, r *http.Request, message string, fields map[string]string) {
	writeErrorResponse(w, r, http.StatusBadRequest,
		NewErrorResponse(http.StatusBadRequest, ErrCodeValidation, message).WithFields(fields))
}

func BadRequestError(w http.ResponseWriter, r *http.Request, code ErrorCode, message string) {
	writeErrorResponse(w, r, http.StatusBadRequest, NewErrorResponse(http.StatusBadRequest, code, message))
}

func BadRequestErrorWithFields(w http.ResponseWriter, r *http.Request, code ErrorCode, message string, fields map[string]string) {
	writeErrorResponse(w, r, http.StatusBadRequest,
		NewErrorResponse(http.StatusBadRequest, code, message).WithFields(fields))
}

func NotFoundError(w http.ResponseWriter, r *http.Request, message string) {
	writeErrorResponse(w, r, http.StatusNotFound, NewErrorResponse(http.StatusNotFound, ErrCodeNotFound, message))
}

func InternalError(w http.ResponseWriter, r *http.Request, message string) {
	writeErrorResponse(w, r, http.StatusInternalServerError,
		NewErrorResponse(http.StatusInternalServerError, ErrCodeInternal, message))
}

func RequestTooLargeError(w http.ResponseWriter, r *http.Request, message string) {
	writeErrorResponse(w, r, http.StatusRequestEntityTooLarge,
		NewErrorResponse(http.StatusRequestEntityTooLarge, ErrCodeRequestTooLarge, message))
}

// RateLimitedError is the httprate limit handler.
func RateLimitedError(w http.ResponseWriter, r *http.Request) {
	writeErrorResponse(w, r, http.StatusTooManyRequests,
		NewErrorResponse(http.StatusTooManyRequests, ErrCodeRateLimited, "Too many requests, slow down"))
}
