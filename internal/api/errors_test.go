package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse(http.StatusBadRequest, ErrCodeMissingField, "key is required").
		WithFields(map[string]string{"key": "required"}).
		WithRequestID("req-123")

	if resp.Error != "Bad Request" {
		t.Errorf("Error = %q, want 'Bad Request'", resp.Error)
	}
	if resp.Code != ErrCodeMissingField {
		t.Errorf("Code = %q, want %q", resp.Code, ErrCodeMissingField)
	}
	if resp.Fields["key"] != "required" {
		t.Errorf("Fields[key] = %q, want 'required'", resp.Fields["key"])
	}
	if resp.RequestID != "req-123" {
		t.Errorf("RequestID = %q, want 'req-123'", resp.RequestID)
	}
}

func TestErrorWriters(t *testing.T) {
	tests := []struct {
		name       string
		write      func(http.ResponseWriter, *http.Request)
		wantStatus int
		wantCode   ErrorCode
	}{
		{
			name:       "validation",
			write:      func(w http.ResponseWriter, r *http.Request) { ValidationError(w, r, "bad", map[string]string{"a": "b"}) },
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrCodeValidation,
		},
		{
			name:       "bad request",
			write:      func(w http.ResponseWriter, r *http.Request) { BadRequestError(w, r, ErrCodeInvalidJSON, "Invalid JSON") },
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrCodeInvalidJSON,
		},
		{
			name: "bad request with fields",
			write: func(w http.ResponseWriter, r *http.Request) {
				BadRequestErrorWithFields(w, r, ErrCodeInvalidOverride, "bad override", map[string]string{"ff": "x"})
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrCodeInvalidOverride,
		},
		{
			name:       "not found",
			write:      func(w http.ResponseWriter, r *http.Request) { NotFoundError(w, r, "nothing here") },
			wantStatus: http.StatusNotFound,
			wantCode:   ErrCodeNotFound,
		},
		{
			name:       "internal",
			write:      func(w http.ResponseWriter, r *http.Request) { InternalError(w, r, "boom") },
			wantStatus: http.StatusInternalServerError,
			wantCode:   ErrCodeInternal,
		},
		{
			name:       "too large",
			write:      func(w http.ResponseWriter, r *http.Request) { RequestTooLargeError(w, r, "too big") },
			wantStatus: http.StatusRequestEntityTooLarge,
			wantCode:   ErrCodeRequestTooLarge,
		},
		{
			name:       "rate limited",
			write:      RateLimitedError,
			wantStatus: http.StatusTooManyRequests,
			wantCode:   ErrCodeRateLimited,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/v1/evaluate", nil)

			tt.write(w, r)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
			var resp ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
			}
			if resp.Error != http.StatusText(tt.wantStatus) {
				t.Errorf("error = %q, want %q", resp.Error, http.StatusText(tt.wantStatus))
			}
		})
	}
}

func TestErrorResponse_IncludesRequestID(t *testing.T) {
	var rec *httptest.ResponseRecorder
	h := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		NotFoundError(w, r, "missing")
	}))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RequestID == "" {
		t.Error("expected request_id to be set")
	}
}
