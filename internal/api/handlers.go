package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/TimurManjosov/goassign/internal/engine"
	"github.com/TimurManjosov/goassign/internal/override"
	"github.com/TimurManjosov/goassign/internal/telemetry"
)

// handleRegistry handles GET /v1/registry. Honors If-None-Match.
func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	reg := s.engine.Registry()
	etag := reg.ETag()
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	defs := reg.Definitions()
	w.Header().Set("ETag", etag)
	writeJSON(w, http.StatusOK, RegistryResponse{
		ETag:        etag,
		Flags:       defs.Flags,
		Experiments: defs.Experiments,
		Segments:    defs.Segments,
	})
}

// handleEvaluate handles POST /v1/evaluate.
//
// A malformed override is not a request error: the response is 200 with the
// fail-safe assignment and an INVALID_OVERRIDE error alongside it.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.Key = strings.TrimSpace(req.Key)
	if req.Key == "" {
		missingField(w, r, "key", "key is required")
		return
	}
	uc, ok := s.withQueryOverrides(w, r, req.User)
	if !ok {
		return
	}

	a, err := s.evaluate(r, req.Key, uc)
	resp := EvaluateResponse{Assignment: a, ETag: s.engine.Registry().ETag()}
	if err != nil {
		resp.Error = &AssignmentError{Code: ErrCodeInvalidOverride, Message: err.Error()}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAssignments handles POST /v1/assignments.
func (s *Server) handleAssignments(w http.ResponseWriter, r *http.Request) {
	var req AssignmentsRequest
	if !s.decode(w, r, &req) {
		return
	}
	uc, ok := s.withQueryOverrides(w, r, req.User)
	if !ok {
		return
	}
	s.writeAssignments(w, uc)
}

// handleAssignmentsGET handles GET /v1/assignments with the context in the
// query: userId, sessionId, email, segments (comma-separated or repeated)
// and the override parameter.
func (s *Server) handleAssignmentsGET(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	uc := engine.UserContext{
		UserID:    strings.TrimSpace(q.Get("userId")),
		SessionID: strings.TrimSpace(q.Get("sessionId")),
		Email:     strings.TrimSpace(q.Get("email")),
	}
	for _, raw := range q["segments"] {
		for _, seg := range strings.Split(raw, ",") {
			if seg = strings.TrimSpace(seg); seg != "" {
				uc.Segments = append(uc.Segments, seg)
			}
		}
	}
	uc, ok := s.withQueryOverrides(w, r, uc)
	if !ok {
		return
	}
	s.writeAssignments(w, uc)
}

func (s *Server) writeAssignments(w http.ResponseWriter, uc engine.UserContext) {
	assignments := s.engine.ListActiveAssignments(uc)
	for _, a := range assignments {
		countEvaluation(a)
	}
	writeJSON(w, http.StatusOK, AssignmentsResponse{
		Assignments: assignments,
		Count:       len(assignments),
		ETag:        s.engine.Registry().ETag(),
	})
}

// handleExposure handles POST /v1/events/exposure.
func (s *Server) handleExposure(w http.ResponseWriter, r *http.Request) {
	var req ExposureRequest
	if !s.decode(w, r, &req) || !validateEvent(w, r, &req.Key, req.User) {
		return
	}
	uc, ok := s.withQueryOverrides(w, r, req.User)
	if !ok {
		return
	}

	a, err := s.evaluate(r, req.Key, uc)
	if err != nil {
		s.log.Warn().Err(err).Str("key", req.Key).Msg("exposure recorded with fail-safe assignment")
	}
	recorded := s.recorder.RecordExposure(a, uc)
	writeJSON(w, http.StatusAccepted, ExposureResponse{Assignment: a, Recorded: recorded})
}

// handleConversion handles POST /v1/events/conversion.
func (s *Server) handleConversion(w http.ResponseWriter, r *http.Request) {
	var req ConversionRequest
	if !s.decode(w, r, &req) || !validateEvent(w, r, &req.Key, req.User) {
		return
	}
	recorded := s.recorder.RecordConversion(req.Key, req.User, strings.TrimSpace(req.Metric))
	writeJSON(w, http.StatusAccepted, EventResponse{Recorded: recorded})
}

// handleMetric handles POST /v1/events/metric.
func (s *Server) handleMetric(w http.ResponseWriter, r *http.Request) {
	var req MetricRequest
	if !s.decode(w, r, &req) || !validateEvent(w, r, &req.Key, req.User) {
		return
	}
	fields := map[string]string{}
	if req.Metric = strings.TrimSpace(req.Metric); req.Metric == "" {
		fields["metric"] = "metric is required"
	}
	if req.Value == nil {
		fields["value"] = "value is required"
	}
	if len(fields) > 0 {
		BadRequestErrorWithFields(w, r, ErrCodeMissingField, "Missing required field", fields)
		return
	}
	recorded := s.recorder.RecordMetric(req.Key, req.User, req.Metric, *req.Value)
	writeJSON(w, http.StatusAccepted, EventResponse{Recorded: recorded})
}

// handleEndSession handles DELETE /v1/sessions/{sessionID}. The flush is best
// effort: a timed-out flush is logged and the session still ends.
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	if sessionID == "" {
		missingField(w, r, "sessionID", "session id is required")
		return
	}
	if err := s.recorder.EndSession(r.Context(), sessionID); err != nil {
		s.log.Warn().Err(err).Str("session", sessionID).Msg("session flush incomplete")
	}
	w.WriteHeader(http.StatusNoContent)
}

// evaluate runs the engine inside a span and counts the result.
func (s *Server) evaluate(r *http.Request, key string, uc engine.UserContext) (engine.Assignment, error) {
	_, span := s.tracer.Start(r.Context(), "assign.evaluate", trace.WithAttributes(
		attribute.String("assign.key", key),
	))
	defer span.End()

	a, err := s.engine.Evaluate(key, uc)
	span.SetAttributes(
		attribute.String("assign.kind", string(a.Kind)),
		attribute.String("assign.source", string(a.Source)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid override")
	}
	countEvaluation(a)
	return a, err
}

func countEvaluation(a engine.Assignment) {
	telemetry.Evaluations.WithLabelValues(string(a.Kind), string(a.Source)).Inc()
}

// withQueryOverrides layers overrides from the query parameter over those in
// the body. A malformed parameter is a 400.
func (s *Server) withQueryOverrides(w http.ResponseWriter, r *http.Request, uc engine.UserContext) (engine.UserContext, bool) {
	if !r.URL.Query().Has(s.overrideParam) {
		return uc, true
	}
	fromQuery, err := override.ParseQuery(r.URL.Query(), s.overrideParam)
	if err != nil {
		BadRequestErrorWithFields(w, r, ErrCodeInvalidOverride, "Malformed override parameter", map[string]string{
			s.overrideParam: err.Error(),
		})
		return uc, false
	}
	uc.Overrides = override.Merge(uc.Overrides, fromQuery)
	return uc, true
}

// decode reads a JSON body of at most maxRequestBodySize bytes into v.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			RequestTooLargeError(w, r, "Request body exceeds 1MB limit")
		case errors.Is(err, io.EOF):
			BadRequestError(w, r, ErrCodeInvalidJSON, "Request body is required")
		default:
			BadRequestError(w, r, ErrCodeInvalidJSON, "Invalid JSON: "+err.Error())
		}
		return false
	}
	return true
}

// validateEvent checks the fields every event needs and trims the key.
func validateEvent(w http.ResponseWriter, r *http.Request, key *string, uc engine.UserContext) bool {
	fields := map[string]string{}
	*key = strings.TrimSpace(*key)
	if *key == "" {
		fields["key"] = "key is required"
	}
	if uc.Identity() == "" {
		fields["user"] = "user.userId or user.sessionId is required"
	}
	if len(fields) > 0 {
		BadRequestErrorWithFields(w, r, ErrCodeMissingField, "Missing required field", fields)
		return false
	}
	return true
}

func missingField(w http.ResponseWriter, r *http.Request, field, message string) {
	BadRequestErrorWithFields(w, r, ErrCodeMissingField, "Missing required field", map[string]string{field: message})
}
