package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gradehub/orientation-engine/internal/application/query"
	"github.com/gradehub/orientation-engine/internal/domain/grade"
	"github.com/gradehub/orientation-engine/internal/domain/shared"
	"github.com/gradehub/orientation-engine/internal/domain/simulation"
	"github.com/gradehub/orientation-engine/pkg/logger"
	"github.com/gradehub/orientation-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth reports every dependency check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, r, http.StatusOK, map[string]string{
			"status": "healthy",
			"uptime": s.Uptime().String(),
		}, nil)
		return
	}

	status := s.deps.Health.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status, nil)
}

// handleReady handles the readiness probe endpoint.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if status := s.deps.Health.Check(r.Context()); !status.Ready {
			writeJSONError(w, r, http.StatusServiceUnavailable, "not_ready", status.Message)
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"}, nil)
}

// handleLive handles the liveness probe endpoint.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"}, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// ORIENTATION REPORT
// ══════════════════════════════════════════════════════════════════════════════

// handleGetReport handles GET /api/v1/students/{id}/report?year=
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Report == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Report handler not configured")
		return
	}

	year, err := s.yearParam(r)
	if err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	report, err := s.deps.Report.Handle(r.Context(), query.GetOrientationReportQuery{
		StudentID: grade.StudentID(chi.URLParam(r, "id")),
		Year:      year,
	})
	if err != nil {
		s.writeDomainError(w, r, "get orientation report", err)
		return
	}
	writeJSON(w, r, http.StatusOK, report, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// SIMULATION
// ══════════════════════════════════════════════════════════════════════════════

// simulateRequest is the body of POST /api/v1/students/{id}/simulations.
type simulateRequest struct {
	Year      int                   `json:"year" validate:"omitempty,gte=1900,lte=2100"`
	Overrides []simulation.Override `json:"overrides" validate:"max=100,dive"`
}

// handleSimulate handles POST /api/v1/students/{id}/simulations
func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Simulate == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Simulation handler not configured")
		return
	}

	var req simulateRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Year == 0 {
		req.Year = s.currentYear()
	}

	res, err := s.deps.Simulate.Handle(r.Context(), query.SimulateQuery{
		StudentID: grade.StudentID(chi.URLParam(r, "id")),
		Year:      req.Year,
		Overrides: req.Overrides,
	})
	if err != nil {
		s.writeDomainError(w, r, "simulate", err)
		return
	}
	writeJSON(w, r, http.StatusOK, res, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// SECTION RANKING
// ══════════════════════════════════════════════════════════════════════════════

// handleGetSectionRanking handles GET /api/v1/sections/{section}/ranking
func (s *Server) handleGetSectionRanking(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ranking == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Ranking handler not configured")
		return
	}

	year, err := s.yearParam(r)
	if err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := s.deps.Ranking.Handle(r.Context(), query.GetSectionRankingQuery{
		Section:  grade.Section(chi.URLParam(r, "section")),
		Year:     year,
		Page:     getQueryParamInt(r, "page", 0),
		PageSize: getQueryParamInt(r, "page_size", 0),
		ViewerID: grade.StudentID(r.URL.Query().Get("viewer")),
		Around:   getQueryParamInt(r, "around", 0),
	})
	if err != nil {
		s.writeDomainError(w, r, "get section ranking", err)
		return
	}

	writeJSON(w, r, http.StatusOK, res, &ResponseMeta{
		TotalCount: res.Total,
		Page:       res.Page,
		PageSize:   res.PageSize,
		HasMore:    res.Page*res.PageSize < res.Total,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// decodeBody decodes and validates a JSON body. It writes the error
// response itself and reports whether the handler may proceed.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := r.Body
	if s.config.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	}
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, r, http.StatusRequestEntityTooLarge, "body_too_large", "Request body too large")
			return false
		}
		writeJSONError(w, r, http.StatusBadRequest, "invalid_json", "Invalid JSON payload: "+err.Error())
		return false
	}

	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeJSONError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
			return false
		}
		writeAPIError(w, r, http.StatusBadRequest, &APIError{
			Code:    "validation_failed",
			Message: "Request validation failed",
			Fields:  validationFields(verrs),
		})
		return false
	}
	return true
}

// writeDomainError maps application errors onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case shared.IsNotFound(err):
		writeJSONError(w, r, http.StatusNotFound, "not_found", err.Error())
	case shared.IsInvalidOverride(err):
		writeJSONError(w, r, http.StatusUnprocessableEntity, "invalid_override", err.Error())
	case shared.IsValidation(err):
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		logger.FromContext(r.Context()).Error("request failed", logger.Operation(op), logger.Err(err))
		writeJSONError(w, r, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

// currentYear is the academic year requests default to.
func (s *Server) currentYear() int {
	return s.deps.Calendar.AcademicYear(s.deps.Now())
}

// yearParam reads ?year=, as "2025" or "2024-2025", defaulting to the
// current academic year.
func (s *Server) yearParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("year")
	if raw == "" {
		return s.currentYear(), nil
	}
	return timeutil.ParseAcademicYear(raw)
}

// getQueryParamInt gets an integer query parameter with a default value.
func getQueryParamInt(r *http.Request, key string, defaultValue int) int {
	if value := r.URL.Query().Get(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// jsonFieldName makes validator report fields by their JSON names.
func jsonFieldName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

// validationFields keys each failure by its path inside the body, e.g.
// "overrides[0].value".
func validationFields(verrs validator.ValidationErrors) map[string]string {
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		path := fe.Namespace()
		if _, rest, ok := strings.Cut(path, "."); ok {
			path = rest
		}
		msg := "failed on " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		fields[path] = msg
	}
	return fields
}
