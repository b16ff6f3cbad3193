package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradehub/orientation-engine/internal/application/query"
	"github.com/gradehub/orientation-engine/internal/domain/cohort"
	"github.com/gradehub/orientation-engine/internal/domain/grade"
	"github.com/gradehub/orientation-engine/internal/domain/orientation"
	"github.com/gradehub/orientation-engine/internal/infrastructure/metrics"
	"github.com/gradehub/orientation-engine/internal/infrastructure/persistence/memory"
	"github.com/gradehub/orientation-engine/internal/interface/http/handlers"
	"github.com/gradehub/orientation-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURES
// ══════════════════════════════════════════════════════════════════════════════

func record(id grade.StudentID, exam float64) *grade.StudentRecord {
	return &grade.StudentRecord{
		StudentID: id, Section: "mpi", Year: 2025,
		Subjects: []grade.Subject{{
			ID: "analysis", Name: "Analysis", Coefficient: 1,
			Components: []grade.Component{{Kind: grade.KindExam, Value: exam, Weight: 1}},
		}},
	}
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	Meta      *ResponseMeta   `json:"meta"`
	RequestID string          `json:"request_id"`
}

func newTestServer(t *testing.T, cfg Config, health handlers.HealthChecker) (*Server, *metrics.Metrics) {
	t.Helper()

	o, err := orientation.NewEngine(orientation.Settings{
		Formulas: []orientation.Formula{
			{ID: "gl", Track: cohort.TrackGL, Version: 1, OverallWeight: 2, SubjectWeights: map[grade.SubjectID]float64{"analysis": 1}},
		},
	})
	require.NoError(t, err)

	grades := memory.NewGradeStore(record("a", 16), record("b", 14), record("c", 10))
	cohorts := memory.NewCohortStore([]cohort.Baseline{{Track: cohort.TrackGL, Year: 2024, Distribution: []cohort.CutoffPoint{
		{Score: 38, AdmittedCount: 1}, {Score: 42, AdmittedCount: 1}, {Score: 46, AdmittedCount: 2},
	}}}, nil)

	sources := &query.Sources{
		Grades:       grades,
		Cohorts:      cohorts,
		Orientation:  o,
		Standings:    memory.NewStandingsCache(),
		StandingsTTL: time.Minute,
		HistoryYears: []int{2024},
		Logger:       logger.Nop(),
	}
	m := metrics.New()

	srv := NewServer(cfg, Dependencies{
		Report:   query.NewGetOrientationReportHandler(sources),
		Simulate: query.NewSimulateHandler(sources, nil, m),
		Ranking:  query.NewGetSectionRankingHandler(sources),
		Health:   health,
		Metrics:  m,
		Logger:   logger.Nop(),
		Now:      func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) },
	})
	return srv, m
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0
	return cfg
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

// ══════════════════════════════════════════════════════════════════════════════
// SIMULATION
// ══════════════════════════════════════════════════════════════════════════════

func TestSimulate(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), nil)

	rec, env := do(t, srv.Handler(), http.MethodPost, "/api/v1/students/b/simulations",
		`{"year":2025,"overrides":[{"subject_id":"analysis","component_kind":"EXAM","value":17}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, env.Success)
	assert.NotEmpty(t, env.RequestID)

	var res struct {
		StudentID string `json:"student_id"`
		Year      int    `json:"year"`
		Delta     struct {
			Overall float64 `json:"overall"`
			Rank    int     `json:"rank"`
		} `json:"delta"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "b", res.StudentID)
	assert.Equal(t, 2025, res.Year)
	assert.InDelta(t, 3, res.Delta.Overall, 1e-9)
	assert.Equal(t, -1, res.Delta.Rank)
}

func TestSimulate_DefaultsYear(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), nil)

	rec, env := do(t, srv.Handler(), http.MethodPost, "/api/v1/students/a/simulations", `{"overrides":[]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res struct {
		Year int `json:"year"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 2025, res.Year)
}

func TestSimulate_Errors(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), nil)

	tests := []struct {
		name   string
		target string
		body   string
		status int
		code   string
	}{
		{
			name:   "malformed json",
			target: "/api/v1/students/b/simulations",
			body:   `{"overrides":`,
			status: http.StatusBadRequest,
			code:   "invalid_json",
		},
		{
			name:   "unknown field",
			target: "/api/v1/students/b/simulations",
			body:   `{"overides":[]}`,
			status: http.StatusBadRequest,
			code:   "invalid_json",
		},
		{
			name:   "value out of scale",
			target: "/api/v1/students/b/simulations",
			body:   `{"overrides":[{"subject_id":"analysis","component_kind":"EXAM","value":21}]}`,
			status: http.StatusBadRequest,
			code:   "validation_failed",
		},
		{
			name:   "unknown subject",
			target: "/api/v1/students/b/simulations",
			body:   `{"overrides":[{"subject_id":"physics","component_kind":"EXAM","value":12}]}`,
			status: http.StatusUnprocessableEntity,
			code:   "invalid_override",
		},
		{
			name:   "missing component",
			target: "/api/v1/students/b/simulations",
			body:   `{"overrides":[{"subject_id":"analysis","component_kind":"TP","value":12}]}`,
			status: http.StatusUnprocessableEntity,
			code:   "invalid_override",
		},
		{
			name:   "unknown student",
			target: "/api/v1/students/zz/simulations",
			body:   `{"overrides":[]}`,
			status: http.StatusNotFound,
			code:   "not_found",
		},
		{
			name:   "year out of range",
			target: "/api/v1/students/b/simulations",
			body:   `{"year":1800,"overrides":[]}`,
			status: http.StatusBadRequest,
			code:   "validation_failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, srv.Handler(), http.MethodPost, tt.target, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
			assert.False(t, env.Success)
		})
	}
}

func TestSimulate_ValidationFieldsUseJSONNames(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), nil)

	_, env := do(t, srv.Handler(), http.MethodPost, "/api/v1/students/b/simulations",
		`{"overrides":[{"subject_id":"analysis","component_kind":"QUIZ","value":12}]}`)
	require.NotNil(t, env.Error)
	assert.Contains(t, env.Error.Fields, "overrides[0].component_kind")
}

func TestSimulate_BodyTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBodyBytes = 16
	srv, _ := newTestServer(t, cfg, nil)

	rec, env := do(t, srv.Handler(), http.MethodPost, "/api/v1/students/b/simulations",
		`{"overrides":[{"subject_id":"analysis","component_kind":"EXAM","value":17}]}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "body_too_large", env.Error.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// REPORT & RANKING
// ══════════════════════════════════════════════════════════════════════════════

func TestGetReport(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), nil)

	rec, env := do(t, srv.Handler(), http.MethodGet, "/api/v1/students/a/report?year=2025", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var rep struct {
		StudentID string `json:"student_id"`
		Section   string `json:"section"`
		Position  struct {
			Rank int `json:"rank"`
		} `json:"position"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &rep))
	assert.Equal(t, "a", rep.StudentID)
	assert.Equal(t, "mpi", rep.Section)
	assert.Equal(t, 1, rep.Position.Rank)

	for _, target := range []string{"/api/v1/students/a/report?year=2024-2025", "/api/v1/students/a/report"} {
		rec, _ = do(t, srv.Handler(), http.MethodGet, target, "")
		assert.Equal(t, http.StatusOK, rec.Code, target)
	}
}

func TestGetReport_BadYear(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), nil)

	rec, env := do(t, srv.Handler(), http.MethodGet, "/api/v1/students/a/report?year=last", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "invalid_request", env.Error.Code)

	rec, _ = do(t, srv.Handler(), http.MethodGet, "/api/v1/students/a/report?year=2023-2025", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, srv.Handler(), http.MethodGet, "/api/v1/students/a/report?year=2019", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSectionRanking(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), nil)

	rec, env := do(t, srv.Handler(), http.MethodGet, "/api/v1/sections/mpi/ranking?page_size=2&viewer=c&around=1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res query.SectionRankingResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 3, res.Total)
	require.Len(t, res.Entries, 2)
	assert.Empty(t, res.Entries[0].StudentID)
	require.NotNil(t, res.Viewer)
	assert.Equal(t, grade.StudentID("c"), res.Viewer.StudentID)
	require.Len(t, res.Neighbors, 2)
	assert.True(t, res.Neighbors[1].IsViewer)

	require.NotNil(t, env.Meta)
	assert.Equal(t, 3, env.Meta.TotalCount)
	assert.True(t, env.Meta.HasMore)
}

// ══════════════════════════════════════════════════════════════════════════════
// INFRASTRUCTURE ROUTES
// ══════════════════════════════════════════════════════════════════════════════

func TestHealthAndReady(t *testing.T) {
	health := handlers.NewCompositeHealthChecker("test")
	health.AddCheck("postgres", true, func(context.Context) error { return errors.New("connection refused") })
	srv, _ := newTestServer(t, testConfig(), health)

	rec, _ := do(t, srv.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, env := do(t, srv.Handler(), http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotNil(t, env.Error)
	assert.Contains(t, env.Error.Message, "postgres")

	rec, _ = do(t, srv.Handler(), http.MethodGet, "/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), nil)

	do(t, srv.Handler(), http.MethodGet, "/api/v1/students/a/report?year=2025", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/api/v1/students/{id}/report"`)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerMinute = 2
	srv, _ := newTestServer(t, cfg, nil)

	for i := 0; i < 2; i++ {
		rec, _ := do(t, srv.Handler(), http.MethodGet, "/live", "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, env := do(t, srv.Handler(), http.MethodGet, "/live", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"), "two per minute refills one token every 30s")
	require.NotNil(t, env.Error)
	assert.Equal(t, "rate_limit_exceeded", env.Error.Code)
}

func TestUnknownRoute(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), nil)

	rec, env := do(t, srv.Handler(), http.MethodGet, "/api/v1/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "not_found", env.Error.Code)

	rec, _ = do(t, srv.Handler(), http.MethodGet, "/api/v1/students/a/simulations", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
