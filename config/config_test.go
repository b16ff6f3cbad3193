package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradehub/orientation-engine/internal/domain/cohort"
	"github.com/gradehub/orientation-engine/internal/domain/grade"
	"github.com/gradehub/orientation-engine/internal/domain/orientation"
	"github.com/gradehub/orientation-engine/internal/domain/shared"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("HTTP_PORT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "@every 10m", cfg.Scheduler.RebuildRankingsSpec)
	assert.Equal(t, []string{"*"}, cfg.HTTP.AllowedOrigins)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("SCHEDULER_SECTIONS", "mpi, ,cba")
	t.Setenv("SCHEDULER_YEAR", "2024")
	t.Setenv("SIMULATION_CACHE_TTL", "90s")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "grades")
	t.Setenv("DB_PASSWORD", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.HTTP.Port)
	assert.Equal(t, []string{"mpi", "cba"}, cfg.Scheduler.Sections)
	assert.Equal(t, 90*time.Second, cfg.HTTP.SimulationCacheTTL)
	assert.Equal(t, "postgres://grades:secret@db:5432/postgres?sslmode=require", cfg.Database.URL)
	assert.Equal(t, 2024, cfg.SchedulerYear(time.Now()))
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		App:       AppConfig{Environment: EnvProduction, Location: time.UTC},
		HTTP:      HTTPConfig{Port: 70000},
		Scheduler: SchedulerConfig{Enabled: true},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required in production")
	assert.Contains(t, err.Error(), "HTTP_PORT must be 1-65535")
	assert.Contains(t, err.Error(), "SCHEDULER_RANKINGS_SPEC is required")
	assert.Contains(t, err.Error(), "ACADEMIC_YEAR_START_MONTH must be 1-12")
}

func TestSchedulerYear_DefaultsToNow(t *testing.T) {
	cfg := &Config{App: AppConfig{Location: time.UTC}}
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 2025, cfg.SchedulerYear(now))

	// A new academic year starts in September.
	cfg.App.AcademicYearStart = time.September
	assert.Equal(t, 2026, cfg.SchedulerYear(time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)))

	cfg.Scheduler.Year = 2023
	assert.Equal(t, 2023, cfg.SchedulerYear(now))
}

func TestLoadEngine_DefaultsAndExample(t *testing.T) {
	def, err := LoadEngine("")
	require.NoError(t, err)

	example, err := LoadEngine("engine.example.yaml")
	require.NoError(t, err)

	assert.Equal(t, def.TieBreak(), example.TieBreak())
	assert.Equal(t, []int{2022, 2023}, example.HistoryYears())
	assert.Equal(t, cohort.AllTracks, example.Orientation.Tracks())

	gl, ok := example.Orientation.PrimaryFormula(cohort.TrackGL)
	require.True(t, ok)
	assert.Equal(t, 2.0, gl.OverallWeight)
	assert.InDelta(t, 2.0/3.0, gl.SubjectWeights["algo1"], 1e-12)
	assert.Equal(t, 10.0, example.Orientation.BenchmarkOverall())
}

func TestParseEngine(t *testing.T) {
	t.Run("minimal", func(t *testing.T) {
		e, err := ParseEngine([]byte(`
weighting: {scheme: recency, decay: 0.8}
tie_break: [math]
formulas:
  - {id: imi, track: IMI, overall_weight: 1}
`))
		require.NoError(t, err)
		assert.Equal(t, cohort.WeightingRecency, e.Orientation.Weighting().Scheme)
		assert.Equal(t, []grade.SubjectID{"math"}, e.TieBreak())
		assert.Equal(t, orientation.DefaultBenchmarkOverall, e.Orientation.BenchmarkOverall())
	})

	t.Run("weighting defaults to equal", func(t *testing.T) {
		e, err := ParseEngine([]byte("formulas:\n  - {id: imi, track: IMI, overall_weight: 1}\n"))
		require.NoError(t, err)
		assert.Equal(t, cohort.WeightingEqual, e.Orientation.Weighting().Scheme)
	})

	tests := []struct {
		name string
		yaml string
		kind error
	}{
		{name: "negative weight", yaml: "formulas:\n  - {id: gl, track: GL, subject_weights: {math: -1}}\n", kind: shared.ErrMalformedFormula},
		{name: "unknown track", yaml: "formulas:\n  - {id: bio, track: BIO, overall_weight: 1}\n", kind: shared.ErrMalformedFormula},
		{name: "no formulas", yaml: "tie_break: [math]\n", kind: shared.ErrValidation},
		{name: "bad scheme", yaml: "weighting: {scheme: median}\nformulas:\n  - {id: imi, track: IMI, overall_weight: 1}\n", kind: shared.ErrValidation},
		{name: "unknown field", yaml: "formulaz: []\n", kind: shared.ErrInvalidFormat},
		{name: "bad benchmark overall", yaml: "benchmark_overall: 25\nformulas:\n  - {id: imi, track: IMI, overall_weight: 1}\n", kind: shared.ErrValidation},
		{name: "bad quota", yaml: "formulas:\n  - {id: imi, track: IMI, overall_weight: 1}\neligibility:\n  - {track: GL, quota: 2}\n", kind: shared.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEngine([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestEngine_Digest(t *testing.T) {
	a, err := BuildEngine(DefaultEngineFile())
	require.NoError(t, err)
	b, err := BuildEngine(DefaultEngineFile())
	require.NoError(t, err)
	assert.Len(t, a.Digest(), 16)
	assert.Equal(t, a.Digest(), b.Digest())

	file := DefaultEngineFile()
	file.Formulas[0].SubjectWeights[orientation.SubjectAlgo1] = 1
	changed, err := BuildEngine(file)
	require.NoError(t, err)
	assert.NotEqual(t, a.Digest(), changed.Digest())

	file = DefaultEngineFile()
	file.Weighting = cohort.Weighting{Scheme: cohort.WeightingRecency, Decay: 0.5}
	reweighted, err := BuildEngine(file)
	require.NoError(t, err)
	assert.NotEqual(t, a.Digest(), reweighted.Digest())
}
