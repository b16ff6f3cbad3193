package orientation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradehub/orientation-engine/internal/domain/average"
	"github.com/gradehub/orientation-engine/internal/domain/cohort"
	"github.com/gradehub/orientation-engine/internal/domain/grade"
	"github.com/gradehub/orientation-engine/internal/domain/ranking"
	"github.com/gradehub/orientation-engine/internal/domain/shared"
)

func report(overall float64, subjects map[grade.SubjectID]float64) average.Report {
	rep := average.Report{StudentID: "me", Overall: average.Overall{Value: overall, Defined: true}}
	for id, v := range subjects {
		rep.Subjects = append(rep.Subjects, average.SubjectAverage{SubjectID: id, Value: v, Coefficient: 1, Complete: true})
	}
	return rep
}

func TestEvaluate_WeightedSum(t *testing.T) {
	f := Formula{ID: "f", Track: cohort.TrackGL, SubjectWeights: map[grade.SubjectID]float64{"a": 2, "b": 1}}

	s := Evaluate(f, report(12, map[grade.SubjectID]float64{"a": 14, "b": 10}))
	assert.InDelta(t, 38.0, s.Value, 1e-9)
	assert.False(t, s.Partial)
	assert.Equal(t, ScoreKey{Track: cohort.TrackGL, FormulaID: "f"}, s.Key())
}

func TestEvaluate_MissingSubjectIsPartial(t *testing.T) {
	f := Formula{ID: "f", Track: cohort.TrackGL, SubjectWeights: map[grade.SubjectID]float64{"a": 2, "b": 1}}

	rep := report(12, map[grade.SubjectID]float64{"a": 14})
	rep.Subjects = append(rep.Subjects, average.SubjectAverage{SubjectID: "c"})
	s := Evaluate(f, rep)

	assert.InDelta(t, 28.0, s.Value, 1e-9)
	assert.True(t, s.Partial)
	assert.Equal(t, []grade.SubjectID{"b"}, s.Missing)
}

func TestEvaluate_OverallTerm(t *testing.T) {
	f := Formula{ID: "imi", Track: cohort.TrackIMI, OverallWeight: 1}

	assert.InDelta(t, 11.5, Evaluate(f, report(11.5, nil)).Value, 1e-9)

	undef := Evaluate(f, average.Report{})
	assert.Equal(t, 0.0, undef.Value)
	assert.True(t, undef.Partial)
	assert.True(t, undef.OverallMissing)
}

func TestFormula_Validate(t *testing.T) {
	tests := []struct {
		name string
		f    Formula
		ok   bool
	}{
		{name: "valid", f: Formula{ID: "x", Track: cohort.TrackRT, SubjectWeights: map[grade.SubjectID]float64{"a": 1}}, ok: true},
		{name: "overall only", f: Formula{ID: "x", Track: cohort.TrackIMI, OverallWeight: 1}, ok: true},
		{name: "empty id", f: Formula{Track: cohort.TrackRT, OverallWeight: 1}},
		{name: "unknown track", f: Formula{ID: "x", Track: "BIO", OverallWeight: 1}},
		{name: "negative weight", f: Formula{ID: "x", Track: cohort.TrackRT, SubjectWeights: map[grade.SubjectID]float64{"a": -1}}},
		{name: "nan weight", f: Formula{ID: "x", Track: cohort.TrackRT, SubjectWeights: map[grade.SubjectID]float64{"a": math.NaN()}}},
		{name: "infinite overall", f: Formula{ID: "x", Track: cohort.TrackRT, OverallWeight: math.Inf(1)}},
		{name: "all zero", f: Formula{ID: "x", Track: cohort.TrackRT, SubjectWeights: map[grade.SubjectID]float64{"a": 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.f.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, shared.ErrMalformedFormula)
			assert.True(t, shared.IsValidation(err))
		})
	}
}

func TestNewEngine(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		e, err := NewEngine(DefaultSettings())
		require.NoError(t, err)
		assert.Equal(t, cohort.AllTracks, e.Tracks())
	})
	t.Run("rejects empty", func(t *testing.T) {
		_, err := NewEngine(Settings{})
		assert.ErrorIs(t, err, shared.ErrMalformedFormula)
	})
	t.Run("rejects duplicates", func(t *testing.T) {
		f := Formula{ID: "x", Track: cohort.TrackGL, OverallWeight: 1}
		_, err := NewEngine(Settings{Formulas: []Formula{f, f}})
		assert.ErrorIs(t, err, shared.ErrMalformedFormula)
	})
	t.Run("primary is highest version", func(t *testing.T) {
		e, err := NewEngine(Settings{Formulas: []Formula{
			{ID: "old", Track: cohort.TrackGL, Version: 1, OverallWeight: 1},
			{ID: "new", Track: cohort.TrackGL, Version: 2, OverallWeight: 2},
		}})
		require.NoError(t, err)
		f, ok := e.PrimaryFormula(cohort.TrackGL)
		require.True(t, ok)
		assert.Equal(t, "new", f.ID)
		assert.Equal(t, cohort.DefaultWeighting(), e.Weighting())
	})
	t.Run("formula weights are copied", func(t *testing.T) {
		weights := map[grade.SubjectID]float64{"a": 1}
		e, err := NewEngine(Settings{Formulas: []Formula{{ID: "x", Track: cohort.TrackGL, SubjectWeights: weights}}})
		require.NoError(t, err)
		weights["a"] = 100
		assert.Equal(t, 1.0, e.Formulas()[0].SubjectWeights["a"])
	})
}

func mpiReport(overall, each float64) average.Report {
	subjects := map[grade.SubjectID]float64{}
	for _, id := range []grade.SubjectID{
		SubjectAnalyse1, SubjectAnalyse2, SubjectAlgebre1, SubjectAlgebre2,
		SubjectAlgo1, SubjectAlgo2, SubjectProg1, SubjectProg2,
		SubjectSysLogique, SubjectElectronics, SubjectCircuits,
	} {
		subjects[id] = each
	}
	return report(overall, subjects)
}

func TestEngine_DefaultScores(t *testing.T) {
	e, err := NewEngine(DefaultSettings())
	require.NoError(t, err)

	table := e.Score(mpiReport(10, 10))
	require.Len(t, table, 4)

	want := map[cohort.Track]float64{
		cohort.TrackGL:  60,
		cohort.TrackRT:  50,
		cohort.TrackIIA: 60,
		cohort.TrackIMI: 10,
	}
	for track, s := range e.PrimaryScores(table) {
		assert.InDelta(t, want[track], s.Value, 1e-9, "track %s", track)
		assert.False(t, s.Partial)
	}

	gl, ok := table.Get(ScoreKey{Track: cohort.TrackGL, FormulaID: "gl-mpi"})
	require.True(t, ok)
	assert.InDelta(t, 60.0, gl.Value, 1e-9)
}

func baselines() []cohort.Baseline {
	return []cohort.Baseline{
		{Track: cohort.TrackGL, Year: 2022, Distribution: []cohort.CutoffPoint{{Score: 70, AdmittedCount: 1}, {Score: 50, AdmittedCount: 1}}},
		{Track: cohort.TrackGL, Year: 2023, Distribution: []cohort.CutoffPoint{{Score: 55, AdmittedCount: 1}, {Score: 60, AdmittedCount: 2}, {Score: 65, AdmittedCount: 1}}},
	}
}

func TestEstimateAdmissionProbability(t *testing.T) {
	single := baselines()[1:]

	tests := []struct {
		name  string
		score float64
		b     []cohort.Baseline
		w     cohort.Weighting
		want  float64
	}{
		{name: "single year", score: 60, b: single, w: cohort.DefaultWeighting(), want: 0.75},
		{name: "below every cutoff", score: 40, b: single, w: cohort.DefaultWeighting(), want: 0},
		{name: "above every cutoff", score: 90, b: single, w: cohort.DefaultWeighting(), want: 1},
		{name: "equal years", score: 60, b: baselines(), w: cohort.DefaultWeighting(), want: 0.625},
		{name: "enrollment years", score: 60, b: baselines(), w: cohort.Weighting{Scheme: cohort.WeightingEnrollment}, want: 4.0 / 6.0},
		{name: "recency years", score: 60, b: baselines(), w: cohort.Weighting{Scheme: cohort.WeightingRecency, Decay: 0.5}, want: 1.0 / 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := EstimateAdmissionProbability(cohort.TrackGL, tt.score, tt.b, tt.w)
			require.True(t, p.Known)
			assert.InDelta(t, tt.want, p.Value, 1e-9)
			assert.GreaterOrEqual(t, p.Value, 0.0)
			assert.LessOrEqual(t, p.Value, 1.0)
		})
	}
}

func TestEstimateAdmissionProbability_NoData(t *testing.T) {
	p := EstimateAdmissionProbability(cohort.TrackRT, 50, nil, cohort.DefaultWeighting())
	assert.False(t, p.Known)

	empty := []cohort.Baseline{{Track: cohort.TrackRT, Year: 2023}}
	p = EstimateAdmissionProbability(cohort.TrackRT, 50, empty, cohort.DefaultWeighting())
	assert.False(t, p.Known)
	assert.Empty(t, p.Years)
}

func TestEstimateAdmissionProbability_Years(t *testing.T) {
	p := EstimateAdmissionProbability(cohort.TrackGL, 60, baselines(), cohort.DefaultWeighting())
	assert.Equal(t, []int{2022, 2023}, p.Years)
	assert.Equal(t, 6, p.Admitted)
}

func pos(rank, peers int) ranking.Position {
	return ranking.Position{Status: ranking.StatusRanked, Rank: ranking.Rank(rank), Percentile: float64(rank) / float64(peers), PeerCount: peers}
}

func TestEvaluateEligibility(t *testing.T) {
	rules := DefaultSettings().Eligibility
	overall := average.Overall{Value: 12, Defined: true}

	t.Run("quota and inheritance", func(t *testing.T) {
		got := EvaluateEligibility(rules, overall, map[cohort.Track]ranking.Position{
			cohort.TrackGL:  pos(2, 8),
			cohort.TrackRT:  pos(5, 8),
			cohort.TrackIIA: pos(6, 8),
			cohort.TrackIMI: pos(7, 8),
		})
		assert.Equal(t, Eligible, got[cohort.TrackGL].Status)
		assert.Equal(t, 2, got[cohort.TrackGL].QuotaSize)
		assert.Equal(t, NotEligible, got[cohort.TrackRT].Status)
		assert.Equal(t, Eligible, got[cohort.TrackIIA].Status)
		assert.Equal(t, "eligible through GL", got[cohort.TrackIIA].Reason)
		assert.Equal(t, Eligible, got[cohort.TrackIMI].Status)
	})

	t.Run("strict gate", func(t *testing.T) {
		got := EvaluateEligibility(rules, average.Overall{Value: 10, Defined: true}, map[cohort.Track]ranking.Position{
			cohort.TrackGL: pos(1, 8),
		})
		assert.Equal(t, NotEligible, got[cohort.TrackGL].Status)
		assert.Equal(t, Eligible, got[cohort.TrackIMI].Status)
	})

	t.Run("undefined overall", func(t *testing.T) {
		got := EvaluateEligibility(rules, average.Undefined, nil)
		for _, track := range cohort.AllTracks {
			assert.Equal(t, Unknown, got[track].Status)
		}
	})

	t.Run("no ranking", func(t *testing.T) {
		got := EvaluateEligibility(rules, overall, nil)
		assert.Equal(t, Unknown, got[cohort.TrackGL].Status)
		assert.Equal(t, Eligible, got[cohort.TrackIMI].Status)
	})
}

func TestQuotaSize(t *testing.T) {
	assert.Equal(t, 3, quotaSize(0.5, 6))
	assert.Equal(t, 2, quotaSize(0.25, 5))
	assert.Equal(t, 1, quotaSize(0.25, 1))
}

func TestEngine_TrackPositions(t *testing.T) {
	e, err := NewEngine(Settings{Formulas: []Formula{{ID: "imi", Track: cohort.TrackIMI, OverallWeight: 1}}})
	require.NoError(t, err)

	peers := []average.Report{
		{StudentID: "a", Overall: average.Overall{Value: 15, Defined: true}},
		{StudentID: "me", Overall: average.Overall{Value: 8, Defined: true}},
		{StudentID: "b", Overall: average.Overall{Value: 11, Defined: true}},
		{StudentID: "c"},
	}
	own := e.Score(report(12, nil))

	got := e.TrackPositions("me", own, peers)
	require.Contains(t, got, cohort.TrackIMI)
	assert.Equal(t, ranking.Rank(2), got[cohort.TrackIMI].Rank)
	assert.Equal(t, 3, got[cohort.TrackIMI].PeerCount)
}

func TestEngine_TrackPositions_GatedPool(t *testing.T) {
	rule := EligibilityRule{Track: cohort.TrackGL, MinOverall: 10, Strict: true, Quota: 0.25}
	e, err := NewEngine(Settings{
		Formulas:    []Formula{{ID: "gl", Track: cohort.TrackGL, OverallWeight: 1}},
		Eligibility: []EligibilityRule{rule},
	})
	require.NoError(t, err)

	var peers []average.Report
	for i, v := range []float64{17, 16, 14, 12, 10, 8, 7, 6, 5} {
		peers = append(peers, average.Report{
			StudentID: grade.StudentID(rune('a' + i)),
			Overall:   average.Overall{Value: v, Defined: true},
		})
	}
	overall := average.Overall{Value: 15, Defined: true}
	own := e.Score(report(15, nil))

	positions := e.TrackPositions("me", own, peers)
	gl := positions[cohort.TrackGL]
	assert.Equal(t, ranking.Rank(3), gl.Rank)
	assert.Equal(t, 5, gl.PeerCount, "peers at or below the strict gate do not compete")

	got := e.Eligibility(overall, positions)[cohort.TrackGL]
	assert.Equal(t, NotEligible, got.Status)
	assert.Equal(t, 2, got.QuotaSize)
}

func TestEligibilityRule_PassesGate(t *testing.T) {
	strict := EligibilityRule{MinOverall: 10, Strict: true}
	assert.False(t, strict.PassesGate(average.Overall{Value: 10, Defined: true}))
	assert.True(t, strict.PassesGate(average.Overall{Value: 10.01, Defined: true}))

	loose := EligibilityRule{MinOverall: 9}
	assert.True(t, loose.PassesGate(average.Overall{Value: 9, Defined: true}))
	assert.False(t, loose.PassesGate(average.Undefined))
}

func TestEngine_Benchmarks(t *testing.T) {
	e, err := NewEngine(Settings{Formulas: []Formula{
		{ID: "gl", Track: cohort.TrackGL, OverallWeight: 2, SubjectWeights: map[grade.SubjectID]float64{"a": 1, "b": 2}},
		{ID: "imi", Track: cohort.TrackIMI, OverallWeight: 1},
	}})
	require.NoError(t, err)
	assert.Equal(t, DefaultBenchmarkOverall, e.BenchmarkOverall())

	own := e.Score(report(14, map[grade.SubjectID]float64{"a": 12, "b": 15}))
	got := e.Benchmarks(own, map[cohort.Track]map[grade.SubjectID]float64{
		cohort.TrackGL:  {"a": 11, "b": 13},
		cohort.TrackRT:  {"a": 10},
		cohort.TrackIMI: {},
	})

	require.Len(t, got, 1, "tracks without a formula or without means are skipped")
	gl := got[cohort.TrackGL]
	// 2·10 + 11 + 2·13
	assert.InDelta(t, 57, gl.Value, 1e-9)
	// (2·14 + 12 + 2·15) / 57
	assert.InDelta(t, 70.0/57.0, gl.Ratio, 1e-9)
	assert.False(t, gl.Partial)

	got = e.Benchmarks(own, map[cohort.Track]map[grade.SubjectID]float64{cohort.TrackGL: {"a": 11}})
	assert.True(t, got[cohort.TrackGL].Partial)
	assert.Equal(t, []grade.SubjectID{"b"}, got[cohort.TrackGL].Missing)
}

func TestNewEngine_BenchmarkOverall(t *testing.T) {
	formulas := []Formula{{ID: "imi", Track: cohort.TrackIMI, OverallWeight: 1}}

	e, err := NewEngine(Settings{Formulas: formulas, BenchmarkOverall: 12})
	require.NoError(t, err)
	assert.Equal(t, 12.0, e.BenchmarkOverall())

	_, err = NewEngine(Settings{Formulas: formulas, BenchmarkOverall: 21})
	assert.ErrorIs(t, err, shared.ErrValueOutOfRange)
	_, err = NewEngine(Settings{Formulas: formulas, BenchmarkOverall: math.NaN()})
	assert.Error(t, err)
}
