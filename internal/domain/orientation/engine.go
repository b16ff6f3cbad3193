// Package orientation scores a student's record against the configured
// track formulas, estimates admission probabilities from historical
// baselines and evaluates track eligibility.
//
// The engine is built once from Settings and is safe for concurrent use:
// nothing in it changes after NewEngine returns.
package orientation

import (
	"fmt"

	"github.com/gradehub/orientation-engine/internal/domain/average"
	"github.com/gradehub/orientation-engine/internal/domain/cohort"
	"github.com/gradehub/orientation-engine/internal/domain/grade"
	"github.com/gradehub/orientation-engine/internal/domain/ranking"
	"github.com/gradehub/orientation-engine/internal/domain/shared"
)

// Settings is the orientation part of the engine configuration.
type Settings struct {
	Formulas    []Formula
	Weighting   cohort.Weighting
	Eligibility []EligibilityRule

	// BenchmarkOverall is the overall average used for benchmark scores.
	// Zero selects DefaultBenchmarkOverall.
	BenchmarkOverall float64
}

// Engine evaluates orientation formulas.
type Engine struct {
	formulas         []Formula
	primary          map[cohort.Track]int
	weighting        cohort.Weighting
	eligibility      []EligibilityRule
	benchmarkOverall float64
}

// NewEngine validates settings and returns an immutable engine.
func NewEngine(s Settings) (*Engine, error) {
	if len(s.Formulas) == 0 {
		return nil, shared.WrapError("orientation", "NewEngine", shared.ErrValidation,
			"no formulas configured", shared.ErrMalformedFormula)
	}

	if !(s.BenchmarkOverall >= 0 && s.BenchmarkOverall <= grade.MaxGrade) {
		return nil, shared.WrapError("orientation", "NewEngine", shared.ErrValueOutOfRange,
			fmt.Sprintf("benchmark overall %v outside [0,20]", s.BenchmarkOverall), nil)
	}

	e := &Engine{
		formulas:         make([]Formula, len(s.Formulas)),
		primary:          make(map[cohort.Track]int),
		weighting:        s.Weighting,
		eligibility:      append([]EligibilityRule(nil), s.Eligibility...),
		benchmarkOverall: s.BenchmarkOverall,
	}
	if !e.weighting.Scheme.IsValid() {
		e.weighting = cohort.DefaultWeighting()
	}
	if e.benchmarkOverall == 0 {
		e.benchmarkOverall = DefaultBenchmarkOverall
	}

	seen := make(map[ScoreKey]struct{}, len(s.Formulas))
	for i, f := range s.Formulas {
		if err := f.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[f.Key()]; dup {
			return nil, shared.WrapError("orientation", "NewEngine", shared.ErrValidation,
				fmt.Sprintf("duplicate formula %s/%s", f.Track, f.ID), shared.ErrMalformedFormula)
		}
		seen[f.Key()] = struct{}{}

		weights := make(map[grade.SubjectID]float64, len(f.SubjectWeights))
		for id, w := range f.SubjectWeights {
			weights[id] = w
		}
		f.SubjectWeights = weights
		e.formulas[i] = f

		// The highest version is the track's primary formula; the first
		// listed wins ties.
		if p, ok := e.primary[f.Track]; !ok || f.Version > e.formulas[p].Version {
			e.primary[f.Track] = i
		}
	}

	for _, r := range e.eligibility {
		if !r.Track.IsValid() {
			return nil, shared.WrapError("orientation", "NewEngine", shared.ErrInvalidInput,
				fmt.Sprintf("eligibility rule for unknown track %q", r.Track), shared.ErrUnknownTrack)
		}
	}
	return e, nil
}

// Formulas returns a copy of the configured formulas.
func (e *Engine) Formulas() []Formula {
	return append([]Formula(nil), e.formulas...)
}

// Weighting returns the year weighting scheme.
func (e *Engine) Weighting() cohort.Weighting {
	return e.weighting
}

// Tracks returns the tracks that have at least one formula, in display order.
func (e *Engine) Tracks() []cohort.Track {
	out := make([]cohort.Track, 0, len(e.primary))
	for _, t := range cohort.AllTracks {
		if _, ok := e.primary[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// PrimaryFormula returns the formula used for a track's probability,
// ranking and eligibility.
func (e *Engine) PrimaryFormula(track cohort.Track) (Formula, bool) {
	i, ok := e.primary[track]
	if !ok {
		return Formula{}, false
	}
	return e.formulas[i], true
}

// Score evaluates every formula against rep.
func (e *Engine) Score(rep average.Report) ScoreTable {
	table := make(ScoreTable, len(e.formulas))
	for i, f := range e.formulas {
		table[i] = Evaluate(f, rep)
	}
	return table
}

// PrimaryScores picks each track's primary score out of a table.
func (e *Engine) PrimaryScores(table ScoreTable) map[cohort.Track]Score {
	out := make(map[cohort.Track]Score, len(e.primary))
	for track, i := range e.primary {
		if s, ok := table.Get(e.formulas[i].Key()); ok {
			out[track] = s
		}
	}
	return out
}

// Probabilities estimates admission probability for every track with a
// primary score. baselines is keyed by track.
func (e *Engine) Probabilities(table ScoreTable, baselines map[cohort.Track][]cohort.Baseline) map[cohort.Track]Probability {
	out := make(map[cohort.Track]Probability, len(e.primary))
	for track, s := range e.PrimaryScores(table) {
		out[track] = EstimateAdmissionProbability(track, s.Value, baselines[track], e.weighting)
	}
	return out
}

// TrackPositions ranks the student's primary track scores among section
// peers. Peers carrying the student's id are replaced by own. When a track
// has an eligibility rule, only peers passing its overall gate compete, so
// the quota is taken from that pool.
func (e *Engine) TrackPositions(id grade.StudentID, own ScoreTable, peers []average.Report) map[cohort.Track]ranking.Position {
	ownPrimary := e.PrimaryScores(own)
	out := make(map[cohort.Track]ranking.Position, len(ownPrimary))
	for track, s := range ownPrimary {
		f, _ := e.PrimaryFormula(track)
		rule, gated := e.rule(track)
		values := make([]float64, 0, len(peers)+1)
		for _, p := range peers {
			if p.StudentID == id || !p.Overall.Defined {
				continue
			}
			if gated && !rule.PassesGate(p.Overall) {
				continue
			}
			values = append(values, Evaluate(f, p).Value)
		}
		values = append(values, s.Value)
		out[track] = ranking.Compute(average.Overall{Value: s.Value, Defined: true}, values)
	}
	return out
}

func (e *Engine) rule(track cohort.Track) (EligibilityRule, bool) {
	for _, r := range e.eligibility {
		if r.Track == track {
			return r, true
		}
	}
	return EligibilityRule{}, false
}

// Eligibility evaluates the configured rules.
func (e *Engine) Eligibility(overall average.Overall, positions map[cohort.Track]ranking.Position) map[cohort.Track]Eligibility {
	return EvaluateEligibility(e.eligibility, overall, positions)
}

// HistoricalMeans combines per-year historical subject means with the
// engine's year weighting.
func (e *Engine) HistoricalMeans(means []cohort.SubjectMean) map[grade.SubjectID]float64 {
	return e.weighting.CombineMeans(means)
}
