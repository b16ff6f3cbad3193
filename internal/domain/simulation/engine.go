// Package simulation answers "what if" questions: it applies grade
// overrides to a private copy of a student record, reruns the average,
// ranking and orientation engines, and reports signed deltas against the
// real record.
package simulation

import (
	"context"

	"github.com/gradehub/orientation-engine/internal/domain/average"
	"github.com/gradehub/orientation-engine/internal/domain/cohort"
	"github.com/gradehub/orientation-engine/internal/domain/grade"
	"github.com/gradehub/orientation-engine/internal/domain/orientation"
	"github.com/gradehub/orientation-engine/internal/domain/ranking"
	"github.com/gradehub/orientation-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// INPUT / OUTPUT
// ══════════════════════════════════════════════════════════════════════════════

// Input is everything a simulation reads. It is never modified.
type Input struct {
	Record *grade.StudentRecord

	// Peers are the section's average reports. The student's own entry, if
	// present, is replaced by the evaluated record.
	Peers []average.Report

	// Baselines holds historical admission baselines by track.
	Baselines map[cohort.Track][]cohort.Baseline
}

// Outcome is the full derived state of one record.
type Outcome struct {
	Averages       average.Report                           `json:"averages"`
	Position       ranking.Position                         `json:"position"`
	Scores         orientation.ScoreTable                   `json:"scores"`
	Probabilities  map[cohort.Track]orientation.Probability `json:"probabilities"`
	TrackPositions map[cohort.Track]ranking.Position        `json:"track_positions"`
	Eligibility    map[cohort.Track]orientation.Eligibility `json:"eligibility"`
}

// ScoreDelta is the signed change of one formula score.
type ScoreDelta struct {
	Track     cohort.Track `json:"track"`
	FormulaID string       `json:"formula_id"`
	Delta     float64      `json:"delta"`
}

// Delta holds simulated minus real values. A *Defined flag is false when
// either side had no value.
type Delta struct {
	Overall        float64 `json:"overall"`
	OverallDefined bool    `json:"overall_defined"`

	Rank        ranking.RankDelta `json:"rank"`
	Percentile  float64           `json:"percentile"`
	RankDefined bool              `json:"rank_defined"`

	Subjects      map[grade.SubjectID]float64 `json:"subjects,omitempty"`
	Scores        []ScoreDelta                `json:"scores"`
	Probabilities map[cohort.Track]float64    `json:"probabilities,omitempty"`
}

// Result is the answer to one simulation request.
type Result struct {
	Overrides []Override `json:"overrides"`
	Real      Outcome    `json:"real"`
	Simulated Outcome    `json:"simulated"`
	Delta     Delta      `json:"delta"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// Engine runs simulations. It holds only immutable configuration and is
// safe for concurrent use.
type Engine struct {
	orientation *orientation.Engine
}

// NewEngine returns a simulation engine over an orientation engine.
func NewEngine(o *orientation.Engine) *Engine {
	return &Engine{orientation: o}
}

// Evaluate derives the full outcome of rec against the given peers and
// baselines.
func (e *Engine) Evaluate(rec *grade.StudentRecord, peers []average.Report, baselines map[cohort.Track][]cohort.Baseline) Outcome {
	rep := average.Compute(rec)
	scores := e.orientation.Score(rep)
	trackPositions := e.orientation.TrackPositions(rec.StudentID, scores, peers)

	return Outcome{
		Averages:       rep,
		Position:       ranking.ComputeInSection(rec.StudentID, rep.Overall, peers),
		Scores:         scores,
		Probabilities:  e.orientation.Probabilities(scores, baselines),
		TrackPositions: trackPositions,
		Eligibility:    e.orientation.Eligibility(rep.Overall, trackPositions),
	}
}

// Simulate applies overrides to a clone of in.Record and compares the
// result with the real record. An override naming an unknown subject or
// component kind fails the whole call with shared.ErrInvalidOverride.
func (e *Engine) Simulate(ctx context.Context, in Input, overrides []Override) (*Result, error) {
	if in.Record == nil {
		return nil, shared.NewDomainError("simulation", "Simulate", shared.ErrInvalidInput, "record is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	clone := in.Record.Clone()
	if err := ApplyOverrides(clone, overrides); err != nil {
		return nil, err
	}

	real := e.Evaluate(in.Record, in.Peers, in.Baselines)
	simulated := e.Evaluate(clone, in.Peers, in.Baselines)

	return &Result{
		Overrides: append([]Override(nil), overrides...),
		Real:      real,
		Simulated: simulated,
		Delta:     Diff(real, simulated),
	}, nil
}

// Diff computes simulated minus real for every comparable value.
func Diff(real, simulated Outcome) Delta {
	d := Delta{
		Subjects:      make(map[grade.SubjectID]float64),
		Probabilities: make(map[cohort.Track]float64),
	}

	if real.Averages.Overall.Defined && simulated.Averages.Overall.Defined {
		d.Overall = simulated.Averages.Overall.Value - real.Averages.Overall.Value
		d.OverallDefined = true
	}

	if rd, ok := ranking.Delta(real.Position, simulated.Position); ok {
		d.Rank = rd
		d.Percentile = simulated.Position.Percentile - real.Position.Percentile
		d.RankDefined = true
	}

	for _, s := range simulated.Averages.Subjects {
		r, ok := real.Averages.Subject(s.SubjectID)
		if ok && r.Complete && s.Complete {
			d.Subjects[s.SubjectID] = s.Value - r.Value
		}
	}

	d.Scores = make([]ScoreDelta, 0, len(simulated.Scores))
	for _, s := range simulated.Scores {
		r, ok := real.Scores.Get(s.Key())
		if !ok {
			continue
		}
		d.Scores = append(d.Scores, ScoreDelta{Track: s.Track, FormulaID: s.FormulaID, Delta: s.Value - r.Value})
	}

	for track, sp := range simulated.Probabilities {
		if rp, ok := real.Probabilities[track]; ok && rp.Known && sp.Known {
			d.Probabilities[track] = sp.Value - rp.Value
		}
	}
	return d
}
