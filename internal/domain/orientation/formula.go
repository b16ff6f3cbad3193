package orientation

import (
	"fmt"
	"math"
	"sort"

	"github.com/gradehub/orientation-engine/internal/domain/average"
	"github.com/gradehub/orientation-engine/internal/domain/cohort"
	"github.com/gradehub/orientation-engine/internal/domain/grade"
	"github.com/gradehub/orientation-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FORMULA
// ══════════════════════════════════════════════════════════════════════════════

// Formula is a declarative orientation score: a weighted sum of subject
// averages, optionally plus a weighted overall average term.
type Formula struct {
	ID      string       `json:"id" yaml:"id" validate:"required"`
	Track   cohort.Track `json:"track" yaml:"track" validate:"required,oneof=GL RT IIA IMI"`
	Version int          `json:"version" yaml:"version" validate:"gte=0"`

	// OverallWeight multiplies the overall average. Zero disables the term.
	OverallWeight float64 `json:"overall_weight,omitempty" yaml:"overall_weight"`

	SubjectWeights map[grade.SubjectID]float64 `json:"subject_weights" yaml:"subject_weights"`
}

// Key returns the score table key of the formula.
func (f Formula) Key() ScoreKey {
	return ScoreKey{Track: f.Track, FormulaID: f.ID}
}

// Validate rejects formulas the engine cannot evaluate: unknown track,
// missing id, non-finite or negative weights, or no term at all.
func (f Formula) Validate() error {
	fail := func(msg string) error {
		return shared.WrapError("orientation", "ValidateFormula", shared.ErrValidation,
			fmt.Sprintf("formula %q: %s", f.ID, msg), shared.ErrMalformedFormula)
	}

	if f.ID == "" {
		return fail("id is empty")
	}
	if !f.Track.IsValid() {
		return fail(fmt.Sprintf("unknown track %q", f.Track))
	}
	if !validWeight(f.OverallWeight) {
		return fail(fmt.Sprintf("invalid overall weight %v", f.OverallWeight))
	}

	terms := 0
	if f.OverallWeight > 0 {
		terms++
	}
	for id, w := range f.SubjectWeights {
		if id == "" {
			return fail("empty subject id")
		}
		if !validWeight(w) {
			return fail(fmt.Sprintf("invalid weight %v for subject %s", w, id))
		}
		if w > 0 {
			terms++
		}
	}
	if terms == 0 {
		return fail("no positive weight")
	}
	return nil
}

func validWeight(w float64) bool {
	return !math.IsNaN(w) && !math.IsInf(w, 0) && w >= 0
}

// subjectIDs returns the formula subjects in a fixed order so that float
// summation is reproducible.
func (f Formula) subjectIDs() []grade.SubjectID {
	ids := make([]grade.SubjectID, 0, len(f.SubjectWeights))
	for id := range f.SubjectWeights {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ══════════════════════════════════════════════════════════════════════════════
// SCORE
// ══════════════════════════════════════════════════════════════════════════════

// ScoreKey identifies a cell of the score table.
type ScoreKey struct {
	Track     cohort.Track `json:"track"`
	FormulaID string       `json:"formula_id"`
}

// Score is the result of evaluating one formula.
// Partial is set when a formula term had no data and contributed zero.
type Score struct {
	Track     cohort.Track      `json:"track"`
	FormulaID string            `json:"formula_id"`
	Version   int               `json:"version"`
	Value     float64           `json:"value"`
	Partial   bool              `json:"partial"`
	Missing   []grade.SubjectID `json:"missing,omitempty"`

	// OverallMissing is set when the formula uses the overall average and
	// the overall average is undefined.
	OverallMissing bool `json:"overall_missing,omitempty"`
}

// Key returns the score table key.
func (s Score) Key() ScoreKey {
	return ScoreKey{Track: s.Track, FormulaID: s.FormulaID}
}

// Evaluate applies f to an average report.
func Evaluate(f Formula, rep average.Report) Score {
	out := Score{Track: f.Track, FormulaID: f.ID, Version: f.Version}

	if f.OverallWeight > 0 {
		if rep.Overall.Defined {
			out.Value += f.OverallWeight * rep.Overall.Value
		} else {
			out.Partial = true
			out.OverallMissing = true
		}
	}

	for _, id := range f.subjectIDs() {
		w := f.SubjectWeights[id]
		sa, ok := rep.Subject(id)
		if !ok || !sa.Complete {
			out.Partial = true
			out.Missing = append(out.Missing, id)
			continue
		}
		out.Value += w * sa.Value
	}
	return out
}

// ScoreTable is the set of scores of every configured formula, in formula
// order.
type ScoreTable []Score

// Get returns the score stored under key.
func (t ScoreTable) Get(key ScoreKey) (Score, bool) {
	for _, s := range t {
		if s.Key() == key {
			return s, true
		}
	}
	return Score{}, false
}
