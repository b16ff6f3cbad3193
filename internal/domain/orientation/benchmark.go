package orientation

import (
	"sort"

	"github.com/gradehub/orientation-engine/internal/domain/average"
	"github.com/gradehub/orientation-engine/internal/domain/cohort"
	"github.com/gradehub/orientation-engine/internal/domain/grade"
)

// DefaultBenchmarkOverall is the overall average plugged into benchmark
// scores when none is configured.
const DefaultBenchmarkOverall = 10.0

// Benchmark is a track's primary formula evaluated on the historical
// subject means of students admitted to that track.
type Benchmark struct {
	Track     cohort.Track      `json:"track"`
	FormulaID string            `json:"formula_id"`
	Value     float64           `json:"value"`
	Partial   bool              `json:"partial"`
	Missing   []grade.SubjectID `json:"missing,omitempty"`

	// Ratio is the student's primary score divided by Value. Zero when
	// Value is not positive.
	Ratio float64 `json:"ratio"`
}

// BenchmarkOverall returns the overall average used by benchmark scores.
func (e *Engine) BenchmarkOverall() float64 {
	return e.benchmarkOverall
}

// Benchmarks scores every track that has historical means and compares it
// with the student's primary score in table. historical is keyed by track
// and holds combined subject means.
func (e *Engine) Benchmarks(table ScoreTable, historical map[cohort.Track]map[grade.SubjectID]float64) map[cohort.Track]Benchmark {
	primary := e.PrimaryScores(table)
	out := make(map[cohort.Track]Benchmark, len(historical))
	for track, means := range historical {
		if len(means) == 0 {
			continue
		}
		s, ok := primary[track]
		if !ok {
			continue
		}
		f, _ := e.PrimaryFormula(track)

		score := Evaluate(f, historicalReport(means, e.benchmarkOverall))
		b := Benchmark{
			Track:     track,
			FormulaID: f.ID,
			Value:     score.Value,
			Partial:   score.Partial,
			Missing:   score.Missing,
		}
		if b.Value > 0 {
			b.Ratio = s.Value / b.Value
		}
		out[track] = b
	}
	return out
}

// historicalReport turns subject means into a report of complete subjects.
func historicalReport(means map[grade.SubjectID]float64, overall float64) average.Report {
	rep := average.Report{
		Overall:  average.Overall{Value: overall, Defined: true},
		Subjects: make([]average.SubjectAverage, 0, len(means)),
	}
	for id, m := range means {
		rep.Subjects = append(rep.Subjects, average.SubjectAverage{SubjectID: id, Value: m, Coefficient: 1, Complete: true})
	}
	sort.Slice(rep.Subjects, func(i, j int) bool { return rep.Subjects[i].SubjectID < rep.Subjects[j].SubjectID })
	return rep
}
