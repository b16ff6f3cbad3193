// Package average computes weighted subject averages and the coefficient
// weighted overall average of a student record.
//
// Every function here is pure: the same record always yields the same
// report, and the record is never modified.
package average

import (
	"context"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/gradehub/orientation-engine/internal/domain/grade"
)

// SubjectAverage is the derived average of one subject.
// Complete is false when the subject has no weighted component, in which
// case Value is meaningless and the subject is excluded from the overall.
type SubjectAverage struct {
	SubjectID   grade.SubjectID `json:"subject_id"`
	Value       float64         `json:"value"`
	Coefficient float64         `json:"coefficient"`
	Complete    bool            `json:"complete"`
}

// Incomplete reports whether the subject has no usable data.
func (a SubjectAverage) Incomplete() bool {
	return !a.Complete
}

// Overall is the overall average of a record.
// Defined is false when every subject is incomplete.
type Overall struct {
	Value   float64 `json:"value"`
	Defined bool    `json:"defined"`
}

// Undefined is the overall average of a record without any complete subject.
var Undefined = Overall{}

// Report bundles the overall average with every subject average, in the
// record's subject order.
type Report struct {
	StudentID grade.StudentID  `json:"student_id"`
	Overall   Overall          `json:"overall"`
	Subjects  []SubjectAverage `json:"subjects"`
}

// Subject returns the average of the given subject, if the record has it.
func (r Report) Subject(id grade.SubjectID) (SubjectAverage, bool) {
	for _, s := range r.Subjects {
		if s.SubjectID == id {
			return s, true
		}
	}
	return SubjectAverage{}, false
}

// ComputeSubject returns Σ(value·weight)/Σ(weight) over recorded components.
func ComputeSubject(s grade.Subject) SubjectAverage {
	out := SubjectAverage{SubjectID: s.ID, Coefficient: s.Coefficient}

	values := make([]float64, 0, len(s.Components))
	weights := make([]float64, 0, len(s.Components))
	var sumW float64
	for _, c := range s.Components {
		if c.Pending {
			continue
		}
		values = append(values, c.Value)
		weights = append(weights, c.Weight)
		sumW += c.Weight
	}
	if sumW <= 0 {
		return out
	}

	out.Value = clamp(stat.Mean(values, weights))
	out.Complete = true
	return out
}

// ComputeOverall returns the coefficient weighted mean of complete subjects.
func ComputeOverall(subjects []SubjectAverage) Overall {
	values := make([]float64, 0, len(subjects))
	coefs := make([]float64, 0, len(subjects))
	for _, s := range subjects {
		if !s.Complete || s.Coefficient <= 0 {
			continue
		}
		values = append(values, s.Value)
		coefs = append(coefs, s.Coefficient)
	}
	if len(values) == 0 {
		return Undefined
	}
	return Overall{Value: clamp(stat.Mean(values, coefs)), Defined: true}
}

// Compute derives every subject average and the overall average of rec.
func Compute(rec *grade.StudentRecord) Report {
	if rec == nil {
		return Report{}
	}
	subjects := make([]SubjectAverage, len(rec.Subjects))
	for i, s := range rec.Subjects {
		subjects[i] = ComputeSubject(s)
	}
	return Report{
		StudentID: rec.StudentID,
		Overall:   ComputeOverall(subjects),
		Subjects:  subjects,
	}
}

// ComputeAll computes the reports of many records in parallel. Output order
// matches input order. workers <= 0 means GOMAXPROCS.
func ComputeAll(ctx context.Context, records []*grade.StudentRecord, workers int) ([]Report, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	reports := make([]Report, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, rec := range records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			reports[i] = Compute(rec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// clamp keeps float rounding from pushing an average out of the grade scale.
func clamp(v float64) float64 {
	return math.Max(grade.MinGrade, math.Min(grade.MaxGrade, v))
}
