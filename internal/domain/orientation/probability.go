package orientation

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/gradehub/orientation-engine/internal/domain/cohort"
)

// Probability is an estimated chance of admission into a track.
// Known is false when no historical admissions were available.
type Probability struct {
	Track    cohort.Track `json:"track"`
	Value    float64      `json:"value"`
	Known    bool         `json:"known"`
	Years    []int        `json:"years,omitempty"`
	Admitted int          `json:"admitted"`
}

// EstimateAdmissionProbability returns the weighted empirical fraction of
// historically admitted scores that are at or below score. Each year's
// distribution is normalised, then years are combined with w.
func EstimateAdmissionProbability(track cohort.Track, score float64, baselines []cohort.Baseline, w cohort.Weighting) Probability {
	out := Probability{Track: track}
	if math.IsNaN(score) {
		return out
	}

	newest := 0
	for _, b := range baselines {
		if b.Admitted() > 0 && b.Year > newest {
			newest = b.Year
		}
	}

	type point struct{ score, weight float64 }
	points := make([]point, 0)
	for _, b := range baselines {
		admitted := b.Admitted()
		if admitted == 0 {
			continue
		}
		yw := w.YearWeight(b.Year, newest, admitted)
		if yw <= 0 {
			continue
		}
		out.Years = append(out.Years, b.Year)
		out.Admitted += admitted
		for _, p := range b.Distribution {
			if p.AdmittedCount <= 0 || math.IsNaN(p.Score) {
				continue
			}
			points = append(points, point{p.Score, yw * float64(p.AdmittedCount) / float64(admitted)})
		}
	}
	if len(points) == 0 {
		return out
	}

	sort.SliceStable(points, func(i, j int) bool { return points[i].score < points[j].score })
	xs := make([]float64, len(points))
	ws := make([]float64, len(points))
	for i, p := range points {
		xs[i], ws[i] = p.score, p.weight
	}
	sort.Ints(out.Years)

	out.Value = math.Max(0, math.Min(1, stat.CDF(score, stat.Empirical, xs, ws)))
	out.Known = true
	return out
}
