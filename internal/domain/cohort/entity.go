// Package cohort models historical admission data: per-track cutoff
// distributions and per-track subject means of previous intakes, plus the
// scheme used to combine several years of them.
package cohort

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/gradehub/orientation-engine/internal/domain/grade"
	"github.com/gradehub/orientation-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRACKS
// ══════════════════════════════════════════════════════════════════════════════

// Track is a specialization students may be oriented into.
type Track string

const (
	TrackGL  Track = "GL"
	TrackRT  Track = "RT"
	TrackIIA Track = "IIA"
	TrackIMI Track = "IMI"
)

// AllTracks lists the tracks in display order.
var AllTracks = []Track{TrackGL, TrackRT, TrackIIA, TrackIMI}

// IsValid reports whether t is a known track.
func (t Track) IsValid() bool {
	switch t {
	case TrackGL, TrackRT, TrackIIA, TrackIMI:
		return true
	default:
		return false
	}
}

// ParseTrack parses a track label case-insensitively.
func ParseTrack(s string) (Track, error) {
	t := Track(strings.ToUpper(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", shared.WrapError("cohort", "ParseTrack", shared.ErrInvalidInput,
			fmt.Sprintf("unknown track %q", s), shared.ErrUnknownTrack)
	}
	return t, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// BASELINES
// ══════════════════════════════════════════════════════════════════════════════

// CutoffPoint is one step of an admission distribution: AdmittedCount
// students were admitted with exactly Score.
type CutoffPoint struct {
	Score         float64 `json:"score" yaml:"score" msgpack:"score"`
	AdmittedCount int     `json:"admitted_count" yaml:"admitted_count" msgpack:"admitted_count"`
}

// Baseline is the admission distribution of one track for one year.
type Baseline struct {
	Track        Track         `json:"track" yaml:"track" msgpack:"track"`
	Year         int           `json:"year" yaml:"year" msgpack:"year"`
	Distribution []CutoffPoint `json:"distribution" yaml:"distribution" msgpack:"distribution"`
}

// Admitted returns the total number of admitted students.
func (b Baseline) Admitted() int {
	n := 0
	for _, p := range b.Distribution {
		if p.AdmittedCount > 0 {
			n += p.AdmittedCount
		}
	}
	return n
}

// Sorted returns the distribution ordered by ascending score.
func (b Baseline) Sorted() []CutoffPoint {
	out := append([]CutoffPoint(nil), b.Distribution...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score < out[j].Score })
	return out
}

// SubjectMean is the mean grade of a subject among students admitted to a
// track in a given year.
type SubjectMean struct {
	Track      Track           `json:"track" yaml:"track"`
	Year       int             `json:"year" yaml:"year"`
	SubjectID  grade.SubjectID `json:"subject_id" yaml:"subject_id"`
	Mean       float64         `json:"mean" yaml:"mean"`
	Enrollment int             `json:"enrollment" yaml:"enrollment"`
}

// ══════════════════════════════════════════════════════════════════════════════
// YEAR WEIGHTING
// ══════════════════════════════════════════════════════════════════════════════

// WeightingScheme decides how much each historical year counts.
type WeightingScheme string

const (
	// WeightingEqual gives every year the same weight.
	WeightingEqual WeightingScheme = "equal"
	// WeightingRecency multiplies a year's weight by Decay per year of age.
	WeightingRecency WeightingScheme = "recency"
	// WeightingEnrollment weights a year by its number of admitted students.
	WeightingEnrollment WeightingScheme = "enrollment"
)

// IsValid reports whether s is a known scheme.
func (s WeightingScheme) IsValid() bool {
	switch s {
	case WeightingEqual, WeightingRecency, WeightingEnrollment:
		return true
	default:
		return false
	}
}

// Weighting is an immutable year weighting configuration.
type Weighting struct {
	Scheme WeightingScheme `json:"scheme" yaml:"scheme" validate:"omitempty,oneof=equal recency enrollment"`
	// Decay is the per-year factor for WeightingRecency, in (0, 1].
	Decay float64 `json:"decay" yaml:"decay" validate:"omitempty,gt=0,lte=1"`
}

// DefaultWeighting weighs every year equally.
func DefaultWeighting() Weighting {
	return Weighting{Scheme: WeightingEqual, Decay: 0.5}
}

// YearWeight returns the weight of a year given the newest year in the set
// and the year's enrollment. Non-positive results mean "skip".
func (w Weighting) YearWeight(year, newest, enrollment int) float64 {
	switch w.Scheme {
	case WeightingRecency:
		decay := w.Decay
		if decay <= 0 || decay > 1 {
			decay = 0.5
		}
		return math.Pow(decay, float64(newest-year))
	case WeightingEnrollment:
		return float64(enrollment)
	default:
		return 1
	}
}

// CombineMeans merges per-year subject means into one value per subject
// using the year weighting. Subjects without any positive weight are absent.
func (w Weighting) CombineMeans(means []SubjectMean) map[grade.SubjectID]float64 {
	newest := 0
	for _, m := range means {
		if m.Year > newest {
			newest = m.Year
		}
	}

	sums := make(map[grade.SubjectID]float64)
	weights := make(map[grade.SubjectID]float64)
	for _, m := range means {
		yw := w.YearWeight(m.Year, newest, m.Enrollment)
		if yw <= 0 || math.IsNaN(m.Mean) {
			continue
		}
		sums[m.SubjectID] += yw * m.Mean
		weights[m.SubjectID] += yw
	}

	out := make(map[grade.SubjectID]float64, len(sums))
	for id, s := range sums {
		out[id] = s / weights[id]
	}
	return out
}
