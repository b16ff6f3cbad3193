package orientation

import (
	"fmt"
	"math"

	"github.com/gradehub/orientation-engine/internal/domain/average"
	"github.com/gradehub/orientation-engine/internal/domain/cohort"
	"github.com/gradehub/orientation-engine/internal/domain/ranking"
)

// EligibilityRule gates a track on the overall average and on the
// student's rank among section peers by that track's score.
type EligibilityRule struct {
	Track cohort.Track `json:"track" yaml:"track" validate:"required,oneof=GL RT IIA IMI"`

	// MinOverall is the overall average gate. Strict gates require a value
	// above it, otherwise at or above it.
	MinOverall float64 `json:"min_overall" yaml:"min_overall" validate:"gte=0,lte=20"`
	Strict     bool    `json:"strict" yaml:"strict"`

	// Quota is the admitted fraction of the section students who pass the
	// gate, ranked by track score. Zero disables the quota.
	Quota float64 `json:"quota" yaml:"quota" validate:"gte=0,lte=1"`

	// InheritFrom makes the track reachable when any listed track is.
	InheritFrom []cohort.Track `json:"inherit_from,omitempty" yaml:"inherit_from" validate:"dive,oneof=GL RT IIA IMI"`
}

// PassesGate reports whether overall clears the rule's minimum.
func (r EligibilityRule) PassesGate(overall average.Overall) bool {
	if !overall.Defined {
		return false
	}
	if r.Strict {
		return overall.Value > r.MinOverall
	}
	return overall.Value >= r.MinOverall
}

// EligibilityStatus is the outcome of an eligibility check.
type EligibilityStatus string

const (
	Eligible    EligibilityStatus = "eligible"
	NotEligible EligibilityStatus = "not_eligible"
	Unknown     EligibilityStatus = "unknown"
)

// Eligibility is a track's eligibility verdict.
type Eligibility struct {
	Track     cohort.Track      `json:"track"`
	Status    EligibilityStatus `json:"status"`
	Reason    string            `json:"reason"`
	TrackRank ranking.Rank      `json:"track_rank,omitempty"`
	QuotaSize int               `json:"quota_size,omitempty"`
	PeerCount int               `json:"peer_count,omitempty"`
}

// EvaluateEligibility applies rules in order. positions holds the student's
// rank among section peers for each track's primary score.
func EvaluateEligibility(rules []EligibilityRule, overall average.Overall, positions map[cohort.Track]ranking.Position) map[cohort.Track]Eligibility {
	out := make(map[cohort.Track]Eligibility, len(rules))
	quotaMissed := make(map[cohort.Track]bool)

	for _, r := range rules {
		out[r.Track] = evaluateRule(r, overall, positions[r.Track], quotaMissed)
	}

	// One inheritance pass: a track missed on quota becomes eligible when a
	// track it inherits from is eligible.
	for _, r := range rules {
		if !quotaMissed[r.Track] {
			continue
		}
		for _, from := range r.InheritFrom {
			if out[from].Status == Eligible {
				e := out[r.Track]
				e.Status = Eligible
				e.Reason = fmt.Sprintf("eligible through %s", from)
				out[r.Track] = e
				break
			}
		}
	}
	return out
}

func evaluateRule(r EligibilityRule, overall average.Overall, pos ranking.Position, quotaMissed map[cohort.Track]bool) Eligibility {
	e := Eligibility{Track: r.Track}

	if !overall.Defined {
		e.Status = Unknown
		e.Reason = "overall average undefined"
		return e
	}

	if !r.PassesGate(overall) {
		e.Status = NotEligible
		e.Reason = fmt.Sprintf("overall average %.2f below minimum %.2f", overall.Value, r.MinOverall)
		return e
	}

	if r.Quota <= 0 {
		e.Status = Eligible
		e.Reason = "overall average meets minimum"
		return e
	}

	if !pos.Ranked() {
		e.Status = Unknown
		e.Reason = "no section ranking for track"
		return e
	}

	e.TrackRank = pos.Rank
	e.PeerCount = pos.PeerCount
	e.QuotaSize = quotaSize(r.Quota, pos.PeerCount)
	if int(pos.Rank) <= e.QuotaSize {
		e.Status = Eligible
		e.Reason = fmt.Sprintf("within top %d of %d", e.QuotaSize, pos.PeerCount)
		return e
	}

	e.Status = NotEligible
	e.Reason = fmt.Sprintf("rank %d outside top %d of %d", pos.Rank, e.QuotaSize, pos.PeerCount)
	quotaMissed[r.Track] = true
	return e
}

// quotaSize is ceil(quota·n), tolerant of float noise such as 0.5·6.
func quotaSize(quota float64, n int) int {
	size := int(math.Ceil(quota*float64(n) - 1e-9))
	if size < 1 {
		size = 1
	}
	return size
}
