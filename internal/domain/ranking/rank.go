// Package ranking places a student's overall average within a peer set.
//
// Ranks use competition ("1224") ranking: a student's rank is one plus the
// number of peers with a strictly greater average, so tied students share a
// rank. Percentile is rank divided by the peer set size; lower is better.
package ranking

import (
	"fmt"

	"github.com/gradehub/orientation-engine/internal/domain/average"
	"github.com/gradehub/orientation-engine/internal/domain/grade"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Rank is a 1-based competition rank. Zero means "no rank".
type Rank int

// IsValid reports whether the rank is positive.
func (r Rank) IsValid() bool {
	return r > 0
}

// String returns the display form of the rank.
func (r Rank) String() string {
	if !r.IsValid() {
		return "-"
	}
	return fmt.Sprintf("#%d", r)
}

// RankDelta is a signed rank difference, simulated minus real.
// A negative delta means the student moved up.
type RankDelta int

// Direction returns the direction of the move.
func (d RankDelta) Direction() Direction {
	switch {
	case d < 0:
		return DirectionUp
	case d > 0:
		return DirectionDown
	default:
		return DirectionStable
	}
}

// Abs returns the absolute number of places moved.
func (d RankDelta) Abs() int {
	if d < 0 {
		return int(-d)
	}
	return int(d)
}

// String returns the delta with an explicit sign.
func (d RankDelta) String() string {
	switch {
	case d > 0:
		return fmt.Sprintf("+%d", d)
	case d < 0:
		return fmt.Sprintf("%d", d)
	default:
		return "±0"
	}
}

// Direction describes how a rank moved.
type Direction string

const (
	DirectionUp     Direction = "up"
	DirectionDown   Direction = "down"
	DirectionStable Direction = "stable"
)

// Status tags the outcome of a rank computation.
type Status string

const (
	// StatusRanked means Rank and Percentile are meaningful.
	StatusRanked Status = "ranked"
	// StatusUnranked means the student's overall average is undefined.
	StatusUnranked Status = "unranked"
	// StatusEmptyPeerSet means there was nobody to rank against.
	StatusEmptyPeerSet Status = "empty_peer_set"
)

// Position is a student's standing inside a peer set.
type Position struct {
	Status     Status  `json:"status"`
	Rank       Rank    `json:"rank"`
	Percentile float64 `json:"percentile"`
	PeerCount  int     `json:"peer_count"`
}

// Ranked reports whether the position carries a real rank.
func (p Position) Ranked() bool {
	return p.Status == StatusRanked
}

// TopPercent returns the percentile as a percentage rounded to two decimals.
func (p Position) TopPercent() float64 {
	if !p.Ranked() {
		return 0
	}
	return float64(int(p.Percentile*10000+0.5)) / 100
}

// ══════════════════════════════════════════════════════════════════════════════
// RANK COMPUTATION
// ══════════════════════════════════════════════════════════════════════════════

// Compute ranks student against peers. The peer set is expected to contain
// the student's own average; rank is capped at the peer set size so that a
// caller passing a foreign average still gets a rank within [1, |peers|].
// The result does not depend on the order of peers.
func Compute(student average.Overall, peers []float64) Position {
	if !student.Defined {
		return Position{Status: StatusUnranked, PeerCount: len(peers)}
	}
	if len(peers) == 0 {
		return Position{Status: StatusEmptyPeerSet}
	}

	above := 0
	for _, p := range peers {
		if p > student.Value {
			above++
		}
	}
	rank := above + 1
	if rank > len(peers) {
		rank = len(peers)
	}

	return Position{
		Status:     StatusRanked,
		Rank:       Rank(rank),
		Percentile: float64(rank) / float64(len(peers)),
		PeerCount:  len(peers),
	}
}

// ComputeInSection ranks own against the defined averages of peers. Any
// peer carrying id is replaced by own, so a recomputed record is ranked
// against the rest of the section exactly once.
func ComputeInSection(id grade.StudentID, own average.Overall, peers []average.Report) Position {
	values := make([]float64, 0, len(peers)+1)
	for _, p := range peers {
		if p.StudentID == id || !p.Overall.Defined {
			continue
		}
		values = append(values, p.Overall.Value)
	}
	if own.Defined {
		values = append(values, own.Value)
	}
	return Compute(own, values)
}

// Delta returns simulated minus real rank. ok is false unless both
// positions are ranked.
func Delta(real, simulated Position) (delta RankDelta, ok bool) {
	if !real.Ranked() || !simulated.Ranked() {
		return 0, false
	}
	return RankDelta(simulated.Rank - real.Rank), true
}
