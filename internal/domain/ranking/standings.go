package ranking

import (
	"context"
	"sort"
	"time"

	"github.com/gradehub/orientation-engine/internal/domain/average"
	"github.com/gradehub/orientation-engine/internal/domain/grade"
)

// ══════════════════════════════════════════════════════════════════════════════
// STANDINGS ENTRY
// ══════════════════════════════════════════════════════════════════════════════

// Entry is one student's line in a section's standings.
type Entry struct {
	// Position is the 1-based display position. Unlike Rank it is unique.
	Position   int             `json:"position" msgpack:"position"`
	StudentID  grade.StudentID `json:"student_id" msgpack:"student_id"`
	Overall    average.Overall `json:"overall" msgpack:"overall"`
	Status     Status          `json:"status" msgpack:"status"`
	Rank       Rank            `json:"rank" msgpack:"rank"`
	Percentile float64         `json:"percentile" msgpack:"percentile"`

	// Subjects holds subject averages used by the display tie-break.
	Subjects map[grade.SubjectID]average.SubjectAverage `json:"-" msgpack:"subjects"`
}

// PositionInfo converts the entry to a Position.
func (e Entry) PositionInfo(peerCount int) Position {
	return Position{Status: e.Status, Rank: e.Rank, Percentile: e.Percentile, PeerCount: peerCount}
}

// ══════════════════════════════════════════════════════════════════════════════
// STANDINGS
// ══════════════════════════════════════════════════════════════════════════════

// Options controls how standings are built.
type Options struct {
	// TieBreak lists subjects whose averages order students with identical
	// overall averages, highest first. It never changes numeric ranks.
	TieBreak []grade.SubjectID

	// Workers bounds the parallel average computation. Zero means GOMAXPROCS.
	Workers int
}

// Standings is an ordered, ranked view of one section for one year.
type Standings struct {
	ID        string        `json:"id" msgpack:"id"`
	Section   grade.Section `json:"section" msgpack:"section"`
	Year      int           `json:"year" msgpack:"year"`
	BuiltAt   time.Time     `json:"built_at" msgpack:"built_at"`
	PeerCount int           `json:"peer_count" msgpack:"peer_count"`
	Entries   []Entry       `json:"entries" msgpack:"entries"`

	index map[grade.StudentID]int
}

// Build computes every record's averages in parallel, then orders and ranks
// them in a single deterministic pass.
func Build(ctx context.Context, section grade.Section, year int, records []*grade.StudentRecord, opts Options) (*Standings, error) {
	reports, err := average.ComputeAll(ctx, records, opts.Workers)
	if err != nil {
		return nil, err
	}

	return FromReports(section, year, reports, opts.TieBreak), nil
}

// FromReports orders and ranks precomputed average reports.
func FromReports(section grade.Section, year int, reports []average.Report, tieBreak []grade.SubjectID) *Standings {
	entries := make([]Entry, len(reports))
	for i, rep := range reports {
		subjects := make(map[grade.SubjectID]average.SubjectAverage, len(rep.Subjects))
		for _, sa := range rep.Subjects {
			subjects[sa.SubjectID] = sa
		}
		entries[i] = Entry{StudentID: rep.StudentID, Overall: rep.Overall, Subjects: subjects}
	}

	Order(entries, tieBreak)

	s := &Standings{
		Section: section,
		Year:    year,
		BuiltAt: time.Now().UTC(),
		Entries: entries,
	}
	s.assignRanks()
	s.RebuildIndex()
	return s
}

// Order sorts entries for display: defined averages first, highest first,
// then the tie-break subjects in priority order, then student id.
func Order(entries []Entry, tieBreak []grade.SubjectID) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Overall.Defined != b.Overall.Defined {
			return a.Overall.Defined
		}
		if a.Overall.Value != b.Overall.Value {
			return a.Overall.Value > b.Overall.Value
		}
		for _, id := range tieBreak {
			sa, sb := a.Subjects[id], b.Subjects[id]
			if sa.Complete != sb.Complete {
				return sa.Complete
			}
			if sa.Value != sb.Value {
				return sa.Value > sb.Value
			}
		}
		return a.StudentID < b.StudentID
	})
}

// assignRanks applies competition ranking over the ordered entries.
// Entries must already be in display order.
func (s *Standings) assignRanks() {
	defined := 0
	for _, e := range s.Entries {
		if e.Overall.Defined {
			defined++
		}
	}
	s.PeerCount = defined

	for i := range s.Entries {
		e := &s.Entries[i]
		e.Position = i + 1
		if !e.Overall.Defined {
			e.Status = StatusUnranked
			e.Rank = 0
			e.Percentile = 0
			continue
		}
		if i > 0 && s.Entries[i-1].Overall.Defined && s.Entries[i-1].Overall.Value == e.Overall.Value {
			e.Rank = s.Entries[i-1].Rank
		} else {
			e.Rank = Rank(i + 1)
		}
		e.Status = StatusRanked
		e.Percentile = float64(e.Rank) / float64(defined)
	}
}

// RebuildIndex rebuilds the student lookup after deserialization.
func (s *Standings) RebuildIndex() {
	s.index = make(map[grade.StudentID]int, len(s.Entries))
	for i, e := range s.Entries {
		s.index[e.StudentID] = i
	}
}

// Reports converts the entries back into average reports, subjects ordered
// by id. Engines that rank by formula scores use them as the peer set.
func (s *Standings) Reports() []average.Report {
	out := make([]average.Report, len(s.Entries))
	for i, e := range s.Entries {
		subjects := make([]average.SubjectAverage, 0, len(e.Subjects))
		for _, sa := range e.Subjects {
			subjects = append(subjects, sa)
		}
		sort.Slice(subjects, func(a, b int) bool { return subjects[a].SubjectID < subjects[b].SubjectID })
		out[i] = average.Report{StudentID: e.StudentID, Overall: e.Overall, Subjects: subjects}
	}
	return out
}

// Lookup returns the entry of a student.
func (s *Standings) Lookup(id grade.StudentID) (Entry, bool) {
	if s.index == nil {
		for _, e := range s.Entries {
			if e.StudentID == id {
				return e, true
			}
		}
		return Entry{}, false
	}
	i, ok := s.index[id]
	if !ok {
		return Entry{}, false
	}
	return s.Entries[i], true
}

// Page returns a 1-based page of entries.
func (s *Standings) Page(page, pageSize int) []Entry {
	if page < 1 || pageSize <= 0 {
		return nil
	}
	from := (page - 1) * pageSize
	if from >= len(s.Entries) {
		return nil
	}
	to := from + pageSize
	if to > len(s.Entries) {
		to = len(s.Entries)
	}
	return s.Entries[from:to]
}

// Neighbors returns up to rangeSize entries on each side of the student.
func (s *Standings) Neighbors(id grade.StudentID, rangeSize int) []Entry {
	e, ok := s.Lookup(id)
	if !ok {
		return nil
	}
	from := e.Position - 1 - rangeSize
	if from < 0 {
		from = 0
	}
	to := e.Position + rangeSize
	if to > len(s.Entries) {
		to = len(s.Entries)
	}
	return s.Entries[from:to]
}

// Count returns the number of entries, ranked or not.
func (s *Standings) Count() int {
	return len(s.Entries)
}

// IsEmpty reports whether the standings have no entries.
func (s *Standings) IsEmpty() bool {
	return len(s.Entries) == 0
}
