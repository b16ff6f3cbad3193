// Package memory provides in-process implementations of the grade,
// cohort and standings ports. The gradesim CLI loads a JSON or YAML
// dataset into them, and tests use them in place of PostgreSQL and Redis.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gradehub/orientation-engine/internal/domain/cohort"
	"github.com/gradehub/orientation-engine/internal/domain/grade"
	"github.com/gradehub/orientation-engine/internal/domain/ranking"
	"github.com/gradehub/orientation-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GRADE STORE
// ══════════════════════════════════════════════════════════════════════════════

type recordKey struct {
	student grade.StudentID
	year    int
}

// GradeStore implements grade.Repository and grade.SectionLister.
type GradeStore struct {
	mu      sync.RWMutex
	records map[recordKey]*grade.StudentRecord
}

// NewGradeStore returns a store holding copies of records.
func NewGradeStore(records ...*grade.StudentRecord) *GradeStore {
	s := &GradeStore{records: make(map[recordKey]*grade.StudentRecord)}
	for _, r := range records {
		s.Put(r)
	}
	return s
}

// Put stores a copy of rec, replacing any record of the same student and year.
func (s *GradeStore) Put(rec *grade.StudentRecord) {
	c := rec.Clone()
	c.Section = c.Section.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[recordKey{c.StudentID, c.Year}] = c
}

// FetchStudentRecord returns a copy of one record.
func (s *GradeStore) FetchStudentRecord(ctx context.Context, studentID grade.StudentID, year int) (*grade.StudentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[recordKey{studentID, year}]
	if !ok {
		return nil, shared.WrapError("grade", "FetchStudentRecord", shared.ErrNotFound,
			fmt.Sprintf("student %s year %d", studentID, year), shared.ErrStudentRecordNotFound)
	}
	return rec.Clone(), nil
}

// FetchSectionRecords returns copies of a section's records ordered by
// student id.
func (s *GradeStore) FetchSectionRecords(ctx context.Context, section grade.Section, year int) ([]*grade.StudentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	section = section.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*grade.StudentRecord, 0)
	for k, rec := range s.records {
		if k.year == year && rec.Section == section {
			out = append(out, rec.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *grade.StudentRecord) int {
		switch {
		case a.StudentID < b.StudentID:
			return -1
		case a.StudentID > b.StudentID:
			return 1
		}
		return 0
	})
	return out, nil
}

// ListSections returns the sorted sections that have records for year.
func (s *GradeStore) ListSections(ctx context.Context, year int) ([]grade.Section, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[grade.Section]struct{})
	for k, rec := range s.records {
		if k.year == year {
			seen[rec.Section] = struct{}{}
		}
	}
	out := make([]grade.Section, 0, len(seen))
	for sec := range seen {
		out = append(out, sec)
	}
	slices.Sort(out)
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// COHORT STORE
// ══════════════════════════════════════════════════════════════════════════════

// CohortStore implements cohort.Provider.
type CohortStore struct {
	mu        sync.RWMutex
	baselines []cohort.Baseline
	means     []cohort.SubjectMean
}

// NewCohortStore returns a store over the given history.
func NewCohortStore(baselines []cohort.Baseline, means []cohort.SubjectMean) *CohortStore {
	return &CohortStore{
		baselines: append([]cohort.Baseline(nil), baselines...),
		means:     append([]cohort.SubjectMean(nil), means...),
	}
}

// FetchHistoricalBaseline returns the track's baselines for the requested
// years, oldest first, each distribution ordered by score. An empty years
// list selects every year.
func (s *CohortStore) FetchHistoricalBaseline(ctx context.Context, track cohort.Track, years []int) ([]cohort.Baseline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]cohort.Baseline, 0)
	for _, b := range s.baselines {
		if b.Track == track && yearSelected(b.Year, years) {
			b.Distribution = b.Sorted()
			out = append(out, b)
		}
	}
	slices.SortStableFunc(out, func(a, b cohort.Baseline) int { return a.Year - b.Year })
	return out, nil
}

// FetchSubjectMeans returns the track's subject means for the requested years.
func (s *CohortStore) FetchSubjectMeans(ctx context.Context, track cohort.Track, years []int) ([]cohort.SubjectMean, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]cohort.SubjectMean, 0)
	for _, m := range s.means {
		if m.Track == track && yearSelected(m.Year, years) {
			out = append(out, m)
		}
	}
	return out, nil
}

func yearSelected(year int, years []int) bool {
	return len(years) == 0 || slices.Contains(years, year)
}

// ══════════════════════════════════════════════════════════════════════════════
// STANDINGS CACHE
// ══════════════════════════════════════════════════════════════════════════════

type standingsKey struct {
	section grade.Section
	year    int
}

type standingsItem struct {
	standings *ranking.Standings
	expiresAt time.Time
}

// StandingsCache implements ranking.StandingsCache with lazy expiry.
type StandingsCache struct {
	mu    sync.Mutex
	items map[standingsKey]standingsItem
	now   func() time.Time
}

// NewStandingsCache returns an empty cache.
func NewStandingsCache() *StandingsCache {
	return &StandingsCache{items: make(map[standingsKey]standingsItem), now: time.Now}
}

// Save stores s. A non-positive ttl never expires.
func (c *StandingsCache) Save(ctx context.Context, s *ranking.Standings, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	item := standingsItem{standings: s}
	if ttl > 0 {
		item.expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[standingsKey{s.Section.Normalize(), s.Year}] = item
	return nil
}

// Get returns cached standings or a wrapped shared.ErrNotFound.
func (c *StandingsCache) Get(ctx context.Context, section grade.Section, year int) (*ranking.Standings, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := standingsKey{section.Normalize(), year}

	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if ok && !item.expiresAt.IsZero() && c.now().After(item.expiresAt) {
		delete(c.items, key)
		ok = false
	}
	if !ok {
		return nil, shared.NewDomainError("ranking", "GetStandings", shared.ErrNotFound,
			fmt.Sprintf("no cached standings for %s/%d", key.section, year))
	}
	return item.standings, nil
}

// Invalidate drops the cached standings of a section and year.
func (c *StandingsCache) Invalidate(ctx context.Context, section grade.Section, year int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, standingsKey{section.Normalize(), year})
	return nil
}
