// Package query contains the read operations of the orientation engine:
// the orientation report, what-if simulations and section rankings.
// Handlers gather data from the repositories and caches, then hand it to
// the pure domain engines.
package query

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gradehub/orientation-engine/internal/domain/cohort"
	"github.com/gradehub/orientation-engine/internal/domain/grade"
	"github.com/gradehub/orientation-engine/internal/domain/orientation"
	"github.com/gradehub/orientation-engine/internal/domain/ranking"
	"github.com/gradehub/orientation-engine/internal/domain/shared"
	"github.com/gradehub/orientation-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SOURCES
// ══════════════════════════════════════════════════════════════════════════════

// Sources bundles the read ports and engine settings shared by every
// handler in this package.
type Sources struct {
	Grades      grade.Repository
	Cohorts     cohort.Provider
	Orientation *orientation.Engine

	// Standings is optional. Without it every request ranks the section live.
	Standings    ranking.StandingsCache
	StandingsTTL time.Duration

	TieBreak     []grade.SubjectID
	HistoryYears []int
	Workers      int

	// RulesDigest identifies the engine rules. Cached simulations computed
	// under other rules are never served.
	RulesDigest string

	Logger *logger.Logger
}

func (s *Sources) log() *logger.Logger {
	if s.Logger == nil {
		return logger.Nop()
	}
	return s.Logger
}

// sectionStandings returns the cached standings of a section, building and
// caching them on a miss. Cache failures degrade to a live build.
func (s *Sources) sectionStandings(ctx context.Context, section grade.Section, year int) (*ranking.Standings, error) {
	section = section.Normalize()

	if s.Standings != nil {
		st, err := s.Standings.Get(ctx, section, year)
		if err == nil {
			return st, nil
		}
		if !shared.IsNotFound(err) {
			s.log().Warn("standings cache read failed", logger.Section(string(section)), logger.Err(err))
		}
	}

	records, err := s.Grades.FetchSectionRecords(ctx, section, year)
	if err != nil {
		return nil, fmt.Errorf("fetch section %s: %w", section, err)
	}
	st, err := ranking.Build(ctx, section, year, records, ranking.Options{TieBreak: s.TieBreak, Workers: s.Workers})
	if err != nil {
		return nil, err
	}
	st.ID = uuid.NewString()

	if s.Standings != nil {
		if err := s.Standings.Save(ctx, st, s.StandingsTTL); err != nil {
			s.log().Warn("standings cache write failed", logger.Section(string(section)), logger.Err(err))
		}
	}
	return st, nil
}

// history is the cohort data of every configured track.
type history struct {
	baselines map[cohort.Track][]cohort.Baseline
	means     map[cohort.Track][]cohort.SubjectMean
}

// loadHistory fetches baselines, and subject means when withMeans is set,
// for every track with a formula. Tracks are fetched concurrently.
func (s *Sources) loadHistory(ctx context.Context, withMeans bool) (*history, error) {
	tracks := s.Orientation.Tracks()
	h := &history{
		baselines: make(map[cohort.Track][]cohort.Baseline, len(tracks)),
		means:     make(map[cohort.Track][]cohort.SubjectMean, len(tracks)),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, track := range tracks {
		g.Go(func() error {
			bl, err := s.Cohorts.FetchHistoricalBaseline(gctx, track, s.HistoryYears)
			if err != nil {
				return fmt.Errorf("baselines %s: %w", track, err)
			}
			var means []cohort.SubjectMean
			if withMeans {
				if means, err = s.Cohorts.FetchSubjectMeans(gctx, track, s.HistoryYears); err != nil {
					return fmt.Errorf("subject means %s: %w", track, err)
				}
			}

			mu.Lock()
			defer mu.Unlock()
			h.baselines[track] = bl
			if withMeans {
				h.means[track] = means
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return h, nil
}

// studentContext is everything an evaluation of one student needs.
type studentContext struct {
	record    *grade.StudentRecord
	standings *ranking.Standings
	history   *history
}

// loadStudent fetches the record first, then the section standings and
// cohort history in parallel.
func (s *Sources) loadStudent(ctx context.Context, id grade.StudentID, year int, withMeans bool) (*studentContext, error) {
	rec, err := s.Grades.FetchStudentRecord(ctx, id, year)
	if err != nil {
		return nil, err
	}

	out := &studentContext{record: rec}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		st, err := s.sectionStandings(gctx, rec.Section, year)
		out.standings = st
		return err
	})
	g.Go(func() error {
		h, err := s.loadHistory(gctx, withMeans)
		out.history = h
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func validateStudentYear(op string, id grade.StudentID, year int) error {
	if id == "" {
		return shared.NewDomainError("query", op, shared.ErrInvalidID, "student id is required")
	}
	if year < 1900 || year > 2100 {
		return shared.NewDomainError("query", op, shared.ErrValueOutOfRange, fmt.Sprintf("year %d out of range", year))
	}
	return nil
}
