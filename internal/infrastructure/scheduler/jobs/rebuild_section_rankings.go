// Package jobs contains the scheduled jobs of the orientation engine.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gradehub/orientation-engine/internal/domain/grade"
	"github.com/gradehub/orientation-engine/internal/domain/ranking"
	"github.com/gradehub/orientation-engine/internal/infrastructure/metrics"
	"github.com/gradehub/orientation-engine/pkg/logger"
	"github.com/gradehub/orientation-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD SECTION RANKINGS JOB
// ══════════════════════════════════════════════════════════════════════════════

// RebuildSectionRankingsJob recomputes every section's standings and
// stores them in the standings cache, so ranking reads and simulations
// do not recompute a whole section per request.
type RebuildSectionRankingsJob struct {
	// Dependencies
	grades  grade.Repository
	lister  grade.SectionLister
	cache   ranking.StandingsCache
	metrics *metrics.Metrics
	logger  *logger.Logger

	// Configuration
	config RebuildSectionRankingsConfig

	// State
	lastRebuildStats atomic.Value // *RebuildStats
}

// RebuildSectionRankingsConfig contains configuration for the rebuild job.
type RebuildSectionRankingsConfig struct {
	// Sections to rebuild. Empty means every section the lister returns.
	Sections []grade.Section

	// Year returns the academic year to rebuild.
	Year func() int

	// TieBreak orders students with identical overall averages.
	TieBreak []grade.SubjectID

	// Workers bounds the average computation inside one section.
	Workers int

	// Parallel bounds how many sections are rebuilt at once.
	Parallel int

	// CacheTTL is the TTL for cached standings.
	CacheTTL time.Duration
}

// DefaultRebuildSectionRankingsConfig returns sensible defaults.
func DefaultRebuildSectionRankingsConfig() RebuildSectionRankingsConfig {
	return RebuildSectionRankingsConfig{
		Year:     func() int { return timeutil.AcademicYear(time.Now()) },
		Workers:  4,
		Parallel: 2,
		CacheTTL: 30 * time.Minute,
	}
}

// RebuildStats contains statistics from a rebuild run.
type RebuildStats struct {
	StartedAt         time.Time
	CompletedAt       time.Time
	Duration          time.Duration
	Year              int
	SectionsProcessed int
	TotalStudents     int
	RankedStudents    int
	Errors            []error
}

// NewRebuildSectionRankingsJob creates the job. lister may be nil when
// config.Sections is set.
func NewRebuildSectionRankingsJob(
	grades grade.Repository,
	lister grade.SectionLister,
	cache ranking.StandingsCache,
	m *metrics.Metrics,
	log *logger.Logger,
	config RebuildSectionRankingsConfig,
) *RebuildSectionRankingsJob {
	if log == nil {
		log = logger.Default()
	}
	defaults := DefaultRebuildSectionRankingsConfig()
	if config.Year == nil {
		config.Year = defaults.Year
	}
	if config.Parallel <= 0 {
		config.Parallel = defaults.Parallel
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = defaults.CacheTTL
	}

	return &RebuildSectionRankingsJob{
		grades:  grades,
		lister:  lister,
		cache:   cache,
		metrics: m,
		logger:  log.With(logger.Component("rebuild_section_rankings")),
		config:  config,
	}
}

// Name returns the job name.
func (j *RebuildSectionRankingsJob) Name() string {
	return "rebuild_section_rankings"
}

// Description returns a human-readable description.
func (j *RebuildSectionRankingsJob) Description() string {
	return "Recomputes section standings and refreshes the standings cache"
}

// Run executes the rebuild. A failing section does not stop the others;
// the run fails when any section failed.
func (j *RebuildSectionRankingsJob) Run(ctx context.Context) error {
	stats := &RebuildStats{StartedAt: time.Now(), Year: j.config.Year()}
	defer func() {
		stats.CompletedAt = time.Now()
		stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
		j.lastRebuildStats.Store(stats)
	}()

	sections, err := j.sections(ctx, stats.Year)
	if err != nil {
		j.metrics.ObserveRebuild("failed", time.Since(stats.StartedAt))
		return fmt.Errorf("list sections: %w", err)
	}

	j.logger.Info("starting ranking rebuild", logger.Year(stats.Year), logger.Int("sections", len(sections)))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.config.Parallel)

	for _, section := range sections {
		g.Go(func() error {
			s, err := j.rebuildSection(gctx, section, stats.Year)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.Errors = append(stats.Errors, fmt.Errorf("section %s: %w", section, err))
				return nil
			}
			stats.SectionsProcessed++
			stats.TotalStudents += s.Count()
			stats.RankedStudents += s.PeerCount
			return nil
		})
	}
	_ = g.Wait()

	status := "success"
	if len(stats.Errors) > 0 {
		status = "partial"
		if stats.SectionsProcessed == 0 {
			status = "failed"
		}
	}
	j.metrics.ObserveRebuild(status, time.Since(stats.StartedAt))

	j.logger.Info("ranking rebuild finished",
		logger.String("status", status),
		logger.Int("sections", stats.SectionsProcessed),
		logger.Int("students", stats.TotalStudents),
		logger.Int("errors", len(stats.Errors)),
		logger.Latency(time.Since(stats.StartedAt)),
	)

	return errors.Join(stats.Errors...)
}

func (j *RebuildSectionRankingsJob) sections(ctx context.Context, year int) ([]grade.Section, error) {
	if len(j.config.Sections) > 0 {
		return j.config.Sections, nil
	}
	if j.lister == nil {
		return nil, errors.New("no sections configured and no section lister")
	}
	return j.lister.ListSections(ctx, year)
}

func (j *RebuildSectionRankingsJob) rebuildSection(ctx context.Context, section grade.Section, year int) (*ranking.Standings, error) {
	start := time.Now()
	section = section.Normalize()

	records, err := j.grades.FetchSectionRecords(ctx, section, year)
	if err != nil {
		return nil, fmt.Errorf("fetch records: %w", err)
	}

	s, err := ranking.Build(ctx, section, year, records, ranking.Options{
		TieBreak: j.config.TieBreak,
		Workers:  j.config.Workers,
	})
	if err != nil {
		return nil, fmt.Errorf("build standings: %w", err)
	}
	s.ID = uuid.NewString()

	// A section without records drops whatever an earlier run published.
	if s.IsEmpty() {
		if err := j.cache.Invalidate(ctx, section, year); err != nil {
			return nil, fmt.Errorf("invalidate standings: %w", err)
		}
		j.metrics.SetSectionSize(string(section), 0)
		return s, nil
	}

	if err := j.cache.Save(ctx, s, j.config.CacheTTL); err != nil {
		return nil, fmt.Errorf("save standings: %w", err)
	}
	j.metrics.SetSectionSize(string(section), s.Count())

	j.logger.Debug("section rebuilt",
		logger.Section(string(section)),
		logger.Int("students", s.Count()),
		logger.Int("ranked", s.PeerCount),
		logger.Latency(time.Since(start)),
	)
	return s, nil
}

// LastStats returns the statistics of the last run, or nil before the
// first run.
func (j *RebuildSectionRankingsJob) LastStats() *RebuildStats {
	if v := j.lastRebuildStats.Load(); v != nil {
		return v.(*RebuildStats)
	}
	return nil
}
