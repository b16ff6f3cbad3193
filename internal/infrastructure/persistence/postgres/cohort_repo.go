package postgres

import (
	"context"
	"fmt"

	"github.com/gradehub/orientation-engine/internal/domain/cohort"
	"github.com/gradehub/orientation-engine/internal/domain/grade"
	"github.com/gradehub/orientation-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// COHORT STATISTICS PROVIDER
// ══════════════════════════════════════════════════════════════════════════════

// CohortRepository implements cohort.Provider over the admission_cutoffs and
// subject_history tables.
type CohortRepository struct {
	conn   *Connection
	policy retry.Policy
}

// NewCohortRepository creates a new CohortRepository.
func NewCohortRepository(conn *Connection) *CohortRepository {
	return &CohortRepository{conn: conn, policy: retry.ReadPolicy(IsTransient)}
}

var _ cohort.Provider = (*CohortRepository)(nil)

// FetchHistoricalBaseline returns one baseline per requested year with data,
// ordered by year.
func (r *CohortRepository) FetchHistoricalBaseline(ctx context.Context, track cohort.Track, years []int) ([]cohort.Baseline, error) {
	if len(years) == 0 {
		return []cohort.Baseline{}, nil
	}

	return retry.Value(ctx, r.policy, func(ctx context.Context) ([]cohort.Baseline, error) {
		rows, err := r.conn.Query(ctx, `
			SELECT year, score, admitted_count
			FROM admission_cutoffs
			WHERE track = $1 AND year = ANY($2)
			ORDER BY year, score`, string(track), years)
		if err != nil {
			return nil, fmt.Errorf("fetch baseline %s: %w", track, err)
		}
		defer rows.Close()

		var points []cutoffRow
		for rows.Next() {
			var p cutoffRow
			if err := rows.Scan(&p.Year, &p.Score, &p.AdmittedCount); err != nil {
				return nil, fmt.Errorf("scan cutoff: %w", err)
			}
			points = append(points, p)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("fetch baseline %s: %w", track, err)
		}
		return groupBaselines(track, points), nil
	})
}

// FetchSubjectMeans returns the historical subject means of a track.
func (r *CohortRepository) FetchSubjectMeans(ctx context.Context, track cohort.Track, years []int) ([]cohort.SubjectMean, error) {
	if len(years) == 0 {
		return []cohort.SubjectMean{}, nil
	}

	return retry.Value(ctx, r.policy, func(ctx context.Context) ([]cohort.SubjectMean, error) {
		rows, err := r.conn.Query(ctx, `
			SELECT year, subject_id, mean, enrollment
			FROM subject_history
			WHERE track = $1 AND year = ANY($2)
			ORDER BY year, subject_id`, string(track), years)
		if err != nil {
			return nil, fmt.Errorf("fetch subject means %s: %w", track, err)
		}
		defer rows.Close()

		out := []cohort.SubjectMean{}
		for rows.Next() {
			var (
				m       cohort.SubjectMean
				subject string
			)
			if err := rows.Scan(&m.Year, &subject, &m.Mean, &m.Enrollment); err != nil {
				return nil, fmt.Errorf("scan subject mean: %w", err)
			}
			m.Track = track
			m.SubjectID = grade.SubjectID(subject)
			out = append(out, m)
		}
		return out, rows.Err()
	})
}

type cutoffRow struct {
	Year          int
	Score         float64
	AdmittedCount int
}

// groupBaselines folds year-ordered cutoff rows into one baseline per year.
func groupBaselines(track cohort.Track, rows []cutoffRow) []cohort.Baseline {
	out := []cohort.Baseline{}
	for _, p := range rows {
		if n := len(out); n == 0 || out[n-1].Year != p.Year {
			out = append(out, cohort.Baseline{Track: track, Year: p.Year})
		}
		last := &out[len(out)-1]
		last.Distribution = append(last.Distribution, cohort.CutoffPoint{
			Score:         p.Score,
			AdmittedCount: p.AdmittedCount,
		})
	}
	return out
}
