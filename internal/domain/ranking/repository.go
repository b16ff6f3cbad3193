package ranking

import (
	"context"
	"time"

	"github.com/gradehub/orientation-engine/internal/domain/grade"
)

// StandingsCache stores built standings so reads do not recompute a section.
// Get returns shared.ErrNotFound (wrapped) on a miss.
type StandingsCache interface {
	// Save replaces the cached standings of s.Section/s.Year.
	Save(ctx context.Context, s *Standings, ttl time.Duration) error

	// Get returns the cached standings for a section and year.
	Get(ctx context.Context, section grade.Section, year int) (*Standings, error)

	// Invalidate drops the cached standings for a section and year.
	Invalidate(ctx context.Context, section grade.Section, year int) error
}
