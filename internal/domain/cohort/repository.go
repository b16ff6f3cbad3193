package cohort

import "context"

// Provider is the read-only source of historical cohort statistics.
type Provider interface {
	// FetchHistoricalBaseline returns one baseline per requested year that
	// has data. Years without data are omitted; no data at all yields an
	// empty slice.
	FetchHistoricalBaseline(ctx context.Context, track Track, years []int) ([]Baseline, error)

	// FetchSubjectMeans returns the historical subject means of a track.
	FetchSubjectMeans(ctx context.Context, track Track, years []int) ([]SubjectMean, error)
}
