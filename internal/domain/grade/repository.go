package grade

import "context"

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// Repository is the read-only source of student records.
// Implementations return shared.ErrStudentRecordNotFound (matching
// shared.ErrNotFound) when a record does not exist.
type Repository interface {
	// FetchStudentRecord returns one student's record for a year.
	FetchStudentRecord(ctx context.Context, studentID StudentID, year int) (*StudentRecord, error)

	// FetchSectionRecords returns every record of a section for a year.
	// An unknown section yields an empty slice, not an error.
	FetchSectionRecords(ctx context.Context, section Section, year int) ([]*StudentRecord, error)
}

// SectionLister enumerates the sections that have records for a year.
// Used by batch jobs that rebuild every section's ranking.
type SectionLister interface {
	ListSections(ctx context.Context, year int) ([]Section, error)
}
