package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies embedded migrations in version order.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a migrator with the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, migrations: GetMigrations(), tableName: "schema_migrations"}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`, m.tableName))
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s", m.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]time.Time)
	for rows.Next() {
		var (
			version int
			at      time.Time
		)
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		out[version] = at
	}
	return out, rows.Err()
}

// Migrate applies all pending migrations, each in its own transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	done, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if _, ok := done[mig.Version]; ok {
			continue
		}
		err := m.conn.withTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx,
				fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName),
				mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
	}
	return nil
}

// Status returns every embedded migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	done, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	out := append([]Migration(nil), m.migrations...)
	for i := range out {
		if at, ok := done[out[i].Version]; ok {
			out[i].IsApplied = true
			out[i].AppliedAt = at
		}
	}
	return out, nil
}

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_grades", UpSQL: migration001Up},
		{Version: 2, Name: "create_cohort_history", UpSQL: migration002Up},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: SUBJECTS, STUDENTS, GRADES
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS subjects (
    section VARCHAR(30) NOT NULL,
    id VARCHAR(50) NOT NULL,
    name VARCHAR(120) NOT NULL,
    semester SMALLINT NOT NULL DEFAULT 1,
    has_tp BOOLEAN NOT NULL DEFAULT FALSE,
    weights_ds DOUBLE PRECISION NOT NULL,
    weights_tp DOUBLE PRECISION,
    weights_exam DOUBLE PRECISION NOT NULL,
    weights_final DOUBLE PRECISION,
    overall_weight DOUBLE PRECISION NOT NULL,

    PRIMARY KEY (section, id),
    CONSTRAINT valid_weights CHECK (
        weights_ds >= 0 AND weights_exam >= 0
        AND (weights_tp IS NULL OR weights_tp >= 0)
        AND (weights_final IS NULL OR weights_final >= 0)
    ),
    CONSTRAINT valid_coefficient CHECK (overall_weight > 0)
);

CREATE TABLE IF NOT EXISTS students (
    id VARCHAR(64) PRIMARY KEY,
    section VARCHAR(30) NOT NULL,
    display_name VARCHAR(120) NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_students_section ON students(section);

-- NULL component values are pending assessments.
CREATE TABLE IF NOT EXISTS grades (
    student_id VARCHAR(64) NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    section VARCHAR(30) NOT NULL,
    subject_id VARCHAR(50) NOT NULL,
    year SMALLINT NOT NULL,
    ds DOUBLE PRECISION,
    tp DOUBLE PRECISION,
    exam DOUBLE PRECISION,
    final DOUBLE PRECISION,

    PRIMARY KEY (student_id, subject_id, year),
    FOREIGN KEY (section, subject_id) REFERENCES subjects(section, id),
    CONSTRAINT valid_values CHECK (
        (ds IS NULL OR ds BETWEEN 0 AND 20)
        AND (tp IS NULL OR tp BETWEEN 0 AND 20)
        AND (exam IS NULL OR exam BETWEEN 0 AND 20)
        AND (final IS NULL OR final BETWEEN 0 AND 20)
    )
);

CREATE INDEX IF NOT EXISTS idx_grades_section_year ON grades(section, year);
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: ADMISSION CUTOFFS AND SUBJECT HISTORY
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS admission_cutoffs (
    track VARCHAR(10) NOT NULL,
    year SMALLINT NOT NULL,
    score DOUBLE PRECISION NOT NULL,
    admitted_count INTEGER NOT NULL,

    PRIMARY KEY (track, year, score),
    CONSTRAINT valid_admitted CHECK (admitted_count > 0)
);

CREATE TABLE IF NOT EXISTS subject_history (
    track VARCHAR(10) NOT NULL,
    year SMALLINT NOT NULL,
    subject_id VARCHAR(50) NOT NULL,
    mean DOUBLE PRECISION NOT NULL,
    enrollment INTEGER NOT NULL DEFAULT 0,

    PRIMARY KEY (track, year, subject_id),
    CONSTRAINT valid_mean CHECK (mean BETWEEN 0 AND 20)
);
`
