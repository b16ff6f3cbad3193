package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/gradehub/orientation-engine/internal/domain/grade"
	"github.com/gradehub/orientation-engine/internal/domain/shared"
	"github.com/gradehub/orientation-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// GRADE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// GradeRepository implements grade.Repository and grade.SectionLister.
type GradeRepository struct {
	conn   *Connection
	policy retry.Policy
}

// NewGradeRepository creates a new GradeRepository.
func NewGradeRepository(conn *Connection) *GradeRepository {
	return &GradeRepository{conn: conn, policy: retry.ReadPolicy(IsTransient)}
}

var (
	_ grade.Repository    = (*GradeRepository)(nil)
	_ grade.SectionLister = (*GradeRepository)(nil)
)

const subjectColumns = `
	s.id, s.name, s.semester, s.has_tp,
	s.weights_ds, s.weights_tp, s.weights_exam, s.weights_final, s.overall_weight,
	g.ds, g.tp, g.exam, g.final`

// FetchStudentRecord returns one student's record for a year. A student
// without any grade row for the year has no record.
func (r *GradeRepository) FetchStudentRecord(ctx context.Context, studentID grade.StudentID, year int) (*grade.StudentRecord, error) {
	return retry.Value(ctx, r.policy, func(ctx context.Context) (*grade.StudentRecord, error) {
		var rec *grade.StudentRecord
		err := r.conn.ReadOnly(ctx, func(tx pgx.Tx) error {
			var (
				section   string
				hasGrades bool
			)
			err := tx.QueryRow(ctx, `
				SELECT st.section,
				       EXISTS (SELECT 1 FROM grades g WHERE g.student_id = st.id AND g.year = $2)
				FROM students st
				WHERE st.id = $1`, string(studentID), year).Scan(&section, &hasGrades)
			if IsNoRows(err) || (err == nil && !hasGrades) {
				return shared.NewDomainError("grade", "FetchStudentRecord", shared.ErrStudentRecordNotFound,
					fmt.Sprintf("student %s year %d", studentID, year))
			}
			if err != nil {
				return err
			}

			rows, err := tx.Query(ctx, `
				SELECT `+subjectColumns+`
				FROM subjects s
				LEFT JOIN grades g
				       ON g.section = s.section AND g.subject_id = s.id
				      AND g.student_id = $2 AND g.year = $3
				WHERE s.section = $1
				ORDER BY s.semester, s.id`, section, string(studentID), year)
			if err != nil {
				return err
			}
			subjects, err := scanSubjects(rows)
			if err != nil {
				return err
			}

			rec = &grade.StudentRecord{
				StudentID: studentID,
				Section:   grade.Section(section),
				Year:      year,
				Subjects:  subjects,
			}
			return nil
		})
		if err != nil {
			if shared.IsNotFound(err) {
				return nil, err
			}
			return nil, fmt.Errorf("fetch student record %s: %w", studentID, err)
		}
		return rec, nil
	})
}

// FetchSectionRecords returns every record of a section for a year, ordered
// by student id. An unknown section yields an empty slice.
func (r *GradeRepository) FetchSectionRecords(ctx context.Context, section grade.Section, year int) ([]*grade.StudentRecord, error) {
	section = section.Normalize()

	return retry.Value(ctx, r.policy, func(ctx context.Context) ([]*grade.StudentRecord, error) {
		rows, err := r.conn.Query(ctx, `
			SELECT st.id, `+subjectColumns+`
			FROM students st
			JOIN subjects s ON s.section = st.section
			LEFT JOIN grades g
			       ON g.section = s.section AND g.subject_id = s.id
			      AND g.student_id = st.id AND g.year = $2
			WHERE st.section = $1
			  AND EXISTS (SELECT 1 FROM grades gx WHERE gx.student_id = st.id AND gx.year = $2)
			ORDER BY st.id, s.semester, s.id`, string(section), year)
		if err != nil {
			return nil, fmt.Errorf("fetch section records %s: %w", section, err)
		}
		defer rows.Close()

		var (
			records []*grade.StudentRecord
			current *grade.StudentRecord
		)
		for rows.Next() {
			var (
				studentID string
				row       subjectRow
			)
			if err := rows.Scan(append([]any{&studentID}, row.targets()...)...); err != nil {
				return nil, fmt.Errorf("scan section record: %w", err)
			}
			if current == nil || string(current.StudentID) != studentID {
				current = &grade.StudentRecord{
					StudentID: grade.StudentID(studentID),
					Section:   section,
					Year:      year,
				}
				records = append(records, current)
			}
			current.Subjects = append(current.Subjects, row.toSubject())
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("fetch section records %s: %w", section, err)
		}
		if records == nil {
			records = []*grade.StudentRecord{}
		}
		return records, nil
	})
}

// ListSections returns the sections that have grades for a year.
func (r *GradeRepository) ListSections(ctx context.Context, year int) ([]grade.Section, error) {
	rows, err := r.conn.Query(ctx, `SELECT DISTINCT section FROM grades WHERE year = $1 ORDER BY section`, year)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	defer rows.Close()

	var out []grade.Section
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		out = append(out, grade.Section(s))
	}
	return out, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// ROW MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// subjectRow is one subject joined with the student's grade row, if any.
type subjectRow struct {
	SubjectID   string
	Name        string
	Semester    int
	HasTP       bool
	WeightDS    float64
	WeightTP    *float64
	WeightExam  float64
	WeightFinal *float64
	Coefficient float64

	DS    *float64
	TP    *float64
	Exam  *float64
	Final *float64
}

func (r *subjectRow) targets() []any {
	return []any{
		&r.SubjectID, &r.Name, &r.Semester, &r.HasTP,
		&r.WeightDS, &r.WeightTP, &r.WeightExam, &r.WeightFinal, &r.Coefficient,
		&r.DS, &r.TP, &r.Exam, &r.Final,
	}
}

// toSubject maps the stored grading scheme to components. A NULL value is
// a pending component. TP exists only when has_tp is set and FINAL only
// when it carries a positive weight.
func (r subjectRow) toSubject() grade.Subject {
	s := grade.Subject{
		ID:          grade.SubjectID(r.SubjectID),
		Name:        r.Name,
		Coefficient: r.Coefficient,
		Semester:    r.Semester,
	}

	s.Components = append(s.Components, component(grade.KindDS, r.WeightDS, r.DS))
	if r.HasTP {
		s.Components = append(s.Components, component(grade.KindTP, deref(r.WeightTP), r.TP))
	}
	s.Components = append(s.Components, component(grade.KindExam, r.WeightExam, r.Exam))
	if w := deref(r.WeightFinal); w > 0 {
		s.Components = append(s.Components, component(grade.KindFinal, w, r.Final))
	}
	return s
}

func component(kind grade.ComponentKind, weight float64, value *float64) grade.Component {
	if value == nil {
		return grade.Component{Kind: kind, Weight: weight, Pending: true}
	}
	return grade.Component{Kind: kind, Weight: weight, Value: *value}
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func scanSubjects(rows pgx.Rows) ([]grade.Subject, error) {
	defer rows.Close()

	var out []grade.Subject
	for rows.Next() {
		var row subjectRow
		if err := rows.Scan(row.targets()...); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		out = append(out, row.toSubject())
	}
	return out, rows.Err()
}
