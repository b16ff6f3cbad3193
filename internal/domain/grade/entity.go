package grade

import (
	"fmt"
	"math"
	"strings"

	"github.com/gradehub/orientation-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

const (
	// MinGrade is the lowest value a component or average can take.
	MinGrade = 0.0
	// MaxGrade is the highest value a component or average can take.
	MaxGrade = 20.0
)

// ComponentKind identifies an assessment type inside a subject.
type ComponentKind string

const (
	KindDS    ComponentKind = "DS"
	KindTP    ComponentKind = "TP"
	KindExam  ComponentKind = "EXAM"
	KindFinal ComponentKind = "FINAL"
)

// AllComponentKinds lists the recognised kinds in display order.
var AllComponentKinds = []ComponentKind{KindDS, KindTP, KindExam, KindFinal}

// IsValid reports whether k is one of the recognised kinds.
func (k ComponentKind) IsValid() bool {
	switch k {
	case KindDS, KindTP, KindExam, KindFinal:
		return true
	default:
		return false
	}
}

// String returns the kind label.
func (k ComponentKind) String() string {
	return string(k)
}

// ParseComponentKind parses a kind label case-insensitively.
func ParseComponentKind(s string) (ComponentKind, error) {
	k := ComponentKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", shared.WrapError("grade", "ParseComponentKind", shared.ErrInvalidFormat,
			fmt.Sprintf("unknown component kind %q", s), shared.ErrUnknownComponentKind)
	}
	return k, nil
}

// SubjectID is the stable identifier of a subject within a section curriculum.
type SubjectID string

// StudentID is an opaque student identifier.
type StudentID string

// Section names a cohort of students sharing a curriculum (e.g. "mpi").
type Section string

// Normalize lowercases and trims the section name.
func (s Section) Normalize() Section {
	return Section(strings.ToLower(strings.TrimSpace(string(s))))
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTITIES
// ══════════════════════════════════════════════════════════════════════════════

// Component is one assessment within a subject.
// A pending component is part of the subject's grading scheme but has no
// recorded value yet; it does not take part in averages.
type Component struct {
	Kind    ComponentKind `json:"kind" yaml:"kind"`
	Value   float64       `json:"value" yaml:"value"`
	Weight  float64       `json:"weight" yaml:"weight"`
	Pending bool          `json:"pending,omitempty" yaml:"pending,omitempty"`
}

// Validate checks value range and weight sign.
func (c Component) Validate() error {
	if !c.Kind.IsValid() {
		return shared.ErrUnknownComponentKind
	}
	if math.IsNaN(c.Weight) || math.IsInf(c.Weight, 0) || c.Weight < 0 {
		return shared.ErrInvalidWeight
	}
	if c.Pending {
		return nil
	}
	if math.IsNaN(c.Value) || c.Value < MinGrade || c.Value > MaxGrade {
		return shared.ErrInvalidGrade
	}
	return nil
}

// Subject is a course with a coefficient and its ordered components.
type Subject struct {
	ID          SubjectID   `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Coefficient float64     `json:"coefficient" yaml:"coefficient"`
	Semester    int         `json:"semester,omitempty" yaml:"semester,omitempty"`
	Components  []Component `json:"components" yaml:"components"`
}

// Component returns the component of the given kind, if the subject has one.
func (s *Subject) Component(kind ComponentKind) (*Component, bool) {
	for i := range s.Components {
		if s.Components[i].Kind == kind {
			return &s.Components[i], true
		}
	}
	return nil, false
}

// Validate checks the coefficient and every component.
func (s Subject) Validate() error {
	if s.ID == "" {
		return shared.NewDomainError("grade", "Validate", shared.ErrEmptyValue, "subject id is empty")
	}
	if math.IsNaN(s.Coefficient) || math.IsInf(s.Coefficient, 0) || s.Coefficient <= 0 {
		return shared.WrapError("grade", "Validate", shared.ErrValueOutOfRange,
			fmt.Sprintf("subject %s", s.ID), shared.ErrInvalidCoefficient)
	}
	for _, c := range s.Components {
		if err := c.Validate(); err != nil {
			return shared.WrapError("grade", "Validate", shared.ErrValidation,
				fmt.Sprintf("subject %s component %s", s.ID, c.Kind), err)
		}
	}
	return nil
}

// StudentRecord is the full set of graded subjects of one student for one year.
// Records are read from the grade repository and never written back.
type StudentRecord struct {
	StudentID StudentID `json:"student_id" yaml:"student_id"`
	Section   Section   `json:"section" yaml:"section"`
	Year      int       `json:"year" yaml:"year"`
	Subjects  []Subject `json:"subjects" yaml:"subjects"`
}

// Subject returns a pointer to the subject with the given id.
func (r *StudentRecord) Subject(id SubjectID) (*Subject, bool) {
	for i := range r.Subjects {
		if r.Subjects[i].ID == id {
			return &r.Subjects[i], true
		}
	}
	return nil, false
}

// Validate checks subject uniqueness and every subject.
func (r *StudentRecord) Validate() error {
	if r.StudentID == "" {
		return shared.NewDomainError("grade", "Validate", shared.ErrInvalidID, "student id is empty")
	}
	seen := make(map[SubjectID]struct{}, len(r.Subjects))
	for _, s := range r.Subjects {
		if _, dup := seen[s.ID]; dup {
			return shared.WrapError("grade", "Validate", shared.ErrValidation,
				fmt.Sprintf("subject %s", s.ID), shared.ErrDuplicateSubject)
		}
		seen[s.ID] = struct{}{}
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy. Mutating the copy never affects r.
func (r *StudentRecord) Clone() *StudentRecord {
	if r == nil {
		return nil
	}
	out := &StudentRecord{
		StudentID: r.StudentID,
		Section:   r.Section,
		Year:      r.Year,
		Subjects:  make([]Subject, len(r.Subjects)),
	}
	for i, s := range r.Subjects {
		out.Subjects[i] = s
		out.Subjects[i].Components = append([]Component(nil), s.Components...)
	}
	return out
}
