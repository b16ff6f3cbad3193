package simulation

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gradehub/orientation-engine/internal/domain/grade"
	"github.com/gradehub/orientation-engine/internal/domain/shared"
)

// Override replaces the value of one component of one subject.
type Override struct {
	SubjectID grade.SubjectID     `json:"subject_id" yaml:"subject_id" validate:"required"`
	Kind      grade.ComponentKind `json:"component_kind" yaml:"component_kind" validate:"required,oneof=DS TP EXAM FINAL"`
	Value     float64             `json:"value" yaml:"value" validate:"gte=0,lte=20"`
}

// String returns the override in "subject:KIND=value" form.
func (o Override) String() string {
	return fmt.Sprintf("%s:%s=%g", o.SubjectID, o.Kind, o.Value)
}

// ParseOverride parses the "subject:KIND=value" form produced by String.
func ParseOverride(s string) (Override, error) {
	target, raw, ok := strings.Cut(strings.TrimSpace(s), "=")
	if !ok {
		return Override{}, parseError(s, "missing '='")
	}
	subject, kind, ok := strings.Cut(target, ":")
	if !ok || strings.TrimSpace(subject) == "" {
		return Override{}, parseError(s, "expected subject:KIND")
	}
	k, err := grade.ParseComponentKind(kind)
	if err != nil {
		return Override{}, parseError(s, err.Error())
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return Override{}, parseError(s, "value is not a number")
	}
	return Override{SubjectID: grade.SubjectID(strings.TrimSpace(subject)), Kind: k, Value: v}, nil
}

func parseError(s, msg string) error {
	return shared.WrapError("simulation", "ParseOverride", shared.ErrInvalidFormat,
		fmt.Sprintf("override %q: %s", s, msg), shared.ErrInvalidOverride)
}

// ApplyOverrides applies overrides to rec in order; later overrides of the
// same component win. A pending component becomes recorded.
// rec must be a private copy: it is modified in place, and on error it may
// be partially modified.
func ApplyOverrides(rec *grade.StudentRecord, overrides []Override) error {
	for i, o := range overrides {
		if math.IsNaN(o.Value) || o.Value < grade.MinGrade || o.Value > grade.MaxGrade {
			return invalid(i, o, shared.ErrValueOutOfRange)
		}
		subject, ok := rec.Subject(o.SubjectID)
		if !ok {
			return invalid(i, o, fmt.Errorf("subject %q not in record", o.SubjectID))
		}
		c, ok := subject.Component(o.Kind)
		if !ok {
			return invalid(i, o, fmt.Errorf("subject %q has no %s component", o.SubjectID, o.Kind))
		}
		c.Value = o.Value
		c.Pending = false
	}
	return nil
}

func invalid(i int, o Override, cause error) error {
	return shared.WrapError("simulation", "ApplyOverrides", shared.ErrValidation,
		fmt.Sprintf("override #%d (%s): %v", i+1, o, cause), shared.ErrInvalidOverride)
}
