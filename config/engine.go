package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v3"

	"github.com/gradehub/orientation-engine/internal/domain/cohort"
	"github.com/gradehub/orientation-engine/internal/domain/grade"
	"github.com/gradehub/orientation-engine/internal/domain/orientation"
	"github.com/gradehub/orientation-engine/internal/domain/shared"
)

// EngineFile is the on-disk shape of the engine configuration.
type EngineFile struct {
	Weighting        cohort.Weighting              `yaml:"weighting"`
	TieBreak         []grade.SubjectID             `yaml:"tie_break" validate:"dive,required"`
	HistoryYears     []int                         `yaml:"history_years" validate:"dive,gte=1900,lte=2100"`
	BenchmarkOverall float64                       `yaml:"benchmark_overall" validate:"gte=0,lte=20"`
	Formulas         []orientation.Formula         `yaml:"formulas" validate:"required,min=1,dive"`
	Eligibility      []orientation.EligibilityRule `yaml:"eligibility" validate:"dive"`
}

// Engine is the loaded, immutable engine configuration. It is built once
// at startup and passed explicitly to every component that needs it.
type Engine struct {
	Orientation  *orientation.Engine
	tieBreak     []grade.SubjectID
	historyYears []int
	digest       string
}

// TieBreak returns the display tie-break subject priority.
func (e *Engine) TieBreak() []grade.SubjectID {
	return append([]grade.SubjectID(nil), e.tieBreak...)
}

// HistoryYears returns the historical years used for baselines and subject
// means.
func (e *Engine) HistoryYears() []int {
	return append([]int(nil), e.historyYears...)
}

// Digest identifies the rules: two engines built from equivalent files
// share a digest.
func (e *Engine) Digest() string {
	return e.digest
}

// DefaultEngineFile mirrors the built-in MPI orientation rules.
func DefaultEngineFile() EngineFile {
	s := orientation.DefaultSettings()
	return EngineFile{
		Weighting:        s.Weighting,
		TieBreak:         []grade.SubjectID{orientation.SubjectAlgo1, orientation.SubjectAnalyse1},
		HistoryYears:     []int{2022, 2023},
		BenchmarkOverall: orientation.DefaultBenchmarkOverall,
		Formulas:         s.Formulas,
		Eligibility:      s.Eligibility,
	}
}

// LoadEngine reads and validates the engine configuration at path. An empty
// path yields the built-in defaults.
func LoadEngine(path string) (*Engine, error) {
	if path == "" {
		return BuildEngine(DefaultEngineFile())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read engine config %s: %w", path, err)
	}
	return ParseEngine(data)
}

// ParseEngine decodes YAML engine configuration. Unknown fields are errors.
func ParseEngine(data []byte) (*Engine, error) {
	var file EngineFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, shared.WrapError("config", "ParseEngine", shared.ErrInvalidFormat, "decode engine config", err)
	}
	return BuildEngine(file)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// BuildEngine validates an engine file and builds the immutable engine.
func BuildEngine(file EngineFile) (*Engine, error) {
	if err := validate.Struct(file); err != nil {
		return nil, validationError(err)
	}
	if file.Weighting.Scheme == "" {
		file.Weighting = cohort.DefaultWeighting()
	}
	if file.BenchmarkOverall == 0 {
		file.BenchmarkOverall = orientation.DefaultBenchmarkOverall
	}

	o, err := orientation.NewEngine(orientation.Settings{
		Formulas:         file.Formulas,
		Weighting:        file.Weighting,
		Eligibility:      file.Eligibility,
		BenchmarkOverall: file.BenchmarkOverall,
	})
	if err != nil {
		return nil, err
	}

	digest, err := digestFile(file)
	if err != nil {
		return nil, err
	}

	return &Engine{
		Orientation:  o,
		tieBreak:     append([]grade.SubjectID(nil), file.TieBreak...),
		historyYears: append([]int(nil), file.HistoryYears...),
		digest:       digest,
	}, nil
}

// digestFile hashes the normalized file. yaml.v3 writes map keys sorted,
// so subject weight order does not matter.
func digestFile(file EngineFile) (string, error) {
	data, err := yaml.Marshal(file)
	if err != nil {
		return "", fmt.Errorf("encode engine config: %w", err)
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:8]), nil
}

// validationError flattens validator errors. Failures inside formulas are
// reported as malformed formulas.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return shared.WrapError("config", "BuildEngine", shared.ErrValidation, "invalid engine config", err)
	}

	msgs := make([]string, 0, len(verrs))
	inFormula := false
	for _, fe := range verrs {
		if strings.Contains(fe.Namespace(), ".Formulas") {
			inFormula = true
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}

	cause := error(shared.ErrValidation)
	if inFormula {
		cause = shared.ErrMalformedFormula
	}
	return shared.WrapError("config", "BuildEngine", shared.ErrValidation,
		"invalid engine config: "+strings.Join(msgs, "; "), cause)
}
