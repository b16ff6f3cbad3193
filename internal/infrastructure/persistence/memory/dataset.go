package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gradehub/orientation-engine/internal/domain/cohort"
	"github.com/gradehub/orientation-engine/internal/domain/grade"
	"github.com/gradehub/orientation-engine/internal/domain/shared"
)

// Dataset is a self-contained snapshot of grades and cohort history.
type Dataset struct {
	Records      []*grade.StudentRecord `json:"records" yaml:"records"`
	Baselines    []cohort.Baseline      `json:"baselines" yaml:"baselines"`
	SubjectMeans []cohort.SubjectMean   `json:"subject_means" yaml:"subject_means"`
}

// LoadDataset reads a dataset file. Files ending in .json are decoded as
// JSON, everything else as YAML. Unknown fields are rejected.
func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", path, err)
	}

	var ds Dataset
	if strings.EqualFold(filepath.Ext(path), ".json") {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&ds)
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&ds)
	}
	if err != nil {
		return nil, shared.WrapError("memory", "LoadDataset", shared.ErrInvalidFormat, "decode "+path, err)
	}

	for _, rec := range ds.Records {
		if err := rec.Validate(); err != nil {
			return nil, err
		}
	}
	return &ds, nil
}

// Stores loads the dataset into fresh in-memory stores.
func (ds *Dataset) Stores() (*GradeStore, *CohortStore) {
	return NewGradeStore(ds.Records...), NewCohortStore(ds.Baselines, ds.SubjectMeans)
}
