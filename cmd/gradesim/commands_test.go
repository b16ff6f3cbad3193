package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradehub/orientation-engine/internal/domain/shared"
)

const testEngine = `
tie_break: [analysis]
history_years: [2024]
formulas:
  - id: gl
    track: GL
    version: 1
    overall_weight: 2
    subject_weights:
      analysis: 1
`

const testDataset = `
records:
  - student_id: a
    section: mpi
    year: 2025
    subjects:
      - id: analysis
        name: Analysis
        coefficient: 1
        components:
          - {kind: EXAM, value: 16, weight: 1}
  - student_id: b
    section: mpi
    year: 2025
    subjects:
      - id: analysis
        name: Analysis
        coefficient: 1
        components:
          - {kind: EXAM, value: 14, weight: 1}
baselines:
  - track: GL
    year: 2024
    distribution:
      - {score: 38, admitted_count: 1}
      - {score: 46, admitted_count: 1}
`

func writeFiles(t *testing.T) (dataset, engine string) {
	t.Helper()
	dir := t.TempDir()
	dataset = filepath.Join(dir, "grades.yaml")
	engine = filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(dataset, []byte(testDataset), 0o600))
	require.NoError(t, os.WriteFile(engine, []byte(testEngine), 0o600))
	return dataset, engine
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSimulateCommand(t *testing.T) {
	dataset, engine := writeFiles(t)

	out, err := execute(t, "simulate", "-i", dataset, "-c", engine, "-y", "2025", "-s", "b", "-o", "analysis:exam=17")
	require.NoError(t, err)

	var res struct {
		StudentID string `json:"student_id"`
		Delta     struct {
			Overall float64 `json:"overall"`
			Rank    int     `json:"rank"`
		} `json:"delta"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "b", res.StudentID)
	assert.InDelta(t, 3, res.Delta.Overall, 1e-9)
	assert.Equal(t, -1, res.Delta.Rank)
}

func TestSimulateCommand_BadOverride(t *testing.T) {
	dataset, engine := writeFiles(t)

	_, err := execute(t, "simulate", "-i", dataset, "-c", engine, "-y", "2025", "-s", "b", "-o", "analysis=17")
	require.Error(t, err)
	assert.True(t, shared.IsInvalidOverride(err))
}

func TestSimulateCommand_UnknownStudent(t *testing.T) {
	dataset, engine := writeFiles(t)

	_, err := execute(t, "simulate", "-i", dataset, "-c", engine, "-y", "2025", "-s", "zz")
	require.Error(t, err)
	assert.True(t, shared.IsNotFound(err))
}

func TestReportCommand(t *testing.T) {
	dataset, engine := writeFiles(t)

	out, err := execute(t, "report", "-i", dataset, "-c", engine, "-y", "2024-2025", "-s", "a")
	require.NoError(t, err)

	var rep struct {
		Position struct {
			Rank int `json:"rank"`
		} `json:"position"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, 1, rep.Position.Rank)
}

func TestRankingCommand(t *testing.T) {
	dataset, engine := writeFiles(t)

	out, err := execute(t, "ranking", "-i", dataset, "-c", engine, "-y", "2025", "--section", "MPI", "--viewer", "b")
	require.NoError(t, err)

	var res struct {
		Total   int `json:"total"`
		Entries []struct {
			StudentID string `json:"student_id"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 2, res.Total)
	require.Len(t, res.Entries, 2)
	assert.Empty(t, res.Entries[0].StudentID)
	assert.Equal(t, "b", res.Entries[1].StudentID)
}

func TestValidateConfigCommand(t *testing.T) {
	_, engine := writeFiles(t)

	out, err := execute(t, "validate-config", "-c", engine)
	require.NoError(t, err)
	assert.Contains(t, out, "ok: 1 formulas")
	assert.Contains(t, out, "GL")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("formulas: []\n"), 0o600))
	_, err = execute(t, "validate-config", "-c", bad)
	assert.Error(t, err)
}

func TestSimulateCommand_RequiresFlags(t *testing.T) {
	_, err := execute(t, "simulate")
	assert.Error(t, err)
}

func TestYearFlag_RejectsBadRange(t *testing.T) {
	dataset, engine := writeFiles(t)

	_, err := execute(t, "report", "-i", dataset, "-c", engine, "-y", "2023-2025", "-s", "a")
	assert.ErrorContains(t, err, "consecutive")
}
