package ranking

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradehub/orientation-engine/internal/domain/average"
	"github.com/gradehub/orientation-engine/internal/domain/grade"
)

func defined(v float64) average.Overall {
	return average.Overall{Value: v, Defined: true}
}

func TestCompute_CompetitionRanking(t *testing.T) {
	pos := Compute(defined(16), []float64{18, 16, 16, 14})

	require.Equal(t, StatusRanked, pos.Status)
	assert.Equal(t, Rank(2), pos.Rank)
	assert.InDelta(t, 0.5, pos.Percentile, 1e-12)
	assert.Equal(t, 4, pos.PeerCount)
	assert.Equal(t, 50.0, pos.TopPercent())
}

func TestCompute_States(t *testing.T) {
	t.Run("undefined average is unranked", func(t *testing.T) {
		pos := Compute(average.Undefined, []float64{12, 11})
		assert.Equal(t, StatusUnranked, pos.Status)
		assert.False(t, pos.Rank.IsValid())
		assert.Equal(t, "-", pos.Rank.String())
	})
	t.Run("empty peer set", func(t *testing.T) {
		pos := Compute(defined(12), nil)
		assert.Equal(t, StatusEmptyPeerSet, pos.Status)
		assert.False(t, pos.Ranked())
	})
	t.Run("rank never exceeds peer count", func(t *testing.T) {
		pos := Compute(defined(5), []float64{10, 9})
		assert.Equal(t, Rank(2), pos.Rank)
		assert.InDelta(t, 1.0, pos.Percentile, 1e-12)
	})
}

func TestCompute_PermutationInvariant(t *testing.T) {
	peers := []float64{9.5, 14, 14, 17.25, 11, 8, 14, 19}
	want := Compute(defined(14), peers)

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]float64(nil), peers...)
		r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, Compute(defined(14), shuffled))
	}
}

func TestDelta(t *testing.T) {
	real := Position{Status: StatusRanked, Rank: 5}
	sim := Position{Status: StatusRanked, Rank: 2}

	d, ok := Delta(real, sim)
	require.True(t, ok)
	assert.Equal(t, RankDelta(-3), d)
	assert.Equal(t, DirectionUp, d.Direction())
	assert.Equal(t, "-3", d.String())
	assert.Equal(t, 3, d.Abs())

	_, ok = Delta(real, Position{Status: StatusUnranked})
	assert.False(t, ok)
}

func record(id string, subjects ...grade.Subject) *grade.StudentRecord {
	return &grade.StudentRecord{StudentID: grade.StudentID(id), Section: "mpi", Year: 2025, Subjects: subjects}
}

func subj(id string, value float64) grade.Subject {
	return grade.Subject{
		ID:          grade.SubjectID(id),
		Coefficient: 1,
		Components:  []grade.Component{{Kind: grade.KindExam, Value: value, Weight: 1}},
	}
}

func TestBuild_RanksAndOrders(t *testing.T) {
	records := []*grade.StudentRecord{
		record("c", subj("math", 16), subj("info", 12)), // 14
		record("a", subj("math", 18)),                   // 18
		record("b", subj("math", 12), subj("info", 16)), // 14
		record("d", grade.Subject{ID: "math", Coefficient: 1}),
		record("e", subj("math", 10)),
	}

	s, err := Build(context.Background(), "mpi", 2025, records, Options{TieBreak: []grade.SubjectID{"info"}, Workers: 2})
	require.NoError(t, err)

	ids := make([]grade.StudentID, 0, s.Count())
	for _, e := range s.Entries {
		ids = append(ids, e.StudentID)
	}
	assert.Equal(t, []grade.StudentID{"a", "b", "c", "e", "d"}, ids)
	assert.Equal(t, 4, s.PeerCount)

	b, ok := s.Lookup("b")
	require.True(t, ok)
	c, _ := s.Lookup("c")
	assert.Equal(t, Rank(2), b.Rank)
	assert.Equal(t, Rank(2), c.Rank)
	assert.Equal(t, 2, b.Position)
	assert.Equal(t, 3, c.Position)

	e, _ := s.Lookup("e")
	assert.Equal(t, Rank(4), e.Rank)
	assert.InDelta(t, 1.0, e.Percentile, 1e-12)

	d, _ := s.Lookup("d")
	assert.Equal(t, StatusUnranked, d.Status)
	assert.Equal(t, 5, d.Position)
}

func TestBuild_TieBreakDoesNotChangeRank(t *testing.T) {
	records := []*grade.StudentRecord{
		record("x", subj("math", 16), subj("info", 12)),
		record("y", subj("math", 12), subj("info", 16)),
	}

	byMath, err := Build(context.Background(), "mpi", 2025, records, Options{TieBreak: []grade.SubjectID{"math"}})
	require.NoError(t, err)
	byInfo, err := Build(context.Background(), "mpi", 2025, records, Options{TieBreak: []grade.SubjectID{"info"}})
	require.NoError(t, err)

	assert.Equal(t, grade.StudentID("x"), byMath.Entries[0].StudentID)
	assert.Equal(t, grade.StudentID("y"), byInfo.Entries[0].StudentID)
	for _, s := range []*Standings{byMath, byInfo} {
		for _, e := range s.Entries {
			assert.Equal(t, Rank(1), e.Rank)
		}
	}
}

func TestBuild_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Build(ctx, "mpi", 2025, []*grade.StudentRecord{record("a", subj("math", 10))}, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStandings_Slices(t *testing.T) {
	records := make([]*grade.StudentRecord, 0, 6)
	for i, v := range []float64{20, 18, 16, 14, 12, 10} {
		records = append(records, record(string(rune('a'+i)), subj("math", v)))
	}
	s, err := Build(context.Background(), "mpi", 2025, records, Options{})
	require.NoError(t, err)

	assert.Len(t, s.Page(2, 4), 2)
	assert.Nil(t, s.Page(3, 4))

	n := s.Neighbors("c", 1)
	require.Len(t, n, 3)
	assert.Equal(t, grade.StudentID("b"), n[0].StudentID)
	assert.Equal(t, grade.StudentID("d"), n[2].StudentID)
}

func TestComputeInSection_ReplacesOwnEntry(t *testing.T) {
	peers := []average.Report{
		{StudentID: "a", Overall: defined(18)},
		{StudentID: "me", Overall: defined(10)},
		{StudentID: "b", Overall: defined(16)},
		{StudentID: "c"},
	}

	pos := ComputeInSection("me", defined(17), peers)
	assert.Equal(t, Rank(2), pos.Rank)
	assert.Equal(t, 3, pos.PeerCount)

	pos = ComputeInSection("new", defined(17), peers)
	assert.Equal(t, Rank(2), pos.Rank)
	assert.Equal(t, 4, pos.PeerCount)

	pos = ComputeInSection("me", average.Undefined, peers)
	assert.Equal(t, StatusUnranked, pos.Status)
}

func TestStandings_Reports(t *testing.T) {
	reports := []average.Report{
		{StudentID: "a", Overall: defined(12), Subjects: []average.SubjectAverage{
			{SubjectID: "z", Value: 10, Coefficient: 1, Complete: true},
			{SubjectID: "b", Value: 14, Coefficient: 1, Complete: true},
		}},
		{StudentID: "u"},
	}
	s := FromReports("mpi", 2025, reports, nil)

	got := s.Reports()
	require.Len(t, got, 2)
	assert.Equal(t, grade.StudentID("a"), got[0].StudentID)
	assert.Equal(t, defined(12), got[0].Overall)
	require.Len(t, got[0].Subjects, 2)
	assert.Equal(t, grade.SubjectID("b"), got[0].Subjects[0].SubjectID)
	assert.False(t, got[1].Overall.Defined)
}
