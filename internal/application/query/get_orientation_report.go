package query

import (
	"context"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/gradehub/orientation-engine/internal/domain/average"
	"github.com/gradehub/orientation-engine/internal/domain/cohort"
	"github.com/gradehub/orientation-engine/internal/domain/grade"
	"github.com/gradehub/orientation-engine/internal/domain/orientation"
	"github.com/gradehub/orientation-engine/internal/domain/ranking"
	"github.com/gradehub/orientation-engine/internal/domain/simulation"
	"github.com/gradehub/orientation-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET ORIENTATION REPORT QUERY
// Evaluates a student's real record and compares every subject with the
// section and with historical cohorts of each track.
// ══════════════════════════════════════════════════════════════════════════════

// GetOrientationReportQuery contains the parameters of a report request.
type GetOrientationReportQuery struct {
	StudentID grade.StudentID
	Year      int
}

// Validate checks the query parameters.
func (q GetOrientationReportQuery) Validate() error {
	return validateStudentYear("GetOrientationReport", q.StudentID, q.Year)
}

// SubjectComparisonDTO puts one subject average next to its reference means.
type SubjectComparisonDTO struct {
	SubjectID   grade.SubjectID `json:"subject_id"`
	Name        string          `json:"name,omitempty"`
	Coefficient float64         `json:"coefficient"`
	Average     float64         `json:"average"`
	Complete    bool            `json:"complete"`

	// SectionMean is the mean of complete peer averages, absent when no
	// peer has the subject complete.
	SectionMean *float64 `json:"section_mean,omitempty"`

	// HistoricalMeans holds the weighted historical mean among students
	// admitted to each track.
	HistoricalMeans map[cohort.Track]float64 `json:"historical_means,omitempty"`
}

// OrientationReport is the result of GetOrientationReport.
type OrientationReport struct {
	StudentID grade.StudentID `json:"student_id"`
	Section   grade.Section   `json:"section"`
	Year      int             `json:"year"`

	Overall  average.Overall        `json:"overall"`
	Position ranking.Position       `json:"position"`
	Subjects []SubjectComparisonDTO `json:"subjects"`

	Scores         orientation.ScoreTable                   `json:"scores"`
	Probabilities  map[cohort.Track]orientation.Probability `json:"probabilities"`
	TrackPositions map[cohort.Track]ranking.Position        `json:"track_positions"`
	Eligibility    map[cohort.Track]orientation.Eligibility `json:"eligibility"`

	// Benchmarks compares each primary score with the same formula applied
	// to the track's historical subject means.
	Benchmarks map[cohort.Track]orientation.Benchmark `json:"benchmarks,omitempty"`

	StandingsID string    `json:"standings_id,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// GetOrientationReportHandler builds orientation reports.
type GetOrientationReportHandler struct {
	sources *Sources
	engine  *simulation.Engine
}

// NewGetOrientationReportHandler creates a new handler.
func NewGetOrientationReportHandler(sources *Sources) *GetOrientationReportHandler {
	return &GetOrientationReportHandler{
		sources: sources,
		engine:  simulation.NewEngine(sources.Orientation),
	}
}

// Handle builds the report of one student for one year.
func (h *GetOrientationReportHandler) Handle(ctx context.Context, q GetOrientationReportQuery) (*OrientationReport, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	sc, err := h.sources.loadStudent(ctx, q.StudentID, q.Year, true)
	if err != nil {
		return nil, err
	}

	peers := sc.standings.Reports()
	out := h.engine.Evaluate(sc.record, peers, sc.history.baselines)

	historical := make(map[cohort.Track]map[grade.SubjectID]float64, len(sc.history.means))
	for track, means := range sc.history.means {
		historical[track] = h.sources.Orientation.HistoricalMeans(means)
	}

	subjects := make([]SubjectComparisonDTO, len(sc.record.Subjects))
	for i, subj := range sc.record.Subjects {
		sa, _ := out.Averages.Subject(subj.ID)
		dto := SubjectComparisonDTO{
			SubjectID:   subj.ID,
			Name:        subj.Name,
			Coefficient: subj.Coefficient,
			Average:     sa.Value,
			Complete:    sa.Complete,
			SectionMean: sectionMean(subj.ID, peers),
		}
		for track, means := range historical {
			if m, ok := means[subj.ID]; ok {
				if dto.HistoricalMeans == nil {
					dto.HistoricalMeans = make(map[cohort.Track]float64)
				}
				dto.HistoricalMeans[track] = m
			}
		}
		subjects[i] = dto
	}
	benchmarks := h.sources.Orientation.Benchmarks(out.Scores, historical)

	log := h.sources.log().With(logger.StudentID(string(q.StudentID)), logger.Year(q.Year))
	for _, track := range h.sources.Orientation.Tracks() {
		if el, ok := out.Eligibility[track]; ok {
			log.Debug("track eligibility", logger.Track(string(track)), logger.String("status", string(el.Status)))
		}
		if b, ok := benchmarks[track]; ok {
			log.Debug("track benchmark", logger.Track(string(track)), logger.Float64("benchmark", b.Value), logger.Float64("ratio", b.Ratio))
		}
	}
	log.Debug("orientation report built", logger.Latency(time.Since(start)))

	return &OrientationReport{
		StudentID:      sc.record.StudentID,
		Section:        sc.record.Section,
		Year:           q.Year,
		Overall:        out.Averages.Overall,
		Position:       out.Position,
		Subjects:       subjects,
		Scores:         out.Scores,
		Probabilities:  out.Probabilities,
		TrackPositions: out.TrackPositions,
		Eligibility:    out.Eligibility,
		Benchmarks:     benchmarks,
		StandingsID:    sc.standings.ID,
		GeneratedAt:    time.Now().UTC(),
	}, nil
}

// sectionMean averages the complete peer averages of a subject.
func sectionMean(id grade.SubjectID, peers []average.Report) *float64 {
	values := make([]float64, 0, len(peers))
	for _, p := range peers {
		if sa, ok := p.Subject(id); ok && sa.Complete {
			values = append(values, sa.Value)
		}
	}
	if len(values) == 0 {
		return nil
	}
	m := stat.Mean(values, nil)
	return &m
}
