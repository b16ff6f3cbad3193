package query

import (
	"context"
	"fmt"
	"time"

	"github.com/gradehub/orientation-engine/internal/domain/grade"
	"github.com/gradehub/orientation-engine/internal/domain/ranking"
	"github.com/gradehub/orientation-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET SECTION RANKING QUERY
// Returns the ordered standings of a section. Other students stay
// anonymous: only the viewer's own line carries a student id.
// ══════════════════════════════════════════════════════════════════════════════

const (
	defaultPageSize = 50
	maxPageSize     = 200
	maxAround       = 10
)

// GetSectionRankingQuery contains the parameters of a ranking request.
type GetSectionRankingQuery struct {
	Section  grade.Section
	Year     int
	Page     int
	PageSize int

	// ViewerID is the requesting student, if any.
	ViewerID grade.StudentID

	// Around asks for up to Around lines on each side of the viewer.
	Around int
}

// Validate checks the parameters and fills in paging defaults.
func (q *GetSectionRankingQuery) Validate() error {
	if q.Section.Normalize() == "" {
		return shared.NewDomainError("query", "GetSectionRanking", shared.ErrEmptyValue, "section is required")
	}
	if q.Year < 1900 || q.Year > 2100 {
		return shared.NewDomainError("query", "GetSectionRanking", shared.ErrValueOutOfRange, fmt.Sprintf("year %d out of range", q.Year))
	}
	if q.Page < 0 || q.PageSize < 0 || q.Around < 0 {
		return shared.NewDomainError("query", "GetSectionRanking", shared.ErrNegativeValue, "page, page_size and around cannot be negative")
	}
	if q.Around > maxAround {
		q.Around = maxAround
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PageSize == 0 {
		q.PageSize = defaultPageSize
	}
	if q.PageSize > maxPageSize {
		q.PageSize = maxPageSize
	}
	return nil
}

// RankingEntryDTO is one line of a section ranking.
type RankingEntryDTO struct {
	Position   int             `json:"position"`
	Status     ranking.Status  `json:"status"`
	Rank       ranking.Rank    `json:"rank,omitempty"`
	Average    *float64        `json:"average,omitempty"`
	Percentile float64         `json:"percentile,omitempty"`
	TopPercent float64         `json:"top_percent,omitempty"`
	StudentID  grade.StudentID `json:"student_id,omitempty"`
	IsViewer   bool            `json:"is_viewer,omitempty"`
}

// SectionRankingResult is the result of GetSectionRanking.
type SectionRankingResult struct {
	Section     grade.Section     `json:"section"`
	Year        int               `json:"year"`
	StandingsID string            `json:"standings_id"`
	BuiltAt     time.Time         `json:"built_at"`
	Total       int               `json:"total"`
	PeerCount   int               `json:"peer_count"`
	Page        int               `json:"page"`
	PageSize    int               `json:"page_size"`
	Entries     []RankingEntryDTO `json:"entries"`

	// Viewer is the viewer's own line, present even when it is on another page.
	Viewer *RankingEntryDTO `json:"viewer,omitempty"`

	// Neighbors are the lines around the viewer, the viewer included.
	Neighbors []RankingEntryDTO `json:"neighbors,omitempty"`
}

// GetSectionRankingHandler serves section rankings.
type GetSectionRankingHandler struct {
	sources *Sources
}

// NewGetSectionRankingHandler creates a new handler.
func NewGetSectionRankingHandler(sources *Sources) *GetSectionRankingHandler {
	return &GetSectionRankingHandler{sources: sources}
}

// Handle returns one page of a section's standings. An unknown section
// yields an empty ranking.
func (h *GetSectionRankingHandler) Handle(ctx context.Context, q GetSectionRankingQuery) (*SectionRankingResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	st, err := h.sources.sectionStandings(ctx, q.Section, q.Year)
	if err != nil {
		return nil, err
	}

	page := st.Page(q.Page, q.PageSize)
	out := &SectionRankingResult{
		Section:     st.Section,
		Year:        st.Year,
		StandingsID: st.ID,
		BuiltAt:     st.BuiltAt,
		Total:       st.Count(),
		PeerCount:   st.PeerCount,
		Page:        q.Page,
		PageSize:    q.PageSize,
		Entries:     make([]RankingEntryDTO, len(page)),
	}
	for i, e := range page {
		out.Entries[i] = toRankingEntry(e, st.PeerCount, q.ViewerID)
	}

	if q.ViewerID != "" {
		if e, ok := st.Lookup(q.ViewerID); ok {
			dto := toRankingEntry(e, st.PeerCount, q.ViewerID)
			out.Viewer = &dto
		}
		if q.Around > 0 {
			for _, n := range st.Neighbors(q.ViewerID, q.Around) {
				out.Neighbors = append(out.Neighbors, toRankingEntry(n, st.PeerCount, q.ViewerID))
			}
		}
	}
	return out, nil
}

func toRankingEntry(e ranking.Entry, peerCount int, viewer grade.StudentID) RankingEntryDTO {
	pos := e.PositionInfo(peerCount)
	dto := RankingEntryDTO{
		Position:   e.Position,
		Status:     pos.Status,
		Rank:       pos.Rank,
		Percentile: pos.Percentile,
		TopPercent: pos.TopPercent(),
	}
	if e.Overall.Defined {
		v := e.Overall.Value
		dto.Average = &v
	}
	if viewer != "" && e.StudentID == viewer {
		dto.StudentID = e.StudentID
		dto.IsViewer = true
	}
	return dto
}
