package query

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gradehub/orientation-engine/internal/domain/cohort"
	"github.com/gradehub/orientation-engine/internal/domain/grade"
	"github.com/gradehub/orientation-engine/internal/domain/shared"
	"github.com/gradehub/orientation-engine/internal/domain/simulation"
	"github.com/gradehub/orientation-engine/internal/infrastructure/metrics"
	"github.com/gradehub/orientation-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SIMULATE QUERY
// Answers "what if this grade were X": the stored record is never changed.
// ══════════════════════════════════════════════════════════════════════════════

// MaxOverrides bounds the overrides of a single simulation.
const MaxOverrides = 100

// SimulateQuery contains the parameters of a simulation request.
type SimulateQuery struct {
	StudentID grade.StudentID
	Year      int
	Overrides []simulation.Override
}

// Validate checks the query parameters. Overrides are checked against the
// record by the simulation engine.
func (q SimulateQuery) Validate() error {
	if err := validateStudentYear("Simulate", q.StudentID, q.Year); err != nil {
		return err
	}
	if len(q.Overrides) > MaxOverrides {
		return shared.NewDomainError("query", "Simulate", shared.ErrValueOutOfRange,
			fmt.Sprintf("at most %d overrides per simulation", MaxOverrides))
	}
	return nil
}

// SimulationCache stores simulation results by request fingerprint.
type SimulationCache interface {
	Key(rec *grade.StudentRecord, overrides []simulation.Override, baselines map[cohort.Track][]cohort.Baseline, scope ...string) (string, error)
	Get(ctx context.Context, key string) (*simulation.Result, bool, error)
	Set(ctx context.Context, key string, res *simulation.Result) error
}

// SimulateResult wraps the simulation result with request metadata.
type SimulateResult struct {
	*simulation.Result
	StudentID   grade.StudentID `json:"student_id"`
	Year        int             `json:"year"`
	Cached      bool            `json:"cached"`
	StandingsID string          `json:"standings_id,omitempty"`
}

// SimulateHandler runs simulations.
type SimulateHandler struct {
	sources *Sources
	engine  *simulation.Engine
	cache   SimulationCache
	metrics *metrics.Metrics
}

// NewSimulateHandler creates a new handler. cache and m may be nil.
func NewSimulateHandler(sources *Sources, cache SimulationCache, m *metrics.Metrics) *SimulateHandler {
	return &SimulateHandler{
		sources: sources,
		engine:  simulation.NewEngine(sources.Orientation),
		cache:   cache,
		metrics: m,
	}
}

// Handle runs one simulation.
func (h *SimulateHandler) Handle(ctx context.Context, q SimulateQuery) (res *SimulateResult, err error) {
	start := time.Now()
	log := h.sources.log().With(
		logger.StudentID(string(q.StudentID)),
		logger.Year(q.Year),
		logger.Overrides(len(q.Overrides)),
	)

	outcome := metrics.ResultOK
	defer func() {
		switch {
		case err != nil && (shared.IsValidation(err) || shared.IsInvalidOverride(err)):
			outcome = metrics.ResultInvalid
		case err != nil:
			outcome = metrics.ResultError
		}
		h.metrics.ObserveSimulation(outcome, len(q.Overrides), time.Since(start))
	}()

	if err := q.Validate(); err != nil {
		return nil, err
	}

	sc, err := h.sources.loadStudent(ctx, q.StudentID, q.Year, false)
	if err != nil {
		return nil, err
	}

	key := h.cacheKey(sc, q.Overrides)
	if key != "" {
		cached, hit, err := h.cache.Get(ctx, key)
		if err != nil {
			log.Warn("simulation cache read failed", logger.Err(err))
		} else if hit {
			outcome = metrics.ResultCached
			log.Debug("simulation served from cache", logger.Latency(time.Since(start)))
			return h.wrap(q, sc, cached, true), nil
		}
	}

	result, err := h.engine.Simulate(ctx, simulation.Input{
		Record:    sc.record,
		Peers:     sc.standings.Reports(),
		Baselines: sc.history.baselines,
	}, q.Overrides)
	if err != nil {
		return nil, err
	}

	if key != "" {
		if err := h.cache.Set(ctx, key, result); err != nil {
			log.Warn("simulation cache write failed", logger.Err(err))
		}
	}

	log.Info("simulation completed",
		logger.Float64("overall_delta", result.Delta.Overall),
		logger.String("rank_delta", result.Delta.Rank.String()),
		logger.String("rank_move", string(result.Delta.Rank.Direction())),
		logger.Int("rank_places", result.Delta.Rank.Abs()),
		logger.Latency(time.Since(start)),
	)
	return h.wrap(q, sc, result, false), nil
}

// cacheKey fingerprints the request. Results also depend on the peer
// snapshot, the engine rules and the admission baselines, so all of them
// are part of the key. An empty key disables caching for the request.
func (h *SimulateHandler) cacheKey(sc *studentContext, overrides []simulation.Override) string {
	if h.cache == nil || sc.standings.ID == "" {
		return ""
	}
	scope := []string{sc.standings.ID, h.sources.RulesDigest}
	for _, y := range h.sources.HistoryYears {
		scope = append(scope, strconv.Itoa(y))
	}
	key, err := h.cache.Key(sc.record, overrides, sc.history.baselines, scope...)
	if err != nil {
		h.sources.log().Warn("simulation fingerprint failed", logger.Err(err))
		return ""
	}
	return key
}

func (h *SimulateHandler) wrap(q SimulateQuery, sc *studentContext, r *simulation.Result, cached bool) *SimulateResult {
	return &SimulateResult{
		Result:      r,
		StudentID:   q.StudentID,
		Year:        q.Year,
		Cached:      cached,
		StandingsID: sc.standings.ID,
	}
}
