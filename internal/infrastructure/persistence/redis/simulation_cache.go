package redis

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/gradehub/orientation-engine/internal/domain/cohort"
	"github.com/gradehub/orientation-engine/internal/domain/grade"
	"github.com/gradehub/orientation-engine/internal/domain/simulation"
)

// ══════════════════════════════════════════════════════════════════════════════
// SIMULATION CACHE
// ══════════════════════════════════════════════════════════════════════════════

// SimulationCache stores simulation results keyed by a fingerprint of
// everything the result depends on.
type SimulationCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewSimulationCache creates a SimulationCache. A zero ttl uses TTLSimulation.
func NewSimulationCache(cache *Cache, ttl time.Duration) *SimulationCache {
	if ttl <= 0 {
		ttl = TTLSimulation
	}
	return &SimulationCache{cache: cache, ttl: ttl}
}

// fingerprintInput is the canonical form hashed by Fingerprint.
type fingerprintInput struct {
	Record    *grade.StudentRecord               `msgpack:"record"`
	Overrides []simulation.Override              `msgpack:"overrides"`
	Baselines map[cohort.Track][]cohort.Baseline `msgpack:"baselines"`
	Scope     []string                           `msgpack:"scope"`
}

// Fingerprint returns a hex blake2b-256 digest of the record, the overrides
// in order, the admission baselines and scope strings such as the peer
// snapshot id. Override order matters because the last write wins.
func Fingerprint(rec *grade.StudentRecord, overrides []simulation.Override, baselines map[cohort.Track][]cohort.Baseline, scope ...string) (string, error) {
	data, err := encode(fingerprintInput{Record: rec, Overrides: overrides, Baselines: baselines, Scope: scope})
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func simulationKey(fingerprint string) string {
	return prefixSimulation + fingerprint
}

// Get returns the cached result for a fingerprint. The bool is false on a miss.
func (c *SimulationCache) Get(ctx context.Context, fingerprint string) (*simulation.Result, bool, error) {
	var res simulation.Result
	if err := c.cache.Get(ctx, simulationKey(fingerprint), &res); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read simulation %s: %w", fingerprint, err)
	}
	return &res, true, nil
}

// Set stores a result under its fingerprint.
func (c *SimulationCache) Set(ctx context.Context, fingerprint string, res *simulation.Result) error {
	return c.cache.Set(ctx, simulationKey(fingerprint), res, c.ttl)
}

// Key returns the cache key of a simulation request.
func (c *SimulationCache) Key(rec *grade.StudentRecord, overrides []simulation.Override, baselines map[cohort.Track][]cohort.Baseline, scope ...string) (string, error) {
	return Fingerprint(rec, overrides, baselines, scope...)
}
