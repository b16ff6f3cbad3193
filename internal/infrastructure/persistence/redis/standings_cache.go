package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gradehub/orientation-engine/internal/domain/grade"
	"github.com/gradehub/orientation-engine/internal/domain/ranking"
	"github.com/gradehub/orientation-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STANDINGS CACHE
// ══════════════════════════════════════════════════════════════════════════════

// StandingsCache stores section standings in Redis.
//
// Layout per section and year:
//   - Sorted set "ranking:order:{section}:{year}" maps studentID to display position
//   - Hash "ranking:info:{section}:{year}" maps studentID to the msgpack entry
//   - String "ranking:meta:{section}:{year}" holds the msgpack standings header
type StandingsCache struct {
	cache *Cache
}

// NewStandingsCache creates a new StandingsCache.
func NewStandingsCache(cache *Cache) *StandingsCache {
	return &StandingsCache{cache: cache}
}

var _ ranking.StandingsCache = (*StandingsCache)(nil)

// standingsMeta is the standings header without entries.
type standingsMeta struct {
	ID        string        `msgpack:"id"`
	Section   grade.Section `msgpack:"section"`
	Year      int           `msgpack:"year"`
	BuiltAt   time.Time     `msgpack:"built_at"`
	PeerCount int           `msgpack:"peer_count"`
	Count     int           `msgpack:"count"`
}

type standingsKeys struct {
	order, info, meta string
}

func keysFor(section grade.Section, year int) standingsKeys {
	suffix := fmt.Sprintf("%s:%d", section.Normalize(), year)
	return standingsKeys{
		order: prefixRanking + "order:" + suffix,
		info:  prefixRanking + "info:" + suffix,
		meta:  prefixRanking + "meta:" + suffix,
	}
}

// Save atomically replaces the cached standings of s.Section and s.Year.
func (c *StandingsCache) Save(ctx context.Context, s *ranking.Standings, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = TTLStandings
	}
	keys := keysFor(s.Section, s.Year)

	members, info, err := encodeEntries(s.Entries)
	if err != nil {
		return err
	}
	meta, err := encode(standingsMeta{
		ID:        s.ID,
		Section:   s.Section,
		Year:      s.Year,
		BuiltAt:   s.BuiltAt,
		PeerCount: s.PeerCount,
		Count:     len(s.Entries),
	})
	if err != nil {
		return err
	}

	err = c.cache.Do(ctx, func(ctx context.Context, client *redis.Client) error {
		pipe := client.TxPipeline()
		pipe.Del(ctx, keys.order, keys.info)
		if len(members) > 0 {
			pipe.ZAdd(ctx, keys.order, members...)
			pipe.HSet(ctx, keys.info, info)
			pipe.Expire(ctx, keys.order, ttl)
			pipe.Expire(ctx, keys.info, ttl)
		}
		pipe.Set(ctx, keys.meta, meta, ttl)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("save standings %s/%d: %w", s.Section, s.Year, err)
	}
	return nil
}

// Get returns the cached standings, ordered by display position.
func (c *StandingsCache) Get(ctx context.Context, section grade.Section, year int) (*ranking.Standings, error) {
	keys := keysFor(section, year)

	var meta standingsMeta
	if err := c.cache.Get(ctx, keys.meta, &meta); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, shared.NewDomainError("ranking", "GetStandings", shared.ErrNotFound,
				fmt.Sprintf("no cached standings for %s/%d", section, year))
		}
		return nil, err
	}

	s := &ranking.Standings{
		ID:        meta.ID,
		Section:   meta.Section,
		Year:      meta.Year,
		BuiltAt:   meta.BuiltAt,
		PeerCount: meta.PeerCount,
		Entries:   []ranking.Entry{},
	}
	if meta.Count == 0 {
		s.RebuildIndex()
		return s, nil
	}

	var (
		ids []string
		raw []any
	)
	err := c.cache.Do(ctx, func(ctx context.Context, client *redis.Client) error {
		var err error
		if ids, err = client.ZRange(ctx, keys.order, 0, -1).Result(); err != nil {
			return fmt.Errorf("read standings order: %w", err)
		}
		if len(ids) != meta.Count {
			return nil
		}
		if raw, err = client.HMGet(ctx, keys.info, ids...).Result(); err != nil {
			return fmt.Errorf("read standings entries: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(ids) != meta.Count {
		// Order set expired or was partially written; treat as a miss.
		return nil, shared.NewDomainError("ranking", "GetStandings", shared.ErrNotFound, "stale standings snapshot")
	}

	if s.Entries, err = decodeEntries(raw); err != nil {
		return nil, err
	}
	s.RebuildIndex()
	return s, nil
}

// Invalidate drops the cached standings of a section and year.
func (c *StandingsCache) Invalidate(ctx context.Context, section grade.Section, year int) error {
	keys := keysFor(section, year)
	return c.cache.Delete(ctx, keys.order, keys.info, keys.meta)
}

// encodeEntries returns sorted-set members scored by display position and
// the msgpack hash fields.
func encodeEntries(entries []ranking.Entry) ([]redis.Z, map[string]any, error) {
	members := make([]redis.Z, 0, len(entries))
	info := make(map[string]any, len(entries))
	for _, e := range entries {
		data, err := encode(e)
		if err != nil {
			return nil, nil, err
		}
		id := string(e.StudentID)
		members = append(members, redis.Z{Score: float64(e.Position), Member: id})
		info[id] = data
	}
	return members, info, nil
}

// decodeEntries decodes HMGET values in order. A missing field means the
// snapshot is inconsistent.
func decodeEntries(raw []any) ([]ranking.Entry, error) {
	out := make([]ranking.Entry, 0, len(raw))
	for _, v := range raw {
		str, ok := v.(string)
		if !ok {
			return nil, shared.NewDomainError("ranking", "GetStandings", shared.ErrNotFound, "stale standings snapshot")
		}
		var e ranking.Entry
		if err := decode([]byte(str), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
