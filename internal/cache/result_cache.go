package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/edukita/examhall-backend/internal/config"
	"github.com/edukita/examhall-backend/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ResultCache fronts the results table with a TTL'd Redis layer. The
// database stays the source of truth: every write path invalidates, it
// never writes through.
type ResultCache struct {
	rdb *redis.Client
	ttl time.Duration
	log zerolog.Logger
}

// NewResultCache creates a new ResultCache.
func NewResultCache(rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *ResultCache {
	return &ResultCache{
		rdb: rdb,
		ttl: ttl,
		log: log.With().Str("component", "result_cache").Logger(),
	}
}

// Get returns the cached Result or nil on miss. Cache errors degrade to
// a miss, never fail the request.
func (c *ResultCache) Get(ctx context.Context, studentID int, session string, term int) *model.Result {
	raw, err := c.rdb.Get(ctx, config.CacheKey.ResultKey(studentID, session, term)).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn().Err(err).Msg("Cache read failed")
		}
		return nil
	}

	var res model.Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		c.log.Warn().Err(err).Msg("Cache entry corrupt, ignoring")
		return nil
	}
	return &res
}

// Set stores a Result under its student/session/term key.
func (c *ResultCache) Set(ctx context.Context, res *model.Result) {
	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	key := config.CacheKey.ResultKey(res.StudentID, res.Session, res.Term)
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}

// SetMany pipelines writes for a batch of freshly fetched Results.
func (c *ResultCache) SetMany(ctx context.Context, results []*model.Result) {
	if len(results) == 0 {
		return
	}
	pipe := c.rdb.Pipeline()
	for _, res := range results {
		raw, err := json.Marshal(res)
		if err != nil {
			continue
		}
		pipe.Set(ctx, config.CacheKey.ResultKey(res.StudentID, res.Session, res.Term), raw, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn().Err(err).Msg("Cache pipeline write failed")
	}
}

// GetMany pipelines reads for a batch of students, returning hits keyed
// by student id. Used by bulk publish to warm its working set.
func (c *ResultCache) GetMany(ctx context.Context, studentIDs []int, session string, term int) map[int]*model.Result {
	out := make(map[int]*model.Result, len(studentIDs))
	if len(studentIDs) == 0 {
		return out
	}

	pipe := c.rdb.Pipeline()
	cmds := make(map[int]*redis.StringCmd, len(studentIDs))
	for _, id := range studentIDs {
		cmds[id] = pipe.Get(ctx, config.CacheKey.ResultKey(id, session, term))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		c.log.Warn().Err(err).Msg("Cache pipeline read failed")
		return out
	}

	for id, cmd := range cmds {
		raw, err := cmd.Result()
		if err != nil {
			continue
		}
		var res model.Result
		if err := json.Unmarshal([]byte(raw), &res); err != nil {
			continue
		}
		out[id] = &res
	}
	return out
}

// Invalidate drops one student's cached Result.
func (c *ResultCache) Invalidate(ctx context.Context, studentID int, session string, term int) {
	if err := c.rdb.Del(ctx, config.CacheKey.ResultKey(studentID, session, term)).Err(); err != nil {
		c.log.Warn().Err(err).Int("student_id", studentID).Msg("Cache invalidation failed")
	}
}

// InvalidateMany drops cached Results for a batch of students in one
// round trip.
func (c *ResultCache) InvalidateMany(ctx context.Context, studentIDs []int, session string, term int) {
	if len(studentIDs) == 0 {
		return
	}
	keys := make([]string, len(studentIDs))
	for i, id := range studentIDs {
		keys[i] = config.CacheKey.ResultKey(id, session, term)
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn().Err(err).Int("count", len(keys)).Msg("Bulk cache invalidation failed")
	}
}
