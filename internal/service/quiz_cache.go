package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/stemsi/proctorquiz/internal/config"
	"github.com/stemsi/proctorquiz/internal/model"
	"github.com/stemsi/proctorquiz/internal/repository"
)

// loadTimeout bounds a shared store read. The read outlives the caller that
// started it so other waiters are not failed by its cancellation.
const loadTimeout = 5 * time.Second

// QuizCache resolves share links through Redis. Only published quizzes are
// cached: they are immutable and never deleted, so entries cannot go stale.
// Concurrent misses for one link share a single store read.
type QuizCache struct {
	store repository.QuizStore
	rdb   *redis.Client
	ttl   time.Duration
	group singleflight.Group
	log   zerolog.Logger
}

// NewQuizCache creates a QuizCache.
func NewQuizCache(store repository.QuizStore, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *QuizCache {
	return &QuizCache{
		store: store,
		rdb:   rdb,
		ttl:   ttl,
		log:   log.With().Str("component", "quiz_cache").Logger(),
	}
}

// GetByLink returns the quiz for a link, reading through the cache.
func (c *QuizCache) GetByLink(ctx context.Context, link string) (*model.Quiz, error) {
	key := config.CacheKey.QuizByLinkKey(link)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var q model.Quiz
		if jsonErr := json.Unmarshal(raw, &q); jsonErr == nil {
			return &q, nil
		}
		c.log.Warn().Str("link", link).Msg("Discarding undecodable cache entry")
	case !errors.Is(err, redis.Nil):
		c.log.Warn().Err(err).Msg("Quiz cache read failed, falling back to store")
	}

	ch := c.group.DoChan(link, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		q, err := c.store.GetByLink(loadCtx, link)
		if err != nil {
			return nil, err
		}
		if q.IsPublished {
			c.fill(loadCtx, key, q)
		}
		return q, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.Quiz), nil
	}
}

func (c *QuizCache) fill(ctx context.Context, key string, q *model.Quiz) {
	data, err := json.Marshal(q)
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to encode quiz for cache")
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Msg("Failed to fill quiz cache")
	}
}

// Warm stores a freshly published quiz so the first student load is a hit.
func (c *QuizCache) Warm(ctx context.Context, q *model.Quiz) {
	if q.IsPublished {
		c.fill(ctx, config.CacheKey.QuizByLinkKey(q.Link), q)
	}
}
