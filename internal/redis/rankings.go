package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prisoners-dilemma/internal/config"
	"github.com/prisoners-dilemma/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RankingsKey is the sorted set holding every user's score.
//
// Scores are stored negated. Ascending order then reads best first, and Redis
// orders equal scores by member, which gives the name tie-break for free.
const RankingsKey = "rankings:scores"

// RankingCache provides Redis-based ranking reads
type RankingCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRankingCache connects to Redis and returns a ranking cache
func NewRankingCache(cfg *config.RedisConfig, logger *slog.Logger) (*RankingCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewRankingCacheFromClient(client, logger), nil
}

// NewRankingCacheFromClient wraps an existing client
func NewRankingCacheFromClient(client *redis.Client, logger *slog.Logger) *RankingCache {
	return &RankingCache{
		client: client,
		logger: logger,
	}
}

// Close closes the Redis connection
func (c *RankingCache) Close() error {
	return c.client.Close()
}

// SetScore sets a user's score
func (c *RankingCache) SetScore(ctx context.Context, name string, score int64) error {
	err := c.client.ZAdd(ctx, RankingsKey, redis.Z{
		Score:  float64(-score),
		Member: name,
	}).Err()
	if err != nil {
		return fmt.Errorf("setting score: %w", err)
	}
	return nil
}

// IncrementScore adds delta to a user's score and returns the new score
func (c *RankingCache) IncrementScore(ctx context.Context, name string, delta int64) (int64, error) {
	stored, err := c.client.ZIncrBy(ctx, RankingsKey, float64(-delta), name).Result()
	if err != nil {
		return 0, fmt.Errorf("incrementing score: %w", err)
	}
	return -int64(stored), nil
}

// GetTopN returns the best n users
func (c *RankingCache) GetTopN(ctx context.Context, n int) ([]domain.RankingEntry, error) {
	if n <= 0 {
		return []domain.RankingEntry{}, nil
	}
	results, err := c.client.ZRangeWithScores(ctx, RankingsKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top n: %w", err)
	}

	entries := make([]domain.RankingEntry, len(results))
	for i, result := range results {
		entries[i] = domain.RankingEntry{
			Rank:  int64(i + 1),
			Name:  result.Member.(string),
			Score: -int64(result.Score),
		}
	}
	return entries, nil
}

// GetPlayerRank returns a user's rank and score
func (c *RankingCache) GetPlayerRank(ctx context.Context, name string) (*domain.RankingEntry, error) {
	pipe := c.client.Pipeline()
	rankCmd := pipe.ZRank(ctx, RankingsKey, name)
	scoreCmd := pipe.ZScore(ctx, RankingsKey, name)
	if _, err := pipe.Exec(ctx); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("getting player rank: %w", err)
	}

	rank, err := rankCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("getting rank result: %w", err)
	}
	score, err := scoreCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("getting score result: %w", err)
	}

	return &domain.RankingEntry{
		Rank:  rank + 1,
		Name:  name,
		Score: -int64(score),
	}, nil
}

// ReplaceAll swaps the whole set for the given entries in one transaction
func (c *RankingCache) ReplaceAll(ctx context.Context, entries []domain.RankingEntry) error {
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, RankingsKey)
	if len(entries) > 0 {
		members := make([]redis.Z, len(entries))
		for i, e := range entries {
			members[i] = redis.Z{Score: float64(-e.Score), Member: e.Name}
		}
		pipe.ZAdd(ctx, RankingsKey, members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("replacing rankings: %w", err)
	}
	c.logger.Debug("ranking cache rebuilt", "users", len(entries))
	return nil
}

// Count returns the number of ranked users
func (c *RankingCache) Count(ctx context.Context) (int64, error) {
	count, err := c.client.ZCard(ctx, RankingsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("getting count: %w", err)
	}
	return count, nil
}
