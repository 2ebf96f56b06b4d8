package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prisoners-dilemma/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *RankingCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRankingCacheFromClient(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRankingCache_OrderAndTies(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	for _, name := range []string{"dave", "carol", "bob", "alice"} {
		require.NoError(t, c.SetScore(ctx, name, 0))
	}
	score, err := c.IncrementScore(ctx, "carol", 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), score)
	score, err = c.IncrementScore(ctx, "bob", -1)
	require.NoError(t, err)
	require.Equal(t, int64(-1), score)

	top, err := c.GetTopN(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []domain.RankingEntry{
		{Rank: 1, Name: "carol", Score: 1},
		{Rank: 2, Name: "alice", Score: 0},
		{Rank: 3, Name: "dave", Score: 0},
		{Rank: 4, Name: "bob", Score: -1},
	}, top)

	top, err = c.GetTopN(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)

	entry, err := c.GetPlayerRank(ctx, "dave")
	require.NoError(t, err)
	require.Equal(t, &domain.RankingEntry{Rank: 3, Name: "dave", Score: 0}, entry)

	_, err = c.GetPlayerRank(ctx, "nobody")
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestRankingCache_ReplaceAll(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	require.NoError(t, c.SetScore(ctx, "stale", 7))

	require.NoError(t, c.ReplaceAll(ctx, []domain.RankingEntry{
		{Name: "alice", Score: 2},
		{Name: "bob", Score: -2},
	}))

	count, err := c.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	top, err := c.GetTopN(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, "alice", top[0].Name)
	require.Equal(t, int64(-2), top[1].Score)

	require.NoError(t, c.ReplaceAll(ctx, nil))
	count, err = c.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}
