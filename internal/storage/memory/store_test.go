package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prisoners-dilemma/internal/domain"
	"github.com/prisoners-dilemma/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s *Store, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, s.CreateUser(context.Background(), &domain.User{Name: n}))
	}
}

func TestCreateUser_Duplicate(t *testing.T) {
	s := New()
	seed(t, s, "alice")
	err := s.CreateUser(context.Background(), &domain.User{Name: "alice"})
	require.ErrorIs(t, err, domain.ErrUserExists)
}

func TestWithMatchLock_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "alice", "bob")
	require.NoError(t, s.CreateMatch(ctx, domain.NewMatch("m1", "alice", "bob", 3, time.Now())))

	boom := errors.New("boom")
	err := s.WithMatchLock(ctx, "m1", func(tx storage.MatchTx, m *domain.Match) error {
		require.NoError(t, tx.InsertGame(ctx, domain.NewGame("g1", "m1", time.Now())))
		m.GamesRemaining = 0
		require.NoError(t, tx.UpdateMatch(ctx, m))
		_, err := tx.AdjustScore(ctx, "alice", 1)
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	m, err := s.GetMatch(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, 3, m.GamesRemaining, "match write must be discarded")

	_, err = s.GetGame(ctx, "g1")
	require.ErrorIs(t, err, domain.ErrGameNotFound, "game insert must be discarded")

	u, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	require.Zero(t, u.Score, "score delta must be discarded")
}

func TestWithMatchLock_UnknownMatch(t *testing.T) {
	s := New()
	err := s.WithMatchLock(context.Background(), "nope", func(storage.MatchTx, *domain.Match) error {
		t.Fatal("callback must not run")
		return nil
	})
	require.ErrorIs(t, err, domain.ErrMatchNotFound)
}

func TestWithMatchLock_UnknownIDsLeaveNoLocks(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i := 0; i < 100; i++ {
		err := s.WithMatchLock(ctx, fmt.Sprintf("missing-%d", i), func(storage.MatchTx, *domain.Match) error { return nil })
		require.ErrorIs(t, err, domain.ErrMatchNotFound)
	}
	require.Empty(t, s.locks)

	seed(t, s, "alice", "bob")
	require.NoError(t, s.CreateMatch(ctx, domain.NewMatch("m1", "alice", "bob", 1, time.Now())))
	require.NoError(t, s.WithMatchLock(ctx, "m1", func(storage.MatchTx, *domain.Match) error { return nil }))
	require.Len(t, s.locks, 1)
}

func TestMatchTx_GetUserSeesStagedScore(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "alice", "bob")
	require.NoError(t, s.CreateMatch(ctx, domain.NewMatch("m1", "alice", "bob", 1, time.Now())))

	err := s.WithMatchLock(ctx, "m1", func(tx storage.MatchTx, _ *domain.Match) error {
		_, err := tx.AdjustScore(ctx, "alice", 1)
		require.NoError(t, err)
		u, err := tx.GetUser(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(1), u.Score)

		_, err = tx.GetUser(ctx, "zed")
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestWithMatchLock_SerializesSameMatch(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "alice", "bob")
	require.NoError(t, s.CreateMatch(ctx, domain.NewMatch("m1", "alice", "bob", 1000, time.Now())))

	const G = 16
	const N = 50
	var wg sync.WaitGroup
	wg.Add(G)
	for g := 0; g < G; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < N; i++ {
				err := s.WithMatchLock(ctx, "m1", func(tx storage.MatchTx, m *domain.Match) error {
					m.GamesRemaining--
					m.Player1Penalty++
					return tx.UpdateMatch(ctx, m)
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	m, err := s.GetMatch(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, 1000-G*N, m.GamesRemaining, "no decrement may be lost")
	require.Equal(t, G*N, m.Player1Penalty)
}

func TestListGames_OrderedByCreation(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "alice", "bob")
	require.NoError(t, s.CreateMatch(ctx, domain.NewMatch("m1", "alice", "bob", 3, time.Now())))

	base := time.Now()
	ids := []string{"c", "a", "b"}
	for i, id := range ids {
		err := s.WithMatchLock(ctx, "m1", func(tx storage.MatchTx, _ *domain.Match) error {
			return tx.InsertGame(ctx, domain.NewGame(id, "m1", base.Add(time.Duration(i)*time.Second)))
		})
		require.NoError(t, err)
	}

	games, err := s.ListGames(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, games, 3)
	for i, g := range games {
		require.Equal(t, ids[i], g.ID)
	}
}

func TestListRankings_TiesByName(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "carol", "bob", "alice")
	require.NoError(t, s.CreateMatch(ctx, domain.NewMatch("m1", "alice", "bob", 1, time.Now())))
	require.NoError(t, s.WithMatchLock(ctx, "m1", func(tx storage.MatchTx, _ *domain.Match) error {
		_, err := tx.AdjustScore(ctx, "carol", -1)
		return err
	}))

	entries, err := s.ListRankings(ctx)
	require.NoError(t, err)
	require.Equal(t, []domain.RankingEntry{
		{Rank: 1, Name: "alice", Score: 0},
		{Rank: 2, Name: "bob", Score: 0},
		{Rank: 3, Name: "carol", Score: -1},
	}, entries)
}
