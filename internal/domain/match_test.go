package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestMatchRecordGame(t *testing.T) {
	now := time.Now()

	t.Run("counts down and settles on the last game", func(t *testing.T) {
		m := NewMatch("m1", "alice", "bob", 2, now)

		s, err := m.RecordGame(Penalties{Player1: 0, Player2: 3}, now)
		require.NoError(t, err)
		require.Nil(t, s, "no settlement before the last game")
		require.True(t, m.IsActive)
		require.Equal(t, 1, m.GamesRemaining)

		s, err = m.RecordGame(Penalties{Player1: 1, Player2: 1}, now)
		require.NoError(t, err)
		require.NotNil(t, s)
		require.Equal(t, "alice", s.Winner)
		require.Equal(t, "bob", s.Loser)
		require.False(t, m.IsActive)
		require.Equal(t, MatchStatusFinished, m.Status)
		require.Equal(t, 0, m.GamesRemaining)
		require.Equal(t, 1, m.Player1Penalty)
		require.Equal(t, 4, m.Player2Penalty)
		require.Equal(t, "alice", m.WinnerName)
	})

	t.Run("equal penalties draw", func(t *testing.T) {
		m := NewMatch("m2", "alice", "bob", 1, now)
		s, err := m.RecordGame(Penalties{Player1: 2, Player2: 2}, now)
		require.NoError(t, err)
		require.True(t, s.Draw)
		require.Empty(t, s.Winner)
		require.Empty(t, m.WinnerName)
	})

	t.Run("rejects games after the match ended", func(t *testing.T) {
		m := NewMatch("m3", "alice", "bob", 1, now)
		_, err := m.RecordGame(Penalties{Player1: 3, Player2: 0}, now)
		require.NoError(t, err)

		_, err = m.RecordGame(Penalties{Player1: 3, Player2: 0}, now)
		require.ErrorIs(t, err, ErrMatchInactive)
		require.Equal(t, 0, m.GamesRemaining, "counter must not go negative")
		require.Equal(t, 3, m.Player1Penalty, "penalties must not change")
	})
}

func TestMatchCancel(t *testing.T) {
	now := time.Now()
	m := NewMatch("m1", "alice", "bob", 5, now)

	require.NoError(t, m.Cancel(now))
	require.False(t, m.IsActive)
	require.Equal(t, MatchStatusCancelled, m.Status)
	require.Equal(t, 0, m.GamesRemaining)
	require.Empty(t, m.WinnerName)

	require.ErrorIs(t, m.Cancel(now), ErrMatchAlreadyInactive)

	_, err := m.RecordGame(Penalties{}, now)
	require.ErrorIs(t, err, ErrMatchInactive)
}

func TestMatchSeat(t *testing.T) {
	m := NewMatch("m1", "alice", "bob", 1, time.Now())
	require.Equal(t, 1, m.Seat("alice"))
	require.Equal(t, 2, m.Seat("bob"))
	require.Equal(t, 0, m.Seat("carol"))
	require.False(t, m.HasPlayer("carol"))
}

func TestGameLifecycle(t *testing.T) {
	now := time.Now()
	m := NewMatch("m1", "alice", "bob", 3, now)
	g := NewGame("g1", m.ID, now)
	require.Equal(t, ResultPending, g.Result)

	require.NoError(t, g.SetMove(1, true))
	require.NoError(t, g.SetMove(1, false), "same seat may overwrite before the opponent moves")
	require.False(t, g.Ready())
	require.Equal(t, boolPtr(false), g.Player1Move)

	_, err := g.Finish(m, now)
	require.ErrorIs(t, err, ErrInvalidMove, "cannot finish with a missing move")

	require.NoError(t, g.SetMove(2, true))
	require.True(t, g.Ready())

	p, err := g.Finish(m, now)
	require.NoError(t, err)
	require.Equal(t, Penalties{Player1: 3, Player2: 0}, p)
	require.False(t, g.IsActive)
	require.Equal(t, "alice: 3 years, bob: 0 years", g.Result)

	_, err = g.Finish(m, now)
	require.ErrorIs(t, err, ErrGameAlreadyFinished, "a game is folded in only once")
	require.ErrorIs(t, g.SetMove(1, true), ErrGameAlreadyFinished)
}

func TestGameSealed(t *testing.T) {
	g := NewGame("g1", "m1", time.Now())
	require.NoError(t, g.SetMove(1, true))

	sealed := g.Sealed()
	require.Nil(t, sealed.Player1Move, "open games hide moves")
	require.True(t, sealed.Player1Moved)
	require.False(t, sealed.Player2Moved)
	require.NotNil(t, g.Player1Move, "sealing works on a copy")
}

func TestKindOf(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), ErrGameNotFound)
	require.Equal(t, KindNotFound, KindOf(wrapped))
	require.Equal(t, KindNotFound, KindOf(ErrUnknownPlayer))
	require.Equal(t, KindConflict, KindOf(ErrSamePlayer))
	require.Equal(t, KindInternal, KindOf(errors.New("boom")))
}
