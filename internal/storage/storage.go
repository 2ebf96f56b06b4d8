// Package storage defines the persistence contract the match service runs on.
package storage

import (
	"context"

	"github.com/prisoners-dilemma/internal/domain"
)

// Store persists users, matches and games.
//
// Mutations of a match and its games go through WithMatchLock so that
// concurrent operations on one match are serialized. Implementations must
// apply the writes of a callback all together or not at all.
type Store interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, name string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	ListRankings(ctx context.Context) ([]domain.RankingEntry, error)

	CreateMatch(ctx context.Context, match *domain.Match) error
	GetMatch(ctx context.Context, matchID string) (*domain.Match, error)
	ListActiveMatches(ctx context.Context, playerName string) ([]domain.Match, error)

	GetGame(ctx context.Context, gameID string) (*domain.Game, error)
	ListGames(ctx context.Context, matchID string) ([]domain.Game, error)

	// WithMatchLock runs fn with exclusive access to the match. The match
	// passed to fn is a private copy; changes reach the store only through tx.
	// It returns domain.ErrMatchNotFound if the match does not exist.
	WithMatchLock(ctx context.Context, matchID string, fn func(tx MatchTx, match *domain.Match) error) error

	Ping(ctx context.Context) error
	Close()
}

// MatchTx is the write scope of one locked match. Callbacks must read through
// it rather than the Store so the lock holder never waits on a second
// connection.
type MatchTx interface {
	GetUser(ctx context.Context, name string) (*domain.User, error)
	GetGame(ctx context.Context, gameID string) (*domain.Game, error)
	InsertGame(ctx context.Context, game *domain.Game) error
	UpdateGame(ctx context.Context, game *domain.Game) error
	UpdateMatch(ctx context.Context, match *domain.Match) error
	AdjustScore(ctx context.Context, name string, delta int64) (int64, error)
}
