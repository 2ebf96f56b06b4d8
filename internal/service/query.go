package service

import (
	"context"
	"fmt"

	"github.com/prisoners-dilemma/internal/domain"
)

// GetMatch returns a match by ID
func (s *MatchService) GetMatch(ctx context.Context, matchID string) (*domain.Match, error) {
	if matchID == "" {
		return nil, domain.ErrInvalidRequest
	}
	m, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("getting match: %w", err)
	}
	return m, nil
}

// GetGame returns a game with its players. Moves of an open game stay hidden.
func (s *MatchService) GetGame(ctx context.Context, gameID string) (*domain.GameView, error) {
	if gameID == "" {
		return nil, domain.ErrInvalidRequest
	}
	g, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("getting game: %w", err)
	}
	m, err := s.store.GetMatch(ctx, g.MatchID)
	if err != nil {
		return nil, fmt.Errorf("getting match of game: %w", err)
	}
	return &domain.GameView{
		Game:        g.Sealed(),
		Player1Name: m.Player1Name,
		Player2Name: m.Player2Name,
	}, nil
}

// ListActiveMatches returns the active matches a user plays in
func (s *MatchService) ListActiveMatches(ctx context.Context, playerName string) ([]domain.Match, error) {
	if playerName == "" {
		return nil, domain.ErrInvalidRequest
	}
	if _, err := s.store.GetUser(ctx, playerName); err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	matches, err := s.store.ListActiveMatches(ctx, playerName)
	if err != nil {
		return nil, fmt.Errorf("listing active matches: %w", err)
	}
	if matches == nil {
		matches = []domain.Match{}
	}
	return matches, nil
}

// ListRankings returns the full ranking table from the store
func (s *MatchService) ListRankings(ctx context.Context) ([]domain.RankingEntry, error) {
	entries, err := s.store.ListRankings(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing rankings: %w", err)
	}
	if entries == nil {
		entries = []domain.RankingEntry{}
	}
	return entries, nil
}

// TopRankings returns the best n users. It reads the ranking cache when one
// is attached and falls back to the store.
func (s *MatchService) TopRankings(ctx context.Context, n int) ([]domain.RankingEntry, error) {
	if n <= 0 {
		n = s.limits.DefaultLimit
	}
	if n > s.limits.MaxLimit {
		n = s.limits.MaxLimit
	}

	if s.rankings != nil {
		entries, err := s.rankings.GetTopN(ctx, n)
		if err == nil {
			return entries, nil
		}
		s.logger.Warn("ranking cache read failed, using store", "error", err)
	}

	entries, err := s.ListRankings(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}

// PlayerRank returns one user's rank and score
func (s *MatchService) PlayerRank(ctx context.Context, name string) (*domain.RankingEntry, error) {
	if name == "" {
		return nil, domain.ErrInvalidRequest
	}

	if s.rankings != nil {
		entry, err := s.rankings.GetPlayerRank(ctx, name)
		if err == nil {
			return entry, nil
		}
		s.logger.Warn("ranking cache read failed, using store", "name", name, "error", err)
	}

	entries, err := s.ListRankings(ctx)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].Name == name {
			return &entries[i], nil
		}
	}
	return nil, domain.ErrUserNotFound
}

// MatchHistory returns a match and its games, oldest first
func (s *MatchService) MatchHistory(ctx context.Context, matchID string) (*domain.MatchHistory, error) {
	m, err := s.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	games, err := s.store.ListGames(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("listing games: %w", err)
	}

	sealed := make([]domain.Game, len(games))
	for i, g := range games {
		sealed[i] = g.Sealed()
	}
	return &domain.MatchHistory{Match: *m, Games: sealed}, nil
}
