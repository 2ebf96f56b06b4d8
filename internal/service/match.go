package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/prisoners-dilemma/internal/domain"
	"github.com/prisoners-dilemma/internal/storage"
)

// CreateMatch opens a match between two registered users with a random
// number of games.
func (s *MatchService) CreateMatch(ctx context.Context, req domain.CreateMatchRequest) (*domain.Match, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Player1Name == req.Player2Name {
		return nil, domain.ErrSamePlayer
	}
	for _, name := range []string{req.Player1Name, req.Player2Name} {
		if err := playerExists(ctx, s.store, name); err != nil {
			return nil, fmt.Errorf("checking player %s: %w", name, err)
		}
	}

	match := domain.NewMatch(uuid.NewString(), req.Player1Name, req.Player2Name, s.drawGameCount(), s.now())
	if err := s.store.CreateMatch(ctx, match); err != nil {
		return nil, fmt.Errorf("creating match: %w", err)
	}

	s.logger.Info("match created",
		"match_id", match.ID,
		"player_1", match.Player1Name,
		"player_2", match.Player2Name,
		"games", match.GamesRemaining,
	)
	s.publish(ctx, domain.MatchEvent{
		Type:      domain.EventMatchCreated,
		MatchID:   match.ID,
		Match:     match,
		Timestamp: match.CreatedAt,
	})
	return match, nil
}

// drawGameCount picks uniformly from the configured closed range
func (s *MatchService) drawGameCount() int {
	span := s.match.MaxGames - s.match.MinGames + 1
	return s.match.MinGames + s.rand.IntN(span)
}

// CancelMatch abandons an active match. Scores are not touched.
func (s *MatchService) CancelMatch(ctx context.Context, matchID string) (*domain.Match, error) {
	if matchID == "" {
		return nil, domain.ErrInvalidRequest
	}

	var cancelled domain.Match
	err := s.store.WithMatchLock(ctx, matchID, func(tx storage.MatchTx, m *domain.Match) error {
		if err := m.Cancel(s.now()); err != nil {
			return err
		}
		cancelled = *m
		return tx.UpdateMatch(ctx, m)
	})
	if err != nil {
		return nil, fmt.Errorf("cancelling match: %w", err)
	}

	s.logger.Info("match cancelled", "match_id", matchID)
	s.publish(ctx, domain.MatchEvent{
		Type:      domain.EventMatchCancelled,
		MatchID:   matchID,
		Match:     &cancelled,
		Timestamp: cancelled.UpdatedAt,
	})
	return &cancelled, nil
}

// onGameCompleted folds one finished game into its match and, when that was
// the last game, settles the rankings in the same transaction. Callers hold
// the match lock and have already closed the game, which is what keeps this
// from running twice for one game.
func (s *MatchService) onGameCompleted(ctx context.Context, tx storage.MatchTx, m *domain.Match, p domain.Penalties) (*domain.Settlement, error) {
	settlement, err := m.RecordGame(p, s.now())
	if err != nil {
		return nil, err
	}
	if err := tx.UpdateMatch(ctx, m); err != nil {
		return nil, fmt.Errorf("updating match: %w", err)
	}

	if settlement == nil || settlement.Draw {
		return settlement, nil
	}
	if _, err := tx.AdjustScore(ctx, settlement.Winner, 1); err != nil {
		return nil, fmt.Errorf("crediting winner: %w", err)
	}
	if _, err := tx.AdjustScore(ctx, settlement.Loser, -1); err != nil {
		return nil, fmt.Errorf("debiting loser: %w", err)
	}
	return settlement, nil
}
