package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/prisoners-dilemma/internal/domain"
	"github.com/prisoners-dilemma/internal/storage"
)

// CreateGame adds a game to an active match
func (s *MatchService) CreateGame(ctx context.Context, matchID string) (*domain.Game, error) {
	if matchID == "" {
		return nil, domain.ErrInvalidRequest
	}

	var game *domain.Game
	err := s.store.WithMatchLock(ctx, matchID, func(tx storage.MatchTx, m *domain.Match) error {
		if !m.IsActive {
			return domain.ErrMatchInactive
		}
		game = domain.NewGame(uuid.NewString(), m.ID, s.now())
		return tx.InsertGame(ctx, game)
	})
	if err != nil {
		return nil, fmt.Errorf("creating game: %w", err)
	}

	s.logger.Debug("game created", "match_id", matchID, "game_id", game.ID)
	s.publish(ctx, domain.MatchEvent{
		Type:      domain.EventGameCreated,
		MatchID:   matchID,
		GameID:    game.ID,
		Timestamp: game.CreatedAt,
	})
	return game, nil
}

// SubmitMove records a player's move. The first move of a game returns a
// waiting outcome; the second resolves the game and feeds its penalties into
// the match.
func (s *MatchService) SubmitMove(ctx context.Context, req domain.SubmitMoveRequest) (*domain.MoveOutcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	game, err := s.store.GetGame(ctx, req.GameID)
	if err != nil {
		return nil, fmt.Errorf("getting game: %w", err)
	}
	if req.Caller != "" && req.Caller != req.PlayerName {
		return nil, domain.ErrUnauthorized
	}

	var outcome *domain.MoveOutcome
	err = s.store.WithMatchLock(ctx, game.MatchID, func(tx storage.MatchTx, m *domain.Match) error {
		g, err := tx.GetGame(ctx, req.GameID)
		if err != nil {
			return err
		}
		if !g.IsActive {
			return domain.ErrGameAlreadyFinished
		}
		if err := playerExists(ctx, tx, req.PlayerName); err != nil {
			return err
		}
		seat := m.Seat(req.PlayerName)
		if seat == 0 {
			return domain.ErrPlayerNotInGame
		}
		if !m.IsActive {
			return domain.ErrMatchInactive
		}

		if err := g.SetMove(seat, *req.Move); err != nil {
			return err
		}

		outcome = &domain.MoveOutcome{
			GameID:     g.ID,
			MatchID:    m.ID,
			PlayerName: req.PlayerName,
			Move:       *req.Move,
			Status:     domain.OutcomeWaiting,
		}

		if g.Ready() {
			p, err := g.Finish(m, s.now())
			if err != nil {
				return err
			}
			settlement, err := s.onGameCompleted(ctx, tx, m, p)
			if err != nil {
				return err
			}
			outcome.Status = domain.OutcomeCompleted
			outcome.Penalties = &p
			outcome.Settlement = settlement
		}

		if err := tx.UpdateGame(ctx, g); err != nil {
			return fmt.Errorf("updating game: %w", err)
		}
		outcome.Result = g.Result
		matchCopy := *m
		outcome.Match = &matchCopy
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("submitting move: %w", err)
	}

	s.logger.Debug("move submitted",
		"game_id", outcome.GameID,
		"match_id", outcome.MatchID,
		"player", outcome.PlayerName,
		"move", domain.MoveName(outcome.Move),
		"status", outcome.Status,
	)
	s.afterMove(ctx, outcome)
	return outcome, nil
}

// afterMove runs the post-commit side effects of a move
func (s *MatchService) afterMove(ctx context.Context, o *domain.MoveOutcome) {
	now := s.now()
	events := []domain.MatchEvent{{
		Type:       domain.EventMoveSubmitted,
		MatchID:    o.MatchID,
		GameID:     o.GameID,
		PlayerName: o.PlayerName,
		Timestamp:  now,
	}}

	if o.Status == domain.OutcomeCompleted {
		events = append(events, domain.MatchEvent{
			Type:      domain.EventGameCompleted,
			MatchID:   o.MatchID,
			GameID:    o.GameID,
			Match:     o.Match,
			Penalties: o.Penalties,
			Timestamp: now,
		})
	}

	if o.Settlement != nil {
		s.logger.Info("match finished",
			"match_id", o.MatchID,
			"winner", o.Settlement.Winner,
			"draw", o.Settlement.Draw,
		)
		s.applySettlementToCache(ctx, o.Settlement)
		events = append(events, domain.MatchEvent{
			Type:       domain.EventMatchFinished,
			MatchID:    o.MatchID,
			Match:      o.Match,
			Settlement: o.Settlement,
			Timestamp:  now,
		})
	}

	s.publish(ctx, events...)
}
