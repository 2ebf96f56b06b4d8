package service

import (
	"context"
	"fmt"

	"github.com/prisoners-dilemma/internal/domain"
)

// CreateUser registers a user with a zero score
func (s *MatchService) CreateUser(ctx context.Context, req domain.CreateUserRequest) (*domain.User, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	user := &domain.User{
		Name:      req.Name,
		Email:     req.Email,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	if s.rankings != nil {
		if err := s.rankings.SetScore(ctx, user.Name, 0); err != nil {
			s.logger.Warn("failed to add user to ranking cache", "name", user.Name, "error", err)
		}
	}

	s.logger.Info("user created", "name", user.Name)
	return user, nil
}

// GetUser returns a user by name
func (s *MatchService) GetUser(ctx context.Context, name string) (*domain.User, error) {
	if name == "" {
		return nil, domain.ErrInvalidRequest
	}
	user, err := s.store.GetUser(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return user, nil
}

// applySettlementToCache mirrors a committed settlement into the ranking
// cache. The sync worker repairs the cache if this fails.
func (s *MatchService) applySettlementToCache(ctx context.Context, st *domain.Settlement) {
	if s.rankings == nil || st == nil || st.Draw {
		return
	}
	if _, err := s.rankings.IncrementScore(ctx, st.Winner, 1); err != nil {
		s.logger.Warn("failed to update ranking cache", "name", st.Winner, "error", err)
	}
	if _, err := s.rankings.IncrementScore(ctx, st.Loser, -1); err != nil {
		s.logger.Warn("failed to update ranking cache", "name", st.Loser, "error", err)
	}
}
