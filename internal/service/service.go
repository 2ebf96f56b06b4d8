package service

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/prisoners-dilemma/internal/config"
	"github.com/prisoners-dilemma/internal/domain"
	"github.com/prisoners-dilemma/internal/storage"
)

// RankingCache is a fast, eventually consistent copy of user scores
type RankingCache interface {
	SetScore(ctx context.Context, name string, score int64) error
	IncrementScore(ctx context.Context, name string, delta int64) (int64, error)
	GetTopN(ctx context.Context, n int) ([]domain.RankingEntry, error)
	GetPlayerRank(ctx context.Context, name string) (*domain.RankingEntry, error)
}

// EventPublisher receives match events after they commit
type EventPublisher interface {
	PublishMatchEvent(ctx context.Context, event domain.MatchEvent) error
}

// Publishers fans an event out to several publishers
type Publishers []EventPublisher

// PublishMatchEvent delivers to every publisher and joins their errors
func (ps Publishers) PublishMatchEvent(ctx context.Context, event domain.MatchEvent) error {
	var errs []error
	for _, p := range ps {
		if err := p.PublishMatchEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Notifier delivers a reminder message to a user's contact address
type Notifier interface {
	Send(ctx context.Context, address, subject, body string) error
}

// Rand draws the game count of a new match. IntN returns a value in [0, n).
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.Intn(n) }

// MatchService runs registration, matches, games and the read views over a
// Store.
type MatchService struct {
	store     storage.Store
	rankings  RankingCache
	publisher EventPublisher
	notifier  Notifier
	appURL    string
	rand      Rand
	now       func() time.Time
	match     *config.MatchConfig
	limits    *config.RankingsConfig
	logger    *slog.Logger
}

// NewMatchService creates a new match service
func NewMatchService(
	store storage.Store,
	matchCfg *config.MatchConfig,
	rankingsCfg *config.RankingsConfig,
	logger *slog.Logger,
) *MatchService {
	return &MatchService{
		store:  store,
		rand:   globalRand{},
		now:    time.Now,
		match:  matchCfg,
		limits: rankingsCfg,
		logger: logger,
	}
}

// SetRankingCache attaches the ranking cache
func (s *MatchService) SetRankingCache(c RankingCache) {
	s.rankings = c
}

// SetPublisher attaches the match event publisher
func (s *MatchService) SetPublisher(p EventPublisher) {
	s.publisher = p
}

// SetNotifier attaches the reminder notifier. appURL is linked in reminders
// when set.
func (s *MatchService) SetNotifier(n Notifier, appURL string) {
	s.notifier = n
	s.appURL = appURL
}

// SetRand replaces the game count source
func (s *MatchService) SetRand(r Rand) {
	s.rand = r
}

// SetClock replaces the time source
func (s *MatchService) SetClock(now func() time.Time) {
	s.now = now
}

// Ping checks the store
func (s *MatchService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// publish sends events to the publisher. Delivery is best effort: the state
// change already committed.
func (s *MatchService) publish(ctx context.Context, events ...domain.MatchEvent) {
	if s.publisher == nil {
		return
	}
	for _, ev := range events {
		if err := s.publisher.PublishMatchEvent(ctx, ev); err != nil {
			s.logger.Warn("failed to publish match event",
				"type", ev.Type,
				"match_id", ev.MatchID,
				"error", err,
			)
		}
	}
}

// userGetter is satisfied by both storage.Store and storage.MatchTx
type userGetter interface {
	GetUser(ctx context.Context, name string) (*domain.User, error)
}

// playerExists maps a missing user to ErrUnknownPlayer
func playerExists(ctx context.Context, users userGetter, name string) error {
	if _, err := users.GetUser(ctx, name); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.ErrUnknownPlayer
		}
		return err
	}
	return nil
}
