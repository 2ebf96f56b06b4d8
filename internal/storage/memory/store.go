// Package memory is an in-process Store used by tests and by the server when
// no database is configured.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/prisoners-dilemma/internal/domain"
	"github.com/prisoners-dilemma/internal/storage"
)

// Store keeps all entities in maps guarded by a single RWMutex. Per-match
// mutexes serialize WithMatchLock callers of the same match.
type Store struct {
	mu           sync.RWMutex
	users        map[string]domain.User
	matches      map[string]domain.Match
	games        map[string]domain.Game
	gamesByMatch map[string][]string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{
		users:        make(map[string]domain.User),
		matches:      make(map[string]domain.Match),
		games:        make(map[string]domain.Game),
		gamesByMatch: make(map[string][]string),
		locks:        make(map[string]*sync.Mutex),
	}
}

func (s *Store) CreateUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.Name]; ok {
		return domain.ErrUserExists
	}
	s.users[user.Name] = *user
	return nil
}

func (s *Store) GetUser(_ context.Context, name string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[name]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}

func (s *Store) ListRankings(ctx context.Context) ([]domain.RankingEntry, error) {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(users, func(i, j int) bool { return users[i].Score > users[j].Score })

	entries := make([]domain.RankingEntry, len(users))
	for i, u := range users {
		entries[i] = domain.RankingEntry{Rank: int64(i + 1), Name: u.Name, Score: u.Score}
	}
	return entries, nil
}

func (s *Store) CreateMatch(_ context.Context, match *domain.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range []string{match.Player1Name, match.Player2Name} {
		if _, ok := s.users[name]; !ok {
			return domain.ErrUnknownPlayer
		}
	}
	s.matches[match.ID] = *match
	return nil
}

func (s *Store) GetMatch(_ context.Context, matchID string) (*domain.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.matches[matchID]
	if !ok {
		return nil, domain.ErrMatchNotFound
	}
	return &m, nil
}

func (s *Store) ListActiveMatches(_ context.Context, playerName string) ([]domain.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Match
	for _, m := range s.matches {
		if m.IsActive && m.HasPlayer(playerName) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) GetGame(_ context.Context, gameID string) (*domain.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.games[gameID]
	if !ok {
		return nil, domain.ErrGameNotFound
	}
	return &g, nil
}

func (s *Store) ListGames(_ context.Context, matchID string) ([]domain.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.gamesByMatch[matchID]
	games := make([]domain.Game, 0, len(ids))
	for _, id := range ids {
		games = append(games, s.games[id])
	}
	sortGames(games)
	return games, nil
}

func (s *Store) WithMatchLock(ctx context.Context, matchID string, fn func(tx storage.MatchTx, match *domain.Match) error) error {
	// matches are never deleted, so a lock is only created for an id that exists
	if _, err := s.GetMatch(ctx, matchID); err != nil {
		return err
	}

	lock := s.matchLock(matchID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	match, err := s.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}

	tx := &matchTx{
		store:   s,
		matchID: matchID,
		games:   make(map[string]domain.Game),
		deltas:  make(map[string]int64),
	}
	if err := fn(tx, match); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() {}

func (s *Store) matchLock(matchID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l, ok := s.locks[matchID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[matchID] = l
	}
	return l
}

// commit applies every staged write of tx under the store lock
func (s *Store) commit(tx *matchTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range tx.inserted {
		s.gamesByMatch[tx.matchID] = append(s.gamesByMatch[tx.matchID], id)
	}
	for id, g := range tx.games {
		s.games[id] = g
	}
	if tx.match != nil {
		s.matches[tx.matchID] = *tx.match
	}
	for name, delta := range tx.deltas {
		u := s.users[name]
		u.Score += delta
		s.users[name] = u
	}
}

// matchTx stages writes until the callback returns without error
type matchTx struct {
	store    *Store
	matchID  string
	match    *domain.Match
	games    map[string]domain.Game
	inserted []string
	deltas   map[string]int64
}

func (tx *matchTx) GetUser(ctx context.Context, name string) (*domain.User, error) {
	u, err := tx.store.GetUser(ctx, name)
	if err != nil {
		return nil, err
	}
	u.Score += tx.deltas[name]
	return u, nil
}

func (tx *matchTx) GetGame(ctx context.Context, gameID string) (*domain.Game, error) {
	if g, ok := tx.games[gameID]; ok {
		return &g, nil
	}
	g, err := tx.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if g.MatchID != tx.matchID {
		return nil, domain.ErrGameNotFound
	}
	return g, nil
}

func (tx *matchTx) InsertGame(_ context.Context, game *domain.Game) error {
	if game.MatchID != tx.matchID {
		return domain.ErrMatchNotFound
	}
	tx.games[game.ID] = *game
	tx.inserted = append(tx.inserted, game.ID)
	return nil
}

func (tx *matchTx) UpdateGame(ctx context.Context, game *domain.Game) error {
	if _, err := tx.GetGame(ctx, game.ID); err != nil {
		return err
	}
	tx.games[game.ID] = *game
	return nil
}

func (tx *matchTx) UpdateMatch(_ context.Context, match *domain.Match) error {
	if match.ID != tx.matchID {
		return domain.ErrMatchNotFound
	}
	m := *match
	tx.match = &m
	return nil
}

func (tx *matchTx) AdjustScore(ctx context.Context, name string, delta int64) (int64, error) {
	u, err := tx.store.GetUser(ctx, name)
	if err != nil {
		return 0, err
	}
	tx.deltas[name] += delta
	return u.Score + tx.deltas[name], nil
}

// sortGames orders by creation time; games created at the same instant keep
// insertion order.
func sortGames(games []domain.Game) {
	sort.SliceStable(games, func(i, j int) bool {
		return games[i].CreatedAt.Before(games[j].CreatedAt)
	})
}
