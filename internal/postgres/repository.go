package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prisoners-dilemma/internal/config"
	"github.com/prisoners-dilemma/internal/domain"
	"github.com/prisoners-dilemma/internal/storage"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var (
	_ storage.Store   = (*Repository)(nil)
	_ storage.MatchTx = (*matchTx)(nil)
)

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			name VARCHAR(255) PRIMARY KEY,
			email VARCHAR(255) NOT NULL DEFAULT '',
			score BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS matches (
			id VARCHAR(64) PRIMARY KEY,
			player_1_name VARCHAR(255) NOT NULL REFERENCES users(name),
			player_2_name VARCHAR(255) NOT NULL REFERENCES users(name),
			player_1_penalty INT NOT NULL DEFAULT 0,
			player_2_penalty INT NOT NULL DEFAULT 0,
			games_remaining INT NOT NULL CHECK (games_remaining >= 0),
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			status VARCHAR(20) NOT NULL DEFAULT 'active',
			winner_name VARCHAR(255) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			finished_at TIMESTAMPTZ,
			CHECK (player_1_name <> player_2_name)
		)`,
		`CREATE TABLE IF NOT EXISTS games (
			seq BIGSERIAL,
			id VARCHAR(64) PRIMARY KEY,
			match_id VARCHAR(64) NOT NULL REFERENCES matches(id) ON DELETE CASCADE,
			player_1_move BOOLEAN,
			player_2_move BOOLEAN,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			result TEXT NOT NULL DEFAULT 'pending',
			player_1_penalty INT,
			player_2_penalty INT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			finished_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_score ON users(score DESC, name ASC)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_player_1 ON matches(player_1_name) WHERE is_active`,
		`CREATE INDEX IF NOT EXISTS idx_matches_player_2 ON matches(player_2_name) WHERE is_active`,
		`CREATE INDEX IF NOT EXISTS idx_games_match ON games(match_id, created_at, seq)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// CreateUser inserts a user with a zero score
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (name, email, score, created_at)
		VALUES ($1, $2, 0, $3)
	`
	_, err := r.pool.Exec(ctx, query, user.Name, user.Email, user.CreatedAt)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return domain.ErrUserExists
		}
		return unavailable("creating user", err)
	}
	user.Score = 0
	return nil
}

// GetUser retrieves a user by name
func (r *Repository) GetUser(ctx context.Context, name string) (*domain.User, error) {
	return getUser(ctx, r.pool, name)
}

// ListUsers retrieves all users ordered by name
func (r *Repository) ListUsers(ctx context.Context) ([]domain.User, error) {
	query := `SELECT name, email, score, created_at FROM users ORDER BY name`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, unavailable("listing users", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.Name, &u.Email, &u.Score, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("listing users", err)
	}
	return users, nil
}

// ListRankings returns every user ordered by score, ties broken by name
func (r *Repository) ListRankings(ctx context.Context) ([]domain.RankingEntry, error) {
	query := `
		SELECT ROW_NUMBER() OVER (ORDER BY score DESC, name ASC) AS rank, name, score
		FROM users
		ORDER BY score DESC, name ASC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, unavailable("listing rankings", err)
	}
	defer rows.Close()

	var entries []domain.RankingEntry
	for rows.Next() {
		var e domain.RankingEntry
		if err := rows.Scan(&e.Rank, &e.Name, &e.Score); err != nil {
			return nil, fmt.Errorf("scanning ranking: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("listing rankings", err)
	}
	return entries, nil
}

// CreateMatch inserts a new match. Both players must exist.
func (r *Repository) CreateMatch(ctx context.Context, m *domain.Match) error {
	query := `
		INSERT INTO matches (id, player_1_name, player_2_name, player_1_penalty, player_2_penalty,
			games_remaining, is_active, status, winner_name, created_at, updated_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.pool.Exec(ctx, query,
		m.ID,
		m.Player1Name,
		m.Player2Name,
		m.Player1Penalty,
		m.Player2Penalty,
		m.GamesRemaining,
		m.IsActive,
		string(m.Status),
		m.WinnerName,
		m.CreatedAt,
		m.UpdatedAt,
		m.FinishedAt,
	)
	if err != nil {
		if pgCode(err) == codeForeignKeyViolation {
			return domain.ErrUnknownPlayer
		}
		return unavailable("creating match", err)
	}
	return nil
}

const matchColumns = `id, player_1_name, player_2_name, player_1_penalty, player_2_penalty,
	games_remaining, is_active, status, winner_name, created_at, updated_at, finished_at`

func scanMatch(row pgx.Row, m *domain.Match) error {
	return row.Scan(
		&m.ID,
		&m.Player1Name,
		&m.Player2Name,
		&m.Player1Penalty,
		&m.Player2Penalty,
		&m.GamesRemaining,
		&m.IsActive,
		&m.Status,
		&m.WinnerName,
		&m.CreatedAt,
		&m.UpdatedAt,
		&m.FinishedAt,
	)
}

// GetMatch retrieves a match by ID
func (r *Repository) GetMatch(ctx context.Context, matchID string) (*domain.Match, error) {
	var m domain.Match
	err := scanMatch(r.pool.QueryRow(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1`, matchID), &m)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMatchNotFound
		}
		return nil, unavailable("getting match", err)
	}
	return &m, nil
}

// ListActiveMatches retrieves the active matches a player takes part in
func (r *Repository) ListActiveMatches(ctx context.Context, playerName string) ([]domain.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches
		WHERE is_active AND (player_1_name = $1 OR player_2_name = $1)
		ORDER BY created_at, id`
	rows, err := r.pool.Query(ctx, query, playerName)
	if err != nil {
		return nil, unavailable("listing active matches", err)
	}
	defer rows.Close()

	var matches []domain.Match
	for rows.Next() {
		var m domain.Match
		if err := scanMatch(rows, &m); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("listing active matches", err)
	}
	return matches, nil
}

const gameColumns = `id, match_id, player_1_move, player_2_move, is_active, result,
	player_1_penalty, player_2_penalty, created_at, finished_at`

func scanGame(row pgx.Row, g *domain.Game) error {
	return row.Scan(
		&g.ID,
		&g.MatchID,
		&g.Player1Move,
		&g.Player2Move,
		&g.IsActive,
		&g.Result,
		&g.Player1Penalty,
		&g.Player2Penalty,
		&g.CreatedAt,
		&g.FinishedAt,
	)
}

// GetGame retrieves a game by ID
func (r *Repository) GetGame(ctx context.Context, gameID string) (*domain.Game, error) {
	return getGame(ctx, r.pool, gameID)
}

// ListGames retrieves the games of a match in creation order
func (r *Repository) ListGames(ctx context.Context, matchID string) ([]domain.Game, error) {
	query := `SELECT ` + gameColumns + ` FROM games WHERE match_id = $1 ORDER BY created_at, seq`
	rows, err := r.pool.Query(ctx, query, matchID)
	if err != nil {
		return nil, unavailable("listing games", err)
	}
	defer rows.Close()

	var games []domain.Game
	for rows.Next() {
		var g domain.Game
		if err := scanGame(rows, &g); err != nil {
			return nil, fmt.Errorf("scanning game: %w", err)
		}
		games = append(games, g)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("listing games", err)
	}
	return games, nil
}

// WithMatchLock runs fn inside a transaction holding a row lock on the match
func (r *Repository) WithMatchLock(ctx context.Context, matchID string, fn func(tx storage.MatchTx, match *domain.Match) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return unavailable("beginning transaction", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			r.logger.Warn("rollback failed", "match_id", matchID, "error", err)
		}
	}()

	var m domain.Match
	row := tx.QueryRow(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1 FOR UPDATE`, matchID)
	if err := scanMatch(row, &m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrMatchNotFound
		}
		return unavailable("locking match", err)
	}

	if err := fn(&matchTx{tx: tx}, &m); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return unavailable("committing transaction", err)
	}
	return nil
}

// matchTx is the write scope of WithMatchLock
type matchTx struct {
	tx pgx.Tx
}

// GetUser reads on the transaction's connection
func (t *matchTx) GetUser(ctx context.Context, name string) (*domain.User, error) {
	return getUser(ctx, t.tx, name)
}

func (t *matchTx) GetGame(ctx context.Context, gameID string) (*domain.Game, error) {
	return getGame(ctx, t.tx, gameID)
}

func (t *matchTx) InsertGame(ctx context.Context, g *domain.Game) error {
	query := `
		INSERT INTO games (id, match_id, player_1_move, player_2_move, is_active, result,
			player_1_penalty, player_2_penalty, created_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := t.tx.Exec(ctx, query,
		g.ID,
		g.MatchID,
		g.Player1Move,
		g.Player2Move,
		g.IsActive,
		g.Result,
		g.Player1Penalty,
		g.Player2Penalty,
		g.CreatedAt,
		g.FinishedAt,
	)
	if err != nil {
		return unavailable("inserting game", err)
	}
	return nil
}

func (t *matchTx) UpdateGame(ctx context.Context, g *domain.Game) error {
	query := `
		UPDATE games
		SET player_1_move = $2, player_2_move = $3, is_active = $4, result = $5,
			player_1_penalty = $6, player_2_penalty = $7, finished_at = $8
		WHERE id = $1
	`
	result, err := t.tx.Exec(ctx, query,
		g.ID,
		g.Player1Move,
		g.Player2Move,
		g.IsActive,
		g.Result,
		g.Player1Penalty,
		g.Player2Penalty,
		g.FinishedAt,
	)
	if err != nil {
		return unavailable("updating game", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrGameNotFound
	}
	return nil
}

func (t *matchTx) UpdateMatch(ctx context.Context, m *domain.Match) error {
	query := `
		UPDATE matches
		SET player_1_penalty = $2, player_2_penalty = $3, games_remaining = $4, is_active = $5,
			status = $6, winner_name = $7, updated_at = $8, finished_at = $9
		WHERE id = $1
	`
	result, err := t.tx.Exec(ctx, query,
		m.ID,
		m.Player1Penalty,
		m.Player2Penalty,
		m.GamesRemaining,
		m.IsActive,
		string(m.Status),
		m.WinnerName,
		m.UpdatedAt,
		m.FinishedAt,
	)
	if err != nil {
		return unavailable("updating match", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrMatchNotFound
	}
	return nil
}

// AdjustScore adds delta to a user's score in place and returns the new value
func (t *matchTx) AdjustScore(ctx context.Context, name string, delta int64) (int64, error) {
	var score int64
	err := t.tx.QueryRow(ctx, `UPDATE users SET score = score + $2 WHERE name = $1 RETURNING score`, name, delta).Scan(&score)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrUserNotFound
		}
		return 0, unavailable("adjusting score", err)
	}
	return score, nil
}

// querier is satisfied by both the pool and a transaction
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getUser(ctx context.Context, q querier, name string) (*domain.User, error) {
	var u domain.User
	err := q.QueryRow(ctx, `SELECT name, email, score, created_at FROM users WHERE name = $1`, name).
		Scan(&u.Name, &u.Email, &u.Score, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, unavailable("getting user", err)
	}
	return &u, nil
}

func getGame(ctx context.Context, q querier, gameID string) (*domain.Game, error) {
	var g domain.Game
	err := scanGame(q.QueryRow(ctx, `SELECT `+gameColumns+` FROM games WHERE id = $1`, gameID), &g)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrGameNotFound
		}
		return nil, unavailable("getting game", err)
	}
	return &g, nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, err)
}
