package domain

import "time"

// MatchStatus is the lifecycle state of a match
type MatchStatus string

const (
	MatchStatusActive    MatchStatus = "active"
	MatchStatusFinished  MatchStatus = "finished"
	MatchStatusCancelled MatchStatus = "cancelled"
)

// Match is a contest between two users made of a fixed number of games.
type Match struct {
	ID             string      `json:"id"`
	Player1Name    string      `json:"player_1_name"`
	Player2Name    string      `json:"player_2_name"`
	Player1Penalty int         `json:"player_1_penalty"`
	Player2Penalty int         `json:"player_2_penalty"`
	GamesRemaining int         `json:"games_remaining"`
	IsActive       bool        `json:"is_active"`
	Status         MatchStatus `json:"status"`
	WinnerName     string      `json:"winner_name,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	FinishedAt     *time.Time  `json:"finished_at,omitempty"`
}

// Settlement is the one-time ranking change of a match that ended by
// exhaustion. Draw settlements carry no winner or loser.
type Settlement struct {
	Winner string `json:"winner,omitempty"`
	Loser  string `json:"loser,omitempty"`
	Draw   bool   `json:"draw"`
}

// NewMatch builds an active match with zero penalties.
func NewMatch(id, player1, player2 string, games int, now time.Time) *Match {
	return &Match{
		ID:             id,
		Player1Name:    player1,
		Player2Name:    player2,
		GamesRemaining: games,
		IsActive:       true,
		Status:         MatchStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Seat returns 1 or 2 for a participant and 0 for anyone else.
func (m *Match) Seat(name string) int {
	switch name {
	case m.Player1Name:
		return 1
	case m.Player2Name:
		return 2
	}
	return 0
}

// HasPlayer reports whether name is one of the two participants.
func (m *Match) HasPlayer(name string) bool {
	return m.Seat(name) != 0
}

// RecordGame folds one completed game into the match. When the last game is
// recorded the match finishes and the returned settlement is non-nil.
func (m *Match) RecordGame(p Penalties, now time.Time) (*Settlement, error) {
	if !m.IsActive || m.GamesRemaining <= 0 {
		return nil, ErrMatchInactive
	}

	m.Player1Penalty += p.Player1
	m.Player2Penalty += p.Player2
	m.GamesRemaining--
	m.UpdatedAt = now

	if m.GamesRemaining > 0 {
		return nil, nil
	}

	m.IsActive = false
	m.Status = MatchStatusFinished
	m.FinishedAt = &now
	return m.settle(), nil
}

func (m *Match) settle() *Settlement {
	switch {
	case m.Player1Penalty < m.Player2Penalty:
		m.WinnerName = m.Player1Name
		return &Settlement{Winner: m.Player1Name, Loser: m.Player2Name}
	case m.Player2Penalty < m.Player1Penalty:
		m.WinnerName = m.Player2Name
		return &Settlement{Winner: m.Player2Name, Loser: m.Player1Name}
	default:
		return &Settlement{Draw: true}
	}
}

// Cancel abandons an active match without settling it.
func (m *Match) Cancel(now time.Time) error {
	if !m.IsActive {
		return ErrMatchAlreadyInactive
	}
	m.GamesRemaining = 0
	m.IsActive = false
	m.Status = MatchStatusCancelled
	m.UpdatedAt = now
	m.FinishedAt = &now
	return nil
}

// MatchHistory is a match with its games, oldest first
type MatchHistory struct {
	Match Match  `json:"match"`
	Games []Game `json:"games"`
}

// CreateMatchRequest represents a request to open a match
type CreateMatchRequest struct {
	Player1Name string `json:"player_1_name"`
	Player2Name string `json:"player_2_name"`
}

// Validate checks required fields
func (r *CreateMatchRequest) Validate() error {
	if r.Player1Name == "" || r.Player2Name == "" {
		return ErrInvalidRequest
	}
	return nil
}
