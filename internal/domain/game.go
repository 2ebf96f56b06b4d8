package domain

import (
	"fmt"
	"time"
)

// ResultPending is the result text of a game still waiting for moves
const ResultPending = "pending"

// Game is a single round of a match. A nil move has not been submitted yet.
type Game struct {
	ID             string     `json:"id"`
	MatchID        string     `json:"match_id"`
	Player1Move    *bool      `json:"player_1_move,omitempty"`
	Player2Move    *bool      `json:"player_2_move,omitempty"`
	IsActive       bool       `json:"is_active"`
	Result         string     `json:"result"`
	Player1Penalty *int       `json:"player_1_penalty,omitempty"`
	Player2Penalty *int       `json:"player_2_penalty,omitempty"`
	Player1Moved   bool       `json:"player_1_moved"`
	Player2Moved   bool       `json:"player_2_moved"`
	CreatedAt      time.Time  `json:"created_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// NewGame builds an active game under matchID
func NewGame(id, matchID string, now time.Time) *Game {
	return &Game{
		ID:        id,
		MatchID:   matchID,
		IsActive:  true,
		Result:    ResultPending,
		CreatedAt: now,
	}
}

// SetMove stores the move for a seat, replacing any earlier move from the
// same seat.
func (g *Game) SetMove(seat int, defect bool) error {
	if !g.IsActive {
		return ErrGameAlreadyFinished
	}
	switch seat {
	case 1:
		g.Player1Move = &defect
	case 2:
		g.Player2Move = &defect
	default:
		return ErrPlayerNotInGame
	}
	return nil
}

// Ready reports whether both moves are in
func (g *Game) Ready() bool {
	return g.Player1Move != nil && g.Player2Move != nil
}

// Finish resolves a ready game and closes it. It fails on a game that was
// already closed, so a game can only be folded into its match once.
func (g *Game) Finish(m *Match, now time.Time) (Penalties, error) {
	if !g.IsActive {
		return Penalties{}, ErrGameAlreadyFinished
	}
	if !g.Ready() {
		return Penalties{}, ErrInvalidMove
	}

	p1, p2 := Resolve(*g.Player1Move, *g.Player2Move)
	g.IsActive = false
	g.Player1Penalty = &p1
	g.Player2Penalty = &p2
	g.FinishedAt = &now
	g.Result = fmt.Sprintf("%s: %d years, %s: %d years", m.Player1Name, p1, m.Player2Name, p2)
	return Penalties{Player1: p1, Player2: p2}, nil
}

// Sealed returns a copy safe to show while the game is open: moves are
// replaced by whether each seat has moved. Finished games are returned as is.
func (g Game) Sealed() Game {
	g.Player1Moved = g.Player1Move != nil
	g.Player2Moved = g.Player2Move != nil
	if g.IsActive {
		g.Player1Move = nil
		g.Player2Move = nil
	}
	return g
}

// GameView is a game together with the names of its two players
type GameView struct {
	Game
	Player1Name string `json:"player_1_name"`
	Player2Name string `json:"player_2_name"`
}

// OutcomeStatus tells a mover whether the game resolved
type OutcomeStatus string

const (
	OutcomeWaiting   OutcomeStatus = "waiting"
	OutcomeCompleted OutcomeStatus = "completed"
)

// MoveOutcome is the result of a move submission
type MoveOutcome struct {
	GameID     string        `json:"game_id"`
	MatchID    string        `json:"match_id"`
	PlayerName string        `json:"player_name"`
	Move       bool          `json:"move"`
	Status     OutcomeStatus `json:"status"`
	Result     string        `json:"result"`
	Penalties  *Penalties    `json:"penalties,omitempty"`
	Match      *Match        `json:"match,omitempty"`
	Settlement *Settlement   `json:"settlement,omitempty"`
}

// SubmitMoveRequest represents one player's move. Caller is the identity the
// transport authenticated, if any; it never comes from the request body.
type SubmitMoveRequest struct {
	GameID     string `json:"game_id"`
	PlayerName string `json:"player_name"`
	Move       *bool  `json:"move"`
	Caller     string `json:"-"`
}

// Validate checks required fields
func (r *SubmitMoveRequest) Validate() error {
	if r.GameID == "" || r.PlayerName == "" {
		return ErrInvalidRequest
	}
	if r.Move == nil {
		return ErrInvalidMove
	}
	return nil
}
