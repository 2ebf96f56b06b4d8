package domain

import "time"

// Match event types
const (
	EventMatchCreated   = "match_created"
	EventGameCreated    = "game_created"
	EventMoveSubmitted  = "move_submitted"
	EventGameCompleted  = "game_completed"
	EventMatchFinished  = "match_finished"
	EventMatchCancelled = "match_cancelled"
)

// MatchEvent is published after a match mutation commits
type MatchEvent struct {
	Type       string      `json:"type"`
	MatchID    string      `json:"match_id"`
	GameID     string      `json:"game_id,omitempty"`
	PlayerName string      `json:"player_name,omitempty"`
	Match      *Match      `json:"match,omitempty"`
	Penalties  *Penalties  `json:"penalties,omitempty"`
	Settlement *Settlement `json:"settlement,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}
