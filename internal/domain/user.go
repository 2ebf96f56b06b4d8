package domain

import (
	"strings"
	"time"
)

// reservedNames collide with fixed route segments next to {name}
var reservedNames = map[string]bool{"top": true}

// User is a registered player. Score is wins minus losses and only changes
// when a match settles.
type User struct {
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Score     int64     `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// RankingEntry is one row of the ranking table
type RankingEntry struct {
	Rank  int64  `json:"rank"`
	Name  string `json:"name"`
	Score int64  `json:"score"`
}

// CreateUserRequest represents a request to register a user
type CreateUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Validate checks required fields
func (r *CreateUserRequest) Validate() error {
	if r.Name == "" {
		return ErrInvalidRequest
	}
	if reservedNames[r.Name] || strings.Contains(r.Name, "/") {
		return ErrInvalidName
	}
	return nil
}
