// internal/models/session.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is the durable record behind a table. One row per game instance.
type Session struct {
	ID uuid.UUID `json:"id"`

	// Roles maps role slug -> gaming ID. Holds exactly the roles declared by the game's metadata.
	Roles map[string]string `json:"roles"`

	// DrawOfferedBy is the gaming ID that has a pending draw offer, or "" when none is pending.
	DrawOfferedBy string `json:"drawOfferedBy,omitempty"`

	ChatLog []ChatMessage `json:"chatMessages"`

	// GameState is the opaque blob produced by the game module. Nil until the game first saves.
	GameState []byte `json:"-"`

	InProgress bool      `json:"inProgress"`
	CreatedAt  time.Time `json:"createdAt"`
}

// RoleOf returns the role slug assigned to the given gaming ID.
func (s *Session) RoleOf(gamingID string) (string, bool) {
	for role, id := range s.Roles {
		if id == gamingID {
			return role, true
		}
	}
	return "", false
}

// ChatMessage is a single append-only chat entry.
type ChatMessage struct {
	Time    time.Time `json:"time"`
	User    string    `json:"user"`
	Role    string    `json:"role"`
	Message string    `json:"message"`
}

// AttentionState tells the lobby whether it should expect input from a player.
type AttentionState string

const (
	StateAttention AttentionState = "ATTN"
	StatePending   AttentionState = "PEND"
	StateOver      AttentionState = "OVER"
)

// Valid reports whether s is one of the three recognized states.
func (s AttentionState) Valid() bool {
	switch s {
	case StateAttention, StatePending, StateOver:
		return true
	}
	return false
}

// Outcome is the final result reported for a player once a game is over.
type Outcome string

const (
	OutcomeWin     Outcome = "Win"
	OutcomeLose    Outcome = "Lose"
	OutcomeDraw    Outcome = "Draw"
	OutcomeForfeit Outcome = "Forfeit"
)
