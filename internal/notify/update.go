// Package notify keeps the lobby portal's view of each player's turn in sync
// with live sessions. It builds update records, wraps them in the portal's
// JSON-RPC style envelope and hands them to one of two transports.
package notify

import (
	"sort"

	"github.com/google/uuid"
	"github.com/jason-s-yu/raven/internal/game"
	"github.com/jason-s-yu/raven/internal/models"
)

// Update is one player's attention state as understood by the lobby.
type Update struct {
	GameInstanceID string                `json:"gameInstanceId"`
	GameTitle      string                `json:"gameTitle"`
	GameVersion    string                `json:"gameVersion"`
	GamingID       string                `json:"gamingId"`
	State          models.AttentionState `json:"state"`
	Score          *int                  `json:"score,omitempty"`
	Outcome        models.Outcome        `json:"outcome,omitempty"`
}

// Title identifies the hosted game in every update.
type Title struct {
	Slug    string
	Version string
}

// TitleOf derives the update title from a game's metadata.
func TitleOf(meta game.Metadata) Title {
	v := meta.Version
	if v == "" {
		v = "1.0"
	}
	return Title{Slug: meta.Slug, Version: v}
}

// UpdateOption sets an optional field on an Update.
type UpdateOption func(*Update)

// WithScore sets the score. A zero score is still reported.
func WithScore(score int) UpdateOption {
	return func(u *Update) { u.Score = &score }
}

// WithOutcome sets the final outcome.
func WithOutcome(o models.Outcome) UpdateOption {
	return func(u *Update) { u.Outcome = o }
}

// BuildUpdate builds a single update record.
func BuildUpdate(title Title, sessionID uuid.UUID, gamingID string, state models.AttentionState, opts ...UpdateOption) Update {
	u := Update{
		GameInstanceID: sessionID.String(),
		GameTitle:      title.Slug,
		GameVersion:    title.Version,
		GamingID:       gamingID,
		State:          state,
	}
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

// BuildUpdates turns a role -> state map into update records, one per role
// present in roles, ordered by role slug. Roles missing from the assignment are skipped.
func BuildUpdates(title Title, sessionID uuid.UUID, roles map[string]string, states map[string]models.AttentionState) []Update {
	updates := make([]Update, 0, len(states))
	for _, role := range sortedKeys(states) {
		gamingID, ok := roles[role]
		if !ok {
			continue
		}
		updates = append(updates, BuildUpdate(title, sessionID, gamingID, states[role]))
	}
	return updates
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
