// internal/game/game.go
package game

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jason-s-yu/raven/internal/models"
)

// Role is one fixed seat declared by a game.
type Role struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// Metadata describes a game module to the host.
type Metadata struct {
	Name    string `json:"name"`
	Slug    string `json:"slug"`
	Version string `json:"version"`
	Roles   []Role `json:"roles"`

	// InitialPlayerState is reported to the lobby right after a session is created.
	InitialPlayerState map[string]models.AttentionState `json:"initialPlayerState"`
}

// HasRole reports whether slug is one of the declared roles.
func (m Metadata) HasRole(slug string) bool {
	for _, r := range m.Roles {
		if r.Slug == slug {
			return true
		}
	}
	return false
}

// RoleSlugs returns the declared role slugs in declaration order.
func (m Metadata) RoleSlugs() []string {
	slugs := make([]string, 0, len(m.Roles))
	for _, r := range m.Roles {
		slugs = append(slugs, r.Slug)
	}
	return slugs
}

// InvalidGameError lists every problem found in a game's metadata.
type InvalidGameError struct {
	Errors map[string][]string
}

func (e *InvalidGameError) Error() string {
	keys := make([]string, 0, len(e.Errors))
	for k := range e.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("the given game is invalid:")
	for _, k := range keys {
		fmt.Fprintf(&b, " %s: %s", k, strings.Join(e.Errors[k], " "))
	}
	return b.String()
}

// Validate checks that a game module declares everything the host needs.
func Validate(meta Metadata, factory Factory) error {
	errs := map[string][]string{}
	var md []string
	if meta.Name == "" {
		md = append(md, "Missing name.")
	}
	if meta.Slug == "" {
		md = append(md, "Missing slug.")
	}
	if len(meta.Roles) == 0 {
		md = append(md, "Missing roles.")
	}
	for role, state := range meta.InitialPlayerState {
		if !meta.HasRole(role) {
			md = append(md, fmt.Sprintf("Initial state names unknown role %q.", role))
		}
		if !state.Valid() {
			md = append(md, fmt.Sprintf("Initial state %q is not a valid attention state.", state))
		}
	}
	if len(md) > 0 {
		errs["metadata"] = md
	}
	if factory == nil {
		errs["create"] = []string{"Missing create function."}
	}
	if len(errs) > 0 {
		return &InvalidGameError{Errors: errs}
	}
	return nil
}

// Player is what a game module sees of one attached connection.
type Player interface {
	GamingID() string
	Role() string
	// Send delivers an event to this player only.
	Send(event string, payload any)
}

// Host is the set of callbacks a game module uses to talk back to its table.
// Calls are only valid from inside a method the table invoked on the Game.
type Host interface {
	// Broadcast sends an event to every attached player.
	Broadcast(event string, payload any)
	// Save persists the game's state. state must be JSON-serializable.
	Save(state any)

	// SetPlayerState reports an explicit role -> attention state map to the lobby.
	SetPlayerState(states map[string]models.AttentionState) error
	// Move reports that it is now role's turn.
	Move(role string)
	// Forfeit reports that role forfeited and the game is over.
	Forfeit(role string)
	// Gameover reports the winner and final scores.
	Gameover(winningRole string, scores map[string]int)
}

// Game is the pluggable game-logic capability hosted by a table.
type Game interface {
	AddPlayer(p Player)
	HasStarted() bool
	// Draw resolves the game as drawn after both sides agreed.
	Draw()
	PlayerCount() int
	// HandleEvent receives any channel event that is not part of the host protocol.
	HandleEvent(p Player, event string, data json.RawMessage) error
}

// Factory builds a game bound to host. saved is the last persisted state, or nil for a fresh game.
type Factory func(host Host, saved json.RawMessage) (Game, error)
