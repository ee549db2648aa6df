// Package tictactoe is the reference game module bundled with the server.
// It exists so a freshly deployed host has something to play; real titles
// plug in through game.Factory the same way.
package tictactoe

import (
	"encoding/json"
	"fmt"

	"github.com/jason-s-yu/raven/internal/game"
	"github.com/jason-s-yu/raven/internal/models"
)

const (
	RoleX = "x"
	RoleO = "o"

	EventBoard   = "board"
	EventMove    = "move"
	EventForfeit = "forfeit"
)

// Metadata declares the two seats. X always opens.
var Metadata = game.Metadata{
	Name:    "Tic-Tac-Toe",
	Slug:    "tictactoe",
	Version: "1.0",
	Roles: []game.Role{
		{Slug: RoleX, Name: "Crosses"},
		{Slug: RoleO, Name: "Noughts"},
	},
	InitialPlayerState: map[string]models.AttentionState{
		RoleX: models.StateAttention,
		RoleO: models.StatePending,
	},
}

// State is the serialized form persisted through Host.Save.
type State struct {
	Board   [9]string       `json:"board"`
	Turn    string          `json:"turn"`
	Joined  map[string]bool `json:"joined"`
	Started bool            `json:"started"`
	Over    bool            `json:"over"`
	Winner  string          `json:"winner,omitempty"`
	Drawn   bool            `json:"drawn,omitempty"`
}

// Game implements game.Game.
type Game struct {
	host    game.Host
	state   State
	players map[string]game.Player
}

var lines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// New is the game.Factory for tic-tac-toe.
func New(host game.Host, saved json.RawMessage) (game.Game, error) {
	g := &Game{
		host:    host,
		players: make(map[string]game.Player),
		state: State{
			Turn:   RoleX,
			Joined: make(map[string]bool),
		},
	}
	if len(saved) > 0 {
		if err := json.Unmarshal(saved, &g.state); err != nil {
			return nil, fmt.Errorf("restore tictactoe state: %w", err)
		}
		if g.state.Joined == nil {
			g.state.Joined = make(map[string]bool)
		}
	}
	return g, nil
}

func (g *Game) AddPlayer(p game.Player) {
	g.players[p.GamingID()] = p
	if !g.state.Joined[p.Role()] {
		g.state.Joined[p.Role()] = true
		if g.state.Joined[RoleX] && g.state.Joined[RoleO] {
			g.state.Started = true
		}
		g.host.Save(g.state)
	}
	p.Send(EventBoard, g.state)
}

func (g *Game) HasStarted() bool { return g.state.Started && !g.state.Over }

func (g *Game) Draw() {
	g.state.Over = true
	g.state.Drawn = true
	g.host.Save(g.state)
	g.host.Broadcast(EventBoard, g.state)
}

func (g *Game) PlayerCount() int { return len(g.players) }

type moveRequest struct {
	Cell int `json:"cell"`
}

func (g *Game) HandleEvent(p game.Player, event string, data json.RawMessage) error {
	switch event {
	case EventMove:
		var req moveRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("invalid move payload: %w", err)
		}
		return g.move(p.Role(), req.Cell)
	case EventForfeit:
		if g.state.Over {
			return fmt.Errorf("game is already over")
		}
		g.state.Over = true
		g.state.Winner = other(p.Role())
		g.host.Save(g.state)
		g.host.Broadcast(EventBoard, g.state)
		g.host.Forfeit(p.Role())
		return nil
	default:
		return fmt.Errorf("unknown event: %s", event)
	}
}

func (g *Game) move(role string, cell int) error {
	switch {
	case g.state.Over:
		return fmt.Errorf("game is already over")
	case !g.state.Started:
		return fmt.Errorf("game has not started yet")
	case role != g.state.Turn:
		return fmt.Errorf("it is not your turn")
	case cell < 0 || cell >= len(g.state.Board):
		return fmt.Errorf("cell %d is off the board", cell)
	case g.state.Board[cell] != "":
		return fmt.Errorf("cell %d is already taken", cell)
	}

	g.state.Board[cell] = role
	g.state.Turn = other(role)

	if winner := g.winner(); winner != "" {
		g.state.Over = true
		g.state.Winner = winner
		g.host.Save(g.state)
		g.host.Broadcast(EventBoard, g.state)
		g.host.Gameover(winner, map[string]int{winner: 1, other(winner): 0})
		return nil
	}
	if g.full() {
		g.state.Over = true
		g.state.Drawn = true
		g.host.Save(g.state)
		g.host.Broadcast(EventBoard, g.state)
		return g.host.SetPlayerState(map[string]models.AttentionState{
			RoleX: models.StateOver,
			RoleO: models.StateOver,
		})
	}

	g.host.Save(g.state)
	g.host.Broadcast(EventBoard, g.state)
	g.host.Move(g.state.Turn)
	return nil
}

func (g *Game) winner() string {
	for _, l := range lines {
		a := g.state.Board[l[0]]
		if a != "" && a == g.state.Board[l[1]] && a == g.state.Board[l[2]] {
			return a
		}
	}
	return ""
}

func (g *Game) full() bool {
	for _, c := range g.state.Board {
		if c == "" {
			return false
		}
	}
	return true
}

func other(role string) string {
	if role == RoleX {
		return RoleO
	}
	return RoleX
}
