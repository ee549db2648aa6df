package config

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ModeWebService, cfg.LobbyMode)
	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, 30*time.Minute, cfg.Tables.IdleTimeout)
	assert.Equal(t, "https://globalecco.org:443/api/secure/jsonws/egs-portlet.gamebot", cfg.EGS.URL())
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	t.Setenv("LOBBY_MODE", "carrier-pigeon")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LOBBY_MODE")
}

func TestEGSURLPicksProtocolFromPort(t *testing.T) {
	e := EGS{Host: "localhost", Port: 4000, NotificationPath: "/notify"}
	assert.Equal(t, "http://localhost:4000/notify", e.URL())

	e.Protocol = "https"
	assert.Equal(t, "https://localhost:4000/notify", e.URL())
}

func TestRabbitDefaultsFromSlug(t *testing.T) {
	r := Rabbit{NotifyQueue: "custom"}.WithDefaults("tictactoe")
	assert.Equal(t, "tictactoe.new", r.CreateQueue)
	assert.Equal(t, "custom", r.NotifyQueue)
	assert.Equal(t, "tictactoe.#", r.RoutingPattern)
}

func TestPostgresDSNEscapesCredentials(t *testing.T) {
	p := Postgres{User: "raven", Password: "p@ss/w:rd", Host: "db", Port: "5433", Database: "raven"}

	cfg, err := pgx.ParseConfig(p.DSN())
	require.NoError(t, err)
	assert.Equal(t, "raven", cfg.User)
	assert.Equal(t, "p@ss/w:rd", cfg.Password)
	assert.Equal(t, "db", cfg.Host)
	assert.Equal(t, uint16(5433), cfg.Port)
	assert.Equal(t, "raven", cfg.Database)
}
