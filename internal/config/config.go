// internal/config/config.go
package config

import (
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
)

// Lobby transport modes.
const (
	ModeWebService = "webservice"
	ModeAMQP       = "amqp"
)

// Config is the process configuration, read from the environment (and .env via godotenv/autoload in main).
type Config struct {
	Port     string `env:"PORT" envDefault:"3000"`
	Prefix   string `env:"PREFIX" envDefault:""`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Postgres Postgres
	Redis    Redis
	Tickets  Tickets
	Tables   Tables

	LobbyMode string `env:"LOBBY_MODE" envDefault:"webservice"`
	EGS       EGS
	Rabbit    Rabbit
}

// Postgres holds the connection settings used by database.Connect.
type Postgres struct {
	User     string `env:"POSTGRES_USER" envDefault:"postgres"`
	Password string `env:"POSTGRES_PASSWORD"`
	Host     string `env:"PG_HOST" envDefault:"localhost"`
	Port     string `env:"PG_PORT" envDefault:"5432"`
	Database string `env:"PG_DATABASE" envDefault:"raven"`
}

// DSN builds the pgx connection string.
func (p Postgres) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   net.JoinHostPort(p.Host, p.Port),
		Path:   "/" + p.Database,
	}
	return u.String()
}

type Redis struct {
	Addr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	DB   int    `env:"REDIS_DB" envDefault:"0"`
	// ReplyTTL bounds how long a broker creation reply is remembered for redelivery.
	ReplyTTL time.Duration `env:"REDIS_REPLY_TTL" envDefault:"24h"`
}

// Tickets configures the signed play tickets handed out by /play.
type Tickets struct {
	// Secret seeds the ed25519 signing key. Empty means a random key per process.
	Secret string        `env:"TICKET_SECRET"`
	TTL    time.Duration `env:"TICKET_TTL" envDefault:"12h"`
}

// Tables configures the live-table reaper.
type Tables struct {
	ReapInterval time.Duration `env:"TABLE_REAP_INTERVAL" envDefault:"1m"`
	IdleTimeout  time.Duration `env:"TABLE_IDLE_TIMEOUT" envDefault:"30m"`
	// QueueSize bounds each player's outbound queue.
	QueueSize int `env:"CONN_QUEUE_SIZE" envDefault:"32"`
}

// EGS is the lobby portal reached by the webservice transport.
type EGS struct {
	Host             string        `env:"EGS_HOST" envDefault:"globalecco.org"`
	Port             int           `env:"EGS_PORT" envDefault:"443"`
	Protocol         string        `env:"EGS_PROTOCOL"`
	Username         string        `env:"EGS_USERNAME"`
	Password         string        `env:"EGS_PASSWORD"`
	NotificationPath string        `env:"EGS_NOTIFICATION_PATH" envDefault:"/api/secure/jsonws/egs-portlet.gamebot"`
	Timeout          time.Duration `env:"EGS_TIMEOUT" envDefault:"10s"`
}

// URL returns the notification endpoint. Protocol defaults to https on 443, http otherwise.
func (e EGS) URL() string {
	proto := e.Protocol
	if proto == "" {
		proto = "http"
		if e.Port == 443 {
			proto = "https"
		}
	}
	return fmt.Sprintf("%s://%s:%d%s", proto, e.Host, e.Port, e.NotificationPath)
}

// Rabbit is the broker reached by the amqp transport.
type Rabbit struct {
	Host     string `env:"RABBIT_HOST" envDefault:"localhost:5672"`
	Username string `env:"RABBIT_USERNAME" envDefault:"guest"`
	Password string `env:"RABBIT_PASSWORD" envDefault:"guest"`
	VHost    string `env:"RABBIT_VHOST" envDefault:""`
	Exchange string `env:"RABBIT_EXCHANGE" envDefault:"egs"`

	// Queue names and the binding pattern default to values derived from the game slug.
	CreateQueue    string `env:"RABBIT_CREATE_QUEUE"`
	NotifyQueue    string `env:"RABBIT_NOTIFY_QUEUE"`
	RoutingPattern string `env:"RABBIT_ROUTING_PATTERN"`
}

// WithDefaults fills the slug-derived queue names.
func (r Rabbit) WithDefaults(slug string) Rabbit {
	if r.CreateQueue == "" {
		r.CreateQueue = slug + ".new"
	}
	if r.NotifyQueue == "" {
		r.NotifyQueue = slug + ".notify"
	}
	if r.RoutingPattern == "" {
		r.RoutingPattern = slug + ".#"
	}
	return r
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	switch c.LobbyMode {
	case ModeWebService, ModeAMQP:
	default:
		return fmt.Errorf("LOBBY_MODE must be %q or %q, got %q", ModeWebService, ModeAMQP, c.LobbyMode)
	}
	if c.Tables.IdleTimeout <= 0 || c.Tables.ReapInterval <= 0 {
		return fmt.Errorf("TABLE_IDLE_TIMEOUT and TABLE_REAP_INTERVAL must be positive")
	}
	return nil
}
