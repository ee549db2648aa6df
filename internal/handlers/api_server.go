// internal/handlers/api_server.go
package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/jason-s-yu/raven/internal/auth"
	"github.com/jason-s-yu/raven/internal/creation"
	"github.com/jason-s-yu/raven/internal/game"
	"github.com/jason-s-yu/raven/internal/middleware"
	"github.com/jason-s-yu/raven/internal/models"
	"github.com/jason-s-yu/raven/internal/table"
	"github.com/sirupsen/logrus"
)

// Sessions loads persisted session records.
type Sessions interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

// Server holds everything the HTTP and websocket handlers share.
type Server struct {
	Meta     game.Metadata
	Sessions Sessions
	Tables   *table.Registry
	Flow     *creation.Flow
	Tickets  *auth.Issuer
	Logger   *logrus.Logger

	// Prefix is prepended to every route, e.g. "/tictactoe".
	Prefix string
	// QueueSize bounds each connection's outbound queue.
	QueueSize int
}

// Routes registers every endpoint on mux, wrapped in request logging.
func (s *Server) Routes(mux *http.ServeMux) {
	logged := middleware.LogMiddleware(s.Logger)

	mux.Handle(s.Prefix+"/new", logged(s.NewGameHandler()))
	mux.Handle(s.Prefix+"/play", logged(s.PlayHandler()))
	mux.Handle(s.Prefix+"/status", logged(StatusHandler()))
	mux.Handle(s.Prefix+"/ws", logged(s.TableWSHandler()))
}

func (s *Server) queueSize() int {
	if s.QueueSize <= 0 {
		return 32
	}
	return s.QueueSize
}

func (s *Server) cookiePath() string {
	if s.Prefix == "" {
		return "/"
	}
	return s.Prefix + "/"
}
