// internal/handlers/new.go
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/jason-s-yu/raven/internal/creation"
	apperrors "github.com/jason-s-yu/raven/internal/errors"
)

// NewGameHandler creates a game on behalf of the lobby. Roles are passed as
// role1/role2 or by slug; fmt selects an xml (default) or json answer. The
// initial player states go out once the answer has been written.
func (s *Server) NewGameHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}

		format := strings.ToLower(r.Form.Get("fmt"))
		if format == "" {
			format = "xml"
		}
		if format != "xml" && format != "json" {
			http.Error(w, fmt.Sprintf("Invalid format: %s. Must be one of 'json' or 'xml'", format), http.StatusBadRequest)
			return
		}

		res, err := s.Flow.CreateSession(r.Context(), s.Flow.RequestFrom(r.Form.Get))
		if err != nil {
			msg := "unable to create game"
			if apperrors.IsCode(err, apperrors.CodeMissingRole) {
				msg = err.Error()
			} else {
				s.Logger.Errorf("failed to create game: %v", err)
			}
			s.writeReply(w, format, creation.Failure(msg))
			return
		}

		s.writeReply(w, format, creation.OK(res.Session.ID))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		s.Flow.NotifyInitial(context.WithoutCancel(r.Context()), res)
	}
}

func (s *Server) writeReply(w http.ResponseWriter, format string, reply creation.Reply) {
	code := http.StatusOK
	if reply.Stat == creation.StatError {
		code = http.StatusBadRequest
	}

	var err error
	switch format {
	case "json":
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		err = json.NewEncoder(w).Encode(reply)
	default:
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(code)
		err = reply.WriteXML(w)
	}
	if err != nil {
		s.Logger.Warnf("failed to write creation reply: %v", err)
	}
}
