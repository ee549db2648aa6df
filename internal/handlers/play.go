// internal/handlers/play.go
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jason-s-yu/raven/internal/auth"
	apperrors "github.com/jason-s-yu/raven/internal/errors"
	"github.com/sirupsen/logrus"
)

// PlayHandler hands out the ticket a player's websocket presents. The handle
// must be the identity the session assigned to the requested role.
func (s *Server) PlayHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}

		gid := r.Form.Get("gid")
		if gid == "" {
			http.Error(w, "gid is a required parameter", http.StatusBadRequest)
			return
		}
		sessionID, err := uuid.Parse(gid)
		if err != nil {
			http.Error(w, "invalid gid", http.StatusBadRequest)
			return
		}
		role := r.Form.Get("role")
		if role == "" {
			http.Error(w, "role is a required parameter", http.StatusBadRequest)
			return
		}
		if !s.Meta.HasRole(role) {
			http.Error(w, fmt.Sprintf("role must be one of '%s'", strings.Join(s.Meta.RoleSlugs(), "', '")), http.StatusBadRequest)
			return
		}
		handle := r.Form.Get("handle")
		if handle == "" {
			http.Error(w, "handle is a required parameter", http.StatusBadRequest)
			return
		}

		sess, err := s.Sessions.Get(r.Context(), sessionID)
		if apperrors.IsCode(err, apperrors.CodeNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			s.Logger.Errorf("failed to load session %s: %v", sessionID, err)
			http.Error(w, "unable to look up game", http.StatusInternalServerError)
			return
		}
		if sess.Roles[role] != handle {
			s.Logger.WithFields(logrus.Fields{"session": sessionID, "identity": handle, "role": role}).
				Warn("handle is not assigned to role")
			http.Error(w, "you are not playing this role", http.StatusForbidden)
			return
		}

		ticket, err := s.Tickets.Issue(auth.Ticket{SessionID: sessionID, GamingID: handle, Role: role})
		if err != nil {
			s.Logger.Errorf("failed to issue ticket: %v", err)
			http.Error(w, "unable to issue ticket", http.StatusInternalServerError)
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     auth.CookieName,
			Value:    ticket,
			Path:     s.cookiePath(),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"gid":    sessionID.String(),
			"role":   role,
			"handle": handle,
			"ticket": ticket,
		})
	}
}

// StatusHandler is the liveness probe.
func StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Okay!"))
	}
}
