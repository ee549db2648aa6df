package handlers

import (
	"errors"
	"net/http"

	"github.com/jason-s-yu/raven/internal/auth"
	apperrors "github.com/jason-s-yu/raven/internal/errors"
)

// ticketFromRequest reads the play ticket from the ticket query parameter,
// falling back to the cookie /play sets.
func ticketFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("ticket"); t != "" {
		return t
	}
	if c, err := r.Cookie(auth.CookieName); err == nil {
		return c.Value
	}
	return ""
}

// userMessage is the text an error event carries to the player.
func userMessage(err error) string {
	var e *apperrors.Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
