// Package creation turns lobby requests for a new game into persisted sessions.
package creation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	apperrors "github.com/jason-s-yu/raven/internal/errors"
	"github.com/jason-s-yu/raven/internal/game"
	"github.com/jason-s-yu/raven/internal/models"
	"github.com/sirupsen/logrus"
)

// Store creates session records.
type Store interface {
	Create(ctx context.Context, roles map[string]string) (*models.Session, error)
}

// Notifier reports the initial attention states to the lobby.
type Notifier interface {
	SetPlayerState(ctx context.Context, sessionID uuid.UUID, roles map[string]string, states map[string]models.AttentionState) error
}

// Request asks for a new game with the given role→identity assignment.
type Request struct {
	Roles map[string]string
}

// Result is a freshly created session and the states its players start in.
type Result struct {
	Session       *models.Session
	InitialStates map[string]models.AttentionState
}

// Flow creates sessions for one game title.
type Flow struct {
	store    Store
	notifier Notifier
	meta     game.Metadata
	logger   *logrus.Logger
}

func NewFlow(store Store, notifier Notifier, meta game.Metadata, logger *logrus.Logger) *Flow {
	return &Flow{store: store, notifier: notifier, meta: meta, logger: logger}
}

// RequestFrom reads the role assignment from a parameter lookup. Each role
// may be given positionally (role1, role2, ...) or by its slug.
func (f *Flow) RequestFrom(lookup func(key string) string) Request {
	roles := make(map[string]string, len(f.meta.Roles))
	for i, r := range f.meta.Roles {
		id := lookup(fmt.Sprintf("role%d", i+1))
		if id == "" {
			id = lookup(r.Slug)
		}
		if id = strings.TrimSpace(id); id != "" {
			roles[r.Slug] = id
		}
	}
	return Request{Roles: roles}
}

// CreateSession persists a new in-progress session. Every declared role must
// have an identity; undeclared keys are ignored.
func (f *Flow) CreateSession(ctx context.Context, req Request) (Result, error) {
	roles := make(map[string]string, len(f.meta.Roles))
	for _, slug := range f.meta.RoleSlugs() {
		id := req.Roles[slug]
		if id == "" {
			f.logger.WithField("roles", req.Roles).Warn("invalid request for new game")
			return Result{}, apperrors.New(apperrors.CodeMissingRole,
				"all roles must be provided (%s)", strings.Join(f.meta.RoleSlugs(), ", "))
		}
		roles[slug] = id
	}

	sess, err := f.store.Create(ctx, roles)
	if err != nil {
		return Result{}, err
	}
	f.logger.WithFields(logrus.Fields{"session": sess.ID, "roles": roles}).Info("created game")

	states := make(map[string]models.AttentionState, len(f.meta.InitialPlayerState))
	for role, st := range f.meta.InitialPlayerState {
		states[role] = st
	}
	return Result{Session: sess, InitialStates: states}, nil
}

// NotifyInitial delivers the initial player states. Call it only after the
// creation request has been acknowledged.
func (f *Flow) NotifyInitial(ctx context.Context, res Result) {
	err := f.notifier.SetPlayerState(ctx, res.Session.ID, res.Session.Roles, res.InitialStates)
	if err != nil {
		f.logger.WithField("session", res.Session.ID).Errorf("initial player state: %v", err)
	}
}

// HandleBrokerRequest serves creation requests arriving over the broker. The
// body is a JSON object keyed by role slug. Bad requests are answered with an
// error reply; only storage failures are returned so the request is retried.
func (f *Flow) HandleBrokerRequest(ctx context.Context, body []byte) ([]byte, func(context.Context), error) {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		f.logger.Warnf("unparseable creation request: %v", err)
		reply, mErr := json.Marshal(Failure("malformed request"))
		return reply, nil, mErr
	}

	req := f.RequestFrom(func(key string) string {
		s, _ := fields[key].(string)
		return s
	})
	res, err := f.CreateSession(ctx, req)
	switch {
	case apperrors.IsCode(err, apperrors.CodeMissingRole):
		reply, mErr := json.Marshal(Failure(err.Error()))
		return reply, nil, mErr
	case err != nil:
		return nil, nil, err
	}

	reply, err := json.Marshal(OK(res.Session.ID))
	if err != nil {
		return nil, nil, err
	}
	return reply, func(ctx context.Context) { f.NotifyInitial(ctx, res) }, nil
}
