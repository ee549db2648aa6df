// internal/table/table.go
package table

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/jason-s-yu/raven/internal/errors"
	"github.com/jason-s-yu/raven/internal/game"
	"github.com/jason-s-yu/raven/internal/models"
	"github.com/sirupsen/logrus"
)

// ErrClosed is returned by operations on a table that has been evicted from its registry.
var ErrClosed = errors.New("table closed")

// Store persists the session record a table mirrors.
type Store interface {
	Save(ctx context.Context, sess *models.Session) error
}

// Notifier reports player state changes to the lobby.
type Notifier interface {
	Move(ctx context.Context, sessionID uuid.UUID, roles map[string]string, activeRole string) error
	Forfeit(ctx context.Context, sessionID uuid.UUID, roles map[string]string, forfeitingRole string) error
	Draw(ctx context.Context, sessionID uuid.UUID, roles map[string]string)
	Gameover(ctx context.Context, sessionID uuid.UUID, roles map[string]string, winningRole string, scores map[string]int) error
	SetPlayerState(ctx context.Context, sessionID uuid.UUID, roles map[string]string, states map[string]models.AttentionState) error
}

// Table binds one persisted session to its live connections and its game.
//
// Every exported method takes mu. The game is only ever called with mu held,
// and the host callbacks it makes run inside that same critical section.
type Table struct {
	mu      sync.Mutex
	session *models.Session
	conns   map[string]*Conn // keyed by gaming ID
	game    game.Game
	closed  bool

	store    Store
	notifier Notifier
	logger   *logrus.Entry

	// opCtx and opErr are scoped to the operation currently holding mu.
	opCtx context.Context
	opErr error

	idleSince time.Time
	now       func() time.Time
}

func newTable(ctx context.Context, sess *models.Session, factory game.Factory, store Store, notifier Notifier, logger *logrus.Logger) (*Table, error) {
	if sess.ChatLog == nil {
		sess.ChatLog = []models.ChatMessage{}
	}
	t := &Table{
		session:  sess,
		conns:    make(map[string]*Conn),
		store:    store,
		notifier: notifier,
		logger:   logger.WithField("session", sess.ID),
		now:      time.Now,
	}
	t.idleSince = t.now()

	if sess.GameState == nil {
		t.logger.Info("creating new game")
	} else {
		t.logger.Debug("restoring saved game")
	}
	err := t.run(ctx, func() error {
		g, err := factory(&host{t: t}, json.RawMessage(sess.GameState))
		if err != nil {
			return err
		}
		t.game = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ID returns the session identifier.
func (t *Table) ID() uuid.UUID { return t.session.ID }

// Roles returns a copy of the role assignment.
func (t *Table) Roles() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rolesUnsafe()
}

func (t *Table) rolesUnsafe() map[string]string {
	out := make(map[string]string, len(t.session.Roles))
	for k, v := range t.session.Roles {
		out[k] = v
	}
	return out
}

// DrawOfferedBy returns the gaming ID with a pending draw offer, or "".
func (t *Table) DrawOfferedBy() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session.DrawOfferedBy
}

// ConnectedCount is the number of attached identities.
func (t *Table) ConnectedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// IdleSince reports when the last connection detached. ok is false while anyone is attached.
func (t *Table) IdleSince() (since time.Time, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) > 0 {
		return time.Time{}, false
	}
	return t.idleSince, true
}

// AddPlayer attaches conn, replacing any earlier connection for the same
// identity. The new connection gets its role, the chat history and any draw
// offer raised by someone else; the game is told about the player and
// everyone else sees them come online.
func (t *Table) AddPlayer(ctx context.Context, conn *Conn) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}

	id := conn.GamingID()
	if old, ok := t.conns[id]; ok && old != conn {
		t.logger.WithField("identity", id).Info("replacing stale connection")
		old.Close()
	}
	t.conns[id] = conn

	conn.Send(EventUserData, map[string]string{"username": id, "role": conn.Role()})
	conn.Send(EventChatHistory, t.session.ChatLog)
	if by := t.session.DrawOfferedBy; by != "" && by != id {
		conn.Send(EventDrawOffered, map[string]string{"by": by})
	}

	err := t.run(ctx, func() error {
		t.game.AddPlayer(conn)
		return nil
	})
	t.broadcastExceptUnsafe(id, EventUserOnline, id)

	t.logger.WithFields(logrus.Fields{"identity": id, "role": conn.Role()}).
		Infof("joined table, %d connected", len(t.conns))
	return err
}

// RemovePlayer detaches conn. A connection that was already replaced by a
// reconnect is closed but leaves the index untouched.
func (t *Table) RemovePlayer(conn *Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	conn.Close()

	id := conn.GamingID()
	if t.conns[id] != conn {
		return
	}
	delete(t.conns, id)
	if len(t.conns) == 0 {
		t.idleSince = t.now()
	}
	t.broadcastUnsafe(EventUserOffline, id)
	t.logger.WithField("identity", id).Infof("disconnected, %d connected", len(t.conns))
}

// Broadcast sends an event to every attached connection. Best effort.
func (t *Table) Broadcast(event string, payload any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.broadcastUnsafe(event, payload)
}

func (t *Table) broadcastUnsafe(event string, payload any) {
	t.broadcastExceptUnsafe("", event, payload)
}

func (t *Table) broadcastExceptUnsafe(skip, event string, payload any) {
	for id, c := range t.conns {
		if id == skip {
			continue
		}
		c.Send(event, payload)
	}
}

// RecordChatMessage appends a chat message, persists it, then broadcasts it.
func (t *Table) RecordChatMessage(ctx context.Context, gamingID, role, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return apperrors.New(apperrors.CodeInvalidOperation, "message is empty")
	}
	msg := models.ChatMessage{Time: t.now().UTC(), User: gamingID, Role: role, Message: text}

	t.session.ChatLog = append(t.session.ChatLog, msg)
	if err := t.persistUnsafe(ctx); err != nil {
		t.session.ChatLog = t.session.ChatLog[:len(t.session.ChatLog)-1]
		return err
	}
	t.broadcastUnsafe(EventMessage, msg)
	return nil
}

// OfferDraw raises a draw offer. Only valid once the game has started and
// while no other offer is pending.
func (t *Table) OfferDraw(ctx context.Context, gamingID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}

	if _, ok := t.session.RoleOf(gamingID); !ok {
		return apperrors.New(apperrors.CodeInvalidOperation, "%s is not playing this game", gamingID)
	}
	if !t.game.HasStarted() {
		return apperrors.New(apperrors.CodeInvalidOperation, "game has not started yet")
	}
	if t.session.DrawOfferedBy != "" {
		return apperrors.New(apperrors.CodeInvalidOperation, "draw has already been offered")
	}

	t.session.DrawOfferedBy = gamingID
	if err := t.persistUnsafe(ctx); err != nil {
		t.session.DrawOfferedBy = ""
		return err
	}
	t.logger.WithField("identity", gamingID).Info("draw offered")
	t.broadcastUnsafe(EventDrawOffered, map[string]string{"by": gamingID})
	return nil
}

// AcceptDraw resolves a pending offer raised by someone else as a draw and
// reports it to the lobby.
func (t *Table) AcceptDraw(ctx context.Context, gamingID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkAnswerUnsafe(gamingID, "accept"); err != nil {
		return err
	}

	t.broadcastUnsafe(EventDrawAccepted, nil)
	err := t.run(ctx, func() error {
		t.game.Draw()
		return nil
	})
	by, inProgress := t.session.DrawOfferedBy, t.session.InProgress
	t.session.DrawOfferedBy = ""
	t.session.InProgress = false
	if err == nil {
		err = t.persistUnsafe(ctx)
	}
	if err != nil {
		t.session.DrawOfferedBy, t.session.InProgress = by, inProgress
		return err
	}

	t.logger.WithField("identity", gamingID).Info("draw accepted")
	t.notifier.Draw(ctx, t.session.ID, t.rolesUnsafe())
	return nil
}

// RejectDraw clears a pending offer raised by someone else.
func (t *Table) RejectDraw(ctx context.Context, gamingID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkAnswerUnsafe(gamingID, "reject"); err != nil {
		return err
	}

	t.broadcastUnsafe(EventDrawRejected, nil)
	by := t.session.DrawOfferedBy
	t.session.DrawOfferedBy = ""
	if err := t.persistUnsafe(ctx); err != nil {
		t.session.DrawOfferedBy = by
		return err
	}
	t.logger.WithField("identity", gamingID).Info("draw rejected")
	return nil
}

func (t *Table) checkAnswerUnsafe(gamingID, verb string) error {
	if t.closed {
		return ErrClosed
	}
	switch by := t.session.DrawOfferedBy; {
	case by == "":
		return apperrors.New(apperrors.CodeInvalidOperation, "no draw has been offered")
	case by == gamingID:
		return apperrors.New(apperrors.CodeInvalidOperation, "you cannot %s your own draw", verb)
	}
	if _, ok := t.session.RoleOf(gamingID); !ok {
		return apperrors.New(apperrors.CodeInvalidOperation, "%s is not playing this game", gamingID)
	}
	return nil
}

// SaveState overwrites the persisted game blob.
func (t *Table) SaveState(ctx context.Context, blob []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	return t.run(ctx, func() error {
		t.saveStateUnsafe(blob)
		return nil
	})
}

// HandleGameEvent passes a channel event the table does not handle itself to the game.
func (t *Table) HandleGameEvent(ctx context.Context, conn *Conn, event string, data json.RawMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.conns[conn.GamingID()] != conn {
		return apperrors.New(apperrors.CodeInvalidOperation, "connection has been replaced")
	}
	return t.run(ctx, func() error {
		return t.game.HandleEvent(conn, event, data)
	})
}

// close detaches every connection and rejects further operations.
func (t *Table) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for id, c := range t.conns {
		c.Send(EventSessionError, "This game was unloaded. Please refresh your browser.")
		c.Close()
		delete(t.conns, id)
	}
}

// closeIfIdle closes the table when nobody has been attached since before cutoff.
func (t *Table) closeIfIdle(cutoff time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) > 0 || t.idleSince.After(cutoff) {
		return false
	}
	t.closed = true
	return true
}

// run executes fn as the current operation so host callbacks see ctx, and
// returns fn's error or the first persistence failure raised inside it.
func (t *Table) run(ctx context.Context, fn func() error) error {
	t.opCtx, t.opErr = ctx, nil
	defer func() { t.opCtx, t.opErr = nil, nil }()

	err := fn()
	if t.opErr != nil {
		return t.opErr
	}
	return err
}

func (t *Table) saveStateUnsafe(blob []byte) {
	prev := t.session.GameState
	t.session.GameState = blob
	if err := t.persistUnsafe(t.opCtx); err != nil {
		t.session.GameState = prev
		t.failUnsafe(err)
	}
}

func (t *Table) persistUnsafe(ctx context.Context) error {
	if err := t.store.Save(ctx, t.session); err != nil {
		t.logger.Errorf("failed to persist session: %v", err)
		if apperrors.IsCode(err, apperrors.CodePersistenceFailure) {
			return err
		}
		return apperrors.Wrap(apperrors.CodePersistenceFailure, err, "persist session %s", t.session.ID)
	}
	return nil
}

func (t *Table) failUnsafe(err error) {
	if t.opErr == nil {
		t.opErr = err
	}
}

// host is the game.Host handed to the game. Its methods run with t.mu held.
type host struct {
	t *Table
}

func (h *host) Broadcast(event string, payload any) {
	h.t.broadcastUnsafe(event, payload)
}

func (h *host) Save(state any) {
	blob, err := json.Marshal(state)
	if err != nil {
		h.t.logger.Errorf("failed to serialize game state: %v", err)
		h.t.failUnsafe(apperrors.Wrap(apperrors.CodePersistenceFailure, err, "serialize game state"))
		return
	}
	h.t.saveStateUnsafe(blob)
}

// SetPlayerState reports attention states. A report putting every role OVER
// finishes the session.
func (h *host) SetPlayerState(states map[string]models.AttentionState) error {
	t := h.t
	if allOver(t.session.Roles, states) {
		t.markFinishedUnsafe()
	}
	return t.notifier.SetPlayerState(t.opCtx, t.session.ID, t.rolesUnsafe(), states)
}

func allOver(roles map[string]string, states map[string]models.AttentionState) bool {
	if len(roles) == 0 {
		return false
	}
	for role := range roles {
		if states[role] != models.StateOver {
			return false
		}
	}
	return true
}

func (h *host) Move(role string) {
	t := h.t
	if err := t.notifier.Move(t.opCtx, t.session.ID, t.rolesUnsafe(), role); err != nil {
		t.logger.Warnf("move notification: %v", err)
	}
}

func (h *host) Forfeit(role string) {
	t := h.t
	t.markFinishedUnsafe()
	if err := t.notifier.Forfeit(t.opCtx, t.session.ID, t.rolesUnsafe(), role); err != nil {
		t.logger.Warnf("forfeit notification: %v", err)
	}
}

func (h *host) Gameover(winningRole string, scores map[string]int) {
	t := h.t
	t.markFinishedUnsafe()
	if err := t.notifier.Gameover(t.opCtx, t.session.ID, t.rolesUnsafe(), winningRole, scores); err != nil {
		t.logger.Warnf("gameover notification: %v", err)
	}
}

// markFinishedUnsafe clears the in-progress flag and any pending draw offer.
func (t *Table) markFinishedUnsafe() {
	if !t.session.InProgress && t.session.DrawOfferedBy == "" {
		return
	}
	t.session.InProgress = false
	t.session.DrawOfferedBy = ""
	if err := t.persistUnsafe(t.opCtx); err != nil {
		t.failUnsafe(err)
	}
}
