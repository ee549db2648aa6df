// internal/database/session.go
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	apperrors "github.com/jason-s-yu/raven/internal/errors"
	"github.com/jason-s-yu/raven/internal/models"
)

// SessionStore persists Session records in Postgres.
type SessionStore struct {
	pool *pgxpool.Pool
}

func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

// Create inserts a new in-progress session for the given role assignment.
func (s *SessionStore) Create(ctx context.Context, roles map[string]string) (*models.Session, error) {
	sess := &models.Session{
		ID:         uuid.New(),
		Roles:      roles,
		ChatLog:    []models.ChatMessage{},
		InProgress: true,
		CreatedAt:  time.Now().UTC(),
	}
	rolesJSON, err := json.Marshal(roles)
	if err != nil {
		return nil, fmt.Errorf("marshal roles: %w", err)
	}

	q := `
		INSERT INTO sessions (id, roles, chat_log, in_progress, created_at)
		VALUES ($1, $2, '[]'::jsonb, $3, $4)
	`
	if _, err := s.pool.Exec(ctx, q, sess.ID, string(rolesJSON), sess.InProgress, sess.CreatedAt); err != nil {
		return nil, apperrors.Wrap(apperrors.CodePersistenceFailure, err, "insert session")
	}
	return sess, nil
}

// Get loads a session by ID. Returns a NotFound error if no row exists.
func (s *SessionStore) Get(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	q := `
		SELECT id, roles, draw_offered_by, chat_log, game_state, in_progress, created_at
		FROM sessions
		WHERE id = $1
	`
	var (
		sess      models.Session
		rolesJSON []byte
		chatJSON  []byte
		drawBy    *string
		state     []byte
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&sess.ID, &rolesJSON, &drawBy, &chatJSON, &state, &sess.InProgress, &sess.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.New(apperrors.CodeNotFound, "could not find game with id: %s", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodePersistenceFailure, err, "select session %s", id)
	}

	if err := json.Unmarshal(rolesJSON, &sess.Roles); err != nil {
		return nil, fmt.Errorf("decode roles of session %s: %w", id, err)
	}
	if err := json.Unmarshal(chatJSON, &sess.ChatLog); err != nil {
		return nil, fmt.Errorf("decode chat log of session %s: %w", id, err)
	}
	if drawBy != nil {
		sess.DrawOfferedBy = *drawBy
	}
	sess.GameState = state
	return &sess, nil
}

// Save overwrites the mutable fields of a session: draw offer, chat log, game state and progress flag.
func (s *SessionStore) Save(ctx context.Context, sess *models.Session) error {
	chatJSON, err := json.Marshal(sess.ChatLog)
	if err != nil {
		return fmt.Errorf("marshal chat log: %w", err)
	}
	var drawBy *string
	if sess.DrawOfferedBy != "" {
		drawBy = &sess.DrawOfferedBy
	}
	var state *string
	if sess.GameState != nil {
		st := string(sess.GameState)
		state = &st
	}

	q := `
		UPDATE sessions
		SET draw_offered_by = $2, chat_log = $3, game_state = $4, in_progress = $5, updated_at = NOW()
		WHERE id = $1
	`
	err = pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, e := tx.Exec(ctx, q, sess.ID, drawBy, string(chatJSON), state, sess.InProgress)
		if e != nil {
			return e
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("session %s does not exist", sess.ID)
		}
		return nil
	})
	if err != nil {
		return apperrors.Wrap(apperrors.CodePersistenceFailure, err, "save session %s", sess.ID)
	}
	return nil
}
