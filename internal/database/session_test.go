package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/raven/internal/config"
	apperrors "github.com/jason-s-yu/raven/internal/errors"
	"github.com/jason-s-yu/raven/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Needs a local Postgres (POSTGRES_PASSWORD etc. as for the server); skipped otherwise.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	ctx := context.Background()
	pool, err := Connect(ctx, cfg.Postgres)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(pool.Close)
	require.NoError(t, Migrate(ctx, pool))
	return pool
}

func TestSessionStoreRoundTrip(t *testing.T) {
	pool := testPool(t)
	store := NewSessionStore(pool)
	ctx := context.Background()

	sess, err := store.Create(ctx, map[string]string{"x": "alice", "o": "bob"})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Exec(context.Background(), `DELETE FROM sessions WHERE id = $1`, sess.ID) })

	sess.DrawOfferedBy = "alice"
	sess.ChatLog = append(sess.ChatLog, models.ChatMessage{Time: time.Now().UTC().Truncate(time.Millisecond), User: "bob", Role: "o", Message: "hi"})
	sess.GameState = []byte(`{"turn":"o"}`)
	require.NoError(t, store.Save(ctx, sess))

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.Roles, got.Roles)
	assert.Equal(t, "alice", got.DrawOfferedBy)
	require.Len(t, got.ChatLog, 1)
	assert.Equal(t, "hi", got.ChatLog[0].Message)
	assert.JSONEq(t, `{"turn":"o"}`, string(got.GameState))
	assert.True(t, got.InProgress)
}

func TestSessionStoreMissing(t *testing.T) {
	store := NewSessionStore(testPool(t))
	ctx := context.Background()

	_, err := store.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	err = store.Save(ctx, &models.Session{ID: uuid.New(), ChatLog: []models.ChatMessage{}})
	assert.ErrorIs(t, err, apperrors.ErrPersistenceFailure)
}
