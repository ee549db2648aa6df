package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	apperrors "github.com/jason-s-yu/raven/internal/errors"
	"github.com/jason-s-yu/raven/internal/models"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTransport collects batches instead of sending them.
type recordingTransport struct {
	mu      sync.Mutex
	batches [][]Update
}

func (r *recordingTransport) Deliver(_ context.Context, updates []Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, updates)
}

func (r *recordingTransport) Close() error { return nil }

func (r *recordingTransport) last(t *testing.T) []Update {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.batches, "expected a delivered batch")
	return r.batches[len(r.batches)-1]
}

var testTitle = Title{Slug: "tictactoe", Version: "1.0"}

func newTestProtocol() (*Protocol, *recordingTransport) {
	logger, _ := test.NewNullLogger()
	rt := &recordingTransport{}
	return NewProtocol(rt, testTitle, logger), rt
}

func byGamingID(updates []Update) map[string]Update {
	out := make(map[string]Update, len(updates))
	for _, u := range updates {
		out[u.GamingID] = u
	}
	return out
}

func intPtr(n int) *int { return &n }

func TestMoveMarksExactlyOneAttention(t *testing.T) {
	p, rt := newTestProtocol()
	sid := uuid.New()
	roles := map[string]string{"A": "p1", "B": "p2", "C": "p3"}

	require.NoError(t, p.Move(context.Background(), sid, roles, "B"))

	updates := rt.last(t)
	require.Len(t, updates, 3)
	attn := 0
	for _, u := range updates {
		assert.Equal(t, sid.String(), u.GameInstanceID)
		assert.Equal(t, "tictactoe", u.GameTitle)
		if u.State == models.StateAttention {
			attn++
			assert.Equal(t, "p2", u.GamingID)
		} else {
			assert.Equal(t, models.StatePending, u.State)
		}
		assert.Nil(t, u.Score)
		assert.Empty(t, u.Outcome)
	}
	assert.Equal(t, 1, attn)
}

func TestMoveRejectsUnknownRole(t *testing.T) {
	p, rt := newTestProtocol()
	err := p.Move(context.Background(), uuid.New(), map[string]string{"A": "p1"}, "Z")
	assert.ErrorIs(t, err, apperrors.ErrInvalidRole)
	assert.Empty(t, rt.batches)
}

func TestForfeit(t *testing.T) {
	p, rt := newTestProtocol()
	roles := map[string]string{"A": "p1", "B": "p2"}

	require.NoError(t, p.Forfeit(context.Background(), uuid.New(), roles, "A"))

	got := byGamingID(rt.last(t))
	require.Len(t, got, 2)
	assert.Equal(t, models.StateOver, got["p1"].State)
	assert.Equal(t, intPtr(0), got["p1"].Score)
	assert.Equal(t, models.OutcomeForfeit, got["p1"].Outcome)
	assert.Equal(t, models.StateOver, got["p2"].State)
	assert.Equal(t, intPtr(0), got["p2"].Score)
	assert.Equal(t, models.OutcomeWin, got["p2"].Outcome)
}

func TestDrawHasNoScore(t *testing.T) {
	p, rt := newTestProtocol()
	p.Draw(context.Background(), uuid.New(), map[string]string{"A": "p1", "B": "p2"})

	for _, u := range rt.last(t) {
		assert.Equal(t, models.StateOver, u.State)
		assert.Equal(t, models.OutcomeDraw, u.Outcome)
		assert.Nil(t, u.Score)
	}
}

func TestGameover(t *testing.T) {
	p, rt := newTestProtocol()
	roles := map[string]string{"A": "p1", "B": "p2"}

	require.NoError(t, p.Gameover(context.Background(), uuid.New(), roles, "A", map[string]int{"A": 3, "B": 1}))

	got := byGamingID(rt.last(t))
	assert.Equal(t, Update{
		GameInstanceID: got["p1"].GameInstanceID, GameTitle: "tictactoe", GameVersion: "1.0",
		GamingID: "p1", State: models.StateOver, Score: intPtr(3), Outcome: models.OutcomeWin,
	}, got["p1"])
	assert.Equal(t, intPtr(1), got["p2"].Score)
	assert.Equal(t, models.OutcomeLose, got["p2"].Outcome)
}

func TestSetPlayerState(t *testing.T) {
	roles := map[string]string{"white": "p1", "black": "p2"}

	t.Run("valid", func(t *testing.T) {
		p, rt := newTestProtocol()
		err := p.SetPlayerState(context.Background(), uuid.New(), roles, map[string]models.AttentionState{
			"white": models.StateAttention,
			"black": models.StatePending,
		})
		require.NoError(t, err)
		got := byGamingID(rt.last(t))
		assert.Equal(t, models.StateAttention, got["p1"].State)
		assert.Equal(t, models.StatePending, got["p2"].State)
	})

	t.Run("invalid role delivers nothing", func(t *testing.T) {
		p, rt := newTestProtocol()
		err := p.SetPlayerState(context.Background(), uuid.New(), roles, map[string]models.AttentionState{
			"white": models.StateAttention,
			"red":   models.StatePending,
		})
		assert.ErrorIs(t, err, apperrors.ErrInvalidRole)
		assert.Empty(t, rt.batches)
	})

	t.Run("invalid state delivers nothing", func(t *testing.T) {
		p, rt := newTestProtocol()
		err := p.SetPlayerState(context.Background(), uuid.New(), roles, map[string]models.AttentionState{
			"white": "ATTENTION",
		})
		assert.ErrorIs(t, err, apperrors.ErrInvalidState)
		assert.Empty(t, rt.batches)
	})

	t.Run("empty map skips delivery", func(t *testing.T) {
		p, rt := newTestProtocol()
		require.NoError(t, p.SetPlayerState(context.Background(), uuid.New(), roles, nil))
		assert.Empty(t, rt.batches)
	})
}

func TestEnvelopeSingleUpdateIsObject(t *testing.T) {
	u := BuildUpdate(testTitle, uuid.New(), "p1", models.StateAttention)
	data, err := NewEnvelope([]Update{u}).Marshal()
	require.NoError(t, err)

	var raw struct {
		Method  string `json:"method"`
		ID      int    `json:"id"`
		JSONRPC string `json:"jsonrpc"`
		Params  struct {
			Payload map[string]json.RawMessage `json:"payload"`
		} `json:"params"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "game-updates", raw.Method)
	assert.Equal(t, 7224, raw.ID)
	assert.Equal(t, "2.0", raw.JSONRPC)
	assert.Equal(t, byte('{'), raw.Params.Payload["update"][0])
	assert.NotContains(t, raw.Params.Payload, "outcomes")

	var back Envelope
	require.NoError(t, json.Unmarshal(data, &back))
	require.Len(t, back.Params.Payload.Update, 1)
	assert.Equal(t, u, back.Params.Payload.Update[0])

	again, err := back.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
}

func TestEnvelopeManyUpdatesIsArray(t *testing.T) {
	sid := uuid.New()
	updates := []Update{
		BuildUpdate(testTitle, sid, "p1", models.StatePending),
		BuildUpdate(testTitle, sid, "p2", models.StateAttention),
	}
	data, err := NewEnvelope(updates).Marshal()
	require.NoError(t, err)

	var raw struct {
		Params struct {
			Payload map[string]json.RawMessage `json:"payload"`
		} `json:"params"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, byte('['), raw.Params.Payload["update"][0])

	var back Envelope
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, UpdateList(updates), back.Params.Payload.Update)

	again, err := back.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
}

func TestBuildUpdateKeepsZeroScore(t *testing.T) {
	u := BuildUpdate(testTitle, uuid.New(), "p1", models.StateOver, WithScore(0))
	data, err := json.Marshal(u)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"score":0`)
	assert.NotContains(t, string(data), "outcome")
}

func TestBuildUpdatesSkipsUnassignedRoles(t *testing.T) {
	updates := BuildUpdates(testTitle, uuid.New(), map[string]string{"a": "p1"}, map[string]models.AttentionState{
		"a": models.StateAttention,
		"b": models.StatePending,
	})
	require.Len(t, updates, 1)
	assert.Equal(t, "p1", updates[0].GamingID)
}
