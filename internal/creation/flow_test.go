package creation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"testing"

	"github.com/google/uuid"
	apperrors "github.com/jason-s-yu/raven/internal/errors"
	"github.com/jason-s-yu/raven/internal/game/tictactoe"
	"github.com/jason-s-yu/raven/internal/models"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	created []*models.Session
	fail    error
}

func (m *memStore) Create(_ context.Context, roles map[string]string) (*models.Session, error) {
	if m.fail != nil {
		return nil, m.fail
	}
	sess := &models.Session{ID: uuid.New(), Roles: roles, InProgress: true}
	m.created = append(m.created, sess)
	return sess, nil
}

type stateCall struct {
	session uuid.UUID
	roles   map[string]string
	states  map[string]models.AttentionState
}

type recordingNotifier struct {
	calls []stateCall
}

func (r *recordingNotifier) SetPlayerState(_ context.Context, id uuid.UUID, roles map[string]string, states map[string]models.AttentionState) error {
	r.calls = append(r.calls, stateCall{id, roles, states})
	return nil
}

func newTestFlow() (*Flow, *memStore, *recordingNotifier) {
	logger, _ := test.NewNullLogger()
	store, notifier := &memStore{}, &recordingNotifier{}
	return NewFlow(store, notifier, tictactoe.Metadata, logger), store, notifier
}

func TestRequestFromAcceptsPositionalAndSlugKeys(t *testing.T) {
	flow, _, _ := newTestFlow()

	q := url.Values{"role1": {"alice"}, "o": {"bob"}}
	assert.Equal(t, map[string]string{"x": "alice", "o": "bob"}, flow.RequestFrom(q.Get).Roles)

	q = url.Values{"role1": {"alice"}, "x": {"mallory"}}
	assert.Equal(t, map[string]string{"x": "alice"}, flow.RequestFrom(q.Get).Roles)
}

func TestCreateSession(t *testing.T) {
	flow, store, notifier := newTestFlow()
	ctx := context.Background()

	res, err := flow.CreateSession(ctx, Request{Roles: map[string]string{"x": "alice", "o": "bob", "z": "zed"}})
	require.NoError(t, err)
	require.Len(t, store.created, 1)
	assert.Equal(t, map[string]string{"x": "alice", "o": "bob"}, res.Session.Roles)
	assert.True(t, res.Session.InProgress)
	assert.Equal(t, map[string]models.AttentionState{"x": models.StateAttention, "o": models.StatePending}, res.InitialStates)

	// Nothing is reported until the caller has acknowledged.
	assert.Empty(t, notifier.calls)
	flow.NotifyInitial(ctx, res)
	require.Len(t, notifier.calls, 1)
	assert.Equal(t, res.Session.ID, notifier.calls[0].session)
	assert.Equal(t, res.InitialStates, notifier.calls[0].states)
}

func TestCreateSessionMissingRole(t *testing.T) {
	flow, store, _ := newTestFlow()

	_, err := flow.CreateSession(context.Background(), Request{Roles: map[string]string{"x": "alice"}})
	assert.ErrorIs(t, err, apperrors.ErrMissingRole)
	assert.Empty(t, store.created)
}

func TestHandleBrokerRequest(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		flow, store, notifier := newTestFlow()

		raw, followUp, err := flow.HandleBrokerRequest(context.Background(), []byte(`{"x":"alice","o":"bob","lang":"en"}`))
		require.NoError(t, err)
		require.NotNil(t, followUp)
		require.Len(t, store.created, 1)

		var reply Reply
		require.NoError(t, json.Unmarshal(raw, &reply))
		assert.Equal(t, OK(store.created[0].ID), reply)

		assert.Empty(t, notifier.calls)
		followUp(context.Background())
		assert.Len(t, notifier.calls, 1)
	})

	t.Run("missing role answers with error", func(t *testing.T) {
		flow, store, _ := newTestFlow()

		raw, followUp, err := flow.HandleBrokerRequest(context.Background(), []byte(`{"x":"alice"}`))
		require.NoError(t, err)
		assert.Nil(t, followUp)
		assert.Empty(t, store.created)

		var reply Reply
		require.NoError(t, json.Unmarshal(raw, &reply))
		assert.Equal(t, StatError, reply.Stat)
		assert.Contains(t, reply.Msg, "x, o")
	})

	t.Run("malformed body answers with error", func(t *testing.T) {
		flow, _, _ := newTestFlow()

		raw, _, err := flow.HandleBrokerRequest(context.Background(), []byte(`not json`))
		require.NoError(t, err)
		assert.JSONEq(t, `{"stat":"ERROR","msg":"malformed request"}`, string(raw))
	})

	t.Run("storage failure is returned", func(t *testing.T) {
		flow, store, _ := newTestFlow()
		store.fail = apperrors.Wrap(apperrors.CodePersistenceFailure, errors.New("db down"), "insert session")

		raw, _, err := flow.HandleBrokerRequest(context.Background(), []byte(`{"x":"alice","o":"bob"}`))
		assert.ErrorIs(t, err, apperrors.ErrPersistenceFailure)
		assert.Nil(t, raw)
	})
}

func TestReplyEncodings(t *testing.T) {
	id := uuid.MustParse("5f0c6c1e-8a43-4b8e-9d62-6f0b7b1f2a10")

	var buf bytes.Buffer
	require.NoError(t, OK(id).WriteXML(&buf))
	assert.Equal(t, "<stat>OK</stat><glst><cnt>1</cnt><game><gid>"+id.String()+"</gid></game></glst>", buf.String())

	buf.Reset()
	require.NoError(t, Failure("nope").WriteXML(&buf))
	assert.Equal(t, "<stat>ERROR</stat><msg>nope</msg>", buf.String())

	raw, err := json.Marshal(OK(id))
	require.NoError(t, err)
	assert.JSONEq(t, `{"stat":"OK","glst":{"cnt":1,"game":{"gid":"`+id.String()+`"}}}`, string(raw))
}
