package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/raven/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Needs a local Redis; skipped otherwise.
func TestReplyLedgerFirstReplyWins(t *testing.T) {
	ctx := context.Background()
	rdb, err := Connect(ctx, config.Redis{Addr: "localhost:6379"})
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	defer rdb.Close()

	ledger := NewReplyLedger(rdb, time.Minute)
	id := uuid.NewString()
	defer rdb.Del(ctx, DefaultReplyPrefix+id)

	_, found, err := ledger.Lookup(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, ledger.Remember(ctx, id, []byte(`{"stat":"OK"}`)))
	require.NoError(t, ledger.Remember(ctx, id, []byte(`{"stat":"ERROR"}`)))

	reply, found, err := ledger.Lookup(ctx, id)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"stat":"OK"}`, string(reply))
}
