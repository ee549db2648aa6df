package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/raven/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicketRoundTrip(t *testing.T) {
	iss, err := NewIssuer(config.Tickets{TTL: time.Hour})
	require.NoError(t, err)

	want := Ticket{SessionID: uuid.New(), GamingID: "alice", Role: "x"}
	raw, err := iss.Issue(want)
	require.NoError(t, err)

	got, err := iss.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestTicketSharedSecretVerifiesAcrossIssuers(t *testing.T) {
	a, err := NewIssuer(config.Tickets{Secret: "s3cret"})
	require.NoError(t, err)
	b, err := NewIssuer(config.Tickets{Secret: "s3cret"})
	require.NoError(t, err)
	other, err := NewIssuer(config.Tickets{Secret: "different"})
	require.NoError(t, err)

	raw, err := a.Issue(Ticket{SessionID: uuid.New(), GamingID: "bob", Role: "o"})
	require.NoError(t, err)

	_, err = b.Verify(raw)
	assert.NoError(t, err)
	_, err = other.Verify(raw)
	assert.Error(t, err)
}

func TestTicketExpires(t *testing.T) {
	iss, err := NewIssuer(config.Tickets{Secret: "s3cret", TTL: time.Minute})
	require.NoError(t, err)
	issued := time.Now()
	iss.now = func() time.Time { return issued }

	raw, err := iss.Issue(Ticket{SessionID: uuid.New(), GamingID: "alice", Role: "x"})
	require.NoError(t, err)

	iss.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = iss.Verify(raw)
	assert.Error(t, err)
}

func TestTicketRejectsGarbage(t *testing.T) {
	iss, err := NewIssuer(config.Tickets{})
	require.NoError(t, err)
	_, err = iss.Verify("not-a-jwt")
	assert.Error(t, err)
}
