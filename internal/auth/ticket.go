// internal/auth/ticket.go
package auth

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jason-s-yu/raven/internal/config"
)

// CookieName is the cookie /play sets and /ws reads.
const CookieName = "raven_ticket"

// Ticket binds a websocket connection to one identity playing one role in one session.
type Ticket struct {
	SessionID uuid.UUID
	GamingID  string
	Role      string
}

type ticketClaims struct {
	Session string `json:"gid"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies play tickets with an ed25519 key.
type Issuer struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	ttl     time.Duration
	now     func() time.Time
}

// NewIssuer derives the signing key from cfg.Secret. Without a secret a
// fresh key pair is generated, so tickets do not survive a restart.
func NewIssuer(cfg config.Tickets) (*Issuer, error) {
	var (
		pub  ed25519.PublicKey
		priv ed25519.PrivateKey
		err  error
	)
	if cfg.Secret == "" {
		pub, priv, err = ed25519.GenerateKey(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
		}
	} else {
		seed := sha256.Sum256([]byte(cfg.Secret))
		priv = ed25519.NewKeyFromSeed(seed[:])
		pub = priv.Public().(ed25519.PublicKey)
	}
	return &Issuer{private: priv, public: pub, ttl: cfg.TTL, now: time.Now}, nil
}

// Issue signs a ticket. A zero TTL means the ticket never expires.
func (i *Issuer) Issue(t Ticket) (string, error) {
	claims := ticketClaims{
		Session: t.SessionID.String(),
		Role:    t.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  t.GamingID,
			IssuedAt: jwt.NewNumericDate(i.now()),
		},
	}
	if i.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(i.now().Add(i.ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(i.private)
}

// Verify checks a ticket's signature and expiry and returns its contents.
func (i *Issuer) Verify(raw string) (Ticket, error) {
	var claims ticketClaims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.public, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return Ticket{}, fmt.Errorf("jwt parse error: %w", err)
	}
	if !tok.Valid {
		return Ticket{}, errors.New("invalid ticket")
	}

	sid, err := uuid.Parse(claims.Session)
	if err != nil {
		return Ticket{}, fmt.Errorf("invalid session in ticket: %w", err)
	}
	if claims.Subject == "" || claims.Role == "" {
		return Ticket{}, errors.New("ticket is missing identity or role")
	}
	return Ticket{SessionID: sid, GamingID: claims.Subject, Role: claims.Role}, nil
}
