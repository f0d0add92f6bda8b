// Package identity issues and checks the credentials used by ledgerd:
// HS256 actor tokens that name who commits a block, and a bcrypt-hashed
// admin secret that guards the reset route.
//
// Actor tokens identify the caller. They are not signatures over block
// content and play no part in fingerprints.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token types carried in ActorClaims.Type.
const (
	TypeActor = "actor"
	TypeAdmin = "admin"
)

// ActorClaims are the JWT claims of a ledger actor token.
type ActorClaims struct {
	jwt.RegisteredClaims
	Actor string `json:"actor"`
	Type  string `json:"type"`
}

// ActorTokenIssuer issues and verifies actor tokens with a shared secret.
type ActorTokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewActorTokenIssuer creates an ActorTokenIssuer.
//
//	issuer: the "iss" claim value.
//	ttl:    token lifetime (default: 24 hours).
func NewActorTokenIssuer(secret []byte, issuer string, ttl time.Duration) (*ActorTokenIssuer, error) {
	if len(secret) < 16 {
		return nil, errors.New("actor token secret must be at least 16 bytes")
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &ActorTokenIssuer{secret: secret, issuer: issuer, ttl: ttl}, nil
}

// Issue creates a signed actor token for actor.
func (a *ActorTokenIssuer) Issue(actor string) (string, error) {
	return a.issue(actor, TypeActor, a.ttl)
}

// IssueAdmin creates a short-lived token with Type admin.
func (a *ActorTokenIssuer) IssueAdmin(actor string, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = time.Hour
	}
	return a.issue(actor, TypeAdmin, ttl)
}

func (a *ActorTokenIssuer) issue(actor, typ string, ttl time.Duration) (string, error) {
	if actor == "" {
		return "", errors.New("actor is required")
	}
	now := time.Now().UTC()
	claims := ActorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   actor,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.New().String(),
		},
		Actor: actor,
		Type:  typ,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign actor token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates an actor token, returning its claims.
func (a *ActorTokenIssuer) Verify(tokenStr string) (*ActorClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&ActorClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return a.secret, nil
		},
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify actor token: %w", err)
	}
	claims, ok := token.Claims.(*ActorClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid actor token claims")
	}
	if claims.Type != TypeActor && claims.Type != TypeAdmin {
		return nil, errors.New("not an actor token")
	}
	if claims.Actor == "" {
		claims.Actor = claims.Subject
	}
	return claims, nil
}
