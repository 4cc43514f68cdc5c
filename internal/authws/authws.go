// Package authws gates websocket upgrades behind a JWT, extracting the
// (user_id, device_fingerprint_hash) pair every other component keys its
// per-connection state on (spec §3/§5). Grounded on auth-service's
// TokenService construction (golang-jwt/jwt/v5 over a single shared
// secret) in cmd/server/main.go, generalized here to the claims this core
// needs rather than auth-service's own session/RBAC claims.
package authws

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every way a presented token can fail verification:
// bad signature, expiry, or missing required claims.
var ErrInvalidToken = errors.New("authws: invalid token")

// Identity is what a verified token resolves to.
type Identity struct {
	UserID               string
	DeviceFingerprintHash string
}

type claims struct {
	UserID               string `json:"user_id"`
	DeviceFingerprintHash string `json:"device_fingerprint_hash"`
	jwt.RegisteredClaims
}

// Verifier checks bearer tokens presented on the websocket upgrade request.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a Verifier over the shared HMAC secret (loaded from
// AuthConfig.JWTSecret).
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a bearer token, returning the identity it
// carries. Token issuance belongs to a separate auth service; this package
// only ever verifies.
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Method)
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	if c.UserID == "" || c.DeviceFingerprintHash == "" {
		return Identity{}, fmt.Errorf("%w: missing required claim", ErrInvalidToken)
	}

	return Identity{UserID: c.UserID, DeviceFingerprintHash: c.DeviceFingerprintHash}, nil
}
