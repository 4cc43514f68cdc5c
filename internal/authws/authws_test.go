package authws

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signTestToken(t *testing.T, secret string, c claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign test token: %v", err)
	}
	return signed
}

func TestVerifyValidToken(t *testing.T) {
	secret := "test-secret"
	token := signTestToken(t, secret, claims{
		UserID:                "user-1",
		DeviceFingerprintHash: "device-hash-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	v := NewVerifier(secret)
	id, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if id.UserID != "user-1" || id.DeviceFingerprintHash != "device-hash-1" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	secret := "test-secret"
	token := signTestToken(t, secret, claims{
		UserID:                "user-1",
		DeviceFingerprintHash: "device-hash-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	v := NewVerifier(secret)
	if _, err := v.Verify(token); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestVerifyMissingClaims(t *testing.T) {
	secret := "test-secret"
	token := signTestToken(t, secret, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	v := NewVerifier(secret)
	if _, err := v.Verify(token); err == nil {
		t.Fatal("expected error for missing user_id/device_fingerprint_hash")
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	token := signTestToken(t, "secret-a", claims{
		UserID:                "user-1",
		DeviceFingerprintHash: "device-hash-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	v := NewVerifier("secret-b")
	if _, err := v.Verify(token); err == nil {
		t.Fatal("expected error for token signed with a different secret")
	}
}
