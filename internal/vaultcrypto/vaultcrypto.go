// Package vaultcrypto seals and opens the server-held "vault" encryption
// (spec §3's "Message (AI cache entry)" and §4.1's "serialize the
// vault-encrypted message"). It protects the ephemeral plaintext the AI
// model needs to see, so that surface is encrypted at rest in Redis
// rather than cached in the clear; handlers seal confirmed app-settings
// values with it. internal/sync also opens vault-wrapped titles and drafts
// to decrypt them for transport to the user's own device. User messages
// in the sync list and the other list_item_data fields are not touched by
// this package.
package vaultcrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

// ErrOpenFailed is returned when a sealed box fails authentication, either
// because it was tampered with or because it was sealed under a different
// chat's derived key.
var ErrOpenFailed = errors.New("vaultcrypto: open failed")

const keyLen = 32

// Service derives a per-chat key from a single master secret via HKDF and
// seals/opens AI-cache payloads with nacl/secretbox. Grounded on the
// hkdf+nacl/secretbox pairing used across the pack's crypto-adjacent
// services for deriving scoped keys from one root secret.
type Service struct {
	master []byte
}

// New constructs a Service from the process-wide master secret (loaded
// from the environment in cmd/server/main.go, never logged or persisted).
func New(master []byte) *Service {
	return &Service{master: master}
}

func (s *Service) deriveChatKey(chatID string) (*[keyLen]byte, error) {
	h := hkdf.New(sha256.New, s.master, []byte(chatID), []byte("openmates-ai-cache-v1"))
	var key [keyLen]byte
	if _, err := io.ReadFull(h, key[:]); err != nil {
		return nil, fmt.Errorf("derive chat key: %w", err)
	}
	return &key, nil
}

// Seal encrypts plaintext under chatID's derived key, returning a
// self-contained blob (nonce prefix + ciphertext) safe to store as an
// opaque string in the AI message cache.
func (s *Service) Seal(chatID string, plaintext []byte) ([]byte, error) {
	key, err := s.deriveChatKey(chatID)
	if err != nil {
		return nil, err
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, key)
	return sealed, nil
}

// Open decrypts a blob previously returned by Seal for the same chatID.
func (s *Service) Open(chatID string, sealed []byte) ([]byte, error) {
	if len(sealed) < 24 {
		return nil, ErrOpenFailed
	}
	key, err := s.deriveChatKey(chatID)
	if err != nil {
		return nil, err
	}

	var nonce [24]byte
	copy(nonce[:], sealed[:24])

	plaintext, ok := secretbox.Open(nil, sealed[24:], &nonce, key)
	if !ok {
		return nil, ErrOpenFailed
	}
	return plaintext, nil
}
