// Package crypto verifies the admin API credential. The configured secret is
// stored as a PBKDF2-HMAC-SHA256 hash so the plaintext key never lives in
// config files.
package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	// saltLen is the random salt length in bytes.
	saltLen = 16
	// hashLen is the derived hash length in bytes.
	hashLen = 32
)

// Credential verifies presented admin keys against a stored hash.
type Credential struct {
	hash []byte
	salt []byte
}

// NewCredential builds a verifier from the hex-encoded hash and salt as
// produced by HashKey.
func NewCredential(hashHex, saltHex string) (*Credential, error) {
	if hashHex == "" || saltHex == "" {
		return nil, errors.New("crypto: admin key hash and salt must both be set")
	}
	hash, err := hex.DecodeString(hashHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid admin key hash hex: %w", err)
	}
	if len(hash) != hashLen {
		return nil, fmt.Errorf("crypto: expected %d-byte hash, got %d bytes", hashLen, len(hash))
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid admin key salt hex: %w", err)
	}
	return &Credential{hash: hash, salt: salt}, nil
}

// Verify reports whether the presented key matches the stored hash. The
// comparison is constant time.
func (c *Credential) Verify(presented string) bool {
	if presented == "" {
		return false
	}
	derived := pbkdf2.Key([]byte(presented), c.salt, pbkdf2Iterations, hashLen, sha256.New)
	return hmac.Equal(derived, c.hash)
}

// HashKey derives the storable hash for a plaintext admin key with a fresh
// random salt. It returns hex-encoded hash and salt for the config file.
func HashKey(key string) (hashHex, saltHex string, err error) {
	if key == "" {
		return "", "", errors.New("crypto: key must not be empty")
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", "", fmt.Errorf("crypto: generating salt: %w", err)
	}
	hash := pbkdf2.Key([]byte(key), salt, pbkdf2Iterations, hashLen, sha256.New)
	return hex.EncodeToString(hash), hex.EncodeToString(salt), nil
}
