// Package auth provides token generation and hashing for agent
// authentication.
//
// Agents authenticate with a bearer token issued at deployment time
// rather than a username/password: they are unattended long-running
// processes, not interactive users. The token is shown once (baked
// into the installer script or shown to the operator) and only its
// bcrypt hash is ever persisted.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	// TokenLength is the length of a generated agent token in bytes.
	TokenLength = 32

	// BcryptCost is the cost factor used to hash agent tokens.
	BcryptCost = 12
)

// GenerateAgentToken returns a 64-character hex token.
func GenerateAgentToken() (string, error) {
	bytes := make([]byte, TokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// HashAgentToken bcrypt-hashes a token for storage in systems.auth_token_hash.
func HashAgentToken(token string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(token), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash agent token: %w", err)
	}
	return string(bytes), nil
}

// CompareAgentToken reports whether token matches the given bcrypt hash.
func CompareAgentToken(token, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}

// AgentTokenMetadata carries a freshly generated token alongside its
// hash, so the caller can hand the plaintext to the operator once and
// persist only the hash.
type AgentTokenMetadata struct {
	PlaintextToken string
	Hash           string
	CreatedAt      time.Time
}

// GenerateAgentTokenWithMetadata generates and hashes a new agent token.
func GenerateAgentTokenWithMetadata() (*AgentTokenMetadata, error) {
	token, err := GenerateAgentToken()
	if err != nil {
		return nil, err
	}
	hash, err := HashAgentToken(token)
	if err != nil {
		return nil, err
	}
	return &AgentTokenMetadata{PlaintextToken: token, Hash: hash, CreatedAt: time.Now()}, nil
}

// ValidateTokenFormat checks that token is TokenLength bytes of hex.
func ValidateTokenFormat(token string) error {
	if len(token) != TokenLength*2 {
		return fmt.Errorf("agent token must be %d characters (got %d)", TokenLength*2, len(token))
	}
	if _, err := hex.DecodeString(token); err != nil {
		return fmt.Errorf("agent token must contain only hexadecimal characters")
	}
	return nil
}
