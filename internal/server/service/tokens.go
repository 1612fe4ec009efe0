package service

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// tokenBytes is the raw entropy in a share token before encoding.
const tokenBytes = 12

// maxTokenAttempts bounds the retry loop when a minted token is already taken.
const maxTokenAttempts = 5

// TokenIssuer mints share tokens.
type TokenIssuer struct {
	read func([]byte) (int, error)
}

// NewTokenIssuer returns an issuer backed by crypto/rand.
func NewTokenIssuer() *TokenIssuer {
	return &TokenIssuer{read: rand.Read}
}

// Issue returns a random URL-safe token (16 characters for 12 bytes).
func (ti *TokenIssuer) Issue() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := ti.read(buf); err != nil {
		return "", fmt.Errorf("crypto/rand failure: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
