// Package token issues invitation tokens and derives their lookup keys.
package token

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// tokenBytes is the entropy of an invite token.
const tokenBytes = 16

// Issuer generates invitation tokens.
type Issuer interface {
	Issue() (string, error)
}

// RandomIssuer produces hex encoded tokens from crypto/rand.
type RandomIssuer struct{}

// Issue returns a new 32 character hex token.
func (RandomIssuer) Issue() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate invite token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Hash derives the indexed lookup key for a token. Rooms are looked up by
// this digest so the secret itself never drives an index comparison.
func Hash(tok string) string {
	sum := blake3.Sum256([]byte(tok))
	return hex.EncodeToString(sum[:])
}

// Equal compares two tokens in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
