package users

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// keyBytes of entropy encode to a 22 character URL-safe key.
const keyBytes = 16

// GenerateKey returns a fresh URL-safe access key.
func GenerateKey() (string, error) {
	b := make([]byte, keyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashKey is the form a key is stored in.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// VerifyKey reports whether raw hashes to hash.
func VerifyKey(raw, hash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashKey(raw)), []byte(hash)) == 1
}
