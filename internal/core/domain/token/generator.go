package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GeneratedToken pairs the plaintext handed to the dispatcher with the hash
// that goes to storage. The plaintext cannot be recovered from the hash.
type GeneratedToken struct {
	Plaintext   string
	StorageHash string
}

// Generate produces a new token for (userID, email, purpose). The plaintext
// is SHA-256 over 256 random bits followed by a nanosecond timestamp and the
// owner context; the random bytes come first so the derived parts can never
// weaken the entropy of the digest input.
func Generate(userID uuid.UUID, email string, purpose Purpose, serverSecret string) (*GeneratedToken, error) {
	random := make([]byte, 32)
	if _, err := rand.Read(random); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}

	input := make([]byte, 0, 128)
	input = append(input, random...)
	input = append(input, []byte(fmt.Sprintf("%d", time.Now().UnixNano()))...)
	input = append(input, []byte(fmt.Sprintf("%s:%s:%s", userID, email, purpose))...)

	sum := sha256.Sum256(input)
	plaintext := hex.EncodeToString(sum[:])

	return &GeneratedToken{
		Plaintext:   plaintext,
		StorageHash: HashForStorage(plaintext, serverSecret),
	}, nil
}

// HashForStorage derives the value persisted in place of the plaintext.
// The server secret makes a leaked table useless without the key material.
func HashForStorage(plaintext, serverSecret string) string {
	sum := sha256.Sum256([]byte(plaintext + serverSecret))
	return hex.EncodeToString(sum[:])
}
