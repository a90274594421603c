package token

import (
	"testing"

	"github.com/google/uuid"
)

func TestGenerate_ProducesHexPlaintextAndHash(t *testing.T) {
	g, err := Generate(uuid.New(), "a@b.com", PurposeEmailVerification, "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.Plaintext) != 64 {
		t.Fatalf("plaintext should be 64 hex chars, got %d", len(g.Plaintext))
	}
	if len(g.StorageHash) != 64 {
		t.Fatalf("storage hash should be 64 hex chars, got %d", len(g.StorageHash))
	}
	if g.Plaintext == g.StorageHash {
		t.Fatalf("storage hash must differ from plaintext")
	}
}

func TestGenerate_UniqueAcrossCalls(t *testing.T) {
	userID := uuid.New()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		g, err := Generate(userID, "a@b.com", PurposeEmailVerification, "secret")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if seen[g.Plaintext] {
			t.Fatalf("duplicate plaintext generated on iteration %d", i)
		}
		seen[g.Plaintext] = true
	}
}

func TestHashForStorage_DeterministicPerSecret(t *testing.T) {
	plaintext := "deadbeef"
	if HashForStorage(plaintext, "s1") != HashForStorage(plaintext, "s1") {
		t.Fatalf("storage hash must be deterministic for the same secret")
	}
	if HashForStorage(plaintext, "s1") == HashForStorage(plaintext, "s2") {
		t.Fatalf("storage hash must depend on the server secret")
	}
	if HashForStorage("other", "s1") == HashForStorage(plaintext, "s1") {
		t.Fatalf("storage hash must depend on the plaintext")
	}
}

func TestGenerate_SameInputsStillUnique(t *testing.T) {
	// Identical (user, email, purpose) must never collide: entropy comes from
	// the random component, not the context.
	userID := uuid.New()
	a, err := Generate(userID, "x@y.com", PurposePasswordReset, "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := Generate(userID, "x@y.com", PurposePasswordReset, "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Plaintext == b.Plaintext {
		t.Fatalf("two generations with identical context collided")
	}
}
