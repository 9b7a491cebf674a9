package sharetoken

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const testFingerprint = "3f4a9c2b1e8d7f605a4b3c2d1e0f9a8b7c6d5e4f3a2b1c0d9e8f7a6b5c4d3e2f"

func testManager() *Manager {
	return NewManager(Config{
		Secret: "test-secret-for-share-tokens",
		Expiry: time.Hour,
		Issuer: "quizforge-test",
	})
}

func TestShareTokenRoundTrip(t *testing.T) {
	m := testManager()

	token, expiresAt, err := m.Generate(testFingerprint)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if token == "" {
		t.Fatal("Generate returned an empty token")
	}
	if until := time.Until(expiresAt); until < 55*time.Minute || until > 65*time.Minute {
		t.Errorf("Expiry out of range: %v from now", until)
	}

	claims, err := m.Validate(token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if claims.Fingerprint != testFingerprint {
		t.Errorf("Fingerprint mismatch: got %s", claims.Fingerprint)
	}
	if claims.ID == "" {
		t.Error("Token carries no ID")
	}
	if claims.Issuer != "quizforge-test" {
		t.Errorf("Issuer mismatch: got %s", claims.Issuer)
	}

	if _, err := m.ValidateFor(token, testFingerprint); err != nil {
		t.Errorf("ValidateFor rejected its own document: %v", err)
	}
}

func TestShareTokenWrongDocument(t *testing.T) {
	m := testManager()

	token, _, err := m.Generate(testFingerprint)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	otherFP := strings.Repeat("ab", 32)
	if _, err := m.ValidateFor(token, otherFP); !errors.Is(err, ErrWrongDocument) {
		t.Errorf("Error mismatch: got %v, want ErrWrongDocument", err)
	}
}

func TestShareTokenExpired(t *testing.T) {
	m := NewManager(Config{
		Secret: "test-secret-for-share-tokens",
		Expiry: time.Millisecond,
		Issuer: "quizforge-test",
	})

	token, _, err := m.Generate(testFingerprint)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	if _, err := m.Validate(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Error mismatch: got %v, want ErrExpiredToken", err)
	}
}

func TestShareTokenTampering(t *testing.T) {
	m := testManager()

	token, _, err := m.Generate(testFingerprint)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	cases := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"empty", ""},
		{"stretched signature", token + "x"},
	}
	for _, tc := range cases {
		if _, err := m.Validate(tc.token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: got %v, want ErrInvalidToken", tc.name, err)
		}
	}
}

func TestShareTokenWrongSecret(t *testing.T) {
	token, _, err := testManager().Generate(testFingerprint)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	other := NewManager(Config{Secret: "a-different-secret", Issuer: "quizforge-test"})
	if _, err := other.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Error mismatch: got %v, want ErrInvalidToken", err)
	}
}

func TestShareTokenDefaultExpiry(t *testing.T) {
	m := NewManager(Config{Secret: "s"})

	_, expiresAt, err := m.Generate(testFingerprint)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if until := time.Until(expiresAt); until < 6*24*time.Hour {
		t.Errorf("Default expiry too short: %v", until)
	}
}
