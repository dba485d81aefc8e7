package webchat

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueSessionToken_RoundTrip(t *testing.T) {
	key := []byte("test-signing-key")

	token, err := issueSessionToken(key, "session-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token == "" {
		t.Fatal("expected a non-empty token")
	}

	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if !parsed.Valid {
		t.Fatal("expected token to be valid")
	}
	if claims.Subject != "session-123" {
		t.Errorf("expected subject 'session-123', got %q", claims.Subject)
	}
}

func TestIssueSessionToken_WrongKeyFailsVerification(t *testing.T) {
	token, err := issueSessionToken([]byte("correct-key"), "session-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	claims := &sessionClaims{}
	_, err = jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (any, error) {
		return []byte("wrong-key"), nil
	})
	if err == nil {
		t.Error("expected verification to fail with the wrong key")
	}
}

func TestIssueSessionToken_ExpiresInFuture(t *testing.T) {
	key := []byte("test-signing-key")
	token, err := issueSessionToken(key, "session-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	claims := &sessionClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (any, error) {
		return key, nil
	}); err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}

	if claims.ExpiresAt == nil || !claims.ExpiresAt.Time.After(time.Now().Add(29*24*time.Hour)) {
		t.Errorf("expected expiry roughly 30 days out, got %v", claims.ExpiresAt)
	}
}
