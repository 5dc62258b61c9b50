package auth

import (
	"errors"
	"testing"
	"time"
)

func TestGenerateAndValidateToken(t *testing.T) {
	sec := "secret123"
	sid := "abc"
	exp := time.Now().Add(5 * time.Minute)

	tok, err := GenerateWorkerToken(sec, sid, exp)
	if err != nil {
		t.Fatalf("gen: %v", err)
	}

	claims, err := ValidateWorkerToken(sec, tok, sid, time.Minute)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.SessionID != sid || claims.ExpiresAt.Unix() != exp.Unix() {
		t.Fatalf("mismatch: %+v", claims)
	}
}

func TestBadSignature(t *testing.T) {
	tok, _ := GenerateWorkerToken("secret123", "abc", time.Now().Add(5*time.Minute))
	_, err := ValidateWorkerToken("other-secret", tok, "abc", time.Minute)
	if !errors.Is(err, ErrTokenSig) {
		t.Fatalf("expected ErrTokenSig, got %v", err)
	}
}

func TestWrongSession(t *testing.T) {
	tok, _ := GenerateWorkerToken("secret123", "abc", time.Now().Add(5*time.Minute))
	if _, err := ValidateWorkerToken("secret123", tok, "xyz", time.Minute); !errors.Is(err, ErrTokenSID) {
		t.Fatalf("expected ErrTokenSID, got %v", err)
	}
}

func TestExpired(t *testing.T) {
	tok, _ := GenerateWorkerToken("secret123", "abc", time.Now().Add(-10*time.Minute))
	if _, err := ValidateWorkerToken("secret123", tok, "abc", time.Minute); !errors.Is(err, ErrTokenExp) {
		t.Fatalf("expected ErrTokenExp, got %v", err)
	}
}

func TestGarbage(t *testing.T) {
	if _, err := ValidateWorkerToken("secret123", "not-a-jwt", "", time.Minute); !errors.Is(err, ErrTokenFormat) {
		t.Fatalf("expected ErrTokenFormat, got %v", err)
	}
}
