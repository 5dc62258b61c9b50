package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenFormat = errors.New("invalid token format")
	ErrTokenSig    = errors.New("invalid token signature")
	ErrTokenExp    = errors.New("token expired or not yet valid")
	ErrTokenSID    = errors.New("session id mismatch")
)

const workerRole = "worker"

// WorkerClaims bind a media worker to exactly one session.
type WorkerClaims struct {
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateWorkerToken signs an HS256 token for sessionID valid until exp.
func GenerateWorkerToken(secret, sessionID string, exp time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("worker token secret not configured")
	}
	claims := &WorkerClaims{
		SessionID: sessionID,
		Role:      workerRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ValidateWorkerToken checks signature, expiry (with leeway) and, when
// expectSessionID is set, that the token belongs to that session.
func ValidateWorkerToken(secret, token, expectSessionID string, leeway time.Duration) (*WorkerClaims, error) {
	claims := &WorkerClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(leeway))
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
		return nil, ErrTokenExp
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, ErrTokenSig
	default:
		return nil, fmt.Errorf("%w: %v", ErrTokenFormat, err)
	}
	if !parsed.Valid || claims.Role != workerRole {
		return nil, ErrTokenFormat
	}
	if expectSessionID != "" && claims.SessionID != expectSessionID {
		return nil, ErrTokenSID
	}
	return claims, nil
}
