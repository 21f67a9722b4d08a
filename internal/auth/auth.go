package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken indicates the session token failed validation.
var ErrInvalidToken = errors.New("invalid token")

// SessionClaims are the claims carried by a voter session token. The login
// provider is an external collaborator; the issuer only verifies the token
// and extracts the opaque voter key from the subject.
type SessionClaims struct {
	jwt.RegisteredClaims
}

// VoterKey returns the opaque voter identifier the session was minted for.
func (c *SessionClaims) VoterKey() string { return c.Subject }

// SessionVerifier validates voter session tokens signed by the login service
// with a shared HS256 secret.
type SessionVerifier struct {
	secret []byte
	issuer string
}

// NewSessionVerifier builds a verifier for the given shared secret and
// expected issuer.
func NewSessionVerifier(secret, issuer string) (*SessionVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("session secret is not configured")
	}
	return &SessionVerifier{secret: []byte(secret), issuer: issuer}, nil
}

// Verify checks the token signature and required claims and returns the
// embedded session claims.
func (v *SessionVerifier) Verify(token string) (*SessionClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := v.validateClaims(claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (v *SessionVerifier) validateClaims(claims *SessionClaims) error {
	if v.issuer != "" && claims.Issuer != v.issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := time.Now().UTC()
	if now.After(claims.ExpiresAt.Time) {
		return errors.New("token expired")
	}
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}

// MintSessionToken signs a session token for the given voter key. Production
// sessions come from the external login service; this exists for tests and
// local development.
func MintSessionToken(secret, issuer, voterKey string, ttl time.Duration) (string, error) {
	voterKey = strings.TrimSpace(voterKey)
	if voterKey == "" {
		return "", errors.New("voter key is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be greater than zero")
	}
	now := time.Now().UTC()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   voterKey,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
