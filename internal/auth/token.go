package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// RememberTTL is the lifetime of a "keep me signed in" session.
	RememberTTL = 365 * 24 * time.Hour
	// SessionTTL is the lifetime when the caller opts out of remembering.
	SessionTTL = 30 * 24 * time.Hour

	defaultIssuer = "csebu"
)

var errMissingSecret = errors.New("auth secret is not configured")

// Claims is the JWT payload. Only the minimal identity is embedded.
type Claims struct {
	ID     string `json:"id"`
	Role   Role   `json:"role"`
	Name   string `json:"name"`
	Status Status `json:"status"`
	jwt.RegisteredClaims
}

// Identity returns the normalized identity carried by the claims.
func (c Claims) Identity() Identity {
	return Identity{ID: c.ID, Role: c.Role, Name: c.Name, Status: c.Status}
}

// Remaining returns how long the token stays valid from now.
func (c Claims) Remaining(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Time.Sub(now)
}

// TokenService signs and verifies HS256 session tokens with a server-held secret.
type TokenService struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// TokenOption configures TokenService behavior.
type TokenOption func(*TokenService)

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewTokenService(secret string, opts ...TokenOption) (*TokenService, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errMissingSecret
	}
	s := &TokenService{
		secret: []byte(secret),
		issuer: defaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Now exposes the service clock so cookie lifetimes agree with token expiry.
func (s *TokenService) Now() time.Time { return s.now() }

// Issue signs a token for id that expires after ttl.
func (s *TokenService) Issue(id Identity, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(id.ID) == "" {
		return "", time.Time{}, errors.New("identity id is required")
	}
	if !id.Role.Valid() {
		return "", time.Time{}, fmt.Errorf("invalid role %q", id.Role)
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("ttl must be greater than zero")
	}

	now := s.now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		ID:     id.ID,
		Role:   id.Role,
		Name:   id.Name,
		Status: id.Status,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, issuer and expiry. Every failure collapses to
// ErrInvalidToken.
func (s *TokenService) Verify(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.ID) == "" || claims.Subject != claims.ID {
		return Claims{}, ErrInvalidToken
	}
	if !claims.Role.Valid() {
		return Claims{}, ErrInvalidToken
	}
	if _, err := ParseStatus(string(claims.Status)); err != nil {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
