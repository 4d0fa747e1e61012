/*
Package session carries the caller's identity.

A session is a signed HS256 JWT holding who the caller is and what they may
see. The portal validates it on every request and forwards the same token to
the backend, so both sides read one identity.
*/
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/leave-portal/leave"
)

var (
	ErrNoSession    = errors.New("no session")
	ErrInvalidToken = errors.New("invalid session token")
)

// Session is read-only to the leave engine.
type Session struct {
	UserID          string
	Name            string
	Role            leave.Role
	DepartmentID    string
	LocationID      string
	AnnualAllotment int // 0 = unknown, engine default applies
}

// Key identifies the caller's per-session workspace. The portal rebuilds the
// workspace when the other claims change under the same key.
func (s Session) Key() string { return s.UserID }

// Claims is the JWT payload.
type Claims struct {
	UserID          string `json:"uid"`
	Name            string `json:"name,omitempty"`
	Role            string `json:"role"`
	DepartmentID    string `json:"dept,omitempty"`
	LocationID      string `json:"loc,omitempty"`
	AnnualAllotment int    `json:"allot,omitempty"`
	jwt.RegisteredClaims
}

func (c Claims) Session() Session {
	return Session{
		UserID:          c.UserID,
		Name:            c.Name,
		Role:            leave.ParseRole(c.Role),
		DepartmentID:    c.DepartmentID,
		LocationID:      c.LocationID,
		AnnualAllotment: c.AnnualAllotment,
	}
}

// Issue signs a token for s that expires after ttl.
func Issue(secret string, s Session, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("session secret is empty")
	}
	now := time.Now()
	claims := Claims{
		UserID:          s.UserID,
		Name:            s.Name,
		Role:            string(s.Role),
		DepartmentID:    s.DepartmentID,
		LocationID:      s.LocationID,
		AnnualAllotment: s.AnnualAllotment,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Parse verifies token and returns its session. Only HS256 is accepted.
func Parse(secret, token string) (Session, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.UserID == "" {
		return Session{}, ErrInvalidToken
	}
	return claims.Session(), nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// =============================================================================
// CONTEXT
// =============================================================================

type ctxKey string

const (
	sessionKey ctxKey = "session"
	tokenKey   ctxKey = "session_token"
)

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey).(Session)
	return s, ok
}

// WithToken stores the raw bearer token so outbound calls can forward it.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

func TokenFromContext(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(tokenKey).(string)
	return t, ok && t != ""
}

// ContextTokenSource forwards the token of the inbound request.
type ContextTokenSource struct{}

func (ContextTokenSource) Token(ctx context.Context) (string, error) {
	t, ok := TokenFromContext(ctx)
	if !ok {
		return "", ErrNoSession
	}
	return t, nil
}

// StaticToken always returns the same token. Used by tools and tests.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoSession
	}
	return string(s), nil
}
