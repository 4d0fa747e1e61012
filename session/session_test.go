package session_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-portal/leave"
	"github.com/warp/leave-portal/session"
)

const secret = "test-secret"

func manager() session.Session {
	return session.Session{
		UserID:          "mgr-2",
		Name:            "Maria Manager",
		Role:            leave.RoleManager,
		DepartmentID:    "dept-2",
		LocationID:      "loc-1",
		AnnualAllotment: 25,
	}
}

func TestIssueAndParse(t *testing.T) {
	token, err := session.Issue(secret, manager(), time.Hour)
	require.NoError(t, err)

	got, err := session.Parse(secret, token)
	require.NoError(t, err)

	assert.Equal(t, manager(), got)
}

func TestParse_Rejects(t *testing.T) {
	valid, err := session.Issue(secret, manager(), time.Hour)
	require.NoError(t, err)
	expired, err := session.Issue(secret, manager(), -time.Minute)
	require.NoError(t, err)

	// Same claims signed with HS512 must not be accepted.
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, session.Claims{UserID: "mgr-2", Role: "manager"}).SignedString([]byte(secret))
	require.NoError(t, err)

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, session.Claims{Role: "admin"}).SignedString([]byte(secret))
	require.NoError(t, err)

	tests := map[string]struct {
		secret, token string
	}{
		"wrong secret":    {"other", valid},
		"expired":         {secret, expired},
		"wrong algorithm": {secret, hs512},
		"missing user id": {secret, noUser},
		"garbage":         {secret, "not-a-jwt"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := session.Parse(tt.secret, tt.token)
			assert.ErrorIs(t, err, session.ErrInvalidToken)
		})
	}
}

func TestParse_UnknownRoleIsNotElevated(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, session.Claims{UserID: "u1", Role: "superuser"}).SignedString([]byte(secret))
	require.NoError(t, err)

	s, err := session.Parse(secret, token)
	require.NoError(t, err)

	assert.Equal(t, leave.RoleUnknown, s.Role)
	assert.False(t, s.Role.Elevated())
}

func TestIssue_EmptySecret(t *testing.T) {
	_, err := session.Issue("", manager(), time.Hour)
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	tok, ok := session.BearerToken("Bearer abc.def")
	assert.True(t, ok)
	assert.Equal(t, "abc.def", tok)

	tok, ok = session.BearerToken("bearer   xyz ")
	assert.True(t, ok)
	assert.Equal(t, "xyz", tok)

	for _, h := range []string{"", "Bearer", "Bearer   ", "Basic abc", "abc"} {
		_, ok := session.BearerToken(h)
		assert.False(t, ok, h)
	}
}

func TestTokenSources(t *testing.T) {
	ctx := session.WithToken(context.Background(), "tok")

	got, err := session.ContextTokenSource{}.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok", got)

	_, err = session.ContextTokenSource{}.Token(context.Background())
	assert.ErrorIs(t, err, session.ErrNoSession)

	got, err = session.StaticToken("fixed").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fixed", got)
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func TestMiddleware_SetsSessionAndToken(t *testing.T) {
	token, err := session.Issue(secret, manager(), time.Hour)
	require.NoError(t, err)

	var seen session.Session
	var forwarded string
	handler := session.Middleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = session.FromContext(r.Context())
		forwarded, _ = session.TokenFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, manager(), seen)
	assert.Equal(t, token, forwarded)
}

func TestMiddleware_Unauthorized(t *testing.T) {
	handler := session.Middleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	for _, header := range []string{"", "Bearer nope", "Token abc"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.NotEmpty(t, body["error"])
	}
}

func TestRequireElevated(t *testing.T) {
	handler := session.RequireElevated(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for role, want := range map[leave.Role]int{
		leave.RoleAdmin:    http.StatusOK,
		leave.RoleManager:  http.StatusOK,
		leave.RoleEmployee: http.StatusForbidden,
		leave.RoleUnknown:  http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(session.WithSession(req.Context(), session.Session{UserID: "u", Role: role}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, role.String())
	}
}
