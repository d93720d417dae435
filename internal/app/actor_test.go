package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
)

var manager = shared.Actor{ID: 1, Username: "sara", DisplayName: "Sara Rahimi", Role: shared.RoleManager}

func echoActor(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := shared.ActorFromContext(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(actor.Name()))
	})
}

func request(t *testing.T, h http.Handler, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestActorAuthAcceptsSignedToken(t *testing.T) {
	auth := NewActorAuth("secret", "clinic-auth", nil)
	token, err := auth.IssueToken(manager, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	require.NoError(t, err)

	rr := request(t, auth.Middleware(echoActor(t)), token)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Sara Rahimi", rr.Body.String())
}

func TestActorAuthRejectsBadTokens(t *testing.T) {
	auth := NewActorAuth("secret", "clinic-auth", nil)
	expired, err := auth.IssueToken(manager, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))})
	require.NoError(t, err)
	foreign, err := NewActorAuth("other", "clinic-auth", nil).IssueToken(manager, jwt.RegisteredClaims{})
	require.NoError(t, err)
	wrongIssuer, err := NewActorAuth("secret", "someone-else", nil).IssueToken(manager, jwt.RegisteredClaims{})
	require.NoError(t, err)
	noRole, err := auth.IssueToken(shared.Actor{ID: 4, Username: "ghost"}, jwt.RegisteredClaims{})
	require.NoError(t, err)

	for name, token := range map[string]string{
		"missing":      "",
		"garbage":      "not-a-jwt",
		"expired":      expired,
		"wrong secret": foreign,
		"wrong issuer": wrongIssuer,
		"unknown role": noRole,
	} {
		t.Run(name, func(t *testing.T) {
			rr := request(t, auth.Middleware(echoActor(t)), token)
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
		})
	}
}

func TestRequireRole(t *testing.T) {
	auth := NewActorAuth("secret", "", nil)
	h := auth.Middleware(RequireRole(shared.RoleManager)(echoActor(t)))

	desk, err := auth.IssueToken(shared.Actor{ID: 3, Username: "desk", Role: shared.RoleReception}, jwt.RegisteredClaims{})
	require.NoError(t, err)
	boss, err := auth.IssueToken(manager, jwt.RegisteredClaims{})
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, request(t, h, desk).Code)
	assert.Equal(t, http.StatusOK, request(t, h, boss).Code)
}
