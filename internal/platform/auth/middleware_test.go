package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanko-field/orderflow/internal/domain"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func serve(handler http.Handler, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestRequireFirebaseAuthAttachesIdentity(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{
		UID:    "uid-123",
		Claims: map[string]any{"role": []any{"Support", "staff", "staff"}, "email": "ops@example.com"},
	}}
	authn := NewAuthenticator(verifier)

	var identity *Identity
	handler := authn.RequireFirebaseAuth(RoleStaff, RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rr := serve(handler, "Bearer token-abc")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "token-abc", verifier.received)
	require.NotNil(t, identity)
	assert.Equal(t, []string{"support", "staff"}, identity.Roles)
	assert.Equal(t, "ops@example.com", identity.Email)
	assert.Equal(t, domain.Actor{ID: "uid-123", Role: domain.ActorRoleStaff}, identity.Actor())

	actor, ok := identity.ActorAs(RoleSupport)
	assert.True(t, ok)
	assert.Equal(t, domain.ActorRoleSupport, actor.Role)
	_, ok = identity.ActorAs(RoleAdmin)
	assert.False(t, ok)
}

func TestRequireFirebaseAuthDefaultsToCustomer(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{token: &firebaseauth.Token{UID: "cust-1", Claims: map[string]any{}}})

	customerOnly := authn.RequireFirebaseAuth(RoleCustomer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())
		assert.Equal(t, domain.ActorRoleCustomer, identity.Actor().Role)
		w.WriteHeader(http.StatusOK)
	}))
	assert.Equal(t, http.StatusOK, serve(customerOnly, "Bearer t").Code)

	adminOnly := authn.RequireFirebaseAuth(RoleAdmin)(http.NotFoundHandler())
	assert.Equal(t, http.StatusForbidden, serve(adminOnly, "Bearer t").Code)
}

func TestRequireFirebaseAuthRejects(t *testing.T) {
	tests := []struct {
		name     string
		verifier TokenVerifier
		authz    string
		code     string
	}{
		{"missing header", &stubTokenVerifier{}, "", "unauthenticated"},
		{"basic scheme", &stubTokenVerifier{}, "Basic abc", "unauthenticated"},
		{"expired", &stubTokenVerifier{err: ErrTokenExpired}, "Bearer t", "token_expired"},
		{"invalid", &stubTokenVerifier{err: errors.New("bad")}, "Bearer t", "invalid_token"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := serve(NewAuthenticator(tc.verifier).RequireFirebaseAuth()(http.NotFoundHandler()), tc.authz)
			require.Equal(t, http.StatusUnauthorized, rr.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tc.code, body["error"])
		})
	}
}

func TestRolesFromClaimsMapForm(t *testing.T) {
	roles := rolesFromClaims(map[string]any{"role": map[string]any{"admin": true, "staff": false}}, "role")
	assert.Equal(t, []string{"admin"}, roles)
}
