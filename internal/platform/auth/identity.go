package auth

import (
	"context"
	"slices"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/hanko-field/orderflow/internal/domain"
)

// Role claims carried on Firebase custom claims.
const (
	RoleCustomer = "customer"
	RoleSupport  = "support"
	RoleStaff    = "staff"
	RoleAdmin    = "admin"
)

// rolePrecedence orders roles from least to most privileged.
var rolePrecedence = []string{RoleCustomer, RoleSupport, RoleStaff, RoleAdmin}

// Identity is the authenticated principal extracted from a Firebase ID token.
type Identity struct {
	UID   string
	Email string
	Roles []string

	token *firebaseauth.Token
}

// Token exposes the decoded ID token.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// HasRole reports whether the identity carries role (case-insensitive).
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	return role != "" && slices.Contains(i.Roles, role)
}

// HasAnyRole reports whether the identity carries any of roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

// Actor maps the identity onto the order engine's actor using its most privileged role.
func (i *Identity) Actor() domain.Actor {
	if i == nil {
		return domain.Actor{}
	}
	for idx := len(rolePrecedence) - 1; idx >= 0; idx-- {
		if i.HasRole(rolePrecedence[idx]) {
			return domain.Actor{ID: i.UID, Role: domain.ActorRole(rolePrecedence[idx])}
		}
	}
	return domain.Actor{ID: i.UID}
}

// ActorAs returns the actor acting in role, or false when the identity lacks it.
func (i *Identity) ActorAs(role string) (domain.Actor, bool) {
	if !i.HasRole(role) {
		return domain.Actor{}, false
	}
	return domain.Actor{ID: i.UID, Role: domain.ActorRole(normaliseRole(role))}, true
}

type identityKey struct{}

// WithIdentity stores identity on ctx.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext retrieves the identity stored by the authenticator.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
