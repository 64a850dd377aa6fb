package shared

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Role enumerates portal roles stored on profiles.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleSubmitter Role = "submitter"
)

// NormaliseRole maps stored role strings onto known roles; anything else is a submitter.
func NormaliseRole(v string) Role {
	if Role(strings.ToLower(strings.TrimSpace(v))) == RoleAdmin {
		return RoleAdmin
	}
	return RoleSubmitter
}

// Principal is the authenticated caller resolved from the profiles table.
type Principal struct {
	UserID       uuid.UUID
	Email        string
	Organisation string
	Role         Role
}

// IsAdmin reports whether the principal holds the administrator role.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// Authenticated reports whether the principal identifies a user.
func (p *Principal) Authenticated() bool {
	return p != nil && p.UserID != uuid.Nil
}

// RequireAdmin returns ErrUnauthenticated or ErrForbidden unless p is an administrator.
func RequireAdmin(p *Principal) error {
	if !p.Authenticated() {
		return ErrUnauthenticated
	}
	if !p.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

type sessionContextKey struct{}

type principalContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// ContextWithPrincipal stores the resolved principal in context.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the principal for the request, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}
