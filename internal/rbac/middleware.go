// Package rbac gates routes on the request principal.
package rbac

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/vma-portal/portal/internal/platform/httpx"
	"github.com/vma-portal/portal/internal/shared"
)

// LoginPath is where pages send anonymous visitors.
const LoginPath = "/auth/login"

// Middleware wires authorization helpers for HTTP handlers.
type Middleware struct {
	Logger *slog.Logger
}

// RequireAuthenticated rejects requests without a principal. Pages redirect to the
// login form; API routes answer 403.
func (m Middleware) RequireAuthenticated(page bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if shared.PrincipalFromContext(r.Context()).Authenticated() {
				next.ServeHTTP(w, r)
				return
			}
			if page {
				target := LoginPath
				if r.Method == http.MethodGet && r.URL.Path != "/" {
					target += "?next=" + url.QueryEscape(r.URL.RequestURI())
				}
				http.Redirect(w, r, target, http.StatusSeeOther)
				return
			}
			httpx.Error(w, shared.ErrUnauthenticated)
		})
	}
}

// RequireRole ensures the principal holds role.
func (m Middleware) RequireRole(role shared.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := shared.PrincipalFromContext(r.Context())
			if !p.Authenticated() {
				httpx.Error(w, shared.ErrUnauthenticated)
				return
			}
			if p.Role != role {
				if m.Logger != nil {
					m.Logger.Warn("role required", slog.String("role", string(role)), slog.String("user_id", p.UserID.String()), slog.String("path", r.URL.Path))
				}
				httpx.Error(w, shared.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
