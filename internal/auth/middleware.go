package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/vma-portal/portal/internal/shared"
)

// PrincipalMiddleware resolves the session user through the profiles table and
// stores the resulting principal in the request context. Requests without a
// usable session continue anonymously.
func PrincipalMiddleware(service *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := shared.SessionFromContext(r.Context())
			if sess == nil {
				next.ServeHTTP(w, r)
				return
			}
			raw := strings.TrimSpace(sess.User())
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			userID, err := uuid.Parse(raw)
			if err != nil {
				logger.Warn("session carries malformed user id", slog.String("value", raw))
				next.ServeHTTP(w, r)
				return
			}
			principal, err := service.Principal(r.Context(), userID)
			if err != nil {
				if !errors.Is(err, shared.ErrUnauthenticated) {
					logger.Error("resolve principal", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), principal)))
		})
	}
}
