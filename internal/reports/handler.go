package reports

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vma-portal/portal/internal/platform/httpx"
	"github.com/vma-portal/portal/internal/shared"
)

// Handler redirects authenticated users to signed report links.
type Handler struct {
	logger *slog.Logger
	gate   *Gate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, gate *Gate) *Handler {
	return &Handler{logger: logger, gate: gate}
}

// MountRoutes registers the download route.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{period_code}", h.download)
}

func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	if !shared.PrincipalFromContext(r.Context()).Authenticated() {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}
	code := chi.URLParam(r, "period_code")
	link, err := h.gate.Link(r.Context(), code)
	if err != nil {
		if !shared.Classified(err) || errors.Is(err, shared.ErrUpstream) {
			h.logger.Error("report link failed", slog.String("period", code), slog.Any("error", err))
		}
		httpx.Error(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, link, http.StatusSeeOther)
}
