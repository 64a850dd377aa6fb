package app

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/vma-portal/portal/internal/audit/http"
	"github.com/vma-portal/portal/internal/auth"
	"github.com/vma-portal/portal/internal/finalise"
	"github.com/vma-portal/portal/internal/observability"
	"github.com/vma-portal/portal/internal/rbac"
	"github.com/vma-portal/portal/internal/reports"
	"github.com/vma-portal/portal/internal/shared"
	"github.com/vma-portal/portal/internal/storage"
	"github.com/vma-portal/portal/internal/submissions"
	"github.com/vma-portal/portal/jobs"
	"github.com/vma-portal/portal/report"
	"github.com/vma-portal/portal/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	SessionManager    *shared.SessionManager
	CSRFManager       *shared.CSRFManager
	AuthService       *auth.Service
	AuthHandler       *auth.Handler
	SubmissionHandler *submissions.Handler
	FinaliseHandler   *finalise.Handler
	AuditHandler      *audithttp.Handler
	ReportsHandler    *reports.Handler
	RendererHandler   *report.Handler
	JobHandler        *jobs.Handler
	// LocalFiles serves signed downloads when reports live on local disk.
	LocalFiles     *storage.LocalBucket
	RBACMiddleware rbac.Middleware
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with portal defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	var principal func(http.Handler) http.Handler
	if params.AuthService != nil {
		principal = auth.PrincipalMiddleware(params.AuthService, params.Logger)
	}
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
		Principal:      principal,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	gate := params.RBACMiddleware
	adminOnly := gate.RequireRole(shared.RoleAdmin)

	r.Route("/auth", params.AuthHandler.MountRoutes)
	r.Route("/api/auth", params.AuthHandler.MountAPI)

	r.Group(func(r chi.Router) {
		r.Use(gate.RequireAuthenticated(true))
		params.SubmissionHandler.MountPages(r)
	})
	r.Route("/admin", func(r chi.Router) {
		r.Use(gate.RequireAuthenticated(true), adminOnly)
		params.FinaliseHandler.MountPages(r)
	})

	r.Route("/api/submissions", func(r chi.Router) {
		r.Use(gate.RequireAuthenticated(false))
		params.SubmissionHandler.MountAPI(r)
	})
	r.Route("/api/periods", func(r chi.Router) {
		r.Use(adminOnly)
		params.FinaliseHandler.MountAPI(r)
	})
	r.Route("/api/reports", params.ReportsHandler.MountRoutes)

	if params.AuditHandler != nil {
		r.With(adminOnly).Route("/api/audit", params.AuditHandler.MountRoutes)
	}

	if params.RendererHandler != nil {
		r.With(adminOnly).Route("/report", params.RendererHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.With(adminOnly).Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.LocalFiles != nil {
		r.Handle(storage.LocalPrefix+"*", params.LocalFiles.Handler())
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	return r
}

// staticCacheHandler wraps a file server with Cache-Control headers.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
