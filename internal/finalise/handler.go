package finalise

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/vma-portal/portal/internal/periods"
	"github.com/vma-portal/portal/internal/platform/httpx"
	"github.com/vma-portal/portal/internal/shared"
	"github.com/vma-portal/portal/internal/view"
	"github.com/vma-portal/portal/jobs"
)

// Enqueuer queues finalise tasks for the worker.
type Enqueuer interface {
	EnqueueFinalise(ctx context.Context, payload jobs.FinalisePayload) (*asynq.TaskInfo, error)
}

// PeriodService is the period lookup and creation the admin pages need.
type PeriodService interface {
	List(ctx context.Context) ([]periods.Period, error)
	Create(ctx context.Context, principal *shared.Principal, in periods.CreateInput) (periods.Period, error)
}

// Handler serves the admin page and period API.
type Handler struct {
	logger    *slog.Logger
	workflow  *Workflow
	periods   PeriodService
	templates *view.Engine
	csrf      *shared.CSRFManager
	enqueuer  Enqueuer
	validator *validator.Validate
}

// NewHandler constructs a Handler. A nil enqueuer runs finalisation inline.
func NewHandler(logger *slog.Logger, workflow *Workflow, periodService PeriodService, templates *view.Engine, csrf *shared.CSRFManager, enqueuer Enqueuer) *Handler {
	return &Handler{
		logger:    logger,
		workflow:  workflow,
		periods:   periodService,
		templates: templates,
		csrf:      csrf,
		enqueuer:  enqueuer,
		validator: validator.New(),
	}
}

// MountPages registers /admin routes.
func (h *Handler) MountPages(r chi.Router) {
	r.Get("/", h.showAdmin)
	r.Post("/periods", h.createPeriod)
}

// MountAPI registers /api/periods routes.
func (h *Handler) MountAPI(r chi.Router) {
	r.Get("/", h.listPeriods)
	r.Post("/", h.createPeriod)
	r.Post("/{id}/finalise", h.finalise)
	r.Post("/{id}/reopen", h.reopen)
}

type adminRow struct {
	Period      periods.Period
	CanFinalise bool
	CanReopen   bool
}

type adminData struct {
	Rows []adminRow
	Form periods.CreateInput
}

func (h *Handler) showAdmin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := h.periods.List(ctx)
	if err != nil {
		h.fail(w, "list periods", err)
		return
	}
	data := adminData{Rows: make([]adminRow, 0, len(list))}
	for _, p := range list {
		data.Rows = append(data.Rows, adminRow{
			Period:      p,
			CanFinalise: p.Status == periods.StatusOpen || p.Status == periods.StatusFinalised,
			CanReopen:   p.Status == periods.StatusFinalised,
		})
	}
	if code, ok := periods.EditableCode(h.workflow.now()); ok {
		data.Form = periods.CreateInput{Year: code.Year(), Month: int(code.Month())}
	} else {
		prev := periods.PreviousCode(h.workflow.now())
		data.Form = periods.CreateInput{Year: prev.Year(), Month: int(prev.Month())}
	}

	sess := shared.SessionFromContext(ctx)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	if err := h.templates.Render(w, "pages/admin.html", view.TemplateData{
		Title:       "Admin",
		CSRFToken:   h.csrf.EnsureToken(sess),
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Principal:   shared.PrincipalFromContext(ctx),
		Data:        data,
	}); err != nil {
		h.logger.Error("render admin", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) listPeriods(w http.ResponseWriter, r *http.Request) {
	list, err := h.periods.List(r.Context())
	if err != nil {
		h.fail(w, "list periods", err)
		return
	}
	if list == nil {
		list = []periods.Period{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"periods": list})
}

func (h *Handler) createPeriod(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	form := httpx.IsFormPost(r)
	var in periods.CreateInput
	if form {
		year, yerr := strconv.Atoi(r.PostFormValue("year"))
		month, merr := strconv.Atoi(r.PostFormValue("month"))
		if yerr != nil || merr != nil {
			h.flashRedirect(w, r, "error", "Year and month must be numbers")
			return
		}
		in = periods.CreateInput{Year: year, Month: month}
	} else if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Error(w, err)
		return
	}
	if err := h.validator.Struct(in); err != nil {
		if form {
			h.flashRedirect(w, r, "error", "Year must be 1900-9999 and month 1-12")
			return
		}
		httpx.Text(w, http.StatusBadRequest, "year must be 1900-9999 and month 1-12")
		return
	}
	p, err := h.periods.Create(r.Context(), principal, in)
	if form {
		if err != nil {
			h.formError(w, r, "create period", err)
			return
		}
		h.flashRedirect(w, r, "success", "Period "+p.Code.String()+" created")
		return
	}
	if err != nil {
		h.fail(w, "create period", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) finalise(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	id, ok := h.periodID(w, r)
	if !ok {
		return
	}
	form := httpx.IsFormPost(r)

	if h.enqueuer != nil {
		if err := shared.RequireAdmin(principal); err != nil {
			httpx.Error(w, err)
			return
		}
		info, err := h.enqueuer.EnqueueFinalise(r.Context(), jobs.FinalisePayload{PeriodID: id.String(), ActorID: principal.UserID.String()})
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			err = periods.ErrFinaliseInProgress
		} else if err != nil {
			err = shared.Upstream("finalise: enqueue", err)
		}
		if form {
			if err != nil {
				h.formError(w, r, "enqueue finalise", err)
				return
			}
			h.flashRedirect(w, r, "success", "Finalisation queued")
			return
		}
		if err != nil {
			h.fail(w, "enqueue finalise", err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": info.ID, "queue": info.Queue})
		return
	}

	outcome, err := h.workflow.Finalise(r.Context(), principal, id)
	if form {
		if err != nil {
			h.formError(w, r, "finalise", err)
			return
		}
		h.flashRedirect(w, r, "success", "Period "+outcome.Period.Code.String()+" finalised")
		return
	}
	if err != nil {
		h.fail(w, "finalise", err)
		return
	}
	httpx.JSON(w, http.StatusOK, outcome)
}

func (h *Handler) reopen(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	id, ok := h.periodID(w, r)
	if !ok {
		return
	}
	p, err := h.workflow.Reopen(r.Context(), principal, id)
	if httpx.IsFormPost(r) {
		if err != nil {
			h.formError(w, r, "reopen", err)
			return
		}
		h.flashRedirect(w, r, "success", "Period "+p.Code.String()+" reopened")
		return
	}
	if err != nil {
		h.fail(w, "reopen", err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) periodID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, periods.ErrPeriodNotFound)
		return uuid.Nil, false
	}
	return id, true
}

// formError surfaces classified failures as a flash on the admin page. Authorisation
// failures and unexpected errors are answered directly.
func (h *Handler) formError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if !shared.Classified(err) || errors.Is(err, shared.ErrUnauthenticated) || errors.Is(err, shared.ErrForbidden) {
		h.fail(w, op, err)
		return
	}
	if errors.Is(err, shared.ErrUpstream) {
		h.logger.Error(op, slog.Any("error", err))
	}
	h.flashRedirect(w, r, "error", err.Error())
}

func (h *Handler) flashRedirect(w http.ResponseWriter, r *http.Request, kind, msg string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: msg})
	}
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !shared.Classified(err) || errors.Is(err, shared.ErrUpstream) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.Error(w, err)
}
