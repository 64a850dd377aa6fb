package submissions

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/vma-portal/portal/internal/periods"
	"github.com/vma-portal/portal/internal/platform/httpx"
	"github.com/vma-portal/portal/internal/shared"
	"github.com/vma-portal/portal/internal/view"
)

// OrganisationLister lists the organisations known to the portal.
type OrganisationLister interface {
	Organisations(ctx context.Context) ([]string, error)
}

// PeriodLister lists periods for the dashboard.
type PeriodLister interface {
	List(ctx context.Context) ([]periods.Period, error)
	Finalised(ctx context.Context) ([]periods.Period, error)
}

// Handler serves the dashboard and the submissions API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	periods   PeriodLister
	orgs      OrganisationLister
	templates *view.Engine
	csrf      *shared.CSRFManager
	validator *validator.Validate
	now       func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, periodList PeriodLister, orgs OrganisationLister, templates *view.Engine, csrf *shared.CSRFManager) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		periods:   periodList,
		orgs:      orgs,
		templates: templates,
		csrf:      csrf,
		validator: validator.New(),
		now:       time.Now,
	}
}

// MountPages registers the dashboard routes.
func (h *Handler) MountPages(r chi.Router) {
	r.Get("/", h.showDashboard)
	r.Post("/submissions", h.handleForm)
}

// MountAPI registers JSON routes under /api/submissions.
func (h *Handler) MountAPI(r chi.Router) {
	r.Get("/", h.getSubmission)
	r.Put("/{period_code}/{organisation}", h.putSubmission)
}

// SubmissionView is the API representation of an editor's state.
type SubmissionView struct {
	PeriodCode   string     `json:"period_code"`
	PeriodStatus string     `json:"period_status"`
	Organisation string     `json:"organisation"`
	Status       Status     `json:"status"`
	Values       Values     `json:"values"`
	CanEdit      bool       `json:"can_edit"`
	InWindow     bool       `json:"in_window"`
	SubmittedAt  *time.Time `json:"submitted_at,omitempty"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

func (h *Handler) viewOf(e *Editor) SubmissionView {
	sub := e.Snapshot()
	p := e.Period()
	v := SubmissionView{
		PeriodCode:   p.Code.String(),
		PeriodStatus: string(p.Status),
		Organisation: sub.Organisation,
		Status:       e.Status(),
		Values:       sub.Values,
		CanEdit:      e.CanEdit(),
		InWindow:     p.Code.EditableAt(h.now()),
		SubmittedAt:  sub.SubmittedAt,
	}
	if sub.Persisted() {
		updated := sub.UpdatedAt
		v.UpdatedAt = &updated
	}
	return v
}

// defaultPeriod returns the editable period, or the previous month outside the window.
func (h *Handler) defaultPeriod() string {
	now := h.now()
	if code, ok := periods.EditableCode(now); ok {
		return code.String()
	}
	return periods.PreviousCode(now).String()
}

func (h *Handler) getSubmission(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	code := r.URL.Query().Get("period")
	if code == "" {
		code = h.defaultPeriod()
	}
	editor, err := h.service.LoadOrCreate(r.Context(), principal, r.URL.Query().Get("organisation"), code)
	if err != nil {
		h.fail(w, "load submission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.viewOf(editor))
}

type putRequest struct {
	Values Values `json:"values"`
	Action string `json:"action" validate:"omitempty,oneof=draft submit"`
}

func (h *Handler) putSubmission(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if !principal.Authenticated() {
		httpx.Error(w, shared.ErrUnauthenticated)
		return
	}
	var req putRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Text(w, http.StatusBadRequest, "action must be draft or submit")
		return
	}
	organisation, err := url.PathUnescape(chi.URLParam(r, "organisation"))
	if err != nil {
		httpx.Text(w, http.StatusBadRequest, "invalid organisation")
		return
	}
	editor, err := h.service.Save(r.Context(), principal, SaveInput{
		PeriodCode:   chi.URLParam(r, "period_code"),
		Organisation: organisation,
		Values:       req.Values,
		Submit:       req.Action == "submit",
	})
	if err != nil {
		h.fail(w, "save submission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.viewOf(editor))
}

type metricRow struct {
	Code  MetricCode
	Label string
	Value float64
}

type dashboardData struct {
	Submission    SubmissionView
	Rows          []metricRow
	Total         float64
	WindowStart   time.Time
	WindowEnd     time.Time
	Organisations []string
	Periods       []periods.Period
	Reports       []periods.Period
}

func (h *Handler) showDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := shared.PrincipalFromContext(ctx)
	sess := shared.SessionFromContext(ctx)

	code := r.URL.Query().Get("period")
	if code == "" {
		code = h.defaultPeriod()
	}
	editor, err := h.service.LoadOrCreate(ctx, principal, r.URL.Query().Get("organisation"), code)
	if errors.Is(err, ErrNoOrganisation) && principal.IsAdmin() {
		editor, err = h.firstOrganisation(ctx, principal, code)
	}
	if err != nil {
		h.fail(w, "load dashboard", err)
		return
	}

	subView := h.viewOf(editor)
	data := dashboardData{Submission: subView, Total: subView.Values.Total()}
	data.WindowStart, data.WindowEnd = periods.WindowFor(editor.Period().Code)
	data.WindowEnd = data.WindowEnd.Add(-time.Second)
	for _, m := range Metrics() {
		data.Rows = append(data.Rows, metricRow{Code: m.Code, Label: m.Label, Value: subView.Values.Get(m.Code)})
	}
	if data.Reports, err = h.periods.Finalised(ctx); err != nil {
		h.logger.Warn("list finalised periods", slog.Any("error", err))
	}
	if principal.IsAdmin() {
		if data.Organisations, err = h.orgs.Organisations(ctx); err != nil {
			h.logger.Warn("list organisations", slog.Any("error", err))
		}
		if data.Periods, err = h.periods.List(ctx); err != nil {
			h.logger.Warn("list periods", slog.Any("error", err))
		}
	}

	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	if err := h.templates.Render(w, "pages/dashboard.html", view.TemplateData{
		Title:       "Dashboard",
		CSRFToken:   h.csrf.EnsureToken(sess),
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Principal:   principal,
		Data:        data,
	}); err != nil {
		h.logger.Error("render dashboard", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) firstOrganisation(ctx context.Context, principal *shared.Principal, code string) (*Editor, error) {
	orgs, err := h.orgs.Organisations(ctx)
	if err != nil {
		return nil, err
	}
	if len(orgs) == 0 {
		return nil, ErrNoOrganisation
	}
	return h.service.LoadOrCreate(ctx, principal, orgs[0], code)
}

func (h *Handler) handleForm(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if !principal.Authenticated() {
		httpx.Error(w, shared.ErrUnauthenticated)
		return
	}
	if err := r.ParseForm(); err != nil {
		httpx.Text(w, http.StatusBadRequest, "invalid form")
		return
	}
	sess := shared.SessionFromContext(r.Context())

	raw := make(map[string]any, len(catalogue))
	for _, m := range catalogue {
		raw[string(m.Code)] = r.PostFormValue(string(m.Code))
	}
	values, err := ParseValues(raw)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	in := SaveInput{
		PeriodCode:   r.PostFormValue("period_code"),
		Organisation: r.PostFormValue("organisation"),
		Values:       values,
		Submit:       r.PostFormValue("action") == "submit",
	}
	editor, err := h.service.Save(r.Context(), principal, in)

	q := url.Values{}
	q.Set("period", strings.TrimSpace(in.PeriodCode))
	if principal.IsAdmin() && in.Organisation != "" {
		q.Set("organisation", in.Organisation)
	}
	target := "/?" + q.Encode()

	if err != nil {
		if !shared.Classified(err) {
			h.logger.Error("save submission form", slog.Any("error", err))
			httpx.Error(w, err)
			return
		}
		if errors.Is(err, shared.ErrUnauthenticated) || errors.Is(err, shared.ErrForbidden) {
			httpx.Error(w, err)
			return
		}
		if sess != nil {
			sess.AddFlash(shared.FlashMessage{Kind: "error", Message: err.Error()})
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	if sess != nil {
		msg := "Draft saved"
		if editor.Snapshot().Status == StatusSubmitted {
			msg = "Submission sent for " + editor.Period().Code.String()
		}
		sess.AddFlash(shared.FlashMessage{Kind: "success", Message: msg})
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !shared.Classified(err) || errors.Is(err, shared.ErrUpstream) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.Error(w, err)
}
