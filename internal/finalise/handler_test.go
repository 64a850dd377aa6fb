package finalise_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vma-portal/portal/internal/finalise"
	"github.com/vma-portal/portal/internal/periods"
	"github.com/vma-portal/portal/internal/shared"
	"github.com/vma-portal/portal/jobs"
)

type stubEnqueuer struct {
	payloads []jobs.FinalisePayload
	err      error
}

func (e *stubEnqueuer) EnqueueFinalise(_ context.Context, payload jobs.FinalisePayload) (*asynq.TaskInfo, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.payloads = append(e.payloads, payload)
	return &asynq.TaskInfo{ID: "task-1", Queue: jobs.QueueDefault}, nil
}

func newAPI(t *testing.T, f *fixture, enq finalise.Enqueuer) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	periodService := periods.NewService(f.periods, nil, logger)
	h := finalise.NewHandler(logger, f.workflow(nil), periodService, nil, shared.NewCSRFManager("secret"), enq)
	r := chi.NewRouter()
	r.Route("/api/periods", h.MountAPI)
	r.Route("/admin", h.MountPages)
	return r
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSpace(string(p)))
	return len(p), nil
}

func do(h http.Handler, req *http.Request, p *shared.Principal, sess *shared.Session) *httptest.ResponseRecorder {
	ctx := shared.ContextWithPrincipal(req.Context(), p)
	if sess != nil {
		ctx = shared.ContextWithSession(ctx, sess)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req.WithContext(ctx))
	return rr
}

func TestAPIFinaliseInline(t *testing.T) {
	f := newFixture(t)
	h := newAPI(t, f, nil)

	rr := do(h, httptest.NewRequest(http.MethodPost, "/api/periods/"+f.period.ID.String()+"/finalise", nil), admin, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body struct {
		Period     periods.Period `json:"period"`
		ReportPath string         `json:"report_pdf_path"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, periods.StatusFinalised, body.Period.Status)
	assert.Equal(t, "2024-05", body.Period.Code.String())

	rr = do(h, httptest.NewRequest(http.MethodPost, "/api/periods/"+f.period.ID.String()+"/reopen", nil), admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, periods.StatusOpen, f.current(t).Status)
}

func TestAPIRejectsNonAdmin(t *testing.T) {
	f := newFixture(t)
	h := newAPI(t, f, nil)

	rr := do(h, httptest.NewRequest(http.MethodPost, "/api/periods/"+f.period.ID.String()+"/finalise", nil), submitter, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(h, httptest.NewRequest(http.MethodPost, "/api/periods/not-a-uuid/finalise", nil), admin, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAPICreateAndList(t *testing.T) {
	f := newFixture(t)
	h := newAPI(t, f, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/periods", strings.NewReader(`{"year":2024,"month":6}`))
	req.Header.Set("Content-Type", "application/json")
	rr := do(h, req, admin, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/api/periods", strings.NewReader(`{"year":2024,"month":6}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusConflict, do(h, req, admin, nil).Code)

	req = httptest.NewRequest(http.MethodPost, "/api/periods", strings.NewReader(`{"year":2024,"month":13}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, do(h, req, admin, nil).Code)

	rr = do(h, httptest.NewRequest(http.MethodGet, "/api/periods", nil), admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Periods []periods.Period `json:"periods"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Periods, 2)
	assert.Equal(t, "2024-06", list.Periods[0].Code.String())
}

func TestAPIFinaliseQueued(t *testing.T) {
	f := newFixture(t)
	enq := &stubEnqueuer{}
	h := newAPI(t, f, enq)

	rr := do(h, httptest.NewRequest(http.MethodPost, "/api/periods/"+f.period.ID.String()+"/finalise", nil), admin, nil)
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Len(t, enq.payloads, 1)
	assert.Equal(t, f.period.ID.String(), enq.payloads[0].PeriodID)
	assert.Equal(t, admin.UserID.String(), enq.payloads[0].ActorID)
	assert.Equal(t, periods.StatusOpen, f.current(t).Status)

	enq.err = asynq.ErrTaskIDConflict
	rr = do(h, httptest.NewRequest(http.MethodPost, "/api/periods/"+f.period.ID.String()+"/finalise", nil), admin, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestFormFinaliseRedirectsWithFlash(t *testing.T) {
	f := newFixture(t)
	h := newAPI(t, f, nil)
	sess := &shared.Session{ID: "s1"}

	req := httptest.NewRequest(http.MethodPost, "/api/periods/"+f.period.ID.String()+"/finalise", strings.NewReader(url.Values{"csrf_token": {"x"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := do(h, req, admin, sess)

	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/admin", rr.Header().Get("Location"))
	flash := sess.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, "success", flash.Kind)
	assert.Contains(t, flash.Message, "2024-05")
}
