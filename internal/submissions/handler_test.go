package submissions_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vma-portal/portal/internal/periods"
	"github.com/vma-portal/portal/internal/shared"
	"github.com/vma-portal/portal/internal/submissions"
	"github.com/vma-portal/portal/internal/view"
)

type staticOrgs []string

func (o staticOrgs) Organisations(context.Context) ([]string, error) { return o, nil }

func newRouter(t *testing.T, f *fixture) http.Handler {
	t.Helper()
	templates, err := view.NewEngine()
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := submissions.NewHandler(logger, f.svc, periods.NewService(f.periods, nil, logger), staticOrgs{"Acme", "Globex"}, templates, shared.NewCSRFManager("secret"))
	r := chi.NewRouter()
	r.Route("/api/submissions", h.MountAPI)
	h.MountPages(r)
	return r
}

func serve(h http.Handler, req *http.Request, p *shared.Principal, sess *shared.Session) *httptest.ResponseRecorder {
	ctx := shared.ContextWithPrincipal(req.Context(), p)
	if sess != nil {
		ctx = shared.ContextWithSession(ctx, sess)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func put(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPut, "/api/submissions/2024-05/Acme", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestAPISaveThenSubmit(t *testing.T) {
	f := newFixture(t, inWindow)
	router := newRouter(t, f)

	rec := serve(router, put(`{"values":{"dist_nsw":"12.5","dist_qld":-3,"dist_wa":2},"action":"draft"}`), acme, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got submissions.SubmissionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, submissions.StatusDraft, got.Status)
	assert.Equal(t, 14.5, got.Values.Total())
	assert.True(t, got.CanEdit)

	rec = serve(router, put(`{"values":{"dist_nsw":12.5,"dist_wa":2},"action":"submit"}`), acme, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, submissions.StatusSubmitted, got.Status)
	assert.NotNil(t, got.SubmittedAt)
	assert.False(t, got.CanEdit)

	rec = serve(router, put(`{"values":{"dist_nsw":1}}`), acme, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "submitted records are read-only to submitters")

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/api/submissions/?period=2024-05", nil), acme, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Acme", got.Organisation)
	assert.Equal(t, 14.5, got.Values.NSW+got.Values.WA)
}

func TestAPIRejectsBadRequests(t *testing.T) {
	f := newFixture(t, inWindow)
	router := newRouter(t, f)

	cases := map[string]struct {
		req       *http.Request
		principal *shared.Principal
		want      int
	}{
		"unknown metric":     {put(`{"values":{"dist_tas":1}}`), acme, http.StatusBadRequest},
		"bad action":         {put(`{"values":{"dist_nsw":1},"action":"publish"}`), acme, http.StatusBadRequest},
		"other organisation": {put(`{"values":{"dist_nsw":1}}`), other, http.StatusForbidden},
		"anonymous":          {put(`{"values":{"dist_nsw":1}}`), nil, http.StatusForbidden},
		"anonymous bad body": {put(`{"values":{"dist_tas":1}}`), nil, http.StatusForbidden},
		"bad period":         {httptest.NewRequest(http.MethodGet, "/api/submissions/?period=2024-13", nil), acme, http.StatusBadRequest},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := serve(router, tc.req, tc.principal, nil)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestAPIClosedWindow(t *testing.T) {
	f := newFixture(t, afterWindow)
	router := newRouter(t, f)
	rec := serve(router, put(`{"values":{"dist_nsw":1}}`), acme, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFormPostRedirectsWithFlash(t *testing.T) {
	f := newFixture(t, inWindow)
	router := newRouter(t, f)
	sess := &shared.Session{ID: "s1"}

	form := url.Values{"period_code": {"2024-05"}, "organisation": {"Acme"}, "dist_nsw": {"7"}, "action": {"submit"}}
	req := httptest.NewRequest(http.MethodPost, "/submissions", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := serve(router, req, acme, sess)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/?period=2024-05", rec.Header().Get("Location"))
	flash := sess.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, "success", flash.Kind)
	assert.Equal(t, "Submission sent for 2024-05", flash.Message)

	req = httptest.NewRequest(http.MethodPost, "/submissions", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = serve(router, req, acme, sess)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	flash = sess.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, "error", flash.Kind)
}

func TestDashboardRenders(t *testing.T) {
	f := newFixture(t, inWindow)
	router := newRouter(t, f)

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/?period=2024-05", nil), acme, &shared.Session{ID: "s1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "2024-05")

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/?period=2024-05", nil), admin, &shared.Session{ID: "s2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Globex")
}
