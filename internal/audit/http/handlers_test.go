package audithttp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vma-portal/portal/internal/audit"
	"github.com/vma-portal/portal/internal/shared"
)

type stubTimelineService struct {
	result      audit.Result
	exportRows  []audit.TimelineRow
	lastFilters audit.TimelineFilters
}

func (s *stubTimelineService) Timeline(_ context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.lastFilters = filters
	return s.result, nil
}

func (s *stubTimelineService) Export(_ context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error) {
	s.lastFilters = filters
	return s.exportRows, nil
}

var (
	admin     = &shared.Principal{UserID: uuid.New(), Email: "admin@vma.local", Role: shared.RoleAdmin}
	submitter = &shared.Principal{UserID: uuid.New(), Email: "ops@acme.test", Organisation: "Acme", Role: shared.RoleSubmitter}
)

func newRouter(service *stubTimelineService) http.Handler {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), service)
	h.now = func() time.Time { return time.Date(2024, time.June, 10, 15, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	r.Route("/api/audit", h.MountRoutes)
	return r
}

func get(router http.Handler, target string, p *shared.Principal) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if p != nil {
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), p))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestTimelineDefaultsToLastThirtyDays(t *testing.T) {
	service := &stubTimelineService{result: audit.Result{
		Rows:   []audit.TimelineRow{{Action: "period.finalised", Entity: "period", EntityID: "abc"}},
		Paging: audit.PagingInfo{Page: 1, PageSize: 20},
	}}
	rec := get(newRouter(service), "/api/audit?entity=period&action=period.finalised", admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body audit.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Rows, 1)
	assert.Equal(t, "abc", body.Rows[0].EntityID)

	assert.Equal(t, time.Date(2024, time.May, 11, 0, 0, 0, 0, time.UTC), service.lastFilters.From)
	assert.Equal(t, time.Date(2024, time.June, 11, 0, 0, 0, 0, time.UTC), service.lastFilters.To)
	assert.Equal(t, "period", service.lastFilters.Entity)
	assert.Equal(t, 1, service.lastFilters.Page)
}

func TestTimelineRejectsBadFilters(t *testing.T) {
	router := newRouter(&stubTimelineService{})
	for _, query := range []string{
		"?from=yesterday",
		"?from=2024-06-05&to=2024-06-01",
		"?from=2020-01-01&to=2024-06-01",
		"?page=0",
		"?page_size=x",
	} {
		rec := get(router, "/api/audit"+query, admin)
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestTimelineRequiresAdmin(t *testing.T) {
	router := newRouter(&stubTimelineService{})
	assert.Equal(t, http.StatusForbidden, get(router, "/api/audit", nil).Code)
	assert.Equal(t, http.StatusForbidden, get(router, "/api/audit", submitter).Code)
	assert.Equal(t, http.StatusForbidden, get(router, "/api/audit/export.csv", submitter).Code)
}

func TestExportWritesCSV(t *testing.T) {
	service := &stubTimelineService{exportRows: []audit.TimelineRow{{
		At:       time.Date(2024, time.June, 1, 9, 30, 0, 0, time.UTC),
		Actor:    "admin@vma.local",
		Action:   "period.finalised",
		Entity:   "period",
		EntityID: "2024-05",
		Meta:     map[string]any{"report": "reports/2024-05.pdf"},
	}}}
	rec := get(newRouter(service), "/api/audit/export.csv?from=2024-06-01&to=2024-06-01", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "at,actor,action,entity,entity_id,meta", lines[0])
	assert.Equal(t, `2024-06-01T09:30:00Z,admin@vma.local,period.finalised,period,2024-05,"{""report"":""reports/2024-05.pdf""}"`, lines[1])
	assert.Equal(t, time.Date(2024, time.June, 2, 0, 0, 0, 0, time.UTC), service.lastFilters.To)
}

func TestExportIsRateLimited(t *testing.T) {
	router := newRouter(&stubTimelineService{})
	for i := 0; i < rateLimit; i++ {
		require.Equal(t, http.StatusOK, get(router, "/api/audit/export.csv", admin).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, get(router, "/api/audit/export.csv", admin).Code)
}
