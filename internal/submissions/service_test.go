package submissions_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vma-portal/portal/internal/periods"
	"github.com/vma-portal/portal/internal/shared"
	"github.com/vma-portal/portal/internal/submissions"
	"github.com/vma-portal/portal/internal/testing/memstore"
)

var (
	admin = &shared.Principal{UserID: uuid.New(), Email: "admin@vma.test", Role: shared.RoleAdmin}
	acme  = &shared.Principal{UserID: uuid.New(), Email: "ops@acme.test", Organisation: "Acme", Role: shared.RoleSubmitter}
	other = &shared.Principal{UserID: uuid.New(), Email: "ops@globex.test", Organisation: "Globex", Role: shared.RoleSubmitter}
)

// inWindow is 2024-06-03 in Melbourne, inside the window for 2024-05.
var inWindow = time.Date(2024, time.June, 3, 9, 0, 0, 0, periods.ReferenceZone())

// afterWindow is 2024-06-10 in Melbourne.
var afterWindow = time.Date(2024, time.June, 10, 9, 0, 0, 0, periods.ReferenceZone())

type fixture struct {
	periods     *memstore.Periods
	submissions *memstore.Submissions
	svc         *submissions.Service
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	p := memstore.NewPeriods()
	s := memstore.NewSubmissions(p)
	svc := submissions.NewService(s, p, nil, nil)
	svc.WithNow(func() time.Time { return now })
	return &fixture{periods: p, submissions: s, svc: svc}
}

func code(t *testing.T, raw string) periods.Code {
	t.Helper()
	c, err := periods.ParseCode(raw)
	require.NoError(t, err)
	return c
}

func TestLoadOrCreateSynthesisesDraft(t *testing.T) {
	f := newFixture(t, inWindow)
	editor, err := f.svc.LoadOrCreate(context.Background(), acme, "", "2024-05")
	require.NoError(t, err)

	sub := editor.Snapshot()
	assert.False(t, sub.Persisted())
	assert.Equal(t, "Acme", sub.Organisation)
	assert.Equal(t, submissions.StatusDraft, sub.Status)
	assert.Zero(t, sub.Total())
	assert.True(t, editor.CanEdit())
	assert.Zero(t, f.submissions.Count())
}

func TestSubmitterLifecycleInsideWindow(t *testing.T) {
	f := newFixture(t, inWindow)
	ctx := context.Background()
	editor, err := f.svc.LoadOrCreate(ctx, acme, "Acme", "2024-05")
	require.NoError(t, err)

	values, err := editor.SetMetricValue(submissions.MetricNSW, "10")
	require.NoError(t, err)
	assert.Equal(t, 10.0, values.Total())
	values, err = editor.SetMetricValue(submissions.MetricQLD, -4)
	require.NoError(t, err)
	assert.Equal(t, 0.0, values.QLD)
	_, err = editor.SetMetricValue(submissions.MetricWA, 5)
	require.NoError(t, err)
	assert.True(t, editor.Dirty())

	saved, err := editor.SaveDraft(ctx)
	require.NoError(t, err)
	assert.False(t, editor.Dirty())
	assert.True(t, saved.Persisted())
	assert.Equal(t, submissions.StatusDraft, saved.Status)
	assert.Equal(t, 15.0, saved.Total())
	assert.True(t, editor.Period().Persisted(), "first save creates the period")

	submitted, err := editor.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, submissions.StatusSubmitted, submitted.Status)
	require.NotNil(t, submitted.SubmittedAt)

	assert.False(t, editor.CanEdit())
	_, err = editor.SetMetricValue(submissions.MetricNSW, 1)
	assert.ErrorIs(t, err, shared.ErrNotEditable)
	_, err = editor.SaveDraft(ctx)
	assert.ErrorIs(t, err, shared.ErrNotEditable)

	reloaded, err := f.svc.LoadOrCreate(ctx, acme, "Acme", "2024-05")
	require.NoError(t, err)
	assert.Equal(t, submitted.ID, reloaded.Snapshot().ID)
	assert.Equal(t, 15.0, reloaded.Snapshot().Total())
	assert.Equal(t, 1, f.submissions.Count())
}

func TestReopenReleasesSubmittedRecord(t *testing.T) {
	f := newFixture(t, inWindow)
	ctx := context.Background()
	now := inWindow
	f.svc.WithNow(func() time.Time { return now })

	editor, err := f.svc.LoadOrCreate(ctx, acme, "Acme", "2024-05")
	require.NoError(t, err)
	_, err = editor.SetMetricValue(submissions.MetricNSW, 10)
	require.NoError(t, err)
	_, err = editor.Submit(ctx)
	require.NoError(t, err)
	periodID := editor.Period().ID

	now = inWindow.Add(time.Hour)
	claim, err := f.periods.ClaimFinalise(ctx, periodID, now, now.Add(-5*time.Minute))
	require.NoError(t, err)
	_, err = f.periods.CompleteFinalise(ctx, claim, "reports/2024-05.pdf", now)
	require.NoError(t, err)

	locked, err := f.svc.LoadOrCreate(ctx, acme, "Acme", "2024-05")
	require.NoError(t, err)
	assert.Equal(t, submissions.StatusLocked, locked.Status())
	assert.False(t, locked.CanEdit())

	now = inWindow.Add(2 * time.Hour)
	reopened, err := f.periods.Reopen(ctx, periodID, now, now.Add(-5*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, reopened.ReopenedAt)

	now = inWindow.Add(3 * time.Hour)
	editor, err = f.svc.LoadOrCreate(ctx, acme, "Acme", "2024-05")
	require.NoError(t, err)
	assert.Equal(t, submissions.StatusSubmitted, editor.Status())
	assert.True(t, editor.CanEdit(), "reopen lifts the submitted freeze")
	values, err := editor.SetMetricValue(submissions.MetricNSW, 12)
	require.NoError(t, err)
	assert.Equal(t, 12.0, values.Total())
	resubmitted, err := editor.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, now, *resubmitted.SubmittedAt)

	assert.False(t, editor.CanEdit(), "a submission after the reopen freezes again")
	_, err = editor.SetMetricValue(submissions.MetricNSW, 1)
	assert.ErrorIs(t, err, shared.ErrNotEditable)
}

func TestSubmitterOutsideWindow(t *testing.T) {
	f := newFixture(t, afterWindow)
	editor, err := f.svc.LoadOrCreate(context.Background(), acme, "Acme", "2024-05")
	require.NoError(t, err)
	assert.False(t, editor.CanEdit())
	_, err = editor.SetMetricValue(submissions.MetricNSW, 1)
	assert.ErrorIs(t, err, shared.ErrNotEditable)
	_, err = editor.Submit(context.Background())
	assert.ErrorIs(t, err, shared.ErrNotEditable)
	assert.Zero(t, f.submissions.Count())
}

func TestSubmitterCannotOpenOtherOrganisation(t *testing.T) {
	f := newFixture(t, inWindow)
	_, err := f.svc.LoadOrCreate(context.Background(), other, "Acme", "2024-05")
	assert.ErrorIs(t, err, shared.ErrForbidden)

	_, err = f.svc.LoadOrCreate(context.Background(), nil, "Acme", "2024-05")
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestAdminEditsAnyOrganisationOutsideWindow(t *testing.T) {
	f := newFixture(t, afterWindow)
	ctx := context.Background()
	f.periods.Seed(code(t, "2024-02"), periods.StatusOpen, "")

	editor, err := f.svc.Save(ctx, acme, submissions.SaveInput{PeriodCode: "2024-02", Values: submissions.Values{NSW: 3}})
	assert.ErrorIs(t, err, shared.ErrNotEditable)
	require.NotNil(t, editor)

	_, err = f.svc.Save(ctx, admin, submissions.SaveInput{PeriodCode: "2024-02", Organisation: "Acme", Values: submissions.Values{NSW: 3, WA: 4}, Submit: true})
	require.NoError(t, err)

	// A submitted record stays editable for admins and is re-asserted as draft.
	editor, err = f.svc.Save(ctx, admin, submissions.SaveInput{PeriodCode: "2024-02", Organisation: "Acme", Values: submissions.Values{NSW: 8}})
	require.NoError(t, err)
	assert.Equal(t, submissions.StatusDraft, editor.Snapshot().Status)
	assert.Equal(t, 8.0, editor.Snapshot().Total())
}

func TestNobodyEditsClosedPeriod(t *testing.T) {
	f := newFixture(t, inWindow)
	ctx := context.Background()
	p := f.periods.Seed(code(t, "2024-05"), periods.StatusOpen, "")

	_, err := f.svc.Save(ctx, acme, submissions.SaveInput{PeriodCode: "2024-05", Values: submissions.Values{NSW: 1}})
	require.NoError(t, err)

	for _, status := range []periods.Status{periods.StatusFinalising, periods.StatusFinalised} {
		closed := p
		closed.Status = status
		for _, principal := range []*shared.Principal{acme, admin} {
			editor, err := f.svc.LoadOrCreate(ctx, principal, "Acme", "2024-05")
			require.NoError(t, err)
			assert.True(t, editor.CanEdit(), "period is still open in the store")
			assert.False(t, submissions.CanEdit(principal, editor.Snapshot(), closed, inWindow))
			assert.Equal(t, submissions.StatusLocked, submissions.EffectiveStatus(editor.Snapshot(), closed))
		}
	}

	_, err = f.periods.ClaimFinalise(ctx, p.ID, inWindow, inWindow.Add(-time.Minute))
	require.NoError(t, err)
	editor, err := f.svc.LoadOrCreate(ctx, admin, "Acme", "2024-05")
	require.NoError(t, err)
	assert.False(t, editor.CanEdit())
	assert.Equal(t, submissions.StatusLocked, editor.Status())
	_, err = editor.SaveDraft(ctx)
	assert.ErrorIs(t, err, shared.ErrNotEditable)
}

func TestLockedSubmissionIsFrozen(t *testing.T) {
	p := periods.Period{ID: uuid.New(), Code: code(t, "2024-05"), Status: periods.StatusOpen}
	sub := submissions.Submission{Organisation: "Acme", Status: submissions.StatusLocked}
	assert.False(t, submissions.CanEdit(admin, sub, p, inWindow))
	assert.False(t, submissions.CanEdit(acme, sub, p, inWindow))
}

func TestStoreRejectsWriteAfterPeriodCloses(t *testing.T) {
	f := newFixture(t, inWindow)
	ctx := context.Background()
	p := f.periods.Seed(code(t, "2024-05"), periods.StatusOpen, "")
	editor, err := f.svc.LoadOrCreate(ctx, acme, "Acme", "2024-05")
	require.NoError(t, err)
	_, err = editor.SetMetricValue(submissions.MetricNSW, 3)
	require.NoError(t, err)

	// Finalisation claims the period between load and save.
	_, err = f.periods.ClaimFinalise(ctx, p.ID, inWindow, inWindow.Add(-time.Minute))
	require.NoError(t, err)

	_, err = editor.SaveDraft(ctx)
	assert.ErrorIs(t, err, shared.ErrNotEditable)
	assert.Zero(t, f.submissions.Count())
}

func TestConcurrentFirstSavesNeverDuplicate(t *testing.T) {
	f := newFixture(t, inWindow)
	ctx := context.Background()
	f.periods.Seed(code(t, "2024-05"), periods.StatusOpen, "")

	const workers = 8
	editors := make([]*submissions.Editor, workers)
	for i := range editors {
		e, err := f.svc.LoadOrCreate(ctx, acme, "Acme", "2024-05")
		require.NoError(t, err)
		editors[i] = e
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for _, e := range editors {
		wg.Add(1)
		go func(e *submissions.Editor) {
			defer wg.Done()
			_, err := e.SaveDraft(ctx)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			default:
				assert.ErrorIs(t, err, shared.ErrConflict)
				conflicts++
			}
		}(e)
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, conflicts)
	assert.Equal(t, 1, f.submissions.Count())
}

func TestListForPeriodScopesToOrganisation(t *testing.T) {
	f := newFixture(t, inWindow)
	ctx := context.Background()
	f.periods.Seed(code(t, "2024-05"), periods.StatusOpen, "")
	_, err := f.svc.Save(ctx, admin, submissions.SaveInput{PeriodCode: "2024-05", Organisation: "Globex", Values: submissions.Values{QLD: 2}})
	require.NoError(t, err)
	_, err = f.svc.Save(ctx, admin, submissions.SaveInput{PeriodCode: "2024-05", Organisation: "Acme", Values: submissions.Values{QLD: 1}})
	require.NoError(t, err)

	_, all, err := f.svc.ListForPeriod(ctx, admin, "2024-05")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Acme", all[0].Organisation)

	_, own, err := f.svc.ListForPeriod(ctx, acme, "2024-05")
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, "Acme", own[0].Organisation)
}
