package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type windowRepo struct {
	rows        []TimelineRow
	lastFilters TimelineFilters
	lastOffset  int
	lastLimit   int
}

func (r *windowRepo) Window(_ context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	r.lastFilters, r.lastOffset, r.lastLimit = filters, offset, limit
	if offset >= len(r.rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(r.rows) {
		end = len(r.rows)
	}
	return r.rows[offset:end], nil
}

func seededRepo(n int) *windowRepo {
	base := time.Date(2024, time.June, 3, 0, 0, 0, 0, time.UTC)
	repo := &windowRepo{}
	for i := 0; i < n; i++ {
		repo.rows = append(repo.rows, TimelineRow{
			At:       base.Add(-time.Duration(i) * time.Hour),
			Action:   "period.finalised",
			Entity:   "period",
			EntityID: fmt.Sprintf("p-%d", i),
		})
	}
	return repo
}

func TestTimelinePaging(t *testing.T) {
	repo := seededRepo(25)
	svc := NewService(repo)

	first, err := svc.Timeline(context.Background(), TimelineFilters{Entity: "  period "})
	require.NoError(t, err)
	assert.Len(t, first.Rows, defaultPageSize)
	assert.Equal(t, PagingInfo{Page: 1, PageSize: defaultPageSize, HasNext: true, NextPage: 2}, first.Paging)
	assert.Equal(t, "period", repo.lastFilters.Entity)
	assert.Equal(t, defaultPageSize+1, repo.lastLimit)

	second, err := svc.Timeline(context.Background(), TimelineFilters{Page: 2})
	require.NoError(t, err)
	assert.Len(t, second.Rows, 5)
	assert.Equal(t, PagingInfo{Page: 2, PageSize: defaultPageSize, PrevPage: 1}, second.Paging)
	assert.Equal(t, defaultPageSize, repo.lastOffset)
}

func TestTimelineClampsPageSize(t *testing.T) {
	repo := seededRepo(0)
	result, err := NewService(repo).Timeline(context.Background(), TimelineFilters{PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, result.Paging.PageSize)
	assert.NotNil(t, result.Rows)
	assert.Empty(t, result.Rows)
}

func TestExportIgnoresPaging(t *testing.T) {
	repo := seededRepo(60)
	rows, err := NewService(repo).Export(context.Background(), TimelineFilters{Page: 3, PageSize: 5})
	require.NoError(t, err)
	assert.Len(t, rows, 60)
	assert.Equal(t, 0, repo.lastOffset)
	assert.Equal(t, maxExportRows, repo.lastLimit)
}

func TestServiceRequiresRepository(t *testing.T) {
	_, err := NewService(nil).Timeline(context.Background(), TimelineFilters{})
	assert.Error(t, err)
}
