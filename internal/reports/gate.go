package reports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vma-portal/portal/internal/periods"
	"github.com/vma-portal/portal/internal/shared"
	"github.com/vma-portal/portal/internal/storage"
)

// DefaultLinkTTL bounds how long a download link stays valid.
const DefaultLinkTTL = 60 * time.Second

// ErrReportNotFound indicates no downloadable report for the period.
var ErrReportNotFound = fmt.Errorf("reports: report %w", shared.ErrNotFound)

// PeriodFinder loads periods by code.
type PeriodFinder interface {
	GetByCode(ctx context.Context, code periods.Code) (periods.Period, error)
}

// Gate hands out short-lived links to finalised reports only.
type Gate struct {
	periods PeriodFinder
	bucket  storage.Bucket
	ttl     time.Duration
}

// NewGate constructs a Gate. A non-positive ttl uses DefaultLinkTTL.
func NewGate(finder PeriodFinder, bucket storage.Bucket, ttl time.Duration) *Gate {
	if ttl <= 0 {
		ttl = DefaultLinkTTL
	}
	return &Gate{periods: finder, bucket: bucket, ttl: ttl}
}

// Link returns a signed URL for the period's report. Periods that are not finalised,
// or that carry no report reference, yield ErrReportNotFound.
func (g *Gate) Link(ctx context.Context, periodCode string) (string, error) {
	code, err := periods.ParseCode(periodCode)
	if err != nil {
		return "", ErrReportNotFound
	}
	period, err := g.periods.GetByCode(ctx, code)
	if errors.Is(err, shared.ErrNotFound) {
		return "", ErrReportNotFound
	}
	if err != nil {
		return "", err
	}
	if !period.HasReport() {
		return "", ErrReportNotFound
	}
	url, err := g.bucket.SignedURL(ctx, period.ReportPath, g.ttl)
	if errors.Is(err, shared.ErrNotFound) {
		return "", ErrReportNotFound
	}
	if err != nil {
		return "", shared.Upstream("reports: sign link", err)
	}
	return url, nil
}
