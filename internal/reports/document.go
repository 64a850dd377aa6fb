package reports

import (
	"sort"
	"time"

	"github.com/vma-portal/portal/internal/periods"
	"github.com/vma-portal/portal/internal/submissions"
)

// Row is one organisation's line in the report.
type Row struct {
	Organisation string
	Values       submissions.Values
}

// Document is the data the report template renders.
type Document struct {
	PeriodCode  string
	Heading     string
	Metrics     []submissions.Metric
	Rows        []Row
	Totals      submissions.Values
	GeneratedAt time.Time
}

// BuildDocument orders organisations by name and computes grand totals.
func BuildDocument(code periods.Code, valuesByOrg map[string]submissions.Values, generatedAt time.Time) Document {
	doc := Document{
		PeriodCode:  code.String(),
		Heading:     "VMA Mail Distribution Report — " + code.String(),
		Metrics:     submissions.Metrics(),
		Rows:        make([]Row, 0, len(valuesByOrg)),
		GeneratedAt: generatedAt.In(periods.ReferenceZone()),
	}
	for org, values := range valuesByOrg {
		doc.Rows = append(doc.Rows, Row{Organisation: org, Values: values})
		doc.Totals = doc.Totals.Add(values)
	}
	sort.Slice(doc.Rows, func(i, j int) bool { return doc.Rows[i].Organisation < doc.Rows[j].Organisation })
	return doc
}

// Path returns the storage path for a period's report.
func Path(code periods.Code) string {
	return "reports/" + code.String() + ".pdf"
}
