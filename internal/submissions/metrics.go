package submissions

import (
	"fmt"
	"strings"

	"github.com/vma-portal/portal/internal/shared"
)

// MetricCode names one reported figure.
type MetricCode string

const (
	MetricNSW    MetricCode = "dist_nsw"
	MetricQLD    MetricCode = "dist_qld"
	MetricSANT   MetricCode = "dist_sant"
	MetricVICTAS MetricCode = "dist_victas"
	MetricWA     MetricCode = "dist_wa"
	// MetricTotal is derived from the others and never accepted as input.
	MetricTotal MetricCode = "dist_total"
)

// Metric describes an input figure.
type Metric struct {
	Code  MetricCode `json:"code"`
	Label string     `json:"label"`
}

var catalogue = []Metric{
	{Code: MetricNSW, Label: "NSW"},
	{Code: MetricQLD, Label: "QLD"},
	{Code: MetricSANT, Label: "SA/NT"},
	{Code: MetricVICTAS, Label: "VIC/TAS"},
	{Code: MetricWA, Label: "WA"},
}

// ErrUnknownMetric indicates a metric code outside the catalogue.
var ErrUnknownMetric = fmt.Errorf("submissions: unknown metric code: %w", shared.ErrValidation)

// Metrics returns the input metrics in display order.
func Metrics() []Metric {
	out := make([]Metric, len(catalogue))
	copy(out, catalogue)
	return out
}

// ParseMetricCode validates raw against the input catalogue.
func ParseMetricCode(raw string) (MetricCode, error) {
	code := MetricCode(strings.ToLower(strings.TrimSpace(raw)))
	for _, m := range catalogue {
		if m.Code == code {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMetric, raw)
}
