package submissions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Values holds one organisation's figures for a period. The total is never stored
// on the struct; it is always derived from the inputs.
type Values struct {
	NSW    float64
	QLD    float64
	SANT   float64
	VICTAS float64
	WA     float64
}

// Get returns the value for code; MetricTotal yields the derived total.
func (v Values) Get(code MetricCode) float64 {
	switch code {
	case MetricNSW:
		return v.NSW
	case MetricQLD:
		return v.QLD
	case MetricSANT:
		return v.SANT
	case MetricVICTAS:
		return v.VICTAS
	case MetricWA:
		return v.WA
	case MetricTotal:
		return v.Total()
	default:
		return 0
	}
}

// Set stores a coerced value for an input metric.
func (v *Values) Set(code MetricCode, value float64) error {
	value = clamp(value)
	switch code {
	case MetricNSW:
		v.NSW = value
	case MetricQLD:
		v.QLD = value
	case MetricSANT:
		v.SANT = value
	case MetricVICTAS:
		v.VICTAS = value
	case MetricWA:
		v.WA = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMetric, code)
	}
	return nil
}

// Total sums the input metrics.
func (v Values) Total() float64 {
	return v.NSW + v.QLD + v.SANT + v.VICTAS + v.WA
}

// Map returns every input metric plus the derived total.
func (v Values) Map() map[MetricCode]float64 {
	out := make(map[MetricCode]float64, len(catalogue)+1)
	for _, m := range catalogue {
		out[m.Code] = v.Get(m.Code)
	}
	out[MetricTotal] = v.Total()
	return out
}

// Add returns the element-wise sum of v and o.
func (v Values) Add(o Values) Values {
	return Values{
		NSW:    v.NSW + o.NSW,
		QLD:    v.QLD + o.QLD,
		SANT:   v.SANT + o.SANT,
		VICTAS: v.VICTAS + o.VICTAS,
		WA:     v.WA + o.WA,
	}
}

// MarshalJSON encodes the values keyed by metric code, including dist_total.
func (v Values) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Map())
}

// UnmarshalJSON accepts a code-keyed object. Unknown codes are rejected and a
// supplied dist_total is ignored. Numbers are coerced like any other input, so an
// out-of-range literal is stored as zero.
func (v *Values) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseValues(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseValues builds Values from loosely typed input keyed by metric code.
func ParseValues(raw map[string]any) (Values, error) {
	var out Values
	for key, value := range raw {
		if MetricCode(strings.ToLower(strings.TrimSpace(key))) == MetricTotal {
			continue
		}
		code, err := ParseMetricCode(key)
		if err != nil {
			return Values{}, err
		}
		if err := out.Set(code, CoerceValue(value)); err != nil {
			return Values{}, err
		}
	}
	return out, nil
}

// CoerceValue converts raw input to a non-negative finite number. Anything that
// does not parse, is negative, NaN or infinite becomes 0.
func CoerceValue(raw any) float64 {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	return clamp(f)
}

func clamp(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0
	}
	return f
}
