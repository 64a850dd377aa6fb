package submissions

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vma-portal/portal/internal/shared"
)

func TestCoerceValue(t *testing.T) {
	cases := []struct {
		in   any
		want float64
	}{
		{10.0, 10},
		{7, 7},
		{json.Number("12.5"), 12.5},
		{"  42 ", 42},
		{"-3", 0},
		{-1.5, 0},
		{"abc", 0},
		{"", 0},
		{nil, 0},
		{true, 0},
		{math.NaN(), 0},
		{math.Inf(1), 0},
		{"1e400", 0},
		{"NaN", 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CoerceValue(tc.in), "input %#v", tc.in)
	}
}

func TestValuesTotalAlwaysDerived(t *testing.T) {
	var v Values
	require.NoError(t, v.Set(MetricNSW, 10))
	require.NoError(t, v.Set(MetricQLD, 5))
	require.NoError(t, v.Set(MetricWA, 2.5))
	assert.Equal(t, 17.5, v.Total())
	assert.Equal(t, 17.5, v.Get(MetricTotal))

	err := v.Set(MetricTotal, 999)
	assert.ErrorIs(t, err, ErrUnknownMetric)
	assert.Equal(t, 17.5, v.Total())
}

func TestValuesJSONIgnoresSuppliedTotal(t *testing.T) {
	var v Values
	require.NoError(t, json.Unmarshal([]byte(`{"dist_nsw": 4, "dist_sant": "6", "dist_total": 1000}`), &v))
	assert.Equal(t, 10.0, v.Total())

	out, err := json.Marshal(v)
	require.NoError(t, err)
	var decoded map[string]float64
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, 10.0, decoded["dist_total"])
	assert.Len(t, decoded, 6)
}

func TestValuesJSONCoercesOutOfRangeNumber(t *testing.T) {
	var v Values
	require.NoError(t, json.Unmarshal([]byte(`{"dist_nsw": 1e400, "dist_wa": 2, "dist_qld": -5}`), &v))
	assert.Equal(t, 0.0, v.NSW)
	assert.Equal(t, 0.0, v.QLD)
	assert.Equal(t, 2.0, v.WA)
	assert.Equal(t, 2.0, v.Total())
}

func TestValuesJSONRejectsUnknownCode(t *testing.T) {
	var v Values
	err := json.Unmarshal([]byte(`{"dist_nsw": 4, "dist_nt": 1}`), &v)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestParseMetricCode(t *testing.T) {
	code, err := ParseMetricCode(" DIST_VICTAS ")
	require.NoError(t, err)
	assert.Equal(t, MetricVICTAS, code)

	_, err = ParseMetricCode("dist_total")
	assert.ErrorIs(t, err, ErrUnknownMetric)
}
