package jobs

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFinaliseTask(t *testing.T) {
	task, err := NewFinaliseTask(FinalisePayload{PeriodID: "p-1", ActorID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, TaskPeriodFinalise, task.Type())

	var got FinalisePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &got))
	assert.Equal(t, FinalisePayload{PeriodID: "p-1", ActorID: "u-1"}, got)

	assert.Equal(t, TaskPeriodOpenEditable, NewOpenEditableTask().Type())
}

func TestHealthWithoutInspector(t *testing.T) {
	rr := httptest.NewRecorder()
	NewHandler(nil, nil).health(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"queue":"default","pending":0}`, rr.Body.String())
}
