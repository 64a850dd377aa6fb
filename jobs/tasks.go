package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPeriodFinalise finalises one reporting period.
	TaskPeriodFinalise = "periods:finalise"
	// TaskPeriodOpenEditable makes sure the period whose edit window is open exists.
	TaskPeriodOpenEditable = "periods:open-editable"
)

// FinalisePayload identifies the period to finalise and the administrator who asked.
type FinalisePayload struct {
	PeriodID string `json:"period_id"`
	ActorID  string `json:"actor_id"`
}

// NewFinaliseTask constructs a finalise task.
func NewFinaliseTask(payload FinalisePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPeriodFinalise, data), nil
}

// NewOpenEditableTask constructs the monthly period-opening task.
func NewOpenEditableTask() *asynq.Task {
	return asynq.NewTask(TaskPeriodOpenEditable, nil)
}
