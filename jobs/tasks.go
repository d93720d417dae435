package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskArrearsSnapshot computes and stores an arrears report.
	TaskArrearsSnapshot = "arrears:snapshot"
)

// ArrearsSnapshotPayload selects the trailing window a snapshot covers.
type ArrearsSnapshotPayload struct {
	Days          int    `json:"days"`
	InsuranceType string `json:"insurance_type,omitempty"`
}

// NewArrearsSnapshotTask constructs an arrears snapshot task.
func NewArrearsSnapshotTask(payload ArrearsSnapshotPayload) (*asynq.Task, error) {
	if payload.Days < 0 {
		return nil, fmt.Errorf("jobs: arrears snapshot days must not be negative")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskArrearsSnapshot, data), nil
}

// DecodeArrearsSnapshot parses a task payload, rejecting malformed input with asynq.SkipRetry.
func DecodeArrearsSnapshot(t *asynq.Task) (ArrearsSnapshotPayload, error) {
	var payload ArrearsSnapshotPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("jobs: decode %s: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	if payload.Days < 0 {
		return payload, fmt.Errorf("jobs: %s days %d: %w", t.Type(), payload.Days, asynq.SkipRetry)
	}
	return payload, nil
}
