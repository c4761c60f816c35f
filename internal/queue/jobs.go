package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// ProcessSubmissionTask is scheduled each time a payload is accepted by
	// the intake surface.
	ProcessSubmissionTask = "submission:process"
)

// ProcessPayload is serialized into the task so the worker knows which
// submission to run an attempt for.
type ProcessPayload struct {
	SubmissionID string `json:"submission_id"`
}

// EnqueueProcess enqueues one processing task. maxRetry mirrors the pipeline
// attempt cap so asynq stops redelivering once the record would fail anyway.
func EnqueueProcess(ctx context.Context, client *asynq.Client, payload ProcessPayload, maxRetry int) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(ProcessSubmissionTask, data)
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(maxRetry)); err != nil {
		return fmt.Errorf("enqueue process task: %w", err)
	}
	return nil
}
