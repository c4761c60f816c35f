package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"voxdrop/internal/pipeline"
	"voxdrop/internal/queue"
)

// Processor plugs the pipeline into the asynq worker loop.
type Processor struct {
	pipe *pipeline.Pipeline
	log  *logrus.Entry
}

// NewProcessor constructs a worker processor.
func NewProcessor(pipe *pipeline.Pipeline, log *logrus.Entry) *Processor {
	return &Processor{pipe: pipe, log: log}
}

// Handler registers the task handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ProcessSubmissionTask, p.handleProcess)
	return mux
}

func (p *Processor) handleProcess(ctx context.Context, task *asynq.Task) error {
	var payload queue.ProcessPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		// A payload that cannot decode will never decode; drop it.
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	err := p.pipe.Process(ctx, payload.SubmissionID)
	if err == nil {
		return nil
	}
	if errors.Is(err, pipeline.ErrRetry) {
		// Returning the error makes asynq redeliver the task; the pipeline
		// has already returned the record to pending.
		return err
	}
	p.log.WithField("submission", payload.SubmissionID).WithError(err).Error("processing failed permanently")
	return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
}
