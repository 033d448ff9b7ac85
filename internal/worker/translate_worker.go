package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"github.com/videotranslator/api/internal/model"
	"github.com/videotranslator/api/internal/progress"
	"github.com/videotranslator/api/internal/service"
	"github.com/videotranslator/api/internal/simulator"
)

// TranslateWorker processes queued translation jobs
type TranslateWorker struct {
	jobs   *service.JobService
	sim    *simulator.Simulator
	phases []progress.Phase
}

// NewTranslateWorker creates a worker that drives jobs with sim
func NewTranslateWorker(jobs *service.JobService, sim *simulator.Simulator, phases []progress.Phase) *TranslateWorker {
	if phases == nil {
		phases = progress.DefaultPhases
	}
	return &TranslateWorker{
		jobs:   jobs,
		sim:    sim,
		phases: phases,
	}
}

// ProcessTask handles translate task processing
func (w *TranslateWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.TranslateJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	jobID := payload.JobID
	retry, _ := asynq.GetRetryCount(ctx)

	if _, err := w.jobs.StartAttempt(ctx, jobID, retry); err != nil {
		switch {
		case errors.Is(err, service.ErrJobFinished):
			log.Printf("Translation job %s already finished, skipping", jobID)
			return nil
		case errors.Is(err, service.ErrJobNotFound):
			return fmt.Errorf("job %s: %v: %w", jobID, err, asynq.SkipRetry)
		default:
			return err
		}
	}
	log.Printf("Starting translation job: %s (attempt %d)", jobID, retry+1)

	var h *simulator.Handle
	stopped := make(chan struct{})
	h, err := w.sim.Submit(ctx, payload.Request, simulator.Observer{
		OnProgress: func(p int) {
			// Completion records 100 together with the result.
			if p >= 100 {
				return
			}
			err := w.jobs.UpdateJobProgress(ctx, jobID, p, progress.StepName(p, w.phases))
			switch {
			case err == nil:
			case errors.Is(err, service.ErrJobCanceled), errors.Is(err, service.ErrJobFinished):
				<-stopped
				h.Cancel()
			default:
				log.Printf("Failed to update progress of job %s: %v", jobID, err)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("job %s: %v: %w", jobID, err, asynq.SkipRetry)
	}
	close(stopped)

	if err := h.Wait(context.Background()); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		log.Printf("Translation job %s interrupted: %v", jobID, err)
		return err
	}

	snap := h.Snapshot()
	if snap.Status != model.JobStatusCompleted {
		log.Printf("Translation job %s canceled", jobID)
		return nil
	}

	if err := w.jobs.CompleteJob(ctx, jobID, snap.Result); err != nil {
		if errors.Is(err, service.ErrJobCanceled) {
			log.Printf("Translation job %s canceled before completion", jobID)
			return nil
		}
		return fmt.Errorf("failed to complete job %s: %w", jobID, err)
	}

	log.Printf("Translation job %s completed", jobID)
	return nil
}

// HandleError marks the job failed once asynq gives up on it. It is installed
// as the server's ErrorHandler.
func (w *TranslateWorker) HandleError(ctx context.Context, t *asynq.Task, err error) {
	if t.Type() != service.TaskTypeTranslate {
		return
	}

	var payload model.TranslateJobPayload
	if jerr := json.Unmarshal(t.Payload(), &payload); jerr != nil || payload.JobID == "" {
		log.Printf("Translation task failed with unreadable payload: %v", err)
		return
	}

	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	if retried < maxRetry && !errors.Is(err, asynq.SkipRetry) {
		log.Printf("Translation job %s failed (attempt %d/%d), retrying: %v", payload.JobID, retried+1, maxRetry+1, err)
		return
	}

	log.Printf("Translation job %s failed: %v", payload.JobID, err)
	if ferr := w.jobs.FailJob(context.Background(), payload.JobID, err.Error()); ferr != nil && !errors.Is(ferr, service.ErrJobFinished) {
		log.Printf("Failed to mark job %s as failed: %v", payload.JobID, ferr)
	}
}

// RetryDelay returns an exponential backoff starting at base and capped at max
func RetryDelay(base, max time.Duration) asynq.RetryDelayFunc {
	return func(n int, err error, t *asynq.Task) time.Duration {
		if n < 0 {
			n = 0
		}
		if n > 30 {
			return max
		}
		d := base << uint(n)
		if d <= 0 || d > max {
			return max
		}
		return d
	}
}
