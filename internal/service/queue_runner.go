package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/videotranslator/api/internal/controller"
	"github.com/videotranslator/api/internal/model"
)

const (
	startTimeout  = 10 * time.Second
	cancelTimeout = 5 * time.Second
)

// QueueRunner runs translation jobs on asynq workers and follows them through
// the job events channel
type QueueRunner struct {
	jobs *JobService
}

func NewQueueRunner(jobs *JobService) *QueueRunner {
	return &QueueRunner{jobs: jobs}
}

// Run creates the job record, subscribes to its events and then enqueues the
// task, so no event of the job can be missed. Starting gives up after
// startTimeout.
func (r *QueueRunner) Run(ctx context.Context, req model.TranslationRequest, l controller.Listener) (controller.Job, error) {
	if req.Media.URL == "" {
		return nil, errors.New("request has no source media")
	}

	ctx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()

	job, err := r.jobs.CreateJob(ctx, req)
	if err != nil {
		return nil, err
	}

	sub := r.jobs.Subscribe(ctx, job.ID)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe to job %s: %w", job.ID, err)
	}

	if err := r.jobs.EnqueueJob(ctx, job.ID, req); err != nil {
		sub.Close()
		fctx, fcancel := context.WithTimeout(context.Background(), cancelTimeout)
		defer fcancel()
		if ferr := r.jobs.FailJob(fctx, job.ID, err.Error()); ferr != nil {
			log.Printf("Failed to mark job %s as failed: %v", job.ID, ferr)
		}
		return nil, err
	}

	qj := &queuedJob{
		id:   job.ID,
		jobs: r.jobs,
		sub:  sub,
		done: make(chan struct{}),
	}
	go qj.forward(sub.Channel(), l)

	log.Printf("Translation job %s queued", job.ID)
	return qj, nil
}

type queuedJob struct {
	id   string
	jobs *JobService
	sub  *redis.PubSub
	done chan struct{}

	cancelOnce sync.Once
}

func (j *queuedJob) ID() string { return j.id }

func (j *queuedJob) Done() <-chan struct{} { return j.done }

// Cancel marks the job record canceled, which stops the worker at its next
// step, and stops forwarding events
func (j *queuedJob) Cancel() bool {
	canceled := false
	j.cancelOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
		defer cancel()

		err := j.jobs.CancelJob(ctx, j.id)
		switch {
		case err == nil:
			canceled = true
		case errors.Is(err, ErrJobFinished):
		default:
			log.Printf("Failed to cancel job %s: %v", j.id, err)
		}
		j.sub.Close()
	})
	return canceled
}

func (j *queuedJob) forward(ch <-chan *redis.Message, l controller.Listener) {
	defer close(j.done)
	defer j.sub.Close()

	for msg := range ch {
		var event model.JobEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			log.Printf("Invalid event on %s: %v", msg.Channel, err)
			continue
		}

		switch event.Type {
		case model.JobEventProgress:
			if l.Progress != nil {
				l.Progress(event.Progress)
			}
		case model.JobEventComplete:
			if l.Progress != nil {
				l.Progress(100)
			}
			if l.Complete != nil {
				l.Complete(event.Result)
			}
			return
		case model.JobEventError:
			if l.Fail != nil {
				l.Fail(errors.New(event.Error))
			}
			return
		case model.JobEventCanceled:
			return
		}
	}
}
