package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/videotranslator/api/internal/model"
)

const (
	TaskTypeTranslate = "translate:process"

	jobTTL           = 24 * time.Hour
	maxUpdateRetries = 10
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobCanceled = errors.New("job canceled")
	ErrJobFinished = errors.New("job already finished")
)

// TaskEnqueuer is the part of asynq.Client used to queue jobs
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// JobOptions are the asynq options of every translation task
type JobOptions struct {
	Queue     string
	MaxRetry  int
	Timeout   time.Duration
	Retention time.Duration
}

// JobService keeps durable translation job records in Redis and publishes
// their changes on a per-job channel
type JobService struct {
	redis    *redis.Client
	enqueuer TaskEnqueuer
	opts     JobOptions
}

func NewJobService(redisClient *redis.Client, enqueuer TaskEnqueuer, opts JobOptions) *JobService {
	if opts.Queue == "" {
		opts.Queue = "translate"
	}
	if opts.Retention <= 0 {
		opts.Retention = jobTTL
	}
	return &JobService{
		redis:    redisClient,
		enqueuer: enqueuer,
		opts:     opts,
	}
}

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

// JobChannel is the pub/sub channel carrying the events of a job
func JobChannel(jobID string) string {
	return fmt.Sprintf("job:%s:events", jobID)
}

// CreateJob stores a new running job record at progress 0
func (s *JobService) CreateJob(ctx context.Context, req model.TranslationRequest) (*model.Job, error) {
	job := &model.Job{
		ID:             uuid.New().String(),
		Status:         model.JobStatusRunning,
		MediaID:        req.Media.ID,
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: req.TargetLanguage,
		CreatedAt:      time.Now(),
		OwnerID:        req.OwnerID,
	}

	if err := s.saveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}
	return job, nil
}

// EnqueueJob queues the worker task of job. The job ID doubles as the task ID.
func (s *JobService) EnqueueJob(ctx context.Context, jobID string, req model.TranslationRequest) error {
	payload, err := json.Marshal(model.TranslateJobPayload{JobID: jobID, Request: req})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	opts := []asynq.Option{
		asynq.Queue(s.opts.Queue),
		asynq.MaxRetry(s.opts.MaxRetry),
		asynq.Retention(s.opts.Retention),
		asynq.TaskID(jobID),
	}
	if s.opts.Timeout > 0 {
		opts = append(opts, asynq.Timeout(s.opts.Timeout))
	}

	if _, err := s.enqueuer.EnqueueContext(ctx, asynq.NewTask(TaskTypeTranslate, payload), opts...); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// GetJob returns the job record
func (s *JobService) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}
	return &job, nil
}

// GetJobForOwner returns the job only when it belongs to ownerID. Jobs of
// other owners are reported as ErrJobNotFound.
func (s *JobService) GetJobForOwner(ctx context.Context, jobID, ownerID string) (*model.Job, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// StartAttempt records that a worker picked up the job (called by worker)
func (s *JobService) StartAttempt(ctx context.Context, jobID string, retryCount int) (*model.Job, error) {
	return s.update(ctx, jobID, func(job *model.Job) (bool, error) {
		if job.Status.IsTerminal() {
			return false, fmt.Errorf("%w: %s", ErrJobFinished, job.Status)
		}
		if job.StartedAt == nil {
			now := time.Now()
			job.StartedAt = &now
		}
		job.RetryCount = retryCount
		return true, nil
	})
}

// UpdateJobProgress records progress (called by worker). Progress never moves
// backwards; a canceled job reports ErrJobCanceled so the worker can stop.
func (s *JobService) UpdateJobProgress(ctx context.Context, jobID string, progress int, step string) error {
	job, err := s.update(ctx, jobID, func(job *model.Job) (bool, error) {
		switch {
		case job.Status == model.JobStatusCanceled:
			return false, ErrJobCanceled
		case job.Status.IsTerminal():
			return false, fmt.Errorf("%w: %s", ErrJobFinished, job.Status)
		case progress <= job.Progress:
			return false, nil
		}
		job.Progress = min(progress, 100)
		job.CurrentStep = step
		return true, nil
	})
	if err != nil || job == nil {
		return err
	}

	s.publish(ctx, model.JobEvent{
		Type:        model.JobEventProgress,
		JobID:       jobID,
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
	})
	return nil
}

// CompleteJob marks the job completed with its result reference (called by worker)
func (s *JobService) CompleteJob(ctx context.Context, jobID, result string) error {
	job, err := s.update(ctx, jobID, func(job *model.Job) (bool, error) {
		switch {
		case job.Status == model.JobStatusCanceled:
			return false, ErrJobCanceled
		case job.Status.IsTerminal():
			return false, fmt.Errorf("%w: %s", ErrJobFinished, job.Status)
		}
		now := time.Now()
		job.Status = model.JobStatusCompleted
		job.Progress = 100
		job.Result = &result
		job.CompletedAt = &now
		return true, nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, model.JobEvent{
		Type:     model.JobEventComplete,
		JobID:    jobID,
		Status:   job.Status,
		Progress: job.Progress,
		Result:   result,
	})
	return nil
}

// FailJob marks the job failed (called by worker). Finished jobs are left alone.
func (s *JobService) FailJob(ctx context.Context, jobID, errMsg string) error {
	job, err := s.update(ctx, jobID, func(job *model.Job) (bool, error) {
		if job.Status.IsTerminal() {
			return false, fmt.Errorf("%w: %s", ErrJobFinished, job.Status)
		}
		now := time.Now()
		job.Status = model.JobStatusFailed
		job.Error = &errMsg
		job.CompletedAt = &now
		return true, nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, model.JobEvent{
		Type:     model.JobEventError,
		JobID:    jobID,
		Status:   job.Status,
		Progress: job.Progress,
		Error:    errMsg,
	})
	return nil
}

// CancelJob marks the job canceled. Canceling a canceled job is a no-op.
func (s *JobService) CancelJob(ctx context.Context, jobID string) error {
	job, err := s.update(ctx, jobID, func(job *model.Job) (bool, error) {
		switch {
		case job.Status == model.JobStatusCanceled:
			return false, nil
		case job.Status.IsTerminal():
			return false, fmt.Errorf("%w: %s", ErrJobFinished, job.Status)
		}
		now := time.Now()
		job.Status = model.JobStatusCanceled
		job.CompletedAt = &now
		return true, nil
	})
	if err != nil || job == nil {
		return err
	}

	s.publish(ctx, model.JobEvent{
		Type:     model.JobEventCanceled,
		JobID:    jobID,
		Status:   job.Status,
		Progress: job.Progress,
	})
	return nil
}

// Subscribe opens a subscription to the events of a job. The caller must close it.
func (s *JobService) Subscribe(ctx context.Context, jobID string) *redis.PubSub {
	return s.redis.Subscribe(ctx, JobChannel(jobID))
}

// Helper methods

func (s *JobService) saveJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, jobKey(job.ID), data, jobTTL).Err()
}

// update applies fn to the job record inside an optimistic transaction. It
// returns nil without writing when fn reports no change.
func (s *JobService) update(ctx context.Context, jobID string, fn func(*model.Job) (bool, error)) (*model.Job, error) {
	key := jobKey(jobID)
	var updated *model.Job

	txf := func(tx *redis.Tx) error {
		updated = nil

		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrJobNotFound
			}
			return err
		}

		var job model.Job
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
		}

		changed, err := fn(&job)
		if err != nil || !changed {
			return err
		}

		data, err = json.Marshal(&job)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, jobTTL)
			return nil
		})
		if err == nil {
			updated = &job
		}
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.redis.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("failed to update job %s: too much contention", jobID)
}

func (s *JobService) publish(ctx context.Context, event model.JobEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Failed to marshal job event: %v", err)
		return
	}
	if err := s.redis.Publish(ctx, JobChannel(event.JobID), data).Err(); err != nil {
		log.Printf("Failed to publish %s event for job %s: %v", event.Type, event.JobID, err)
	}
}
