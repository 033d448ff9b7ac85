package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/videotranslator/api/internal/model"
)

type enqueued struct {
	task *asynq.Task
	opts []asynq.Option
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []enqueued
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, enqueued{task: task, opts: opts})
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func (f *fakeEnqueuer) enqueued() []enqueued {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]enqueued(nil), f.tasks...)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func newTestJobService(t *testing.T) (*JobService, *fakeEnqueuer, *miniredis.Miniredis) {
	t.Helper()
	mr, client := newTestRedis(t)
	enq := &fakeEnqueuer{}
	return NewJobService(client, enq, JobOptions{MaxRetry: 3, Timeout: time.Minute}), enq, mr
}

func testTranslationRequest() model.TranslationRequest {
	return model.TranslationRequest{Media: testMedia(), SourceLanguage: "en", TargetLanguage: "de"}
}

func TestCreateAndGetJob(t *testing.T) {
	svc, _, mr := newTestJobService(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, testTranslationRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if job.Status != model.JobStatusRunning || job.Progress != 0 || job.TargetLanguage != "de" {
		t.Errorf("created job = %+v", job)
	}

	got, err := svc.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != job.ID || got.MediaID != "m1" {
		t.Errorf("stored job = %+v", got)
	}

	if ttl := mr.TTL(jobKey(job.ID)); ttl != jobTTL {
		t.Errorf("ttl = %v, want %v", ttl, jobTTL)
	}

	if _, err := svc.GetJob(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("missing job: err = %v", err)
	}
}

func TestGetJobForOwner(t *testing.T) {
	svc, _, _ := newTestJobService(t)
	ctx := context.Background()

	req := testTranslationRequest()
	req.OwnerID = "alice"
	job, err := svc.CreateJob(ctx, req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := svc.GetJobForOwner(ctx, job.ID, "alice")
	if err != nil {
		t.Fatalf("owner get: %v", err)
	}
	if got.OwnerID != "alice" {
		t.Errorf("owner = %q, want alice", got.OwnerID)
	}

	for _, owner := range []string{"bob", ""} {
		if _, err := svc.GetJobForOwner(ctx, job.ID, owner); !errors.Is(err, ErrJobNotFound) {
			t.Errorf("get as %q: err = %v, want ErrJobNotFound", owner, err)
		}
	}
}

func TestEnqueueJobOptions(t *testing.T) {
	svc, enq, _ := newTestJobService(t)
	req := testTranslationRequest()

	if err := svc.EnqueueJob(context.Background(), "job-1", req); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	tasks := enq.enqueued()
	if len(tasks) != 1 {
		t.Fatalf("enqueued %d tasks", len(tasks))
	}
	if tasks[0].task.Type() != TaskTypeTranslate {
		t.Errorf("task type = %q", tasks[0].task.Type())
	}

	var payload model.TranslateJobPayload
	if err := json.Unmarshal(tasks[0].task.Payload(), &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.JobID != "job-1" || payload.Request.Media.URL != req.Media.URL {
		t.Errorf("payload = %+v", payload)
	}

	opts := map[asynq.OptionType]interface{}{}
	for _, o := range tasks[0].opts {
		opts[o.Type()] = o.Value()
	}
	if opts[asynq.QueueOpt] != "translate" {
		t.Errorf("queue = %v", opts[asynq.QueueOpt])
	}
	if opts[asynq.MaxRetryOpt] != 3 {
		t.Errorf("max retry = %v", opts[asynq.MaxRetryOpt])
	}
	if opts[asynq.TaskIDOpt] != "job-1" {
		t.Errorf("task id = %v", opts[asynq.TaskIDOpt])
	}
	if opts[asynq.TimeoutOpt] != time.Minute {
		t.Errorf("timeout = %v", opts[asynq.TimeoutOpt])
	}
}

func TestEnqueueJobError(t *testing.T) {
	svc, enq, _ := newTestJobService(t)
	enq.err = errors.New("redis down")

	if err := svc.EnqueueJob(context.Background(), "job-1", testTranslationRequest()); err == nil {
		t.Fatal("expected enqueue error")
	}
}

func TestUpdateJobProgressIsMonotonic(t *testing.T) {
	svc, _, _ := newTestJobService(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, testTranslationRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.UpdateJobProgress(ctx, job.ID, 40, "Translating"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := svc.UpdateJobProgress(ctx, job.ID, 20, "Transcribing"); err != nil {
		t.Fatalf("stale update: %v", err)
	}

	got, _ := svc.GetJob(ctx, job.ID)
	if got.Progress != 40 || got.CurrentStep != "Translating" {
		t.Errorf("job = %+v, want progress 40", got)
	}
}

func TestJobTerminalTransitions(t *testing.T) {
	svc, _, _ := newTestJobService(t)
	ctx := context.Background()

	completed, _ := svc.CreateJob(ctx, testTranslationRequest())
	if err := svc.CompleteJob(ctx, completed.ID, "https://cdn.test/out.mp4"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ := svc.GetJob(ctx, completed.ID)
	if got.Status != model.JobStatusCompleted || got.Progress != 100 || got.Result == nil || got.CompletedAt == nil {
		t.Errorf("completed job = %+v", got)
	}
	if err := svc.CancelJob(ctx, completed.ID); !errors.Is(err, ErrJobFinished) {
		t.Errorf("cancel completed: err = %v", err)
	}
	if err := svc.FailJob(ctx, completed.ID, "late"); !errors.Is(err, ErrJobFinished) {
		t.Errorf("fail completed: err = %v", err)
	}

	canceled, _ := svc.CreateJob(ctx, testTranslationRequest())
	if err := svc.CancelJob(ctx, canceled.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := svc.CancelJob(ctx, canceled.ID); err != nil {
		t.Errorf("second cancel: %v", err)
	}
	if err := svc.UpdateJobProgress(ctx, canceled.ID, 10, "x"); !errors.Is(err, ErrJobCanceled) {
		t.Errorf("progress after cancel: err = %v", err)
	}
	if err := svc.CompleteJob(ctx, canceled.ID, "r"); !errors.Is(err, ErrJobCanceled) {
		t.Errorf("complete after cancel: err = %v", err)
	}

	failed, _ := svc.CreateJob(ctx, testTranslationRequest())
	if err := svc.FailJob(ctx, failed.ID, "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	got, _ = svc.GetJob(ctx, failed.ID)
	if got.Status != model.JobStatusFailed || got.Error == nil || *got.Error != "boom" {
		t.Errorf("failed job = %+v", got)
	}

	if err := svc.CancelJob(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("cancel missing: err = %v", err)
	}
}

func TestStartAttempt(t *testing.T) {
	svc, _, _ := newTestJobService(t)
	ctx := context.Background()

	job, _ := svc.CreateJob(ctx, testTranslationRequest())
	got, err := svc.StartAttempt(ctx, job.ID, 2)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got.StartedAt == nil || got.RetryCount != 2 {
		t.Errorf("job = %+v", got)
	}

	_ = svc.CancelJob(ctx, job.ID)
	if _, err := svc.StartAttempt(ctx, job.ID, 3); !errors.Is(err, ErrJobFinished) {
		t.Errorf("start canceled job: err = %v", err)
	}
}

func TestJobEventsArePublished(t *testing.T) {
	svc, _, _ := newTestJobService(t)
	ctx := context.Background()

	job, _ := svc.CreateJob(ctx, testTranslationRequest())
	sub := svc.Subscribe(ctx, job.ID)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	ch := sub.Channel()

	if err := svc.UpdateJobProgress(ctx, job.ID, 5, "Extracting audio"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := svc.CompleteJob(ctx, job.ID, "https://cdn.test/out.mp4"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	want := []model.JobEventType{model.JobEventProgress, model.JobEventComplete}
	for _, typ := range want {
		select {
		case msg := <-ch:
			var event model.JobEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				t.Fatalf("event: %v", err)
			}
			if event.Type != typ || event.JobID != job.ID {
				t.Errorf("event = %+v, want %s", event, typ)
			}
		case <-time.After(time.Second):
			t.Fatalf("no %s event", typ)
		}
	}
}
