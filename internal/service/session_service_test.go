package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/videotranslator/api/internal/controller"
	"github.com/videotranslator/api/internal/model"
)

type stubJob struct {
	id       string
	mu       sync.Mutex
	canceled bool
	done     chan struct{}
}

func (j *stubJob) ID() string { return j.id }

func (j *stubJob) Cancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.canceled {
		return false
	}
	j.canceled = true
	close(j.done)
	return true
}

func (j *stubJob) Done() <-chan struct{} { return j.done }

type stubRunner struct {
	mu        sync.Mutex
	listeners []controller.Listener
	jobs      []*stubJob
}

func (r *stubRunner) Run(ctx context.Context, req model.TranslationRequest, l controller.Listener) (controller.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := &stubJob{id: "job-" + string(rune('a'+len(r.jobs))), done: make(chan struct{})}
	r.jobs = append(r.jobs, job)
	r.listeners = append(r.listeners, l)
	return job, nil
}

func (r *stubRunner) last() (controller.Listener, *stubJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.jobs) - 1
	return r.listeners[n], r.jobs[n]
}

type hubEvent struct {
	kind        string
	sessionID   string
	jobID       string
	progress    int
	status      model.JobStatus
	step        string
	activePhase int
	detail      string
}

type recordingHub struct {
	mu     sync.Mutex
	events []hubEvent
}

func (h *recordingHub) BroadcastProgress(sessionID, jobID string, progress int, status model.JobStatus, step string, activePhase int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, hubEvent{kind: "progress", sessionID: sessionID, jobID: jobID, progress: progress, status: status, step: step, activePhase: activePhase})
}

func (h *recordingHub) BroadcastComplete(sessionID, jobID, resultReference string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, hubEvent{kind: "complete", sessionID: sessionID, jobID: jobID, detail: resultReference})
}

func (h *recordingHub) BroadcastError(sessionID, jobID, code, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, hubEvent{kind: "error", sessionID: sessionID, jobID: jobID, detail: code + ": " + message})
}

func (h *recordingHub) snapshot() []hubEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]hubEvent(nil), h.events...)
}

func testMedia() model.MediaSource {
	return model.MediaSource{ID: "m1", ContentType: "video/mp4", Key: "uploads/m1/a.mp4", URL: "https://cdn.test/uploads/m1/a.mp4"}
}

func TestSessionLifecycle(t *testing.T) {
	svc := NewSessionService(&stubRunner{}, nil, nil, nil, 0)

	sess := svc.Create("user-1")
	if svc.Len() != 1 {
		t.Fatalf("len = %d, want 1", svc.Len())
	}

	got, err := svc.Get(sess.ID, "user-1")
	if err != nil || got != sess {
		t.Fatalf("get = %v, %v", got, err)
	}

	if err := svc.Delete(context.Background(), sess.ID, "user-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(sess.ID, "user-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("get after delete: err = %v", err)
	}
	if err := svc.Delete(context.Background(), sess.ID, "user-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second delete: err = %v", err)
	}
}

func TestSessionOwnership(t *testing.T) {
	svc := NewSessionService(&stubRunner{}, nil, nil, nil, 0)
	sess := svc.Create("user-1")

	if _, err := svc.Get(sess.ID, "user-2"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("get by other owner: err = %v", err)
	}
	if err := svc.Delete(context.Background(), sess.ID, "user-2"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("delete by other owner: err = %v", err)
	}
	if _, err := svc.Get(sess.ID, ""); err != nil {
		t.Errorf("get without owner: %v", err)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	runner := &stubRunner{}
	svc := NewSessionService(runner, nil, nil, nil, 0)

	a := svc.Create("user-1")
	b := svc.Create("user-1")

	if err := a.Controller.SelectMedia(testMedia()); err != nil {
		t.Fatalf("select media: %v", err)
	}
	if err := a.Controller.Submit(context.Background(), "", ""); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if !a.Controller.State().IsRunning {
		t.Error("session a not running")
	}
	if b.Controller.State().IsRunning || b.Controller.CanSubmit() {
		t.Error("session b affected by session a")
	}
}

func TestDeleteCancelsJobAndMedia(t *testing.T) {
	runner := &stubRunner{}
	store := newMemoryStorage()
	media := NewMediaService(store, 0, 0)
	svc := NewSessionService(runner, nil, nil, media, 0)

	m, err := media.Ingest(context.Background(), "a.mp4", "video/mp4", 4, strings.NewReader("data"))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	sess := svc.Create("user-1")
	if err := sess.Controller.SelectMedia(*m); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := sess.Controller.Submit(context.Background(), "en", "fr"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := svc.Delete(context.Background(), sess.ID, "user-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	_, job := runner.last()
	select {
	case <-job.Done():
	default:
		t.Error("job was not canceled")
	}
	if _, ok := store.object(m.Key); ok {
		t.Error("media not deleted")
	}
}

func TestSweepExpiresIdleSessions(t *testing.T) {
	runner := &stubRunner{}
	svc := NewSessionService(runner, nil, nil, nil, time.Minute)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	idle := svc.Create("user-1")
	busy := svc.Create("user-1")
	if err := busy.Controller.SelectMedia(testMedia()); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := busy.Controller.Submit(context.Background(), "", ""); err != nil {
		t.Fatalf("submit: %v", err)
	}

	now = now.Add(30 * time.Second)
	if n := svc.Sweep(context.Background()); n != 0 {
		t.Fatalf("swept %d sessions before ttl", n)
	}

	now = now.Add(time.Minute)
	if n := svc.Sweep(context.Background()); n != 1 {
		t.Fatalf("swept %d sessions, want 1", n)
	}
	if _, err := svc.Get(idle.ID, ""); !errors.Is(err, ErrSessionNotFound) {
		t.Error("idle session survived sweep")
	}
	if _, err := svc.Get(busy.ID, ""); err != nil {
		t.Error("running session was swept")
	}
}

func TestSessionEventsReachHub(t *testing.T) {
	runner := &stubRunner{}
	hub := &recordingHub{}
	svc := NewSessionService(runner, nil, hub, nil, 0)

	sess := svc.Create("user-1")
	if err := sess.Controller.SelectMedia(testMedia()); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := sess.Controller.Submit(context.Background(), "", ""); err != nil {
		t.Fatalf("submit: %v", err)
	}

	l, job := runner.last()
	l.Progress(45)
	l.Progress(100)
	l.Complete(testMedia().URL)

	events := hub.snapshot()
	var progressAt45, complete *hubEvent
	for i := range events {
		e := &events[i]
		if e.sessionID != sess.ID {
			t.Fatalf("event for session %q, want %q", e.sessionID, sess.ID)
		}
		if e.kind == "progress" && e.progress == 45 {
			progressAt45 = e
		}
		if e.kind == "complete" {
			complete = e
		}
	}

	if progressAt45 == nil {
		t.Fatal("no progress event at 45")
	}
	if progressAt45.activePhase != 2 || progressAt45.step != "Translating" || progressAt45.jobID != job.ID() {
		t.Errorf("progress event = %+v", *progressAt45)
	}
	if complete == nil || complete.detail != testMedia().URL {
		t.Fatalf("complete event = %+v", complete)
	}

	last := events[len(events)-1]
	if last.kind != "complete" {
		t.Errorf("last event kind = %q, want complete", last.kind)
	}
}

func TestSessionFailureReachesHub(t *testing.T) {
	runner := &stubRunner{}
	hub := &recordingHub{}
	svc := NewSessionService(runner, nil, hub, nil, 0)

	sess := svc.Create("user-1")
	if err := sess.Controller.SelectMedia(testMedia()); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := sess.Controller.Submit(context.Background(), "", ""); err != nil {
		t.Fatalf("submit: %v", err)
	}

	l, _ := runner.last()
	l.Fail(errors.New("worker crashed"))

	events := hub.snapshot()
	last := events[len(events)-1]
	if last.kind != "error" || !strings.HasPrefix(last.detail, "JOB_FAILED") {
		t.Errorf("last event = %+v", last)
	}
}

func TestCloseReleasesAll(t *testing.T) {
	svc := NewSessionService(&stubRunner{}, nil, nil, nil, 0)
	svc.Create("user-1")
	svc.Create("user-1")

	svc.Close(context.Background())
	if svc.Len() != 0 {
		t.Errorf("len after close = %d", svc.Len())
	}
}
