// Package simulator drives a fabricated translation job: progress advances by a
// fixed step on every tick until it reaches 100, and the job resolves with the
// playable reference of its source media.
package simulator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/videotranslator/api/internal/model"
)

const (
	DefaultInterval = 500 * time.Millisecond
	DefaultStep     = 5
)

// ErrNoSource is returned when a request carries no playable source reference.
var ErrNoSource = errors.New("request has no source media")

// Ticker is the tick source of a running job.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker returns a Ticker backed by time.Ticker.
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Config controls the cadence of simulated jobs.
type Config struct {
	Interval  time.Duration
	Step      int
	NewTicker func(time.Duration) Ticker
}

// Observer receives the events of one job. Callbacks run on the job's goroutine.
type Observer struct {
	OnProgress func(progress int)
	OnComplete func(result string)
}

// Simulator starts simulated translation jobs.
type Simulator struct {
	cfg Config
}

// New creates a simulator, filling unset config values with defaults.
func New(cfg Config) *Simulator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Step <= 0 {
		cfg.Step = DefaultStep
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = NewTimeTicker
	}
	return &Simulator{cfg: cfg}
}

// Submit starts a job in the running state at progress 0. The job stops when
// it completes, when Cancel is called on its handle, or when ctx is done.
func (s *Simulator) Submit(ctx context.Context, req model.TranslationRequest, obs Observer) (*Handle, error) {
	if req.Media.URL == "" {
		return nil, ErrNoSource
	}

	h := &Handle{
		id:     uuid.New().String(),
		req:    req,
		status: model.JobStatusRunning,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if obs.OnProgress != nil {
		h.progressSubs = append(h.progressSubs, obs.OnProgress)
	}
	if obs.OnComplete != nil {
		h.completeSubs = append(h.completeSubs, obs.OnComplete)
	}

	go h.run(ctx, s.cfg.NewTicker(s.cfg.Interval), s.cfg.Step)
	return h, nil
}

// Snapshot is a point-in-time view of a job.
type Snapshot struct {
	ID       string
	Status   model.JobStatus
	Progress int
	Result   string
}

// Handle is a running simulated job.
type Handle struct {
	id  string
	req model.TranslationRequest

	mu           sync.Mutex
	status       model.JobStatus
	progress     int
	result       string
	progressSubs []func(int)
	completeSubs []func(string)

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// ID returns the job identifier.
func (h *Handle) ID() string { return h.id }

// Done is closed once the job's goroutine has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the job stops or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnProgress adds a progress subscriber. It only sees later ticks.
func (h *Handle) OnProgress(fn func(progress int)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.progressSubs = append(h.progressSubs, fn)
}

// OnComplete adds a completion subscriber.
func (h *Handle) OnComplete(fn func(result string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.completeSubs = append(h.completeSubs, fn)
}

// Snapshot returns the current job state.
func (h *Handle) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Snapshot{ID: h.id, Status: h.status, Progress: h.progress, Result: h.result}
}

// Cancel stops a running job. A progress callback already dispatched for the
// current tick may still run; no later tick and no completion is delivered.
// It reports false when the job had already finished or has reached 100, in
// which case it completes normally.
func (h *Handle) Cancel() bool {
	h.mu.Lock()
	if h.status != model.JobStatusRunning || h.progress >= 100 {
		h.mu.Unlock()
		return false
	}
	h.status = model.JobStatusCanceled
	h.mu.Unlock()

	h.stopOnce.Do(func() { close(h.stop) })
	return true
}

func (h *Handle) running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status == model.JobStatusRunning
}

func (h *Handle) run(ctx context.Context, ticker Ticker, step int) {
	defer close(h.done)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ctx.Done():
			h.Cancel()
			return
		case <-ticker.C():
		}

		h.mu.Lock()
		if h.status != model.JobStatusRunning {
			h.mu.Unlock()
			return
		}
		h.progress = min(h.progress+step, 100)
		progress := h.progress
		subs := append([]func(int){}, h.progressSubs...)
		h.mu.Unlock()

		for _, fn := range subs {
			if !h.running() {
				return
			}
			fn(progress)
		}

		if progress < 100 {
			continue
		}

		h.mu.Lock()
		if h.status != model.JobStatusRunning {
			h.mu.Unlock()
			return
		}
		h.status = model.JobStatusCompleted
		h.result = h.req.Media.URL
		result := h.result
		completeSubs := append([]func(string){}, h.completeSubs...)
		h.mu.Unlock()

		for _, fn := range completeSubs {
			fn(result)
		}
		return
	}
}
