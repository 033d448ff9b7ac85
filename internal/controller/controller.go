// Package controller owns the translation state of one user workspace: the
// selected media, the single current job and its observable progress.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/videotranslator/api/internal/media"
	"github.com/videotranslator/api/internal/model"
	"github.com/videotranslator/api/internal/progress"
)

const (
	DefaultSourceLanguage = "en"
	DefaultTargetLanguage = "es"
)

var (
	ErrNoMedia        = errors.New("no media selected")
	ErrAlreadyRunning = errors.New("translation already running")
	ErrNotRunning     = errors.New("no running translation")
	ErrJobFailed      = errors.New("translation job failed")
)

// Listener receives the events of one job.
type Listener struct {
	Progress func(progress int)
	Complete func(result string)
	Fail     func(err error)
}

// Job is a started translation job.
type Job interface {
	ID() string
	Cancel() bool
	Done() <-chan struct{}
}

// Runner starts translation jobs. Listener callbacks must be delivered from a
// single goroutine per job and never synchronously from Run.
type Runner interface {
	Run(ctx context.Context, req model.TranslationRequest, l Listener) (Job, error)
}

// State is the observable translation state.
type State struct {
	JobID           string
	Status          model.JobStatus
	IsRunning       bool
	Progress        int
	Media           *model.MediaSource
	SourceLanguage  string
	TargetLanguage  string
	ResultReference string
	Err             error
}

// Controller enforces at most one running job. Submitting while a job runs is
// rejected; selecting new media cancels the running job and clears the result.
type Controller struct {
	runner Runner
	phases []progress.Phase
	owner  string

	mu      sync.Mutex
	media   *model.MediaSource
	job     Job
	gen     uint64
	state   State
	subs    map[int]func(State)
	nextSub int
}

// New creates an idle controller.
func New(runner Runner, phases []progress.Phase) *Controller {
	return NewForOwner(runner, phases, "")
}

// NewForOwner creates an idle controller whose jobs are tagged with ownerID.
func NewForOwner(runner Runner, phases []progress.Phase, ownerID string) *Controller {
	if phases == nil {
		phases = progress.DefaultPhases
	}
	return &Controller{
		runner: runner,
		phases: phases,
		owner:  ownerID,
		state:  idleState(nil, DefaultSourceLanguage, DefaultTargetLanguage),
		subs:   make(map[int]func(State)),
	}
}

func idleState(m *model.MediaSource, source, target string) State {
	return State{
		Status:         model.JobStatusIdle,
		Media:          m,
		SourceLanguage: source,
		TargetLanguage: target,
	}
}

// CanSubmit reports whether media is selected and no job is running.
func (c *Controller) CanSubmit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.media != nil && !c.state.IsRunning
}

// State returns a snapshot of the observable state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Phases returns the display phases of this controller.
func (c *Controller) Phases() []progress.Phase {
	return c.phases
}

// Presentation maps the current progress onto the display phases.
func (c *Controller) Presentation() progress.View {
	return progress.Present(c.State().Progress, c.phases)
}

// Subscribe registers fn for every state change. fn runs while the controller
// is locked, so it must not call back into the controller.
func (c *Controller) Subscribe(fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// SelectMedia makes m the current source. A running job is canceled and any
// previous result is cleared. Non-video media is rejected and leaves the state
// untouched.
func (c *Controller) SelectMedia(m model.MediaSource) error {
	_, err := c.ReplaceMedia(m)
	return err
}

// ReplaceMedia is SelectMedia that also returns the media it replaced, so the
// caller can release it exactly once.
func (c *Controller) ReplaceMedia(m model.MediaSource) (*model.MediaSource, error) {
	if !media.IsVideo(m.ContentType) {
		return nil, fmt.Errorf("%w: %q", media.ErrInvalidMediaType, m.ContentType)
	}

	c.mu.Lock()
	old := c.detachLocked()
	previous := c.media
	c.media = &m
	c.setLocked(idleState(c.media, c.state.SourceLanguage, c.state.TargetLanguage))
	c.mu.Unlock()

	if old != nil {
		old.Cancel()
	}
	return previous, nil
}

// Submit starts a translation of the selected media. Empty language codes keep
// the previous selection. When CanSubmit is false nothing changes and
// ErrNoMedia or ErrAlreadyRunning is returned.
//
// The job slot is claimed before the runner is called and the lock is not held
// while the runner starts the job, so a slow runner never blocks readers. If
// the slot is taken over meanwhile (new media, Cancel, Reset) the started job
// is canceled.
func (c *Controller) Submit(ctx context.Context, sourceLanguage, targetLanguage string) error {
	c.mu.Lock()
	if c.media == nil {
		c.mu.Unlock()
		return ErrNoMedia
	}
	if c.state.IsRunning {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}

	if sourceLanguage == "" {
		sourceLanguage = c.state.SourceLanguage
	}
	if targetLanguage == "" {
		targetLanguage = c.state.TargetLanguage
	}

	req := model.TranslationRequest{
		Media:          *c.media,
		SourceLanguage: sourceLanguage,
		TargetLanguage: targetLanguage,
		OwnerID:        c.owner,
	}

	// Subscribers are told once the job is installed; until then readers see
	// the claimed running state.
	prev := c.state
	c.gen++
	gen := c.gen
	c.state = State{
		Status:         model.JobStatusRunning,
		IsRunning:      true,
		Media:          c.media,
		SourceLanguage: sourceLanguage,
		TargetLanguage: targetLanguage,
	}
	c.mu.Unlock()

	job, err := c.runner.Run(context.WithoutCancel(ctx), req, Listener{
		Progress: func(p int) { c.onProgress(gen, p) },
		Complete: func(result string) { c.onComplete(gen, result) },
		Fail:     func(err error) { c.onFail(gen, err) },
	})

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if job != nil {
			job.Cancel()
		}
		if err != nil {
			return fmt.Errorf("start translation: %w", err)
		}
		return nil
	}
	if err != nil {
		c.gen++
		c.state = prev
		c.mu.Unlock()
		return fmt.Errorf("start translation: %w", err)
	}

	// Callbacks may already have finished the job.
	if c.state.IsRunning {
		c.job = job
	}
	next := c.state
	next.JobID = job.ID()
	c.setLocked(next)
	c.mu.Unlock()
	return nil
}

// Cancel stops the running job.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	if !c.state.IsRunning {
		c.mu.Unlock()
		return ErrNotRunning
	}
	old := c.detachLocked()
	next := c.state
	next.Status = model.JobStatusCanceled
	next.IsRunning = false
	c.setLocked(next)
	c.mu.Unlock()

	if old != nil {
		old.Cancel()
	}
	return nil
}

// Reset cancels any running job and forgets the media and result. It returns
// the media that was selected.
func (c *Controller) Reset() *model.MediaSource {
	c.mu.Lock()
	old := c.detachLocked()
	previous := c.media
	c.media = nil
	c.setLocked(idleState(nil, c.state.SourceLanguage, c.state.TargetLanguage))
	c.mu.Unlock()

	if old != nil {
		old.Cancel()
	}
	return previous
}

// detachLocked invalidates callbacks of the current job and returns it.
func (c *Controller) detachLocked() Job {
	c.gen++
	old := c.job
	c.job = nil
	return old
}

func (c *Controller) setLocked(s State) {
	c.state = s
	for _, fn := range c.subs {
		fn(s)
	}
}

func (c *Controller) current(gen uint64) bool {
	return gen == c.gen && c.state.IsRunning
}

func (c *Controller) onProgress(gen uint64, p int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 100 is published by completion so that progress 100 implies Completed.
	if !c.current(gen) || p <= c.state.Progress || p >= 100 {
		return
	}
	next := c.state
	next.Progress = p
	c.setLocked(next)
}

func (c *Controller) onComplete(gen uint64, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.current(gen) {
		return
	}
	c.job = nil
	next := c.state
	next.Status = model.JobStatusCompleted
	next.IsRunning = false
	next.Progress = 100
	next.ResultReference = result
	c.setLocked(next)
}

func (c *Controller) onFail(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.current(gen) {
		return
	}
	c.job = nil
	next := c.state
	next.Status = model.JobStatusFailed
	next.IsRunning = false
	next.Err = fmt.Errorf("%w: %v", ErrJobFailed, err)
	c.setLocked(next)
}
