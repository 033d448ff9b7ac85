package service

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/videotranslator/api/internal/controller"
	"github.com/videotranslator/api/internal/model"
	"github.com/videotranslator/api/internal/progress"
)

var ErrSessionNotFound = errors.New("session not found")

// Broadcaster pushes session events to connected clients. Calls must not block.
type Broadcaster interface {
	BroadcastProgress(sessionID, jobID string, progress int, status model.JobStatus, step string, activePhase int)
	BroadcastComplete(sessionID, jobID, resultReference string)
	BroadcastError(sessionID, jobID, code, message string)
}

// Session is one translation workspace
type Session struct {
	ID         string
	OwnerID    string
	CreatedAt  time.Time
	Controller *controller.Controller

	lastSeen    atomic.Int64
	unsubscribe func()
}

func (s *Session) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

// LastSeen returns when the session was last accessed
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// SessionService owns the live sessions. Every session gets its own
// controller sharing one runner.
type SessionService struct {
	runner controller.Runner
	phases []progress.Phase
	hub    Broadcaster
	media  *MediaService
	ttl    time.Duration
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionService creates the registry. hub and media may be nil; ttl <= 0
// keeps sessions until deleted.
func NewSessionService(runner controller.Runner, phases []progress.Phase, hub Broadcaster, media *MediaService, ttl time.Duration) *SessionService {
	if phases == nil {
		phases = progress.DefaultPhases
	}
	return &SessionService{
		runner:   runner,
		phases:   phases,
		hub:      hub,
		media:    media,
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Create starts a new idle session owned by ownerID
func (s *SessionService) Create(ownerID string) *Session {
	now := s.now()
	sess := &Session{
		ID:         uuid.New().String(),
		OwnerID:    ownerID,
		CreatedAt:  now,
		Controller: controller.NewForOwner(s.runner, s.phases, ownerID),
	}
	sess.touch(now)
	if s.hub != nil {
		sess.unsubscribe = sess.Controller.Subscribe(s.forward(sess.ID))
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	log.Printf("Session %s created", sess.ID)
	return sess
}

// Get returns a session and marks it as used. Sessions of other owners are
// reported as missing; an empty ownerID matches any session.
func (s *SessionService) Get(id, ownerID string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok || (ownerID != "" && sess.OwnerID != ownerID) {
		return nil, ErrSessionNotFound
	}
	sess.touch(s.now())
	return sess, nil
}

// Delete cancels the session's job and discards its media
func (s *SessionService) Delete(ctx context.Context, id, ownerID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok || (ownerID != "" && sess.OwnerID != ownerID) {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	s.mu.Unlock()

	s.release(ctx, sess)
	log.Printf("Session %s deleted", id)
	return nil
}

// Len returns the number of live sessions
func (s *SessionService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep removes sessions idle for longer than the TTL and returns how many
// were removed. Sessions with a running job are kept.
func (s *SessionService) Sweep(ctx context.Context) int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.ttl)

	var expired []*Session
	s.mu.Lock()
	for id, sess := range s.sessions {
		if sess.LastSeen().Before(cutoff) && !sess.Controller.State().IsRunning {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		s.release(ctx, sess)
	}
	if len(expired) > 0 {
		log.Printf("Expired %d idle sessions", len(expired))
	}
	return len(expired)
}

// RunJanitor sweeps expired sessions every interval until ctx is done
func (s *SessionService) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Close releases every session
func (s *SessionService) Close(ctx context.Context) {
	s.mu.Lock()
	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, sess := range all {
		s.release(ctx, sess)
	}
}

func (s *SessionService) release(ctx context.Context, sess *Session) {
	if sess.unsubscribe != nil {
		sess.unsubscribe()
	}
	m := sess.Controller.Reset()

	if s.media != nil && m != nil {
		if err := s.media.Delete(ctx, m); err != nil {
			log.Printf("Failed to delete media of session %s: %v", sess.ID, err)
		}
	}
}

// forward translates controller state changes into hub events
func (s *SessionService) forward(sessionID string) func(controller.State) {
	return func(st controller.State) {
		view := progress.Present(st.Progress, s.phases)
		step := ""
		if st.IsRunning || st.Status == model.JobStatusCompleted {
			step = progress.StepName(st.Progress, s.phases)
		}
		s.hub.BroadcastProgress(sessionID, st.JobID, st.Progress, st.Status, step, view.Active)

		switch st.Status {
		case model.JobStatusCompleted:
			s.hub.BroadcastComplete(sessionID, st.JobID, st.ResultReference)
		case model.JobStatusFailed:
			msg := "translation failed"
			if st.Err != nil {
				msg = st.Err.Error()
			}
			s.hub.BroadcastError(sessionID, st.JobID, "JOB_FAILED", msg)
		}
	}
}
