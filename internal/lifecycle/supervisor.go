// Package lifecycle ties connection lifetime to application visibility so
// idle or backgrounded state never holds an open socket.
package lifecycle

import (
	"sync"
	"time"

	"marketsync/logger"
)

// AppState is the coarse process visibility state.
type AppState int

const (
	// Foreground means the application is active and streams should flow.
	Foreground AppState = iota
	// Background means the application is suspended; exchanges throttle
	// idle long-lived sockets, so everything must be closed.
	Background
)

func (s AppState) String() string {
	if s == Background {
		return "background"
	}
	return "foreground"
}

// Service is anything whose connections the supervisor force-closes on
// suspend and re-opens on resume.
type Service interface {
	Suspend()
	Resume()
}

// Resyncer is a consumer whose replicated state must be rebuilt from scratch
// after a resume; the gap accumulated while backgrounded is unbounded.
type Resyncer interface {
	ForceResync()
}

// Supervisor observes foreground/background transitions and drives the
// registered services accordingly. Permanent teardown via Close is
// idempotent.
type Supervisor struct {
	settle time.Duration
	log    *logger.Entry

	mu          sync.Mutex
	services    []Service
	resyncers   []Resyncer
	state       AppState
	settleTimer *time.Timer
	closed      bool
}

// NewSupervisor creates a supervisor. settle is the delay between a
// foreground transition and the actual reconnect, letting the platform's
// network stack come back before sockets are re-opened.
func NewSupervisor(settle time.Duration) *Supervisor {
	return &Supervisor{
		settle: settle,
		state:  Foreground,
		log:    logger.GetLogger().WithComponent("lifecycle_supervisor"),
	}
}

// Register adds a service whose connections the supervisor manages.
func (s *Supervisor) Register(service Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services = append(s.services, service)
}

// RegisterResyncer adds a consumer that must fully resync after resume.
func (s *Supervisor) RegisterResyncer(r Resyncer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resyncers = append(s.resyncers, r)
}

// Notify reports a visibility transition. Background suspends immediately;
// Foreground schedules a resume after the settle delay. A background
// transition during the settle window cancels the pending resume.
func (s *Supervisor) Notify(state AppState) {
	s.mu.Lock()
	if s.closed || state == s.state {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.cancelSettleLocked()

	switch state {
	case Background:
		services := append([]Service(nil), s.services...)
		s.mu.Unlock()
		s.log.Info("app backgrounded, closing connections")
		for _, service := range services {
			service.Suspend()
		}

	case Foreground:
		if s.settle <= 0 {
			s.mu.Unlock()
			s.resume()
			return
		}
		s.settleTimer = time.AfterFunc(s.settle, s.resume)
		s.mu.Unlock()
		s.log.WithFields(logger.Fields{"settle": s.settle.String()}).Info("app foregrounded, resume scheduled")
	}
}

// resume is the settle-timer callback.
func (s *Supervisor) resume() {
	s.mu.Lock()
	if s.closed || s.state != Foreground {
		s.mu.Unlock()
		return
	}
	s.settleTimer = nil
	services := append([]Service(nil), s.services...)
	resyncers := append([]Resyncer(nil), s.resyncers...)
	s.mu.Unlock()

	s.log.Info("resuming connections")
	for _, service := range services {
		service.Resume()
	}
	// Cached sequence state cannot be trusted across a suspend.
	for _, r := range resyncers {
		r.ForceResync()
	}
}

// Close permanently tears everything down. Closing twice is a no-op.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancelSettleLocked()
	services := append([]Service(nil), s.services...)
	s.mu.Unlock()

	for _, service := range services {
		service.Suspend()
	}
	s.log.Info("supervisor closed")
}

func (s *Supervisor) cancelSettleLocked() {
	if s.settleTimer != nil {
		s.settleTimer.Stop()
		s.settleTimer = nil
	}
}
