package lifecycle

import (
	"sync"
	"testing"
	"time"
)

type recordingService struct {
	mu       sync.Mutex
	suspends int
	resumes  int
}

func (r *recordingService) Suspend() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suspends++
}

func (r *recordingService) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resumes++
}

func (r *recordingService) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.suspends, r.resumes
}

type recordingResyncer struct {
	mu    sync.Mutex
	calls int
}

func (r *recordingResyncer) ForceResync() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
}

func (r *recordingResyncer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBackgroundSuspendsImmediately(t *testing.T) {
	service := &recordingService{}
	s := NewSupervisor(10 * time.Millisecond)
	s.Register(service)

	s.Notify(Background)
	if suspends, _ := service.counts(); suspends != 1 {
		t.Fatalf("expected 1 suspend, got %d", suspends)
	}
}

func TestForegroundResumesAfterSettleAndForcesResync(t *testing.T) {
	service := &recordingService{}
	resyncer := &recordingResyncer{}
	s := NewSupervisor(10 * time.Millisecond)
	s.Register(service)
	s.RegisterResyncer(resyncer)

	s.Notify(Background)
	s.Notify(Foreground)

	if _, resumes := service.counts(); resumes != 0 {
		t.Fatal("resume must wait for the settle delay")
	}

	waitFor(t, "resume", func() bool { _, resumes := service.counts(); return resumes == 1 })
	waitFor(t, "forced resync", func() bool { return resyncer.count() == 1 })
}

func TestBackgroundDuringSettleCancelsResume(t *testing.T) {
	service := &recordingService{}
	s := NewSupervisor(30 * time.Millisecond)
	s.Register(service)

	s.Notify(Background)
	s.Notify(Foreground)
	s.Notify(Background)

	time.Sleep(60 * time.Millisecond)
	suspends, resumes := service.counts()
	if resumes != 0 {
		t.Fatalf("pending resume must be cancelled, got %d resumes", resumes)
	}
	if suspends != 2 {
		t.Fatalf("expected 2 suspends, got %d", suspends)
	}
}

func TestDuplicateNotifyIsIgnored(t *testing.T) {
	service := &recordingService{}
	s := NewSupervisor(0)
	s.Register(service)

	s.Notify(Background)
	s.Notify(Background)
	if suspends, _ := service.counts(); suspends != 1 {
		t.Fatalf("expected 1 suspend for duplicate notify, got %d", suspends)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	service := &recordingService{}
	s := NewSupervisor(10 * time.Millisecond)
	s.Register(service)

	s.Close()
	s.Close()
	if suspends, _ := service.counts(); suspends != 1 {
		t.Fatalf("expected 1 suspend from close, got %d", suspends)
	}

	// Notifications after close must be no-ops.
	s.Notify(Background)
	s.Notify(Foreground)
	time.Sleep(30 * time.Millisecond)
	suspends, resumes := service.counts()
	if suspends != 1 || resumes != 0 {
		t.Fatalf("supervisor acted after close: suspends=%d resumes=%d", suspends, resumes)
	}
}
