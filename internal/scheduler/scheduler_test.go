package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"aggronation/internal/models"
	"aggronation/internal/orchestrator"
	"aggronation/internal/store"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls map[string]int
	block chan struct{}
	fired chan string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{calls: make(map[string]int), fired: make(chan string, 1024)}
}

func (r *fakeRunner) RunByID(_ context.Context, id string) (orchestrator.Outcome, error) {
	r.mu.Lock()
	r.calls[id]++
	block := r.block
	r.mu.Unlock()
	r.fired <- id
	if block != nil {
		<-block
	}
	return orchestrator.Outcome{SourceID: id, Status: orchestrator.StatusSuccess}, nil
}

func (r *fakeRunner) count(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[id]
}

type failingLister struct {
	mu    sync.Mutex
	fails int
	inner SourceLister
}

func (f *failingLister) LoadEnabledSources(ctx context.Context) ([]models.Source, error) {
	f.mu.Lock()
	if f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return nil, errors.New("database unavailable")
	}
	f.mu.Unlock()
	return f.inner.LoadEnabledSources(ctx)
}

func seed(t *testing.T, mem *store.Memory, name string, enabled bool) models.Source {
	t.Helper()
	src, err := mem.CreateSource(context.Background(), models.Source{
		Name: name, Type: models.SourceTypeFeed, URL: "https://example.com/" + name, Enabled: enabled,
		FetchIntervalMinutes: 5, MaxItemsPerCycle: 10, Priority: models.PriorityLow,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return src
}

func newTestScheduler(lister SourceLister, runner Runner, interval time.Duration, skip bool) *Scheduler {
	s := New(Config{Sources: lister, Runner: runner, SkipOverlapping: skip})
	s.intervalFor = func(models.Source) time.Duration { return interval }
	return s
}

func waitFired(t *testing.T, r *fakeRunner, id string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-r.fired:
			if got == id {
				return
			}
		case <-deadline:
			t.Fatalf("source %s was not fired", id)
		}
	}
}

func TestStartSchedulesOnlyEnabledAndFiresImmediately(t *testing.T) {
	mem := store.NewMemory()
	a := seed(t, mem, "a", true)
	b := seed(t, mem, "b", false)
	runner := newFakeRunner()
	s := newTestScheduler(mem, runner, time.Hour, false)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	waitFired(t, runner, a.ID)
	if !s.IsScheduled(a.ID) || s.IsScheduled(b.ID) {
		t.Fatalf("expected only a scheduled: %+v", s.Scheduled())
	}
	_ = s.Wait(context.Background())
	if runner.count(b.ID) != 0 {
		t.Fatalf("disabled source must never be fetched")
	}
	if runner.count(a.ID) != 1 {
		t.Fatalf("expected exactly one immediate fetch, got %d", runner.count(a.ID))
	}
}

func TestStartLoadFailureKeepsSchedulerStopped(t *testing.T) {
	mem := store.NewMemory()
	a := seed(t, mem, "a", true)
	lister := &failingLister{fails: 1, inner: mem}
	runner := newFakeRunner()
	s := newTestScheduler(lister, runner, time.Hour, false)

	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected start error")
	}
	if s.Running() || len(s.Scheduled()) != 0 {
		t.Fatalf("scheduler must stay stopped")
	}
	if err := s.ScheduleOne(a); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("retry start: %v", err)
	}
	defer s.Stop()
	waitFired(t, runner, a.ID)
}

func TestTimerFiresRepeatedly(t *testing.T) {
	mem := store.NewMemory()
	a := seed(t, mem, "a", true)
	runner := newFakeRunner()
	s := newTestScheduler(mem, runner, 15*time.Millisecond, false)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 3; i++ {
		waitFired(t, runner, a.ID)
	}
	s.Stop()
	_ = s.Wait(context.Background())

	after := runner.count(a.ID)
	time.Sleep(60 * time.Millisecond)
	if runner.count(a.ID) != after {
		t.Fatalf("timer fired after stop")
	}
	s.Stop()
}

func TestScheduleOneReplacesExistingTimer(t *testing.T) {
	mem := store.NewMemory()
	a := seed(t, mem, "a", true)
	runner := newFakeRunner()
	s := newTestScheduler(mem, runner, time.Hour, false)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	for i := 0; i < 3; i++ {
		if err := s.ScheduleOne(a); err != nil {
			t.Fatalf("schedule one: %v", err)
		}
	}
	if got := len(s.Scheduled()); got != 1 {
		t.Fatalf("expected a single timer, got %d", got)
	}

	a.Enabled = false
	if err := s.ScheduleOne(a); err != nil {
		t.Fatalf("schedule one: %v", err)
	}
	if s.IsScheduled(a.ID) {
		t.Fatalf("disabled source must be unscheduled")
	}
}

func TestRescheduleFollowsConfiguration(t *testing.T) {
	mem := store.NewMemory()
	a := seed(t, mem, "a", true)
	b := seed(t, mem, "b", false)
	runner := newFakeRunner()
	s := newTestScheduler(mem, runner, time.Hour, false)

	if err := s.Reschedule(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning before start, got %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	a.Enabled = false
	b.Enabled = true
	if _, err := mem.UpdateSource(context.Background(), a); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := mem.UpdateSource(context.Background(), b); err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := s.Reschedule(context.Background()); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if s.IsScheduled(a.ID) || !s.IsScheduled(b.ID) {
		t.Fatalf("unexpected timers after reschedule: %+v", s.Scheduled())
	}
}

func TestRescheduleLoadFailureKeepsTimers(t *testing.T) {
	mem := store.NewMemory()
	a := seed(t, mem, "a", true)
	lister := &failingLister{inner: mem}
	s := newTestScheduler(lister, newFakeRunner(), time.Hour, false)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	lister.mu.Lock()
	lister.fails = 1
	lister.mu.Unlock()
	if err := s.Reschedule(context.Background()); err == nil {
		t.Fatalf("expected reschedule error")
	}
	if !s.IsScheduled(a.ID) {
		t.Fatalf("existing timer must survive failed reschedule")
	}
}

func TestCancel(t *testing.T) {
	mem := store.NewMemory()
	a := seed(t, mem, "a", true)
	s := newTestScheduler(mem, newFakeRunner(), time.Hour, false)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	if !s.Cancel(a.ID) || s.Cancel(a.ID) {
		t.Fatalf("expected cancel to report once")
	}
	if s.IsScheduled(a.ID) {
		t.Fatalf("expected unscheduled after cancel")
	}
}

func TestOverlapAllowedByDefault(t *testing.T) {
	mem := store.NewMemory()
	a := seed(t, mem, "a", true)
	runner := newFakeRunner()
	runner.block = make(chan struct{})
	s := newTestScheduler(mem, runner, 10*time.Millisecond, false)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFired(t, runner, a.ID)
	waitFired(t, runner, a.ID)
	s.Stop()
	close(runner.block)
	_ = s.Wait(context.Background())

	if runner.count(a.ID) < 2 {
		t.Fatalf("expected overlapping cycles, got %d", runner.count(a.ID))
	}
}

func TestSkipOverlappingGuard(t *testing.T) {
	mem := store.NewMemory()
	a := seed(t, mem, "a", true)
	runner := newFakeRunner()
	runner.block = make(chan struct{})
	s := newTestScheduler(mem, runner, 10*time.Millisecond, true)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFired(t, runner, a.ID)
	time.Sleep(60 * time.Millisecond)

	if got := runner.count(a.ID); got != 1 {
		t.Fatalf("expected ticks to be skipped while in flight, got %d cycles", got)
	}
	states := s.Scheduled()
	if len(states) != 1 || states[0].InFlight != 1 {
		t.Fatalf("unexpected state %+v", states)
	}

	s.Stop()
	close(runner.block)
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestScheduledReportsNextRun(t *testing.T) {
	mem := store.NewMemory()
	a := seed(t, mem, "a", true)
	s := newTestScheduler(mem, newFakeRunner(), time.Hour, false)
	fixed := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	states := s.Scheduled()
	if len(states) != 1 || states[0].SourceID != a.ID || states[0].Interval != time.Hour {
		t.Fatalf("unexpected states %+v", states)
	}
	if !states[0].NextRun.Equal(fixed.Add(time.Hour)) {
		t.Fatalf("unexpected next run %v", states[0].NextRun)
	}
}

func TestDefaultIntervalClampsToMinimum(t *testing.T) {
	if got := defaultInterval(models.Source{FetchIntervalMinutes: 1}); got != 5*time.Minute {
		t.Fatalf("expected clamp to 5m, got %v", got)
	}
	if got := defaultInterval(models.Source{FetchIntervalMinutes: 30}); got != 30*time.Minute {
		t.Fatalf("expected 30m, got %v", got)
	}
}
