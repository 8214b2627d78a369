// Package scheduler owns one recurring timer per enabled source.
//
// Timers are independent: when a cycle is still running as the next tick
// fires, a second cycle starts anyway unless SkipOverlapping is set. Health
// and content writes from overlapping cycles are last-write-wins.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"aggronation/internal/metrics"
	"aggronation/internal/models"
	"aggronation/internal/orchestrator"
	"aggronation/pkg/logging"
)

var ErrNotRunning = errors.New("scheduler is not running")

// Runner executes one fetch cycle for a source id.
type Runner interface {
	RunByID(ctx context.Context, sourceID string) (orchestrator.Outcome, error)
}

// SourceLister loads the sources that should be scheduled.
type SourceLister interface {
	LoadEnabledSources(ctx context.Context) ([]models.Source, error)
}

type Config struct {
	Sources         SourceLister
	Runner          Runner
	Logger          logging.Logger
	Metrics         *metrics.Metrics
	SkipOverlapping bool
	LoadTimeout     time.Duration
}

// State describes one armed timer.
type State struct {
	SourceID   string        `json:"source_id"`
	SourceName string        `json:"source_name"`
	Interval   time.Duration `json:"interval"`
	NextRun    time.Time     `json:"next_run"`
	InFlight   int           `json:"in_flight"`
}

type Scheduler struct {
	sources         SourceLister
	runner          Runner
	logger          logging.Logger
	metrics         *metrics.Metrics
	skipOverlapping bool
	loadTimeout     time.Duration

	// intervalFor is replaced in tests to shorten intervals.
	intervalFor func(models.Source) time.Duration
	now         func() time.Time

	mu       sync.Mutex
	running  bool
	cycleCtx context.Context
	timers   map[string]*timer
	inflight map[string]int
	cycles   sync.WaitGroup
}

type timer struct {
	sourceID   string
	sourceName string
	interval   time.Duration
	nextRun    time.Time
	stop       chan struct{}
}

func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewDiscardLogger()
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 30 * time.Second
	}
	return &Scheduler{
		sources:         cfg.Sources,
		runner:          cfg.Runner,
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
		skipOverlapping: cfg.SkipOverlapping,
		loadTimeout:     cfg.LoadTimeout,
		intervalFor:     defaultInterval,
		now:             time.Now,
		timers:          make(map[string]*timer),
		inflight:        make(map[string]int),
	}
}

func defaultInterval(src models.Source) time.Duration {
	if src.FetchIntervalMinutes < models.MinFetchIntervalMinutes {
		return models.MinFetchIntervalMinutes * time.Minute
	}
	return src.Interval()
}

// Start loads every enabled source, arms one timer each and fires one cycle
// per source immediately. If the sources cannot be loaded the scheduler
// stays stopped and the error is returned; Start may be called again.
// Cycles run on a context detached from ctx's cancellation.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	sources, err := s.load(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Scheduler failed to load sources, staying stopped")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.cycleCtx = context.WithoutCancel(ctx)
	for _, src := range sources {
		s.installLocked(src, true)
	}
	s.reportLocked()

	s.logger.WithField("sources", len(sources)).Info("Scheduler started")
	return nil
}

// ScheduleOne (re)arms the timer for src, cancelling any existing timer for
// the same id first. A disabled source ends up unscheduled.
func (s *Scheduler) ScheduleOne(src models.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrNotRunning
	}
	s.cancelLocked(src.ID)
	if src.Enabled {
		s.installLocked(src, false)
	}
	s.reportLocked()
	return nil
}

// Reschedule cancels every timer and re-derives the set from the current
// source configuration. When loading fails the existing timers are kept.
func (s *Scheduler) Reschedule(ctx context.Context) error {
	if !s.Running() {
		return ErrNotRunning
	}

	sources, err := s.load(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Reschedule failed to load sources, keeping current timers")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrNotRunning
	}
	for id := range s.timers {
		s.cancelLocked(id)
	}
	for _, src := range sources {
		s.installLocked(src, false)
	}
	s.reportLocked()

	s.logger.WithField("sources", len(sources)).Info("Scheduler rescheduled")
	return nil
}

// Cancel disarms the timer for sourceID and reports whether one existed.
func (s *Scheduler) Cancel(sourceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.cancelLocked(sourceID)
	if ok {
		s.reportLocked()
	}
	return ok
}

// Stop cancels all timers. In-flight cycles keep running; use Wait to join
// them. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	for id := range s.timers {
		s.cancelLocked(id)
	}
	s.running = false
	s.reportLocked()
	s.logger.Info("Scheduler stopped")
}

// Wait blocks until every started cycle has finished or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.cycles.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) IsScheduled(sourceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[sourceID]
	return ok
}

// Scheduled returns the armed timers ordered by next run.
func (s *Scheduler) Scheduled() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]State, 0, len(s.timers))
	for _, t := range s.timers {
		out = append(out, State{
			SourceID:   t.sourceID,
			SourceName: t.sourceName,
			Interval:   t.interval,
			NextRun:    t.nextRun,
			InFlight:   s.inflight[t.sourceID],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextRun.Equal(out[j].NextRun) {
			return out[i].NextRun.Before(out[j].NextRun)
		}
		return out[i].SourceID < out[j].SourceID
	})
	return out
}

func (s *Scheduler) load(ctx context.Context) ([]models.Source, error) {
	loadCtx, cancel := context.WithTimeout(ctx, s.loadTimeout)
	defer cancel()
	sources, err := s.sources.LoadEnabledSources(loadCtx)
	if err != nil {
		return nil, fmt.Errorf("load enabled sources: %w", err)
	}
	enabled := sources[:0]
	for _, src := range sources {
		if src.Enabled {
			enabled = append(enabled, src)
		}
	}
	return enabled, nil
}

// installLocked must be called with s.mu held.
func (s *Scheduler) installLocked(src models.Source, fireNow bool) {
	interval := s.intervalFor(src)
	t := &timer{
		sourceID:   src.ID,
		sourceName: src.Name,
		interval:   interval,
		nextRun:    s.now().Add(interval),
		stop:       make(chan struct{}),
	}
	s.timers[src.ID] = t
	go s.loop(t, fireNow)

	s.logger.WithFields(logging.Fields{
		"source_id": src.ID,
		"interval":  interval.String(),
	}).Debug("Source scheduled")
}

// cancelLocked must be called with s.mu held.
func (s *Scheduler) cancelLocked(sourceID string) bool {
	t, ok := s.timers[sourceID]
	if !ok {
		return false
	}
	close(t.stop)
	delete(s.timers, sourceID)
	return true
}

func (s *Scheduler) reportLocked() {
	s.metrics.SetScheduled(len(s.timers))
}

func (s *Scheduler) loop(t *timer, fireNow bool) {
	if fireNow {
		s.fire(t)
	}
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.fire(t)
		case <-t.stop:
			return
		}
	}
}

// fire starts one cycle without waiting for it.
func (s *Scheduler) fire(t *timer) {
	s.mu.Lock()
	if s.timers[t.sourceID] != t {
		// Cancelled or replaced after the tick was taken.
		s.mu.Unlock()
		return
	}
	t.nextRun = s.now().Add(t.interval)
	if s.skipOverlapping && s.inflight[t.sourceID] > 0 {
		s.mu.Unlock()
		s.logger.WithField("source_id", t.sourceID).Debug("Previous cycle still running, skipping tick")
		return
	}
	s.inflight[t.sourceID]++
	ctx := s.cycleCtx
	s.cycles.Add(1)
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			if s.inflight[t.sourceID]--; s.inflight[t.sourceID] <= 0 {
				delete(s.inflight, t.sourceID)
			}
			s.mu.Unlock()
			s.cycles.Done()
		}()

		if _, err := s.runner.RunByID(ctx, t.sourceID); err != nil {
			s.logger.WithError(err).WithField("source_id", t.sourceID).Warn("Scheduled cycle could not load source")
		}
	}()
}
