// Package scheduler runs named maintenance jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"
)

// JobFunc is called when a scheduled job fires. ctx is cancelled when the
// scheduler stops.
type JobFunc func(ctx context.Context)

// Scheduler manages cron-based jobs keyed by name.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	jobs   map[string]cron.EntryID
	ctx    context.Context
	logger *slog.Logger
}

// New creates a new scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:   cron.New(),
		jobs:   make(map[string]cron.EntryID),
		ctx:    context.Background(),
		logger: logger,
	}
}

// Start begins the cron scheduler. Blocks until context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", s.JobCount())

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

// Add registers fn under name. The schedule is a standard 5-field cron
// expression or a descriptor such as "@every 10m". Names are unique.
func (s *Scheduler) Add(name, schedule string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("scheduler: job %q already registered", name)
	}

	id, err := s.cron.AddFunc(schedule, func() { s.run(name, fn) })
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q: %w", schedule, err)
	}

	s.jobs[name] = id
	s.logger.Info("job registered", "job", name, "schedule", schedule)
	return nil
}

func (s *Scheduler) run(name string, fn JobFunc) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked", "job", name, "panic", fmt.Sprintf("%v", r))
		}
	}()

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	s.logger.Debug("cron fired", "job", name)
	fn(ctx)
}

// Names returns the registered job names, sorted.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// JobCount returns the total number of scheduled jobs.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
