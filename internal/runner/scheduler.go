package runner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"newscast/internal/storage"
)

// CacheSweeper evicts expired entries from a cache. Satisfied by
// fetch.Fetcher for the extracted-page cache.
type CacheSweeper interface {
	SweepCache() int
}

// Scheduler periodically scans for due jobs and dispatches them without
// blocking the sweep.
type Scheduler struct {
	store   storage.Storage
	orch    *Orchestrator
	sweeper CacheSweeper
	log     *slog.Logger
	tick    time.Duration
	now     func() time.Time

	wg sync.WaitGroup
}

func NewScheduler(store storage.Storage, orch *Orchestrator, sweeper CacheSweeper, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store:   store,
		orch:    orch,
		sweeper: sweeper,
		log:     log,
		tick:    1 * time.Minute,
		now:     time.Now,
	}
}

// SetTickInterval overrides the default 1-minute sweep interval.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	s.tick = d
}

// Run starts the sweep loop, blocking until ctx is cancelled. In-flight job
// executions are awaited before returning.
func (s *Scheduler) Run(ctx context.Context) {
	s.sweep(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	if s.sweeper != nil {
		if dropped := s.sweeper.SweepCache(); dropped > 0 {
			s.log.Debug("swept page cache", "dropped", dropped)
		}
	}

	jobs, err := s.store.ListDueJobs(ctx, s.now().UTC())
	if err != nil {
		s.log.Error("list due jobs", "error", err)
		return
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}

		busy, err := s.store.HasNonTerminalRun(ctx, job.ID)
		if err != nil {
			s.log.Error("check in-progress runs", "job_id", job.ID, "error", err)
			continue
		}
		if busy {
			s.log.Debug("skipping due job", "job_id", job.ID, "reason", "run in progress")
			continue
		}

		s.log.Info("dispatching due job", "job_id", job.ID, "name", job.Name)
		s.wg.Add(1)
		job := job
		go func() {
			defer s.wg.Done()
			if err := s.orch.ExecuteJob(ctx, job); err != nil {
				s.log.Error("execute job", "job_id", job.ID, "error", err)
			}
		}()
	}
}
