package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/igorsilveira/parley/pkg/telemetry"
)

// Job is a housekeeping task run on a fixed interval. Schedule accepts "@hourly",
// "@daily", "@every 5m" or a bare duration.
type Job struct {
	Name     string
	Schedule string
	Func     func(ctx context.Context) error
}

type Scheduler struct {
	mu     sync.Mutex
	jobs   []*entry
	tick   time.Duration
	logger *slog.Logger
}

type entry struct {
	job      Job
	interval time.Duration
	next     time.Time
	running  bool
	runs     int
}

// New returns a scheduler that checks for due jobs every tick (one second when zero).
func New(tick time.Duration, logger *slog.Logger) *Scheduler {
	if tick <= 0 {
		tick = time.Second
	}
	return &Scheduler{tick: tick, logger: telemetry.Component(logger, "scheduler")}
}

func (s *Scheduler) Add(job Job) error {
	interval, err := parseSchedule(job.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q: %w", job.Schedule, err)
	}
	if interval <= 0 {
		return fmt.Errorf("scheduler: schedule %q must be positive", job.Schedule)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &entry{
		job:      job,
		interval: interval,
		next:     time.Now().Add(interval),
	})
	return nil
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Runs reports how many times the named job has finished.
func (s *Scheduler) Runs(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.jobs {
		if e.job.Name == name {
			return e.runs
		}
	}
	return 0
}

// Start blocks until ctx is done. A job still running when it falls due again is
// skipped for that round.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("scheduler started", slog.Int("jobs", s.Len()))

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.runDue(ctx, now)
		}
	}
}

func (s *Scheduler) runDue(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.jobs {
		if now.Before(e.next) {
			continue
		}
		e.next = now.Add(e.interval)
		if e.running {
			s.logger.Warn("job still running, skipping", slog.String("job", e.job.Name))
			continue
		}
		e.running = true
		go s.run(ctx, e)
	}
}

func (s *Scheduler) run(ctx context.Context, e *entry) {
	err := e.job.Func(ctx)

	s.mu.Lock()
	e.running = false
	e.runs++
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("job failed",
			slog.String("job", e.job.Name),
			slog.String("err", err.Error()),
		)
		return
	}
	s.logger.Debug("job finished", slog.String("job", e.job.Name))
}

func parseSchedule(s string) (time.Duration, error) {
	switch s {
	case "@hourly":
		return time.Hour, nil
	case "@daily":
		return 24 * time.Hour, nil
	case "@weekly":
		return 7 * 24 * time.Hour, nil
	}
	if rest, ok := strings.CutPrefix(s, "@every "); ok {
		return time.ParseDuration(rest)
	}
	return time.ParseDuration(s)
}
