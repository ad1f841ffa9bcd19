// ABOUTME: Scheduler running each registered updater on its own interval
// ABOUTME: Retries failed refreshes under a BackoffConfig and records per-updater status

package dbupdater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hikmaai-io/hikmaai-lens/internal/observability"
)

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Logger *slog.Logger

	// Retry is the policy applied when an update run fails.
	Retry BackoffConfig

	// RunOnStart refreshes every updater as soon as Start is called.
	RunOnStart bool
}

type job struct {
	updater  Updater
	interval time.Duration
	kick     chan struct{}
}

// Scheduler owns the refresh loops of the registered updaters.
// An updater never runs concurrently with itself.
type Scheduler struct {
	config  SchedulerConfig
	logger  *slog.Logger
	tracker *StatusTracker

	mu     sync.Mutex
	jobs   map[string]*job
	cancel context.CancelFunc
	done   sync.WaitGroup
}

// NewScheduler returns a stopped scheduler with no updaters.
func NewScheduler(config SchedulerConfig) *Scheduler {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		config:  config,
		logger:  logger.With(slog.String("component", "update-scheduler")),
		tracker: NewStatusTracker(),
		jobs:    make(map[string]*job),
	}
}

// Register adds u. With interval <= 0 the updater only runs on Trigger.
// Updaters registered after Start are not scheduled until the next Start.
func (s *Scheduler) Register(u Updater, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := u.Name()
	s.jobs[name] = &job{updater: u, interval: interval, kick: make(chan struct{}, 1)}
	s.tracker.Register(name, u.GetVersionInfo(), u.IsReady())
}

// Start launches one loop per updater. It fails if already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return errors.New("update scheduler already running")
	}
	ctx, s.cancel = context.WithCancel(ctx)

	for name, j := range s.jobs {
		s.done.Add(1)
		go s.loop(ctx, name, j)
	}
	s.logger.Info("update scheduler started", slog.Int("updaters", len(s.jobs)))
	return nil
}

// Stop cancels in-flight runs and waits for every loop to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.done.Wait()
	s.logger.Info("update scheduler stopped")
}

// Running reports whether Start has been called without a matching Stop.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Trigger asks the named updater to run now. Triggers that arrive while a
// run is already pending collapse into that run.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("updater %q not registered", name)
	}

	select {
	case j.kick <- struct{}{}:
	default:
	}
	return nil
}

// Status returns a snapshot of every updater's status.
func (s *Scheduler) Status() map[string]*UpdaterStatus {
	return s.tracker.GetAll()
}

// UpdaterStatus returns one updater's status, or nil if it is unknown.
func (s *Scheduler) UpdaterStatus(name string) *UpdaterStatus {
	return s.tracker.Get(name)
}

func (s *Scheduler) loop(ctx context.Context, name string, j *job) {
	defer s.done.Done()
	logger := s.logger.With(slog.String("updater", name))

	// The interval counts from the end of the previous run, so a slow feed
	// never stacks runs back to back.
	var timer *time.Timer
	var due <-chan time.Time
	arm := func() {
		if j.interval <= 0 {
			return
		}
		if timer == nil {
			timer = time.NewTimer(j.interval)
		} else {
			timer.Reset(j.interval)
		}
		due = timer.C
		s.tracker.Scheduled(name, time.Now().Add(j.interval))
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	if s.config.RunOnStart {
		s.run(ctx, name, j.updater, logger)
	}
	arm()

	for {
		select {
		case <-ctx.Done():
			return
		case <-due:
		case <-j.kick:
			logger.Info("refresh requested")
			if timer != nil {
				timer.Stop()
			}
		}
		s.run(ctx, name, j.updater, logger)
		arm()
	}
}

// run performs one refresh, retrying until it succeeds, the policy gives up
// or ctx ends. Permanent failures are not retried.
func (s *Scheduler) run(ctx context.Context, name string, u Updater, logger *slog.Logger) {
	s.tracker.Started(name)
	retry := NewBackoff(s.config.Retry)

	for {
		result, err := u.Update(ctx)
		if err == nil && result != nil && result.Success {
			version := u.GetVersionInfo()
			s.tracker.Succeeded(name, time.Now(), version, u.IsReady())
			logger.Info("signature refresh finished",
				slog.String("result", result.String()),
				slog.String("active", version.String()),
			)
			return
		}

		msg := failureMessage(result, err)
		s.tracker.AttemptFailed(name, msg)
		logger.Warn("signature refresh failed",
			slog.String("error", msg),
			slog.Int("retry", retry.Attempts()),
		)

		if observability.IsPermanentError(err) {
			s.tracker.GaveUp(name)
			logger.Error("signature refresh cannot succeed on retry", slog.Any("error", err))
			return
		}

		delay, werr := retry.Wait(ctx)
		if werr != nil {
			s.tracker.GaveUp(name)
			if errors.Is(werr, ErrRetriesExhausted) {
				logger.Error("giving up on signature refresh", slog.Int("retries", retry.Attempts()))
			}
			return
		}
		logger.Debug("retrying signature refresh", slog.Duration("after", delay))
	}
}

func failureMessage(result *UpdateResult, err error) string {
	switch {
	case err != nil:
		return err.Error()
	case result != nil && result.Error != "":
		return result.Error
	default:
		return "update reported no success"
	}
}
