// ABOUTME: Dependency health monitor for the daemon (signature set, Redis, NATS)
// ABOUTME: Probes run concurrently on an interval; a dependency turns unhealthy after N straight failures

package scanner

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultCheckInterval      = 30 * time.Second
	DefaultCheckTimeout       = 5 * time.Second
	DefaultUnhealthyThreshold = 3
)

// HealthCheckFunc returns nil when the dependency is usable.
type HealthCheckFunc func(ctx context.Context) error

// HealthCheckerConfig configures a HealthChecker. Zero values take the
// defaults above.
type HealthCheckerConfig struct {
	CheckInterval      time.Duration
	CheckTimeout       time.Duration
	UnhealthyThreshold int
	// Logger receives healthy/unhealthy transitions. Nil logs nothing.
	Logger *slog.Logger
}

// HealthStatus is the state of one dependency.
type HealthStatus struct {
	Name                string        `json:"name"`
	Healthy             bool          `json:"healthy"`
	LastCheckTime       time.Time     `json:"last_check_time,omitzero"`
	LastSuccessTime     time.Time     `json:"last_success_time,omitzero"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	TotalChecks         int64         `json:"total_checks"`
	TotalFailures       int64         `json:"total_failures"`
	AvgResponseTime     time.Duration `json:"avg_response_time"`
}

type probe struct {
	check   HealthCheckFunc
	status  HealthStatus
	elapsed time.Duration
}

// record folds one probe outcome into the status and reports whether
// Healthy flipped.
func (p *probe) record(err error, took time.Duration, threshold int) bool {
	s := &p.status
	was := s.Healthy
	now := time.Now().UTC()

	s.LastCheckTime = now
	s.TotalChecks++
	p.elapsed += took
	s.AvgResponseTime = p.elapsed / time.Duration(s.TotalChecks)

	if err == nil {
		s.Healthy = true
		s.ConsecutiveFailures = 0
		s.LastError = ""
		s.LastSuccessTime = now
	} else {
		s.TotalFailures++
		s.ConsecutiveFailures++
		s.LastError = err.Error()
		s.Healthy = s.ConsecutiveFailures < threshold
	}
	return was != s.Healthy
}

// HealthChecker tracks registered dependencies. It is safe for concurrent use.
type HealthChecker struct {
	config HealthCheckerConfig
	logger *slog.Logger

	mu     sync.RWMutex
	probes map[string]*probe

	loop   sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHealthChecker(config HealthCheckerConfig) *HealthChecker {
	config.CheckInterval = cmp.Or(max(config.CheckInterval, 0), DefaultCheckInterval)
	config.CheckTimeout = cmp.Or(max(config.CheckTimeout, 0), DefaultCheckTimeout)
	config.UnhealthyThreshold = cmp.Or(max(config.UnhealthyThreshold, 0), DefaultUnhealthyThreshold)

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &HealthChecker{
		config: config,
		logger: logger.With(slog.String("component", "health")),
		probes: make(map[string]*probe),
	}
}

// Register adds or replaces a dependency. It reports healthy until its
// first UnhealthyThreshold probes all fail.
func (hc *HealthChecker) Register(name string, check HealthCheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.probes[name] = &probe{check: check, status: HealthStatus{Name: name, Healthy: true}}
}

// Check probes one dependency under CheckTimeout and returns the probe error.
func (hc *HealthChecker) Check(ctx context.Context, name string) error {
	hc.mu.RLock()
	p, ok := hc.probes[name]
	hc.mu.RUnlock()
	if !ok {
		return fmt.Errorf("dependency %q not registered", name)
	}

	ctx, cancel := context.WithTimeout(ctx, hc.config.CheckTimeout)
	defer cancel()
	start := time.Now()
	err := p.check(ctx)
	took := time.Since(start)

	hc.mu.Lock()
	flipped := p.record(err, took, hc.config.UnhealthyThreshold)
	healthy := p.status.Healthy
	hc.mu.Unlock()

	if flipped {
		if healthy {
			hc.logger.Info("dependency recovered", slog.String("dependency", name))
		} else {
			hc.logger.Warn("dependency unhealthy", slog.String("dependency", name), slog.Any("error", err))
		}
	}
	return err
}

// CheckAll probes every dependency concurrently and returns each result.
func (hc *HealthChecker) CheckAll(ctx context.Context) map[string]error {
	hc.mu.RLock()
	names := slices.Collect(maps.Keys(hc.probes))
	hc.mu.RUnlock()

	errs := make([]error, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			errs[i] = hc.Check(ctx, name)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]error, len(names))
	for i, name := range names {
		out[name] = errs[i]
	}
	return out
}

// Healthy is true when no registered dependency is unhealthy.
func (hc *HealthChecker) Healthy() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	for _, p := range hc.probes {
		if !p.status.Healthy {
			return false
		}
	}
	return true
}

// Statuses returns a snapshot keyed by dependency name.
func (hc *HealthChecker) Statuses() map[string]HealthStatus {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	out := make(map[string]HealthStatus, len(hc.probes))
	for name, p := range hc.probes {
		out[name] = p.status
	}
	return out
}

// Start probes everything at once and then every CheckInterval. Calling
// Start while running does nothing.
func (hc *HealthChecker) Start(ctx context.Context) {
	hc.loop.Lock()
	defer hc.loop.Unlock()
	if hc.cancel != nil {
		return
	}
	ctx, hc.cancel = context.WithCancel(ctx)
	hc.done = make(chan struct{})

	go func(done chan<- struct{}) {
		defer close(done)
		ticker := time.NewTicker(hc.config.CheckInterval)
		defer ticker.Stop()
		for {
			hc.CheckAll(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}(hc.done)
}

// Stop ends the periodic loop and waits for an in-flight round.
func (hc *HealthChecker) Stop() {
	hc.loop.Lock()
	defer hc.loop.Unlock()
	if hc.cancel == nil {
		return
	}
	hc.cancel()
	<-hc.done
	hc.cancel, hc.done = nil, nil
}
