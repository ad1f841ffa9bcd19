// ABOUTME: Background worker pool for async scan jobs submitted over HTTP
// ABOUTME: Persists job state transitions in the JobStore while workers run engine scans

package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hikmaai-io/hikmaai-lens/internal/observability"
	"github.com/hikmaai-io/hikmaai-lens/internal/types"
)

// Worker errors.
var (
	ErrQueueFull     = errors.New("job queue full")
	ErrWorkerStopped = errors.New("worker stopped")
)

// Scanner classifies one request. *engine.Engine satisfies it.
type Scanner interface {
	Scan(ctx context.Context, req types.ScanRequest) (types.ScanResult, error)
}

// JobStore persists job transitions. *engine.JobStore satisfies it.
type JobStore interface {
	Create(ctx context.Context, job *types.Job) error
	Update(ctx context.Context, job *types.Job) error
	GetByContentHash(ctx context.Context, hash string) (*types.Job, error)
}

// JobMeta describes a submission.
type JobMeta struct {
	ContentName string
	AppName     string
}

// WorkerConfig holds configuration for the scan worker.
type WorkerConfig struct {
	Scanner  Scanner
	JobStore JobStore

	// Concurrency is the number of scanning goroutines. Zero means 2.
	Concurrency int

	// QueueSize bounds jobs waiting for a worker. Zero means 100.
	QueueSize int

	Metrics *observability.ScanMetrics
	Logger  *slog.Logger
	Audit   *observability.AuditLogger
}

// WorkerStats is a point-in-time view of the pool.
type WorkerStats struct {
	Concurrency   int   `json:"concurrency"`
	QueueDepth    int   `json:"queue_depth"`
	QueueCapacity int   `json:"queue_capacity"`
	Processed     int64 `json:"processed"`
	Failed        int64 `json:"failed"`
}

// Worker processes scan jobs asynchronously.
type Worker struct {
	config WorkerConfig
	logger *slog.Logger

	jobQueue chan *queuedJob
	stopCh   chan struct{}
	wg       sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	processed atomic.Int64
	failed    atomic.Int64
}

// queuedJob carries the content, which is never persisted.
type queuedJob struct {
	job     *types.Job
	content []byte
}

// NewWorker creates a new scan worker.
func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Audit == nil {
		cfg.Audit = observability.NewAuditLogger(cfg.Logger)
	}

	return &Worker{
		config:   cfg,
		logger:   cfg.Logger.With(slog.String("component", "worker")),
		jobQueue: make(chan *queuedJob, cfg.QueueSize),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the scanning goroutines. ctx bounds every job's scan.
func (w *Worker) Start(ctx context.Context) {
	for range w.config.Concurrency {
		w.wg.Add(1)
		go w.workerLoop(ctx)
	}
}

// Stop waits for running jobs, then fails every job still queued.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()

	for {
		select {
		case q := <-w.jobQueue:
			w.fail(context.Background(), q.job, ErrWorkerStopped.Error())
		default:
			w.updateQueueDepth()
			return
		}
	}
}

// Submit stores a pending job for content and queues it.
// A pending or running job for identical content is returned instead of a new one.
func (w *Worker) Submit(ctx context.Context, content []byte, meta JobMeta) (*types.Job, error) {
	if content == nil {
		return nil, observability.InvalidArgument("worker.submit", errors.New("content is nil"))
	}

	hash := types.ContentHash(content)
	existing, err := w.config.JobStore.GetByContentHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("looking up job by content: %w", err)
	}
	if existing != nil && !existing.Status.IsTerminal() {
		return existing, nil
	}

	job := types.NewJob(hash, types.ScanRequest{
		Content:     content,
		ContentName: meta.ContentName,
		AppName:     meta.AppName,
	})

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return nil, ErrWorkerStopped
	}

	if err := w.config.JobStore.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	w.config.Audit.LogScanRequest(ctx, job.ID, hash, job.ContentSize)

	select {
	case w.jobQueue <- &queuedJob{job: job, content: content}:
		w.updateQueueDepth()
		return job, nil
	default:
		w.fail(ctx, job, ErrQueueFull.Error())
		return nil, ErrQueueFull
	}
}

// Stats returns the pool's counters.
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Concurrency:   w.config.Concurrency,
		QueueDepth:    len(w.jobQueue),
		QueueCapacity: cap(w.jobQueue),
		Processed:     w.processed.Load(),
		Failed:        w.failed.Load(),
	}
}

func (w *Worker) workerLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case q := <-w.jobQueue:
			w.updateQueueDepth()
			if err := w.process(ctx, q); err != nil {
				observability.LogWithContext(ctx, w.logger, slog.LevelError, "processing job",
					slog.String("job_id", q.job.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// process runs one job to a terminal state.
func (w *Worker) process(ctx context.Context, q *queuedJob) error {
	job := q.job
	if err := job.Start(); err != nil {
		return fmt.Errorf("starting job: %w", err)
	}
	if err := w.config.JobStore.Update(ctx, job); err != nil {
		// A job left pending in the store would capture its content hash.
		w.fail(ctx, job, "recording job start: "+err.Error())
		return fmt.Errorf("updating job status: %w", err)
	}

	result, err := w.config.Scanner.Scan(ctx, types.ScanRequest{
		Content:     q.content,
		ContentName: job.ContentName,
		AppName:     job.AppName,
		Channel:     "async",
	})
	if err != nil {
		w.fail(ctx, job, err.Error())
		return nil
	}

	if err := job.Complete(&result); err != nil {
		return fmt.Errorf("completing job: %w", err)
	}
	if err := w.config.JobStore.Update(ctx, job); err != nil {
		return fmt.Errorf("storing completed job: %w", err)
	}
	w.processed.Add(1)

	w.logger.Debug("job completed",
		slog.String("job_id", job.ID),
		slog.String("verdict", result.Verdict.String()),
	)
	return nil
}

func (w *Worker) fail(ctx context.Context, job *types.Job, msg string) {
	w.failed.Add(1)
	if err := job.Fail(msg); err != nil {
		return
	}
	if err := w.config.JobStore.Update(ctx, job); err != nil {
		observability.LogWithContext(ctx, w.logger, slog.LevelError, "storing failed job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (w *Worker) updateQueueDepth() {
	if w.config.Metrics != nil {
		w.config.Metrics.SetQueueDepth(int64(len(w.jobQueue)))
	}
}
