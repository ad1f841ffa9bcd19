// ABOUTME: Redis Streams scan worker: consumes tasks, scans content, records job state
// ABOUTME: Content arrives inline or as a gs:// object reference; completions go to a second stream

package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/hikmaai-io/hikmaai-lens/internal/amsi"
	"github.com/hikmaai-io/hikmaai-lens/internal/observability"
	"github.com/hikmaai-io/hikmaai-lens/internal/redis"
	"github.com/hikmaai-io/hikmaai-lens/internal/types"
)

// StreamWorkerConfig holds configuration for the stream worker.
type StreamWorkerConfig struct {
	// TaskStream is the stream tasks are read from.
	TaskStream string `toml:"task_stream"`

	// CompletionStream receives one entry per finished task.
	CompletionStream string `toml:"completion_stream"`

	ConsumerGroup string `toml:"consumer_group"`
	ConsumerName  string `toml:"consumer_name"`

	// Workers is the number of reading goroutines.
	Workers int `toml:"workers"`

	// MaxContentSize caps object downloads.
	MaxContentSize int64 `toml:"max_content_size"`

	DefaultTimeout time.Duration `toml:"default_timeout"`
	StateTTL       time.Duration `toml:"state_ttl"`
	Block          time.Duration `toml:"block"`
}

// Validate checks required fields and applies defaults.
func (c *StreamWorkerConfig) Validate() error {
	if c.TaskStream == "" {
		return errors.New("task_stream is required")
	}
	if c.ConsumerGroup == "" {
		return errors.New("consumer_group is required")
	}
	if c.ConsumerName == "" {
		return errors.New("consumer_name is required")
	}
	if c.CompletionStream == "" {
		c.CompletionStream = c.TaskStream + "_completions"
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.MaxContentSize <= 0 {
		c.MaxContentSize = 16 << 20
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.StateTTL <= 0 {
		c.StateTTL = 24 * time.Hour
	}
	if c.Block <= 0 {
		c.Block = 5 * time.Second
	}
	return nil
}

// ObjectOpener reads a stored object. *gcs.Client satisfies it.
type ObjectOpener interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// StreamTask is the JSON carried in a task entry's "data" field.
type StreamTask struct {
	JobID string `json:"job_id"`

	// Exactly one content source is required.
	Content   []byte  `json:"content,omitempty"`
	Text      *string `json:"text,omitempty"`
	ObjectURI string  `json:"object_uri,omitempty"`

	ContentName    string `json:"content_name,omitempty"`
	AppName        string `json:"app_name,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// Validate checks that the task names a job and one content source.
func (t *StreamTask) Validate() error {
	if t.JobID == "" {
		return errors.New("job_id is required")
	}
	sources := 0
	if t.Content != nil {
		sources++
	}
	if t.Text != nil {
		sources++
	}
	if t.ObjectURI != "" {
		sources++
	}
	if sources != 1 {
		return fmt.Errorf("exactly one of content, text or object_uri is required (got %d)", sources)
	}
	return nil
}

// ParseStreamTask decodes and validates a task payload.
func ParseStreamTask(data string) (*StreamTask, error) {
	if data == "" {
		return nil, errors.New("empty task data")
	}
	var task StreamTask
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return nil, fmt.Errorf("unmarshaling task: %w", err)
	}
	if err := task.Validate(); err != nil {
		return nil, fmt.Errorf("validating task: %w", err)
	}
	return &task, nil
}

// StreamCompletion is published for every finished task.
type StreamCompletion struct {
	JobID       string            `json:"job_id"`
	Status      types.JobStatus   `json:"status"`
	Result      *types.ScanResult `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
	CompletedAt time.Time         `json:"completed_at"`
}

// StreamWorker processes scan tasks from a Redis stream.
type StreamWorker struct {
	config   StreamWorkerConfig
	client   *redis.Client
	consumer *redis.StreamConsumer
	state    *redis.JobStateStore
	scanner  Scanner
	objects  ObjectOpener
	logger   *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewStreamWorker creates a stream worker. objects may be nil, in which
// case tasks with an object_uri fail.
func NewStreamWorker(cfg StreamWorkerConfig, client *redis.Client, scanner Scanner, objects ObjectOpener, logger *slog.Logger) (*StreamWorker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stream worker config: %w", err)
	}

	consumer, err := redis.NewStreamConsumer(client, redis.StreamConsumerConfig{
		Stream:   cfg.TaskStream,
		Group:    cfg.ConsumerGroup,
		Consumer: cfg.ConsumerName,
		Block:    cfg.Block,
	})
	if err != nil {
		return nil, fmt.Errorf("creating stream consumer: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &StreamWorker{
		config:   cfg,
		client:   client,
		consumer: consumer,
		state:    redis.NewJobStateStore(client, cfg.StateTTL),
		scanner:  scanner,
		objects:  objects,
		logger:   logger.With(slog.String("component", "stream_worker")),
		stopCh:   make(chan struct{}),
	}, nil
}

// State returns the job state store the worker writes to.
func (w *StreamWorker) State() *redis.JobStateStore {
	return w.state
}

// Start creates the consumer group and launches the readers.
func (w *StreamWorker) Start(ctx context.Context) error {
	if err := w.consumer.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("ensuring consumer group: %w", err)
	}

	w.logger.Info("stream worker starting",
		slog.String("stream", w.consumer.StreamKey()),
		slog.String("group", w.config.ConsumerGroup),
		slog.String("consumer", w.config.ConsumerName),
		slog.Int("workers", w.config.Workers),
	)

	for i := range w.config.Workers {
		w.wg.Add(1)
		go w.readLoop(ctx, i)
	}
	return nil
}

// Stop signals the readers and waits for in-flight tasks.
func (w *StreamWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	w.logger.Info("stream worker stopped")
}

func (w *StreamWorker) readLoop(ctx context.Context, id int) {
	defer w.wg.Done()
	logger := w.logger.With(slog.Int("reader", id))

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		messages, err := w.consumer.Read(ctx, 1)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("reading task stream", slog.Any("error", err))
			select {
			case <-w.stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range messages {
			w.handleMessage(ctx, logger, msg)
		}
	}
}

func (w *StreamWorker) handleMessage(ctx context.Context, logger *slog.Logger, msg redis.StreamMessage) {
	// Acknowledge first; a task that crashes the worker is not redelivered.
	if err := w.consumer.Ack(ctx, msg.ID); err != nil {
		logger.Error("acknowledging task", slog.String("msg_id", msg.ID), slog.Any("error", err))
	}

	task, err := ParseStreamTask(msg.Values["data"])
	if err != nil {
		logger.Warn("dropping invalid task", slog.String("msg_id", msg.ID), slog.Any("error", err))
		return
	}

	w.Process(ctx, task)
}

// Process runs one task to completion and publishes the outcome.
func (w *StreamWorker) Process(ctx context.Context, task *StreamTask) {
	ctx, span := observability.StartSpan(ctx, "scanner.StreamWorker.Process")
	defer span.End()

	timeout := w.config.DefaultTimeout
	if task.TimeoutSeconds > 0 {
		timeout = time.Duration(task.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := w.logger.With(slog.String("job_id", task.JobID))

	w.setState(ctx, logger, task.JobID, map[string]string{
		"status":     string(types.JobStatusRunning),
		"started_at": time.Now().UTC().Format(time.RFC3339),
	})

	content, err := w.loadContent(ctx, task)
	if err != nil {
		observability.RecordError(span, err)
		w.finish(ctx, logger, task.JobID, nil, err)
		return
	}

	result, err := w.scanner.Scan(ctx, types.ScanRequest{
		Content:     content,
		ContentName: task.ContentName,
		AppName:     task.AppName,
		Channel:     "redis-stream",
	})
	if err != nil {
		observability.RecordError(span, err)
		w.finish(ctx, logger, task.JobID, nil, err)
		return
	}

	w.finish(ctx, logger, task.JobID, &result, nil)
}

func (w *StreamWorker) loadContent(ctx context.Context, task *StreamTask) ([]byte, error) {
	switch {
	case task.Content != nil:
		return task.Content, nil
	case task.Text != nil:
		return amsi.EncodeUTF16LE(*task.Text)
	}

	if w.objects == nil {
		return nil, errors.New("object storage is not configured")
	}

	r, err := w.objects.Open(ctx, task.ObjectURI)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", task.ObjectURI, err)
	}
	defer r.Close()

	data, err := io.ReadAll(io.LimitReader(r, w.config.MaxContentSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", task.ObjectURI, err)
	}
	if int64(len(data)) > w.config.MaxContentSize {
		return nil, fmt.Errorf("object %s exceeds %d bytes", task.ObjectURI, w.config.MaxContentSize)
	}
	return data, nil
}

func (w *StreamWorker) finish(ctx context.Context, logger *slog.Logger, jobID string, result *types.ScanResult, scanErr error) {
	completion := StreamCompletion{
		JobID:       jobID,
		Status:      types.JobStatusCompleted,
		Result:      result,
		CompletedAt: time.Now().UTC(),
	}
	fields := map[string]string{
		"completed_at": completion.CompletedAt.Format(time.RFC3339),
	}

	if scanErr != nil {
		completion.Status = types.JobStatusFailed
		completion.Error = scanErr.Error()
		fields["error"] = scanErr.Error()
		logger.Warn("task failed", slog.Any("error", scanErr))
	} else {
		fields["verdict"] = result.Verdict.String()
		fields["strength"] = strconv.FormatUint(uint64(result.Strength), 10)
		fields["signature_name"] = result.SignatureName
		fields["content_hash"] = result.ContentHash
		fields["bytes_examined"] = strconv.Itoa(result.BytesExamined)
		fields["truncated"] = strconv.FormatBool(result.Truncated)
		logger.Info("task completed",
			slog.String("verdict", result.Verdict.String()),
			slog.String("signature", result.SignatureName),
		)
	}
	fields["status"] = string(completion.Status)

	// The task context may have timed out; state and completion still go out.
	outCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	w.setState(outCtx, logger, jobID, fields)

	data, err := json.Marshal(completion)
	if err != nil {
		logger.Error("marshaling completion", slog.Any("error", err))
		return
	}
	values := map[string]any{
		"job_id": jobID,
		"status": string(completion.Status),
		"data":   string(data),
	}
	if _, err := w.client.XAdd(outCtx, w.config.CompletionStream, 0, values); err != nil {
		logger.Error("publishing completion", slog.Any("error", err))
	}
}

func (w *StreamWorker) setState(ctx context.Context, logger *slog.Logger, jobID string, fields map[string]string) {
	if err := w.state.Set(ctx, jobID, fields); err != nil {
		logger.Error("updating job state", slog.Any("error", err))
	}
}
