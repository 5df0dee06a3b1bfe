package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/eduai/schoolledger/internal/jobs"
	"github.com/eduai/schoolledger/internal/platform/httpx"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Worker runs ledger task handlers and, when cron entries are configured, the
// scheduler that enqueues them.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// TaskHandler binds a task type to its handler.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration enqueues Task on every tick of Spec (UTC).
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *slog.Logger
	Concurrency int
	Handlers    []TaskHandler
	Cron        []CronRegistration
}

// NewWorker registers handlers and cron entries. Entries with an empty spec are
// skipped so a blank cron variable disables a job.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency:     concurrency,
		Queues:          queueWeights,
		ShutdownTimeout: 20 * time.Second,
		ErrorHandler:    failureLogger(logger),
	})
	mux := asynq.NewServeMux()
	for _, th := range cfg.Handlers {
		if th.Type != "" && th.Handler != nil {
			mux.HandleFunc(th.Type, th.Handler)
		}
	}

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				continue
			}
			id, err := scheduler.Register(entry.Spec, entry.Task, entry.Options...)
			if err != nil {
				return nil, fmt.Errorf("jobs: schedule %s: %w", entry.Task.Type(), err)
			}
			logger.Info("scheduled job", slog.String("task", entry.Task.Type()), slog.String("cron", entry.Spec), slog.String("entry", id))
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: logger}, nil
}

func failureLogger(logger *slog.Logger) asynq.ErrorHandlerFunc {
	return func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		level := slog.LevelWarn
		if retried >= maxRetry || errors.Is(err, asynq.SkipRetry) {
			level = slog.LevelError
		}
		logger.Log(ctx, level, "job failed",
			slog.String("task", task.Type()),
			slog.Int("retried", retried),
			slog.Int("max_retry", maxRetry),
			slog.Any("error", err))
	}
}

// Run blocks until ctx is done or the server exits on its own.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("jobs: worker not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return fmt.Errorf("jobs: start scheduler: %w", err)
		}
		defer w.scheduler.Shutdown()
	}
	done := make(chan error, 1)
	go func() { done <- w.server.Run(w.mux) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}
	w.logger.Info("stopping worker")
	w.server.Shutdown()
	return ctx.Err()
}

// Client enqueues on-demand ledger tasks from the API process.
type Client struct {
	asynq *asynq.Client
}

func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	return &Client{asynq: asynq.NewClient(redisOpts)}, nil
}

// EnqueueGLIntegrity requests an on-demand integrity check.
func (c *Client) EnqueueGLIntegrity(ctx context.Context, institutionID string) (*asynq.TaskInfo, error) {
	task, err := NewGLIntegrityTask(institutionID)
	if err != nil {
		return nil, err
	}
	return c.asynq.EnqueueContext(ctx, task, asynq.MaxRetry(3), asynq.Timeout(10*time.Minute))
}

// EnqueueChartWarmup refreshes an institution's cached chart in the background.
func (c *Client) EnqueueChartWarmup(ctx context.Context, institutionID string) (*asynq.TaskInfo, error) {
	task, err := NewChartWarmupTask(institutionID)
	if err != nil {
		return nil, err
	}
	return c.asynq.EnqueueContext(ctx, task, asynq.MaxRetry(1), asynq.Unique(time.Minute))
}

func (c *Client) Close() error {
	return c.asynq.Close()
}

// Enqueuer submits on-demand ledger jobs.
type Enqueuer interface {
	EnqueueGLIntegrity(ctx context.Context, institutionID string) (*asynq.TaskInfo, error)
	EnqueueChartWarmup(ctx context.Context, institutionID string) (*asynq.TaskInfo, error)
}

// Handler serves /jobs: queue depth for operators and manual triggers.
type Handler struct {
	inspector *asynq.Inspector
	enqueuer  Enqueuer
	logger    *slog.Logger
}

func NewHandler(inspector *asynq.Inspector, enqueuer Enqueuer, logger *slog.Logger) *Handler {
	return &Handler{inspector: inspector, enqueuer: enqueuer, logger: logger}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
	r.Post("/gl-integrity", h.enqueue(TaskGLIntegrity, func(e Enqueuer) enqueueFunc { return e.EnqueueGLIntegrity }))
	r.Post("/chart-warmup", h.enqueue(TaskChartWarmup, func(e Enqueuer) enqueueFunc { return e.EnqueueChartWarmup }))
}

type enqueueFunc func(ctx context.Context, institutionID string) (*asynq.TaskInfo, error)

type enqueued struct {
	Task string `json:"task"`
	ID   string `json:"id"`
}

// enqueue submits taskType for ?institution=, or for every institution when
// the parameter is absent.
func (h *Handler) enqueue(taskType string, pick func(Enqueuer) enqueueFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.enqueuer == nil {
			httpx.Problem(w, http.StatusServiceUnavailable, "Jobs unavailable", "no queue client configured")
			return
		}
		info, err := pick(h.enqueuer)(r.Context(), r.URL.Query().Get("institution"))
		if err != nil {
			h.logger.Error("enqueue job", slog.String("task", taskType), slog.Any("error", err))
			httpx.Problem(w, http.StatusServiceUnavailable, "Jobs unavailable", "could not enqueue "+taskType)
			return
		}
		httpx.JSON(w, http.StatusAccepted, enqueued{Task: taskType, ID: info.ID})
	}
}

type queueHealth struct {
	Queue   string `json:"queue"`
	Pending int    `json:"pending"`
	Active  int    `json:"active"`
	Retry   int    `json:"retry"`
	Failed  int    `json:"failed"`
}

// health reports every ledger queue. A queue that has never received a task
// does not exist in redis yet and reads as empty.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	queues := make([]queueHealth, 0, len(queueWeights))
	for _, name := range []string{QueueCritical, QueueDefault, QueueMaintenance} {
		q, err := h.queue(name)
		if err != nil {
			h.logger.Warn("jobs health", slog.String("queue", name), slog.Any("error", err))
			httpx.Problem(w, http.StatusServiceUnavailable, "Jobs unavailable", "queue inspection failed")
			return
		}
		queues = append(queues, q)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"queues": queues})
}

func (h *Handler) queue(name string) (queueHealth, error) {
	q := queueHealth{Queue: name}
	if h.inspector == nil {
		return q, nil
	}
	info, err := h.inspector.GetQueueInfo(name)
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return q, nil
	}
	if err != nil {
		return q, err
	}
	q.Pending, q.Active, q.Retry, q.Failed = info.Pending, info.Active, info.Retry, info.FailedTotal
	return q, nil
}
