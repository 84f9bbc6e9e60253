package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yungbote/slidestream-backend/internal/data/repos/jobs"
	types "github.com/yungbote/slidestream-backend/internal/domain"
	"github.com/yungbote/slidestream-backend/internal/jobs/runtime"
	"github.com/yungbote/slidestream-backend/internal/observability"
	"github.com/yungbote/slidestream-backend/internal/pkg/dbctx"
	"github.com/yungbote/slidestream-backend/internal/pkg/envutil"
	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
)

type Config struct {
	Concurrency  int
	PollInterval time.Duration
	RetryDelay   time.Duration
	StaleRunning time.Duration
	Heartbeat    time.Duration
}

// ConfigFromEnv reads WORKER_* variables.
func ConfigFromEnv() Config {
	return Config{
		Concurrency:  envutil.Int("WORKER_CONCURRENCY", 4),
		PollInterval: envutil.Duration("WORKER_POLL_INTERVAL", time.Second),
		RetryDelay:   envutil.Duration("WORKER_RETRY_DELAY", 30*time.Second),
		StaleRunning: envutil.Duration("WORKER_STALE_RUNNING", 10*time.Minute),
		Heartbeat:    envutil.Duration("WORKER_HEARTBEAT", 30*time.Second),
	}
}

func (c Config) normalized() Config {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.StaleRunning <= 0 {
		c.StaleRunning = 10 * time.Minute
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 30 * time.Second
	}
	return c
}

type Worker struct {
	log      *logger.Logger
	repo     jobs.JobRunRepo
	registry *runtime.Registry
	notify   runtime.Notifier
	metrics  *observability.Metrics
	cfg      Config
}

func NewWorker(baseLog *logger.Logger, repo jobs.JobRunRepo, registry *runtime.Registry, notify runtime.Notifier, metrics *observability.Metrics, cfg Config) *Worker {
	return &Worker{
		log:      baseLog.With("component", "JobWorker"),
		repo:     repo,
		registry: registry,
		notify:   notify,
		metrics:  metrics,
		cfg:      cfg.normalized(),
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.log.Info("Starting job worker pool", "concurrency", w.cfg.Concurrency)
	go w.sweepLoop(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		go w.runLoop(ctx, i+1)
	}
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			// Drain: keep claiming while work is available.
			for ctx.Err() == nil {
				ran, err := w.RunOnce(ctx)
				if err != nil {
					w.log.Warn("ClaimNextRunnable failed", "worker_id", workerID, "error", err)
					break
				}
				if !ran {
					break
				}
			}
		}
	}
}

// sweepLoop fails jobs stranded behind a dependency that failed for good.
func (w *Worker) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				w.log.Warn("dependency sweep failed", "error", err)
			}
		}
	}
}

func (w *Worker) Sweep(ctx context.Context) (int64, error) {
	n, err := w.repo.FailDependents(dbctx.Context{Ctx: ctx})
	if n > 0 {
		w.metrics.AddCascaded(n)
		w.log.Info("failed jobs behind failed dependencies", "count", n)
	}
	return n, err
}

// RunOnce claims at most one runnable job and executes it to completion.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.repo.ClaimNextRunnable(dbctx.Context{Ctx: ctx}, w.cfg.RetryDelay, w.cfg.StaleRunning)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.Execute(ctx, job)
	return true, nil
}

// RunByID claims one specific job if it is runnable and executes it. Dispatchers
// that drive a single job use it instead of polling.
func (w *Worker) RunByID(ctx context.Context, id uuid.UUID) (bool, error) {
	job, err := w.repo.ClaimByID(dbctx.Context{Ctx: ctx}, id, w.cfg.RetryDelay, w.cfg.StaleRunning)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.Execute(ctx, job)
	return true, nil
}

// Execute runs an already claimed job through its handler and records the outcome.
func (w *Worker) Execute(ctx context.Context, job *types.JobRun) {
	start := time.Now()
	spanCtx, span := observability.StartSpan(ctx, "job."+job.JobType,
		attribute.String("job.key", job.JobKey),
		attribute.Int("job.attempt", job.Attempts),
	)
	defer span.End()

	jc := runtime.NewContext(spanCtx, job, w.repo, w.notify)
	jobLog := w.log.With("job_id", job.ID, "job_key", job.JobKey, "job_type", job.JobType, "attempt", job.Attempts)

	h, ok := w.registry.Get(job.JobType)
	if !ok {
		jobLog.Warn("No handler registered for job_type")
		jc.Fail("dispatch", &missingHandlerError{JobType: job.JobType})
		w.metrics.ObserveJob(job.JobType, "missing_handler", time.Since(start))
		return
	}

	stopHeartbeat := w.heartbeat(spanCtx, job)
	runErr := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				jobLog.Error("Job handler panic", "panic", r)
				err = errFromRecover(r)
			}
		}()
		return h.Run(jc)
	}()
	stopHeartbeat()

	switch {
	case runErr != nil:
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		jobLog.Warn("job attempt failed", "error", runErr)
		jc.Fail("run", runErr)
		w.metrics.ObserveJob(job.JobType, "failed", time.Since(start))
	case !jc.Finished():
		jc.Succeed("done", nil)
		w.metrics.ObserveJob(job.JobType, "succeeded", time.Since(start))
	default:
		w.metrics.ObserveJob(job.JobType, job.Status, time.Since(start))
	}
}

func (w *Worker) heartbeat(ctx context.Context, job *types.JobRun) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(w.cfg.Heartbeat)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				if err := w.repo.Heartbeat(dbctx.Context{Ctx: ctx}, job.ID); err != nil {
					w.log.Debug("heartbeat failed", "job_id", job.ID, "error", err)
				}
			}
		}
	}()
	return func() { close(done) }
}

type missingHandlerError struct{ JobType string }

func (e *missingHandlerError) Error() string {
	return "no handler registered for job_type=" + e.JobType
}

func errFromRecover(v any) error { return &panicError{Val: v} }

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }
