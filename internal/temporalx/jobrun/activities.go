package jobrun

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/yungbote/slidestream-backend/internal/data/repos/jobs"
	types "github.com/yungbote/slidestream-backend/internal/domain"
	"github.com/yungbote/slidestream-backend/internal/pkg/dbctx"
	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
)

// Runner executes a claimed job; *worker.Worker satisfies it.
type Runner interface {
	RunByID(ctx context.Context, id uuid.UUID) (bool, error)
}

type Activities struct {
	Log    *logger.Logger
	Jobs   jobs.JobRunRepo
	Runner Runner
}

func (a *Activities) Tick(ctx context.Context, jobKey string) (TickResult, error) {
	res := TickResult{JobKey: jobKey}
	if a == nil || a.Jobs == nil || a.Runner == nil {
		return res, fmt.Errorf("jobrun: activity not configured")
	}
	job, err := a.load(ctx, jobKey)
	if err != nil {
		return res, err
	}
	if !job.Terminal() {
		if _, err := a.Jobs.FailDependents(dbctx.Context{Ctx: ctx}); err != nil {
			a.Log.Warn("dependency sweep failed", "job_key", jobKey, "error", err)
		}
		stop := heartbeat(ctx)
		res.Ran, err = a.Runner.RunByID(ctx, job.ID)
		stop()
		if err != nil {
			return res, err
		}
		if job, err = a.load(ctx, jobKey); err != nil {
			return res, err
		}
	}
	res.Status = job.Status
	res.Stage = job.Stage
	res.Attempts = job.Attempts
	res.Terminal = job.Terminal()
	res.Error = job.Error
	return res, nil
}

func (a *Activities) load(ctx context.Context, jobKey string) (*types.JobRun, error) {
	rows, err := a.Jobs.GetByKeys(dbctx.Context{Ctx: ctx}, []string{jobKey})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0] == nil {
		return nil, fmt.Errorf("jobrun: job %s not found", jobKey)
	}
	return rows[0], nil
}

func heartbeat(ctx context.Context) func() {
	if !activity.IsActivity(ctx) {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(10 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}
