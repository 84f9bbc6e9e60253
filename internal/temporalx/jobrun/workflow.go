package jobrun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/workflow"

	jobstatus "github.com/yungbote/slidestream-backend/internal/domain/jobs"
)

const (
	pollInterval         = 2 * time.Second
	continueTickLimit    = 500
	continueHistoryLimit = 10000
)

// Workflow drives one job_run row until it is terminal. The job table stays the
// source of truth; each tick claims the row when its dependency allows it and
// runs the registered handler.
func Workflow(ctx workflow.Context, jobKey string) error {
	jobKey = strings.TrimSpace(jobKey)
	if jobKey == "" {
		return fmt.Errorf("jobrun: missing job key")
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		HeartbeatTimeout:    time.Minute,
	})

	for tick := 1; ; tick++ {
		var out TickResult
		if err := workflow.ExecuteActivity(ctx, ActivityTick, jobKey).Get(ctx, &out); err != nil {
			return err
		}
		if out.Terminal {
			if out.Status == jobstatus.StatusFailed {
				return fmt.Errorf("job %s failed (stage=%s): %s", jobKey, out.Stage, out.Error)
			}
			return nil
		}
		if !out.Ran {
			if err := workflow.Sleep(ctx, pollInterval); err != nil {
				return err
			}
		}
		if tick >= continueTickLimit || workflow.GetInfo(ctx).GetCurrentHistoryLength() >= continueHistoryLimit {
			return workflow.NewContinueAsNewError(ctx, Workflow, jobKey)
		}
	}
}
