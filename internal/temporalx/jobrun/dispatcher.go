package jobrun

import (
	"context"
	"errors"
	"fmt"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
)

// Starter is the part of the Temporal client the dispatcher needs.
type Starter interface {
	ExecuteWorkflow(ctx context.Context, options temporalsdkclient.StartWorkflowOptions, workflow interface{}, args ...interface{}) (temporalsdkclient.WorkflowRun, error)
}

// Dispatcher starts one workflow per job, using the job key as workflow id so a
// key submitted twice maps to the same execution.
type Dispatcher struct {
	log       *logger.Logger
	client    Starter
	taskQueue string
}

func NewDispatcher(log *logger.Logger, client Starter, taskQueue string) *Dispatcher {
	return &Dispatcher{log: log.With("component", "TemporalDispatcher"), client: client, taskQueue: taskQueue}
}

func (d *Dispatcher) Dispatch(ctx context.Context, keys []string) error {
	var errs []error
	for _, key := range keys {
		_, err := d.client.ExecuteWorkflow(ctx, temporalsdkclient.StartWorkflowOptions{
			ID:                    key,
			TaskQueue:             d.taskQueue,
			WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
		}, WorkflowName, key)
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if err != nil && !errors.As(err, &started) {
			errs = append(errs, fmt.Errorf("start workflow %s: %w", key, err))
			continue
		}
		d.log.Debug("job workflow started", "job_key", key)
	}
	return errors.Join(errs...)
}
