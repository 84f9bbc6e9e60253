package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/slidestream-backend/internal/data/repos/jobs"
	types "github.com/yungbote/slidestream-backend/internal/domain"
	jobstatus "github.com/yungbote/slidestream-backend/internal/domain/jobs"
	"github.com/yungbote/slidestream-backend/internal/pkg/ctxutil"
	"github.com/yungbote/slidestream-backend/internal/pkg/dbctx"
)

// Notifier receives terminal job transitions. It may be nil.
type Notifier interface {
	JobSucceeded(job *types.JobRun)
	JobFailed(job *types.JobRun, msg string)
}

/*
Context is the execution handle for a single claimed job run.
Handlers never touch job_run directly; lifecycle writes go through Progress,
Fail and Succeed, which only land while the row is still running. A worker whose
row was reclaimed after a stale heartbeat therefore cannot overwrite the newer
attempt's outcome.
*/
type Context struct {
	Ctx    context.Context
	Job    *types.JobRun
	Repo   jobs.JobRunRepo
	Notify Notifier

	done bool
}

func NewContext(ctx context.Context, job *types.JobRun, repo jobs.JobRunRepo, notify Notifier) *Context {
	c := &Context{
		Ctx:    ctxutil.Default(ctx),
		Job:    job,
		Repo:   repo,
		Notify: notify,
	}
	c.applyTraceData()
	return c
}

type tracePayload struct {
	TraceID   string `json:"trace_id"`
	RequestID string `json:"request_id"`
}

func (c *Context) applyTraceData() {
	var tp tracePayload
	if err := c.DecodePayload(&tp); err != nil {
		return
	}
	if tp.TraceID == "" && tp.RequestID == "" {
		return
	}
	c.Ctx = ctxutil.WithTraceData(c.Ctx, &ctxutil.TraceData{TraceID: tp.TraceID, RequestID: tp.RequestID})
}

// DecodePayload unmarshals the job payload into v.
func (c *Context) DecodePayload(v any) error {
	if c == nil || c.Job == nil || len(c.Job.Payload) == 0 {
		return fmt.Errorf("job has no payload")
	}
	if err := json.Unmarshal(c.Job.Payload, v); err != nil {
		return fmt.Errorf("decode payload for job %s: %w", c.Job.JobKey, err)
	}
	return nil
}

// Finished reports whether Fail or Succeed already ran.
func (c *Context) Finished() bool { return c != nil && c.done }

func (c *Context) guarded(updates map[string]interface{}) bool {
	if c.Repo == nil || c.Job == nil || c.Job.ID == uuid.Nil {
		return true
	}
	ok, err := c.Repo.UpdateFieldsIfStatus(dbctx.Context{Ctx: c.Ctx}, c.Job.ID, []string{jobstatus.StatusRunning}, updates)
	return err == nil && ok
}

// Progress records a non-terminal stage and refreshes the heartbeat.
func (c *Context) Progress(stage string, pct int) {
	if c == nil {
		return
	}
	now := time.Now()
	if !c.guarded(map[string]interface{}{
		"stage":        stage,
		"progress":     pct,
		"heartbeat_at": now,
		"updated_at":   now,
	}) {
		return
	}
	if c.Job != nil {
		c.Job.Stage = stage
		c.Job.Progress = pct
		c.Job.HeartbeatAt = &now
	}
}

// Fail records a failed attempt. Whether the job is retried is decided by the
// claim query from attempts and max_attempts.
func (c *Context) Fail(stage string, err error) {
	if c == nil || c.done {
		return
	}
	c.done = true
	now := time.Now()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if !c.guarded(map[string]interface{}{
		"status":        jobstatus.StatusFailed,
		"stage":         stage,
		"error":         msg,
		"last_error_at": now,
		"locked_at":     nil,
		"updated_at":    now,
	}) {
		return
	}
	if c.Job != nil {
		c.Job.Status = jobstatus.StatusFailed
		c.Job.Stage = stage
		c.Job.Error = msg
		c.Job.LastErrorAt = &now
		c.Job.LockedAt = nil
	}
	if c.Notify != nil && c.Job != nil {
		c.Notify.JobFailed(c.Job, msg)
	}
}

func (c *Context) Succeed(finalStage string, result any) {
	if c == nil || c.done {
		return
	}
	c.done = true
	now := time.Now()
	res := datatypes.JSON([]byte("{}"))
	if result != nil {
		if b, err := json.Marshal(result); err == nil {
			res = datatypes.JSON(b)
		}
	}
	if !c.guarded(map[string]interface{}{
		"status":       jobstatus.StatusSucceeded,
		"stage":        finalStage,
		"progress":     100,
		"error":        "",
		"result":       res,
		"locked_at":    nil,
		"heartbeat_at": now,
		"updated_at":   now,
	}) {
		return
	}
	if c.Job != nil {
		c.Job.Status = jobstatus.StatusSucceeded
		c.Job.Stage = finalStage
		c.Job.Progress = 100
		c.Job.Error = ""
		c.Job.Result = res
	}
	if c.Notify != nil && c.Job != nil {
		c.Notify.JobSucceeded(c.Job)
	}
}
