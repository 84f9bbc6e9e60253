package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/slidestream-backend/internal/data/repos/jobs"
	"github.com/yungbote/slidestream-backend/internal/data/repos/testutil"
	types "github.com/yungbote/slidestream-backend/internal/domain"
	jobstatus "github.com/yungbote/slidestream-backend/internal/domain/jobs"
	"github.com/yungbote/slidestream-backend/internal/jobs/runtime"
	"github.com/yungbote/slidestream-backend/internal/pkg/dbctx"
)

type recordingHandler struct {
	seen   []string
	failOn map[string]bool
	panics bool
}

func (h *recordingHandler) Type() string { return "test_job" }

func (h *recordingHandler) Run(jc *runtime.Context) error {
	if h.panics {
		panic("boom")
	}
	h.seen = append(h.seen, jc.Job.JobKey)
	if h.failOn[jc.Job.JobKey] {
		return errors.New("provider unavailable")
	}
	return nil
}

func enqueueChain(t *testing.T, repo jobs.JobRunRepo, maxAttempts int, keys ...string) {
	t.Helper()
	var prev *string
	batch := make([]*types.JobRun, 0, len(keys))
	for _, k := range keys {
		batch = append(batch, &types.JobRun{OwnerUserID: uuid.New(), JobType: "test_job", JobKey: k, DependsOnKey: prev, MaxAttempts: maxAttempts})
		key := k
		prev = &key
	}
	if _, err := repo.Enqueue(dbctx.Context{Ctx: context.Background()}, batch); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
}

func newTestWorker(t *testing.T, h runtime.Handler) (*Worker, jobs.JobRunRepo) {
	t.Helper()
	db := testutil.DB(t)
	repo := jobs.NewJobRunRepo(db, testutil.Logger(t))
	reg := runtime.NewRegistry()
	if h != nil {
		if err := reg.Register(h); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	w := NewWorker(testutil.Logger(t), repo, reg, nil, nil, Config{Concurrency: 1, RetryDelay: 0, StaleRunning: time.Hour})
	return w, repo
}

func drain(t *testing.T, w *Worker) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		if _, err := w.Sweep(ctx); err != nil {
			t.Fatalf("Sweep: %v", err)
		}
		ran, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
		if !ran {
			return
		}
	}
	t.Fatalf("worker did not drain")
}

func TestWorkerRunsChainInOrder(t *testing.T) {
	h := &recordingHandler{}
	w, repo := newTestWorker(t, h)
	enqueueChain(t, repo, 3, "L-4", "L-5", "L-6", "L-7")
	drain(t, w)

	want := []string{"L-4", "L-5", "L-6", "L-7"}
	if len(h.seen) != len(want) {
		t.Fatalf("ran %v, want %v", h.seen, want)
	}
	for i := range want {
		if h.seen[i] != want[i] {
			t.Fatalf("ran %v, want %v", h.seen, want)
		}
	}
	rows, _ := repo.GetByKeys(dbctx.Context{Ctx: context.Background()}, want)
	for _, j := range rows {
		if j.Status != jobstatus.StatusSucceeded {
			t.Fatalf("%s: status %s", j.JobKey, j.Status)
		}
	}
}

func TestWorkerFailurePropagatesDownChain(t *testing.T) {
	h := &recordingHandler{failOn: map[string]bool{"L-2": true}}
	w, repo := newTestWorker(t, h)
	enqueueChain(t, repo, 2, "L-1", "L-2", "L-3")
	drain(t, w)

	// L-2 is attempted twice, L-3 never runs.
	want := []string{"L-1", "L-2", "L-2"}
	if len(h.seen) != len(want) {
		t.Fatalf("ran %v, want %v", h.seen, want)
	}
	rows, _ := repo.GetByKeys(dbctx.Context{Ctx: context.Background()}, []string{"L-1", "L-2", "L-3"})
	status := map[string]*types.JobRun{}
	for _, j := range rows {
		status[j.JobKey] = j
	}
	if status["L-1"].Status != jobstatus.StatusSucceeded {
		t.Fatalf("completed work must stand, got %s", status["L-1"].Status)
	}
	if !status["L-2"].Terminal() || status["L-2"].Error != "provider unavailable" {
		t.Fatalf("L-2: %+v", status["L-2"])
	}
	if status["L-3"].Status != jobstatus.StatusFailed || status["L-3"].Error != jobs.DependencyFailedError {
		t.Fatalf("L-3: %+v", status["L-3"])
	}
}

func TestWorkerRecoversPanicsAndMissingHandlers(t *testing.T) {
	w, repo := newTestWorker(t, &recordingHandler{panics: true})
	enqueueChain(t, repo, 1, "P-1")
	other := &types.JobRun{OwnerUserID: uuid.New(), JobType: "unknown", JobKey: "U-1", MaxAttempts: 1}
	if _, err := repo.Enqueue(dbctx.Context{Ctx: context.Background()}, []*types.JobRun{other}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	drain(t, w)

	rows, _ := repo.GetByKeys(dbctx.Context{Ctx: context.Background()}, []string{"P-1", "U-1"})
	for _, j := range rows {
		if j.Status != jobstatus.StatusFailed {
			t.Fatalf("%s: want failed, got %s", j.JobKey, j.Status)
		}
	}
}
