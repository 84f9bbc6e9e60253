package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/slidestream-backend/internal/data/repos/jobs"
	"github.com/yungbote/slidestream-backend/internal/data/repos/lectures"
	"github.com/yungbote/slidestream-backend/internal/data/repos/testutil"
	types "github.com/yungbote/slidestream-backend/internal/domain"
	jobstatus "github.com/yungbote/slidestream-backend/internal/domain/jobs"
	"github.com/yungbote/slidestream-backend/internal/jobs/runtime"
	"github.com/yungbote/slidestream-backend/internal/jobs/worker"
	"github.com/yungbote/slidestream-backend/internal/modules/lectures/summaries"
	"github.com/yungbote/slidestream-backend/internal/pkg/dbctx"
)

type orderHandler struct {
	seen []int
	fail map[int]bool
}

func (h *orderHandler) Type() string { return summaries.JobType }

func (h *orderHandler) Run(jc *runtime.Context) error {
	var p summaries.Payload
	if err := jc.DecodePayload(&p); err != nil {
		return err
	}
	h.seen = append(h.seen, p.SlideNumber)
	if h.fail[p.SlideNumber] {
		return errors.New("provider unavailable")
	}
	return nil
}

type fixture struct {
	db        *gorm.DB
	jobs      jobs.JobRunRepo
	registry  *runtime.Registry
	handler   *orderHandler
	factories int32
	sched     *Scheduler
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	db := testutil.DB(t)
	f := &fixture{
		db:       db,
		jobs:     jobs.NewJobRunRepo(db, testutil.Logger(t)),
		registry: runtime.NewRegistry(),
		handler:  &orderHandler{fail: map[int]bool{}},
	}
	s, err := New(Deps{
		Log:      testutil.Logger(t),
		Lectures: lectures.NewLectureRepo(db, testutil.Logger(t)),
		Jobs:     f.jobs,
		Handlers: f.registry,
		Factory: func() (runtime.Handler, error) {
			atomic.AddInt32(&f.factories, 1)
			return f.handler, nil
		},
		Config: cfg,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.sched = s
	return f
}

func keys(lectureID uuid.UUID, from, to int) []string {
	out := []string{}
	for n := from; n <= to; n++ {
		out = append(out, fmt.Sprintf("%s-%d", lectureID, n))
	}
	return out
}

func sameKeys(t *testing.T, label string, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: got %v want %v", label, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("%s: got %v want %v", label, got, want)
		}
	}
}

func TestScheduleBuildsAscendingChain(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	lec := testutil.SeedLecture(t, ctx, f.db, 10)

	res, err := f.sched.Schedule(ctx, lec.ID, 3, 5)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	want := keys(lec.ID, 4, 7)
	sameKeys(t, "created", res.Created, want)

	rows, err := f.jobs.GetByKeys(dbctx.Context{Ctx: ctx}, want)
	if err != nil {
		t.Fatalf("GetByKeys: %v", err)
	}
	byKey := map[string]*types.JobRun{}
	for _, r := range rows {
		byKey[r.JobKey] = r
	}
	if byKey[want[0]].DependsOnKey != nil {
		t.Fatalf("root should not wait on anything")
	}
	for i := 1; i < len(want); i++ {
		dep := byKey[want[i]].DependsOnKey
		if dep == nil || *dep != want[i-1] {
			t.Fatalf("%s should depend on %s", want[i], want[i-1])
		}
	}
	if byKey[want[0]].OwnerUserID != lec.UserID || byKey[want[0]].MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("owner or attempts not propagated")
	}
}

func TestScheduleIsIdempotent(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	lec := testutil.SeedLecture(t, ctx, f.db, 10)

	if _, err := f.sched.Schedule(ctx, lec.ID, 3, 5); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	res, err := f.sched.Schedule(ctx, lec.ID, 3, 5)
	if err != nil {
		t.Fatalf("Schedule again: %v", err)
	}
	if len(res.Created) != 0 {
		t.Fatalf("second submission created %v", res.Created)
	}
	sameKeys(t, "deduped", res.Deduped, keys(lec.ID, 4, 7))

	res, err = f.sched.Schedule(ctx, lec.ID, 4, 5)
	if err != nil {
		t.Fatalf("Schedule overlap: %v", err)
	}
	sameKeys(t, "overlap created", res.Created, keys(lec.ID, 8, 8))
	sameKeys(t, "overlap deduped", res.Deduped, keys(lec.ID, 5, 7))
	if f.factories != 1 {
		t.Fatalf("handler factory ran %d times", f.factories)
	}
}

func TestScheduleWindowEdges(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	lec := testutil.SeedLecture(t, ctx, f.db, 5)

	res, err := f.sched.Schedule(ctx, lec.ID, 5, 5)
	if err != nil || len(res.Created)+len(res.Deduped) != 0 {
		t.Fatalf("last slide should be a no-op: %+v %v", res, err)
	}
	res, err = f.sched.Schedule(ctx, lec.ID, 3, 5)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	sameKeys(t, "clamped", res.Created, keys(lec.ID, 4, 5))
	if f.factories != 1 {
		t.Fatalf("queue should be registered once chains exist, factory calls=%d", f.factories)
	}
}

func TestWindowBounds(t *testing.T) {
	cases := []struct {
		bound                    string
		completed, fanout, total int
		wantFirst, wantLast      int
	}{
		{BoundExclusive, 3, 5, 10, 4, 7},
		{BoundInclusive, 3, 5, 10, 4, 8},
		{BoundExclusive, 0, 5, 10, 1, 4},
		{BoundExclusive, 8, 5, 10, 9, 10},
		{BoundExclusive, 3, 1, 10, 4, 3},
		{BoundExclusive, 3, 0, 10, 4, 7},
	}
	for _, tc := range cases {
		s := &Scheduler{cfg: Config{Bound: tc.bound}.normalized()}
		first, last := s.Window(tc.completed, tc.fanout, tc.total)
		if first != tc.wantFirst || last != tc.wantLast {
			t.Fatalf("%s %d+%d of %d: got %d..%d want %d..%d", tc.bound, tc.completed, tc.fanout, tc.total, first, last, tc.wantFirst, tc.wantLast)
		}
	}
}

func TestScheduleWithoutNumSlides(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	lec := &types.Lecture{ID: uuid.New(), UserID: uuid.New(), Status: "PROCESSING"}
	if err := f.db.WithContext(ctx).Create(lec).Error; err != nil {
		t.Fatalf("create lecture: %v", err)
	}
	_, err := f.sched.Schedule(ctx, lec.ID, 1, 5)
	if !errors.Is(err, ErrNumSlidesNotFound) {
		t.Fatalf("want ErrNumSlidesNotFound, got %v", err)
	}
	if f.factories != 0 {
		t.Fatalf("queue registered for unusable lecture")
	}
}

func TestScheduledChainRunsInOrderAndStopsOnFailure(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 1})
	ctx := context.Background()
	lec := testutil.SeedLecture(t, ctx, f.db, 10)
	f.handler.fail[6] = true

	if _, err := f.sched.Schedule(ctx, lec.ID, 3, 5); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	w := worker.NewWorker(testutil.Logger(t), f.jobs, f.registry, nil, nil, worker.Config{Concurrency: 1, StaleRunning: time.Hour})
	for i := 0; i < 20; i++ {
		if _, err := w.Sweep(ctx); err != nil {
			t.Fatalf("Sweep: %v", err)
		}
		ran, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
		if !ran {
			break
		}
	}
	if fmt.Sprint(f.handler.seen) != "[4 5 6]" {
		t.Fatalf("execution order %v", f.handler.seen)
	}
	rows, _ := f.jobs.GetByKeys(dbctx.Context{Ctx: ctx}, keys(lec.ID, 4, 7))
	status := map[string]string{}
	for _, r := range rows {
		status[r.JobKey] = r.Status
	}
	want := map[int]string{4: jobstatus.StatusSucceeded, 5: jobstatus.StatusSucceeded, 6: jobstatus.StatusFailed, 7: jobstatus.StatusFailed}
	for n, st := range want {
		if got := status[summaries.JobKey(lec.ID, n)]; got != st {
			t.Fatalf("slide %d status=%s want %s", n, got, st)
		}
	}
}

type recordingDispatcher struct {
	calls [][]string
	err   error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, keys []string) error {
	d.calls = append(d.calls, append([]string(nil), keys...))
	return d.err
}

func TestScheduleRedispatchesWholeWindow(t *testing.T) {
	f := newFixture(t, Config{})
	d := &recordingDispatcher{err: errors.New("temporal unavailable")}
	f.sched.dispatcher = d
	ctx := context.Background()
	lec := testutil.SeedLecture(t, ctx, f.db, 10)

	if _, err := f.sched.Schedule(ctx, lec.ID, 3, 5); err != nil {
		t.Fatalf("dispatch failure must not fail Schedule: %v", err)
	}
	d.err = nil
	res, err := f.sched.Schedule(ctx, lec.ID, 3, 5)
	if err != nil {
		t.Fatalf("Schedule again: %v", err)
	}
	if len(res.Created) != 0 {
		t.Fatalf("second submission created %v", res.Created)
	}
	if len(d.calls) != 2 {
		t.Fatalf("want 2 dispatches, got %d", len(d.calls))
	}
	sameKeys(t, "redispatched", d.calls[1], keys(lec.ID, 4, 7))
}

func TestScheduleRevivesChainAfterTerminalFailure(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 1})
	ctx := context.Background()
	lec := testutil.SeedLecture(t, ctx, f.db, 20)
	f.handler.fail[6] = true
	w := worker.NewWorker(testutil.Logger(t), f.jobs, f.registry, nil, nil, worker.Config{Concurrency: 1, StaleRunning: time.Hour})
	drain := func() {
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
	}

	if _, err := f.sched.Schedule(ctx, lec.ID, 3, 5); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	drain()
	if fmt.Sprint(f.handler.seen) != "[4 5 6]" {
		t.Fatalf("first window ran %v", f.handler.seen)
	}

	// Slide 6 was finished interactively; slide 7 died behind it.
	f.handler.fail = map[int]bool{}
	f.handler.seen = nil
	res, err := f.sched.Schedule(ctx, lec.ID, 6, 5)
	if err != nil {
		t.Fatalf("Schedule after recovery: %v", err)
	}
	sameKeys(t, "requeued", res.Requeued, keys(lec.ID, 7, 7))
	sameKeys(t, "created", res.Created, keys(lec.ID, 8, 10))
	drain()
	if fmt.Sprint(f.handler.seen) != "[7 8 9 10]" {
		t.Fatalf("window after recovery ran %v", f.handler.seen)
	}

	if _, err := f.sched.Schedule(ctx, lec.ID, 7, 5); err != nil {
		t.Fatalf("Schedule(7): %v", err)
	}
	drain()
	if fmt.Sprint(f.handler.seen) != "[7 8 9 10 11]" {
		t.Fatalf("chain did not keep advancing: %v", f.handler.seen)
	}
}
