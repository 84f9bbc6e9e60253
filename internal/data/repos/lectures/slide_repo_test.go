package lectures

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yungbote/slidestream-backend/internal/data/repos/testutil"
	types "github.com/yungbote/slidestream-backend/internal/domain"
	"github.com/yungbote/slidestream-backend/internal/domain/lectures"
	"github.com/yungbote/slidestream-backend/internal/pkg/dbctx"
)

func TestSlideRepoSingleWinner(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewSlideRepo(db, testutil.Logger(t))
	lec := testutil.SeedLecture(t, ctx, db, 3)

	slide, err := repo.GetByNumber(dbctx.Context{Ctx: ctx}, lec.ID, 2)
	if err != nil {
		t.Fatalf("GetByNumber: %v", err)
	}

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		mode := WriteBackground
		if i%2 == 0 {
			mode = WriteInteractive
		}
		go func(i int, mode WriteMode) {
			defer wg.Done()
			ok, err := repo.SaveSummary(dbctx.Context{Ctx: ctx}, slide.ID, "summary", mode)
			if err != nil {
				t.Errorf("SaveSummary %d: %v", i, err)
				return
			}
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}(i, mode)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}

	got, err := repo.GetByID(dbctx.Context{Ctx: ctx}, slide.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.TurnCount != 1 || got.Summary() != "summary" || !got.StatusIs(lectures.GenerateReady) {
		t.Fatalf("unexpected slide state: turns=%d summary=%q", got.TurnCount, got.Summary())
	}
}

func TestSlideRepoReadyNeverRegresses(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	repo := NewSlideRepo(db, testutil.Logger(t))
	lec := testutil.SeedLecture(t, ctx, db, 1)
	slide, _ := repo.GetByNumber(dbc, lec.ID, 1)

	if ok, err := repo.SaveSummary(dbc, slide.ID, "first", WriteInteractive); err != nil || !ok {
		t.Fatalf("SaveSummary: ok=%v err=%v", ok, err)
	}
	if ok, _ := repo.ClaimForStreaming(dbc, slide.ID); ok {
		t.Fatalf("claim should not land on a READY slide")
	}
	for _, mode := range []WriteMode{WriteBackground, WriteInteractive} {
		if ok, _ := repo.MarkFailed(dbc, slide.ID, mode); ok {
			t.Fatalf("MarkFailed(%d) should not land on a READY slide", mode)
		}
		if ok, _ := repo.SaveSummary(dbc, slide.ID, "second", mode); ok {
			t.Fatalf("SaveSummary(%d) should not overwrite", mode)
		}
	}
	got, _ := repo.GetByID(dbc, slide.ID)
	if got.Summary() != "first" || !got.StatusIs(lectures.GenerateReady) {
		t.Fatalf("slide regressed: %q", got.Summary())
	}
}

func TestSlideRepoBackgroundYieldsToStream(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	repo := NewSlideRepo(db, testutil.Logger(t))
	lec := testutil.SeedLecture(t, ctx, db, 1)
	slide, _ := repo.GetByNumber(dbc, lec.ID, 1)

	if ok, err := repo.ClaimForStreaming(dbc, slide.ID); err != nil || !ok {
		t.Fatalf("ClaimForStreaming: ok=%v err=%v", ok, err)
	}
	if ok, _ := repo.SaveSummary(dbc, slide.ID, "bg", WriteBackground); ok {
		t.Fatalf("background write must not land on a PROCESSING slide")
	}
	if ok, _ := repo.MarkFailed(dbc, slide.ID, WriteBackground); ok {
		t.Fatalf("background failure must not land on a PROCESSING slide")
	}
	if ok, _ := repo.SaveSummary(dbc, slide.ID, "stream", WriteInteractive); !ok {
		t.Fatalf("interactive write should land")
	}
}

func TestSlideRepoBackgroundRetriesAfterFailure(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	repo := NewSlideRepo(db, testutil.Logger(t))
	lec := testutil.SeedLecture(t, ctx, db, 1)
	slide, _ := repo.GetByNumber(dbc, lec.ID, 1)

	if ok, _ := repo.MarkFailed(dbc, slide.ID, WriteBackground); !ok {
		t.Fatalf("first failure should be recorded")
	}
	if ok, _ := repo.MarkFailed(dbc, slide.ID, WriteBackground); ok {
		t.Fatalf("failure is recorded once")
	}
	if ok, _ := repo.SaveSummary(dbc, slide.ID, "retry", WriteBackground); !ok {
		t.Fatalf("retry should replace FAILED")
	}
}

func TestSlideRepoAppendTurn(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	repo := NewSlideRepo(db, testutil.Logger(t))
	lec := testutil.SeedLecture(t, ctx, db, 0)
	slide := testutil.SeedSlide(t, ctx, db, lec.ID, 1, []string{"summary text"})

	if _, err := repo.AppendTurn(dbc, slide.ID, 2, "q", "a"); !errors.Is(err, ErrAlternation) {
		t.Fatalf("even expected length: want ErrAlternation, got %v", err)
	}
	if ok, err := repo.AppendTurn(dbc, slide.ID, 3, "q", "a"); err != nil || ok {
		t.Fatalf("stale expected length should not append: ok=%v err=%v", ok, err)
	}
	if ok, err := repo.AppendTurn(dbc, slide.ID, 1, "question", "answer"); err != nil || !ok {
		t.Fatalf("AppendTurn: ok=%v err=%v", ok, err)
	}
	got, _ := repo.GetByID(dbc, slide.ID)
	turns := got.Turns()
	want := []string{"summary text", "question", "answer"}
	if len(turns) != len(want) || got.TurnCount != 3 {
		t.Fatalf("turns: want %v, got %v (count %d)", want, turns, got.TurnCount)
	}
	for i := range want {
		if turns[i] != want[i] {
			t.Fatalf("turn %d: want %q, got %q", i, want[i], turns[i])
		}
	}
	if ok, _ := repo.AppendTurn(dbc, slide.ID, 1, "late", "dup"); ok {
		t.Fatalf("append with outdated length must be rejected")
	}
}

func TestSlideRepoListContext(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	repo := NewSlideRepo(db, testutil.Logger(t))
	lec := testutil.SeedLecture(t, ctx, db, 30)
	for i := 1; i <= 24; i++ {
		testutil.FillSlide(t, ctx, db, lec.ID, i, "s")
	}

	got, err := repo.ListContext(dbc, lec.ID, 25, 20)
	if err != nil {
		t.Fatalf("ListContext: %v", err)
	}
	if len(got) != 20 {
		t.Fatalf("want 20 slides, got %d", len(got))
	}
	if got[0].SlideNumber != 24 || got[19].SlideNumber != 5 {
		t.Fatalf("want 24..5, got %d..%d", got[0].SlideNumber, got[19].SlideNumber)
	}

	got, _ = repo.ListContext(dbc, lec.ID, 1, 20)
	if len(got) != 0 {
		t.Fatalf("slide 1 has no context, got %d", len(got))
	}
}

func TestSlideRepoBackgroundTakesOverStaleClaim(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	repo := NewSlideRepo(db, testutil.Logger(t), WithClaimTTL(time.Minute))
	lec := testutil.SeedLecture(t, ctx, db, 2)
	one, _ := repo.GetByNumber(dbc, lec.ID, 1)
	two, _ := repo.GetByNumber(dbc, lec.ID, 2)

	for _, s := range []*types.Slide{one, two} {
		if ok, err := repo.ClaimForStreaming(dbc, s.ID); err != nil || !ok {
			t.Fatalf("ClaimForStreaming: ok=%v err=%v", ok, err)
		}
	}
	// The stream holding slide 1 died without writing SAVED or FAILED.
	if err := db.Model(&types.Slide{}).Where("id = ?", one.ID).
		UpdateColumn("updated_at", time.Now().Add(-time.Hour)).Error; err != nil {
		t.Fatalf("age claim: %v", err)
	}

	if ok, _ := repo.SaveSummary(dbc, two.ID, "bg", WriteBackground); ok {
		t.Fatalf("background write must not land on a live claim")
	}
	if ok, err := repo.SaveSummary(dbc, one.ID, "bg", WriteBackground); err != nil || !ok {
		t.Fatalf("background write should take over a stale claim: ok=%v err=%v", ok, err)
	}
	got, _ := repo.GetByID(dbc, one.ID)
	if got.Summary() != "bg" || !got.StatusIs(lectures.GenerateReady) {
		t.Fatalf("slide 1 not saved: %+v", got)
	}

	if err := db.Model(&types.Slide{}).Where("id = ?", two.ID).
		UpdateColumn("updated_at", time.Now().Add(-time.Hour)).Error; err != nil {
		t.Fatalf("age claim: %v", err)
	}
	if ok, err := repo.MarkFailed(dbc, two.ID, WriteBackground); err != nil || !ok {
		t.Fatalf("background failure should release a stale claim: ok=%v err=%v", ok, err)
	}
}
