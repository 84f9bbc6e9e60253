package summaries

import (
	"context"
	"sync"
	"time"

	types "github.com/yungbote/slidestream-backend/internal/domain"
	"github.com/yungbote/slidestream-backend/internal/modules/lectures/retrieval"
	"github.com/yungbote/slidestream-backend/internal/pkg/ctxutil"
	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
)

// followups runs the best-effort work after a summary lands. Nothing here can
// fail the summary itself.
type followups struct {
	log     *logger.Logger
	titles  *TitleInferer
	trigger Trigger
	indexer *retrieval.Indexer
	events  Events
	fanout  int
	timeout time.Duration

	wg sync.WaitGroup
}

type followupPlan struct {
	title    bool
	schedule bool
	// lostRace means another producer wrote the summary and owns its
	// announcement and indexing; only scheduling is left to do.
	lostRace bool
}

func (f *followups) spawn(ctx context.Context, slide *types.Slide, plan followupPlan) {
	ctx = ctxutil.Detached(ctx)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()
		f.run(ctx, slide, plan)
	}()
}

func (f *followups) run(ctx context.Context, slide *types.Slide, plan followupPlan) {
	log := f.log.With("lecture_id", slide.LectureID, "slide_number", slide.SlideNumber)

	if f.events != nil && !plan.lostRace {
		f.events.SlideReady(ctx, slide)
	}
	if plan.schedule && f.trigger != nil {
		if _, err := f.trigger.Schedule(ctx, slide.LectureID, slide.SlideNumber, f.fanout); err != nil {
			log.Warn("scheduling background summaries failed", "error", err)
		}
	}
	if plan.lostRace {
		return
	}
	if plan.title && f.titles != nil {
		if err := f.titles.Apply(ctx, slide.LectureID, slide.Summary()); err != nil {
			log.Warn("title inference failed", "error", err)
		}
	}
	if f.indexer.Enabled() {
		if err := f.indexer.IndexSummary(ctx, slide); err != nil {
			log.Warn("indexing summary failed", "error", err)
		}
	}
}

func (f *followups) wait() { f.wg.Wait() }
