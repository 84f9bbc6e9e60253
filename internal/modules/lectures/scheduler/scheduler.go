// Package scheduler turns "slide N is ready" into a chain of background summary
// jobs for the slides right after it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/yungbote/slidestream-backend/internal/data/repos/jobs"
	"github.com/yungbote/slidestream-backend/internal/data/repos/lectures"
	"github.com/yungbote/slidestream-backend/internal/jobs/chain"
	"github.com/yungbote/slidestream-backend/internal/jobs/runtime"
	"github.com/yungbote/slidestream-backend/internal/modules/lectures/summaries"
	"github.com/yungbote/slidestream-backend/internal/observability"
	"github.com/yungbote/slidestream-backend/internal/pkg/dbctx"
	"github.com/yungbote/slidestream-backend/internal/pkg/envutil"
	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
	"github.com/yungbote/slidestream-backend/internal/pkg/singleton"
)

const (
	BoundExclusive = "exclusive"
	BoundInclusive = "inclusive"

	DefaultCacheSize   = 1024
	DefaultMaxAttempts = 3

	queueName = "queue:" + summaries.JobType
)

var ErrNumSlidesNotFound = errors.New("num slides not found")

type Config struct {
	Fanout      int
	Bound       string
	MaxAttempts int
	CacheSize   int
}

// ConfigFromEnv reads SCHEDULER_* variables.
func ConfigFromEnv() Config {
	return Config{
		Fanout:      envutil.Int("SCHEDULER_FANOUT", summaries.DefaultFanout),
		Bound:       envutil.String("SCHEDULER_BOUND", BoundExclusive),
		MaxAttempts: envutil.Int("SCHEDULER_MAX_ATTEMPTS", DefaultMaxAttempts),
		CacheSize:   envutil.Int("SCHEDULER_CACHE_SIZE", DefaultCacheSize),
	}
}

func (c Config) normalized() Config {
	if c.Fanout <= 0 {
		c.Fanout = summaries.DefaultFanout
	}
	c.Bound = strings.ToLower(strings.TrimSpace(c.Bound))
	if c.Bound != BoundInclusive {
		c.Bound = BoundExclusive
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.CacheSize <= 0 {
		c.CacheSize = DefaultCacheSize
	}
	return c
}

// Dispatcher hands the job keys of a scheduled window to an external executor.
// It must tolerate keys it has seen before. The local worker pool polls the job
// table and needs none.
type Dispatcher interface {
	Dispatch(ctx context.Context, keys []string) error
}

// HandlerFactory builds the slide_summary handler the first time a chain is scheduled.
type HandlerFactory func() (runtime.Handler, error)

type Deps struct {
	Log        *logger.Logger
	Lectures   lectures.LectureRepo
	Jobs       jobs.JobRunRepo
	Handlers   *runtime.Registry
	Singletons *singleton.Registry
	Factory    HandlerFactory
	Dispatcher Dispatcher
	Metrics    *observability.Metrics
	Config     Config
}

type lectureMeta struct {
	owner     uuid.UUID
	numSlides int
}

type Scheduler struct {
	log        *logger.Logger
	lectures   lectures.LectureRepo
	jobs       jobs.JobRunRepo
	handlers   *runtime.Registry
	singletons *singleton.Registry
	factory    HandlerFactory
	dispatcher Dispatcher
	metrics    *observability.Metrics
	cfg        Config
	cache      *lru.Cache[uuid.UUID, lectureMeta]
}

func New(d Deps) (*Scheduler, error) {
	cfg := d.Config.normalized()
	cache, err := lru.New[uuid.UUID, lectureMeta](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("scheduler cache: %w", err)
	}
	singletons := d.Singletons
	if singletons == nil {
		singletons = singleton.New()
	}
	return &Scheduler{
		log:        d.Log.With("service", "SummaryScheduler"),
		lectures:   d.Lectures,
		jobs:       d.Jobs,
		handlers:   d.Handlers,
		singletons: singletons,
		factory:    d.Factory,
		dispatcher: d.Dispatcher,
		metrics:    d.Metrics,
		cfg:        cfg,
		cache:      cache,
	}, nil
}

// Window returns the slides a chain scheduled after completedSlide covers.
// first > last means there is nothing to schedule.
func (s *Scheduler) Window(completedSlide, fanout, numSlides int) (first, last int) {
	if fanout <= 0 {
		fanout = s.cfg.Fanout
	}
	first = completedSlide + 1
	last = completedSlide + fanout - 1
	if s.cfg.Bound == BoundInclusive {
		last = completedSlide + fanout
	}
	if last > numSlides {
		last = numSlides
	}
	return first, last
}

// Schedule enqueues summary jobs for the slides after completedSlide. Slide k+1
// only runs after slide k succeeded. Keys that already exist are reported as
// deduplicated and left untouched.
func (s *Scheduler) Schedule(ctx context.Context, lectureID uuid.UUID, completedSlide int, fanout int) (jobs.EnqueueResult, error) {
	meta, err := s.lecture(ctx, lectureID)
	if err != nil {
		return jobs.EnqueueResult{}, err
	}
	if completedSlide >= meta.numSlides {
		return jobs.EnqueueResult{}, nil
	}
	first, last := s.Window(completedSlide, fanout, meta.numSlides)
	if first > last {
		return jobs.EnqueueResult{}, nil
	}
	if err := s.EnsureQueue(); err != nil {
		return jobs.EnqueueResult{}, err
	}

	id := lectureID
	stages := make([]chain.Stage, 0, last-first+1)
	for n := first; n <= last; n++ {
		stages = append(stages, chain.Stage{
			Key:        summaries.JobKey(lectureID, n),
			JobType:    summaries.JobType,
			EntityType: summaries.JobEntityType,
			EntityID:   &id,
			Payload:    summaries.Payload{LectureID: lectureID, SlideNumber: n},
		})
	}
	res, err := chain.Linear(meta.owner, s.cfg.MaxAttempts, stages...).Submit(dbctx.Context{Ctx: ctx}, s.jobs)
	if err != nil {
		return jobs.EnqueueResult{}, fmt.Errorf("submit summary chain: %w", err)
	}
	s.metrics.AddScheduled(len(res.Created)+len(res.Requeued), len(res.Deduped))
	s.log.Debug("scheduled summary chain",
		"lecture_id", lectureID,
		"completed_slide", completedSlide,
		"first", first,
		"last", last,
		"created", len(res.Created),
		"requeued", len(res.Requeued),
		"deduped", len(res.Deduped),
	)

	// Deduped keys are dispatched again so a window whose earlier dispatch failed
	// is picked up; the dispatcher ignores executions that already exist.
	if s.dispatcher != nil {
		window := make([]string, 0, len(stages))
		for _, st := range stages {
			window = append(window, st.Key)
		}
		if err := s.dispatcher.Dispatch(ctx, window); err != nil {
			s.log.Warn("dispatch summary jobs failed", "lecture_id", lectureID, "error", err)
		}
	}
	return res, nil
}

// EnsureQueue registers the summary handler once per process.
func (s *Scheduler) EnsureQueue() error {
	_, err := singleton.Get(s.singletons, queueName, func() (runtime.Handler, error) {
		if s.factory == nil {
			return nil, fmt.Errorf("no handler factory for %s", summaries.JobType)
		}
		h, err := s.factory()
		if err != nil {
			return nil, err
		}
		if s.handlers != nil {
			if _, err := s.handlers.RegisterOnce(h); err != nil {
				return nil, err
			}
		}
		s.log.Info("summary queue ready", "job_type", h.Type())
		return h, nil
	})
	return err
}

func (s *Scheduler) lecture(ctx context.Context, lectureID uuid.UUID) (lectureMeta, error) {
	if meta, ok := s.cache.Get(lectureID); ok {
		s.metrics.CacheHit()
		return meta, nil
	}
	s.metrics.CacheMiss()
	lec, err := s.lectures.GetByID(dbctx.Context{Ctx: ctx}, lectureID)
	if err != nil {
		return lectureMeta{}, err
	}
	if lec == nil || lec.NumSlides == nil {
		return lectureMeta{}, fmt.Errorf("lecture %s: %w", lectureID, ErrNumSlidesNotFound)
	}
	meta := lectureMeta{owner: lec.UserID, numSlides: *lec.NumSlides}
	s.cache.Add(lectureID, meta)
	return meta, nil
}

// Forget drops cached lecture metadata, used when a lecture is deleted.
func (s *Scheduler) Forget(lectureID uuid.UUID) {
	s.cache.Remove(lectureID)
}
