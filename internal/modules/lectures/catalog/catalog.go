// Package catalog owns the lecture lifecycle: ingesting a rendered deck,
// owner-scoped reads and deletion.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/slidestream-backend/internal/data/repos/jobs"
	"github.com/yungbote/slidestream-backend/internal/data/repos/lectures"
	types "github.com/yungbote/slidestream-backend/internal/domain"
	jobstatus "github.com/yungbote/slidestream-backend/internal/domain/jobs"
	domlectures "github.com/yungbote/slidestream-backend/internal/domain/lectures"
	"github.com/yungbote/slidestream-backend/internal/modules/lectures/summaries"
	"github.com/yungbote/slidestream-backend/internal/pkg/ctxutil"
	"github.com/yungbote/slidestream-backend/internal/pkg/dbctx"
	apperr "github.com/yungbote/slidestream-backend/internal/pkg/errors"
	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
)

const DefaultTitle = "Untitled lecture"

// ErrLectureDeleted is recorded on summary jobs cancelled by a lecture delete.
var ErrLectureDeleted = errors.New("lecture deleted")

// VectorCleaner drops a lecture's vectors; *retrieval.Indexer satisfies it.
type VectorCleaner interface {
	DeleteLecture(ctx context.Context, lectureID uuid.UUID) error
}

// CacheForgetter drops cached lecture metadata; *scheduler.Scheduler satisfies it.
type CacheForgetter interface {
	Forget(lectureID uuid.UUID)
}

type Deps struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Lectures lectures.LectureRepo
	Slides   lectures.SlideRepo
	Jobs     jobs.JobRunRepo
	Trigger  summaries.Trigger
	Vectors  VectorCleaner
	Cache    CacheForgetter
	Fanout   int
}

type CreateInput struct {
	Title string
	// Images are the base64 encoded slide renders in slide order.
	Images []string
	// Prefetch schedules background summaries from the first slide on.
	Prefetch bool
}

type Service struct {
	log      *logger.Logger
	db       *gorm.DB
	lectures lectures.LectureRepo
	slides   lectures.SlideRepo
	jobs     jobs.JobRunRepo
	trigger  summaries.Trigger
	vectors  VectorCleaner
	cache    CacheForgetter
	fanout   int
}

func New(d Deps) *Service {
	return &Service{
		log:      d.Log.With("service", "LectureCatalog"),
		db:       d.DB,
		lectures: d.Lectures,
		slides:   d.Slides,
		jobs:     d.Jobs,
		trigger:  d.Trigger,
		vectors:  d.Vectors,
		cache:    d.Cache,
		fanout:   d.Fanout,
	}
}

// Create stores a lecture and its empty slides. The lecture is PROCESSING until
// every slide row exists; a failed ingestion removes the slides and leaves the
// lecture FAILED.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, in CreateInput) (*types.Lecture, error) {
	if userID == uuid.Nil {
		return nil, apperr.ErrUnauthorized
	}
	if len(in.Images) == 0 {
		return nil, fmt.Errorf("%w: lecture needs at least one slide", apperr.ErrInvalidArgument)
	}
	for i, img := range in.Images {
		if strings.TrimSpace(img) == "" {
			return nil, fmt.Errorf("%w: slide %d has no image", apperr.ErrInvalidArgument, i+1)
		}
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = DefaultTitle
	}

	lec, err := s.lectures.Create(dbctx.Context{Ctx: ctx}, &types.Lecture{
		UserID: userID,
		Title:  title,
		Status: domlectures.LectureProcessing,
	})
	if err != nil {
		return nil, fmt.Errorf("create lecture: %w", err)
	}

	if err := s.ingest(ctx, lec.ID, in.Images); err != nil {
		s.log.Error("lecture ingestion failed", "lecture_id", lec.ID, "error", err)
		s.rollback(ctxutil.Detached(ctx), lec.ID)
		return nil, fmt.Errorf("ingest lecture: %w", err)
	}
	n := len(in.Images)
	lec.NumSlides = &n
	lec.Status = domlectures.LectureReady
	s.log.Info("lecture ingested", "lecture_id", lec.ID, "num_slides", n)

	if in.Prefetch && s.trigger != nil {
		if _, err := s.trigger.Schedule(ctx, lec.ID, 0, s.fanout); err != nil {
			s.log.Warn("prefetch scheduling failed", "lecture_id", lec.ID, "error", err)
		}
	}
	return lec, nil
}

func (s *Service) ingest(ctx context.Context, lectureID uuid.UUID, images []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		rows := make([]*types.Slide, 0, len(images))
		for i, img := range images {
			rows = append(rows, &types.Slide{
				LectureID:   lectureID,
				SlideNumber: i + 1,
				Base64:      img,
			})
		}
		if _, err := s.slides.Create(dbc, rows); err != nil {
			return err
		}
		return s.lectures.UpdateFields(dbc, lectureID, map[string]interface{}{
			"num_slides": len(images),
			"status":     domlectures.LectureReady,
		})
	})
}

func (s *Service) rollback(ctx context.Context, lectureID uuid.UUID) {
	dbc := dbctx.Context{Ctx: ctx}
	if err := s.slides.DeleteByLecture(dbc, lectureID); err != nil {
		s.log.Warn("rollback: delete slides failed", "lecture_id", lectureID, "error", err)
	}
	if err := s.lectures.UpdateFields(dbc, lectureID, map[string]interface{}{"status": domlectures.LectureFailed}); err != nil {
		s.log.Warn("rollback: mark lecture failed", "lecture_id", lectureID, "error", err)
	}
}

func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]*types.Lecture, error) {
	return s.lectures.ListByUser(dbctx.Context{Ctx: ctx}, userID)
}

// Get returns the lecture when userID owns it. Lectures of other users look
// like missing ones.
func (s *Service) Get(ctx context.Context, userID, lectureID uuid.UUID) (*types.Lecture, error) {
	lec, err := s.lectures.GetByID(dbctx.Context{Ctx: ctx}, lectureID)
	if err != nil {
		return nil, err
	}
	if lec.UserID != userID {
		return nil, fmt.Errorf("lecture %s: %w", lectureID, apperr.ErrNotFound)
	}
	return lec, nil
}

func (s *Service) Slide(ctx context.Context, userID, lectureID uuid.UUID, number int) (*types.Slide, error) {
	if _, err := s.Get(ctx, userID, lectureID); err != nil {
		return nil, err
	}
	slide, err := s.slides.GetByNumber(dbctx.Context{Ctx: ctx}, lectureID, number)
	if err != nil {
		return nil, err
	}
	return slide, nil
}

// AuthorizeSlide checks that the slide belongs to a lecture userID owns.
func (s *Service) AuthorizeSlide(ctx context.Context, userID, slideID uuid.UUID) (*types.Slide, error) {
	slide, err := s.slides.GetByID(dbctx.Context{Ctx: ctx}, slideID)
	if err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, userID, slide.LectureID); err != nil {
		return nil, err
	}
	return slide, nil
}

// Schedule is the client's "slide is ready" signal.
func (s *Service) Schedule(ctx context.Context, userID, lectureID uuid.UUID, slideNumber, fanout int) (jobs.EnqueueResult, error) {
	if slideNumber < 0 {
		return jobs.EnqueueResult{}, fmt.Errorf("%w: slide_number must not be negative", apperr.ErrInvalidArgument)
	}
	if _, err := s.Get(ctx, userID, lectureID); err != nil {
		return jobs.EnqueueResult{}, err
	}
	if s.trigger == nil {
		return jobs.EnqueueResult{}, errors.New("scheduler not configured")
	}
	return s.trigger.Schedule(ctx, lectureID, slideNumber, fanout)
}

func (s *Service) Delete(ctx context.Context, userID, lectureID uuid.UUID) error {
	if _, err := s.Get(ctx, userID, lectureID); err != nil {
		return err
	}
	if err := s.lectures.Delete(dbctx.Context{Ctx: ctx}, lectureID); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Forget(lectureID)
	}
	if n, err := s.cancelJobs(ctx, lectureID); err != nil {
		s.log.Warn("cancel lecture jobs failed", "lecture_id", lectureID, "error", err)
	} else if n > 0 {
		s.log.Info("cancelled lecture jobs", "lecture_id", lectureID, "count", n)
	}
	if s.vectors != nil {
		if err := s.vectors.DeleteLecture(ctxutil.Detached(ctx), lectureID); err != nil {
			s.log.Warn("delete lecture vectors failed", "lecture_id", lectureID, "error", err)
		}
	}
	return nil
}

// cancelJobs terminally fails the lecture's summary jobs that have not started,
// including failed ones still waiting for a retry. Running jobs finish on their own.
func (s *Service) cancelJobs(ctx context.Context, lectureID uuid.UUID) (int, error) {
	if s.jobs == nil {
		return 0, nil
	}
	dbc := dbctx.Context{Ctx: ctx}
	rows, err := s.jobs.ListByEntity(dbc, summaries.JobEntityType, lectureID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, j := range rows {
		if j.Terminal() || j.Status == jobstatus.StatusRunning {
			continue
		}
		ok, err := s.jobs.UpdateFieldsIfStatus(dbc, j.ID, []string{jobstatus.StatusQueued, jobstatus.StatusFailed}, map[string]interface{}{
			"status":   jobstatus.StatusFailed,
			"stage":    "cancelled",
			"error":    ErrLectureDeleted.Error(),
			"attempts": gorm.Expr("max_attempts"),
		})
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}
