package summaries

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/slidestream-backend/internal/data/repos/lectures"
	types "github.com/yungbote/slidestream-backend/internal/domain"
	domlectures "github.com/yungbote/slidestream-backend/internal/domain/lectures"
	"github.com/yungbote/slidestream-backend/internal/jobs/runtime"
	"github.com/yungbote/slidestream-backend/internal/modules/lectures/prompts"
	"github.com/yungbote/slidestream-backend/internal/modules/lectures/retrieval"
	"github.com/yungbote/slidestream-backend/internal/pkg/dbctx"
	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
	"github.com/yungbote/slidestream-backend/internal/platform/openai"
)

// JobType identifies background slide summary jobs.
const JobType = "slide_summary"

// JobEntityType tags summary jobs with the lecture they belong to.
const JobEntityType = "lecture"

const (
	SkipAlreadyGenerated    = "already_generated"
	SkipInteractiveInFlight = "interactive_in_flight"
	SkipLostRace            = "lost_race"
)

type Payload struct {
	LectureID   uuid.UUID `json:"lecture_id"`
	SlideNumber int       `json:"slide_number"`
}

// JobKey is the identity of the job summarizing one slide.
func JobKey(lectureID uuid.UUID, slideNumber int) string {
	return fmt.Sprintf("%s-%d", lectureID, slideNumber)
}

type BackgroundDeps struct {
	Log       *logger.Logger
	Slides    lectures.SlideRepo
	Lectures  lectures.LectureRepo
	Retriever *retrieval.Retriever
	Prompts   *prompts.Set
	Provider  Provider
	Titles    *TitleInferer
	Indexer   *retrieval.Indexer
	Events    Events

	ContextMax      int
	FollowupTimeout time.Duration
	// ClaimTTL must match the slide repo's so both agree on stale claims.
	ClaimTTL time.Duration
}

// BackgroundHandler summarizes a slide nobody is watching.
type BackgroundHandler struct {
	log       *logger.Logger
	slides    lectures.SlideRepo
	lectures  lectures.LectureRepo
	retriever *retrieval.Retriever
	prompts   *prompts.Set
	provider  Provider
	events    Events
	ctxMax    int
	claimTTL  time.Duration
	after     *followups
}

func NewBackgroundHandler(d BackgroundDeps) *BackgroundHandler {
	timeout := d.FollowupTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	log := d.Log.With("job_type", JobType)
	return &BackgroundHandler{
		log:       log,
		slides:    d.Slides,
		lectures:  d.Lectures,
		retriever: d.Retriever,
		prompts:   d.Prompts,
		provider:  d.Provider,
		events:    d.Events,
		ctxMax:    d.ContextMax,
		claimTTL:  d.ClaimTTL,
		after: &followups{
			log:     log,
			titles:  d.Titles,
			indexer: d.Indexer,
			events:  d.Events,
			timeout: timeout,
		},
	}
}

func (h *BackgroundHandler) Type() string { return JobType }

// Wait blocks until follow-up work of finished jobs is done.
func (h *BackgroundHandler) Wait() { h.after.wait() }

func (h *BackgroundHandler) Run(jc *runtime.Context) error {
	var p Payload
	if err := jc.DecodePayload(&p); err != nil {
		return err
	}
	if p.LectureID == uuid.Nil || p.SlideNumber < 1 {
		return fmt.Errorf("invalid payload: lecture_id=%s slide_number=%d", p.LectureID, p.SlideNumber)
	}
	ctx := jc.Ctx
	log := h.log.With("lecture_id", p.LectureID, "slide_number", p.SlideNumber, "job_key", jc.Job.JobKey)

	slide, err := h.slides.GetByNumber(dbctx.Context{Ctx: ctx}, p.LectureID, p.SlideNumber)
	if err != nil {
		return err
	}
	if slide.HasSummary() {
		jc.Succeed("done", map[string]any{"skipped": SkipAlreadyGenerated})
		return nil
	}
	if slide.ClaimActive(h.claimTTL, time.Now()) {
		jc.Succeed("done", map[string]any{"skipped": SkipInteractiveInFlight})
		return nil
	}
	if slide.StatusIs(domlectures.GenerateProcessing) {
		log.Warn("taking over stale interactive claim", "claimed_at", slide.UpdatedAt)
	}

	jc.Progress("generate", 10)
	text, err := h.generate(jc, slide)
	if err != nil {
		log.Warn("background summary failed", "error", err)
		h.fail(jc, slide, err)
		return err
	}

	won, err := h.slides.SaveSummary(dbctx.Context{Ctx: ctx}, slide.ID, text, lectures.WriteBackground)
	if err != nil {
		log.Error("save background summary failed", "error", err)
		h.fail(jc, slide, err)
		return err
	}
	if !won {
		jc.Succeed("done", map[string]any{"skipped": SkipLostRace})
		return nil
	}

	slide.Content = domlectures.EncodeTurns([]string{text})
	slide.TurnCount = 1
	plan := followupPlan{}
	if slide.SlideNumber == 1 {
		if lec, err := h.lectures.GetByID(dbctx.Context{Ctx: ctx}, slide.LectureID); err == nil && !lec.TitleInferred {
			plan.title = true
		}
	}
	h.after.spawn(ctx, slide, plan)
	jc.Succeed("done", map[string]any{"slide_id": slide.ID, "chars": len(text)})
	return nil
}

func (h *BackgroundHandler) generate(jc *runtime.Context, slide *types.Slide) (string, error) {
	if strings.TrimSpace(slide.Base64) == "" {
		return "", errors.New(msgImageNotFound)
	}
	prior, err := h.retriever.GetContext(jc.Ctx, slide.LectureID, slide.SlideNumber, h.ctxMax)
	if err != nil {
		return "", fmt.Errorf("load context: %w", err)
	}
	jc.Progress("generate", 30)
	req := openai.Request{Messages: h.prompts.SummaryMessages(retrieval.Chronological(prior), slide.Base64)}
	text, err := h.provider.Complete(jc.Ctx, req)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("empty completion")
	}
	return text, nil
}

func (h *BackgroundHandler) fail(jc *runtime.Context, slide *types.Slide, cause error) {
	ok, err := h.slides.MarkFailed(dbctx.Context{Ctx: jc.Ctx}, slide.ID, lectures.WriteBackground)
	if err != nil {
		h.log.Error("mark slide failed errored", "slide_id", slide.ID, "error", err)
		return
	}
	if ok && h.events != nil {
		h.events.SlideFailed(jc.Ctx, slide, cause.Error())
	}
}
