package summaries

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/slidestream-backend/internal/data/repos/lectures"
	types "github.com/yungbote/slidestream-backend/internal/domain"
	domlectures "github.com/yungbote/slidestream-backend/internal/domain/lectures"
	"github.com/yungbote/slidestream-backend/internal/modules/lectures/prompts"
	"github.com/yungbote/slidestream-backend/internal/modules/lectures/retrieval"
	"github.com/yungbote/slidestream-backend/internal/observability"
	"github.com/yungbote/slidestream-backend/internal/pkg/ctxutil"
	"github.com/yungbote/slidestream-backend/internal/pkg/dbctx"
	apperr "github.com/yungbote/slidestream-backend/internal/pkg/errors"
	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
	"github.com/yungbote/slidestream-backend/internal/platform/openai"
)

const DefaultFanout = 5

type StreamerDeps struct {
	Log       *logger.Logger
	Slides    lectures.SlideRepo
	Lectures  lectures.LectureRepo
	Retriever *retrieval.Retriever
	Prompts   *prompts.Set
	Provider  Provider
	Titles    *TitleInferer
	Trigger   Trigger
	Indexer   *retrieval.Indexer
	Events    Events
	Metrics   *observability.Metrics

	Fanout          int
	ContextMax      int
	FollowupTimeout time.Duration
}

// Streamer generates a slide summary while a client watches.
type Streamer struct {
	log       *logger.Logger
	slides    lectures.SlideRepo
	lectures  lectures.LectureRepo
	retriever *retrieval.Retriever
	prompts   *prompts.Set
	provider  Provider
	events    Events
	metrics   *observability.Metrics
	ctxMax    int
	after     *followups
}

func NewStreamer(d StreamerDeps) *Streamer {
	fanout := d.Fanout
	if fanout <= 0 {
		fanout = DefaultFanout
	}
	timeout := d.FollowupTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	log := d.Log.With("service", "SummaryStreamer")
	return &Streamer{
		log:       log,
		slides:    d.Slides,
		lectures:  d.Lectures,
		retriever: d.Retriever,
		prompts:   d.Prompts,
		provider:  d.Provider,
		events:    d.Events,
		metrics:   d.Metrics,
		ctxMax:    d.ContextMax,
		after: &followups{
			log:     log,
			titles:  d.Titles,
			trigger: d.Trigger,
			indexer: d.Indexer,
			events:  d.Events,
			fanout:  fanout,
			timeout: timeout,
		},
	}
}

// Wait blocks until follow-up work of finished streams is done.
func (s *Streamer) Wait() { s.after.wait() }

/*
Stream drives one slide through IDLE -> STREAMING -> SAVED | SAVE_FAILED.

A slide that is already READY is replayed instead. Generation and the final
write run on a context detached from ctx, so a client that leaves mid-stream
still gets a stored summary when it comes back. Every path ends with an end or
error event.
*/
func (s *Streamer) Stream(ctx context.Context, slideID uuid.UUID, sink *SwitchSink) State {
	spanCtx, span := observability.StartSpan(ctx, "summary.stream", attribute.String("slide.id", slideID.String()))
	defer span.End()

	state := s.stream(spanCtx, slideID, sink)
	span.SetAttributes(attribute.String("stream.state", string(state)))
	if state == StateSaveFailed || state == StateRejected {
		span.SetStatus(codes.Error, string(state))
	}
	s.metrics.IncStream("summary", string(state))
	return state
}

func (s *Streamer) stream(ctx context.Context, slideID uuid.UUID, sink *SwitchSink) State {
	slide, err := s.slides.GetByID(dbctx.Context{Ctx: ctx}, slideID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			_ = sink.Send(messageEvent(EventError, msgSlideNotFound))
			return StateRejected
		}
		s.log.Error("load slide failed", "slide_id", slideID, "error", err)
		_ = sink.Send(messageEvent(EventError, msgGenerateFailed))
		return StateRejected
	}
	if slide.HasSummary() {
		return s.replay(slide, sink)
	}
	if strings.TrimSpace(slide.Base64) == "" {
		_ = sink.Send(messageEvent(EventError, msgImageNotFound))
		return StateRejected
	}

	log := s.log.With("slide_id", slide.ID, "lecture_id", slide.LectureID, "slide_number", slide.SlideNumber)

	var (
		prior   []retrieval.ContextSlide
		lecture *types.Lecture
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		prior, err = s.retriever.GetContext(gctx, slide.LectureID, slide.SlideNumber, s.ctxMax)
		return err
	})
	g.Go(func() error {
		var err error
		lecture, err = s.lectures.GetByID(dbctx.Context{Ctx: gctx}, slide.LectureID)
		return err
	})
	if err := g.Wait(); err != nil {
		log.Error("load prompt context failed", "error", err)
		_ = sink.Send(messageEvent(EventError, msgGenerateFailed))
		return StateRejected
	}

	claimed, err := s.slides.ClaimForStreaming(dbctx.Context{Ctx: ctx}, slide.ID)
	if err != nil {
		log.Error("claim slide failed", "error", err)
		_ = sink.Send(messageEvent(EventError, msgGenerateFailed))
		return StateRejected
	}
	if !claimed {
		// Someone finished it between our read and the claim.
		if fresh, err := s.slides.GetByID(dbctx.Context{Ctx: ctx}, slide.ID); err == nil && fresh.HasSummary() {
			return s.replay(fresh, sink)
		}
		_ = sink.Send(messageEvent(EventError, msgGenerateFailed))
		return StateRejected
	}

	// From here on the client going away must not stop generation or the write.
	work := ctxutil.Detached(ctx)
	req := openai.Request{Messages: s.prompts.SummaryMessages(retrieval.Chronological(prior), slide.Base64)}
	start := time.Now()
	text, err := s.provider.Stream(work, req, func(delta string) {
		_ = sink.Send(tokenEvent(delta))
	})
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("empty completion")
	}
	if err != nil {
		log.Warn("summary generation failed", "error", err, "elapsed", time.Since(start).String())
		s.fail(work, slide, err.Error())
		_ = sink.Send(messageEvent(EventError, msgGenerateFailed))
		return StateSaveFailed
	}

	won, err := s.slides.SaveSummary(dbctx.Context{Ctx: work}, slide.ID, text, lectures.WriteInteractive)
	if err != nil {
		log.Error("save summary failed", "error", err)
		s.fail(work, slide, err.Error())
		_ = sink.Send(messageEvent(EventError, msgSaveFailed))
		return StateSaveFailed
	}
	_ = sink.Send(messageEvent(EventEnd, msgStreamComplete))
	if !won {
		log.Debug("summary already written by another producer")
		s.after.spawn(work, slide, followupPlan{schedule: true, lostRace: true})
		return StateSaved
	}

	slide.Content = domlectures.EncodeTurns([]string{text})
	slide.TurnCount = 1
	s.after.spawn(work, slide, followupPlan{
		title:    slide.SlideNumber == 1 && lecture != nil && !lecture.TitleInferred,
		schedule: true,
	})
	return StateSaved
}

func (s *Streamer) replay(slide *types.Slide, sink *SwitchSink) State {
	_ = sink.Send(tokenEvent(slide.Summary()))
	_ = sink.Send(messageEvent(EventEnd, msgStreamComplete))
	return StateReplayed
}

func (s *Streamer) fail(ctx context.Context, slide *types.Slide, reason string) {
	ok, err := s.slides.MarkFailed(dbctx.Context{Ctx: ctx}, slide.ID, lectures.WriteInteractive)
	if err != nil {
		s.log.Error("mark slide failed errored", "slide_id", slide.ID, "error", err)
		return
	}
	if ok && s.events != nil {
		s.events.SlideFailed(ctx, slide, reason)
	}
}
