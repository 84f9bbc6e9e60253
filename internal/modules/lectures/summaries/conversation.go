package summaries

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/slidestream-backend/internal/data/repos/lectures"
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

type ConversationDeps struct {
	Log      *logger.Logger
	Slides   lectures.SlideRepo
	Semantic *retrieval.SemanticRetriever
	Prompts  *prompts.Set
	Provider Provider
	Metrics  *observability.Metrics
}

// Conversation answers follow-up questions about a summarized slide.
type Conversation struct {
	log      *logger.Logger
	slides   lectures.SlideRepo
	semantic *retrieval.SemanticRetriever
	prompts  *prompts.Set
	provider Provider
	metrics  *observability.Metrics
}

func NewConversation(d ConversationDeps) *Conversation {
	return &Conversation{
		log:      d.Log.With("service", "SlideConversation"),
		slides:   d.Slides,
		semantic: d.Semantic,
		prompts:  d.Prompts,
		provider: d.Provider,
		metrics:  d.Metrics,
	}
}

// Stream answers query and appends the question/answer pair to the slide. The
// pair is only stored while the client is still connected.
func (c *Conversation) Stream(ctx context.Context, slideID uuid.UUID, query string, sink *SwitchSink) State {
	spanCtx, span := observability.StartSpan(ctx, "conversation.stream", attribute.String("slide.id", slideID.String()))
	defer span.End()
	state := c.stream(spanCtx, slideID, strings.TrimSpace(query), sink)
	span.SetAttributes(attribute.String("stream.state", string(state)))
	c.metrics.IncStream("conversation", string(state))
	return state
}

func (c *Conversation) stream(ctx context.Context, slideID uuid.UUID, query string, sink *SwitchSink) State {
	if query == "" {
		_ = sink.Send(messageEvent(EventError, msgNoQuery))
		return StateRejected
	}
	slide, err := c.slides.GetByID(dbctx.Context{Ctx: ctx}, slideID)
	if err != nil {
		msg := msgGenerateFailed
		if errors.Is(err, apperr.ErrNotFound) {
			msg = msgSlideNotFound
		}
		_ = sink.Send(messageEvent(EventError, msg))
		return StateRejected
	}
	if strings.TrimSpace(slide.Base64) == "" {
		_ = sink.Send(messageEvent(EventError, msgImageNotFound))
		return StateRejected
	}
	turns := slide.Turns()
	if len(turns) == 0 || !domlectures.ValidTurnCount(len(turns)) {
		_ = sink.Send(messageEvent(EventError, msgNoSummary))
		return StateRejected
	}

	log := c.log.With("slide_id", slide.ID, "lecture_id", slide.LectureID, "slide_number", slide.SlideNumber)
	related := c.semantic.Related(ctx, slide.LectureID, slide.SlideNumber, query, retrieval.DefaultTopK)

	work := ctxutil.Detached(ctx)
	req := openai.Request{Messages: c.prompts.ConversationMessages(slide.Base64, turns, query, related)}
	answer, err := c.provider.Stream(work, req, func(delta string) {
		_ = sink.Send(tokenEvent(delta))
	})
	if err == nil && strings.TrimSpace(answer) == "" {
		err = errors.New("empty completion")
	}
	if err != nil {
		log.Warn("conversation generation failed", "error", err)
		_ = sink.Send(messageEvent(EventError, c.prompts.RateLimited()))
		return StateSaveFailed
	}

	if !sink.Connected() {
		log.Debug("client left before the answer finished; not storing turn")
		return StateStreaming
	}
	ok, err := c.slides.AppendTurn(dbctx.Context{Ctx: work}, slide.ID, len(turns), query, answer)
	if err != nil {
		log.Error("append turn failed", "error", err)
		_ = sink.Send(messageEvent(EventError, msgSaveFailed))
		return StateSaveFailed
	}
	if !ok {
		_ = sink.Send(messageEvent(EventError, msgConflict))
		return StateSaveFailed
	}
	_ = sink.Send(messageEvent(EventEnd, msgStreamComplete))
	return StateSaved
}
