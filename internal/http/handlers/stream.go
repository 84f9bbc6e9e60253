package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/yungbote/slidestream-backend/internal/domain"
	"github.com/yungbote/slidestream-backend/internal/http/response"
	"github.com/yungbote/slidestream-backend/internal/modules/lectures/summaries"
	"github.com/yungbote/slidestream-backend/internal/pkg/ctxutil"
	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
)

type SlideAuthorizer interface {
	AuthorizeSlide(ctx context.Context, userID, slideID uuid.UUID) (*types.Slide, error)
}

type SummaryStreamer interface {
	Stream(ctx context.Context, slideID uuid.UUID, sink *summaries.SwitchSink) summaries.State
}

type ConversationStreamer interface {
	Stream(ctx context.Context, slideID uuid.UUID, query string, sink *summaries.SwitchSink) summaries.State
}

type StreamHandler struct {
	log          *logger.Logger
	slides       SlideAuthorizer
	summary      SummaryStreamer
	conversation ConversationStreamer
}

func NewStreamHandler(log *logger.Logger, slides SlideAuthorizer, summary SummaryStreamer, conversation ConversationStreamer) *StreamHandler {
	return &StreamHandler{
		log:          log.With("handler", "StreamHandler"),
		slides:       slides,
		summary:      summary,
		conversation: conversation,
	}
}

// GET /api/slides/:id/summary/stream
func (h *StreamHandler) SummaryStream(c *gin.Context) {
	slideID, ok := h.authorize(c)
	if !ok {
		return
	}
	sink, stop := streamTo(c)
	defer stop()
	state := h.summary.Stream(c.Request.Context(), slideID, sink)
	h.log.Debug("summary stream finished", "slide_id", slideID, "state", state, "connected", sink.Connected())
}

// GET /api/slides/:id/conversation/stream?query=...
func (h *StreamHandler) ConversationStream(c *gin.Context) {
	slideID, ok := h.authorize(c)
	if !ok {
		return
	}
	query := strings.TrimSpace(c.Query("query"))
	sink, stop := streamTo(c)
	defer stop()
	state := h.conversation.Stream(c.Request.Context(), slideID, query, sink)
	h.log.Debug("conversation stream finished", "slide_id", slideID, "state", state, "connected", sink.Connected())
}

// authorize runs before any SSE header is written so failures are plain JSON.
func (h *StreamHandler) authorize(c *gin.Context) (uuid.UUID, bool) {
	slideID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_slide_id", err)
		return uuid.Nil, false
	}
	if _, err := h.slides.AuthorizeSlide(c.Request.Context(), ctxutil.UserID(c.Request.Context()), slideID); err != nil {
		response.RespondFromError(c, "slide_not_found", err)
		return uuid.Nil, false
	}
	return slideID, true
}
