package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/slidestream-backend/internal/data/repos/jobs"
	types "github.com/yungbote/slidestream-backend/internal/domain"
	"github.com/yungbote/slidestream-backend/internal/http/response"
	"github.com/yungbote/slidestream-backend/internal/modules/lectures/catalog"
	"github.com/yungbote/slidestream-backend/internal/pkg/ctxutil"
)

// LectureService is the catalog surface the lecture routes use.
type LectureService interface {
	Create(ctx context.Context, userID uuid.UUID, in catalog.CreateInput) (*types.Lecture, error)
	List(ctx context.Context, userID uuid.UUID) ([]*types.Lecture, error)
	Get(ctx context.Context, userID, lectureID uuid.UUID) (*types.Lecture, error)
	Slide(ctx context.Context, userID, lectureID uuid.UUID, number int) (*types.Slide, error)
	Schedule(ctx context.Context, userID, lectureID uuid.UUID, slideNumber, fanout int) (jobs.EnqueueResult, error)
	Delete(ctx context.Context, userID, lectureID uuid.UUID) error
}

type LectureHandler struct {
	lectures LectureService
}

func NewLectureHandler(lectures LectureService) *LectureHandler {
	return &LectureHandler{lectures: lectures}
}

type createLectureRequest struct {
	Title    string   `json:"title"`
	Slides   []string `json:"slides" binding:"required,min=1"`
	Prefetch bool     `json:"prefetch"`
}

// POST /api/lectures
func (h *LectureHandler) CreateLecture(c *gin.Context) {
	var req createLectureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	lec, err := h.lectures.Create(c.Request.Context(), ctxutil.UserID(c.Request.Context()), catalog.CreateInput{
		Title:    req.Title,
		Images:   req.Slides,
		Prefetch: req.Prefetch,
	})
	if err != nil {
		response.RespondFromError(c, "create_lecture_failed", err)
		return
	}
	response.RespondCreated(c, gin.H{"lecture": lec})
}

// GET /api/lectures
func (h *LectureHandler) ListLectures(c *gin.Context) {
	out, err := h.lectures.List(c.Request.Context(), ctxutil.UserID(c.Request.Context()))
	if err != nil {
		response.RespondFromError(c, "list_lectures_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"lectures": out})
}

// GET /api/lectures/:id
func (h *LectureHandler) GetLecture(c *gin.Context) {
	id, ok := parseID(c, "invalid_lecture_id")
	if !ok {
		return
	}
	lec, err := h.lectures.Get(c.Request.Context(), ctxutil.UserID(c.Request.Context()), id)
	if err != nil {
		response.RespondFromError(c, "lecture_not_found", err)
		return
	}
	response.RespondOK(c, gin.H{"lecture": lec})
}

// DELETE /api/lectures/:id
func (h *LectureHandler) DeleteLecture(c *gin.Context) {
	id, ok := parseID(c, "invalid_lecture_id")
	if !ok {
		return
	}
	if err := h.lectures.Delete(c.Request.Context(), ctxutil.UserID(c.Request.Context()), id); err != nil {
		response.RespondFromError(c, "delete_lecture_failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/lectures/:id/slides/:number
func (h *LectureHandler) GetSlide(c *gin.Context) {
	id, ok := parseID(c, "invalid_lecture_id")
	if !ok {
		return
	}
	n, err := strconv.Atoi(c.Param("number"))
	if err != nil || n < 1 {
		response.RespondError(c, http.StatusBadRequest, "invalid_slide_number", errors.New("slide number must be a positive integer"))
		return
	}
	slide, err := h.lectures.Slide(c.Request.Context(), ctxutil.UserID(c.Request.Context()), id, n)
	if err != nil {
		response.RespondFromError(c, "slide_not_found", err)
		return
	}
	response.RespondOK(c, gin.H{"slide": slideView(slide)})
}

type scheduleRequest struct {
	SlideNumber *int `json:"slide_number" binding:"required"`
	Fanout      int  `json:"fanout"`
}

// POST /api/lectures/:id/schedule
func (h *LectureHandler) Schedule(c *gin.Context) {
	id, ok := parseID(c, "invalid_lecture_id")
	if !ok {
		return
	}
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res, err := h.lectures.Schedule(c.Request.Context(), ctxutil.UserID(c.Request.Context()), id, *req.SlideNumber, req.Fanout)
	if err != nil {
		response.RespondFromError(c, "schedule_failed", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"created":  nonNil(res.Created),
		"requeued": nonNil(res.Requeued),
		"deduped":  nonNil(res.Deduped),
	})
}

// slideView leaves the image out; clients already hold the rendered deck.
func slideView(s *types.Slide) gin.H {
	return gin.H{
		"id":              s.ID,
		"lecture_id":      s.LectureID,
		"slide_number":    s.SlideNumber,
		"content":         s.Turns(),
		"generate_status": s.GenerateStatus,
	}
}

func parseID(c *gin.Context, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, code, err)
		return uuid.Nil, false
	}
	return id, true
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
