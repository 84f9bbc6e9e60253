package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/yungbote/slidestream-backend/internal/domain"
	"github.com/yungbote/slidestream-backend/internal/http/response"
	"github.com/yungbote/slidestream-backend/internal/pkg/ctxutil"
	apperr "github.com/yungbote/slidestream-backend/internal/pkg/errors"
	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
	"github.com/yungbote/slidestream-backend/internal/realtime"
)

var errInvalidChannel = fmt.Errorf("%w: channel must be your user id or lecture:<id>", apperr.ErrInvalidArgument)

// LectureOwnership gates lecture channel subscriptions.
type LectureOwnership interface {
	Get(ctx context.Context, userID, lectureID uuid.UUID) (*types.Lecture, error)
}

type RealtimeHandler struct {
	log      *logger.Logger
	hub      *realtime.SSEHub
	lectures LectureOwnership

	mu      sync.RWMutex
	clients map[uuid.UUID]*realtime.SSEClient // key: session id
}

func NewRealtimeHandler(log *logger.Logger, hub *realtime.SSEHub, lectures LectureOwnership) *RealtimeHandler {
	return &RealtimeHandler{
		log:      log.With("handler", "RealtimeHandler"),
		hub:      hub,
		lectures: lectures,
		clients:  make(map[uuid.UUID]*realtime.SSEClient),
	}
}

// GET /api/sse/stream
func (h *RealtimeHandler) SSEStream(c *gin.Context) {
	userID, sessionID, ok := identity(c)
	if !ok {
		return
	}

	h.mu.Lock()
	// A reconnecting session replaces its previous client.
	if existing, ok := h.clients[sessionID]; ok {
		h.hub.CloseClient(existing)
	}
	client := h.hub.NewSSEClient(userID)
	h.clients[sessionID] = client
	h.mu.Unlock()

	h.hub.AddChannel(client, userID.String())
	h.log.Debug("SSE stream open", "user_id", userID, "session_id", sessionID, "client_id", client.ID)

	h.hub.ServeHTTP(c.Writer, c.Request, client)

	h.mu.Lock()
	if h.clients[sessionID] == client {
		delete(h.clients, sessionID)
	}
	h.mu.Unlock()
	h.hub.CloseClient(client)
}

type channelRequest struct {
	Channel string `json:"channel"`
}

// POST /api/sse/subscribe
func (h *RealtimeHandler) SSESubscribe(c *gin.Context) {
	userID, sessionID, ok := identity(c)
	if !ok {
		return
	}
	channel, ok := bindChannel(c)
	if !ok {
		return
	}
	if err := h.authorizeChannel(c.Request.Context(), userID, channel); err != nil {
		response.RespondFromError(c, "channel_forbidden", err)
		return
	}
	client, ok := h.client(c, sessionID)
	if !ok {
		return
	}
	h.hub.AddChannel(client, channel)
	response.RespondOK(c, gin.H{"message": "subscribed", "channel": channel})
}

// POST /api/sse/unsubscribe
func (h *RealtimeHandler) SSEUnsubscribe(c *gin.Context) {
	_, sessionID, ok := identity(c)
	if !ok {
		return
	}
	channel, ok := bindChannel(c)
	if !ok {
		return
	}
	client, ok := h.client(c, sessionID)
	if !ok {
		return
	}
	h.hub.RemoveChannel(client, channel)
	response.RespondOK(c, gin.H{"message": "unsubscribed", "channel": channel})
}

// authorizeChannel allows the caller's own user channel and lectures they own.
func (h *RealtimeHandler) authorizeChannel(ctx context.Context, userID uuid.UUID, channel string) error {
	if channel == userID.String() {
		return nil
	}
	raw, found := strings.CutPrefix(channel, "lecture:")
	if !found {
		return errInvalidChannel
	}
	lectureID, err := uuid.Parse(raw)
	if err != nil {
		return errInvalidChannel
	}
	_, err = h.lectures.Get(ctx, userID, lectureID)
	return err
}

func (h *RealtimeHandler) client(c *gin.Context, sessionID uuid.UUID) (*realtime.SSEClient, bool) {
	h.mu.RLock()
	client, exists := h.clients[sessionID]
	h.mu.RUnlock()
	if !exists {
		response.RespondError(c, http.StatusConflict, "no_stream", errors.New("no active SSE connection for this session"))
		return nil, false
	}
	return client, true
}

func identity(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	ctx := c.Request.Context()
	userID, sessionID := ctxutil.UserID(ctx), ctxutil.SessionID(ctx)
	if userID == uuid.Nil || sessionID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("not authenticated"))
		return uuid.Nil, uuid.Nil, false
	}
	return userID, sessionID, true
}

func bindChannel(c *gin.Context) (string, bool) {
	var req channelRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Channel) == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_channel", errInvalidChannel)
		return "", false
	}
	return strings.TrimSpace(req.Channel), true
}
