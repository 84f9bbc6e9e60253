package realtime

import (
	"context"
	"time"

	"github.com/google/uuid"

	types "github.com/yungbote/slidestream-backend/internal/domain"
	"github.com/yungbote/slidestream-backend/internal/pkg/ctxutil"
	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
)

// Publisher fans a message out to every instance, this one included.
type Publisher interface {
	Publish(ctx context.Context, msg SSEMessage) error
}

// Emitter turns lecture and job transitions into SSE messages. Without a
// publisher it broadcasts on the local hub only.
type Emitter struct {
	log *logger.Logger
	hub *SSEHub
	pub Publisher
}

func NewEmitter(log *logger.Logger, hub *SSEHub, pub Publisher) *Emitter {
	return &Emitter{log: log.With("component", "RealtimeEmitter"), hub: hub, pub: pub}
}

func (e *Emitter) Emit(ctx context.Context, msg SSEMessage) {
	if e == nil {
		return
	}
	if e.pub != nil {
		ctx, cancel := context.WithTimeout(ctxutil.Detached(ctx), 3*time.Second)
		defer cancel()
		err := e.pub.Publish(ctx, msg)
		if err == nil {
			return
		}
		e.log.Warn("realtime publish failed; broadcasting locally", "channel", msg.Channel, "event", msg.Event, "error", err)
	}
	if e.hub != nil {
		e.hub.Broadcast(msg)
	}
}

func (e *Emitter) SlideReady(ctx context.Context, slide *types.Slide) {
	if slide == nil {
		return
	}
	e.Emit(ctx, SSEMessage{
		Channel: LectureChannel(slide.LectureID),
		Event:   SSEEventSlideReady,
		Data:    map[string]any{"slide_id": slide.ID, "slide_number": slide.SlideNumber},
	})
}

func (e *Emitter) SlideFailed(ctx context.Context, slide *types.Slide, reason string) {
	if slide == nil {
		return
	}
	e.Emit(ctx, SSEMessage{
		Channel: LectureChannel(slide.LectureID),
		Event:   SSEEventSlideFailed,
		Data:    map[string]any{"slide_id": slide.ID, "slide_number": slide.SlideNumber, "error": reason},
	})
}

func (e *Emitter) LectureTitled(ctx context.Context, lectureID uuid.UUID, title string) {
	e.Emit(ctx, SSEMessage{
		Channel: LectureChannel(lectureID),
		Event:   SSEEventLectureTitled,
		Data:    map[string]any{"lecture_id": lectureID, "title": title},
	})
}

// JobSucceeded and JobFailed make Emitter a job runtime notifier.
func (e *Emitter) JobSucceeded(job *types.JobRun) {
	if job == nil || job.EntityID == nil {
		return
	}
	e.Emit(context.Background(), SSEMessage{
		Channel: LectureChannel(*job.EntityID),
		Event:   SSEEventJobSucceeded,
		Data:    map[string]any{"job_key": job.JobKey, "job_type": job.JobType},
	})
}

func (e *Emitter) JobFailed(job *types.JobRun, msg string) {
	if job == nil || job.EntityID == nil {
		return
	}
	e.Emit(context.Background(), SSEMessage{
		Channel: LectureChannel(*job.EntityID),
		Event:   SSEEventJobFailed,
		Data:    map[string]any{"job_key": job.JobKey, "job_type": job.JobType, "attempts": job.Attempts, "error": msg},
	})
}
