// Package summaries produces slide summaries and follow-up answers, either
// streamed to a waiting client or generated by background jobs.
package summaries

import (
	"context"

	"github.com/google/uuid"

	"github.com/yungbote/slidestream-backend/internal/data/repos/jobs"
	types "github.com/yungbote/slidestream-backend/internal/domain"
	"github.com/yungbote/slidestream-backend/internal/platform/openai"
)

const (
	msgImageNotFound  = "Image not found for this slide"
	msgSlideNotFound  = "Slide not found"
	msgNoSummary      = "No existing summary or conversation for this slide."
	msgNoQuery        = "No query provided"
	msgGenerateFailed = "Failed to generate summary for this slide"
	msgSaveFailed     = "Failed to save summary for this slide"
	msgConflict       = "This conversation changed while answering. Please ask again."
	msgStreamComplete = "Stream complete"
)

// Provider is the generation backend.
type Provider interface {
	Complete(ctx context.Context, req openai.Request) (string, error)
	Stream(ctx context.Context, req openai.Request, onDelta func(delta string)) (string, error)
	CompleteJSON(ctx context.Context, req openai.Request, schemaName string, schema map[string]any, out any) error
}

// Trigger schedules background generation after completedSlide.
type Trigger interface {
	Schedule(ctx context.Context, lectureID uuid.UUID, completedSlide int, fanout int) (jobs.EnqueueResult, error)
}

// Events receives slide and lecture transitions. It may be nil.
type Events interface {
	SlideReady(ctx context.Context, slide *types.Slide)
	SlideFailed(ctx context.Context, slide *types.Slide, reason string)
	LectureTitled(ctx context.Context, lectureID uuid.UUID, title string)
}

// State is where a stream ended.
type State string

const (
	StateIdle       State = "idle"
	StateStreaming  State = "streaming"
	StateSaved      State = "saved"
	StateSaveFailed State = "save_failed"
	StateReplayed   State = "replayed"
	StateRejected   State = "rejected"
)
