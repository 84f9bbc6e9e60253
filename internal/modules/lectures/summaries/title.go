package summaries

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/slidestream-backend/internal/data/repos/lectures"
	"github.com/yungbote/slidestream-backend/internal/modules/lectures/prompts"
	"github.com/yungbote/slidestream-backend/internal/pkg/dbctx"
	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
)

const DefaultTitleAttempts = 3

var titleSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"title": map[string]any{"type": "string"},
	},
	"required":             []string{"title"},
	"additionalProperties": false,
}

// TitleInferer names a lecture from the summary of its first slide.
type TitleInferer struct {
	log         *logger.Logger
	provider    Provider
	prompts     *prompts.Set
	lectures    lectures.LectureRepo
	events      Events
	maxAttempts int
}

func NewTitleInferer(log *logger.Logger, provider Provider, set *prompts.Set, lectureRepo lectures.LectureRepo, events Events) *TitleInferer {
	return &TitleInferer{
		log:         log.With("service", "TitleInferer"),
		provider:    provider,
		prompts:     set,
		lectures:    lectureRepo,
		events:      events,
		maxAttempts: DefaultTitleAttempts,
	}
}

// TitleTemperature is the sampling temperature of a 1-based attempt.
func TitleTemperature(attempt int) float64 {
	return 0.3 + 0.1*float64(attempt)
}

// Infer asks for a title until one validates or attempts run out.
func (t *TitleInferer) Infer(ctx context.Context, summary string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		title, err := t.attempt(ctx, summary, attempt)
		if err == nil {
			return title, nil
		}
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		lastErr = err
		t.log.Warn("title attempt failed", "attempt", attempt, "max_attempts", t.maxAttempts, "error", err)
	}
	msg := "unknown"
	if lastErr != nil {
		msg = lastErr.Error()
	}
	return "", fmt.Errorf("failed to generate valid title after %d attempts. Last error: %s", t.maxAttempts, msg)
}

func (t *TitleInferer) attempt(ctx context.Context, summary string, attempt int) (string, error) {
	var out struct {
		Title string `json:"title"`
	}
	req := t.prompts.TitleRequest(summary, attempt, TitleTemperature(attempt))
	if err := t.provider.CompleteJSON(ctx, req, "lecture_title", titleSchema, &out); err != nil {
		return "", err
	}
	title := strings.TrimSpace(out.Title)
	if title == "" {
		return "", fmt.Errorf("title is empty")
	}
	return title, nil
}

// Apply infers a title and stores it unless the lecture was already titled.
func (t *TitleInferer) Apply(ctx context.Context, lectureID uuid.UUID, summary string) error {
	title, err := t.Infer(ctx, summary)
	if err != nil {
		return err
	}
	ok, err := t.lectures.SetTitleOnce(dbctx.Context{Ctx: ctx}, lectureID, title)
	if err != nil {
		return err
	}
	if !ok {
		t.log.Debug("lecture already titled", "lecture_id", lectureID)
		return nil
	}
	if t.events != nil {
		t.events.LectureTitled(ctx, lectureID, title)
	}
	return nil
}
