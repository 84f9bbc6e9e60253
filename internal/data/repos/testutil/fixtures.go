package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/slidestream-backend/internal/domain"
	"github.com/yungbote/slidestream-backend/internal/domain/lectures"
)

// SeedLecture creates a READY lecture with numSlides empty slides numbered 1..numSlides.
func SeedLecture(tb testing.TB, ctx context.Context, tx *gorm.DB, numSlides int) *types.Lecture {
	tb.Helper()
	n := numSlides
	lec := &types.Lecture{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		Title:     "Untitled lecture",
		NumSlides: &n,
		Status:    lectures.LectureReady,
	}
	if err := tx.WithContext(ctx).Create(lec).Error; err != nil {
		tb.Fatalf("seed lecture: %v", err)
	}
	for i := 1; i <= numSlides; i++ {
		SeedSlide(tb, ctx, tx, lec.ID, i, nil)
	}
	return lec
}

// SeedSlide creates a slide with the given content; nil means an empty slide.
func SeedSlide(tb testing.TB, ctx context.Context, tx *gorm.DB, lectureID uuid.UUID, number int, turns []string) *types.Slide {
	tb.Helper()
	s := &types.Slide{
		ID:          uuid.New(),
		LectureID:   lectureID,
		SlideNumber: number,
		Base64:      "aW1hZ2U=",
		Content:     lectures.EncodeTurns(turns),
		TurnCount:   len(turns),
	}
	if len(turns) > 0 {
		ready := lectures.GenerateReady
		s.GenerateStatus = &ready
	}
	if err := tx.WithContext(ctx).Create(s).Error; err != nil {
		tb.Fatalf("seed slide: %v", err)
	}
	return s
}

// FillSlide stores a summary on an existing slide.
func FillSlide(tb testing.TB, ctx context.Context, tx *gorm.DB, lectureID uuid.UUID, number int, summary string) {
	tb.Helper()
	err := tx.WithContext(ctx).Model(&types.Slide{}).
		Where("lecture_id = ? AND slide_number = ?", lectureID, number).
		Updates(map[string]interface{}{
			"content":         lectures.EncodeTurns([]string{summary}),
			"turn_count":      1,
			"generate_status": lectures.GenerateReady,
		}).Error
	if err != nil {
		tb.Fatalf("fill slide: %v", err)
	}
}
