package retrieval

import (
	"context"

	"github.com/google/uuid"

	"github.com/yungbote/slidestream-backend/internal/data/repos/lectures"
	"github.com/yungbote/slidestream-backend/internal/pkg/dbctx"
)

// DefaultMaxContext bounds how many earlier slides feed a prompt.
const DefaultMaxContext = 20

// ContextSlide is an earlier slide whose summary is replayed as prompt context.
type ContextSlide struct {
	SlideNumber int
	Summary     string
	Base64      string
}

type Retriever struct {
	slides lectures.SlideRepo
}

func NewRetriever(slides lectures.SlideRepo) *Retriever {
	return &Retriever{slides: slides}
}

// GetContext returns up to max summarized slides before slideNumber, nearest first.
func (r *Retriever) GetContext(ctx context.Context, lectureID uuid.UUID, slideNumber int, max int) ([]ContextSlide, error) {
	if max <= 0 {
		max = DefaultMaxContext
	}
	if slideNumber <= 1 {
		return []ContextSlide{}, nil
	}
	rows, err := r.slides.ListContext(dbctx.Context{Ctx: ctx}, lectureID, slideNumber, max)
	if err != nil {
		return nil, err
	}
	out := make([]ContextSlide, 0, len(rows))
	for _, s := range rows {
		summary := s.Summary()
		if summary == "" {
			continue
		}
		out = append(out, ContextSlide{SlideNumber: s.SlideNumber, Summary: summary, Base64: s.Base64})
	}
	return out, nil
}

// Chronological returns a copy of in ordered by ascending slide number.
func Chronological(in []ContextSlide) []ContextSlide {
	out := make([]ContextSlide, len(in))
	for i, s := range in {
		out[len(in)-1-i] = s
	}
	return out
}
