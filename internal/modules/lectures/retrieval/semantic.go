package retrieval

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/slidestream-backend/internal/data/repos/lectures"
	types "github.com/yungbote/slidestream-backend/internal/domain"
	"github.com/yungbote/slidestream-backend/internal/pkg/dbctx"
	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
	"github.com/yungbote/slidestream-backend/internal/platform/pinecone"
)

const (
	// Namespace holds one vector per summarized slide.
	Namespace     = "slides"
	DefaultTopK   = 3
	metaLectureID = "lecture_id"
	metaSlideNum  = "slide_number"
)

type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// VectorID is the id a slide summary is stored under.
func VectorID(lectureID uuid.UUID, slideNumber int) string {
	return fmt.Sprintf("%s_%d", lectureID, slideNumber)
}

type SemanticRetriever struct {
	log    *logger.Logger
	slides lectures.SlideRepo
	emb    Embedder
	vec    pinecone.VectorStore
}

func NewSemanticRetriever(log *logger.Logger, slides lectures.SlideRepo, emb Embedder, vec pinecone.VectorStore) *SemanticRetriever {
	return &SemanticRetriever{
		log:    log.With("service", "SemanticRetriever"),
		slides: slides,
		emb:    emb,
		vec:    vec,
	}
}

// Related returns summaries of earlier slides closest to query. Any failure
// degrades to an empty result.
func (r *SemanticRetriever) Related(ctx context.Context, lectureID uuid.UUID, slideNumber int, query string, topK int) []ContextSlide {
	if r == nil || r.emb == nil || r.vec == nil || strings.TrimSpace(query) == "" || slideNumber <= 1 {
		return []ContextSlide{}
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	out, err := r.related(ctx, lectureID, slideNumber, query, topK)
	if err != nil {
		r.log.Warn("semantic context unavailable", "lecture_id", lectureID, "slide_number", slideNumber, "error", err)
		return []ContextSlide{}
	}
	return out
}

func (r *SemanticRetriever) related(ctx context.Context, lectureID uuid.UUID, slideNumber int, query string, topK int) ([]ContextSlide, error) {
	vecs, err := r.emb.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embed query: empty response")
	}
	matches, err := r.vec.QueryMatches(ctx, Namespace, vecs[0], topK, map[string]any{
		metaLectureID: lectureID.String(),
		metaSlideNum:  map[string]any{"$lt": slideNumber},
	})
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	numbers := make([]int, 0, len(matches))
	rank := map[int]int{}
	for _, m := range matches {
		n, ok := slideNumberOf(m.Metadata[metaSlideNum])
		if !ok || n >= slideNumber {
			continue
		}
		if _, seen := rank[n]; seen {
			continue
		}
		rank[n] = len(numbers)
		numbers = append(numbers, n)
	}
	if len(numbers) == 0 {
		return []ContextSlide{}, nil
	}

	rows, err := r.slides.GetByNumbers(dbctx.Context{Ctx: ctx}, lectureID, numbers)
	if err != nil {
		return nil, err
	}
	out := make([]ContextSlide, len(numbers))
	found := make([]bool, len(numbers))
	for _, s := range rows {
		i, ok := rank[s.SlideNumber]
		if !ok || !s.HasSummary() {
			continue
		}
		out[i] = ContextSlide{SlideNumber: s.SlideNumber, Summary: s.Summary(), Base64: s.Base64}
		found[i] = true
	}
	compact := out[:0]
	for i, s := range out {
		if found[i] {
			compact = append(compact, s)
		}
	}
	return compact, nil
}

// Metadata numbers come back from JSON as float64, or as strings when
// written by older indexers.
func slideNumberOf(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	default:
		return 0, false
	}
}

// Indexer stores an embedding of each finished summary.
type Indexer struct {
	log *logger.Logger
	emb Embedder
	vec pinecone.VectorStore
}

func NewIndexer(log *logger.Logger, emb Embedder, vec pinecone.VectorStore) *Indexer {
	return &Indexer{log: log.With("service", "SummaryIndexer"), emb: emb, vec: vec}
}

// Enabled is false when no vector store is configured.
func (x *Indexer) Enabled() bool {
	return x != nil && x.emb != nil && x.vec != nil
}

func (x *Indexer) IndexSummary(ctx context.Context, slide *types.Slide) error {
	if !x.Enabled() || slide == nil {
		return nil
	}
	summary := slide.Summary()
	if strings.TrimSpace(summary) == "" {
		return nil
	}
	vecs, err := x.emb.Embed(ctx, []string{summary})
	if err != nil {
		return fmt.Errorf("embed summary: %w", err)
	}
	if len(vecs) == 0 {
		return fmt.Errorf("embed summary: empty response")
	}
	return x.vec.Upsert(ctx, Namespace, []pinecone.Vector{{
		ID:     VectorID(slide.LectureID, slide.SlideNumber),
		Values: vecs[0],
		Metadata: map[string]any{
			metaLectureID: slide.LectureID.String(),
			metaSlideNum:  slide.SlideNumber,
		},
	}})
}

// DeleteLecture drops every vector of a lecture.
func (x *Indexer) DeleteLecture(ctx context.Context, lectureID uuid.UUID) error {
	if !x.Enabled() {
		return nil
	}
	return x.vec.DeleteByFilter(ctx, Namespace, map[string]any{metaLectureID: lectureID.String()})
}
