package lectures

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/slidestream-backend/internal/domain"
	"github.com/yungbote/slidestream-backend/internal/domain/lectures"
	"github.com/yungbote/slidestream-backend/internal/pkg/dbctx"
	apperr "github.com/yungbote/slidestream-backend/internal/pkg/errors"
	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
)

// ErrAlternation rejects a turn append whose expected length breaks the
// summary/question/answer alternation.
var ErrAlternation = fmt.Errorf("%w: content length breaks turn alternation", apperr.ErrInvalidArgument)

// WriteMode selects the precondition a first write of content[0] is guarded by.
type WriteMode int

const (
	// WriteBackground only lands on slides nobody has touched, whose previous
	// attempt failed, or whose PROCESSING claim went stale. It never overwrites
	// a live PROCESSING claim nor READY.
	WriteBackground WriteMode = iota
	// WriteInteractive lands on any slide that has no summary and is not READY.
	WriteInteractive
)

type SlideRepo interface {
	Create(dbc dbctx.Context, slides []*types.Slide) ([]*types.Slide, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Slide, error)
	GetByNumber(dbc dbctx.Context, lectureID uuid.UUID, slideNumber int) (*types.Slide, error)
	GetByNumbers(dbc dbctx.Context, lectureID uuid.UUID, slideNumbers []int) ([]*types.Slide, error)
	ListByLecture(dbc dbctx.Context, lectureID uuid.UUID) ([]*types.Slide, error)
	// ListContext returns filled slides before slideNumber, nearest first.
	ListContext(dbc dbctx.Context, lectureID uuid.UUID, slideNumber int, limit int) ([]*types.Slide, error)
	ClaimForStreaming(dbc dbctx.Context, id uuid.UUID) (bool, error)
	SaveSummary(dbc dbctx.Context, id uuid.UUID, summary string, mode WriteMode) (bool, error)
	MarkFailed(dbc dbctx.Context, id uuid.UUID, mode WriteMode) (bool, error)
	AppendTurn(dbc dbctx.Context, id uuid.UUID, expectedLen int, question, answer string) (bool, error)
	DeleteByLecture(dbc dbctx.Context, lectureID uuid.UUID) error
}

type slideRepo struct {
	db       *gorm.DB
	log      *logger.Logger
	claimTTL time.Duration
}

type SlideRepoOption func(*slideRepo)

// WithClaimTTL sets how long a PROCESSING claim without updates holds off
// background writers.
func WithClaimTTL(d time.Duration) SlideRepoOption {
	return func(r *slideRepo) {
		if d > 0 {
			r.claimTTL = d
		}
	}
}

func NewSlideRepo(db *gorm.DB, baseLog *logger.Logger, opts ...SlideRepoOption) SlideRepo {
	r := &slideRepo{
		db:       db,
		log:      baseLog.With("repo", "SlideRepo"),
		claimTTL: lectures.DefaultClaimTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *slideRepo) Create(dbc dbctx.Context, slides []*types.Slide) ([]*types.Slide, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(slides) == 0 {
		return []*types.Slide{}, nil
	}
	for _, s := range slides {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		if len(s.Content) == 0 {
			s.Content = lectures.EncodeTurns(nil)
		}
		s.TurnCount = len(s.Turns())
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&slides).Error; err != nil {
		return nil, err
	}
	return slides, nil
}

func (r *slideRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Slide, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var s types.Slide
	err := transaction.WithContext(dbc.Ctx).Where("id = ?", id).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("slide %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *slideRepo) GetByNumber(dbc dbctx.Context, lectureID uuid.UUID, slideNumber int) (*types.Slide, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var s types.Slide
	err := transaction.WithContext(dbc.Ctx).
		Where("lecture_id = ? AND slide_number = ?", lectureID, slideNumber).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("slide %d of lecture %s: %w", slideNumber, lectureID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *slideRepo) GetByNumbers(dbc dbctx.Context, lectureID uuid.UUID, slideNumbers []int) ([]*types.Slide, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Slide
	if len(slideNumbers) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("lecture_id = ? AND slide_number IN ?", lectureID, slideNumbers).
		Order("slide_number ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *slideRepo) ListByLecture(dbc dbctx.Context, lectureID uuid.UUID) ([]*types.Slide, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Slide
	if err := transaction.WithContext(dbc.Ctx).
		Where("lecture_id = ?", lectureID).
		Order("slide_number ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *slideRepo) ListContext(dbc dbctx.Context, lectureID uuid.UUID, slideNumber int, limit int) ([]*types.Slide, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Slide
	q := transaction.WithContext(dbc.Ctx).
		Where("lecture_id = ? AND slide_number < ? AND turn_count > 0", lectureID, slideNumber).
		Order("slide_number DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ClaimForStreaming marks an unsummarized slide PROCESSING.
func (r *slideRepo) ClaimForStreaming(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	return r.conditionalUpdate(dbc, id, WriteInteractive, map[string]interface{}{
		"generate_status": lectures.GenerateProcessing,
	})
}

// SaveSummary writes content[0]. A false result means another writer won or the
// slide is owned by someone else; callers treat it as a no-op.
func (r *slideRepo) SaveSummary(dbc dbctx.Context, id uuid.UUID, summary string, mode WriteMode) (bool, error) {
	return r.conditionalUpdate(dbc, id, mode, map[string]interface{}{
		"content":         lectures.EncodeTurns([]string{summary}),
		"turn_count":      1,
		"generate_status": lectures.GenerateReady,
	})
}

// MarkFailed records FAILED without touching content. The background mode only
// lands on slides that were never claimed or whose claim went stale, so it cannot
// clobber an in-flight stream.
func (r *slideRepo) MarkFailed(dbc dbctx.Context, id uuid.UUID, mode WriteMode) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(dbc.Ctx).
		Model(&types.Slide{}).
		Where("id = ? AND turn_count = 0", id)
	switch mode {
	case WriteBackground:
		q = q.Where("(generate_status IS NULL OR (generate_status = ? AND updated_at < ?))",
			lectures.GenerateProcessing, time.Now().Add(-r.claimTTL))
	default:
		q = q.Where("(generate_status IS NULL OR generate_status <> ?)", lectures.GenerateReady)
	}
	res := q.Updates(map[string]interface{}{
		"generate_status": lectures.GenerateFailed,
		"updated_at":      time.Now(),
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *slideRepo) conditionalUpdate(dbc dbctx.Context, id uuid.UUID, mode WriteMode, updates map[string]interface{}) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	q := transaction.WithContext(dbc.Ctx).
		Model(&types.Slide{}).
		Where("id = ? AND turn_count = 0", id)
	switch mode {
	case WriteBackground:
		q = q.Where("(generate_status IS NULL OR generate_status = ? OR (generate_status = ? AND updated_at < ?))",
			lectures.GenerateFailed, lectures.GenerateProcessing, time.Now().Add(-r.claimTTL))
	default:
		q = q.Where("(generate_status IS NULL OR generate_status <> ?)", lectures.GenerateReady)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// AppendTurn appends a question/answer pair when the slide still holds exactly
// expectedLen entries. expectedLen must be odd: a summary plus whole pairs.
func (r *slideRepo) AppendTurn(dbc dbctx.Context, id uuid.UUID, expectedLen int, question, answer string) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if expectedLen < 1 || expectedLen%2 != 1 {
		return false, ErrAlternation
	}
	var appended bool
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var s types.Slide
		if err := txx.Where("id = ?", id).First(&s).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("slide %s: %w", id, apperr.ErrNotFound)
			}
			return err
		}
		turns := s.Turns()
		if s.TurnCount != expectedLen || len(turns) != expectedLen {
			return nil
		}
		turns = append(turns, question, answer)
		res := txx.Model(&types.Slide{}).
			Where("id = ? AND turn_count = ?", id, expectedLen).
			Updates(map[string]interface{}{
				"content":    lectures.EncodeTurns(turns),
				"turn_count": len(turns),
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		appended = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return appended, nil
}

func (r *slideRepo) DeleteByLecture(dbc dbctx.Context, lectureID uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).
		Where("lecture_id = ?", lectureID).
		Delete(&types.Slide{}).Error
}
