package lectures

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/slidestream-backend/internal/domain"
	"github.com/yungbote/slidestream-backend/internal/pkg/dbctx"
	apperr "github.com/yungbote/slidestream-backend/internal/pkg/errors"
	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
)

type LectureRepo interface {
	Create(dbc dbctx.Context, lecture *types.Lecture) (*types.Lecture, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Lecture, error)
	ListByUser(dbc dbctx.Context, userID uuid.UUID) ([]*types.Lecture, error)
	// GetNumSlides returns nil when extraction has not finished.
	GetNumSlides(dbc dbctx.Context, id uuid.UUID) (*int, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	// SetTitleOnce stores an inferred title unless one was already inferred.
	SetTitleOnce(dbc dbctx.Context, id uuid.UUID, title string) (bool, error)
	Delete(dbc dbctx.Context, id uuid.UUID) error
}

type lectureRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLectureRepo(db *gorm.DB, baseLog *logger.Logger) LectureRepo {
	return &lectureRepo{
		db:  db,
		log: baseLog.With("repo", "LectureRepo"),
	}
}

func (r *lectureRepo) Create(dbc dbctx.Context, lecture *types.Lecture) (*types.Lecture, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if lecture == nil {
		return nil, fmt.Errorf("%w: lecture is nil", apperr.ErrInvalidArgument)
	}
	if lecture.ID == uuid.Nil {
		lecture.ID = uuid.New()
	}
	if err := transaction.WithContext(dbc.Ctx).Omit("Slides").Create(lecture).Error; err != nil {
		return nil, err
	}
	return lecture, nil
}

func (r *lectureRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Lecture, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var l types.Lecture
	err := transaction.WithContext(dbc.Ctx).Where("id = ?", id).First(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("lecture %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *lectureRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID) ([]*types.Lecture, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Lecture
	if err := transaction.WithContext(dbc.Ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *lectureRepo) GetNumSlides(dbc dbctx.Context, id uuid.UUID) (*int, error) {
	l, err := r.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	return l.NumSlides, nil
}

func (r *lectureRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.Lecture{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *lectureRepo) SetTitleOnce(dbc dbctx.Context, id uuid.UUID, title string) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.Lecture{}).
		Where("id = ? AND title_inferred = ?", id, false).
		Updates(map[string]interface{}{
			"title":          title,
			"title_inferred": true,
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Delete removes the lecture and its slides in one transaction.
func (r *lectureRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		if err := txx.Where("lecture_id = ?", id).Delete(&types.Slide{}).Error; err != nil {
			return err
		}
		res := txx.Where("id = ?", id).Delete(&types.Lecture{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("lecture %s: %w", id, apperr.ErrNotFound)
		}
		return nil
	})
}
