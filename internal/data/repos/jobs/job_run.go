package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/slidestream-backend/internal/domain"
	jobstatus "github.com/yungbote/slidestream-backend/internal/domain/jobs"
	"github.com/yungbote/slidestream-backend/internal/pkg/dbctx"
	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
)

// DependencyFailedError is written to jobs whose dependency failed for good.
const DependencyFailedError = "dependency failed"

// EnqueueResult reports which submitted keys produced new rows, which revived a
// row that had failed for good, and which collapsed into a pending or finished row.
type EnqueueResult struct {
	Created  []string
	Requeued []string
	Deduped  []string
}

type JobRunRepo interface {
	Create(dbc dbctx.Context, jobs []*types.JobRun) ([]*types.JobRun, error)
	Enqueue(dbc dbctx.Context, jobs []*types.JobRun) (EnqueueResult, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.JobRun, error)
	GetByKeys(dbc dbctx.Context, keys []string) ([]*types.JobRun, error)
	ListByEntity(dbc dbctx.Context, entityType string, entityID uuid.UUID) ([]*types.JobRun, error)
	ClaimNextRunnable(dbc dbctx.Context, retryDelay time.Duration, staleRunning time.Duration) (*types.JobRun, error)
	ClaimByID(dbc dbctx.Context, id uuid.UUID, retryDelay time.Duration, staleRunning time.Duration) (*types.JobRun, error)
	FailDependents(dbc dbctx.Context) (int64, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsIfStatus(dbc dbctx.Context, id uuid.UUID, allowedStatuses []string, updates map[string]interface{}) (bool, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
}

type jobRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return &jobRunRepo{
		db:  db,
		log: baseLog.With("repo", "JobRunRepo"),
	}
}

func (r *jobRunRepo) Create(dbc dbctx.Context, jobs []*types.JobRun) ([]*types.JobRun, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(jobs) == 0 {
		return []*types.JobRun{}, nil
	}
	for _, j := range jobs {
		prepare(j)
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// Enqueue inserts jobs in order inside one transaction. A key held by a queued,
// running or succeeded row is skipped. A key held by a row that failed for good
// is requeued with the submitted payload and dependency.
func (r *jobRunRepo) Enqueue(dbc dbctx.Context, jobs []*types.JobRun) (EnqueueResult, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out EnqueueResult
	if len(jobs) == 0 {
		return out, nil
	}
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		for _, j := range jobs {
			prepare(j)
			res := txx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "job_key"}},
				DoNothing: true,
			}).Create(j)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				out.Created = append(out.Created, j.JobKey)
				continue
			}
			revived, err := requeueDead(txx, j)
			if err != nil {
				return err
			}
			if revived {
				out.Requeued = append(out.Requeued, j.JobKey)
			} else {
				out.Deduped = append(out.Deduped, j.JobKey)
			}
		}
		return nil
	})
	if err != nil {
		return EnqueueResult{}, err
	}
	return out, nil
}

// requeueDead resets the row holding j.JobKey when it has exhausted its attempts.
func requeueDead(txx *gorm.DB, j *types.JobRun) (bool, error) {
	res := txx.Model(&types.JobRun{}).
		Where("job_key = ? AND status = ? AND attempts >= max_attempts", j.JobKey, jobstatus.StatusFailed).
		Updates(map[string]interface{}{
			"status":         jobstatus.StatusQueued,
			"stage":          jobstatus.StatusQueued,
			"attempts":       0,
			"max_attempts":   j.MaxAttempts,
			"depends_on_key": j.DependsOnKey,
			"payload":        j.Payload,
			"error":          "",
			"last_error_at":  nil,
			"locked_at":      nil,
			"heartbeat_at":   nil,
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func prepare(j *types.JobRun) {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.JobKey == "" {
		j.JobKey = j.ID.String()
	}
	if j.Status == "" {
		j.Status = jobstatus.StatusQueued
	}
	if j.Stage == "" {
		j.Stage = jobstatus.StatusQueued
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = 3
	}
	if len(j.Payload) == 0 {
		j.Payload = []byte("{}")
	}
	if len(j.Result) == 0 {
		j.Result = []byte("{}")
	}
}

func (r *jobRunRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.JobRun, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var job types.JobRun
	err := transaction.WithContext(dbc.Ctx).Where("id = ?", id).Limit(1).Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *jobRunRepo) GetByKeys(dbc dbctx.Context, keys []string) ([]*types.JobRun, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.JobRun
	if len(keys) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("job_key IN ?", keys).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *jobRunRepo) ListByEntity(dbc dbctx.Context, entityType string, entityID uuid.UUID) ([]*types.JobRun, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.JobRun
	if err := transaction.WithContext(dbc.Ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

const runnableWhere = `
  (
    status = ?
    OR (
      status = ?
      AND attempts < max_attempts
      AND (last_error_at IS NULL OR last_error_at < ?)
    )
    OR (
      status = ?
      AND heartbeat_at IS NOT NULL
      AND heartbeat_at < ?
    )
  )
  AND (
    depends_on_key IS NULL
    OR EXISTS (
      SELECT 1 FROM job_run dep
      WHERE dep.job_key = job_run.depends_on_key AND dep.status = ?
    )
  )
`

// ClaimNextRunnable locks the oldest job that is runnable and whose dependency
// has succeeded, and moves it to running.
func (r *jobRunRepo) ClaimNextRunnable(dbc dbctx.Context, retryDelay time.Duration, staleRunning time.Duration) (*types.JobRun, error) {
	return r.claim(dbc, uuid.Nil, retryDelay, staleRunning)
}

// ClaimByID is ClaimNextRunnable restricted to one row; used by dispatchers that
// already know which job they drive.
func (r *jobRunRepo) ClaimByID(dbc dbctx.Context, id uuid.UUID, retryDelay time.Duration, staleRunning time.Duration) (*types.JobRun, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	return r.claim(dbc, id, retryDelay, staleRunning)
}

func (r *jobRunRepo) claim(dbc dbctx.Context, id uuid.UUID, retryDelay time.Duration, staleRunning time.Duration) (*types.JobRun, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	retryCutoff := now.Add(-retryDelay)
	staleCutoff := now.Add(-staleRunning)
	var claimed *types.JobRun
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var job types.JobRun
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(runnableWhere,
				jobstatus.StatusQueued,
				jobstatus.StatusFailed, retryCutoff,
				jobstatus.StatusRunning, staleCutoff,
				jobstatus.StatusSucceeded,
			)
		if id != uuid.Nil {
			q = q.Where("id = ?", id)
		}
		qErr := q.Order("created_at ASC").First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.JobRun{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":       jobstatus.StatusRunning,
				"stage":        jobstatus.StatusRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		job.Status = jobstatus.StatusRunning
		job.Stage = jobstatus.StatusRunning
		job.Attempts++
		job.LockedAt = &now
		job.HeartbeatAt = &now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// FailDependents terminally fails queued jobs whose dependency has failed for
// good, repeating until the failure has propagated down every chain. Jobs that
// already succeeded are never touched.
func (r *jobRunRepo) FailDependents(dbc dbctx.Context) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var total int64
	for i := 0; i < 1000; i++ {
		now := time.Now()
		res := transaction.WithContext(dbc.Ctx).
			Model(&types.JobRun{}).
			Where("status = ? AND depends_on_key IS NOT NULL", jobstatus.StatusQueued).
			Where(`EXISTS (
				SELECT 1 FROM job_run dep
				WHERE dep.job_key = job_run.depends_on_key
				  AND dep.status = ?
				  AND dep.attempts >= dep.max_attempts
			)`, jobstatus.StatusFailed).
			Updates(map[string]interface{}{
				"status":        jobstatus.StatusFailed,
				"stage":         "dependency",
				"error":         DependencyFailedError,
				"attempts":      gorm.Expr("max_attempts"),
				"last_error_at": now,
				"updated_at":    now,
			})
		if res.Error != nil {
			return total, res.Error
		}
		if res.RowsAffected == 0 {
			break
		}
		total += res.RowsAffected
	}
	return total, nil
}

func (r *jobRunRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.JobRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateFieldsIfStatus applies updates only while the row is in one of
// allowedStatuses, so a stale worker cannot overwrite a row someone else finished.
func (r *jobRunRepo) UpdateFieldsIfStatus(dbc dbctx.Context, id uuid.UUID, allowedStatuses []string, updates map[string]interface{}) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}

	q := transaction.WithContext(dbc.Ctx).
		Model(&types.JobRun{}).
		Where("id = ?", id)
	if len(allowedStatuses) == 1 {
		q = q.Where("status = ?", allowedStatuses[0])
	} else if len(allowedStatuses) > 1 {
		q = q.Where("status IN ?", allowedStatuses)
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRunRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(dbc.Ctx).
		Model(&types.JobRun{}).
		Where("id = ? AND status = ?", id, jobstatus.StatusRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}
