package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// JobRun is one unit of background work. JobKey is the caller-chosen identity used
// to collapse duplicate submissions; DependsOnKey names the job that has to succeed
// before this one becomes claimable.
type JobRun struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID  uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	JobType      string         `gorm:"column:job_type;not null;index" json:"job_type"`
	JobKey       string         `gorm:"column:job_key;not null;uniqueIndex" json:"job_key"`
	DependsOnKey *string        `gorm:"column:depends_on_key;index" json:"depends_on_key,omitempty"`
	EntityType   string         `gorm:"column:entity_type;index" json:"entity_type,omitempty"`
	EntityID     *uuid.UUID     `gorm:"type:uuid;column:entity_id;index" json:"entity_id,omitempty"`
	Status       string         `gorm:"column:status;not null;index" json:"status"`
	Stage        string         `gorm:"column:stage;not null" json:"stage"`
	Progress     int            `gorm:"column:progress;not null;default:0" json:"progress"`
	Attempts     int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	MaxAttempts  int            `gorm:"column:max_attempts;not null;default:3" json:"max_attempts"`
	Error        string         `gorm:"column:error" json:"error,omitempty"`
	LockedAt     *time.Time     `gorm:"column:locked_at" json:"locked_at,omitempty"`
	HeartbeatAt  *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	LastErrorAt  *time.Time     `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	Payload      datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Result       datatypes.JSON `gorm:"column:result;type:jsonb" json:"result"`
	CreatedAt    time.Time      `gorm:"not null;autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (JobRun) TableName() string { return "job_run" }

// Terminal reports whether no further attempt will be made.
func (j *JobRun) Terminal() bool {
	if j == nil {
		return true
	}
	return j.Status == StatusSucceeded || (j.Status == StatusFailed && j.Attempts >= j.MaxAttempts)
}
