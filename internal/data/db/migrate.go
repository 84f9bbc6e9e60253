package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/yungbote/slidestream-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(types.Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return EnsureJobIndexes(db)
}

// EnsureJobIndexes adds the claim-path index. The statement is portable between
// postgres and sqlite so tests exercise the same schema.
func EnsureJobIndexes(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_job_run_claim
		ON job_run(status, created_at)
	`).Error; err != nil {
		return fmt.Errorf("create idx_job_run_claim: %w", err)
	}
	return nil
}
