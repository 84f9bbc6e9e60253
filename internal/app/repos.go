package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/slidestream-backend/internal/data/repos/jobs"
	"github.com/yungbote/slidestream-backend/internal/data/repos/lectures"
	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
)

type Repos struct {
	Lectures lectures.LectureRepo
	Slides   lectures.SlideRepo
	JobRuns  jobs.JobRunRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger, cfg Config) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Lectures: lectures.NewLectureRepo(db, log),
		Slides:   lectures.NewSlideRepo(db, log, lectures.WithClaimTTL(cfg.ClaimTTL)),
		JobRuns:  jobs.NewJobRunRepo(db, log),
	}
}
