package domain

import (
	"github.com/yungbote/slidestream-backend/internal/domain/jobs"
	"github.com/yungbote/slidestream-backend/internal/domain/lectures"
)

type Lecture = lectures.Lecture
type Slide = lectures.Slide
type JobRun = jobs.JobRun

// Models lists every table the service owns, in migration order.
func Models() []interface{} {
	return []interface{}{
		&Lecture{},
		&Slide{},
		&JobRun{},
	}
}
