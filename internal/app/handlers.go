package app

import (
	"database/sql"

	httpH "github.com/yungbote/slidestream-backend/internal/http/handlers"
	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
	"github.com/yungbote/slidestream-backend/internal/realtime"
)

type Handlers struct {
	Health   *httpH.HealthHandler
	Lecture  *httpH.LectureHandler
	Stream   *httpH.StreamHandler
	Realtime *httpH.RealtimeHandler
}

func wireHandlers(log *logger.Logger, sqlDB *sql.DB, services Services, hub *realtime.SSEHub) Handlers {
	log.Info("Wiring handlers...")
	// A nil *sql.DB must not become a non-nil Pinger.
	var pinger httpH.Pinger
	if sqlDB != nil {
		pinger = sqlDB
	}
	return Handlers{
		Health:   httpH.NewHealthHandler(pinger),
		Lecture:  httpH.NewLectureHandler(services.Catalog),
		Stream:   httpH.NewStreamHandler(log, services.Catalog, services.Streamer, services.Conversation),
		Realtime: httpH.NewRealtimeHandler(log, hub, services.Catalog),
	}
}
