package app

import (
	httpserver "github.com/yungbote/slidestream-backend/internal/http"
	httpMW "github.com/yungbote/slidestream-backend/internal/http/middleware"
	"github.com/yungbote/slidestream-backend/internal/observability"
	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
)

func wireServer(log *logger.Logger, cfg Config, metrics *observability.Metrics, services Services, handlers Handlers) *httpserver.Server {
	log.Info("Wiring router...")
	return httpserver.NewServer(httpserver.RouterConfig{
		Log:             log,
		Metrics:         metrics,
		ServiceName:     cfg.ServiceName,
		CORSOrigins:     cfg.CORSOrigins,
		AuthMiddleware:  httpMW.NewAuthMiddleware(log, services.Verifier),
		HealthHandler:   handlers.Health,
		LectureHandler:  handlers.Lecture,
		StreamHandler:   handlers.Stream,
		RealtimeHandler: handlers.Realtime,
	})
}
