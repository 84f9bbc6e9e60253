package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/slidestream-backend/internal/http/handlers"
	httpMW "github.com/yungbote/slidestream-backend/internal/http/middleware"
	"github.com/yungbote/slidestream-backend/internal/observability"
	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	Metrics        *observability.Metrics
	ServiceName    string
	CORSOrigins    []string
	AuthMiddleware *httpMW.AuthMiddleware

	HealthHandler   *httpH.HealthHandler
	LectureHandler  *httpH.LectureHandler
	StreamHandler   *httpH.StreamHandler
	RealtimeHandler *httpH.RealtimeHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	log := cfg.Log
	if log == nil {
		log = logger.Nop()
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "slidestream"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	protected := r.Group("/api")
	if cfg.AuthMiddleware != nil {
		protected.Use(cfg.AuthMiddleware.RequireAuth())
	}

	// Lectures
	if cfg.LectureHandler != nil {
		protected.POST("/lectures", cfg.LectureHandler.CreateLecture)
		protected.GET("/lectures", cfg.LectureHandler.ListLectures)
		protected.GET("/lectures/:id", cfg.LectureHandler.GetLecture)
		protected.DELETE("/lectures/:id", cfg.LectureHandler.DeleteLecture)
		protected.GET("/lectures/:id/slides/:number", cfg.LectureHandler.GetSlide)
		protected.POST("/lectures/:id/schedule", cfg.LectureHandler.Schedule)
	}

	// Summary and conversation streams
	if cfg.StreamHandler != nil {
		protected.GET("/slides/:id/summary/stream", cfg.StreamHandler.SummaryStream)
		protected.GET("/slides/:id/conversation/stream", cfg.StreamHandler.ConversationStream)
	}

	// Realtime (SSE)
	if cfg.RealtimeHandler != nil {
		protected.GET("/sse/stream", cfg.RealtimeHandler.SSEStream)
		protected.POST("/sse/subscribe", cfg.RealtimeHandler.SSESubscribe)
		protected.POST("/sse/unsubscribe", cfg.RealtimeHandler.SSEUnsubscribe)
	}

	return r
}
