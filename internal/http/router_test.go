package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	httpH "github.com/yungbote/slidestream-backend/internal/http/handlers"
	httpMW "github.com/yungbote/slidestream-backend/internal/http/middleware"
	"github.com/yungbote/slidestream-backend/internal/observability"
	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
)

type rejectAll struct{}

func (rejectAll) SetContextFromToken(ctx context.Context, _ string) (context.Context, error) {
	return ctx, errors.New("rejected")
}

func TestRouterPublicAndProtectedRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := logger.Nop()
	r := NewRouter(RouterConfig{
		Log:            log,
		Metrics:        observability.NewMetrics(),
		AuthMiddleware: httpMW.NewAuthMiddleware(log, rejectAll{}),
		HealthHandler:  httpH.NewHealthHandler(nil),
		LectureHandler: httpH.NewLectureHandler(nil),
	})

	for path, want := range map[string]int{
		"/healthcheck":  http.StatusOK,
		"/metrics":      http.StatusOK,
		"/api/lectures": http.StatusUnauthorized,
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != want {
			t.Fatalf("%s: want %d, got %d", path, want, w.Code)
		}
	}
}
