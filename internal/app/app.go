package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/slidestream-backend/internal/data/db"
	httpserver "github.com/yungbote/slidestream-backend/internal/http"
	"github.com/yungbote/slidestream-backend/internal/observability"
	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
	"github.com/yungbote/slidestream-backend/internal/pkg/singleton"
	"github.com/yungbote/slidestream-backend/internal/realtime"
)

type App struct {
	Log        *logger.Logger
	DB         *gorm.DB
	Cfg        Config
	Metrics    *observability.Metrics
	Clients    Clients
	Repos      Repos
	Services   Services
	SSEHub     *realtime.SSEHub
	Server     *httpserver.Server
	Singletons *singleton.Registry

	pg           *db.PostgresService
	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})
	metrics := observability.NewMetrics()

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := db.AutoMigrateAll(pg.DB()); err != nil {
		_ = pg.Close()
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	clients, err := wireClients(context.Background(), log, cfg, metrics)
	if err != nil {
		_ = pg.Close()
		log.Sync()
		return nil, err
	}

	ssehub := realtime.NewSSEHub(log)
	singletons := singleton.New()
	reposet := wireRepos(theDB, log, cfg)

	serviceset, err := wireServices(theDB, log, cfg, reposet, clients, ssehub, metrics, singletons)
	if err != nil {
		clients.Close()
		_ = pg.Close()
		log.Sync()
		return nil, err
	}

	sqlDB, err := theDB.DB()
	if err != nil {
		log.Warn("sql handle unavailable; health check will not ping the database", "error", err)
		sqlDB = nil
	}
	handlerset := wireHandlers(log, sqlDB, serviceset, ssehub)
	server := wireServer(log, cfg, metrics, serviceset, handlerset)

	return &App{
		Log:          log,
		DB:           theDB,
		Cfg:          cfg,
		Metrics:      metrics,
		Clients:      clients,
		Repos:        reposet,
		Services:     serviceset,
		SSEHub:       ssehub,
		Server:       server,
		Singletons:   singletons,
		pg:           pg,
		otelShutdown: otelShutdown,
	}, nil
}

// Start registers the summary queue and starts job execution: the Temporal
// worker when configured, the local pool otherwise.
func (a *App) Start() error {
	if a == nil || a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	// Rows left by a previous process need a handler before anything claims them.
	if err := a.Services.Scheduler.EnsureQueue(); err != nil {
		return fmt.Errorf("register slide summary queue: %w", err)
	}

	if a.Clients.SSEBus != nil {
		if err := a.Clients.SSEBus.StartForwarder(ctx, a.SSEHub.Broadcast); err != nil {
			return fmt.Errorf("start SSE forwarder: %w", err)
		}
	}

	if a.Services.TemporalWorker != nil {
		if err := a.Services.TemporalWorker.Start(ctx); err != nil {
			return fmt.Errorf("start temporal worker: %w", err)
		}
		return nil
	}
	if a.Services.JobWorker != nil {
		a.Services.JobWorker.Start(ctx)
	}
	return nil
}

func (a *App) Run() error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	addr := ":" + a.Cfg.Port
	a.Log.Info("HTTP server listening", "addr", addr)
	return a.Server.Run(addr)
}

// Shutdown drains HTTP first so open summary streams reach their save, then
// stops job execution and waits for follow-up work.
func (a *App) Shutdown(ctx context.Context) {
	if a == nil {
		return
	}
	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			a.Log.Warn("HTTP shutdown incomplete", "error", err)
		}
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	waitOrTimeout(ctx, a.Log, "summary follow-ups", func() {
		if a.Services.Streamer != nil {
			a.Services.Streamer.Wait()
		}
		if a.Services.Background != nil {
			a.Services.Background.Wait()
		}
	})
	a.Clients.Close()
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	if a.pg != nil {
		_ = a.pg.Close()
	}
	a.Log.Sync()
}

func waitOrTimeout(ctx context.Context, log *logger.Logger, what string, fn func()) {
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	start := time.Now()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("gave up waiting", "what", what, "waited", time.Since(start))
	}
}
