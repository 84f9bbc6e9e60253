package app

import (
	"strings"
	"time"

	domlectures "github.com/yungbote/slidestream-backend/internal/domain/lectures"
	"github.com/yungbote/slidestream-backend/internal/jobs/worker"
	"github.com/yungbote/slidestream-backend/internal/modules/auth"
	"github.com/yungbote/slidestream-backend/internal/modules/lectures/retrieval"
	"github.com/yungbote/slidestream-backend/internal/modules/lectures/scheduler"
	"github.com/yungbote/slidestream-backend/internal/pkg/envutil"
	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
	"github.com/yungbote/slidestream-backend/internal/platform/openai"
	"github.com/yungbote/slidestream-backend/internal/platform/pinecone"
	"github.com/yungbote/slidestream-backend/internal/realtime/bus"
	"github.com/yungbote/slidestream-backend/internal/temporalx"
)

type Config struct {
	ServiceName string
	Environment string
	Version     string
	Port        string
	CORSOrigins []string

	ContextMax      int
	FollowupTimeout time.Duration
	ClaimTTL        time.Duration
	ShutdownTimeout time.Duration

	Auth          auth.Config
	OpenAI        openai.Config
	Pinecone      pinecone.Config
	PineconeStore pinecone.StoreConfig
	Redis         bus.RedisConfig
	Worker        worker.Config
	Scheduler     scheduler.Config
	Temporal      temporalx.Config
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		ServiceName: envutil.String("SERVICE_NAME", "slidestream"),
		Environment: envutil.String("APP_ENV", "development"),
		Version:     envutil.String("APP_VERSION", "dev"),
		Port:        envutil.String("PORT", "8080"),
		CORSOrigins: splitList(envutil.String("CORS_ALLOWED_ORIGINS", "")),

		ContextMax:      envutil.Int("SUMMARY_CONTEXT_MAX", retrieval.DefaultMaxContext),
		FollowupTimeout: envutil.Duration("SUMMARY_FOLLOWUP_TIMEOUT", 2*time.Minute),
		ClaimTTL:        envutil.Duration("SUMMARY_CLAIM_TTL", domlectures.DefaultClaimTTL),
		ShutdownTimeout: envutil.Duration("SHUTDOWN_TIMEOUT", 30*time.Second),

		Auth:          auth.ConfigFromEnv(),
		OpenAI:        openai.ConfigFromEnv(),
		Pinecone:      pinecone.ConfigFromEnv(),
		PineconeStore: pinecone.StoreConfigFromEnv(),
		Redis:         bus.RedisConfigFromEnv(),
		Worker:        worker.ConfigFromEnv(),
		Scheduler:     scheduler.ConfigFromEnv(),
		Temporal:      temporalx.LoadConfig(),
	}
	log.Info("config loaded",
		"env", cfg.Environment,
		"port", cfg.Port,
		"fanout", cfg.Scheduler.Fanout,
		"bound", cfg.Scheduler.Bound,
		"temporal", cfg.Temporal.Enabled(),
		"redis", cfg.Redis.Addr != "",
		"pinecone", cfg.Pinecone.APIKey != "",
	)
	return cfg
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
