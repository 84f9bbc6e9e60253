package app

import (
	"context"
	"fmt"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/slidestream-backend/internal/observability"
	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
	"github.com/yungbote/slidestream-backend/internal/platform/openai"
	"github.com/yungbote/slidestream-backend/internal/platform/pinecone"
	"github.com/yungbote/slidestream-backend/internal/realtime/bus"
	"github.com/yungbote/slidestream-backend/internal/temporalx"
)

// Clients holds external connections. Everything except OpenAI is optional and
// stays nil when unconfigured.
type Clients struct {
	OpenAI   openai.Client
	Vectors  pinecone.VectorStore
	SSEBus   bus.Bus
	Temporal temporalsdkclient.Client
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config, metrics *observability.Metrics) (Clients, error) {
	log.Info("Wiring clients...")

	// Openai
	openaiClient, err := openai.NewClient(log, metrics, cfg.OpenAI)
	if err != nil {
		return Clients{}, fmt.Errorf("init openai client: %w", err)
	}

	// Pinecone
	vectors, err := resolveVectorStore(ctx, log, cfg, metrics)
	if err != nil {
		return Clients{}, err
	}

	// Redis
	var sseBus bus.Bus
	if cfg.Redis.Addr != "" {
		b, err := bus.NewRedisBus(log, cfg.Redis)
		if err != nil {
			return Clients{}, fmt.Errorf("init redis SSE bus: %w", err)
		}
		sseBus = b
	}

	// Temporal
	tc, err := temporalx.NewClient(log, cfg.Temporal)
	if err != nil {
		if sseBus != nil {
			_ = sseBus.Close()
		}
		return Clients{}, fmt.Errorf("init temporal client: %w", err)
	}

	return Clients{
		OpenAI:   openaiClient,
		Vectors:  vectors,
		SSEBus:   sseBus,
		Temporal: tc,
	}, nil
}

func (c Clients) Close() {
	if c.SSEBus != nil {
		_ = c.SSEBus.Close()
	}
	if c.Temporal != nil {
		c.Temporal.Close()
	}
}
