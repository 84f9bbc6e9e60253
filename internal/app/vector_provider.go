package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/slidestream-backend/internal/observability"
	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
	"github.com/yungbote/slidestream-backend/internal/platform/pinecone"
)

const vectorProviderPinecone = "pinecone"

var (
	newPineconeClient      = pinecone.New
	newPineconeVectorStore = pinecone.NewVectorStore
)

type VectorProviderBootstrapErrorCode string

const (
	VectorProviderBootstrapErrorClientInitFailed VectorProviderBootstrapErrorCode = "client_init_failed"
	VectorProviderBootstrapErrorStoreInitFailed  VectorProviderBootstrapErrorCode = "store_init_failed"
)

type VectorProviderBootstrapError struct {
	Code     VectorProviderBootstrapErrorCode
	Provider string
	Cause    error
}

func (e *VectorProviderBootstrapError) Error() string {
	if e == nil {
		return "vector provider bootstrap failed"
	}
	return fmt.Sprintf("vector provider bootstrap failed (code=%s provider=%q): %v", e.Code, e.Provider, e.Cause)
}

func (e *VectorProviderBootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// resolveVectorStore returns nil without an API key. Semantic conversation
// context and summary indexing are then skipped.
func resolveVectorStore(ctx context.Context, log *logger.Logger, cfg Config, metrics *observability.Metrics) (pinecone.VectorStore, error) {
	if strings.TrimSpace(cfg.Pinecone.APIKey) == "" {
		log.Info("PINECONE_API_KEY not set; semantic context disabled")
		return nil, nil
	}
	pc, err := newPineconeClient(log, cfg.Pinecone)
	if err != nil {
		return nil, &VectorProviderBootstrapError{Code: VectorProviderBootstrapErrorClientInitFailed, Provider: vectorProviderPinecone, Cause: err}
	}
	store, err := newPineconeVectorStore(ctx, log, pc, cfg.PineconeStore)
	if err != nil {
		return nil, &VectorProviderBootstrapError{Code: VectorProviderBootstrapErrorStoreInitFailed, Provider: vectorProviderPinecone, Cause: err}
	}
	log.Info("vector store ready", "provider", vectorProviderPinecone)
	return instrumentVectorStore(vectorProviderPinecone, store, metrics), nil
}
