package app

import (
	"context"
	"errors"
	"testing"

	"github.com/yungbote/slidestream-backend/internal/observability"
	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
	"github.com/yungbote/slidestream-backend/internal/platform/pinecone"
)

func TestResolveVectorStoreDisabledWithoutKey(t *testing.T) {
	store, err := resolveVectorStore(context.Background(), logger.Nop(), Config{}, nil)
	if err != nil || store != nil {
		t.Fatalf("expected disabled store, got store=%v err=%v", store, err)
	}
}

func TestResolveVectorStoreWrapsStoreFailure(t *testing.T) {
	origClient, origStore := newPineconeClient, newPineconeVectorStore
	t.Cleanup(func() { newPineconeClient, newPineconeVectorStore = origClient, origStore })

	newPineconeClient = func(*logger.Logger, pinecone.Config) (pinecone.Client, error) { return nil, nil }
	cause := errors.New("index missing")
	newPineconeVectorStore = func(context.Context, *logger.Logger, pinecone.Client, pinecone.StoreConfig) (pinecone.VectorStore, error) {
		return nil, cause
	}

	_, err := resolveVectorStore(context.Background(), logger.Nop(), Config{Pinecone: pinecone.Config{APIKey: "k"}}, nil)
	var boot *VectorProviderBootstrapError
	if !errors.As(err, &boot) || boot.Code != VectorProviderBootstrapErrorStoreInitFailed {
		t.Fatalf("expected store bootstrap error, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause not wrapped: %v", err)
	}
}

func TestResolveVectorStoreInstruments(t *testing.T) {
	origClient, origStore := newPineconeClient, newPineconeVectorStore
	t.Cleanup(func() { newPineconeClient, newPineconeVectorStore = origClient, origStore })

	newPineconeClient = func(*logger.Logger, pinecone.Config) (pinecone.Client, error) { return nil, nil }
	newPineconeVectorStore = func(context.Context, *logger.Logger, pinecone.Client, pinecone.StoreConfig) (pinecone.VectorStore, error) {
		return &fakeInstrumentedInner{}, nil
	}

	store, err := resolveVectorStore(context.Background(), logger.Nop(), Config{Pinecone: pinecone.Config{APIKey: "k"}}, observability.NewMetrics())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, ok := store.(*instrumentedVectorStore); !ok {
		t.Fatalf("expected instrumented store, got %T", store)
	}
}
