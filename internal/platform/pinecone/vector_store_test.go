package pinecone

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
)

func TestVectorStoreQueryAndUpsert(t *testing.T) {
	var lastPath string
	var lastBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastPath = r.URL.Path
		if r.Header.Get("Api-Key") != "pc-key" {
			t.Errorf("missing api key header")
		}
		_ = json.NewDecoder(r.Body).Decode(&lastBody)
		switch r.URL.Path {
		case "/query":
			_, _ = io.WriteString(w, `{"matches":[{"id":"lec_3","score":0.9,"metadata":{"slide_number":3}},{"id":"","score":0.1}]}`)
		default:
			_, _ = io.WriteString(w, `{"upsertedCount":1}`)
		}
	}))
	defer srv.Close()

	pc, err := New(logger.Nop(), Config{APIKey: "pc-key"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	vs, err := NewVectorStore(context.Background(), logger.Nop(), pc, StoreConfig{IndexHost: srv.URL, NamespacePrefix: "ss"})
	if err != nil {
		t.Fatalf("NewVectorStore: %v", err)
	}

	if err := vs.Upsert(context.Background(), "slides", []Vector{{ID: "lec_3", Values: []float32{1, 0}}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if lastPath != "/vectors/upsert" || lastBody["namespace"] != "ss:slides" {
		t.Fatalf("path=%s body=%v", lastPath, lastBody)
	}

	matches, err := vs.QueryMatches(context.Background(), "slides", []float32{1, 0}, 3, map[string]any{"lecture_id": "lec"})
	if err != nil {
		t.Fatalf("QueryMatches: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "lec_3" {
		t.Fatalf("matches=%v", matches)
	}
	if lastBody["topK"].(float64) != 3 {
		t.Fatalf("topK=%v", lastBody["topK"])
	}
}

func TestVectorStoreRequiresIndex(t *testing.T) {
	pc, _ := New(logger.Nop(), Config{APIKey: "k"})
	if _, err := NewVectorStore(context.Background(), logger.Nop(), pc, StoreConfig{}); err == nil {
		t.Fatalf("expected error without index name or host")
	}
}

func TestHTTPErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	pc, _ := New(logger.Nop(), Config{APIKey: "k"})
	_, err := pc.Query(context.Background(), srv.URL, QueryRequest{Vector: []float32{1}})
	herr, ok := err.(*HTTPError)
	if !ok || herr.HTTPStatusCode() != http.StatusTooManyRequests {
		t.Fatalf("err=%v", err)
	}
}
