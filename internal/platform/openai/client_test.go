package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
)

func newTestClient(t *testing.T, h http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	temp := 0.7
	c, err := NewClient(logger.Nop(), nil, Config{
		APIKey:      "test-key",
		BaseURL:     srv.URL,
		Model:       "gpt-test",
		EmbedModel:  "text-embedding-3-small",
		EmbedDims:   4,
		Timeout:     5 * time.Second,
		MaxRetries:  2,
		Temperature: &temp,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func outputTextBody(text string) string {
	b, _ := json.Marshal(map[string]any{
		"output": []any{map[string]any{
			"type": "message",
			"role": "assistant",
			"content": []any{map[string]any{
				"type": "output_text",
				"text": text,
			}},
		}},
	})
	return string(b)
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(logger.Nop(), nil, Config{}); err == nil {
		t.Fatalf("expected missing key error")
	}
}

func TestCompleteSendsImagesAndReturnsText(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/responses" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, outputTextBody("a summary"))
	})

	out, err := c.Complete(context.Background(), Request{
		Instructions: "be brief",
		Messages: []Message{{
			Role:   RoleUser,
			Text:   "explain",
			Images: []ImageInput{{ImageURL: "data:image/png;base64,AAAA"}},
		}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "a summary" {
		t.Fatalf("text=%q", out)
	}
	input := got["input"].([]any)
	parts := input[0].(map[string]any)["content"].([]any)
	if len(parts) != 2 || parts[0].(map[string]any)["type"] != "input_image" {
		t.Fatalf("unexpected content parts: %#v", parts)
	}
	if got["temperature"] != 0.7 {
		t.Fatalf("temperature=%v", got["temperature"])
	}
}

func TestCompleteRetriesOnServerError(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, outputTextBody("ok"))
	})
	out, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Text: "hi"}}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "ok" || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("out=%q calls=%d", out, calls)
	}
}

func TestCompleteDoesNotRetryBadRequest(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"bad"}`)
	})
	_, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Text: "hi"}}})
	if err == nil {
		t.Fatalf("expected error")
	}
	if IsRateLimited(err) {
		t.Fatalf("400 reported as rate limited")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls=%d want 1", calls)
	}
}

func TestTemperatureRejectedIsDropped(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["temperature"]; ok {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":{"message":"Unsupported parameter: 'temperature'"}}`)
			return
		}
		_, _ = io.WriteString(w, outputTextBody("ok"))
	})
	if _, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Text: "hi"}}}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Text: "hi"}}}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	// First call: rejected + resent. Second call: sent without temperature.
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Fatalf("calls=%d want 3", n)
	}
}

func TestRateLimitedExhaustsRetries(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := c.Complete(ctx, Request{Messages: []Message{{Role: RoleUser, Text: "hi"}}})
	if !IsRateLimited(err) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
}

func TestStreamForwardsDeltas(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "event: response.output_text.delta\ndata: {\"type\":\"response.output_text.delta\",\"delta\":%q}\n\n", d)
		}
		fmt.Fprint(w, "event: response.completed\ndata: {\"type\":\"response.completed\"}\n\n")
	})
	var deltas []string
	full, err := c.Stream(context.Background(), Request{Messages: []Message{{Role: RoleUser, Text: "hi"}}}, func(d string) {
		deltas = append(deltas, d)
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if full != "Hello" || strings.Join(deltas, "|") != "Hel|lo" {
		t.Fatalf("full=%q deltas=%v", full, deltas)
	}
}

func TestStreamErrorEvent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"type\":\"response.output_text.delta\",\"delta\":\"par\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"error\",\"error\":{\"message\":\"boom\"}}\n\n")
	})
	full, err := c.Stream(context.Background(), Request{Messages: []Message{{Role: RoleUser, Text: "hi"}}}, nil)
	if err == nil {
		t.Fatalf("expected stream error")
	}
	if full != "par" {
		t.Fatalf("partial=%q", full)
	}
}

func TestCompleteJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		format := body["text"].(map[string]any)["format"].(map[string]any)
		if format["type"] != "json_schema" || format["name"] != "lecture_title" {
			t.Errorf("format=%v", format)
		}
		_, _ = io.WriteString(w, outputTextBody(`{"title":"Linear Algebra Basics"}`))
	})
	var out struct {
		Title string `json:"title"`
	}
	schema := map[string]any{"type": "object"}
	if err := c.CompleteJSON(context.Background(), Request{Messages: []Message{{Role: RoleUser, Text: "x"}}}, "lecture_title", schema, &out); err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	if out.Title != "Linear Algebra Basics" {
		t.Fatalf("title=%q", out.Title)
	}
}

func TestEmbedOrdersByIndex(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"data":[{"index":1,"embedding":[2,2]},{"index":0,"embedding":[1,1]}]}`)
	})
	vecs, err := c.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][0] != 2 {
		t.Fatalf("vecs=%v", vecs)
	}
}

func TestStreamSSEJoinsDataLines(t *testing.T) {
	var got []string
	err := streamSSE(strings.NewReader(": comment\nevent: x\ndata: a\ndata: b\n\ndata: c"), func(ev, data string) error {
		got = append(got, ev+"="+data)
		return nil
	})
	if err != nil {
		t.Fatalf("streamSSE: %v", err)
	}
	if len(got) != 2 || got[0] != "x=a\nb" || got[1] != "=c" {
		t.Fatalf("got=%q", got)
	}
}
