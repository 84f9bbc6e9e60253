package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/slidestream-backend/internal/observability"
	"github.com/yungbote/slidestream-backend/internal/pkg/ctxutil"
	"github.com/yungbote/slidestream-backend/internal/pkg/envutil"
	"github.com/yungbote/slidestream-backend/internal/pkg/httpx"
	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ImageInput is an image attached to a user message.
type ImageInput struct {
	// https://... or data:image/...;base64,...
	ImageURL string
	Detail   string // "low" | "high" | "auto"
}

type Message struct {
	Role   string
	Text   string
	Images []ImageInput
}

type Request struct {
	Instructions    string
	Messages        []Message
	Temperature     *float64
	MaxOutputTokens int
}

// Client is the subset of the OpenAI API the service uses.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
	Stream(ctx context.Context, req Request, onDelta func(delta string)) (string, error)
	// CompleteJSON asks for a strict json_schema response and decodes it into out.
	CompleteJSON(ctx context.Context, req Request, schemaName string, schema map[string]any, out any) error
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	EmbedModel  string
	EmbedDims   int
	Timeout     time.Duration
	MaxRetries  int
	Temperature *float64
}

func ConfigFromEnv() Config {
	cfg := Config{
		APIKey:     envutil.String("OPENAI_API_KEY", ""),
		BaseURL:    envutil.String("OPENAI_BASE_URL", "https://api.openai.com"),
		Model:      envutil.String("OPENAI_MODEL", "gpt-4o"),
		EmbedModel: envutil.String("OPENAI_EMBED_MODEL", "text-embedding-3-small"),
		EmbedDims:  envutil.Int("OPENAI_EMBED_DIMS", 1024),
		Timeout:    envutil.Duration("OPENAI_TIMEOUT", 180*time.Second),
		MaxRetries: envutil.Int("OPENAI_MAX_RETRIES", 3),
	}
	if !envutil.Bool("OPENAI_DISABLE_TEMPERATURE", false) {
		t := 0.7
		cfg.Temperature = &t
	}
	return cfg
}

type client struct {
	log        *logger.Logger
	metrics    *observability.Metrics
	cfg        Config
	httpClient *http.Client

	// Models that rejected temperature are remembered and sent without it.
	noTempMu   sync.RWMutex
	noTempSeen map[string]bool
}

func NewClient(log *logger.Logger, metrics *observability.Metrics, cfg Config) (Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 180 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &client{
		log:        log.With("client", "OpenAIClient"),
		metrics:    metrics,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		noTempSeen: map[string]bool{},
	}, nil
}

type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

// IsRateLimited reports whether err is (or wraps) a 429 from the provider.
func IsRateLimited(err error) bool {
	return httpx.StatusCode(err) == http.StatusTooManyRequests
}

func isUnsupportedTemperature(body string) bool {
	msg := strings.ToLower(body)
	if !strings.Contains(msg, "temperature") {
		return false
	}
	for _, needle := range []string{"unsupported", "unknown parameter", "not supported", "does not support", "only the default"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// -------------------- Responses API --------------------

type inputItem struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type responsesRequest struct {
	Model           string      `json:"model"`
	Instructions    string      `json:"instructions,omitempty"`
	Input           []inputItem `json:"input"`
	Text            *textFormat `json:"text,omitempty"`
	Temperature     *float64    `json:"temperature,omitempty"`
	MaxOutputTokens int         `json:"max_output_tokens,omitempty"`
	Stream          bool        `json:"stream,omitempty"`
}

type textFormat struct {
	Format map[string]any `json:"format"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type    string `json:"type"`
			Text    string `json:"text,omitempty"`
			Refusal string `json:"refusal,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
}

func (r responsesResponse) text() (string, error) {
	var out strings.Builder
	for _, item := range r.Output {
		if item.Type != "message" || item.Role != RoleAssistant {
			continue
		}
		for _, c := range item.Content {
			switch {
			case c.Type == "refusal" && c.Refusal != "":
				return "", fmt.Errorf("model refused: %s", c.Refusal)
			case c.Type == "output_text":
				out.WriteString(c.Text)
			}
		}
	}
	return out.String(), nil
}

func (c *client) buildRequest(req Request) responsesRequest {
	body := responsesRequest{
		Model:           c.cfg.Model,
		Instructions:    strings.TrimSpace(req.Instructions),
		Input:           make([]inputItem, 0, len(req.Messages)),
		MaxOutputTokens: req.MaxOutputTokens,
	}
	for _, m := range req.Messages {
		body.Input = append(body.Input, inputItem{Role: m.Role, Content: messageContent(m)})
	}
	temp := req.Temperature
	if temp == nil {
		temp = c.cfg.Temperature
	}
	if temp != nil && !c.modelIsNoTemp(body.Model) {
		body.Temperature = temp
	}
	return body
}

func messageContent(m Message) any {
	if len(m.Images) == 0 || m.Role != RoleUser {
		return m.Text
	}
	parts := make([]map[string]any, 0, len(m.Images)+1)
	for _, img := range m.Images {
		u := strings.TrimSpace(img.ImageURL)
		if u == "" {
			continue
		}
		part := map[string]any{"type": "input_image", "image_url": u}
		if img.Detail != "" {
			part["detail"] = img.Detail
		}
		parts = append(parts, part)
	}
	if strings.TrimSpace(m.Text) != "" {
		parts = append(parts, map[string]any{"type": "input_text", "text": m.Text})
	}
	return parts
}

func (c *client) modelIsNoTemp(model string) bool {
	c.noTempMu.RLock()
	defer c.noTempMu.RUnlock()
	return c.noTempSeen[strings.ToLower(model)]
}

func (c *client) noteNoTempModel(model string) {
	c.noTempMu.Lock()
	c.noTempSeen[strings.ToLower(model)] = true
	c.noTempMu.Unlock()
	c.log.Warn("model rejected temperature; omitting it from now on", "model", model)
}

func (c *client) doOnce(ctx context.Context, path string, body any, stream bool) (*http.Response, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return resp, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, nil
}

// post sends body with retries and returns the open response. The caller
// closes the body. A request rejected for its temperature is resent once
// without it.
func (c *client) post(ctx context.Context, op, path string, body any, stream bool) (*http.Response, error) {
	ctx = ctxutil.Default(ctx)
	backoff := time.Second
	start := time.Now()
	triedWithoutTemp := false

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := c.doOnce(ctx, path, body, stream)
		if err == nil {
			c.metrics.ObserveLLM(op, "ok", time.Since(start))
			return resp, nil
		}

		var httpErr *HTTPError
		if rr, ok := body.(*responsesRequest); ok && rr.Temperature != nil && !triedWithoutTemp &&
			errors.As(err, &httpErr) && isUnsupportedTemperature(httpErr.Body) {
			triedWithoutTemp = true
			c.noteNoTempModel(rr.Model)
			rr.Temperature = nil
			attempt--
			continue
		}

		if !httpx.IsRetryableError(err) || attempt >= c.cfg.MaxRetries {
			c.metrics.ObserveLLM(op, statusLabel(err), time.Since(start))
			return nil, err
		}

		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		c.log.Warn("OpenAI request retrying",
			"op", op,
			"attempt", attempt+1,
			"max_retries", c.cfg.MaxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		if err := httpx.Sleep(ctx, sleepFor); err != nil {
			return nil, err
		}
		backoff *= 2
	}
}

func statusLabel(err error) string {
	if code := httpx.StatusCode(err); code != 0 {
		return fmt.Sprintf("%d", code)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "error"
}

func (c *client) postJSON(ctx context.Context, op, path string, body any, out any) error {
	resp, err := c.post(ctx, op, path, body, false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("openai decode error: %w", err)
	}
	return nil
}

func (c *client) Complete(ctx context.Context, req Request) (string, error) {
	body := c.buildRequest(req)
	var resp responsesResponse
	if err := c.postJSON(ctx, "complete", "/v1/responses", &body, &resp); err != nil {
		return "", err
	}
	text, err := resp.text()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("no output_text found in response")
	}
	return text, nil
}

func (c *client) CompleteJSON(ctx context.Context, req Request, schemaName string, schema map[string]any, out any) error {
	if schemaName == "" || schema == nil {
		return errors.New("schema name and schema are required")
	}
	body := c.buildRequest(req)
	body.Text = &textFormat{Format: map[string]any{
		"type":   "json_schema",
		"name":   schemaName,
		"schema": schema,
		"strict": true,
	}}
	var resp responsesResponse
	if err := c.postJSON(ctx, "complete_json", "/v1/responses", &body, &resp); err != nil {
		return err
	}
	text, err := resp.text()
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("no output_text found in response")
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("failed to parse model JSON: %w", err)
	}
	return nil
}

// Stream forwards output_text deltas to onDelta as they arrive and returns the
// accumulated text. A stream that ends with an error event returns that error.
func (c *client) Stream(ctx context.Context, req Request, onDelta func(delta string)) (string, error) {
	body := c.buildRequest(req)
	body.Stream = true
	resp, err := c.post(ctx, "stream", "/v1/responses", &body, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder
	err = streamSSE(resp.Body, func(event string, data string) error {
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			return nil
		}
		var obj struct {
			Type    string          `json:"type"`
			Delta   string          `json:"delta"`
			Refusal string          `json:"refusal"`
			Error   json.RawMessage `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &obj); err != nil {
			return nil
		}
		evt := event
		if obj.Type != "" {
			evt = obj.Type
		}
		switch {
		case len(obj.Error) > 0 && string(obj.Error) != "null":
			return fmt.Errorf("openai stream error: %s", string(obj.Error))
		case evt == "error":
			return fmt.Errorf("openai stream error: %s", data)
		case obj.Refusal != "":
			return fmt.Errorf("model refused: %s", obj.Refusal)
		case strings.HasSuffix(evt, "output_text.delta") && obj.Delta != "":
			full.WriteString(obj.Delta)
			if onDelta != nil {
				onDelta(obj.Delta)
			}
		}
		return nil
	})
	if err != nil {
		return full.String(), err
	}
	return full.String(), nil
}

// -------------------- Embeddings --------------------

type embeddingsRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}
	clean := make([]string, len(inputs))
	for i, s := range inputs {
		s = strings.TrimSpace(s)
		if s == "" {
			s = " "
		}
		clean[i] = s
	}
	req := embeddingsRequest{Model: c.cfg.EmbedModel, Input: clean, Dimensions: c.cfg.EmbedDims}

	var resp embeddingsResponse
	if err := c.postJSON(ctx, "embed", "/v1/embeddings", &req, &resp); err != nil {
		return nil, err
	}
	out := make([][]float32, len(clean))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	for i := range out {
		if len(out[i]) == 0 {
			return nil, fmt.Errorf("openai embeddings missing index %d: requested=%d returned=%d", i, len(clean), len(resp.Data))
		}
	}
	return out, nil
}
