package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const completionBody = `{
	"id":"chatcmpl-1",
	"object":"chat.completion",
	"created":1730366400,
	"model":"deepseek/deepseek-chat-v3.1",
	"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"BTC\":{\"signal\":\"hold\"}}"}}],
	"usage":{"prompt_tokens":120,"completion_tokens":12,"total_tokens":132}
}`

type fakeProvider struct {
	mu       sync.Mutex
	statuses []int
	bodies   []map[string]any
	headers  []http.Header
}

func (f *fakeProvider) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		assert.NoError(t, json.Unmarshal(raw, &body))

		f.mu.Lock()
		f.bodies = append(f.bodies, body)
		f.headers = append(f.headers, r.Header.Clone())
		status := http.StatusOK
		if len(f.statuses) > 0 {
			status = f.statuses[0]
			f.statuses = f.statuses[1:]
		}
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = io.WriteString(w, completionBody)
			return
		}
		_, _ = io.WriteString(w, `{"error":{"message":"upstream busy","type":"server_error"}}`)
	})
}

func newTestClient(t *testing.T, f *fakeProvider, mutate func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	cfg := &Config{
		BaseURL:    srv.URL,
		APIKey:     "test-key",
		Model:      "deepseek/deepseek-chat-v3.1",
		MaxTokens:  4000,
		MaxRetries: 2,
		Timeout:    5 * time.Second,
		Headers:    map[string]string{"X-Title": "perpexec"},
	}
	if mutate != nil {
		mutate(cfg)
	}
	c, err := NewClient(cfg, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	c.retry.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestClientChat(t *testing.T) {
	f := &fakeProvider{}
	temp := 0.3
	c := newTestClient(t, f, func(cfg *Config) { cfg.Temperature = &temp; cfg.JSONMode = true })

	resp, err := c.Chat(context.Background(), &ChatRequest{Messages: []Message{
		{Role: RoleSystem, Content: "rules"},
		{Role: RoleUser, Content: "market"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "chatcmpl-1", resp.ID)
	assert.Equal(t, `{"BTC":{"signal":"hold"}}`, resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.False(t, resp.Truncated())
	assert.Equal(t, 132, resp.Usage.TotalTokens)

	require.Len(t, f.bodies, 1)
	body := f.bodies[0]
	assert.Equal(t, "deepseek/deepseek-chat-v3.1", body["model"])
	assert.InDelta(t, 0.3, body["temperature"], 1e-9)
	assert.EqualValues(t, 4000, body["max_tokens"])
	assert.Equal(t, map[string]any{"type": "json_object"}, body["response_format"])
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])

	h := f.headers[0]
	assert.Equal(t, "Bearer test-key", h.Get("Authorization"))
	assert.Equal(t, "perpexec", h.Get("X-Title"))
}

func TestClientChatRequestOverrides(t *testing.T) {
	f := &fakeProvider{}
	c := newTestClient(t, f, nil)
	temp, maxTokens := 0.9, 256
	_, err := c.Chat(context.Background(), &ChatRequest{
		Model:       "openai/gpt-4o-mini",
		Messages:    []Message{{Role: RoleUser, Content: "hi"}},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	require.NoError(t, err)
	body := f.bodies[0]
	assert.Equal(t, "openai/gpt-4o-mini", body["model"])
	assert.EqualValues(t, 256, body["max_tokens"])
	assert.NotContains(t, body, "response_format")
}

func TestClientChatRetriesTransientErrors(t *testing.T) {
	f := &fakeProvider{statuses: []int{http.StatusBadGateway, http.StatusTooManyRequests}}
	c := newTestClient(t, f, nil)
	resp, err := c.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	require.NoError(t, err)
	assert.Equal(t, "chatcmpl-1", resp.ID)
	assert.Len(t, f.bodies, 3)
}

func TestClientChatGivesUp(t *testing.T) {
	f := &fakeProvider{statuses: []int{http.StatusBadRequest}}
	c := newTestClient(t, f, nil)
	_, err := c.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 400")
	assert.Len(t, f.bodies, 1, "client errors are not retried")

	f = &fakeProvider{statuses: []int{500, 500, 500, 500}}
	c = newTestClient(t, f, nil)
	_, err = c.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	require.Error(t, err)
	assert.Len(t, f.bodies, 3)
}

func TestClientChatValidation(t *testing.T) {
	c := newTestClient(t, &fakeProvider{}, nil)
	_, err := c.Chat(context.Background(), nil)
	assert.Error(t, err)
	_, err = c.Chat(context.Background(), &ChatRequest{})
	assert.Error(t, err)

	_, err = NewClient(nil)
	assert.Error(t, err)
	_, err = NewClient(&Config{BaseURL: "http://x", Model: "m", Timeout: time.Second})
	assert.ErrorContains(t, err, "api_key")
}

func TestLoadConfigFromReader(t *testing.T) {
	t.Setenv("LLM_API_KEY", "env-key")
	t.Setenv("LLM_MAX_RETRIES", "4")
	t.Setenv("OPENROUTER_REFERER", "https://example.com")

	cfg, err := LoadConfigFromReader(strings.NewReader(`
api_key: "${SHOULD_NOT_MATTER}"
temperature: 0.4
timeout: 30s
headers:
  HTTP-Referer: ${OPENROUTER_REFERER}
`))
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.APIKey)
	assert.Equal(t, defaultBaseURL, cfg.BaseURL)
	assert.Equal(t, defaultModel, cfg.Model)
	assert.Equal(t, 4, cfg.MaxRetries)
	assert.Equal(t, defaultMaxTokens, cfg.MaxTokens)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.4, *cfg.Temperature, 1e-9)
	assert.Equal(t, "https://example.com", cfg.Headers["HTTP-Referer"])
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "missing key", yaml: "model: x\n", want: "api_key is required"},
		{name: "bad timeout", yaml: "api_key: k\ntimeout: soon\n", want: "invalid timeout"},
		{name: "negative timeout", yaml: "api_key: k\ntimeout: -1s\n", want: "timeout must be positive"},
		{name: "temperature", yaml: "api_key: k\ntemperature: 3\n", want: "temperature"},
		{name: "retries", yaml: "api_key: k\nmax_retries: -1\n", want: "max_retries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LLM_API_KEY", "")
			_, err := LoadConfigFromReader(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
