// Package llm asks an OpenAI-compatible chat endpoint for trading decisions.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/zeromicro/go-zero/core/logx"
)

// Chatter is the completion capability the engine depends on.
type Chatter interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// Client talks to the provider through the OpenAI SDK.
type Client struct {
	cfg   Config
	oa    openai.Client
	retry retryPolicy
}

// ClientOption configures optional client behaviour.
type ClientOption func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(o *clientOptions) { o.httpClient = client }
}

// NewClient validates cfg and constructs a client.
func NewClient(cfg *Config, opts ...ClientOption) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("llm: config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithRequestTimeout(cfg.Timeout),
		// retries are handled by retryPolicy so they are logged
		option.WithMaxRetries(0),
	}
	for k, v := range cfg.Headers {
		reqOpts = append(reqOpts, option.WithHeader(k, v))
	}
	if o.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(o.httpClient))
	}
	return &Client{
		cfg:   *cfg,
		oa:    openai.NewClient(reqOpts...),
		retry: newRetryPolicy(cfg.MaxRetries),
	}, nil
}

// Model returns the configured model id.
func (c *Client) Model() string { return c.cfg.Model }

// Chat performs a single completion and returns its first choice.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if req == nil {
		return nil, errors.New("llm: request cannot be nil")
	}
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}
	log := logx.WithContext(ctx)
	start := time.Now()
	log.Infow("llm chat request",
		logx.Field("model", params.Model),
		logx.Field("messages", len(req.Messages)))

	var completion *openai.ChatCompletion
	err = c.retry.run(ctx, func() error {
		resp, callErr := c.oa.Chat.Completions.New(ctx, params)
		if callErr != nil {
			return callErr
		}
		completion = resp
		return nil
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("llm: http %d: %w", apiErr.StatusCode, err)
		}
		return nil, fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("llm: response has no choices")
	}

	choice := completion.Choices[0]
	out := &ChatResponse{
		ID:           completion.ID,
		Model:        completion.Model,
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	elapsed := time.Since(start)
	if elapsed > c.cfg.Timeout/2 {
		log.Slowf("llm chat took %s (model=%s)", elapsed, out.Model)
	}
	log.Infow("llm chat success",
		logx.Field("model", out.Model),
		logx.Field("duration_ms", elapsed.Milliseconds()),
		logx.Field("prompt_tokens", out.Usage.PromptTokens),
		logx.Field("completion_tokens", out.Usage.CompletionTokens),
		logx.Field("finish_reason", out.FinishReason))
	return out, nil
}

func (c *Client) buildParams(req *ChatRequest) (openai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return openai.ChatCompletionNewParams{}, errors.New("llm: request requires at least one message")
	}
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch strings.ToLower(strings.TrimSpace(m.Role)) {
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case RoleAssistant:
			msgs = append(msgs, openai.ChatCompletionMessageParamOfAssistant(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.cfg.Model
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: msgs,
	}
	switch {
	case req.Temperature != nil:
		params.Temperature = openai.Float(*req.Temperature)
	case c.cfg.Temperature != nil:
		params.Temperature = openai.Float(*c.cfg.Temperature)
	}
	maxTokens := c.cfg.MaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}
	if req.JSONMode || c.cfg.JSONMode {
		format := shared.NewResponseFormatJSONObjectParam()
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{OfJSONObject: &format}
	}
	return params, nil
}
