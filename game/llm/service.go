// Package llm generates narrative outcomes against an OpenAI-compatible
// provider. Both modes share one contract: produce a single JSON
// document matching the outcome schema. The streaming mode buffers
// every token it forwards, so the text handed to validation is exactly
// the text the caller saw.
package llm

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/kestrelgames/taleweaver/game/observability/logging"
)

// TokenSink receives streamed tokens in arrival order. A sink error
// stops further delivery but never aborts the generation itself.
type TokenSink func(token string) error

// CallStats carries token usage and timing for a single generation.
type CallStats struct {
	PromptTokens     int   `json:"prompt_tokens"`
	CompletionTokens int   `json:"completion_tokens"`
	TotalTokens      int   `json:"total_tokens"`
	// TimeToFirstTokenMs is the wait before the first content token.
	// For single-shot calls it equals the total duration.
	TimeToFirstTokenMs int64 `json:"time_to_first_token_ms"`
	TotalDurationMs    int64 `json:"total_duration_ms"`
}

// Service is the narrative generation interface.
type Service interface {
	// Generate performs a single-shot generation and returns the raw text.
	Generate(ctx context.Context, systemInstructions, userPrompt string) (string, *CallStats, error)

	// GenerateStream streams tokens to sink while buffering them, then
	// returns the full buffered text for validation.
	GenerateStream(ctx context.Context, systemInstructions, userPrompt string, sink TokenSink) (string, *CallStats, error)

	// Provider returns the configured provider name.
	Provider() string

	// Model returns the configured model name.
	Model() string
}

// Config represents LLM service configuration.
type Config struct {
	Provider    string // openai, deepseek, zai, openrouter, ollama
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int     // default: 2048
	Temperature float32 // default: 0.7
	Timeout     time.Duration

	// OutputSchema, when set, is sent as a JSON-schema response format
	// on providers that support it; others fall back to plain
	// JSON-object mode. Conformance stays best-effort either way, the
	// outcome parser owns the final word.
	OutputSchema json.RawMessage
	SchemaName   string
}

type service struct {
	client       *openai.Client
	model        string
	provider     string
	maxTokens    int
	temperature  float32
	timeout      time.Duration
	outputSchema json.RawMessage
	schemaName   string
}

// NewService creates an LLM Service for the configured provider.
func NewService(cfg *Config) (Service, error) {
	if cfg.Model == "" {
		return nil, errors.New("llm: model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.HTTPClient = newHTTPClient(cfg.Timeout)

	baseURL := cfg.BaseURL
	switch cfg.Provider {
	case "deepseek":
		if baseURL == "" {
			baseURL = "https://api.deepseek.com"
		}
	case "zai":
		if baseURL == "" {
			baseURL = "https://open.bigmodel.cn/api/paas/v4"
		}
	case "openrouter":
		if baseURL == "" {
			baseURL = "https://openrouter.ai/api/v1"
		}
	case "ollama":
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
	case "openai":
		// DefaultConfig already points at the OpenAI endpoint.
	default:
		logging.Info("llm: using generic OpenAI-compatible provider", "provider", cfg.Provider)
	}
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = 0.7
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &service{
		client:       openai.NewClientWithConfig(clientConfig),
		model:        cfg.Model,
		provider:     cfg.Provider,
		maxTokens:    maxTokens,
		temperature:  temperature,
		timeout:      timeout,
		outputSchema: cfg.OutputSchema,
		schemaName:   cfg.SchemaName,
	}, nil
}

func (s *service) Provider() string { return s.provider }
func (s *service) Model() string    { return s.model }

func (s *service) Generate(ctx context.Context, systemInstructions, userPrompt string) (string, *CallStats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	logging.Debug("llm: generate request",
		"model", s.model,
		"prompt_length", len(userPrompt),
		"max_tokens", s.maxTokens,
	)

	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, s.request(systemInstructions, userPrompt))
	if err != nil {
		return "", nil, wrapProviderErr(err, "generate")
	}
	if len(resp.Choices) == 0 {
		return "", nil, errors.New("llm: provider returned no choices")
	}

	total := time.Since(start)
	stats := &CallStats{
		PromptTokens:       resp.Usage.PromptTokens,
		CompletionTokens:   resp.Usage.CompletionTokens,
		TotalTokens:        resp.Usage.TotalTokens,
		TimeToFirstTokenMs: total.Milliseconds(),
		TotalDurationMs:    total.Milliseconds(),
	}

	content := resp.Choices[0].Message.Content
	logging.Debug("llm: generate response received",
		"content_length", len(content),
		"total_tokens", stats.TotalTokens,
		"duration_ms", total.Milliseconds(),
	)
	return content, stats, nil
}

func (s *service) GenerateStream(ctx context.Context, systemInstructions, userPrompt string, sink TokenSink) (string, *CallStats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req := s.request(systemInstructions, userPrompt)
	req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	logging.Debug("llm: stream starting", "model", s.model, "prompt_length", len(userPrompt))

	start := time.Now()
	stream, err := s.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", nil, wrapProviderErr(err, "create stream")
	}
	defer func() { _ = stream.Close() }() //nolint:errcheck // cleanup

	var (
		buf            []byte
		firstTokenTime time.Time
		chunkCount     int
		sinkDead       bool
		usage          *openai.Usage
	)

	for {
		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", nil, wrapProviderErr(err, "stream recv")
		}

		if response.Usage != nil && response.Usage.TotalTokens > 0 {
			usage = response.Usage
		}
		if len(response.Choices) == 0 {
			continue
		}

		delta := response.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if firstTokenTime.IsZero() {
			firstTokenTime = time.Now()
		}
		chunkCount++
		buf = append(buf, delta...)

		if sink != nil && !sinkDead {
			if sinkErr := sink(delta); sinkErr != nil {
				// Client gone. Keep buffering so validation still
				// sees the full text.
				logging.Warn("llm: token sink failed, suppressing delivery",
					"chunks", chunkCount, "error", sinkErr)
				sinkDead = true
			}
		}
	}

	total := time.Since(start)
	ttft := total
	if !firstTokenTime.IsZero() {
		ttft = firstTokenTime.Sub(start)
	}
	stats := &CallStats{
		TimeToFirstTokenMs: ttft.Milliseconds(),
		TotalDurationMs:    total.Milliseconds(),
	}
	if usage != nil {
		stats.PromptTokens = usage.PromptTokens
		stats.CompletionTokens = usage.CompletionTokens
		stats.TotalTokens = usage.TotalTokens
	} else {
		// Rough estimate when the provider omits usage.
		stats.TotalTokens = chunkCount * 10
	}

	logging.Debug("llm: stream completed",
		"chunks", chunkCount,
		"content_length", len(buf),
		"duration_ms", total.Milliseconds(),
	)
	return string(buf), stats, nil
}

func (s *service) request(systemInstructions, userPrompt string) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:       s.model,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemInstructions},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	}

	if len(s.outputSchema) > 0 && supportsJSONSchema(s.provider) {
		name := s.schemaName
		if name == "" {
			name = "structured_outcome"
		}
		// Strict mode would demand an all-required schema, which the
		// outcome contract is not: optional intent fields are the norm.
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   name,
				Schema: s.outputSchema,
				Strict: false,
			},
		}
	} else {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return req
}

// supportsJSONSchema reports whether the provider accepts the
// json_schema response format. Others get plain JSON-object mode and
// rely on schema validation downstream.
func supportsJSONSchema(provider string) bool {
	switch provider {
	case "openai", "openrouter":
		return true
	}
	return false
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
