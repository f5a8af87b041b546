// Package llm talks to the hosted text generation API used for eligibility
// scoring and application drafting.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/A1anMc/GrantSGE/internal/circuitbreaker"
	"github.com/A1anMc/GrantSGE/internal/config"
	"github.com/A1anMc/GrantSGE/internal/httpx"
	"github.com/A1anMc/GrantSGE/internal/tracing"
)

// APIVersion is sent as the anthropic-version header.
const APIVersion = "2023-06-01"

var (
	// ErrEmptyResponse means the API answered without any text block.
	ErrEmptyResponse = errors.New("llm: response contained no text")
	// ErrNotConfigured means no API key is set.
	ErrNotConfigured = errors.New("llm: api key not configured")
)

// Request is a single-turn generation request.
type Request struct {
	Model       string
	MaxTokens   int
	Temperature float64
	System      string
	Prompt      string
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm: api status %d (%s): %s", e.Status, e.Type, e.Message)
}

// AnthropicClient implements Generator against the Messages API.
type AnthropicClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	policy  httpx.Policy
	breaker *circuitbreaker.CircuitBreaker
}

// NewAnthropicClient builds a client from configuration.
func NewAnthropicClient(cfg *config.Config) *AnthropicClient {
	return &AnthropicClient{
		baseURL: strings.TrimRight(cfg.AnthropicBaseURL, "/"),
		apiKey:  cfg.AnthropicAPIKey,
		http:    &http.Client{Timeout: cfg.LLMTimeout},
		policy:  httpx.PolicyFromConfig("anthropic", cfg),
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:             "anthropic",
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
			IsFailure:        isBreakerFailure,
		}),
	}
}

// 4xx answers other than 429 are the caller's fault and should not open the breaker.
func isBreakerFailure(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500
	}
	return true
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends req and returns the first text block of the reply.
func (c *AnthropicClient) Generate(ctx context.Context, req Request) (string, error) {
	if c.apiKey == "" {
		return "", ErrNotConfigured
	}
	ctx, span := tracing.StartSpan(ctx, "llm.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.max_tokens", req.MaxTokens),
	)

	body, err := json.Marshal(messagesRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		System:      req.System,
		Messages:    []message{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	var text string
	err = c.breaker.Call(func() error {
		var callErr error
		text, callErr = c.send(ctx, body)
		return callErr
	})
	if err != nil {
		tracing.RecordError(span, err)
		return "", err
	}
	return text, nil
}

func (c *AnthropicClient) send(ctx context.Context, body []byte) (string, error) {
	build := func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("x-api-key", c.apiKey)
		r.Header.Set("anthropic-version", APIVersion)
		return r, nil
	}
	resp, err := httpx.Do(ctx, c.http, c.policy, build, nil, nil)
	if err != nil {
		return "", fmt.Errorf("llm request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read llm response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var er errorResponse
		if json.Unmarshal(raw, &er) == nil && er.Error.Message != "" {
			apiErr.Type = er.Error.Type
			apiErr.Message = er.Error.Message
		}
		return "", apiErr
	}

	var mr messagesResponse
	if err := json.Unmarshal(raw, &mr); err != nil {
		return "", fmt.Errorf("decode llm response: %w", err)
	}
	for _, block := range mr.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", ErrEmptyResponse
}
