package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrNotConfigured is returned when no API key is set. Callers treat it as
// "analysis unavailable", not as a failure of the conversation itself.
var ErrNotConfigured = errors.New("completion endpoint not configured")

// Client calls an OpenAI-compatible chat-completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a completion client.
func NewClient(log *slog.Logger, baseURL, apiKey, model string, timeout time.Duration) *Client {
	if log == nil {
		log = slog.Default()
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.With(slog.String("service", "llm")),
	}
}

// Configured reports whether the client has a credential to call with.
func (c *Client) Configured() bool {
	return c != nil && c.apiKey != ""
}

type wireRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    *float32        `json:"temperature,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
}

type wireResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Chat performs one completion call. There is no retry; the caller decides
// whether a failed pass is re-scheduled later.
func (c *Client) Chat(ctx context.Context, req Request) (Result, error) {
	if !c.Configured() {
		return Result{}, ErrNotConfigured
	}
	model := req.Model
	if model == "" {
		model = c.model
	}
	body, err := json.Marshal(wireRequest{
		Model:          model,
		Messages:       req.Messages,
		Temperature:    req.Temperature,
		ResponseFormat: req.ResponseFormat,
		MaxTokens:      req.MaxTokens,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("call completion endpoint: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read completion response: %w", err)
	}

	var wire wireResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return Result{}, fmt.Errorf("decode completion response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg := ""
		if wire.Error != nil {
			msg = wire.Error.Message
		}
		return Result{}, fmt.Errorf("completion endpoint status %d: %s", resp.StatusCode, msg)
	}
	if len(wire.Choices) == 0 {
		return Result{}, errors.New("completion response has no choices")
	}

	choice := wire.Choices[0]
	return Result{
		Content:      choice.Message.Content,
		Model:        wire.Model,
		FinishReason: choice.FinishReason,
		Usage:        wire.Usage,
	}, nil
}

// StripCodeFences removes a wrapping markdown code fence, which some models
// emit even in JSON mode.
func StripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		// Drop the language tag line (```json).
		first := strings.TrimSpace(trimmed[:idx])
		if first == "" || !strings.ContainsAny(first, "{}[]") {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
