// Package chatapi implements the HTTP/JSON request-response transport for
// AI moderation calls, grounded on the reference chat-completion transport: an http.Client plus
// http.NewRequestWithContext and json.Unmarshal(body, &resp), generalized
// from chat-completion requests to moderation verdicts.
package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/yanolja/modgate"
	"github.com/yanolja/modgate/internal/aiprovider"
)

// chatRequest is the minimal OpenAI-compatible chat payload the endpoint
// sends; fields beyond what moderation needs are omitted.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Endpoint is an aiprovider.Provider backed by a single HTTP chat-completions
// endpoint.
type Endpoint struct {
	apiKey  string
	baseURL *url.URL
	model   string
	client  *http.Client
	logger  *zap.SugaredLogger
}

// NewEndpoint constructs an Endpoint, validating baseURL the way the
// teacher's provider/openai/openai.go NewEndpoint does.
func NewEndpoint(baseURL, apiKey, model string, logger *zap.SugaredLogger) (*Endpoint, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("chatapi: invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("chatapi: base url must be absolute, got %q", baseURL)
	}
	return &Endpoint{
		apiKey:  apiKey,
		baseURL: parsed,
		model:   model,
		client:  &http.Client{Timeout: aiprovider.DefaultTimeout},
		logger:  logger,
	}, nil
}

// AnalyzeText sends the moderation prompt and parses the response, returning
// aiprovider.ErrorResult on any marshal, request, or transport failure.
func (e *Endpoint) AnalyzeText(ctx context.Context, text string, history []modgate.Message, config modgate.FilterConfig) (modgate.FilterResult, error) {
	ctx, cancel := context.WithTimeout(ctx, aiprovider.DefaultTimeout)
	defer cancel()

	prompt := aiprovider.BuildPrompt(text, history, config)
	reqBody := chatRequest{
		Model:       e.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   aiprovider.MaxOutputTokens,
		Temperature: 0,
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		e.logger.Warnw("chatapi: failed to marshal request", "error", err)
		return aiprovider.ErrorResult(), nil
	}

	endpoint, err := url.JoinPath(e.baseURL.String(), "chat/completions")
	if err != nil {
		e.logger.Warnw("chatapi: failed to build endpoint path", "error", err)
		return aiprovider.ErrorResult(), nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		e.logger.Warnw("chatapi: failed to create request", "error", err)
		return aiprovider.ErrorResult(), nil
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)

	start := time.Now()
	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		e.logger.Warnw("chatapi: request failed", "error", err, "elapsed", time.Since(start))
		return aiprovider.ErrorResult(), nil
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		e.logger.Warnw("chatapi: failed to read response body", "error", err)
		return aiprovider.ErrorResult(), nil
	}

	if httpResp.StatusCode >= 500 || httpResp.StatusCode == http.StatusTooManyRequests {
		e.logger.Warnw("chatapi: upstream error", "status", httpResp.StatusCode, "body", string(body))
		return aiprovider.ErrorResult(), nil
	}
	if httpResp.StatusCode != http.StatusOK {
		e.logger.Warnw("chatapi: unexpected status", "status", httpResp.StatusCode, "body", string(body))
		return aiprovider.ErrorResult(), nil
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Choices) == 0 {
		e.logger.Warnw("chatapi: failed to unmarshal response", "error", err)
		return aiprovider.ErrorResult(), nil
	}

	return aiprovider.ParseResponse(parsed.Choices[0].Message.Content), nil
}
