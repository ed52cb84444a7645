// Package streamchat implements the SSE streaming-chat transport for AI
// moderation calls, grounded on the reference
// GenerateChatCompletionStream shape: a bufio.Scanner
// over "data: " frames, terminated by "[DONE]", here accumulating the
// streamed content instead of forwarding chunks to a caller, since
// moderation needs the complete verdict before it can parse one.
package streamchat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/yanolja/modgate"
	"github.com/yanolja/modgate/internal/aiprovider"
)

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Endpoint is an aiprovider.Provider backed by an SSE streaming chat
// endpoint.
type Endpoint struct {
	apiKey  string
	baseURL *url.URL
	model   string
	client  *http.Client
	logger  *zap.SugaredLogger
}

// NewEndpoint constructs a streamchat Endpoint.
func NewEndpoint(baseURL, apiKey, model string, logger *zap.SugaredLogger) (*Endpoint, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("streamchat: invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("streamchat: base url must be absolute, got %q", baseURL)
	}
	return &Endpoint{
		apiKey:  apiKey,
		baseURL: parsed,
		model:   model,
		client:  &http.Client{Timeout: aiprovider.DefaultTimeout},
		logger:  logger,
	}, nil
}

// AnalyzeText streams the moderation response, accumulates it, and parses
// the trailing verdict. Degrades to aiprovider.ErrorResult on failure.
func (e *Endpoint) AnalyzeText(ctx context.Context, text string, history []modgate.Message, config modgate.FilterConfig) (modgate.FilterResult, error) {
	ctx, cancel := context.WithTimeout(ctx, aiprovider.DefaultTimeout)
	defer cancel()

	prompt := aiprovider.BuildPrompt(text, history, config)
	reqBody := chatRequest{
		Model:       e.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   aiprovider.MaxOutputTokens,
		Temperature: 0,
		Stream:      true,
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		e.logger.Warnw("streamchat: failed to marshal request", "error", err)
		return aiprovider.ErrorResult(), nil
	}

	endpoint, err := url.JoinPath(e.baseURL.String(), "chat/completions")
	if err != nil {
		e.logger.Warnw("streamchat: failed to build endpoint path", "error", err)
		return aiprovider.ErrorResult(), nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		e.logger.Warnw("streamchat: failed to create request", "error", err)
		return aiprovider.ErrorResult(), nil
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		e.logger.Warnw("streamchat: request failed", "error", err)
		return aiprovider.ErrorResult(), nil
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		e.logger.Warnw("streamchat: unexpected status", "status", httpResp.StatusCode, "body", string(body))
		return aiprovider.ErrorResult(), nil
	}

	content, err := e.accumulate(ctx, httpResp.Body)
	if err != nil {
		e.logger.Warnw("streamchat: stream read failed", "error", err)
		return aiprovider.ErrorResult(), nil
	}

	return aiprovider.ParseResponse(content), nil
}

func (e *Endpoint) accumulate(ctx context.Context, body io.Reader) (string, error) {
	var out strings.Builder
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return out.String(), ctx.Err()
		default:
		}

		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			e.logger.Debugw("streamchat: failed to parse chunk", "error", err, "data", data)
			continue
		}
		for _, choice := range chunk.Choices {
			out.WriteString(choice.Delta.Content)
		}
	}
	return out.String(), scanner.Err()
}
