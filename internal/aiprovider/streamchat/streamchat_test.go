package streamchat

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yanolja/modgate"
)

func sseFrame(content string) string {
	return fmt.Sprintf("data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", content)
}

func TestAnalyzeTextAccumulatesStreamedVerdict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseFrame(`{"isViolation": `))
		fmt.Fprint(w, sseFrame(`true, "flags": ["phone"], "reason": "has a phone number"}`))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	logger := zaptest.NewLogger(t).Sugar()
	endpoint, err := NewEndpoint(server.URL, "test-key", "moderation-fast", logger)
	require.NoError(t, err)

	result, err := endpoint.AnalyzeText(context.Background(), "call me", nil, modgate.FilterConfig{})
	require.NoError(t, err)
	assert.True(t, result.Blocked)
	assert.Contains(t, result.Flags, "phone")
}

func TestAnalyzeTextDegradesOnUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	logger := zaptest.NewLogger(t).Sugar()
	endpoint, err := NewEndpoint(server.URL, "test-key", "moderation-fast", logger)
	require.NoError(t, err)

	result, err := endpoint.AnalyzeText(context.Background(), "hello", nil, modgate.FilterConfig{})
	require.NoError(t, err)
	assert.False(t, result.Blocked)
	assert.True(t, result.HasFlag(modgate.FlagError))
}

func TestNewEndpointRejectsRelativeBaseURL(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	_, err := NewEndpoint("not-a-url", "test-key", "moderation-fast", logger)
	assert.Error(t, err)
}
