package aiprovider

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yanolja/modgate"
)

func TestCompressHistoryPassesThroughUnderThreshold(t *testing.T) {
	history := make([]modgate.Message, 5)
	for i := range history {
		history[i] = modgate.Message{Role: "user", Text: "turn"}
	}
	assert.Equal(t, history, CompressHistory(history))
}

func TestCompressHistoryBoundsLongerHistory(t *testing.T) {
	history := make([]modgate.Message, 20)
	for i := range history {
		history[i] = modgate.Message{Role: "user", Text: "turn"}
	}
	compressed := CompressHistory(history)
	assert.LessOrEqual(t, len(compressed), 7)
	assert.Contains(t, compressed[0].Text, "summarized")
}

func TestBuildPromptListsDisallowedNotAllowed(t *testing.T) {
	prompt := BuildPrompt("hello", nil, modgate.FilterConfig{AllowPhone: true})
	assert.Contains(t, prompt, "Do NOT flag")
	assert.Contains(t, prompt, "phone numbers")
}

func TestParseResponseExtractsBalancedJSON(t *testing.T) {
	raw := `<think>internal reasoning</think>{"isViolation": true, "flags": ["phone"], "reason": "contains a phone number"}`
	res := ParseResponse(raw)
	assert.True(t, res.Blocked)
	assert.Contains(t, res.Flags, "phone")
}

func TestParseResponseFallsBackToKeywordScan(t *testing.T) {
	raw := "this message is a violation containing abuse"
	res := ParseResponse(raw)
	assert.True(t, res.Blocked)
	assert.Contains(t, res.Flags, "abuse")
}

func TestParseResponseNoViolationKeyword(t *testing.T) {
	res := ParseResponse("just a friendly greeting")
	assert.False(t, res.Blocked)
}

func TestSanitizeReasonTruncatesAndRedacts(t *testing.T) {
	reason := sanitizeReason("contact me at 555-123-4567 for details " + strings.Repeat("x", 100))
	assert.LessOrEqual(t, len(reason), 100)
	assert.NotContains(t, reason, "555-123-4567")
}

func TestErrorResultNeverBlocks(t *testing.T) {
	res := ErrorResult()
	assert.False(t, res.Blocked)
	assert.True(t, res.HasFlag(modgate.FlagError))
}
