package prescreen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yanolja/modgate"
)

func TestScanEmptyInput(t *testing.T) {
	res := Scan("", modgate.FilterConfig{})
	assert.False(t, res.NeedsAIReview)
	assert.Empty(t, res.Flags)
}

func TestScanShortInputBelowTokenThreshold(t *testing.T) {
	res := Scan("hi there", modgate.FilterConfig{})
	assert.False(t, res.NeedsAIReview)
}

func TestScanBenignText(t *testing.T) {
	res := Scan("Hi there, how is your day going", modgate.FilterConfig{})
	assert.False(t, res.NeedsAIReview)
}

func TestScanPhoneNumber(t *testing.T) {
	res := Scan("Call me at 555-123-4567 tomorrow", modgate.FilterConfig{})
	assert.True(t, res.NeedsAIReview)
	assert.Contains(t, res.Flags, string(modgate.FlagPhoneNumber))
	assert.NotContains(t, res.Reason, "5")
}

func TestScanPhoneNumberAllowedSkipsBranch(t *testing.T) {
	res := Scan("Call me at 555-123-4567 tomorrow", modgate.FilterConfig{AllowPhone: true})
	assert.False(t, res.NeedsAIReview)
}

func TestScanCriticalTerm(t *testing.T) {
	res := Scan("please send the wire transfer today", modgate.FilterConfig{})
	assert.True(t, res.NeedsAIReview)
	assert.Contains(t, res.Flags, string(modgate.FlagCriticalTerm))
}

func TestScanEmailAddress(t *testing.T) {
	res := Scan("send it to person@example.com please", modgate.FilterConfig{})
	assert.True(t, res.NeedsAIReview)
	assert.Contains(t, res.Flags, string(modgate.FlagEmailAddress))
}

func TestRedactMasksMatchedRange(t *testing.T) {
	text := "Call me at 555-123-4567 now"
	res := Scan(text, modgate.FilterConfig{})
	redacted := Redact(text, res.Matches)
	assert.NotEqual(t, text, redacted)
	assert.True(t, strings.Contains(redacted, "*"))
}
