// Package aiprovider defines the AI moderation provider capability and the
// shared prompt-construction/response-parsing logic both transport
// implementations (chatapi, streamchat) rely on. Keeping prompt construction
// and parsing here, rather than duplicated per-transport, is what lets the
// AI-result cache key work identically regardless of which provider served
// the request.
package aiprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/yanolja/modgate"
)

// DefaultTimeout is the per-call timeout applied when a caller does not
// specify one.
const DefaultTimeout = 5 * time.Second

// MaxOutputTokens bounds the model's response size.
const MaxOutputTokens = 300

// Provider is the single-method AI moderation capability. Concrete
// transports (chatapi.Endpoint, streamchat.Endpoint) implement this.
type Provider interface {
	AnalyzeText(ctx context.Context, text string, history []modgate.Message, config modgate.FilterConfig) (modgate.FilterResult, error)
}

// disallowedCategories enumerates, in a fixed order, which categories the
// prompt should ask the model to enforce.
var disallowedCategories = []struct {
	allowed func(modgate.FilterConfig) bool
	label   string
}{
	{func(c modgate.FilterConfig) bool { return c.AllowAbuse }, "abusive or threatening language"},
	{func(c modgate.FilterConfig) bool { return c.AllowPhone }, "phone numbers or requests to share one"},
	{func(c modgate.FilterConfig) bool { return c.AllowEmail }, "email addresses or requests to share one"},
	{func(c modgate.FilterConfig) bool { return c.AllowPhysicalInformation }, "physical addresses, credit card numbers, or CVV codes"},
	{func(c modgate.FilterConfig) bool { return c.AllowSocialInformation }, "social media handles, links, or requests to connect"},
}

// BuildPrompt constructs the deterministic moderation prompt for
// (config, history, text). It enumerates only disallowed categories,
// explicitly lists allowed categories, and constrains the model's response
// shape.
func BuildPrompt(text string, history []modgate.Message, config modgate.FilterConfig) string {
	var disallowed, allowed []string
	for _, cat := range disallowedCategories {
		if cat.allowed(config) {
			allowed = append(allowed, cat.label)
		} else {
			disallowed = append(disallowed, cat.label)
		}
	}

	var b strings.Builder
	b.WriteString("You are a content moderation classifier. Flag any of the following if present: ")
	b.WriteString(strings.Join(disallowed, "; "))
	b.WriteString(".\n")
	if len(allowed) > 0 {
		b.WriteString("Do NOT flag: ")
		b.WriteString(strings.Join(allowed, "; "))
		b.WriteString(".\n")
	}

	if compressed := CompressHistory(history); len(compressed) > 0 {
		b.WriteString("Conversation history (summarized if long):\n")
		for _, m := range compressed {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Text)
		}
	}

	b.WriteString("Message to evaluate:\n")
	b.WriteString(text)
	b.WriteString("\n\nRespond with exactly one JSON object of the shape ")
	b.WriteString(`{"isViolation": bool, "flags": [string], "reason": string, "filteredContent": string (optional)}`)
	b.WriteString(". Do not include any other text.")
	return b.String()
}

// CompressHistory bounds the history passed to the provider: ≤ 5 turns pass
// through unchanged; otherwise the last 3, the first turn, the middle of the
// first third, and the middle turn are kept, in chronological order,
// prefixed with a summarization note.
func CompressHistory(history []modgate.Message) []modgate.Message {
	n := len(history)
	if n <= 5 {
		return history
	}

	indices := map[int]bool{
		0:     true,
		n / 6: true,
		n / 2: true,
	}
	for i := n - 3; i < n; i++ {
		indices[i] = true
	}

	var ordered []int
	for i := range indices {
		ordered = append(ordered, i)
	}
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			if ordered[j] < ordered[i] {
				ordered[i], ordered[j] = ordered[j], ordered[i]
			}
		}
	}

	out := make([]modgate.Message, 0, len(ordered)+1)
	out = append(out, modgate.Message{Role: "system", Text: "summarized history: earlier turns omitted"})
	for _, idx := range ordered {
		out = append(out, history[idx])
	}
	return out
}

var thinkTagPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// rawVerdict mirrors the JSON object the prompt asks the model to return.
type rawVerdict struct {
	IsViolation     bool     `json:"isViolation"`
	Flags           []string `json:"flags"`
	Reason          string   `json:"reason"`
	FilteredContent *string  `json:"filteredContent,omitempty"`
}

// ParseResponse strips <think> regions, extracts the first balanced {...}
// substring, parses it, and falls back to a keyword scan if parsing fails.
func ParseResponse(raw string) modgate.FilterResult {
	cleaned := thinkTagPattern.ReplaceAllString(raw, "")

	if jsonStr, ok := extractBalancedObject(cleaned); ok {
		var v rawVerdict
		if err := json.Unmarshal([]byte(jsonStr), &v); err == nil {
			return toFilterResult(v)
		}
	}

	return keywordFallback(cleaned)
}

// extractBalancedObject returns the first balanced {...} substring in s.
func extractBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func toFilterResult(v rawVerdict) modgate.FilterResult {
	res := modgate.FilterResult{
		Blocked: v.IsViolation,
		Flags:   v.Flags,
		Reason:  sanitizeReason(v.Reason),
	}
	if v.FilteredContent != nil {
		res.FilteredContent = v.FilteredContent
	}
	return res
}

var reasonPhoneOrEmailPattern = regexp.MustCompile(`(?i)(\d{3}[\s.-]?\d{3}[\s.-]?\d{4})|([A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,})`)

// sanitizeReason truncates reason to 100 chars and redacts phone/email-shaped
// substrings.
func sanitizeReason(reason string) string {
	reason = reasonPhoneOrEmailPattern.ReplaceAllString(reason, "[redacted]")
	if len(reason) > 100 {
		reason = reason[:100]
	}
	return reason
}

var flagVocabulary = []modgate.Flag{
	modgate.FlagAbuse, modgate.FlagPhone, modgate.FlagEmail, modgate.FlagAddress,
	modgate.FlagCreditCard, modgate.FlagCVV, modgate.FlagSocialMedia, modgate.FlagPII,
	modgate.FlagInappropriate,
}

// keywordFallback assembles a best-effort verdict when the model's response
// could not be parsed as JSON.
func keywordFallback(raw string) modgate.FilterResult {
	lower := strings.ToLower(raw)
	if !strings.Contains(lower, "violation") {
		return modgate.FilterResult{Blocked: false, Flags: []string{}, Reason: "no violation detected"}
	}

	var flags []string
	for _, f := range flagVocabulary {
		if strings.Contains(lower, strings.ToLower(string(f))) {
			flags = append(flags, string(f))
		}
	}
	return modgate.FilterResult{
		Blocked: true,
		Flags:   flags,
		Reason:  sanitizeReason("content flagged by moderation model"),
	}
}

// ErrorResult is the never-block-on-failure verdict used when the provider
// call times out, fails on the network, or returns a 5xx.
func ErrorResult() modgate.FilterResult {
	return modgate.FilterResult{
		Blocked: false,
		Flags:   []string{string(modgate.FlagError)},
		Reason:  "AI analysis failed, allowing content as a precaution",
	}
}
