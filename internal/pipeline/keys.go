package pipeline

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"

	"github.com/yanolja/modgate"
)

// foldedHash folds raw into a fast non-cryptographic 32-bit FNV-1a digest,
// encoded base36.
func foldedHash(raw string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(raw))
	return strconv.FormatUint(uint64(h.Sum32()), 36)
}

// truncateMiddle keeps the first head and last tail bytes of s, joined by an
// ellipsis marker, when s exceeds head+tail; otherwise s is returned as-is.
// Used to normalize long text bodies for cache-key hashing.
func truncateMiddle(s string, head, tail int) string {
	if len(s) <= head+tail {
		return s
	}
	return s[:head] + "..." + s[len(s)-tail:]
}

func truncateFront(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// canonicalConfigJSON serializes config with a stable key order so two
// equivalent configs always hash identically.
func canonicalConfigJSON(config modgate.FilterConfig) string {
	normalized := config.Normalize()
	fields := map[string]bool{
		"allowAbuse":               normalized.AllowAbuse,
		"allowEmail":               normalized.AllowEmail,
		"allowPhone":               normalized.AllowPhone,
		"allowPhysicalInformation": normalized.AllowPhysicalInformation,
		"allowSocialInformation":   normalized.AllowSocialInformation,
		"returnFilteredMessage":    normalized.ReturnFilteredMessage,
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		v, _ := json.Marshal(fields[k])
		fmt.Fprintf(&b, "%q:%s", k, v)
	}
	b.WriteByte('}')
	return b.String()
}

// historySummary reduces history to its length plus its last n turns, for
// cache-key normalization of conversation history.
func historySummary(history []modgate.Message, n int) string {
	start := len(history) - n
	if start < 0 {
		start = 0
	}
	tail := history[start:]
	var b strings.Builder
	fmt.Fprintf(&b, "%d:", len(history))
	for _, m := range tail {
		fmt.Fprintf(&b, "[%s:%s]", m.Role, m.Text)
	}
	return b.String()
}

func normalizedBody(req *modgate.FilterRequest) string {
	text := truncateMiddle(req.Text, 100, 100)
	image := truncateFront(req.Image, 50)
	return text + "|" + image + "|" + canonicalConfigJSON(req.Config) + "|" + historySummary(req.History, 3)
}

// routeCacheKey hashes url | method | credential | normalizedBody.
func routeCacheKey(url, method, credentialKey string, req *modgate.FilterRequest) string {
	raw := url + "|" + method + "|" + credentialKey + "|" + normalizedBody(req)
	return "route:" + foldedHash(raw)
}

// aiCacheKey is a stable hash of text, history (length + last 3 turns), and
// normalized config.
func aiCacheKey(req *modgate.FilterRequest) string {
	raw := req.Text + "|" + historySummary(req.History, 3) + "|" + canonicalConfigJSON(req.Config)
	return "ai:" + foldedHash(raw)
}
