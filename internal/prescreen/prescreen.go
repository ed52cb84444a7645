// Package prescreen implements the deterministic pattern pre-screener: a
// pure-function pass that decides whether a piece of text requires AI
// review, using a sealed, pre-compiled set of regexes and keyword lists.
//
// This is the one package in the repository built entirely on the standard
// library — regexp and strings are exactly the tools Go
// ships for this kind of deterministic pattern scan, and a third-party
// regex/NLP library would add a dependency for no behavioral gain here.
package prescreen

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/yanolja/modgate"
)

// Result is the pre-screener's verdict for one piece of text.
type Result struct {
	NeedsAIReview bool
	Flags         []string
	Reason        string
	// Matches holds the byte ranges [start, end) of each match found, for
	// use by the pipeline's redaction step.
	Matches []Match
}

// Match identifies one matched substring's byte range within the input text.
type Match struct {
	Start, End int
}

var (
	criticalTerms = []string{
		"wire transfer", "routing number", "swift code", "ssn", "social security number",
		"account number", "security clearance", "classified",
	}

	benignPhrases = []string{
		"thank you", "have a nice day", "hello there", "how are you",
	}

	obfuscationPattern = regexp.MustCompile(`\b\w\s{2,}\w\s{2,}\w\b`)

	phoneDigitsPattern   = regexp.MustCompile(`(\+?\d{1,3}[\s.-]?)?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}\b`)
	phoneSpelledPattern  = regexp.MustCompile(`(?i)\b(zero|one|two|three|four|five|six|seven|eight|nine)(\s+(zero|one|two|three|four|five|six|seven|eight|nine)){6,}\b`)
	phoneIntentPattern   = regexp.MustCompile(`(?i)\b(call|text|reach)\s+me\s+(at|on)\b|\bmy\s+(phone\s+)?number\s+is\b`)

	emailPattern        = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	emailObfuscatedPattern = regexp.MustCompile(`(?i)\b[A-Za-z0-9._%+-]+\s*(\(|\[)?at(\)|\])?\s*[A-Za-z0-9.-]+\s*(\(|\[)?dot(\)|\])?\s*[A-Za-z]{2,}\b`)
	emailIntentPattern  = regexp.MustCompile(`(?i)\bmy\s+email\s+is\b|\bemail\s+me\s+at\b`)

	abusiveTerms = []string{
		"idiot", "stupid", "moron", "dumbass", "worthless",
	}
	abusiveIntentPattern = regexp.MustCompile(`(?i)\bi\s+(will|'ll)\s+(hurt|kill|destroy)\s+you\b`)

	streetAddressPattern = regexp.MustCompile(`(?i)\b\d{1,5}\s+([A-Za-z]+\s){1,4}(street|st|avenue|ave|road|rd|boulevard|blvd|lane|ln|drive|dr)\b`)
	creditCardPattern    = regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`)
	amexPattern          = regexp.MustCompile(`\b3[47][0-9]{2}[ -]?[0-9]{6}[ -]?[0-9]{5}\b`)
	cvvContextPattern    = regexp.MustCompile(`(?i)\bcvv\b\s*:?\s*\d{3,4}\b`)
	physicalIntentPattern = regexp.MustCompile(`(?i)\bmy\s+address\s+is\b|\bi\s+live\s+at\b|\bcome\s+to\s+my\s+(house|place|home)\b`)

	socialHandlePattern = regexp.MustCompile(`@[A-Za-z0-9_]{3,30}\b`)
	socialLinkPattern   = regexp.MustCompile(`(?i)\b(instagram|twitter|x\.com|facebook|tiktok|snapchat|linkedin)\.com/[A-Za-z0-9_.]+`)
	socialIntentPattern = regexp.MustCompile(`(?i)\bfollow\s+me\s+on\b|\badd\s+me\s+on\b|\bfind\s+me\s+on\b`)
)

// Scan runs the pre-screener over text under the given normalized config.
func Scan(text string, config modgate.FilterConfig) Result {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || tokenCount(trimmed) < 3 {
		return Result{NeedsAIReview: false}
	}

	if len(trimmed) < 50 && containsAny(strings.ToLower(trimmed), benignPhrases) {
		if res, hit := scanDisallowed(trimmed, config); hit {
			return res
		}
		return Result{NeedsAIReview: false}
	}

	lower := strings.ToLower(trimmed)
	for _, term := range criticalTerms {
		if strings.Contains(lower, term) {
			return Result{
				NeedsAIReview: true,
				Flags:         []string{string(modgate.FlagCriticalTerm)},
				Reason:        fmt.Sprintf("contains critical term: %s", term),
			}
		}
	}

	if loc := obfuscationPattern.FindStringIndex(trimmed); loc != nil {
		return Result{
			NeedsAIReview: true,
			Flags:         []string{string(modgate.FlagObfuscation)},
			Reason:        "text shows signs of character obfuscation",
			Matches:       []Match{{Start: loc[0], End: loc[1]}},
		}
	}

	if res, hit := scanDisallowed(trimmed, config); hit {
		return res
	}

	return Result{NeedsAIReview: false}
}

// scanDisallowed runs every disallowed-category check in a fixed order,
// skipping categories the config explicitly allows.
func scanDisallowed(text string, config modgate.FilterConfig) (Result, bool) {
	if !config.AllowPhone {
		if res, ok := scanPhone(text); ok {
			return res, true
		}
	}
	if !config.AllowEmail {
		if res, ok := scanEmail(text); ok {
			return res, true
		}
	}
	if !config.AllowAbuse {
		if res, ok := scanAbuse(text); ok {
			return res, true
		}
	}
	if !config.AllowPhysicalInformation {
		if res, ok := scanPhysical(text); ok {
			return res, true
		}
	}
	if !config.AllowSocialInformation {
		if res, ok := scanSocial(text); ok {
			return res, true
		}
	}
	return Result{}, false
}

func scanPhone(text string) (Result, bool) {
	if loc := phoneDigitsPattern.FindStringIndex(text); loc != nil {
		return flagMatch(modgate.FlagPhoneNumber, "contains a phone number", loc), true
	}
	if loc := phoneSpelledPattern.FindStringIndex(text); loc != nil {
		return flagMatch(modgate.FlagPhoneNumber, "contains a spelled-out phone number", loc), true
	}
	if loc := phoneIntentPattern.FindStringIndex(text); loc != nil {
		return flagMatch(modgate.FlagPhoneIntent, "shows intent to share a phone number", loc), true
	}
	return Result{}, false
}

func scanEmail(text string) (Result, bool) {
	if loc := emailPattern.FindStringIndex(text); loc != nil {
		return flagMatch(modgate.FlagEmailAddress, "contains an email address", loc), true
	}
	if loc := emailObfuscatedPattern.FindStringIndex(text); loc != nil {
		return flagMatch(modgate.FlagEmailAddress, "contains an obfuscated email address", loc), true
	}
	if loc := emailIntentPattern.FindStringIndex(text); loc != nil {
		return flagMatch(modgate.FlagEmailIntent, "shows intent to share an email address", loc), true
	}
	return Result{}, false
}

func scanAbuse(text string) (Result, bool) {
	lower := strings.ToLower(text)
	for _, term := range abusiveTerms {
		if idx := strings.Index(lower, term); idx >= 0 {
			return flagMatch(modgate.FlagAbusiveLanguage, "contains offensive language", []int{idx, idx + len(term)}), true
		}
	}
	if loc := abusiveIntentPattern.FindStringIndex(text); loc != nil {
		return flagMatch(modgate.FlagAbusiveIntent, "shows intent to threaten or abuse", loc), true
	}
	return Result{}, false
}

func scanPhysical(text string) (Result, bool) {
	if loc := streetAddressPattern.FindStringIndex(text); loc != nil {
		return flagMatch(modgate.FlagPhysicalAddress, "contains a street address", loc), true
	}
	if loc := amexPattern.FindStringIndex(text); loc != nil {
		return flagMatch(modgate.FlagCreditCard, "contains a credit card number", loc), true
	}
	if loc := creditCardPattern.FindStringIndex(text); loc != nil {
		return flagMatch(modgate.FlagCreditCard, "contains a credit card number", loc), true
	}
	if loc := cvvContextPattern.FindStringIndex(text); loc != nil {
		return flagMatch(modgate.FlagCVV, "contains a card security code", loc), true
	}
	if loc := physicalIntentPattern.FindStringIndex(text); loc != nil {
		return flagMatch(modgate.FlagPhysicalIntent, "shows intent to share a physical address", loc), true
	}
	return Result{}, false
}

func scanSocial(text string) (Result, bool) {
	if loc := socialHandlePattern.FindStringIndex(text); loc != nil {
		return flagMatch(modgate.FlagSocialHandle, "contains a social media handle", loc), true
	}
	if loc := socialLinkPattern.FindStringIndex(text); loc != nil {
		return flagMatch(modgate.FlagSocialLink, "contains a social media link", loc), true
	}
	if loc := socialIntentPattern.FindStringIndex(text); loc != nil {
		return flagMatch(modgate.FlagSocialIntent, "shows intent to share social media contact", loc), true
	}
	return Result{}, false
}

func flagMatch(flag modgate.Flag, reason string, loc []int) Result {
	return Result{
		NeedsAIReview: true,
		Flags:         []string{string(flag)},
		Reason:        reason,
		Matches:       []Match{{Start: loc[0], End: loc[1]}},
	}
}

func tokenCount(text string) int {
	return len(strings.Fields(text))
}

func containsAny(lower string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Redact replaces every match range in text with asterisks of equal length,
// used by the pipeline when the AI provider does not supply filteredContent.
func Redact(text string, matches []Match) string {
	if len(matches) == 0 {
		return text
	}
	runes := []rune(text)
	out := make([]rune, len(runes))
	copy(out, runes)
	for _, m := range matches {
		start, end := byteRangeToRuneRange(text, m.Start, m.End)
		for i := start; i < end && i < len(out); i++ {
			out[i] = '*'
		}
	}
	return string(out)
}

func byteRangeToRuneRange(text string, byteStart, byteEnd int) (int, int) {
	runeStart, runeEnd := -1, -1
	bytePos := 0
	runeIdx := 0
	for _, r := range text {
		if bytePos == byteStart {
			runeStart = runeIdx
		}
		if bytePos == byteEnd {
			runeEnd = runeIdx
		}
		bytePos += len(string(r))
		runeIdx++
	}
	if runeStart == -1 {
		runeStart = runeIdx
	}
	if runeEnd == -1 {
		runeEnd = runeIdx
	}
	return runeStart, runeEnd
}
