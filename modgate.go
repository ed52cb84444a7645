// Package modgate defines the request/response shapes shared across the
// content moderation service: filter configuration, requests, results, and
// the closed flag vocabulary.
package modgate

import (
	"strings"

	"github.com/yanolja/modgate/internal/apierr"
)

// Validation errors returned by FilterRequest.Validate.
var (
	ErrMissingContent = apierr.New(apierr.KindValidation, "request must contain text or image")
	ErrHistoryTooLong = apierr.New(apierr.KindValidation, "history exceeds maximum of 15 turns")
	ErrTextTooLarge   = apierr.New(apierr.KindValidation, "text exceeds maximum size of 10MB")
)

// ModelTier selects which AI provider+model pair handles a request.
type ModelTier string

const (
	TierFast   ModelTier = "fast"
	TierNormal ModelTier = "normal"
	TierPro    ModelTier = "pro"
)

// ParseModelTier normalizes an arbitrary tier string, defaulting to TierNormal.
func ParseModelTier(s string) ModelTier {
	switch ModelTier(strings.ToLower(strings.TrimSpace(s))) {
	case TierFast:
		return TierFast
	case TierPro:
		return TierPro
	default:
		return TierNormal
	}
}

// Flag is an element of the closed set of content-category labels.
type Flag string

const (
	FlagAbuse              Flag = "abuse"
	FlagPhone              Flag = "phone"
	FlagEmail              Flag = "email"
	FlagAddress            Flag = "address"
	FlagCreditCard         Flag = "creditCard"
	FlagCVV                Flag = "cvv"
	FlagSocialMedia        Flag = "socialMedia"
	FlagPII                Flag = "pii"
	FlagInappropriate      Flag = "inappropriate"
	FlagError              Flag = "error"
	FlagCriticalTerm       Flag = "critical_term"
	FlagObfuscation        Flag = "obfuscation"
	FlagPhoneIntent        Flag = "phone_number_intent"
	FlagPhoneNumber        Flag = "phone_number"
	FlagEmailAddress       Flag = "email_address"
	FlagEmailIntent        Flag = "email_address_intent"
	FlagAbusiveLanguage    Flag = "abusive_language"
	FlagAbusiveIntent      Flag = "abusive_language_intent"
	FlagPhysicalAddress    Flag = "physical_address"
	FlagPhysicalIntent     Flag = "physical_intent"
	FlagSocialHandle       Flag = "social_media_handle"
	FlagSocialLink         Flag = "social_media_link"
	FlagSocialIntent       Flag = "social_media_intent"
)

// FilterConfig is the caller-supplied, per-request moderation policy. Every
// field defaults to false, the most restrictive setting: absent or
// non-true fields mean "do not allow this category".
type FilterConfig struct {
	AllowAbuse              bool `json:"allowAbuse,omitempty"`
	AllowPhone              bool `json:"allowPhone,omitempty"`
	AllowEmail              bool `json:"allowEmail,omitempty"`
	AllowPhysicalInformation bool `json:"allowPhysicalInformation,omitempty"`
	AllowSocialInformation  bool `json:"allowSocialInformation,omitempty"`
	ReturnFilteredMessage   bool `json:"returnFilteredMessage,omitempty"`
}

// Normalize coerces the config to its canonical form. It is idempotent:
// Normalize(Normalize(c)) == Normalize(c) always holds because every field
// is already a bool and booleans have no non-canonical representation once
// decoded from JSON; Normalize exists so callers never need to special-case
// a zero-value FilterConfig versus an explicitly-false one.
func (c FilterConfig) Normalize() FilterConfig {
	return FilterConfig{
		AllowAbuse:               c.AllowAbuse,
		AllowPhone:               c.AllowPhone,
		AllowEmail:               c.AllowEmail,
		AllowPhysicalInformation: c.AllowPhysicalInformation,
		AllowSocialInformation:   c.AllowSocialInformation,
		ReturnFilteredMessage:    c.ReturnFilteredMessage,
	}
}

// Message is a single turn in the conversation history supplied alongside a
// filter request.
type Message struct {
	Role string `json:"role,omitempty"`
	Text string `json:"text"`
}

// FilterRequest is the normalized input to the filter decision pipeline.
type FilterRequest struct {
	Text      string     `json:"text,omitempty"`
	Image     string     `json:"image,omitempty"`
	Config    FilterConfig `json:"config"`
	History   []Message  `json:"history,omitempty"`
	ModelTier ModelTier  `json:"modelTier,omitempty"`

	// CallerID and CallerIP are populated by the pipeline from the
	// authenticated credential, not by the caller.
	CallerID string `json:"-"`
	CallerIP string `json:"-"`
}

// Validate enforces the request invariants: at least one of text/image
// present, history length bounded.
func (r *FilterRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" && strings.TrimSpace(r.Image) == "" {
		return ErrMissingContent
	}
	if len(r.History) > MaxHistoryTurns {
		return ErrHistoryTooLong
	}
	if len(r.Text) > MaxTextBytes {
		return ErrTextTooLarge
	}
	return nil
}

const (
	// MaxHistoryTurns bounds the number of prior messages a request may carry.
	MaxHistoryTurns = 15

	// MaxTextBytes bounds the size of the text payload (10 MB).
	MaxTextBytes = 10 * 1024 * 1024
)

// FilterResult is the outcome of running a FilterRequest through the pipeline.
type FilterResult struct {
	Blocked         bool     `json:"blocked"`
	Flags           []string `json:"flags"`
	Reason          string   `json:"reason"`
	FilteredContent *string  `json:"filteredContent,omitempty"`
}

// HasFlag reports whether the result carries the given flag.
func (r *FilterResult) HasFlag(flag Flag) bool {
	for _, f := range r.Flags {
		if f == string(flag) {
			return true
		}
	}
	return false
}

// IsCacheable reports whether a result may populate the AI-result cache.
// Results carrying the "error" flag reflect a transient upstream failure and
// must never be cached.
func (r *FilterResult) IsCacheable() bool {
	return !r.HasFlag(FlagError)
}

// AddFlag appends a flag if not already present, keeping Flags de-duplicated.
func (r *FilterResult) AddFlag(flag Flag) {
	s := string(flag)
	for _, f := range r.Flags {
		if f == s {
			return
		}
	}
	r.Flags = append(r.Flags, s)
}
