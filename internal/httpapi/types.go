package httpapi

import (
	"github.com/goccy/go-json"

	"github.com/yanolja/modgate"
)

// historyTurn accepts either a bare string or {"text": "..."} for each
// element of the wire-level oldMessages array, per the filter request's
// []string|{text} history shape.
type historyTurn struct {
	Role string `json:"role,omitempty"`
	Text string `json:"text"`
}

func (h *historyTurn) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		h.Text = s
		return nil
	}
	type alias historyTurn
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*h = historyTurn(a)
	return nil
}

// filterRequestBody is the wire shape for POST /v1/filter and its
// specialized variants.
type filterRequestBody struct {
	Text        string               `json:"text,omitempty"`
	Image       string               `json:"image,omitempty"`
	Config      modgate.FilterConfig `json:"config"`
	OldMessages []historyTurn        `json:"oldMessages,omitempty"`
	Model       string               `json:"model,omitempty"`
}

func (b filterRequestBody) toFilterRequest() modgate.FilterRequest {
	history := make([]modgate.Message, 0, len(b.OldMessages))
	for _, h := range b.OldMessages {
		history = append(history, modgate.Message{Role: h.Role, Text: h.Text})
	}
	return modgate.FilterRequest{
		Text:      b.Text,
		Image:     b.Image,
		Config:    b.Config,
		History:   history,
		ModelTier: modgate.ParseModelTier(b.Model),
	}
}

// filterResultBody is the wire shape for a single filter verdict.
type filterResultBody struct {
	Blocked         bool     `json:"blocked"`
	Flags           []string `json:"flags"`
	Reason          string   `json:"reason"`
	FilteredContent *string  `json:"filteredContent,omitempty"`
}

func toFilterResultBody(r modgate.FilterResult) filterResultBody {
	flags := r.Flags
	if flags == nil {
		flags = []string{}
	}
	return filterResultBody{
		Blocked:         r.Blocked,
		Flags:           flags,
		Reason:          r.Reason,
		FilteredContent: r.FilteredContent,
	}
}

// batchRequestBody is the wire shape for POST /v1/filter/batch.
type batchRequestBody struct {
	Items []filterRequestBody `json:"items"`
}

type apiKeyBody struct {
	Key       string `json:"key"`
	UserID    string `json:"userId"`
	CreatedAt string `json:"createdAt"`
}

type apiKeyValidateBody struct {
	Valid      bool   `json:"valid"`
	UserID     string `json:"userId,omitempty"`
	CreatedAt  string `json:"createdAt,omitempty"`
	LastUsedAt string `json:"lastUsedAt,omitempty"`
}

type revokeBody struct {
	Key string `json:"key"`
}

type errorBody struct {
	Error string `json:"error"`
}
