package core

import "encoding/json"

// Response types emitted to clients.
const (
	ResponseTypeChat  = "chat"
	ResponseTypeError = "error"
)

// Response is the outgoing message assembled at the end of a pipeline run.
// Fields map to the wire shape {error, type, content, why}; Extra carries
// keys added by before_send_response hooks.
type Response struct {
	Error   bool
	Type    string
	Content string
	Why     *Why
	Extra   map[string]any
}

// Why explains how a response was produced.
type Why struct {
	Input             string                    `json:"input"`
	Output            string                    `json:"output"`
	IntermediateSteps []Step                    `json:"intermediate_steps"`
	Memory            map[string][]MemoryReport `json:"memory"`
}

// Step is one intermediate reasoning step reported by the reasoner.
type Step struct {
	Action      string `json:"action"`
	Input       string `json:"input,omitempty"`
	Observation string `json:"observation,omitempty"`
}

// MemoryReport is the client-facing view of a recalled MemoryPoint.
// It never carries the vector or index-internal metadata.
type MemoryReport struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewErrorResponse builds the generic failure payload sent when a run aborts.
func NewErrorResponse(content string) *Response {
	return &Response{
		Error:   true,
		Type:    ResponseTypeError,
		Content: content,
	}
}

// Set stores an extension key on the response.
func (r *Response) Set(key string, value any) {
	if r.Extra == nil {
		r.Extra = make(map[string]any)
	}
	r.Extra[key] = value
}

func (r Response) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Extra)+4)
	for k, v := range r.Extra {
		out[k] = v
	}
	out["error"] = r.Error
	out["type"] = r.Type
	out["content"] = r.Content
	if r.Why != nil {
		out["why"] = r.Why
	}
	return json.Marshal(out)
}
