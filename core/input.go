package core

import (
	"encoding/json"
	"fmt"
)

// Message is an incoming user message.
// Text is always present; hooks may attach arbitrary keys through Extra,
// which are flattened beside "text" on the wire.
type Message struct {
	// Text is the user's message content.
	Text string

	// Extra holds keys added by clients or by on_message_received hooks.
	Extra map[string]any
}

// NewMessage creates a message with the given text.
func NewMessage(text string) *Message {
	return &Message{Text: text}
}

// Set stores an extension key on the message.
func (m *Message) Set(key string, value any) {
	if m.Extra == nil {
		m.Extra = make(map[string]any)
	}
	m.Extra[key] = value
}

// Get returns an extension key from the message.
func (m *Message) Get(key string) (any, bool) {
	v, ok := m.Extra[key]
	return v, ok
}

// Clone returns a copy safe to hand to a hook.
func (m *Message) Clone() *Message {
	out := &Message{Text: m.Text}
	if len(m.Extra) > 0 {
		out.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

func (m Message) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+1)
	for k, v := range m.Extra {
		out[k] = v
	}
	out["text"] = m.Text
	return json.Marshal(out)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	text, ok := raw["text"]
	if ok {
		s, isString := text.(string)
		if !isString {
			return fmt.Errorf("message text must be a string, got %T", text)
		}
		m.Text = s
		delete(raw, "text")
	}
	if len(raw) > 0 {
		m.Extra = raw
	} else {
		m.Extra = nil
	}
	return nil
}
