// Package chat holds the message types shared by the dialect formatters,
// the hub template renderer and the API surface.
package chat

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Clone returns an independent copy of msgs. Formatters and the hub
// renderer transform copies; a caller's slice is never edited in place.
func Clone(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
