package domain

import "time"

// Conversation is the state carried between turns.
type Conversation struct {
	ID        string         `json:"id"`
	Intent    string         `json:"intent"`
	State     string         `json:"state"`
	Context   map[string]any `json:"context"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewConversation returns an empty conversation.
func NewConversation(id string) *Conversation {
	return &Conversation{
		ID:      id,
		Context: make(map[string]any),
	}
}
