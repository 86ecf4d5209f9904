package domain

// Message is one entry of a visible transcript.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
	IsError bool   `json:"isError,omitempty"`
}

// ConversationKey partitions history per persona and calendar day.
type ConversationKey struct {
	PersonaID string
	Day       string // YYYY-MM-DD, UTC
}

func (k ConversationKey) String() string {
	return "chat_history_" + k.PersonaID + "_" + k.Day
}
