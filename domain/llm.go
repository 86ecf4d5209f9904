package domain

import "context"

// GenerationClient abstracts the hosted model that answers as a persona.
type GenerationClient interface {
	// Generate returns the model's reply. history is ordered oldest first and
	// already ends with the outbound user turn carrying newMessage.
	Generate(ctx context.Context, systemInstruction string, history []ChatMessage, newMessage string) (string, error)
}

type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Role string

const (
	UserRole  Role = "user"
	ModelRole Role = "model"
)

func (r Role) Valid() bool {
	return r == UserRole || r == ModelRole
}
