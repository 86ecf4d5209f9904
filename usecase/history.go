package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/satriahrh/persona-chat/domain"
)

const dayLayout = "2006-01-02"

// KeyFor partitions history by persona and UTC calendar day, so every
// conversation starts over at midnight UTC.
func KeyFor(personaID string, now time.Time) domain.ConversationKey {
	return domain.ConversationKey{PersonaID: personaID, Day: now.UTC().Format(dayLayout)}
}

func encodeHistory(messages []domain.Message) ([]byte, error) {
	return json.Marshal(messages)
}

func decodeHistory(raw []byte) ([]domain.Message, error) {
	var messages []domain.Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if len(messages) == 0 {
		return nil, errors.New("decode history: empty transcript")
	}
	for i, m := range messages {
		if !m.Role.Valid() {
			return nil, fmt.Errorf("decode history: message %d has unknown role %q", i, m.Role)
		}
		if m.ID == "" {
			return nil, fmt.Errorf("decode history: message %d has no id", i)
		}
	}
	return messages, nil
}

func greetingFor(personaName string) string {
	return fmt.Sprintf("Hello! You are now chatting with %s.", personaName)
}

// newMessageID returns a UUIDv7, which sorts in generation order.
var newMessageID = func() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
