package domain

import (
	"context"
	"time"
)

// MessageBroker defines the interface for message broker operations
type MessageBroker interface {
	// Publish sends a message to a specific topic/channel with a routing key
	Publish(ctx context.Context, topic string, routingKey string, message []byte) error

	// Subscribe listens for messages on a specific topic/channel and routing key
	Subscribe(ctx context.Context, topic string, routingKey string) (<-chan BrokerMessage, error)

	// Close closes the message broker connection
	Close() error
}

// BrokerMessage represents a message received from the broker
type BrokerMessage struct {
	Topic      string
	RoutingKey string
	Payload    []byte
	Timestamp  time.Time
}

const ConversationTopic = "conversation.events"

// ConversationSnapshot is what the UI layer renders from. PersonaID and Day
// together identify the conversation it belongs to.
type ConversationSnapshot struct {
	PersonaID string    `json:"persona_id"`
	Day       string    `json:"day"`
	Messages  []Message `json:"messages"`
	IsLoading bool      `json:"is_loading"`
	Revision  string    `json:"revision"`
}
