package message_broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/satriahrh/persona-chat/domain"
	"github.com/satriahrh/persona-chat/utils/log"
	"go.uber.org/zap"
)

const topicBuffer = 100

// ChannelMessageBroker implements MessageBroker using Go channels. Every
// topic/routingKey pair owns one buffered channel shared by its subscribers.
type ChannelMessageBroker struct {
	topics map[string]chan domain.BrokerMessage
	mu     sync.Mutex
	closed bool
}

// NewChannelMessageBroker creates a new channel-based message broker
func NewChannelMessageBroker() *ChannelMessageBroker {
	return &ChannelMessageBroker{
		topics: make(map[string]chan domain.BrokerMessage),
	}
}

// makeKey creates a unique key for topic and routingKey
func makeKey(topic, routingKey string) string {
	return topic + ":" + routingKey
}

func (b *ChannelMessageBroker) channelLocked(topic, routingKey string) chan domain.BrokerMessage {
	key := makeKey(topic, routingKey)
	channel, exists := b.topics[key]
	if !exists {
		channel = make(chan domain.BrokerMessage, topicBuffer)
		b.topics[key] = channel
	}
	return channel
}

// Publish sends a message to a specific topic and routing key. It never
// blocks: a full topic reports an error instead.
func (b *ChannelMessageBroker) Publish(ctx context.Context, topic string, routingKey string, message []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("message broker is closed")
	}

	msg := domain.BrokerMessage{
		Topic:      topic,
		RoutingKey: routingKey,
		Payload:    message,
		Timestamp:  time.Now(),
	}

	select {
	case b.channelLocked(topic, routingKey) <- msg:
		log.WithCtx(ctx).Debug("message published to topic",
			zap.String("topic", topic),
			zap.String("routingKey", routingKey),
			zap.Int("payload_size", len(message)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("topic channel is full: %s:%s", topic, routingKey)
	}
}

// Subscribe listens for messages on a specific topic and routing key
func (b *ChannelMessageBroker) Subscribe(ctx context.Context, topic string, routingKey string) (<-chan domain.BrokerMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("message broker is closed")
	}

	log.WithCtx(ctx).Info("subscribed to topic", zap.String("topic", topic), zap.String("routingKey", routingKey))
	return b.channelLocked(topic, routingKey), nil
}

// Close closes the message broker and all topic channels
func (b *ChannelMessageBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	for key, channel := range b.topics {
		close(channel)
		log.WithCtx(context.Background()).Debug("closed topic channel", zap.String("key", key))
	}
	b.topics = make(map[string]chan domain.BrokerMessage)

	log.WithCtx(context.Background()).Info("message broker closed")
	return nil
}

// GetTopicCount returns the number of active topics (useful for monitoring)
func (b *ChannelMessageBroker) GetTopicCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}

// IsClosed returns whether the broker is closed
func (b *ChannelMessageBroker) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
