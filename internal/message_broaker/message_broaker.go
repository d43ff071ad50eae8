package message_broaker

import "context"

// MessageBroker is a minimal publish/consume transport for the task lifecycle stream.
type MessageBroker interface {
	// Publish sends message. key groups related messages where the transport supports it.
	Publish(ctx context.Context, key string, message []byte) error
	Consume(ctx context.Context) (<-chan []byte, error)
	Close() error
}
