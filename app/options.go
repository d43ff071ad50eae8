package app

import (
	"database/sql"
	"github.com/redis/go-redis/v9"
	"github.com/relaydesk/taskrelay/internal/message_broaker"
	"github.com/relaydesk/taskrelay/internal/store/dynamo"
	"time"
)

// ContainerOption configures Container creation. Used for testing and customization.
type ContainerOption func(*containerConfig)

type containerConfig struct {
	// Optional: inject connections instead of creating them from config
	db     *sql.DB
	redis  *redis.Client
	dynamo dynamo.API
	broker message_broaker.MessageBroker
	now    func() time.Time
}

// WithDB injects a custom database connection. Useful for testing.
func WithDB(db *sql.DB) ContainerOption {
	return func(c *containerConfig) {
		c.db = db
	}
}

// WithRedis injects a custom Redis client. Useful for testing.
func WithRedis(redis *redis.Client) ContainerOption {
	return func(c *containerConfig) {
		c.redis = redis
	}
}

// WithDynamo injects a DynamoDB client, such as one pointed at DynamoDB Local.
func WithDynamo(api dynamo.API) ContainerOption {
	return func(c *containerConfig) {
		c.dynamo = api
	}
}

// WithMessageBroker injects the event stream broker.
func WithMessageBroker(broker message_broaker.MessageBroker) ContainerOption {
	return func(c *containerConfig) {
		c.broker = broker
	}
}

// WithClock replaces time.Now in the registry.
func WithClock(now func() time.Time) ContainerOption {
	return func(c *containerConfig) {
		c.now = now
	}
}
