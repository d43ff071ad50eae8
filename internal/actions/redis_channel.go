package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/redis/go-redis/v9"
	"github.com/relaydesk/taskrelay/types"
	"log"
	"time"
)

const keyPrefix = "taskrelay:actions"

// RedisChannel stores each mailbox as a Redis list. Every enqueue pushes the mailbox TTL
// forward, so a mailbox nobody drains disappears on its own.
type RedisChannel struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisChannel(client *redis.Client, ttl time.Duration) *RedisChannel {
	return &RedisChannel{client: client, ttl: ttl}
}

func mailboxName(userID int64, taskID string) string {
	return fmt.Sprintf("%s:%d:%s", keyPrefix, userID, taskID)
}

func (c *RedisChannel) Enqueue(ctx context.Context, action types.PendingAction) error {
	if err := validate(action); err != nil {
		return err
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now()
	}
	payload, err := json.Marshal(action)
	if err != nil {
		return err
	}

	key := mailboxName(action.UserID, action.TaskID)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, payload)
		if c.ttl > 0 {
			pipe.Expire(ctx, key, c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("enqueue action for task %s: %w", action.TaskID, err)
	}
	return nil
}

// Drain reads and deletes the list inside one MULTI block.
func (c *RedisChannel) Drain(ctx context.Context, userID int64, taskID string) ([]types.PendingAction, error) {
	key := mailboxName(userID, taskID)

	var lrange *redis.StringSliceCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lrange = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("drain actions for task %s: %w", taskID, err)
	}

	raw := lrange.Val()
	pending := make([]types.PendingAction, 0, len(raw))
	for _, item := range raw {
		var action types.PendingAction
		if err := json.Unmarshal([]byte(item), &action); err != nil {
			log.Printf("actions: dropping undecodable action for task %s: %v", taskID, err)
			continue
		}
		pending = append(pending, action)
	}
	return pending, nil
}

func (c *RedisChannel) Close() error {
	return c.client.Close()
}
