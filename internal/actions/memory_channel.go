package actions

import (
	"context"
	"github.com/relaydesk/taskrelay/types"
	"hash/fnv"
	"strconv"
	"sync"
	"time"
)

const memoryShards = 16

type mailboxKey struct {
	userID int64
	taskID string
}

type mailboxShard struct {
	mu        sync.Mutex
	mailboxes map[mailboxKey][]types.PendingAction
}

// MemoryChannel keeps mailboxes in process memory. Actions older than ttl are dropped
// at drain time, the same silent loss a Redis key expiry would cause. Each enqueue also
// prunes expired actions from its shard, so mailboxes of jobs nobody drains again do not
// pile up.
type MemoryChannel struct {
	shards [memoryShards]*mailboxShard
	ttl    time.Duration
	now    func() time.Time
}

func NewMemoryChannel(ttl time.Duration) *MemoryChannel {
	c := &MemoryChannel{ttl: ttl, now: time.Now}
	for i := range c.shards {
		c.shards[i] = &mailboxShard{mailboxes: make(map[mailboxKey][]types.PendingAction)}
	}
	return c
}

func (c *MemoryChannel) shard(key mailboxKey) *mailboxShard {
	h := fnv.New32a()
	h.Write([]byte(strconv.FormatInt(key.userID, 10)))
	h.Write([]byte{0})
	h.Write([]byte(key.taskID))
	return c.shards[h.Sum32()%memoryShards]
}

func (c *MemoryChannel) Enqueue(_ context.Context, action types.PendingAction) error {
	if err := validate(action); err != nil {
		return err
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = c.now()
	}
	key := mailboxKey{action.UserID, action.TaskID}
	sh := c.shard(key)
	sh.mu.Lock()
	c.pruneLocked(sh)
	sh.mailboxes[key] = append(sh.mailboxes[key], action)
	sh.mu.Unlock()
	return nil
}

func (c *MemoryChannel) pruneLocked(sh *mailboxShard) {
	if c.ttl <= 0 {
		return
	}
	cutoff := c.now().Add(-c.ttl)
	for key, pending := range sh.mailboxes {
		fresh := pending[:0]
		for _, a := range pending {
			if a.CreatedAt.After(cutoff) {
				fresh = append(fresh, a)
			}
		}
		if len(fresh) == 0 {
			delete(sh.mailboxes, key)
			continue
		}
		sh.mailboxes[key] = fresh
	}
}

func (c *MemoryChannel) Drain(_ context.Context, userID int64, taskID string) ([]types.PendingAction, error) {
	key := mailboxKey{userID, taskID}
	sh := c.shard(key)
	sh.mu.Lock()
	pending := sh.mailboxes[key]
	delete(sh.mailboxes, key)
	sh.mu.Unlock()

	fresh := make([]types.PendingAction, 0, len(pending))
	cutoff := c.now().Add(-c.ttl)
	for _, a := range pending {
		if c.ttl <= 0 || a.CreatedAt.After(cutoff) {
			fresh = append(fresh, a)
		}
	}
	return fresh, nil
}

func (c *MemoryChannel) Close() error {
	return nil
}
