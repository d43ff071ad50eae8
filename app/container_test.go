package app

import (
	"context"
	"encoding/json"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/relaydesk/taskrelay/internal/actions"
	"github.com/relaydesk/taskrelay/internal/lock"
	"github.com/relaydesk/taskrelay/internal/state"
	"github.com/relaydesk/taskrelay/internal/store/dynamo"
	"github.com/relaydesk/taskrelay/types"
	"github.com/relaydesk/taskrelay/types/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

type nopDynamo struct {
	dynamo.API
}

func TestNewContainer_Memory(t *testing.T) {
	cfg, err := config.NewRelayConfig("test", config.WithStorageDriver(config.Memory))
	require.NoError(t, err)

	c, err := NewContainer(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	assert.IsType(t, &lock.LocalLockManager{}, c.LockManager)
	assert.IsType(t, &actions.MemoryChannel{}, c.Channel)
	assert.Nil(t, c.Events)
	assert.NoError(t, c.Migrate(context.Background()))

	ctx := context.Background()
	task, err := c.Service.SubmitJob(ctx, 1, types.KindInbox, json.RawMessage(`{"max_threads":3}`))
	require.NoError(t, err)

	claimed, err := c.Service.Poll(ctx, 1, "w1", nil)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, task.ID, claimed.ID)
	assert.Equal(t, state.StatusProcessing, claimed.Status)
}

func TestNewContainer_RedisChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg, err := config.NewRelayConfig("test",
		config.WithStorageDriver(config.Memory),
		config.WithRedisChannel(config.RedisConfig{Address: mr.Addr()}),
	)
	require.NoError(t, err)

	c, err := NewContainer(context.Background(), cfg, WithRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()})))
	require.NoError(t, err)
	defer c.Close()

	assert.IsType(t, &actions.RedisChannel{}, c.Channel)
}

func TestNewContainer_Postgres(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)

	cfg, err := config.NewRelayConfig("test", config.WithPostgresConfig(config.PostgresConfig{ConnectionUrl: "postgres://unused"}))
	require.NoError(t, err)

	c, err := NewContainer(context.Background(), cfg, WithDB(db))
	require.NoError(t, err)
	defer c.Close()

	assert.Same(t, db, c.DB)
	assert.IsType(t, &lock.PostgresDistributedLockManager{}, c.LockManager)
	assert.NotNil(t, c.Sweeper)
	assert.NotNil(t, c.Web)
}

func TestNewContainer_Dynamo(t *testing.T) {
	cfg, err := config.NewRelayConfig("test",
		config.WithStorageDriver(config.DynamoDB),
		config.WithDynamoConfig(config.DynamoConfig{TasksTable: "tasks", WorkersTable: "workers"}),
	)
	require.NoError(t, err)

	c, err := NewContainer(context.Background(), cfg, WithDynamo(nopDynamo{}))
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.TaskStore)
	assert.NotNil(t, c.UserStore)
	assert.IsType(t, &lock.LocalLockManager{}, c.LockManager)
}

func TestNewContainer_EventsFromInjectedBroker(t *testing.T) {
	cfg, err := config.NewRelayConfig("test", config.WithStorageDriver(config.Memory))
	require.NoError(t, err)

	broker := &recordingBroker{}
	c, err := NewContainer(context.Background(), cfg, WithMessageBroker(broker))
	require.NoError(t, err)

	_, err = c.Service.SubmitJob(context.Background(), 1, types.KindInbox, nil)
	require.NoError(t, err)
	require.Len(t, broker.published, 1)

	var event types.TaskEvent
	require.NoError(t, json.Unmarshal(broker.published[0], &event))
	assert.Equal(t, types.EventTaskSubmitted, event.Type)

	require.NoError(t, c.Close())
	assert.True(t, broker.closed)
}

type recordingBroker struct {
	published [][]byte
	closed    bool
}

func (b *recordingBroker) Publish(_ context.Context, _ string, message []byte) error {
	b.published = append(b.published, message)
	return nil
}

func (b *recordingBroker) Consume(context.Context) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *recordingBroker) Close() error {
	b.closed = true
	return nil
}
