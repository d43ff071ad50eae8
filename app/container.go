package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/relaydesk/taskrelay/internal/actions"
	"github.com/relaydesk/taskrelay/internal/approval"
	"github.com/relaydesk/taskrelay/internal/coordinator"
	"github.com/relaydesk/taskrelay/internal/db"
	"github.com/relaydesk/taskrelay/internal/jobs"
	"github.com/relaydesk/taskrelay/internal/lock"
	"github.com/relaydesk/taskrelay/internal/message_broaker"
	"github.com/relaydesk/taskrelay/internal/progress"
	"github.com/relaydesk/taskrelay/internal/registry"
	"github.com/relaydesk/taskrelay/internal/store"
	"github.com/relaydesk/taskrelay/internal/store/dynamo"
	"github.com/relaydesk/taskrelay/internal/store/memory"
	"github.com/relaydesk/taskrelay/internal/store/postgres"
	"github.com/relaydesk/taskrelay/types/config"
	"github.com/relaydesk/taskrelay/web"
	"log"
)

// Container holds all application dependencies. It is the single source of truth
// for dependency injection and ensures connections and services are created once.
type Container struct {
	Config *config.RelayConfig

	// Storage connections (created once, shared by all stores)
	DB     *sql.DB
	Redis  *redis.Client
	Dynamo dynamo.API

	TaskStore   store.TaskStore
	WorkerStore store.WorkerStore
	UserStore   store.UserStore

	LockManager lock.DistributedLockManager
	Channel     actions.Channel
	Events      *message_broaker.Events
	Kinds       *config.KindRegistry

	Service *coordinator.Service
	Sweeper *coordinator.Sweeper
	Web     *web.HttpRouteHandler
}

// NewContainer creates and wires all dependencies. Single entry point for DI.
// Call this once per application lifecycle.
func NewContainer(ctx context.Context, cfg *config.RelayConfig, opts ...ContainerOption) (*Container, error) {
	opt := &containerConfig{}
	for _, o := range opts {
		o(opt)
	}

	c := &Container{
		Config: cfg,
		DB:     opt.db,
		Redis:  opt.redis,
		Dynamo: opt.dynamo,
		Kinds:  jobs.NewKindRegistry(),
	}

	if err := c.initStorage(ctx); err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	if err := c.initChannel(); err != nil {
		return nil, fmt.Errorf("init action channel: %w", err)
	}

	broker := opt.broker
	if broker == nil && cfg.PublishEvents {
		var err error
		broker, err = newMessageBroker(cfg)
		if err != nil {
			return nil, fmt.Errorf("init message broker: %w", err)
		}
	}
	c.Events = message_broaker.NewEvents(broker)

	checkpoints := approval.NewRegistry()
	c.Service = coordinator.NewService(coordinator.Dependencies{
		Tasks:       c.TaskStore,
		Registry:    registry.New(c.WorkerStore, cfg.LivenessWindow, opt.now),
		Channel:     c.Channel,
		Checkpoints: checkpoints,
		Aggregator:  progress.NewAggregator(c.TaskStore, c.Kinds, checkpoints, c.Events),
		Kinds:       c.Kinds,
		Events:      c.Events,
	}, cfg.StaleAfter())
	c.Sweeper = coordinator.NewSweeper(c.Service, c.LockManager, cfg.SweepSchedule, cfg.Instance)
	c.Web = web.NewRouteHandler(c.Service, c.UserStore, cfg.SecretKey, cfg.AllowedOrigin, cfg.PageSize, cfg.DashboardPort)

	return c, nil
}

func (c *Container) initStorage(ctx context.Context) error {
	cfg := c.Config
	switch cfg.StorageDriver {
	case config.Postgres:
		if c.DB == nil {
			conn, err := openPostgresDB(cfg.PostgresConfig.ConnectionUrl)
			if err != nil {
				return err
			}
			c.DB = conn
		}
		c.TaskStore = postgres.NewPostgresTaskStore(c.DB)
		c.WorkerStore = postgres.NewPostgresWorkerStore(c.DB)
		c.UserStore = postgres.NewPostgresUserStore(c.DB)
		c.LockManager = lock.NewPostgresDistributedLockManager(c.DB)

	case config.DynamoDB:
		if c.Dynamo == nil {
			client, err := dynamo.NewClient(ctx, cfg.DynamoConfig)
			if err != nil {
				return err
			}
			c.Dynamo = client
		}
		c.TaskStore = dynamo.NewDynamoTaskStore(c.Dynamo, cfg.DynamoConfig.TasksTable, cfg.DynamoConfig.UserTaskIndex)
		c.WorkerStore = dynamo.NewDynamoWorkerStore(c.Dynamo, cfg.DynamoConfig.WorkersTable)
		c.UserStore = dynamo.NewDynamoUserStore(c.Dynamo, cfg.DynamoConfig.UsersTable)
		// Stale re-queues are conditional updates, so overlapping sweeps from
		// several instances are harmless.
		c.LockManager = lock.NewLocalLockManager()

	case config.Memory:
		log.Printf("app: using in-memory storage; tasks are lost on restart")
		c.TaskStore = memory.NewTaskStore()
		c.WorkerStore = memory.NewWorkerStore()
		c.UserStore = memory.NewUserStore()
		c.LockManager = lock.NewLocalLockManager()

	default:
		return fmt.Errorf("unsupported storage driver: %v", cfg.StorageDriver)
	}
	return nil
}

func (c *Container) initChannel() error {
	cfg := c.Config
	switch cfg.ChannelDriver {
	case config.MemoryChannel:
		c.Channel = actions.NewMemoryChannel(cfg.ActionTTL)
	case config.RedisChannel:
		if c.Redis == nil {
			c.Redis = redis.NewClient(&redis.Options{
				Addr:     cfg.RedisConfig.Address,
				Password: cfg.RedisConfig.Password,
				DB:       cfg.RedisConfig.DB,
			})
		}
		c.Channel = actions.NewRedisChannel(c.Redis, cfg.ActionTTL)
	default:
		return fmt.Errorf("unsupported action channel driver: %v", cfg.ChannelDriver)
	}
	return nil
}

// Migrate creates the PostgreSQL schema. It is a no-op for the other drivers.
func (c *Container) Migrate(ctx context.Context) error {
	if c.Config.StorageDriver != config.Postgres {
		return nil
	}
	return db.Init(ctx, c.DB, c.LockManager)
}

// Close releases every connection the container opened or was given.
func (c *Container) Close() error {
	var errs []error
	if err := c.Events.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Channel.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newMessageBroker(cfg *config.RelayConfig) (message_broaker.MessageBroker, error) {
	switch cfg.MQDriver {
	case config.RabbitMQ:
		return message_broaker.NewRabbitMQ(
			cfg.RabbitMQConfig.URL,
			cfg.RabbitMQConfig.Exchange,
			cfg.RabbitMQConfig.Queue,
			cfg.RabbitMQConfig.RoutingKey,
		)
	case config.Kafka:
		return message_broaker.NewKafka(cfg.KafkaConfig.Brokers, cfg.KafkaConfig.Topic, cfg.KafkaConfig.GroupID)
	default:
		return nil, fmt.Errorf("unsupported message queue driver: %v", cfg.MQDriver)
	}
}

func openPostgresDB(connectionURL string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", connectionURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	return conn, nil
}
