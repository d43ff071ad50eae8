package app

import (
	"fmt"
	"github.com/relaydesk/taskrelay/types/config"
	"strconv"
	"strings"
	"time"
)

// OptionsFromEnv turns TASKRELAY_* variables into config options. Unset variables
// leave the defaults in place.
func OptionsFromEnv(getenv func(string) string) ([]config.Option, error) {
	var opts []config.Option

	if secret := getenv("TASKRELAY_SECRET_KEY"); secret != "" {
		port := uint(config.DefaultDashboardPort)
		if raw := getenv("TASKRELAY_PORT"); raw != "" {
			p, err := strconv.ParseUint(raw, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("TASKRELAY_PORT: %w", err)
			}
			port = uint(p)
		}
		opts = append(opts, config.WithDashboardConfig(secret, port))
	}
	if origins := splitList(getenv("TASKRELAY_ALLOWED_ORIGINS")); len(origins) > 0 {
		opts = append(opts, config.WithAllowedOrigins(origins...))
	}

	if raw := getenv("TASKRELAY_STORAGE"); raw != "" {
		driver, ok := config.ParseStorageDriver(strings.ToLower(raw))
		if !ok {
			return nil, fmt.Errorf("TASKRELAY_STORAGE: unknown driver %q", raw)
		}
		opts = append(opts, config.WithStorageDriver(driver))

		switch driver {
		case config.Postgres:
			opts = append(opts, config.WithPostgresConfig(config.PostgresConfig{
				ConnectionUrl: getenv("TASKRELAY_POSTGRES_URL"),
			}))
		case config.DynamoDB:
			opts = append(opts, config.WithDynamoConfig(config.DynamoConfig{
				Region:        getenv("AWS_REGION"),
				Endpoint:      getenv("TASKRELAY_DYNAMO_ENDPOINT"),
				TasksTable:    getenv("TASKRELAY_DYNAMO_TASKS_TABLE"),
				WorkersTable:  getenv("TASKRELAY_DYNAMO_WORKERS_TABLE"),
				UsersTable:    getenv("TASKRELAY_DYNAMO_USERS_TABLE"),
				UserTaskIndex: getenv("TASKRELAY_DYNAMO_USER_TASK_INDEX"),
			}))
		}
	} else if url := getenv("TASKRELAY_POSTGRES_URL"); url != "" {
		opts = append(opts, config.WithPostgresConfig(config.PostgresConfig{ConnectionUrl: url}))
	}

	if addr := getenv("TASKRELAY_REDIS_ADDR"); addr != "" {
		db := 0
		if raw := getenv("TASKRELAY_REDIS_DB"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("TASKRELAY_REDIS_DB: %w", err)
			}
			db = n
		}
		opts = append(opts, config.WithRedisChannel(config.RedisConfig{
			Address:  addr,
			Password: getenv("TASKRELAY_REDIS_PASSWORD"),
			DB:       db,
		}))
	}

	durations := []struct {
		key string
		opt func(time.Duration) config.Option
	}{
		{"TASKRELAY_LIVENESS_WINDOW", config.WithLivenessWindow},
		{"TASKRELAY_POLL_INTERVAL", config.WithPollInterval},
		{"TASKRELAY_ACTION_TTL", config.WithActionTTL},
	}
	for _, d := range durations {
		raw := getenv(d.key)
		if raw == "" {
			continue
		}
		v, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		opts = append(opts, d.opt(v))
	}

	if raw := getenv("TASKRELAY_STALE_AFTER_POLLS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("TASKRELAY_STALE_AFTER_POLLS: %w", err)
		}
		opts = append(opts, config.WithStaleAfterPolls(n))
	}
	if spec := getenv("TASKRELAY_SWEEP_SCHEDULE"); spec != "" {
		opts = append(opts, config.WithSweepSchedule(spec))
	}

	if url := getenv("TASKRELAY_RABBITMQ_URL"); url != "" {
		opts = append(opts, config.WithRabbitMQConfig(config.RabbitMQConfig{
			URL:        url,
			Exchange:   getenv("TASKRELAY_RABBITMQ_EXCHANGE"),
			Queue:      getenv("TASKRELAY_RABBITMQ_QUEUE"),
			RoutingKey: getenv("TASKRELAY_RABBITMQ_ROUTING_KEY"),
		}))
	} else if brokers := splitList(getenv("TASKRELAY_KAFKA_BROKERS")); len(brokers) > 0 {
		opts = append(opts, config.WithKafkaConfig(config.KafkaConfig{
			Brokers: brokers,
			Topic:   getenv("TASKRELAY_KAFKA_TOPIC"),
			GroupID: getenv("TASKRELAY_KAFKA_GROUP"),
		}))
	}

	return opts, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
