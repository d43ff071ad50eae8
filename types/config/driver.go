package config

type StorageDriver int

const (
	Postgres StorageDriver = iota + 1
	DynamoDB
	Memory
)

// String converts the StorageDriver enum to a human-readable string.
func (d StorageDriver) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case DynamoDB:
		return "dynamodb"
	case Memory:
		return "memory"
	}
	return "unknown"
}

// ParseStorageDriver is the inverse of String.
func ParseStorageDriver(s string) (StorageDriver, bool) {
	switch s {
	case "postgres":
		return Postgres, true
	case "dynamodb":
		return DynamoDB, true
	case "memory":
		return Memory, true
	}
	return 0, false
}

type ActionChannelDriver int

const (
	MemoryChannel ActionChannelDriver = iota + 1
	RedisChannel
)

func (d ActionChannelDriver) String() string {
	switch d {
	case MemoryChannel:
		return "memory"
	case RedisChannel:
		return "redis"
	}
	return "unknown"
}

type MessageQueueDriver int

const (
	RabbitMQ MessageQueueDriver = iota + 1
	Kafka
)

func (d MessageQueueDriver) String() string {
	switch d {
	case RabbitMQ:
		return "rabbitmq"
	case Kafka:
		return "kafka"
	default:
		return "unknown"
	}
}
