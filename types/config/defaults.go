package config

import "time"

const (
	DefaultStorageDriver   = Postgres
	DefaultChannelDriver   = MemoryChannel
	DefaultLivenessWindow  = 120 * time.Second
	DefaultPollInterval    = 10 * time.Second
	DefaultStaleAfterPolls = 30
	DefaultSweepSchedule   = "@every 1m"
	DefaultActionTTL       = time.Hour
	DefaultDashboardPort   = 8080
	DefaultPageSize        = 15
	DefaultEventsTopic     = "taskrelay.task-events"
)
