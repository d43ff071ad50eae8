package types

import "time"

type EventType string

const (
	EventTaskSubmitted EventType = "task.submitted"
	EventTaskClaimed   EventType = "task.claimed"
	EventTaskProgress  EventType = "task.progress"
	EventTaskCompleted EventType = "task.completed"
	EventTaskFailed    EventType = "task.failed"
	EventTaskRequeued  EventType = "task.requeued"
)

// TaskEvent is published on the lifecycle stream whenever a Task moves.
type TaskEvent struct {
	Type       EventType `json:"type"`
	TaskID     string    `json:"task_id"`
	UserID     int64     `json:"user_id"`
	Kind       TaskKind  `json:"kind,omitempty"`
	WorkerID   string    `json:"worker_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
