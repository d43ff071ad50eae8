package types

import (
	"encoding/json"
	"github.com/relaydesk/taskrelay/internal/state"
	"time"
)

// TaskKind selects the job implementation a worker runs for a Task.
type TaskKind string

const (
	KindCampaign        TaskKind = "campaign"
	KindDirectorySearch TaskKind = "directory_search"
	KindInbox           TaskKind = "inbox"
)

func (k TaskKind) String() string {
	return string(k)
}

// Task is a unit of work submitted once and claimed by one worker attempt at a time.
// Progress carries the merged interim reports; Result and Error are only written by
// the terminal transition.
type Task struct {
	ID          string           `json:"id"`
	UserID      int64            `json:"user_id"`
	Kind        TaskKind         `json:"kind"`
	Parameters  json.RawMessage  `json:"parameters,omitempty"`
	Status      state.TaskStatus `json:"status"`
	Progress    map[string]any   `json:"progress,omitempty"`
	Result      json.RawMessage  `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
	WorkerID    string           `json:"worker_id,omitempty"`
	Attempts    int              `json:"attempts"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// TaskReport is what a worker sends for a claimed Task. Attempt is the Attempts value the
// worker received with its claim; reports from an earlier attempt are ignored.
type TaskReport struct {
	Attempt int            `json:"attempt"`
	Interim bool           `json:"interim"`
	Success bool           `json:"success"`
	Result  map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}
