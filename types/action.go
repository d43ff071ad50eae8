package types

import "time"

type ActionKind string

const (
	ActionSend ActionKind = "send"
	ActionSkip ActionKind = "skip"
	ActionEdit ActionKind = "edit"
	ActionStop ActionKind = "stop"
)

// PendingAction is a human decision queued for whichever worker next drains the
// (user, task) mailbox. ItemIndex is nil for job-level actions.
type PendingAction struct {
	UserID    int64      `json:"user_id"`
	TaskID    string     `json:"task_id"`
	Kind      ActionKind `json:"kind"`
	ItemIndex *int       `json:"item_index,omitempty"`
	Content   string     `json:"content,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Preview is the rendered unit of work shown to a human before a gated item proceeds.
type Preview struct {
	Contact map[string]any `json:"contact,omitempty"`
	Message string         `json:"message,omitempty"`
}

// ApprovalCheckpoint marks a job paused on a human decision for one item.
type ApprovalCheckpoint struct {
	TaskID    string    `json:"task_id"`
	ItemIndex int       `json:"item_index"`
	Preview   Preview   `json:"preview"`
	Awaiting  bool      `json:"awaiting"`
	UpdatedAt time.Time `json:"updated_at"`
}
