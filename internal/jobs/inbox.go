package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	KeyReplied = "replied"
	KeyFlagged = "flagged"
	KeyThreads = "threads"
)

type ThreadStatus string

const (
	ThreadReplied ThreadStatus = "replied"
	ThreadFlagged ThreadStatus = "flagged"
	ThreadIgnored ThreadStatus = "ignored"
	ThreadFailed  ThreadStatus = "failed"
)

// ThreadOutcome is the per-thread entry of an inbox result.
type ThreadOutcome struct {
	ThreadID string       `json:"thread_id"`
	Subject  string       `json:"subject,omitempty"`
	Status   ThreadStatus `json:"status"`
	Reason   string       `json:"reason,omitempty"`
}

// InboxParams are the parameters of a mailbox processing task.
type InboxParams struct {
	MaxThreads int  `json:"max_threads"`
	UnreadOnly bool `json:"unread_only"`
}

func ParseInboxParams(raw json.RawMessage) (InboxParams, error) {
	p := InboxParams{MaxThreads: 50}
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode inbox parameters: %w", err)
	}
	return p, nil
}

func validateInbox(raw json.RawMessage) error {
	p, err := ParseInboxParams(raw)
	if err != nil {
		return err
	}
	if p.MaxThreads < 1 {
		return errors.New("max_threads must be positive")
	}
	return nil
}
