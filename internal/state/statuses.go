package state

type TaskStatus string

const (
	StatusQueued     TaskStatus = "queued"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

func (s TaskStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is allowed out of s.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var AllStatuses = []TaskStatus{
	StatusQueued,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

type Transition struct {
	From TaskStatus
	To   TaskStatus
}

// ValidTransitions lists every allowed move. processing -> queued is only taken by
// stale-task recovery; a worker never moves a task backward.
var ValidTransitions = []Transition{
	{From: StatusQueued, To: StatusProcessing},
	{From: StatusProcessing, To: StatusCompleted},
	{From: StatusProcessing, To: StatusFailed},
	{From: StatusProcessing, To: StatusQueued},
}

func IsValidTransition(from, to TaskStatus) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// FinalStatus maps a worker's success flag to the terminal status it produces.
func FinalStatus(success bool) TaskStatus {
	if success {
		return StatusCompleted
	}
	return StatusFailed
}
