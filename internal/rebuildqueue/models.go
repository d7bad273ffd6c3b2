package rebuildqueue

import "time"

// Status is the lifecycle state of a request.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

var allStatuses = []Status{StatusPending, StatusRunning, StatusDone, StatusFailed}

// ParseStatus validates a status name.
func ParseStatus(value string) (Status, bool) {
	for _, status := range allStatuses {
		if string(status) == value {
			return status, true
		}
	}
	return "", false
}

// Request asks for one speaker's print to be rebuilt under one backend.
type Request struct {
	ID          int64     `json:"id"`
	SpeakerID   string    `json:"speaker_id"`
	BackendID   string    `json:"backend_id"`
	Status      Status    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Common request reasons.
const (
	ReasonSampleAdded = "sample_added"
	ReasonStale       = "stale"
	ReasonNoPrint     = "no_print"
	ReasonManual      = "manual"
)
