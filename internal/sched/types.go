package sched

import "time"

type State string

const (
	StateScheduled State = "scheduled"
	StateSent      State = "sent"
	StateFailed    State = "failed"
)

// ScheduledMessage is one queued outbound send. Once the state reaches
// sent or failed the record is immutable except for deletion.
type ScheduledMessage struct {
	ID           string    `json:"id"`
	Destination  string    `json:"destination"`
	Body         string    `json:"body"`
	ScheduleTime time.Time `json:"schedule_time"`
	State        State     `json:"state"`
	LastError    string    `json:"last_error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type CreateInput struct {
	Destination  string
	Body         string
	ScheduleTime time.Time
}
