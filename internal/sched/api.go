package sched

import "time"

// API is the store interface consumed by the HTTP layer and the dispatcher.
// It allows swapping in-memory and SQLite-backed implementations.
type API interface {
	Create(input CreateInput) (*ScheduledMessage, error)
	List() []ScheduledMessage
	Get(id string) (*ScheduledMessage, error)
	Delete(id string) bool
	UpdateState(id string, newState State, lastError string) (*ScheduledMessage, error)
	DueRecords(now time.Time) []ScheduledMessage
	Counts() map[string]int
}

var _ API = (*Store)(nil)
