package sched

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Config struct {
	Clock func() time.Time
}

// Store holds scheduled messages behind a single mutex. All reads return
// copies; no caller ever holds a pointer into internal storage.
type Store struct {
	mu sync.Mutex

	cfg     Config
	records map[string]*ScheduledMessage
}

func NewStore(cfg Config) *Store {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Store{
		cfg:     cfg,
		records: map[string]*ScheduledMessage{},
	}
}

func (s *Store) now() time.Time {
	return s.cfg.Clock().UTC()
}

func isTerminal(state State) bool {
	switch state {
	case StateSent, StateFailed:
		return true
	default:
		return false
	}
}

func isDigits(v string) bool {
	if v == "" {
		return false
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (s *Store) Create(input CreateInput) (*ScheduledMessage, error) {
	now := s.now()
	destination := strings.TrimSpace(input.Destination)
	body := strings.TrimSpace(input.Body)
	if !isDigits(destination) {
		return nil, newError(CodeValidation, "destination must be a digit-only phone number")
	}
	if body == "" {
		return nil, newError(CodeValidation, "body is required")
	}
	if input.ScheduleTime.IsZero() {
		return nil, newError(CodeValidation, "schedule_time is required")
	}
	when := input.ScheduleTime.UTC()
	if !when.After(now) {
		return nil, newError(CodeValidation, "schedule_time must be in the future")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m := &ScheduledMessage{
		ID:           uuid.NewString(),
		Destination:  destination,
		Body:         body,
		ScheduleTime: when,
		State:        StateScheduled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.records[m.ID] = m

	cp := *m
	return &cp, nil
}

func (s *Store) List() []ScheduledMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ScheduledMessage, 0, len(s.records))
	for _, m := range s.records {
		cp := *m
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) Get(id string) (*ScheduledMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.records[id]
	if !ok {
		return nil, newError(CodeNotFound, "scheduled message not found")
	}
	cp := *m
	return &cp, nil
}

// Delete removes the record unconditionally, terminal or not. Deleting a
// scheduled record before its due tick is the only cancellation path.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return false
	}
	delete(s.records, id)
	return true
}

// UpdateState moves a record to newState. A record already in a terminal
// state is never changed again; the stored record is returned unmodified
// so a stale dispatch attempt cannot corrupt a settled outcome.
func (s *Store) UpdateState(id string, newState State, lastError string) (*ScheduledMessage, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.records[id]
	if !ok {
		return nil, newError(CodeNotFound, "scheduled message not found")
	}
	if isTerminal(m.State) {
		cp := *m
		return &cp, nil
	}

	m.State = newState
	m.UpdatedAt = now
	if newState == StateFailed {
		m.LastError = lastError
	} else {
		m.LastError = ""
	}

	cp := *m
	return &cp, nil
}

// DueRecords returns a snapshot of every still-scheduled record whose
// schedule time has passed, oldest first.
func (s *Store) DueRecords(now time.Time) []ScheduledMessage {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	out := []ScheduledMessage{}
	for _, m := range s.records {
		if m.State != StateScheduled {
			continue
		}
		if m.ScheduleTime.After(now) {
			continue
		}
		cp := *m
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduleTime.Before(out[j].ScheduleTime) })
	return out
}

func (s *Store) Counts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := map[string]int{"scheduled": 0, "sent": 0, "failed": 0}
	for _, m := range s.records {
		out[string(m.State)]++
	}
	return out
}
