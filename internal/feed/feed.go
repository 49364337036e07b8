package feed

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Message is one piece of dashboard-visible traffic.
type Message struct {
	ID         string    `json:"id"`
	ContactKey string    `json:"contact_key"`
	Direction  Direction `json:"direction"`
	Body       string    `json:"body"`
	At         time.Time `json:"at"`
}

type Config struct {
	MaxMessages int
	Clock       func() time.Time
}

// Log is a bounded in-memory record of recent inbound/outbound traffic,
// used to build the snapshot sent to freshly connected viewers. Oldest
// messages are trimmed first.
type Log struct {
	mu sync.Mutex

	cfg      Config
	messages []Message
}

func NewLog(cfg Config) *Log {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 500
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Log{cfg: cfg}
}

func (l *Log) Record(contactKey string, direction Direction, body string) Message {
	m := Message{
		ID:         uuid.NewString(),
		ContactKey: contactKey,
		Direction:  direction,
		Body:       body,
		At:         l.cfg.Clock().UTC(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = append(l.messages, m)
	if len(l.messages) > l.cfg.MaxMessages {
		drop := len(l.messages) - l.cfg.MaxMessages
		l.messages = append([]Message{}, l.messages[drop:]...)
	}
	return m
}

// Recent returns the retained messages, oldest first.
func (l *Log) Recent() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message{}, l.messages...)
}
