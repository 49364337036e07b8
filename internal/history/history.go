package history

import (
	"strings"
	"sync"
	"time"
)

type Role string

const (
	RoleInbound  Role = "inbound"
	RoleOutbound Role = "outbound"
)

// Entry is one turn in a contact's conversation window.
type Entry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NormalizeContactKey reduces any transport-flavored address to the canonical
// digit string: the server suffix (@s.whatsapp.net, @c.us, ...) and the
// per-device part (":17") are stripped, along with formatting characters.
// Two addresses that normalize to the same key are the same conversation.
func NormalizeContactKey(addr string) string {
	addr = strings.TrimSpace(addr)
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		addr = addr[:i]
	}
	if i := strings.IndexByte(addr, ':'); i >= 0 {
		addr = addr[:i]
	}
	var b strings.Builder
	for _, r := range addr {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

type Config struct {
	MaxEntries int
	Retention  time.Duration
	Clock      func() time.Time
}

// Manager keeps a short rolling window of prior turns per contact, used as
// context by the auto-responder. Entries beyond MaxEntries are evicted
// oldest-first; entries older than Retention are dropped lazily on access.
type Manager struct {
	mu sync.Mutex

	cfg           Config
	conversations map[string][]Entry
}

func NewManager(cfg Config) *Manager {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Manager{
		cfg:           cfg,
		conversations: map[string][]Entry{},
	}
}

func (m *Manager) now() time.Time {
	return m.cfg.Clock().UTC()
}

// pruneLocked drops expired entries, then truncates to the newest MaxEntries.
// Returns true when anything was removed.
func (m *Manager) pruneLocked(key string, now time.Time) bool {
	entries := m.conversations[key]
	cutoff := now.Add(-m.cfg.Retention)

	kept := entries[:0]
	for _, e := range entries {
		if e.Timestamp.Before(cutoff) {
			continue
		}
		kept = append(kept, e)
	}
	changed := len(kept) != len(entries)

	if len(kept) > m.cfg.MaxEntries {
		kept = kept[len(kept)-m.cfg.MaxEntries:]
		changed = true
	}

	if len(kept) == 0 {
		if changed {
			delete(m.conversations, key)
		}
		return changed
	}
	m.conversations[key] = append([]Entry{}, kept...)
	return changed
}

func (m *Manager) Append(contactKey string, role Role, content string) ([]Entry, error) {
	key := NormalizeContactKey(contactKey)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.conversations[key] = append(m.conversations[key], Entry{
		Role:      role,
		Content:   content,
		Timestamp: now,
	})
	m.pruneLocked(key, now)
	return append([]Entry{}, m.conversations[key]...), nil
}

func (m *Manager) Read(contactKey string) []Entry {
	key := NormalizeContactKey(contactKey)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneLocked(key, now)
	return append([]Entry{}, m.conversations[key]...)
}

func (m *Manager) Clear(contactKey string) error {
	key := NormalizeContactKey(contactKey)

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conversations, key)
	return nil
}

// API is the history interface consumed by the responder and HTTP layer.
type API interface {
	Append(contactKey string, role Role, content string) ([]Entry, error)
	Read(contactKey string) []Entry
	Clear(contactKey string) error
}

var _ API = (*Manager)(nil)
