package hub

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	EventInboxData        = "inbox_data"
	EventNewMessage       = "new_message"
	EventConnectionStatus = "connection_status"
	EventScheduledStatus  = "scheduled_message_status"
	EventPing             = "ping"
)

// Event is one wire-level notification. Viewers reconcile their own state,
// so duplicate or out-of-order events must be harmless to them.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Viewer is one live dashboard connection. The hub owns the registry entry;
// the transport goroutine owns draining Events and calls MarkAlive after a
// write reaches the wire.
type Viewer struct {
	id     string
	events chan Event

	mu          sync.Mutex
	closed      bool
	pingPending bool
}

func (v *Viewer) ID() string {
	return v.id
}

func (v *Viewer) Events() <-chan Event {
	return v.events
}

// MarkAlive confirms the connection is still writable. Called by the
// transport after any successful write, it answers the pending sweep ping.
func (v *Viewer) MarkAlive() {
	v.mu.Lock()
	v.pingPending = false
	v.mu.Unlock()
}

// send enqueues without ever blocking. A viewer whose buffer is full is
// simply skipped for this event.
func (v *Viewer) send(evt Event) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return false
	}
	select {
	case v.events <- evt:
		return true
	default:
		return false
	}
}

func (v *Viewer) close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	close(v.events)
}

func (v *Viewer) pingExpired() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pingPending
}

func (v *Viewer) markPinged() {
	v.mu.Lock()
	v.pingPending = true
	v.mu.Unlock()
}

// SnapshotFunc builds the events sent to a viewer right after it connects:
// the current message backlog plus the channel connection state.
type SnapshotFunc func() []Event

type Config struct {
	SweepInterval     time.Duration
	SendBuffer        int
	RebroadcastDelays []time.Duration
}

// Hub fans change notifications out to every live viewer. Delivery is
// lossy by design: a slow or dead connection never blocks the publisher,
// and the liveness sweep prunes connections that stop draining.
type Hub struct {
	mu      sync.Mutex
	cfg     Config
	viewers map[string]*Viewer

	snapshot SnapshotFunc
	logger   *log.Logger
}

func New(cfg Config, snapshot SnapshotFunc) *Hub {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 32
	}
	if cfg.RebroadcastDelays == nil {
		cfg.RebroadcastDelays = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond}
	}
	return &Hub{
		cfg:      cfg,
		viewers:  map[string]*Viewer{},
		snapshot: snapshot,
		logger:   log.New(os.Stdout, "hub ", log.LstdFlags),
	}
}

// Register adds a connection and immediately queues the full snapshot, so
// a client never has to guess what it missed before connecting.
func (h *Hub) Register() *Viewer {
	v := &Viewer{
		id:     uuid.NewString(),
		events: make(chan Event, h.cfg.SendBuffer),
	}

	h.mu.Lock()
	h.viewers[v.id] = v
	h.mu.Unlock()

	if h.snapshot != nil {
		for _, evt := range h.snapshot() {
			v.send(evt)
		}
	}
	return v
}

// Unregister removes a connection; safe to call more than once.
func (h *Hub) Unregister(v *Viewer) {
	if v == nil {
		return
	}
	h.mu.Lock()
	_, ok := h.viewers[v.id]
	if ok {
		delete(h.viewers, v.id)
	}
	h.mu.Unlock()
	if ok {
		v.close()
	}
}

func (h *Hub) ViewerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

func (h *Hub) snapshotViewers() []*Viewer {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Viewer, 0, len(h.viewers))
	for _, v := range h.viewers {
		out = append(out, v)
	}
	return out
}

func (h *Hub) deliver(evt Event) {
	for _, v := range h.snapshotViewers() {
		v.send(evt)
	}
}

// Publish sends the event to every registered viewer whose buffer has room.
// new_message events are additionally re-sent after short fixed delays:
// clients dedupe by message id, so the repeats cost bandwidth but shrink
// the window in which a transient hiccup loses a real-time update.
func (h *Hub) Publish(eventType string, data any) {
	evt := Event{Type: eventType, Data: data}
	h.deliver(evt)

	if eventType != EventNewMessage {
		return
	}
	for _, delay := range h.cfg.RebroadcastDelays {
		time.AfterFunc(delay, func() {
			h.deliver(evt)
		})
	}
}

// Run drives the liveness sweep until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Sweep()
		}
	}
}

// Sweep kicks every viewer that never answered the previous sweep's ping,
// then pings the survivors. This bounds the registry to live connections
// without needing an explicit client disconnect.
func (h *Hub) Sweep() {
	for _, v := range h.snapshotViewers() {
		if v.pingExpired() {
			h.logger.Printf("viewer %s missed ping, unregistering", v.id)
			h.Unregister(v)
			continue
		}
		v.markPinged()
		v.send(Event{Type: EventPing})
	}
}
