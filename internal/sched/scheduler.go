package sched

import (
	"context"
	"log"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tkowalczyk/wabridge/internal/gateway"
)

// Publisher receives change notifications for live dashboard viewers.
type Publisher interface {
	Publish(eventType string, data any)
}

// StatusEvent is the payload published after each dispatch attempt.
type StatusEvent struct {
	ID        string `json:"id"`
	State     State  `json:"state"`
	LastError string `json:"last_error,omitempty"`
}

type DispatcherConfig struct {
	Interval time.Duration
	Clock    func() time.Time
}

// Dispatcher turns due records into actual send attempts, once per tick.
// Records are processed sequentially: concurrent dispatch over one channel
// session risks interleaved protocol state in the transport.
type Dispatcher struct {
	store  API
	sender gateway.Sender
	status gateway.StatusProvider
	pub    Publisher
	cfg    DispatcherConfig
	logger *log.Logger
	tracer trace.Tracer
}

func NewDispatcher(store API, sender gateway.Sender, status gateway.StatusProvider, pub Publisher, cfg DispatcherConfig) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Dispatcher{
		store:  store,
		sender: sender,
		status: status,
		pub:    pub,
		cfg:    cfg,
		logger: log.New(os.Stdout, "dispatcher ", log.LstdFlags),
		tracer: otel.Tracer("wabridge/sched"),
	}
}

// Run blocks until the context is cancelled, executing one tick per interval.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick processes every due record. A channel that is not connected skips
// the whole tick; records stay scheduled and are retried on a later tick.
// A per-record send failure is terminal and never aborts the remaining
// records.
func (d *Dispatcher) Tick(ctx context.Context) {
	ctx, span := d.tracer.Start(ctx, "dispatcher.tick")
	defer span.End()

	if state := d.status.ConnectionState(); state != gateway.StatusConnected {
		span.SetAttributes(attribute.String("skip_reason", string(state)))
		d.logger.Printf("channel %s, skipping tick", state)
		return
	}

	now := d.cfg.Clock().UTC()
	due := d.store.DueRecords(now)
	span.SetAttributes(attribute.Int("due_records", len(due)))
	if len(due) == 0 {
		return
	}

	for _, m := range due {
		d.dispatch(ctx, m)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, m ScheduledMessage) {
	_, err := d.sender.SendText(ctx, m.Destination, m.Body)
	if err != nil {
		d.logger.Printf("send failed id=%s destination=%s err=%v", m.ID, m.Destination, err)
		updated, uerr := d.store.UpdateState(m.ID, StateFailed, err.Error())
		if uerr != nil {
			d.logger.Printf("mark failed id=%s err=%v", m.ID, uerr)
			return
		}
		d.publishStatus(updated)
		return
	}

	updated, uerr := d.store.UpdateState(m.ID, StateSent, "")
	if uerr != nil {
		d.logger.Printf("mark sent id=%s err=%v", m.ID, uerr)
		return
	}
	d.publishStatus(updated)
}

func (d *Dispatcher) publishStatus(m *ScheduledMessage) {
	if d.pub == nil {
		return
	}
	d.pub.Publish("scheduled_message_status", StatusEvent{
		ID:        m.ID,
		State:     m.State,
		LastError: m.LastError,
	})
}
