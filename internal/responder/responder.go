package responder

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/tkowalczyk/wabridge/internal/feed"
	"github.com/tkowalczyk/wabridge/internal/gateway"
	"github.com/tkowalczyk/wabridge/internal/history"
	"github.com/tkowalczyk/wabridge/internal/hub"
)

// Publisher is the slice of the hub the responder needs.
type Publisher interface {
	Publish(eventType string, data any)
}

// Responder answers inbound messages using the bounded conversation window
// as model context, and keeps the history, feed, and live viewers in sync
// with both sides of the exchange.
type Responder struct {
	caller  LLMCaller
	sender  gateway.Sender
	history history.API
	feed    *feed.Log
	pub     Publisher
	logger  *log.Logger
}

func New(caller LLMCaller, sender gateway.Sender, hist history.API, feedLog *feed.Log, pub Publisher) *Responder {
	return &Responder{
		caller:  caller,
		sender:  sender,
		history: hist,
		feed:    feedLog,
		pub:     pub,
		logger:  log.New(os.Stdout, "responder ", log.LstdFlags),
	}
}

func (r *Responder) publishMessage(m feed.Message) {
	if r.pub == nil {
		return
	}
	r.pub.Publish(hub.EventNewMessage, m)
}

// RecordInbound logs an inbound message without generating a reply. Used
// when auto-reply is disabled or the model is not configured.
func (r *Responder) RecordInbound(sender, text string) error {
	key := history.NormalizeContactKey(sender)
	if key == "" {
		return fmt.Errorf("sender %q has no usable contact key", sender)
	}
	if _, err := r.history.Append(key, history.RoleInbound, text); err != nil {
		return fmt.Errorf("append inbound history: %w", err)
	}
	r.publishMessage(r.feed.Record(key, feed.DirectionInbound, text))
	return nil
}

// HandleInbound records the inbound message, asks the model for a reply
// with the contact's recent window as context, sends it, and records the
// outbound turn. The returned string is the reply that was sent.
func (r *Responder) HandleInbound(ctx context.Context, sender, text string) (string, error) {
	if r.caller == nil {
		return "", fmt.Errorf("no model configured")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("inbound message body is empty")
	}
	if err := r.RecordInbound(sender, text); err != nil {
		return "", err
	}

	key := history.NormalizeContactKey(sender)
	window := r.history.Read(key)
	turns := make([]Turn, 0, len(window))
	for _, e := range window {
		turns = append(turns, Turn{
			FromContact: e.Role == history.RoleInbound,
			Content:     e.Content,
		})
	}

	reply, err := r.caller.GenerateReply(ctx, turns)
	if err != nil {
		return "", fmt.Errorf("generate reply for %s: %w", key, err)
	}
	if reply == "" {
		return "", fmt.Errorf("model returned an empty reply for %s", key)
	}

	if _, err := r.sender.SendText(ctx, key, reply); err != nil {
		return "", fmt.Errorf("send reply to %s: %w", key, err)
	}

	if _, err := r.history.Append(key, history.RoleOutbound, reply); err != nil {
		r.logger.Printf("append outbound history for %s: %v", key, err)
	}
	r.publishMessage(r.feed.Record(key, feed.DirectionOutbound, reply))
	return reply, nil
}
