package responder

import (
	"context"
	"testing"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type fakeMessager struct {
	params anthropic.MessageNewParams
	resp   *anthropic.Message
	err    error
}

func (f *fakeMessager) New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error) {
	f.params = params
	return f.resp, f.err
}

func TestCoalesceTurns(t *testing.T) {
	turns := []Turn{
		{FromContact: false, Content: "stray greeting"},
		{FromContact: true, Content: "first"},
		{FromContact: true, Content: "second"},
		{FromContact: false, Content: "reply"},
		{FromContact: true, Content: "third"},
	}

	got := coalesceTurns(turns)
	if len(got) != 3 {
		t.Fatalf("expected 3 coalesced turns, got %d", len(got))
	}
	if !got[0].FromContact || got[0].Content != "first\nsecond" {
		t.Fatalf("consecutive contact turns not merged: %#v", got[0])
	}
	if got[1].FromContact || got[1].Content != "reply" {
		t.Fatalf("reply turn mangled: %#v", got[1])
	}
	if !got[2].FromContact || got[2].Content != "third" {
		t.Fatalf("trailing turn mangled: %#v", got[2])
	}
}

func TestCoalesceTurnsDropsLeadingOwnerTurns(t *testing.T) {
	got := coalesceTurns([]Turn{
		{FromContact: false, Content: "a"},
		{FromContact: false, Content: "b"},
	})
	if len(got) != 0 {
		t.Fatalf("owner-only history must coalesce to nothing, got %#v", got)
	}
}

func TestGenerateReplyBuildsAlternatingMessages(t *testing.T) {
	fake := &fakeMessager{
		resp: &anthropic.Message{
			Content: []anthropic.ContentBlockUnion{
				{Type: "text", Text: "Hi! "},
				{Type: "text", Text: "How can I help?"},
			},
		},
	}
	caller := &AnthropicCaller{messages: fake}

	reply, err := caller.GenerateReply(context.Background(), []Turn{
		{FromContact: true, Content: "hello"},
		{FromContact: false, Content: "hey"},
		{FromContact: true, Content: "are you there?"},
	})
	if err != nil {
		t.Fatalf("generate reply: %v", err)
	}
	if reply != "Hi! How can I help?" {
		t.Fatalf("unexpected reply %q", reply)
	}

	if len(fake.params.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(fake.params.Messages))
	}
	if fake.params.Messages[0].Role != "user" || fake.params.Messages[1].Role != "assistant" || fake.params.Messages[2].Role != "user" {
		t.Fatalf("roles do not alternate starting with user")
	}
	if len(fake.params.System) != 1 || fake.params.System[0].Text != systemPrompt {
		t.Fatalf("system prompt missing")
	}
}

func TestNewAnthropicCallerFromEnvRequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := NewAnthropicCallerFromEnv(); err == nil {
		t.Fatalf("expected error without api key")
	}

	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	var gotKey string
	prev := newAnthropicClient
	newAnthropicClient = func(apiKey string) AnthropicMessager {
		gotKey = apiKey
		return &fakeMessager{}
	}
	defer func() { newAnthropicClient = prev }()

	caller, err := NewAnthropicCallerFromEnv()
	if err != nil {
		t.Fatalf("new caller: %v", err)
	}
	if caller == nil || gotKey != "test-key" {
		t.Fatalf("creator not wired with env key")
	}
}
