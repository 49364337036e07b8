package responder

import (
	"context"
	"errors"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const systemPrompt = "You are a concise, friendly assistant replying on behalf of the account owner in a WhatsApp conversation. Answer in the language of the last inbound message and keep replies short."

// LLMCaller produces a reply given the prior conversation turns.
type LLMCaller interface {
	GenerateReply(ctx context.Context, turns []Turn) (string, error)
}

// Turn is one prior exchange handed to the model.
type Turn struct {
	FromContact bool
	Content     string
}

type AnthropicCaller struct {
	messages AnthropicMessager
}

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicClientCreator func(apiKey string) AnthropicMessager

func defaultAnthropicCreator(apiKey string) AnthropicMessager {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &c.Messages
}

var newAnthropicClient AnthropicClientCreator = defaultAnthropicCreator

func NewAnthropicCallerFromEnv() (*AnthropicCaller, error) {
	apiKey := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY not configured")
	}
	return &AnthropicCaller{messages: newAnthropicClient(apiKey)}, nil
}

func coalesceTurns(turns []Turn) []Turn {
	out := []Turn{}
	for _, t := range turns {
		if len(out) > 0 && out[len(out)-1].FromContact == t.FromContact {
			out[len(out)-1].Content += "\n" + t.Content
			continue
		}
		out = append(out, t)
	}
	// The first entry must come from the contact.
	for len(out) > 0 && !out[0].FromContact {
		out = out[1:]
	}
	return out
}

func (a *AnthropicCaller) GenerateReply(ctx context.Context, turns []Turn) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.ModelClaudeSonnet4_20250514,
		MaxTokens: 1024,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
	}
	// Coalesce consecutive same-role turns; the messages API wants
	// alternating user/assistant entries.
	for _, t := range coalesceTurns(turns) {
		block := anthropic.NewTextBlock(t.Content)
		if t.FromContact {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		}
	}

	resp, err := a.messages.New(ctx, params)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
