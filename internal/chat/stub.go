// Package chat produces the assistant side of the dashboard chat. The only
// responder shipped is Stub, a placeholder that streams a fixed paragraph
// regardless of what the user typed. It satisfies eino's BaseChatModel so a
// real model can be plugged into the same seat.
package chat

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Placeholder is the paragraph the stub streams back.
const Placeholder = `Lorem ipsum dolor sit amet, **consectetur adipiscing** elit, sed do eiusmod tempor
incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis
nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat.`

const DefaultDelay = 20 * time.Millisecond

var _ model.BaseChatModel = (*Stub)(nil)

type Option func(*Stub)

// WithDelay sets the pause before every token. Zero disables it.
func WithDelay(d time.Duration) Option {
	return func(s *Stub) {
		if d >= 0 {
			s.delay = d
		}
	}
}

// WithText replaces the placeholder paragraph.
func WithText(text string) Option {
	return func(s *Stub) {
		s.text = text
	}
}

type Stub struct {
	text   string
	delay  time.Duration
	tokens []string
}

func NewStub(opts ...Option) *Stub {
	s := &Stub{text: Placeholder, delay: DefaultDelay}
	for _, opt := range opts {
		opt(s)
	}
	words := strings.Fields(s.text)
	s.tokens = make([]string, 0, len(words)+1)
	for _, w := range words {
		s.tokens = append(s.tokens, w+" ")
	}
	s.tokens = append(s.tokens, "\n")
	return s
}

// Tokens returns the full token sequence every response consists of.
func (s *Stub) Tokens() []string {
	out := make([]string, len(s.tokens))
	copy(out, s.tokens)
	return out
}

// GenerateResponse streams the placeholder tokens, each after the configured
// delay. userMessage is ignored. Cancelling ctx ends the stream with
// ctx.Err(); closing the reader stops the producer.
func (s *Stub) GenerateResponse(ctx context.Context, userMessage string) *schema.StreamReader[string] {
	sr, sw := schema.Pipe[string](0)
	go func() {
		defer sw.Close()
		for _, tok := range s.tokens {
			if err := sleep(ctx, s.delay); err != nil {
				sw.Send("", err)
				return
			}
			if closed := sw.Send(tok, nil); closed {
				return
			}
		}
	}()
	return sr
}

// Stream implements model.BaseChatModel; every chunk carries one token.
func (s *Stub) Stream(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	tokens := s.GenerateResponse(ctx, lastUserContent(input))
	return schema.StreamReaderWithConvert(tokens, func(tok string) (*schema.Message, error) {
		return schema.AssistantMessage(tok, nil), nil
	}), nil
}

// Generate implements model.BaseChatModel by draining the token stream.
func (s *Stub) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	content, err := Collect(ctx, s, lastUserContent(input), nil)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(content, nil), nil
}

func lastUserContent(input []*schema.Message) string {
	for i := len(input) - 1; i >= 0; i-- {
		if input[i] != nil && input[i].Role == schema.User {
			return input[i].Content
		}
	}
	return ""
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
