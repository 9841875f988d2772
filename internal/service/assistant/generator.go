package assistant

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"modalhub/internal/models"
)

// Request is what a generator receives for one user message.
type Request struct {
	Prompt  string
	History []models.Message
}

// Result is a generator's answer. Content is nil for plain replies.
type Result struct {
	Reply     string
	Content   map[string]any
	Generator string
}

// Generator produces the reply and payload for one intent.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (*Result, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}

const (
	codeReply         = "I've generated the code you requested!"
	imageReply        = "Here’s the image I created for you!"
	audioReply        = "Your audio has been generated!"
	conversationReply = "I understand! How else can I assist you today?"

	placeholderImageURL = "https://example.com/generated_image.png"
	placeholderAudioURL = "https://example.com/generated_audio.mp3"
)

// CodeGenerator returns a templated python snippet.
type CodeGenerator struct{}

func (CodeGenerator) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	code := fmt.Sprintf("# Generated Python code based on: '%s'\n\ndef example_function():\n    return 'Hello from AI!'", req.Prompt)
	return &Result{
		Reply:     codeReply,
		Content:   map[string]any{"code": code, "language": "python"},
		Generator: string(IntentCode),
	}, nil
}

// ImageGenerator returns a placeholder image url.
type ImageGenerator struct{}

func (ImageGenerator) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Result{
		Reply:     imageReply,
		Content:   map[string]any{"image_url": placeholderImageURL},
		Generator: string(IntentImage),
	}, nil
}

// AudioGenerator returns a placeholder audio url.
type AudioGenerator struct{}

func (AudioGenerator) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Result{
		Reply:     audioReply,
		Content:   map[string]any{"audio_url": placeholderAudioURL},
		Generator: string(IntentAudio),
	}, nil
}

// ConversationGenerator returns the canned conversational reply.
type ConversationGenerator struct{}

func (ConversationGenerator) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Result{
		Reply:     conversationReply,
		Generator: string(IntentConversation),
	}, nil
}

// DefaultGenerators wires every intent to its placeholder generator.
func DefaultGenerators() map[Intent]Generator {
	return map[Intent]Generator{
		IntentCode:         CodeGenerator{},
		IntentImage:        ImageGenerator{},
		IntentAudio:        AudioGenerator{},
		IntentConversation: ConversationGenerator{},
	}
}

// Policy bounds a generator call. Zero values mean no timeout and no retry.
// Backoff is the first retry delay; later delays grow exponentially.
type Policy struct {
	Timeout time.Duration
	Retries int
	Backoff time.Duration
}

// WithPolicy wraps g with a per-attempt timeout and bounded retries. Every
// failure is retried until the caller's context ends.
func WithPolicy(g Generator, p Policy) Generator {
	if p.Timeout <= 0 && p.Retries <= 0 {
		return g
	}
	return &policyGenerator{next: g, policy: p}
}

type policyGenerator struct {
	next   Generator
	policy Policy
}

func (g *policyGenerator) Generate(ctx context.Context, req Request) (*Result, error) {
	if g.policy.Retries <= 0 {
		return g.attempt(ctx, req)
	}
	return backoff.Retry(ctx, func() (*Result, error) {
		return g.attempt(ctx, req)
	},
		backoff.WithBackOff(g.newBackOff()),
		backoff.WithMaxTries(uint(g.policy.Retries)+1),
		backoff.WithMaxElapsedTime(0),
	)
}

func (g *policyGenerator) newBackOff() backoff.BackOff {
	if g.policy.Backoff <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.policy.Backoff
	b.RandomizationFactor = 0
	b.Multiplier = 2
	return b
}

func (g *policyGenerator) attempt(ctx context.Context, req Request) (*Result, error) {
	if g.policy.Timeout <= 0 {
		return g.next.Generate(ctx, req)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, g.policy.Timeout)
	defer cancel()
	return g.next.Generate(attemptCtx, req)
}
